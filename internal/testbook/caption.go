package testbook

import (
	"fmt"
	"html"
	"strings"
)

// Details is the display context for one delivered test. It is built once per
// test and handed to both the caption and the renderers.
type Details struct {
	Series     string
	Section    string
	Subsection string
	TestName   string
	Questions  string
	Duration   string
	TotalMarks string
	Correct    string
	Incorrect  string
}

// NewDetails collects display fields from the navigation context and, when
// available, the marking scheme of an extracted question set.
func NewDetails(test TestSummary, series Series, section Section, sub Subsection, set *QuestionSet) Details {
	pos, neg := "N/A", "N/A"
	if set != nil {
		pos, neg = set.PosMarks, set.NegMarks
	}
	return Details{
		Series:     orNA(series.Name),
		Section:    orNA(section.Name),
		Subsection: orNA(sub.Name),
		TestName:   orNA(test.Title),
		Questions:  test.QuestionCount.Or("?"),
		Duration:   test.Duration.Or("N/A") + " min",
		TotalMarks: test.TotalMark.Or("N/A"),
		Correct:    signed(pos),
		Incorrect:  neg,
	}
}

// Caption formats the details for a document caption in Telegram HTML mode.
func (d Details) Caption(extractor string) string {
	e := html.EscapeString
	var b strings.Builder
	fmt.Fprintf(&b, "✨ <b>%s</b> ✨\n\n", e(d.TestName))
	fmt.Fprintf(&b, "📚 <b>Test Series:</b> %s\n", e(d.Series))
	fmt.Fprintf(&b, "🗂️ <b>Section:</b> %s\n", e(d.Section))
	fmt.Fprintf(&b, "📂 <b>Subsection:</b> %s\n\n", e(d.Subsection))
	fmt.Fprintf(&b, "⏱️ <b>Duration:</b> %s\n", e(d.Duration))
	fmt.Fprintf(&b, "❓ <b>Questions:</b> %s\n", e(d.Questions))
	fmt.Fprintf(&b, "🎯 <b>Total Marks:</b> %s\n", e(d.TotalMarks))
	fmt.Fprintf(&b, "✅ <b>Correct:</b> %s\n", e(d.Correct))
	fmt.Fprintf(&b, "❌ <b>Incorrect:</b> %s\n", e(d.Incorrect))
	if extractor = strings.TrimSpace(extractor); extractor != "" {
		fmt.Fprintf(&b, "\n---\n<i>Extracted By: %s</i>", e(extractor))
	}
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// signed prefixes a plus sign unless the marks already carry one.
func signed(s string) string {
	if s == "" {
		s = "N/A"
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return s
	}
	return "+" + s
}
