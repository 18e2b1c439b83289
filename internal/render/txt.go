package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/eliseohh/testbookbot/internal/testbook"
)

const rule = "------------------------------"

// Pick selects a language variant: the requested language, then English,
// then Hindi under either of its codes, then the first key in sorted order.
func Pick[V any](m map[string]V, lang string) (V, string, bool) {
	for _, l := range []string{lang, "en", "hi", "hn"} {
		if l == "" {
			continue
		}
		if v, ok := m[l]; ok {
			return v, l, true
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		return m[keys[0]], keys[0], true
	}
	var zero V
	return zero, "", false
}

func hindi[V any](m map[string]V) (V, bool) {
	if v, ok := m["hi"]; ok {
		return v, true
	}
	v, ok := m["hn"]
	return v, ok
}

// bilingual returns the Hindi text only when it adds something to the English.
func bilingual(en, hi string) string {
	if hi == "" || hi == en {
		return ""
	}
	return hi
}

// TXT renders a plain-text export. Solutions are not included.
func TXT(set *testbook.QuestionSet, d testbook.Details) string {
	if set == nil || len(set.Questions) == 0 {
		return "Error: Invalid Quiz Data."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Test Series: %s\n", d.Series)
	fmt.Fprintf(&b, "Section: %s\n", d.Section)
	fmt.Fprintf(&b, "Subsection: %s\n", d.Subsection)
	fmt.Fprintf(&b, "Test Name: %s\n", d.TestName)
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Questions: %s | Duration: %s | Total Marks: %s\n", d.Questions, d.Duration, d.TotalMarks)
	fmt.Fprintf(&b, "Marking: [Correct: %s] [Incorrect: %s]\n", d.Correct, d.Incorrect)
	b.WriteString(strings.Repeat("=", len(rule)) + "\n\n")

	for i, q := range set.Questions {
		writeQuestion(&b, i+1, q)
	}
	return b.String()
}

func writeQuestion(b *strings.Builder, n int, q testbook.Question) {
	enHTML, _, _ := Pick(q.Content, "en")
	hiHTML, _ := hindi(q.Content)
	en := Text(enHTML)
	fmt.Fprintf(b, "Q.%d: %s\n", n, en)
	if hi := bilingual(en, Text(hiHTML)); hi != "" {
		fmt.Fprintf(b, "%s%s\n", strings.Repeat(" ", len(fmt.Sprintf("Q.%d: ", n))), hi)
	}

	enOpts, _, _ := Pick(q.Options, "en")
	hiOpts, _ := hindi(q.Options)
	answer := "N/A"
	for j, opt := range enOpts {
		label := fmt.Sprintf("(%c)", 'a'+j)
		text := Text(opt.Text)
		if j < len(hiOpts) {
			if hi := bilingual(text, Text(hiOpts[j].Text)); hi != "" {
				text += " | " + hi
			}
		}
		fmt.Fprintf(b, "  %s %s\n", label, text)
		if opt.IsCorrect {
			answer = label + " " + text
		}
	}

	fmt.Fprintf(b, "\n  Answer: %s\n", answer)
	b.WriteString("\n" + rule + "\n\n")
}
