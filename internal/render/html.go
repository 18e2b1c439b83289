package render

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/eliseohh/testbookbot/internal/testbook"
)

// NotAvailable replaces any placeholder left without a value.
const NotAvailable = "N/A"

const (
	defaultTimerSeconds   = 1800
	defaultCorrectMarks   = 3.0
	defaultIncorrectMarks = -1.0
	payloadMarker         = "/*QUIZ_DATA*/"
	maxFileNameRunes      = 120
)

//go:embed quiz.html
var quizTemplate string

var (
	reLeadingInt  = regexp.MustCompile(`^\s*(\d+)`)
	reSignedFloat = regexp.MustCompile(`([+\-−]?(?:\d+(?:\.\d*)?|\.\d+))`)
	rePlaceholder = regexp.MustCompile(`\{\{[A-Z_]+\}\}`)
	reScriptClose = regexp.MustCompile(`(?i)<(/script)`)
)

const errorPage = `<!DOCTYPE html>
<html lang="en"><head><meta charset="UTF-8"><title>Error</title></head>
<body><h1>Error</h1><p>No quiz data was found for this test.</p></body></html>
`

// TimerSeconds reads the leading integer of a duration as minutes.
func TimerSeconds(duration string) int {
	m := reLeadingInt.FindStringSubmatch(duration)
	if m == nil {
		return defaultTimerSeconds
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return defaultTimerSeconds
	}
	return n * 60
}

// ParseMarks extracts the first signed decimal from a marking string. U+2212
// counts as a minus sign.
func ParseMarks(s string, fallback float64) float64 {
	m := reSignedFloat.FindStringSubmatch(s)
	if m == nil {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], "−", "-", 1), 64)
	if err != nil {
		return fallback
	}
	return v
}

// HTML renders the self-contained quiz page for a question set.
func HTML(set *testbook.QuestionSet, d testbook.Details) string {
	if set == nil || len(set.Questions) == 0 {
		return errorPage
	}
	payload, err := Payload(set)
	if err != nil {
		return errorPage
	}

	name := d.TestName
	if name == "" || name == NotAvailable {
		name = set.Title
	}
	questions := d.Questions
	if questions == "" || questions == "?" {
		questions = strconv.Itoa(len(set.Questions))
	}

	fields := []struct{ key, value string }{
		{"TEST_NAME", name},
		{"TEST_SERIES", d.Series},
		{"SECTION", d.Section},
		{"SUBSECTION", d.Subsection},
		{"QUESTIONS", questions},
		{"DURATION", d.Duration},
		{"TOTAL_MARKS", d.TotalMarks},
		{"CORRECT_MARKS_DISPLAY", d.Correct},
		{"INCORRECT_MARKS_DISPLAY", d.Incorrect},
	}
	var pairs []string
	for _, f := range fields {
		if f.value != "" {
			pairs = append(pairs, "{{"+f.key+"}}", html.EscapeString(f.value))
		}
	}
	pairs = append(pairs,
		"{{TIMER_SECONDS}}", strconv.Itoa(TimerSeconds(d.Duration)),
		"{{JS_CORRECT_MARKS}}", formatFloat(ParseMarks(d.Correct, defaultCorrectMarks)),
		"{{JS_INCORRECT_MARKS}}", formatFloat(ParseMarks(d.Incorrect, defaultIncorrectMarks)),
	)

	page := strings.NewReplacer(pairs...).Replace(quizTemplate)
	page = rePlaceholder.ReplaceAllString(page, NotAvailable)
	// The payload goes in last so its content is never treated as a placeholder.
	return strings.Replace(page, payloadMarker, payload, 1)
}

// Payload serializes the question set for embedding in a script element.
// Closing script tags inside question content are escaped as <\/script>.
func Payload(set *testbook.QuestionSet) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(set); err != nil {
		return "", err
	}
	out := strings.TrimRight(buf.String(), "\n")
	return reScriptClose.ReplaceAllString(out, `<\$1`), nil
}

// FileName derives a document name from a test title.
func FileName(title, ext string) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(strings.TrimSpace(title))
	if name == "" {
		name = "test"
	}
	if utf8.RuneCountInString(name) > maxFileNameRunes {
		name = string([]rune(name)[:maxFileNameRunes])
	}
	return name + "." + ext
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
