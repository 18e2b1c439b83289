package render

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/eliseohh/testbookbot/internal/testbook"
)

func TestText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"double encoded entity", "5 &amp;gt; 3", "5 > 3"},
		{"tags become spaces", "<p>Hello</p><p>World</p>", "Hello World"},
		{"superscript and subscript", "x<sup>2</sup> + H<sub>2</sub>O", "x² + H₂O"},
		{"negative exponent", "10<sup>-3</sup>", "10⁻³"},
		{"fraction", `<span class="math-tex">\(\frac{1}{2} \times 3\)</span>`, "(1 / 2) x 3"},
		{"nested fraction", `<span class="math-tex">\(\frac{\frac{1}{2}}{4}\)</span>`, "((1 / 2) / 4)"},
		{"root and degree", `<span class="math-tex">\(\sqrt{16} + 90^{\circ}\)</span>`, "√(16) + 90°"},
		{"comparison", `<span class="math-tex">\(a \geq b \neq c\)</span>`, "a >= b != c"},
		{"greek", `<span class="math-tex">\(2\pi r\)</span>`, "2π r"},
		{"subscript group", `<span class="math-tex">\(x_{12}\)</span>`, "x_12"},
		{"nbsp entity", "a&nbsp;b", "a b"},
		{"literal nbsp escape", `a\u00a0b`, "a b"},
		{"whitespace collapse", "  a \n\t b  ", "a b"},
		{"escaped comparisons", "If x &lt; 5 and y &gt; 3, find x + y", "If x < 5 and y > 3, find x + y"},
		{"escaped comparison inside tags", "<p>a &lt; b</p>", "a < b"},
		{"self-closing tag", "a<br/>b<img src=\"x.png\" />c", "a b c"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Text(tc.in); got != tc.want {
				t.Errorf("Text(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestTextIdempotentOnPlainText(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"plain text", "plain   text  here", "Which of the following is correct?"} {
		once := Text(in)
		if want := strings.Join(strings.Fields(in), " "); once != want {
			t.Errorf("Text(%q) = %q, want %q", in, once, want)
		}
		if twice := Text(once); twice != once {
			t.Errorf("Text(Text(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestPick(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		m        map[string]string
		lang     string
		wantLang string
		wantOK   bool
	}{
		{"requested", map[string]string{"en": "e", "hi": "h"}, "hi", "hi", true},
		{"english fallback", map[string]string{"en": "e", "hi": "h"}, "fr", "en", true},
		{"hindi alias", map[string]string{"hn": "h", "fr": "f"}, "", "hn", true},
		{"first sorted key", map[string]string{"fr": "f", "de": "d"}, "en", "de", true},
		{"empty", map[string]string{}, "en", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, got, ok := Pick(tc.m, tc.lang)
			if got != tc.wantLang || ok != tc.wantOK {
				t.Errorf("Pick() = %q, %v; want %q, %v", got, ok, tc.wantLang, tc.wantOK)
			}
		})
	}
}

func sampleSet() *testbook.QuestionSet {
	return &testbook.QuestionSet{
		Title:              "Mock Test 1",
		AvailableLanguages: []string{"en", "hi"},
		Questions: []testbook.Question{
			{
				ID:      "q1",
				Content: map[string]string{"en": "<p>What is 2+2?</p>", "hi": "<p>2+2 कितना है?</p>"},
				Options: map[string][]testbook.Option{
					"en": {{Text: "3"}, {Text: "4", IsCorrect: true}},
					"hi": {{Text: "तीन"}, {Text: "चार", IsCorrect: true}},
				},
				Solution: map[string]string{"en": "<p>Add them.</p>"},
			},
			{
				ID:      "q2",
				Content: map[string]string{"en": "Pick the tag </script><script>alert(1)</script>", "hi": "Pick the tag </script><script>alert(1)</script>"},
				Options: map[string][]testbook.Option{
					"en": {{Text: "a", IsCorrect: true}, {Text: "b"}},
					"hi": {{Text: "a", IsCorrect: true}, {Text: "b"}},
				},
				Solution: map[string]string{"en": "</SCRIPT> too"},
			},
			{
				ID:      "q3",
				Content: map[string]string{"en": "Unanswerable"},
				Options: map[string][]testbook.Option{"en": {{Text: "x"}, {Text: "y"}}},
			},
		},
	}
}

func sampleDetails() testbook.Details {
	return testbook.Details{
		Series:     "SSC CGL",
		Section:    "Full Tests",
		Subsection: "",
		TestName:   "Mock Test 1 & Friends",
		Questions:  "3",
		Duration:   "45 min",
		TotalMarks: "6",
		Correct:    "+2",
		Incorrect:  "-0.5",
	}
}

func TestTXT(t *testing.T) {
	t.Parallel()

	out := TXT(sampleSet(), sampleDetails())

	for _, want := range []string{
		"Test Series: SSC CGL\n",
		"Test Name: Mock Test 1 & Friends\n",
		"Questions: 3 | Duration: 45 min | Total Marks: 6\n",
		"Marking: [Correct: +2] [Incorrect: -0.5]\n",
		"Q.1: What is 2+2?\n",
		"2+2 कितना है?\n",
		"  (a) 3 | तीन\n",
		"  (b) 4 | चार\n",
		"  Answer: (b) 4 | चार\n",
		"  (a) a\n",
		"  Answer: (a) a\n",
		"  Answer: N/A\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("TXT output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "Solution") {
		t.Errorf("TXT output contains a solution line:\n%s", out)
	}
	if n := strings.Count(out, "Pick the tag"); n != 1 {
		t.Errorf("identical translation printed %d times, want 1", n)
	}
}

func TestTXTEmpty(t *testing.T) {
	t.Parallel()

	if got := TXT(nil, testbook.Details{}); got != "Error: Invalid Quiz Data." {
		t.Errorf("TXT(nil) = %q", got)
	}
	if got := TXT(&testbook.QuestionSet{}, testbook.Details{}); got != "Error: Invalid Quiz Data." {
		t.Errorf("TXT(empty) = %q", got)
	}
}

func TestTimerSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"45 minutes", 2700},
		{"60 min", 3600},
		{"  90", 5400},
		{"0 min", 0},
		{"N/A min", 1800},
		{"", 1800},
		{"about 20", 1800},
	}
	for _, tc := range tests {
		if got := TimerSeconds(tc.in); got != tc.want {
			t.Errorf("TimerSeconds(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseMarks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		fallback float64
		want     float64
	}{
		{"+1.0", 3, 1},
		{"-0.25", -1, -0.25},
		{"+3", 0, 3},
		{"2 marks", 0, 2},
		{"N/A", 3, 3},
		{"", -1, -1},
		{"-.25", -1, -0.25},
		{".5", 0, 0.5},
		{"−1", 0, -1},
		{"+2.", 0, 2},
	}
	for _, tc := range tests {
		if got := ParseMarks(tc.in, tc.fallback); got != tc.want {
			t.Errorf("ParseMarks(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

const payloadOpen = `<script id="quiz-data" type="application/json">`

func embeddedPayload(t *testing.T, page string) string {
	t.Helper()
	start := strings.Index(page, payloadOpen)
	if start < 0 {
		t.Fatal("payload script element not found")
	}
	rest := page[start+len(payloadOpen):]
	end := strings.Index(rest, "</script>")
	if end < 0 {
		t.Fatal("payload script element not closed")
	}
	return rest[:end]
}

func TestHTMLRoundTrip(t *testing.T) {
	t.Parallel()

	set := sampleSet()
	page := HTML(set, sampleDetails())

	raw := embeddedPayload(t, page)
	if !strings.Contains(raw, `<\/script>`) || !strings.Contains(raw, `<\/SCRIPT>`) {
		t.Errorf("closing script tags not escaped in payload: %s", raw)
	}

	var got testbook.QuestionSet
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("payload is not valid JSON: %v\n%s", err, raw)
	}
	if len(got.Questions) != len(set.Questions) {
		t.Fatalf("payload has %d questions, want %d", len(got.Questions), len(set.Questions))
	}
	for i, q := range set.Questions {
		if got.Questions[i].Content["en"] != q.Content["en"] {
			t.Errorf("question %d content = %q, want %q", i, got.Questions[i].Content["en"], q.Content["en"])
		}
		for lang, opts := range q.Options {
			gotOpts := got.Questions[i].Options[lang]
			if len(gotOpts) != len(opts) {
				t.Fatalf("question %d %s: %d options, want %d", i, lang, len(gotOpts), len(opts))
			}
			for j := range opts {
				if gotOpts[j].IsCorrect != opts[j].IsCorrect {
					t.Errorf("question %d %s option %d: is_correct = %v", i, lang, j, gotOpts[j].IsCorrect)
				}
			}
		}
	}
}

func TestHTMLFields(t *testing.T) {
	t.Parallel()

	page := HTML(sampleSet(), sampleDetails())

	for _, want := range []string{
		"<title>Mock Test 1 &amp; Friends</title>",
		"const TIMER_SECONDS = 2700;",
		"const CORRECT_MARKS = 2;",
		"const INCORRECT_MARKS = -0.5;",
		"<span>+2</span>",
		"<span>-0.5</span>",
		"<b>Subsection</b><span>N/A</span>",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(page, "{{") {
		t.Error("page still contains an unresolved placeholder")
	}
	if strings.Contains(page, payloadMarker) {
		t.Error("payload marker was not replaced")
	}
}

func TestHTMLDefaults(t *testing.T) {
	t.Parallel()

	page := HTML(sampleSet(), testbook.Details{Duration: "N/A min", Correct: "N/A", Incorrect: "N/A"})
	for _, want := range []string{
		"const TIMER_SECONDS = 1800;",
		"const CORRECT_MARKS = 3;",
		"const INCORRECT_MARKS = -1;",
		"<title>Mock Test 1</title>",
		"<b>Questions</b><span>3</span>",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLErrorPage(t *testing.T) {
	t.Parallel()

	for _, set := range []*testbook.QuestionSet{nil, {Title: "empty"}} {
		page := HTML(set, sampleDetails())
		if page != errorPage {
			t.Errorf("HTML(%v) did not return the error page", set)
		}
		if strings.Contains(page, payloadOpen) {
			t.Error("error page embeds a payload")
		}
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()

	if got := FileName("Mock 1/2 \\ Final", "html"); got != "Mock 1_2 _ Final.html" {
		t.Errorf("FileName() = %q", got)
	}
	if got := FileName("   ", "txt"); got != "test.txt" {
		t.Errorf("FileName(blank) = %q", got)
	}
	long := FileName(strings.Repeat("परीक्षा", 40), "txt")
	if n := utf8.RuneCountInString(strings.TrimSuffix(long, ".txt")); n != maxFileNameRunes {
		t.Errorf("long name has %d runes, want %d", n, maxFileNameRunes)
	}
}
