package testbook

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Scalar holds a JSON value the API sends either as a string or a number.
type Scalar string

func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Scalar(v)
		return nil
	}
	*s = Scalar(b)
	return nil
}

func (s Scalar) String() string { return string(s) }

// Int parses the scalar as an integer.
func (s Scalar) Int() (int, error) {
	if f, err := strconv.ParseFloat(string(s), 64); err == nil && f == float64(int(f)) {
		return int(f), nil
	}
	return strconv.Atoi(string(s))
}

// Or returns fallback when the scalar is empty.
func (s Scalar) Or(fallback string) string {
	if s == "" {
		return fallback
	}
	return string(s)
}

type Series struct {
	ID         string    `json:"id"`
	Slug       string    `json:"slug"`
	Name       string    `json:"name"`
	TestsCount Scalar    `json:"testsCount"`
	Sections   []Section `json:"sections"`
}

type Section struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Subsections []Subsection `json:"subsections"`
}

type Subsection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TestSummary is a listing record; it carries no question content.
type TestSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	QuestionCount Scalar `json:"questionCount"`
	Duration      Scalar `json:"duration"`
	TotalMark     Scalar `json:"totalMark"`
}

type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question keys every map by language code.
type Question struct {
	ID       string              `json:"id"`
	Content  map[string]string   `json:"content"`
	Options  map[string][]Option `json:"options"`
	Solution map[string]string   `json:"solution"`
}

// QuestionSet is the merged question and answer payload for one test.
// PosMarks and NegMarks come from the answer key and are not embedded in
// rendered pages.
type QuestionSet struct {
	Title              string     `json:"title"`
	Questions          []Question `json:"questions"`
	AvailableLanguages []string   `json:"available_languages"`

	PosMarks string `json:"-"`
	NegMarks string `json:"-"`
}
