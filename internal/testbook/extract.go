package testbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ErrNotCompleted marks an answer fetch refused because the test was never attempted.
var ErrNotCompleted = errors.New("testbook: test not completed")

type rawTest struct {
	Title    string `json:"title"`
	Sections []struct {
		Questions []map[string]json.RawMessage `json:"questions"`
	} `json:"sections"`
}

type rawLang struct {
	Value   *string `json:"value"`
	Options *[]struct {
		Value string `json:"value"`
	} `json:"options"`
}

type rawSolution struct {
	Value *string `json:"value"`
}

type rawAnswer struct {
	CorrectOption Scalar                     `json:"correctOption"`
	PosMarks      Scalar                     `json:"posMarks"`
	NegMarks      Scalar                     `json:"negMarks"`
	Sol           map[string]json.RawMessage `json:"sol"`
}

// ExtractQuestions fetches a test's questions and answer key and merges them.
// An unattempted test is submitted once so that its answer key becomes
// available; the answer fetch is retried exactly once after that.
func (c *Client) ExtractQuestions(ctx context.Context, testID string) (*QuestionSet, error) {
	base := c.newBase + "/api/v2/tests/" + url.PathEscape(testID)

	test, err := call[rawTest](ctx, c, request{endpoint: "questions", method: http.MethodGet, url: base})
	if err != nil {
		return nil, fmt.Errorf("testbook: fetch test data: %w", err)
	}

	answers, err := c.answers(ctx, base)
	if errors.Is(err, ErrNotCompleted) {
		c.logger.Info("test not attempted, submitting", "test_id", testID)
		if err := c.submit(ctx, base); err != nil {
			return nil, fmt.Errorf("testbook: auto-submit: %w", err)
		}
		answers, err = c.answers(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("testbook: fetch answers after submit: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("testbook: fetch answers: %w", err)
	}

	return merge(test, *answers, c.logger)
}

func (c *Client) answers(ctx context.Context, base string) (*map[string]rawAnswer, error) {
	data, err := call[map[string]rawAnswer](ctx, c, request{
		endpoint: "answers",
		method:   http.MethodGet,
		url:      base + "/answers",
		params:   url.Values{"attemptNo": {"1"}},
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Body), "not completed") {
			return nil, fmt.Errorf("%w: %w", ErrNotCompleted, err)
		}
		return nil, err
	}
	return data, nil
}

func (c *Client) submit(ctx context.Context, base string) error {
	type instructions struct {
		AttemptNo Scalar `json:"attemptNo"`
	}
	info, err := call[instructions](ctx, c, request{
		endpoint: "instructions",
		method:   http.MethodGet,
		url:      base + "/instructions",
		lenient:  true,
	})
	if err != nil {
		return fmt.Errorf("start test: %w", err)
	}
	attempt := 1
	if n, err := info.AttemptNo.Int(); err == nil && n > 0 {
		attempt = n
	}

	_, err = call[json.RawMessage](ctx, c, request{
		endpoint: "submit",
		method:   http.MethodPost,
		url:      base,
		params:   url.Values{"attemptNo": {strconv.Itoa(attempt)}},
		body:     map[string]string{"task": "submit"},
		lenient:  true,
	})
	if err != nil {
		return fmt.Errorf("submit test: %w", err)
	}

	c.logger.Info("test submitted, waiting for grading", "delay", c.submitDelay)
	return c.sleep(ctx, c.submitDelay)
}

// merge joins per-language content from the test payload with correctness and
// solutions from the answer key, matched by question id.
func merge(test *rawTest, answers map[string]rawAnswer, logger *slog.Logger) (*QuestionSet, error) {
	if len(answers) == 0 {
		return nil, errors.New("testbook: answer key is empty")
	}

	title := test.Title
	if title == "" {
		title = "Unknown Test"
	}
	set := &QuestionSet{Title: title}
	langs := map[string]bool{}
	marksSeen := false

	for _, section := range test.Sections {
		for _, raw := range section.Questions {
			var id string
			if err := json.Unmarshal(raw["_id"], &id); err != nil || id == "" {
				return nil, errors.New("testbook: question without id")
			}
			ans, ok := answers[id]
			if !ok {
				return nil, fmt.Errorf("testbook: answer key missing question %s", id)
			}
			if !marksSeen {
				set.PosMarks = ans.PosMarks.Or("N/A")
				set.NegMarks = ans.NegMarks.Or("N/A")
				marksSeen = true
			}

			q := Question{
				ID:       id,
				Content:  map[string]string{},
				Options:  map[string][]Option{},
				Solution: map[string]string{},
			}
			for lang, payload := range raw {
				if lang == "_id" {
					continue
				}
				var rl rawLang
				if err := json.Unmarshal(payload, &rl); err != nil || rl.Value == nil || rl.Options == nil {
					continue
				}
				opts := make([]Option, 0, len(*rl.Options))
				for _, o := range *rl.Options {
					opts = append(opts, Option{Text: o.Value})
				}
				q.Content[lang] = *rl.Value
				q.Options[lang] = opts
			}
			dropMisaligned(&q, logger)

			for lang, payload := range ans.Sol {
				var sol rawSolution
				if err := json.Unmarshal(payload, &sol); err != nil || sol.Value == nil {
					continue
				}
				q.Solution[lang] = *sol.Value
				langs[lang] = true
			}

			idx := -1
			if n, err := ans.CorrectOption.Int(); err == nil {
				idx = n - 1
			}
			for _, opts := range q.Options {
				if idx >= 0 && idx < len(opts) {
					opts[idx].IsCorrect = true
				}
			}

			// Separator entries carry no language content.
			if len(q.Content) == 0 {
				continue
			}
			for lang := range q.Content {
				langs[lang] = true
			}
			set.Questions = append(set.Questions, q)
		}
	}

	if len(set.Questions) == 0 {
		return nil, errors.New("testbook: test has no questions")
	}
	for lang := range langs {
		set.AvailableLanguages = append(set.AvailableLanguages, lang)
	}
	sort.Strings(set.AvailableLanguages)
	return set, nil
}

// dropMisaligned removes language variants whose option count differs from
// the reference language, since correctness is applied by raw index.
func dropMisaligned(q *Question, logger *slog.Logger) {
	ref := "en"
	if _, ok := q.Options[ref]; !ok {
		ref = ""
		for lang := range q.Options {
			if ref == "" || lang < ref {
				ref = lang
			}
		}
	}
	want := len(q.Options[ref])
	for lang, opts := range q.Options {
		if len(opts) != want {
			logger.Warn("dropping misaligned language variant",
				"question_id", q.ID, "lang", lang, "options", len(opts), "want", want)
			delete(q.Options, lang)
			delete(q.Content, lang)
		}
	}
}
