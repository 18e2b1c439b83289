package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/eliseohh/testbookbot/internal/ledger"
	"github.com/eliseohh/testbookbot/internal/render"
	"github.com/eliseohh/testbookbot/internal/session"
	"github.com/eliseohh/testbookbot/internal/testbook"
	tele "gopkg.in/telebot.v3"
)

type Format int

const (
	FormatHTML Format = iota + 1
	FormatTXT
	FormatBoth
)

func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "html":
		return FormatHTML, true
	case "txt", "text":
		return FormatTXT, true
	case "both", "all":
		return FormatBoth, true
	}
	return 0, false
}

func (f Format) String() string {
	switch f {
	case FormatHTML:
		return "HTML"
	case FormatTXT:
		return "TXT"
	case FormatBoth:
		return "HTML + TXT"
	}
	return "unknown"
}

func (f Format) exts() []string {
	switch f {
	case FormatHTML:
		return []string{"html"}
	case FormatTXT:
		return []string{"txt"}
	case FormatBoth:
		return []string{"html", "txt"}
	}
	return nil
}

const formatPrompt = "❌ Unknown format. Reply with html, txt or both."

// file is one rendered document. It can be sent any number of times.
type file struct {
	ext  string
	name string
	body string
}

func (f file) document(caption string) *tele.Document {
	return &tele.Document{
		File:     tele.FromReader(strings.NewReader(f.body)),
		FileName: f.name,
		Caption:  caption,
	}
}

func renderFiles(set *testbook.QuestionSet, d testbook.Details, f Format, title string) []file {
	var out []file
	for _, ext := range f.exts() {
		var body string
		switch ext {
		case "html":
			body = render.HTML(set, d)
		case "txt":
			body = render.TXT(set, d)
		}
		out = append(out, file{ext: ext, name: render.FileName(title, ext), body: body})
	}
	return out
}

func (b *Bot) record(ctx context.Context, d ledger.Delivery) {
	if b.ledger == nil {
		return
	}
	if err := b.ledger.Record(ctx, d); err != nil {
		b.logger.Warn("ledger write failed", "chat_id", d.ChatID, "test_id", d.TestID, "error", err)
	}
}

func (b *Bot) onFormatButton(c tele.Context) error {
	_ = c.Respond()
	st, ok := b.sessions.Get(c.Chat().ID).(session.AwaitFormat)
	if !ok {
		if setup, ok := b.sessions.Get(c.Chat().ID).(session.BulkSetup); ok && setup.Step == session.StepFormat {
			return b.bulkStep(c, setup, c.Data())
		}
		return c.Send(expiredMsg)
	}
	return b.pickFormat(c, st, c.Data())
}

func (b *Bot) pickFormat(c tele.Context, st session.AwaitFormat, text string) error {
	f, ok := ParseFormat(text)
	if !ok {
		return c.Send(formatPrompt)
	}
	// The list stays selectable whatever the outcome of the delivery.
	b.sessions.Put(c.Chat().ID, st.List)
	delivered, err := b.deliverSingle(c, st.List, st.Choice, f)
	if err != nil || !delivered {
		return err
	}
	return c.Send("✅ Done. Reply with another test number, or /menu for a new search.")
}

// deliverSingle sends one test to the operator and, when configured, to the
// forward channel. It reports false when the operator did not receive the
// files; the failure has already been described in chat by then.
func (b *Bot) deliverSingle(c tele.Context, list session.AwaitTest, e session.TestEntry, f Format) (bool, error) {
	chatID := c.Chat().ID
	if err := c.Send(fmt.Sprintf("⏳ Extracting '%s'...", e.Test.Title)); err != nil {
		return false, err
	}

	ctx, cancel := b.requestContext()
	defer cancel()

	set, err := b.catalog.ExtractQuestions(ctx, e.Test.ID)
	b.metrics.Extraction(err)
	if err != nil {
		return false, b.reportError(c, "extract the test", err)
	}

	details := testbook.NewDetails(e.Test, list.Series, list.Section, e.Subsection, set)
	caption := details.Caption("")
	files := renderFiles(set, details, f, e.Test.Title)

	for _, fl := range files {
		err := c.Send(fl.document(caption), tele.ModeHTML)
		b.metrics.Delivery(fl.ext, err)
		if err != nil {
			return false, b.reportError(c, "send "+fl.name, err)
		}
		b.record(ctx, ledger.Delivery{
			ChatID:      chatID,
			Destination: strconv.FormatInt(chatID, 10),
			TestID:      e.Test.ID,
			Title:       e.Test.Title,
			Format:      fl.ext,
		})
	}

	channel := b.settings.Channel()
	if channel == "" || channel == strconv.FormatInt(chatID, 10) {
		return true, nil
	}
	dest := recipientFor(channel)
	for _, fl := range files {
		_, err := b.msgr.Send(dest, fl.document(caption), tele.ModeHTML)
		b.metrics.Delivery(fl.ext, err)
		if err != nil {
			b.logger.Warn("forward failed", "chat_id", chatID, "channel", channel, "error", err)
			return true, c.Send(fmt.Sprintf("⚠️ Could not forward to channel %s: %v", channel, err))
		}
		b.record(ctx, ledger.Delivery{
			ChatID:      chatID,
			Destination: channel,
			TestID:      e.Test.ID,
			Title:       e.Test.Title,
			Format:      fl.ext,
		})
	}
	return true, nil
}
