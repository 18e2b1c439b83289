package bot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/eliseohh/testbookbot/internal/session"
	"github.com/eliseohh/testbookbot/internal/testbook"
	tele "gopkg.in/telebot.v3"
)

var reNumber = regexp.MustCompile(`^\d+$`)

func isNumber(s string) bool { return reNumber.MatchString(s) }

var errOutOfRange = errors.New("out of range")

// parseIndex converts a 1-based reply into a 0-based index below n.
func parseIndex(text string, n int) (int, error) {
	text = strings.TrimSpace(text)
	if !isNumber(text) {
		return 0, strconv.ErrSyntax
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, err
	}
	if v < 1 || v > n {
		return 0, errOutOfRange
	}
	return v - 1, nil
}

func invalidNumber(c tele.Context, n int, what string) error {
	return c.Send(fmt.Sprintf("❌ Invalid %s number. Send a number between 1 and %d, or /search <name> to start over.", what, n))
}

func (b *Bot) handleStart(c tele.Context) error {
	b.sessions.Clear(c.Chat().ID)
	name := "there"
	if u := c.Sender(); u != nil && u.FirstName != "" {
		name = u.FirstName
	}
	return c.Send(fmt.Sprintf("👋 Welcome, %s!\n\nI can fetch Testbook tests and send them to you as HTML or TXT files.\n\nType /menu or /search <name> to begin.", name))
}

func (b *Bot) handleMenu(c tele.Context) error {
	b.sessions.Clear(c.Chat().ID)
	return c.Send(searchPrompt)
}

const searchPrompt = "🔍 What would you like to search for?\n\nType the name of a test series (for example 'SSC CGL', 'Banking', 'Railways')."

func (b *Bot) handleSearch(c tele.Context) error {
	query := strings.TrimSpace(c.Message().Payload)
	if query == "" {
		b.sessions.Clear(c.Chat().ID)
		return c.Send("Usage: /search <name>")
	}
	return b.search(c, query)
}

func (b *Bot) search(c tele.Context, query string) error {
	ctx, cancel := b.requestContext()
	defer cancel()

	results, err := b.catalog.Search(ctx, query)
	if err != nil {
		return b.reportError(c, "search", err)
	}
	if len(results) == 0 {
		b.sessions.Clear(c.Chat().ID)
		return c.Send(fmt.Sprintf("❌ No results for '%s'. Try another name.", query))
	}
	b.sessions.Put(c.Chat().ID, session.AwaitSeries{Query: query, Results: results})

	var sb strings.Builder
	fmt.Fprintf(&sb, "📚 Results for '%s':\n\n", query)
	menu := &tele.ReplyMarkup{}
	var rows []tele.Row
	for i, s := range results {
		fmt.Fprintf(&sb, "%d. %s", i+1, s.Name)
		if s.TestsCount != "" {
			fmt.Fprintf(&sb, " (%s tests)", s.TestsCount)
		}
		sb.WriteString("\n")
		rows = append(rows, menu.Row(menu.Data(buttonLabel(i+1, s.Name), btnSeries.Unique, strconv.Itoa(i))))
	}
	sb.WriteString("\nReply with a series number or tap a button.")
	rows = append(rows, menu.Row(menu.Data("🔍 New Search", btnNewSearch.Unique)))
	menu.Inline(rows...)
	return sendLong(c, sb.String(), menu)
}

func buttonLabel(n int, name string) string {
	label := fmt.Sprintf("%d. %s", n, name)
	if r := []rune(label); len(r) > 60 {
		label = string(r[:59]) + "…"
	}
	return label
}

func (b *Bot) pickSeries(c tele.Context, st session.AwaitSeries, text string) error {
	i, err := parseIndex(text, len(st.Results))
	if err != nil {
		return invalidNumber(c, len(st.Results), "series")
	}
	return b.openSeries(c, st.Results[i])
}

func (b *Bot) openSeries(c tele.Context, s testbook.Series) error {
	ctx, cancel := b.requestContext()
	defer cancel()

	details, err := b.catalog.SeriesDetails(ctx, s.Slug)
	if err != nil {
		return b.reportError(c, "load the series", err)
	}
	if details.ID == "" {
		details.ID = s.ID
	}
	if details.Name == "" {
		details.Name = s.Name
	}
	if details.Slug == "" {
		details.Slug = s.Slug
	}
	if len(details.Sections) == 0 {
		return c.Send(fmt.Sprintf("❌ '%s' has no sections.", details.Name))
	}
	return b.showSections(c, *details)
}

func (b *Bot) showSections(c tele.Context, s testbook.Series) error {
	b.sessions.Put(c.Chat().ID, session.AwaitSection{Series: s})

	var sb strings.Builder
	fmt.Fprintf(&sb, "🗂️ %s\n\n", s.Name)
	menu := &tele.ReplyMarkup{}
	var rows []tele.Row
	for i, sec := range s.Sections {
		fmt.Fprintf(&sb, "%d. %s (%d subsections)\n", i+1, sec.Name, len(sec.Subsections))
		rows = append(rows, menu.Row(menu.Data(buttonLabel(i+1, sec.Name), btnSection.Unique, strconv.Itoa(i))))
	}
	sb.WriteString("\nReply with a section number or tap a button.")
	rows = append(rows,
		menu.Row(menu.Data("📥 Download All (series)", btnBulk.Unique, session.ScopeSeries.String())),
		menu.Row(menu.Data("🔍 New Search", btnNewSearch.Unique)),
	)
	menu.Inline(rows...)
	return sendLong(c, sb.String(), menu)
}

func (b *Bot) pickSection(c tele.Context, st session.AwaitSection, text string) error {
	i, err := parseIndex(text, len(st.Series.Sections))
	if err != nil {
		return invalidNumber(c, len(st.Series.Sections), "section")
	}
	return b.openSection(c, st.Series, i)
}

// openSection lists every test of every subsection in one numbered list.
func (b *Bot) openSection(c tele.Context, s testbook.Series, idx int) error {
	sec := s.Sections[idx]
	if len(sec.Subsections) == 0 {
		return c.Send(fmt.Sprintf("❌ '%s' has no subsections.", sec.Name))
	}

	ctx, cancel := b.requestContext()
	defer cancel()

	var entries []session.TestEntry
	for _, sub := range sec.Subsections {
		tests, err := b.catalog.TestsInSubsection(ctx, s.ID, sec.ID, sub.ID)
		if err != nil {
			return b.reportError(c, "list tests in "+sub.Name, err)
		}
		for _, t := range tests {
			entries = append(entries, session.TestEntry{Test: t, Subsection: sub})
		}
	}
	return b.showTests(c, session.AwaitTest{Series: s, Section: sec, Tests: entries})
}

func (b *Bot) openSubsection(c tele.Context, s testbook.Series, sec testbook.Section, idx int) error {
	sub := sec.Subsections[idx]

	ctx, cancel := b.requestContext()
	defer cancel()

	tests, err := b.catalog.TestsInSubsection(ctx, s.ID, sec.ID, sub.ID)
	if err != nil {
		return b.reportError(c, "list tests in "+sub.Name, err)
	}
	entries := make([]session.TestEntry, 0, len(tests))
	for _, t := range tests {
		entries = append(entries, session.TestEntry{Test: t, Subsection: sub})
	}
	return b.showTests(c, session.AwaitTest{Series: s, Section: sec, Subsection: &sub, Tests: entries})
}

func (b *Bot) showTests(c tele.Context, st session.AwaitTest) error {
	title := st.Section.Name
	if st.Subsection != nil {
		title = st.Subsection.Name
	}
	if len(st.Tests) == 0 {
		b.sessions.Put(c.Chat().ID, session.AwaitSection{Series: st.Series})
		return c.Send(fmt.Sprintf("❌ No tests found in '%s'. Pick another section number.", title))
	}
	b.sessions.Put(c.Chat().ID, st)

	var sb strings.Builder
	fmt.Fprintf(&sb, "📂 %s (%d tests)\n", title, len(st.Tests))
	last := ""
	for i, e := range st.Tests {
		if st.Subsection == nil && e.Subsection.ID != last {
			fmt.Fprintf(&sb, "\n▸ %s\n", e.Subsection.Name)
			last = e.Subsection.ID
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, e.Test.Title)
	}
	list := sb.String()
	prompt := "Reply with a test number to download it."

	menu := &tele.ReplyMarkup{}
	var rows []tele.Row
	if st.Subsection == nil && len(st.Section.Subsections) > 1 {
		for i, sub := range st.Section.Subsections {
			rows = append(rows, menu.Row(menu.Data("📁 "+sub.Name, btnSub.Unique, strconv.Itoa(i))))
		}
	}
	if st.Subsection != nil {
		rows = append(rows, menu.Row(menu.Data("📥 Download All (subsection)", btnBulk.Unique, session.ScopeSubsection.String())))
	}
	rows = append(rows,
		menu.Row(menu.Data("📥 Download All (section)", btnBulk.Unique, session.ScopeSection.String())),
		menu.Row(menu.Data("🔙 Sections", btnSections.Unique), menu.Data("🔍 New Search", btnNewSearch.Unique)),
	)
	menu.Inline(rows...)

	if len(list) > messageLimit {
		doc := &tele.Document{
			File:     tele.FromReader(strings.NewReader(list)),
			FileName: title + " tests.txt",
			Caption:  fmt.Sprintf("📄 %d tests found in %s.", len(st.Tests), title),
		}
		if err := c.Send(doc); err != nil {
			return err
		}
		return c.Send(prompt, menu)
	}
	return c.Send(list+"\n"+prompt, menu)
}

func (b *Bot) pickTest(c tele.Context, st session.AwaitTest, text string) error {
	i, err := parseIndex(text, len(st.Tests))
	if err != nil {
		return invalidNumber(c, len(st.Tests), "test")
	}
	choice := st.Tests[i]
	b.sessions.Put(c.Chat().ID, session.AwaitFormat{List: st, Choice: choice})

	menu := &tele.ReplyMarkup{}
	menu.Inline(menu.Row(
		menu.Data("HTML", btnFormat.Unique, "html"),
		menu.Data("TXT", btnFormat.Unique, "txt"),
		menu.Data("Both", btnFormat.Unique, "both"),
	))
	return c.Send(fmt.Sprintf("📝 Test #%d: %s\n\nChoose a format: html, txt or both.", i+1, choice.Test.Title), menu)
}

// seriesOf returns the series a navigation state is positioned in.
func seriesOf(st session.State) (testbook.Series, bool) {
	switch st := st.(type) {
	case session.AwaitSection:
		return st.Series, true
	case session.AwaitTest:
		return st.Series, true
	case session.AwaitFormat:
		return st.List.Series, true
	}
	return testbook.Series{}, false
}

// listOf returns the test list a navigation state is positioned in.
func listOf(st session.State) (session.AwaitTest, bool) {
	switch st := st.(type) {
	case session.AwaitTest:
		return st, true
	case session.AwaitFormat:
		return st.List, true
	}
	return session.AwaitTest{}, false
}

func (b *Bot) onSeriesButton(c tele.Context) error {
	_ = c.Respond()
	st, ok := b.sessions.Get(c.Chat().ID).(session.AwaitSeries)
	if !ok {
		return c.Send(expiredMsg)
	}
	i, err := strconv.Atoi(c.Data())
	if err != nil || i < 0 || i >= len(st.Results) {
		return c.Send(expiredMsg)
	}
	return b.openSeries(c, st.Results[i])
}

func (b *Bot) onSectionButton(c tele.Context) error {
	_ = c.Respond()
	s, ok := seriesOf(b.sessions.Get(c.Chat().ID))
	if !ok {
		return c.Send(expiredMsg)
	}
	i, err := strconv.Atoi(c.Data())
	if err != nil || i < 0 || i >= len(s.Sections) {
		return c.Send(expiredMsg)
	}
	return b.openSection(c, s, i)
}

func (b *Bot) onSubsectionButton(c tele.Context) error {
	_ = c.Respond()
	list, ok := listOf(b.sessions.Get(c.Chat().ID))
	if !ok {
		return c.Send(expiredMsg)
	}
	i, err := strconv.Atoi(c.Data())
	if err != nil || i < 0 || i >= len(list.Section.Subsections) {
		return c.Send(expiredMsg)
	}
	return b.openSubsection(c, list.Series, list.Section, i)
}

func (b *Bot) onSectionsButton(c tele.Context) error {
	_ = c.Respond()
	s, ok := seriesOf(b.sessions.Get(c.Chat().ID))
	if !ok {
		return c.Send(expiredMsg)
	}
	return b.showSections(c, s)
}

func (b *Bot) onNewSearchButton(c tele.Context) error {
	_ = c.Respond()
	b.sessions.Clear(c.Chat().ID)
	return c.Send(searchPrompt)
}
