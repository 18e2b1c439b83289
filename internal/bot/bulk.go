package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eliseohh/testbookbot/internal/ledger"
	"github.com/eliseohh/testbookbot/internal/session"
	"github.com/eliseohh/testbookbot/internal/testbook"
	tele "gopkg.in/telebot.v3"
)

// BulkItem is one test of an enumerated bulk job with the containers it was
// listed under.
type BulkItem struct {
	Test       testbook.TestSummary
	Section    testbook.Section
	Subsection testbook.Subsection
}

// TestLister lists the tests of one subsection.
type TestLister interface {
	TestsInSubsection(ctx context.Context, seriesID, sectionID, subsectionID string) ([]testbook.TestSummary, error)
}

// Enumerate flattens a scope into section, then subsection, then test order.
func Enumerate(ctx context.Context, catalog TestLister, scope session.Scope) ([]BulkItem, error) {
	var sections []testbook.Section
	switch scope.Kind {
	case session.ScopeSeries:
		sections = scope.Series.Sections
	case session.ScopeSection:
		sections = []testbook.Section{scope.Section}
	case session.ScopeSubsection:
		sec := scope.Section
		sec.Subsections = []testbook.Subsection{scope.Subsection}
		sections = []testbook.Section{sec}
	default:
		return nil, fmt.Errorf("bulk: unknown scope %d", scope.Kind)
	}

	var items []BulkItem
	for _, sec := range sections {
		for _, sub := range sec.Subsections {
			tests, err := catalog.TestsInSubsection(ctx, scope.Series.ID, sec.ID, sub.ID)
			if err != nil {
				return nil, fmt.Errorf("bulk: list %s / %s: %w", sec.Name, sub.Name, err)
			}
			for _, t := range tests {
				items = append(items, BulkItem{Test: t, Section: sec, Subsection: sub})
			}
		}
	}
	return items, nil
}

var ErrStartBeyond = errors.New("bulk: start number is beyond the list")

// SliceFrom drops the items before the 1-based position start. Positions
// below 1 are treated as 1. The effective start is returned.
func SliceFrom(items []BulkItem, start int) ([]BulkItem, int, error) {
	if start < 1 {
		start = 1
	}
	if start > len(items) {
		return nil, start, fmt.Errorf("%w: %d > %d", ErrStartBeyond, start, len(items))
	}
	return items[start-1:], start, nil
}

type timing struct {
	successDelay     time.Duration
	failureDelay     time.Duration
	progressEvery    int
	progressInterval time.Duration
	pause            func(ctx context.Context, d time.Duration) error
	now              func() time.Time
}

func defaultTiming() timing {
	return timing{
		successDelay:     time.Second,
		failureDelay:     3 * time.Second,
		progressEvery:    5,
		progressInterval: 3 * time.Second,
		pause:            sleep,
		now:              time.Now,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type bulkJob struct {
	chatID    int64
	owner     tele.Recipient
	scope     session.Scope
	start     int
	extractor string
	dest      tele.Recipient
	destKey   string
	destLabel string
	format    Format

	stop atomic.Bool
}

func (j *bulkJob) requestStop()  { j.stop.Store(true) }
func (j *bulkJob) stopped() bool { return j.stop.Load() }

// jobRegistry holds at most one running job per chat. Handlers run
// concurrently, so all access goes through mu.
type jobRegistry struct {
	mu   sync.Mutex
	jobs map[int64]*bulkJob
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[int64]*bulkJob)}
}

func (r *jobRegistry) add(j *bulkJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.jobs[j.chatID]; busy {
		return false
	}
	r.jobs[j.chatID] = j
	return true
}

func (r *jobRegistry) get(chatID int64) (*bulkJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[chatID]
	return j, ok
}

// remove drops j only if it is still the registered job for its chat.
func (r *jobRegistry) remove(j *bulkJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[j.chatID] == j {
		delete(r.jobs, j.chatID)
	}
}

func (r *jobRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		j.requestStop()
	}
}

// chatHandle addresses a public chat by its @username.
type chatHandle string

func (h chatHandle) Recipient() string { return string(h) }

func recipientFor(dest string) tele.Recipient {
	if id, err := strconv.ParseInt(dest, 10, 64); err == nil {
		return tele.ChatID(id)
	}
	return chatHandle(dest)
}

var (
	reChatID = regexp.MustCompile(`^-?\d+$`)
	reHandle = regexp.MustCompile(`^@[A-Za-z][A-Za-z0-9_]{3,}$`)

	errNoChannel      = errors.New("no default channel configured")
	errBadDestination = errors.New("unrecognized destination")
)

// resolveDestination maps a reply to a chat reference and a display label.
func (b *Bot) resolveDestination(chatID int64, text string) (string, string, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "1":
		return strconv.FormatInt(chatID, 10), "this chat", nil
	case text == "/d" || strings.EqualFold(text, "default"):
		ch := b.settings.Channel()
		if ch == "" {
			return "", "", errNoChannel
		}
		return ch, "default channel " + ch, nil
	case reChatID.MatchString(text), reHandle.MatchString(text):
		return text, text, nil
	}
	return "", "", errBadDestination
}

func (b *Bot) onBulkButton(c tele.Context) error {
	_ = c.Respond()
	chatID := c.Chat().ID
	if _, busy := b.jobs.get(chatID); busy {
		return c.Send("⏳ A bulk download is already running in this chat. Use /stop first.")
	}

	st := b.sessions.Get(chatID)
	var scope session.Scope
	switch c.Data() {
	case session.ScopeSeries.String():
		s, ok := seriesOf(st)
		if !ok {
			return c.Send(expiredMsg)
		}
		scope = session.Scope{Kind: session.ScopeSeries, Series: s}
	case session.ScopeSection.String():
		list, ok := listOf(st)
		if !ok {
			return c.Send(expiredMsg)
		}
		scope = session.Scope{Kind: session.ScopeSection, Series: list.Series, Section: list.Section}
	case session.ScopeSubsection.String():
		list, ok := listOf(st)
		if !ok || list.Subsection == nil {
			return c.Send(expiredMsg)
		}
		scope = session.Scope{Kind: session.ScopeSubsection, Series: list.Series, Section: list.Section, Subsection: *list.Subsection}
	default:
		return c.Send(expiredMsg)
	}

	b.sessions.Put(chatID, session.BulkSetup{Step: session.StepStart, Scope: scope})
	return c.Send(fmt.Sprintf("📥 Bulk download of %s '%s'\n\nSend the test number to start from (1 starts at the beginning).\n\nType /cancel to abort.",
		scope.Kind, scope.Name()))
}

func (b *Bot) bulkStep(c tele.Context, st session.BulkSetup, text string) error {
	chatID := c.Chat().ID
	switch st.Step {
	case session.StepStart:
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return c.Send("❌ Send a whole number to start from (1 starts at the beginning), or /cancel.")
		}
		st.Start = max(n, 1)
		st.Step = session.StepExtractor
		b.sessions.Put(chatID, st)
		return c.Send(fmt.Sprintf("✅ Starting from test %d.\n\n✍️ Send the extractor name to credit in every caption (for example 'H4R'), or 'skip' for none.", st.Start))

	case session.StepExtractor:
		if strings.EqualFold(text, "skip") {
			text = ""
		}
		st.Extractor = text
		st.Step = session.StepDestination
		b.sessions.Put(chatID, st)
		return c.Send(b.destinationPrompt())

	case session.StepDestination:
		dest, label, err := b.resolveDestination(chatID, text)
		switch {
		case errors.Is(err, errNoChannel):
			b.sessions.Clear(chatID)
			return c.Send("❌ You chose the default channel, but none is set. Use /setchannel first. Bulk setup cancelled.")
		case err != nil:
			return c.Send("❌ Invalid destination. Send 1, /d, a chat id such as -100..., or an @channel handle.")
		}
		st.Destination, st.DestLabel = dest, label
		st.Step = session.StepFormat
		b.sessions.Put(chatID, st)
		menu := &tele.ReplyMarkup{}
		menu.Inline(menu.Row(
			menu.Data("HTML", btnFormat.Unique, "html"),
			menu.Data("TXT", btnFormat.Unique, "txt"),
			menu.Data("Both", btnFormat.Unique, "both"),
		))
		return c.Send(fmt.Sprintf("📍 Destination: %s\n\nChoose a format: html, txt or both.", label), menu)

	case session.StepFormat:
		f, ok := ParseFormat(text)
		if !ok {
			return c.Send(formatPrompt)
		}
		b.sessions.Clear(chatID)
		job := &bulkJob{
			chatID:    chatID,
			owner:     tele.ChatID(chatID),
			scope:     st.Scope,
			start:     st.Start,
			extractor: st.Extractor,
			dest:      recipientFor(st.Destination),
			destKey:   st.Destination,
			destLabel: st.DestLabel,
			format:    f,
		}
		if !b.jobs.add(job) {
			return c.Send("⏳ A bulk download is already running in this chat. Use /stop first.")
		}
		b.launch(job)
		return nil
	}
	b.sessions.Clear(chatID)
	return c.Send(expiredMsg)
}

// launch runs a registered job in the background. Stop waits for it.
func (b *Bot) launch(job *bulkJob) {
	b.running.Add(1)
	go func() {
		defer b.running.Done()
		defer b.jobs.remove(job)
		b.runBulk(b.ctx, job)
	}()
}

func (b *Bot) destinationPrompt() string {
	ch := b.settings.Channel()
	if ch == "" {
		ch = "not set"
	}
	return "📍 Where should the files go?\n\n" +
		"1 - this chat\n" +
		"/d - the default channel (" + ch + ")\n" +
		"-100... or @channel - that chat (the bot must be an admin there)\n\n" +
		"Type /cancel to abort."
}

func (b *Bot) handleStop(c tele.Context) error {
	chatID := c.Chat().ID
	var replies []string
	if job, ok := b.jobs.get(chatID); ok {
		job.requestStop()
		replies = append(replies, "🛑 Stopping... the bulk download halts after the current test.")
	}
	if _, setup := b.sessions.Get(chatID).(session.BulkSetup); setup {
		b.sessions.Clear(chatID)
		replies = append(replies, "Bulk download setup cancelled.")
	}
	if len(replies) == 0 {
		return c.Send("ℹ️ No bulk download is running.")
	}
	return c.Send(strings.Join(replies, "\n"))
}

func (b *Bot) handleCancel(c tele.Context) error {
	chatID := c.Chat().ID
	if _, setup := b.sessions.Get(chatID).(session.BulkSetup); !setup {
		return c.Send("ℹ️ No bulk download setup in progress.")
	}
	b.sessions.Clear(chatID)
	return c.Send("Bulk download setup cancelled.")
}

const (
	outcomeCompleted = "completed"
	outcomeStopped   = "stopped"
	outcomeFailed    = "failed"
	outcomeEmpty     = "empty"
)

type bulkResult struct {
	outcome   string
	total     int
	overall   int
	start     int
	processed int
	sent      int
	skipped   int
	failed    int
}

// last is the overall position of the most recently processed item.
func (r bulkResult) last() int { return r.start + r.processed - 1 }

func (r bulkResult) counts() string {
	return fmt.Sprintf("Processed: %d/%d\nSent: %d | Skipped: %d | Failed: %d",
		r.processed, r.total, r.sent, r.skipped, r.failed)
}

// runBulk enumerates the job's scope and delivers each test in order. The
// stop flag is checked once per item.
func (b *Bot) runBulk(ctx context.Context, job *bulkJob) (res bulkResult) {
	log := b.logger.With("chat_id", job.chatID, "scope", job.scope.Kind.String(), "destination", job.destKey)
	finish := b.metrics.BulkStarted()
	res.outcome = outcomeFailed
	defer func() {
		if r := recover(); r != nil {
			log.Error("bulk job panicked", "panic", r)
			b.notify(log, job, "❌ Bulk download failed unexpectedly. Please try again.")
			res.outcome = outcomeFailed
		}
		finish(res.outcome)
		log.Info("bulk job finished", "outcome", res.outcome, "processed", res.processed, "total", res.total)
	}()

	status, err := b.msgr.Send(job.owner, fmt.Sprintf("⏳ Collecting tests for %s '%s'...", job.scope.Kind, job.scope.Name()))
	if err != nil {
		log.Error("could not post status message", "error", err)
		return res
	}

	items, err := Enumerate(ctx, b.catalog, job.scope)
	if err != nil {
		log.Error("enumeration failed", "error", err)
		b.notify(log, job, fmt.Sprintf("❌ Could not list tests: %v", err))
		return res
	}
	if len(items) == 0 {
		res.outcome = outcomeEmpty
		b.notify(log, job, fmt.Sprintf("❌ No tests found in '%s'.", job.scope.Name()))
		return res
	}
	slice, start, err := SliceFrom(items, job.start)
	if err != nil {
		b.notify(log, job, fmt.Sprintf("❌ Start number %d is beyond the %d tests found. Nothing was sent.", start, len(items)))
		return res
	}
	res.total, res.overall, res.start = len(slice), len(items), start

	p := &progress{timing: b.timing, msgr: b.msgr, msg: status, job: job, lastAt: b.timing.now()}
	if err := p.edit(res, start, "", true); err != nil {
		log.Error("progress update failed", "error", err)
		b.notify(log, job, fmt.Sprintf("❌ Bulk download failed: %v", err))
		return res
	}

	for i, it := range slice {
		if job.stopped() || ctx.Err() != nil {
			res.outcome = outcomeStopped
			b.notify(log, job, fmt.Sprintf("🛑 Bulk download stopped.\n\n%s\nStopped after Overall Test %d/%d.", res.counts(), res.last(), res.overall))
			return res
		}
		pos := start + i
		final := i == len(slice)-1
		title := it.Test.Title

		set, err := b.catalog.ExtractQuestions(ctx, it.Test.ID)
		b.metrics.Extraction(err)
		if err != nil {
			log.Warn("skipping test", "test_id", it.Test.ID, "position", pos, "error", err)
			b.notify(log, job, fmt.Sprintf("⚠️ Skipped Overall Test %d (%s): %v", pos, title, err))
			res.processed++
			res.skipped++
			if err := p.edit(res, pos, title, final); err != nil {
				return b.progressFailed(log, job, res, err)
			}
			_ = b.timing.pause(ctx, b.timing.failureDelay)
			continue
		}

		details := testbook.NewDetails(it.Test, job.scope.Series, it.Section, it.Subsection, set)
		files := renderFiles(set, details, job.format, title)
		sendErr := b.sendFiles(ctx, job, it, files, details.Caption(job.extractor))
		res.processed++

		if sendErr != nil {
			if isPermissionError(sendErr) {
				log.Error("destination refused delivery, stopping", "test_id", it.Test.ID, "error", sendErr)
				res.failed++
				b.notify(log, job, fmt.Sprintf("❌ The bot cannot post to %s: %v\nMake sure it is an admin there.\n\nStopped at Overall Test %d/%d.\n%s",
					job.destLabel, sendErr, pos, res.overall, res.counts()))
				return res
			}
			log.Warn("delivery failed", "test_id", it.Test.ID, "position", pos, "error", sendErr)
			b.notify(log, job, fmt.Sprintf("⚠️ Could not send Overall Test %d (%s): %v\nMoving on to the next test.", pos, title, sendErr))
			res.failed++
			if err := p.edit(res, pos, title, final); err != nil {
				return b.progressFailed(log, job, res, err)
			}
			_ = b.timing.pause(ctx, b.timing.failureDelay)
			continue
		}

		res.sent++
		if err := p.edit(res, pos, files[0].name, final); err != nil {
			return b.progressFailed(log, job, res, err)
		}
		_ = b.timing.pause(ctx, b.timing.successDelay)
	}

	res.outcome = outcomeCompleted
	b.notify(log, job, fmt.Sprintf("✅ Bulk download complete!\n\n%s\nRange: Overall Test %d to %d\nFinished at Overall Test %d/%d\nDestination: %s",
		res.counts(), res.start, res.last(), res.last(), res.overall, job.destLabel))
	return res
}

func (b *Bot) sendFiles(ctx context.Context, job *bulkJob, it BulkItem, files []file, caption string) error {
	for i, f := range files {
		c := ""
		if i == 0 {
			c = caption
		}
		_, err := b.msgr.Send(job.dest, f.document(c), tele.ModeHTML)
		b.metrics.Delivery(f.ext, err)
		if err != nil {
			return err
		}
		b.record(ctx, ledger.Delivery{
			ChatID:      job.chatID,
			Destination: job.destKey,
			TestID:      it.Test.ID,
			Title:       it.Test.Title,
			Format:      f.ext,
			Bulk:        true,
		})
	}
	return nil
}

func (b *Bot) progressFailed(log *slog.Logger, job *bulkJob, res bulkResult, err error) bulkResult {
	log.Error("progress update failed", "error", err)
	b.notify(log, job, fmt.Sprintf("❌ Bulk download failed: %v\n\n%s", err, res.counts()))
	res.outcome = outcomeFailed
	return res
}

func (b *Bot) notify(log *slog.Logger, job *bulkJob, text string) {
	if _, err := b.msgr.Send(job.owner, text); err != nil {
		log.Warn("could not notify operator", "error", err)
	}
}

// progress rewrites one status message, at most every progressEvery items
// or progressInterval, unless forced.
type progress struct {
	timing timing
	msgr   Messenger
	msg    *tele.Message
	job    *bulkJob
	lastAt time.Time
	since  int
}

func (p *progress) edit(res bulkResult, pos int, name string, force bool) error {
	p.since++
	now := p.timing.now()
	if !force && p.since < p.timing.progressEvery && now.Sub(p.lastAt) < p.timing.progressInterval {
		return nil
	}
	p.since = 0
	p.lastAt = now

	_, err := p.msgr.Edit(p.msg, progressText(res, pos, name, p.job))
	if err != nil && !isNotModified(err) {
		return fmt.Errorf("edit progress message: %w", err)
	}
	return nil
}

const barWidth = 10

func progressText(res bulkResult, pos int, name string, job *bulkJob) string {
	filled := 0
	pct := 0
	if res.total > 0 {
		filled = res.processed * barWidth / res.total
		pct = res.processed * 100 / res.total
	}
	var sb strings.Builder
	sb.WriteString("📥 Bulk download in progress\n\n")
	fmt.Fprintf(&sb, "%s%s %d%%\n", strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled), pct)
	fmt.Fprintf(&sb, "Test %d/%d (Overall Test %d/%d)\n", res.processed, res.total, pos, res.overall)
	if name != "" {
		fmt.Fprintf(&sb, "📄 %s\n", name)
	}
	fmt.Fprintf(&sb, "Format: %s | Destination: %s\n\n", job.format, job.destLabel)
	sb.WriteString("Send /stop to cancel.")
	return sb.String()
}

var permissionHints = []string{
	"not enough rights",
	"have no rights",
	"need administrator rights",
	"chat not found",
	"bot was kicked",
	"bot is not a member",
	"bot was blocked",
	"forbidden",
}

// isPermissionError reports whether a delivery failed because the bot may
// not post to the destination at all.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == http.StatusForbidden {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "(403)") {
		return true
	}
	for _, h := range permissionHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

func isNotModified(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}
