// Package bot wires the Telegram front end: catalog navigation, single test
// delivery and background bulk jobs.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eliseohh/testbookbot/internal/config"
	"github.com/eliseohh/testbookbot/internal/ledger"
	"github.com/eliseohh/testbookbot/internal/session"
	"github.com/eliseohh/testbookbot/internal/testbook"
	tele "gopkg.in/telebot.v3"
)

const (
	requestTimeout = 3 * time.Minute
	messageLimit   = 3500
)

// Catalog is the part of the Testbook client the bot depends on.
type Catalog interface {
	Search(ctx context.Context, query string) ([]testbook.Series, error)
	SeriesDetails(ctx context.Context, slug string) (*testbook.Series, error)
	TestsInSubsection(ctx context.Context, seriesID, sectionID, subsectionID string) ([]testbook.TestSummary, error)
	ExtractQuestions(ctx context.Context, testID string) (*testbook.QuestionSet, error)
}

// Messenger sends outside of a handler context. *tele.Bot implements it.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Ledger stores delivered files.
type Ledger interface {
	Record(ctx context.Context, d ledger.Delivery) error
	Recent(ctx context.Context, chatID int64, n int) ([]ledger.Delivery, error)
	Count(ctx context.Context, chatID int64) (int, error)
}

// Observer receives delivery counters. *metrics.Metrics implements it.
type Observer interface {
	Extraction(err error)
	Delivery(format string, err error)
	BulkStarted() func(result string)
}

type nopObserver struct{}

func (nopObserver) Extraction(error)          {}
func (nopObserver) Delivery(string, error)    {}
func (nopObserver) BulkStarted() func(string) { return func(string) {} }

type Bot struct {
	api      *tele.Bot
	msgr     Messenger
	catalog  Catalog
	settings *config.Store
	sessions *session.Store
	ledger   Ledger
	metrics  Observer
	logger   *slog.Logger
	jobs     *jobRegistry
	running  sync.WaitGroup
	timing   timing

	ctx    context.Context
	cancel context.CancelFunc
}

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Deps are the collaborators shared with the rest of the process. Ledger and
// Metrics may be nil.
type Deps struct {
	Catalog  Catalog
	Settings *config.Store
	Sessions *session.Store
	Ledger   Ledger
	Metrics  Observer
	Logger   *slog.Logger
}

func New(cfg Config, deps Deps) (*Bot, error) {
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	}

	api, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	b := newBot(api, deps)
	b.api = api
	b.register()
	return b, nil
}

func newBot(msgr Messenger, deps Deps) *Bot {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		msgr:     msgr,
		catalog:  deps.Catalog,
		settings: deps.Settings,
		sessions: deps.Sessions,
		ledger:   deps.Ledger,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		jobs:     newJobRegistry(),
		timing:   defaultTiming(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers the command menu and blocks polling for updates.
func (b *Bot) Start() {
	if err := b.api.SetCommands(commands); err != nil {
		b.logger.Warn("could not register command menu", "error", err)
	}
	b.logger.Info("bot started", "username", b.api.Me.Username)
	b.api.Start()
}

// Stop ends polling, asks every running bulk job to halt and waits for the
// jobs to return.
func (b *Bot) Stop() {
	b.jobs.stopAll()
	b.cancel()
	if b.api != nil {
		b.api.Stop()
	}
	b.running.Wait()
}

var commands = []tele.Command{
	{Text: "start", Description: "Start the bot"},
	{Text: "menu", Description: "Search the catalog"},
	{Text: "search", Description: "Search for a test series"},
	{Text: "stop", Description: "Stop the running bulk download"},
	{Text: "cancel", Description: "Cancel bulk download setup"},
	{Text: "history", Description: "Recent deliveries (Admin)"},
	{Text: "setchannel", Description: "Set default forward channel (Admin)"},
	{Text: "removechannel", Description: "Remove forward channel (Admin)"},
	{Text: "viewchannel", Description: "Show forward channel (Admin)"},
	{Text: "settoken", Description: "Set Testbook token (Owner)"},
	{Text: "addadmin", Description: "Add an admin (Owner)"},
	{Text: "removeadmin", Description: "Remove an admin (Owner)"},
	{Text: "adminlist", Description: "List admins (Owner)"},
}

// Inline button endpoints. Data carries an index or a keyword.
var (
	btnSeries    = tele.Btn{Unique: "series"}
	btnSection   = tele.Btn{Unique: "section"}
	btnSub       = tele.Btn{Unique: "sub"}
	btnSections  = tele.Btn{Unique: "sections"}
	btnNewSearch = tele.Btn{Unique: "newsearch"}
	btnFormat    = tele.Btn{Unique: "format"}
	btnBulk      = tele.Btn{Unique: "bulk"}
)

func (b *Bot) register() {
	owner := b.api.Group()
	owner.Use(b.ownerOnly)
	owner.Handle("/settoken", b.handleSetToken)
	owner.Handle("/addadmin", b.handleAddAdmin)
	owner.Handle("/removeadmin", b.handleRemoveAdmin)
	owner.Handle("/adminlist", b.handleAdminList)

	admin := b.api.Group()
	admin.Use(b.adminOnly)
	admin.Handle("/start", b.handleStart)
	admin.Handle("/menu", b.handleMenu)
	admin.Handle("/search", b.handleSearch)
	admin.Handle("/stop", b.handleStop)
	admin.Handle("/cancel", b.handleCancel)
	admin.Handle("/history", b.handleHistory)
	admin.Handle("/setchannel", b.handleSetChannel)
	admin.Handle("/removechannel", b.handleRemoveChannel)
	admin.Handle("/viewchannel", b.handleViewChannel)

	admin.Handle(&btnSeries, b.onSeriesButton)
	admin.Handle(&btnSection, b.onSectionButton)
	admin.Handle(&btnSub, b.onSubsectionButton)
	admin.Handle(&btnSections, b.onSectionsButton)
	admin.Handle(&btnNewSearch, b.onNewSearchButton)
	admin.Handle(&btnFormat, b.onFormatButton)
	admin.Handle(&btnBulk, b.onBulkButton)

	// Free text drives whichever step the chat is waiting on.
	admin.Handle(tele.OnText, b.onText)
}

func (b *Bot) ownerOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if u := c.Sender(); u == nil || !b.settings.IsOwner(u.ID) {
			return deny(c, "⛔ Only the bot owner can use this command.")
		}
		return next(c)
	}
}

func (b *Bot) adminOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if u := c.Sender(); u == nil || !b.settings.IsAdmin(u.ID) {
			return deny(c, "⛔ You are not authorized to use this bot.")
		}
		return next(c)
	}
}

func deny(c tele.Context, msg string) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: msg})
	}
	return c.Send(msg)
}

// onText routes a plain message by the chat's pending state.
func (b *Bot) onText(c tele.Context) error {
	text := strings.TrimSpace(c.Text())
	if text == "" {
		return nil
	}
	switch st := b.sessions.Get(c.Chat().ID).(type) {
	case session.BulkSetup:
		return b.bulkStep(c, st, text)
	case session.AwaitSeries:
		return b.pickSeries(c, st, text)
	case session.AwaitSection:
		return b.pickSection(c, st, text)
	case session.AwaitTest:
		return b.pickTest(c, st, text)
	case session.AwaitFormat:
		return b.pickFormat(c, st, text)
	default:
		if isNumber(text) {
			return c.Send(expiredMsg)
		}
		return b.search(c, text)
	}
}

const expiredMsg = "⌛ Your session has expired. Start again with /search <name>."

// reportError turns a failure into operator-facing text.
func (b *Bot) reportError(c tele.Context, action string, err error) error {
	b.logger.Warn(action+" failed", "chat_id", c.Chat().ID, "error", err)

	var apiErr *testbook.APIError
	switch {
	case errors.Is(err, testbook.ErrNoToken):
		return c.Send("❌ Testbook token is not set. Ask the owner to run /settoken <token>.")
	case errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden):
		return c.Send(fmt.Sprintf("❌ Testbook rejected the token (status %d). Update it with /settoken <token>.", apiErr.Status))
	case errors.Is(err, context.DeadlineExceeded):
		return c.Send(fmt.Sprintf("❌ Timed out while trying to %s. Please try again.", action))
	default:
		return c.Send(fmt.Sprintf("❌ Could not %s: %v", action, err))
	}
}

func (b *Bot) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, requestTimeout)
}

// sendLong splits text on line boundaries so that each message stays below
// the Telegram limit. opts go with the last part only.
func sendLong(c tele.Context, text string, opts ...interface{}) error {
	parts := splitLines(text, messageLimit)
	for i, p := range parts {
		var err error
		if i == len(parts)-1 {
			err = c.Send(p, opts...)
		} else {
			err = c.Send(p)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func splitLines(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if cur.Len()+len(line) > limit && cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
