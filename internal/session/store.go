package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultNavigationTTL = time.Hour
	DefaultBulkSetupTTL  = 10 * time.Minute
	sweepSchedule        = "@every 1m"
)

type entry struct {
	state   State
	expires time.Time
}

// Store maps chat ids to their current state. Entries expire after a
// period of inactivity; an expired entry reads as Idle.
type Store struct {
	mu       sync.Mutex
	entries  map[int64]entry
	now      func() time.Time
	navTTL   time.Duration
	setupTTL time.Duration
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithTTL(navigation, bulkSetup time.Duration) Option {
	return func(s *Store) {
		s.navTTL = navigation
		s.setupTTL = bulkSetup
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:  make(map[int64]entry),
		now:      time.Now,
		navTTL:   DefaultNavigationTTL,
		setupTTL: DefaultBulkSetupTTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Get(chatID int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[chatID]
	if !ok {
		return Idle{}
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, chatID)
		return Idle{}
	}
	return e.state
}

// Put replaces the chat's state and restarts its expiry. Putting Idle is
// the same as Clear.
func (s *Store) Put(chatID int64, st State) {
	if st == nil {
		st = Idle{}
	}
	if _, idle := st.(Idle); idle {
		s.Clear(chatID)
		return
	}
	ttl := s.navTTL
	if _, setup := st.(BulkSetup); setup {
		ttl = s.setupTTL
	}
	s.mu.Lock()
	s.entries[chatID] = entry{state: st, expires: s.now().Add(ttl)}
	s.mu.Unlock()
}

func (s *Store) Clear(chatID int64) {
	s.mu.Lock()
	delete(s.entries, chatID)
	s.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Len counts entries, including ones that expired but were not swept yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartSweeper runs Sweep every minute until the returned stop function is
// called.
func (s *Store) StartSweeper(logger *slog.Logger) (stop func(), err error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New()
	if _, err := c.AddFunc(sweepSchedule, func() {
		if n := s.Sweep(); n > 0 {
			logger.Debug("session: expired entries swept", "count", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("session: schedule sweeper: %w", err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
