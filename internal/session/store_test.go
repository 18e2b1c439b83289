package session

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eliseohh/testbookbot/internal/testbook"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(WithClock(clock.Now), WithTTL(time.Hour, 10*time.Minute)), clock
}

func TestStoreGetDefaultsToIdle(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	if _, ok := s.Get(1).(Idle); !ok {
		t.Errorf("Get() on empty store = %T, want Idle", s.Get(1))
	}
}

func TestStorePutReplacesState(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	s.Put(1, AwaitSeries{Query: "ssc", Results: []testbook.Series{{ID: "a"}}})
	s.Put(1, AwaitSection{Series: testbook.Series{ID: "a", Name: "A"}})

	st, ok := s.Get(1).(AwaitSection)
	if !ok {
		t.Fatalf("Get() = %T, want AwaitSection", s.Get(1))
	}
	if st.Series.Name != "A" {
		t.Errorf("Series.Name = %q", st.Series.Name)
	}
	if _, ok := s.Get(2).(Idle); !ok {
		t.Error("state leaked to another chat")
	}
}

func TestStorePutIdleClears(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	s.Put(1, AwaitSeries{})
	s.Put(1, Idle{})
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Put(Idle), want 0", s.Len())
	}
	s.Put(1, AwaitSeries{})
	s.Clear(1)
	if _, ok := s.Get(1).(Idle); !ok {
		t.Error("Clear did not reset the state")
	}
}

func TestStoreExpiry(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore()
	s.Put(1, BulkSetup{Step: StepStart})
	s.Put(2, AwaitSection{})

	clock.Advance(9 * time.Minute)
	if _, ok := s.Get(1).(BulkSetup); !ok {
		t.Fatal("bulk setup expired early")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := s.Get(1).(Idle); !ok {
		t.Error("bulk setup did not expire after its TTL")
	}
	if _, ok := s.Get(2).(AwaitSection); !ok {
		t.Error("navigation state expired with the bulk setup TTL")
	}

	clock.Advance(time.Hour)
	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after sweep", s.Len())
	}
}

func TestStorePutRestartsExpiry(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore()
	s.Put(1, BulkSetup{Step: StepStart})
	clock.Advance(8 * time.Minute)
	s.Put(1, BulkSetup{Step: StepExtractor, Start: 3})
	clock.Advance(8 * time.Minute)

	st, ok := s.Get(1).(BulkSetup)
	if !ok {
		t.Fatal("refreshed setup expired")
	}
	if st.Step != StepExtractor || st.Start != 3 {
		t.Errorf("setup = %+v", st)
	}
}

func TestStartSweeper(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	stop, err := s.StartSweeper(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("StartSweeper() error = %v", err)
	}
	stop()
}

func TestScopeName(t *testing.T) {
	t.Parallel()

	sc := Scope{
		Series:     testbook.Series{Name: "Series"},
		Section:    testbook.Section{Name: "Section"},
		Subsection: testbook.Subsection{Name: "Sub"},
	}
	for kind, want := range map[ScopeKind]string{ScopeSeries: "Series", ScopeSection: "Section", ScopeSubsection: "Sub"} {
		sc.Kind = kind
		if got := sc.Name(); got != want {
			t.Errorf("%s scope Name() = %q, want %q", kind, got, want)
		}
	}
}
