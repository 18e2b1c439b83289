// Package session holds the per-chat navigation state. Exactly one state
// variant is active per chat; every transition replaces it whole.
package session

import "github.com/eliseohh/testbookbot/internal/testbook"

// State is one of Idle, AwaitSeries, AwaitSection, AwaitTest, AwaitFormat
// or BulkSetup.
type State interface {
	isState()
}

// Idle means no input is pending. Free text starts a search.
type Idle struct{}

// AwaitSeries waits for a series number from the last search.
type AwaitSeries struct {
	Query   string
	Results []testbook.Series
}

// AwaitSection waits for a section number within Series.
type AwaitSection struct {
	Series testbook.Series
}

// TestEntry is one numbered row of a test list.
type TestEntry struct {
	Test       testbook.TestSummary
	Subsection testbook.Subsection
}

// AwaitTest waits for a test number. Subsection is nil when the list
// combines every subsection of Section.
type AwaitTest struct {
	Series     testbook.Series
	Section    testbook.Section
	Subsection *testbook.Subsection
	Tests      []TestEntry
}

// AwaitFormat waits for html, txt or both for Choice. List is restored once
// the test is delivered.
type AwaitFormat struct {
	List   AwaitTest
	Choice TestEntry
}

type ScopeKind int

const (
	ScopeSeries ScopeKind = iota + 1
	ScopeSection
	ScopeSubsection
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeSeries:
		return "series"
	case ScopeSection:
		return "section"
	case ScopeSubsection:
		return "subsection"
	}
	return "unknown"
}

// Scope names the part of the catalog a bulk job covers. Section is unset
// for ScopeSeries and Subsection is unset unless Kind is ScopeSubsection.
type Scope struct {
	Kind       ScopeKind
	Series     testbook.Series
	Section    testbook.Section
	Subsection testbook.Subsection
}

// Name is the display name of the narrowest level in the scope.
func (s Scope) Name() string {
	switch s.Kind {
	case ScopeSection:
		return s.Section.Name
	case ScopeSubsection:
		return s.Subsection.Name
	}
	return s.Series.Name
}

type BulkStep int

const (
	StepStart BulkStep = iota + 1
	StepExtractor
	StepDestination
	StepFormat
)

// BulkSetup collects bulk job parameters one reply at a time.
type BulkSetup struct {
	Step        BulkStep
	Scope       Scope
	Start       int
	Extractor   string
	Destination string
	DestLabel   string
}

func (Idle) isState()         {}
func (AwaitSeries) isState()  {}
func (AwaitSection) isState() {}
func (AwaitTest) isState()    {}
func (AwaitFormat) isState()  {}
func (BulkSetup) isState()    {}
