// internal/service/discovery/events.go

package discovery

import "time"

// EventKind tags the variants flowing over the progress channel.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventError    EventKind = "error"
	EventSummary  EventKind = "summary"
)

// Event is the tagged union on the progress channel. Exactly one of
// the payload fields matching Kind is set. A run emits an ordered
// sequence of progress and error events terminated by exactly one
// summary.
type Event struct {
	Kind     EventKind
	Progress *Progress
	Error    *StageError
	Summary  *Summary
}

// Progress reports one completed stage, enough to render a live
// progress bar.
type Progress struct {
	StageIndex      int
	StageCount      int
	PercentComplete int
	StageLabel      string
	ItemsFound      int
}

// StageError names a stage or source that was dropped from the pass.
type StageError struct {
	Stage string
	Err   error
}

func (e StageError) String() string {
	return e.Stage + ": " + e.Err.Error()
}

// Summary closes a run.
type Summary struct {
	TotalFound  int
	ViralCount  int
	TrendCount  int
	ErrorCount  int
	Persisted   int
	Elapsed     time.Duration
	CompletedAt time.Time
}
