package scoped

import "time"

// EventKind classifies a [TaskEvent].
type EventKind int

const (
	EventStarted EventKind = iota
	EventDone
	EventErrored
	EventPanicked
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventDone:
		return "done"
	case EventErrored:
		return "errored"
	case EventPanicked:
		return "panicked"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TaskEvent describes one task state change. Err and Duration are set for
// every kind except [EventStarted].
type TaskEvent struct {
	Kind     EventKind
	Task     TaskInfo
	Err      error
	Duration time.Duration
}
