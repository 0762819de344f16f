package task

import (
	"fmt"
	"time"
)

// statusFor maps lifecycle events to the envelope status they drive.
// Progress events keep the task in flight; terminal events close it.
// Reject is terminal and equivalent to a failure with no retry.
var statusFor = map[Event]Status{
	EventPlan:         StatusInProgress,
	EventExecute:      StatusInProgress,
	EventCritique:     StatusInProgress,
	EventRefine:       StatusInProgress,
	EventConclude:     StatusInProgress,
	EventInfo:         StatusInProgress,
	EventAwaitingTool: StatusInProgress,
	EventToolComplete: StatusInProgress,
	EventComplete:     StatusCompleted,
	EventFail:         StatusFailed,
	EventReject:       StatusFailed,
	EventEscalate:     StatusEscalated,
	EventCancel:       StatusCancelled,
}

// IsFinal reports whether a status admits no further transitions.
func IsFinal(status Status) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusEscalated, StatusCancelled:
		return true
	}
	return false
}

// ApplyEvent drives the envelope state machine. It updates status and
// last_event and appends the transition to history. Applying an event to a
// final envelope is an error; the cancel event is accepted in any non-final
// state because cancellation is advisory.
func (e *Envelope) ApplyEvent(event Event, actor string) error {
	next, ok := statusFor[event]
	if !ok {
		return fmt.Errorf("unknown task event %q", event)
	}
	if IsFinal(e.Header.Status) {
		return fmt.Errorf("task %s is final (%s), cannot apply %s", e.Task.ID, e.Header.Status, event)
	}
	now := time.Now().UTC()
	e.Header.Status = next
	e.Header.LastEvent = event
	e.Header.Timestamp = now
	e.Header.History = append(e.Header.History, HistoryEntry{
		Event:     event,
		Actor:     actor,
		Timestamp: now,
	})
	return nil
}
