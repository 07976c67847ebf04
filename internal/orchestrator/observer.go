package orchestrator

import (
	"time"

	"github.com/ppiankov/bsmeter/internal/model"
)

// EventKind identifies a progress step
type EventKind string

const (
	EventDedupHit       EventKind = "dedup_hit"
	EventAttemptStarted EventKind = "attempt_started"
	EventAttemptFailed  EventKind = "attempt_failed"
	EventSucceeded      EventKind = "succeeded"
	EventPersistFailed  EventKind = "persist_failed"
)

// Event is a progress notification. Attempt events are only emitted by the
// leader of a fingerprint, tagged with the leader's call id.
type Event struct {
	Kind        EventKind
	CallID      string
	Fingerprint model.Fingerprint
	Provider    string
	Attempt     int
	Err         error
	Elapsed     time.Duration
}

// Observer receives progress events. It is called synchronously and must not block.
type Observer func(Event)
