package live

import "github.com/voxa-ai/voxa-live/pkg/core/types"

// Event is the interface for all session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted on every lifecycle transition.
type StateChangedEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// PartialTranscriptEvent carries one in-progress transcript fragment
// as it arrives, before the turn completes.
type PartialTranscriptEvent struct {
	Role types.Role `json:"role"`
	Text string     `json:"text"`
}

func (e *PartialTranscriptEvent) EventType() string { return "transcript.partial" }

// TranscriptEntryEvent carries one finalized transcript entry.
type TranscriptEntryEvent struct {
	Entry types.TranscriptEntry `json:"entry"`
}

func (e *TranscriptEntryEvent) EventType() string { return "transcript.entry" }

// SpeakingChangedEvent reports the avatar signal: whether agent audio
// is currently in flight.
type SpeakingChangedEvent struct {
	Speaking bool `json:"speaking"`
}

func (e *SpeakingChangedEvent) EventType() string { return "speaking.changed" }

// ErrorEvent surfaces the failure that moved the session to the error
// state.
type ErrorEvent struct {
	Err error `json:"-"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// ClosedEvent is the last event of a session.
type ClosedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *ClosedEvent) EventType() string { return "session.closed" }
