// Package channel defines the duplex conversation transport contract:
// a persistent bidirectional connection that accepts outbound audio
// chunks and yields a stream of tagged inbound events.
package channel

import "github.com/voxa-ai/voxa-live/pkg/core/types"

// Chunk is one outbound audio payload with its wire format tag.
type Chunk struct {
	// Data is raw PCM, 16-bit signed little-endian.
	Data []byte
	// MIME tags the format and rate, for example "audio/pcm;rate=16000".
	MIME string
}

// Channel is a live duplex conversation connection. Send and Events may
// be used concurrently. After the channel closes, Send returns an error
// and Events yields a final ClosedEvent before the stream ends.
type Channel interface {
	// Send transmits one audio chunk to the remote agent.
	Send(chunk Chunk) error

	// Events returns the inbound event stream. The channel closes the
	// stream after emitting its terminal event.
	Events() <-chan Event

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Event is one tagged inbound message from the remote agent.
type Event interface {
	// EventType returns the wire-level tag for logging.
	EventType() string
}

// TranscriptEvent carries a transcript fragment for one speaker role.
// Fragments are partial: the aggregator joins them into turns.
type TranscriptEvent struct {
	Role types.Role
	Text string
}

func (TranscriptEvent) EventType() string { return "transcript" }

// AudioEvent carries one chunk of agent speech, raw 16-bit PCM.
type AudioEvent struct {
	Data []byte
}

func (AudioEvent) EventType() string { return "audio" }

// TurnCompleteEvent marks the end of the agent's current turn.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) EventType() string { return "turn_complete" }

// InterruptedEvent signals the agent was cut off by user speech. All
// pending agent audio must be discarded.
type InterruptedEvent struct{}

func (InterruptedEvent) EventType() string { return "interrupted" }

// ClosedEvent is the terminal event: the connection ended. Err is nil
// for an orderly shutdown and non-nil for a failure. A channel emits at
// most one ClosedEvent.
type ClosedEvent struct {
	Err error
}

func (ClosedEvent) EventType() string { return "closed" }
