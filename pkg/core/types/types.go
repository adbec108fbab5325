// Package types holds the small shared data model of the session core:
// speaker roles and finalized transcript entries.
package types

import "time"

// Role identifies which side of the conversation produced some text.
type Role string

const (
	// RoleUser is the human speaker captured by the microphone.
	RoleUser Role = "user"
	// RoleAgent is the remote conversational agent.
	RoleAgent Role = "agent"
)

// Valid reports whether r is a known speaker role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

// TranscriptEntry is one finalized utterance. Entries are append-only
// history: once created they are never mutated or deleted.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
