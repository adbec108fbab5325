// Package transcript accumulates streaming text fragments per speaker
// and flushes finalized entries at turn boundaries.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/voxa-ai/voxa-live/pkg/core/types"
)

// Aggregator joins partial transcript fragments into per-turn buffers
// and emits immutable entries when a turn completes. Safe for
// concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	user    strings.Builder
	agent   strings.Builder
	history []types.TranscriptEntry
	onEntry func(entry types.TranscriptEntry)
}

// NewAggregator creates an aggregator. onEntry, when non-nil, observes
// each finalized entry in emission order.
func NewAggregator(onEntry func(entry types.TranscriptEntry)) *Aggregator {
	return &Aggregator{onEntry: onEntry}
}

// Append adds a fragment to the role's current-turn buffer. Fragments
// carry their own spacing; nothing is inserted between them. Unknown
// roles are ignored.
func (a *Aggregator) Append(role types.Role, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch role {
	case types.RoleUser:
		a.user.WriteString(text)
	case types.RoleAgent:
		a.agent.WriteString(text)
	}
}

// CompleteTurn flushes both buffers, user first since the user's speech
// precedes the response it triggered. Roles with only whitespace are
// skipped. Returns the entries emitted for this turn.
func (a *Aggregator) CompleteTurn(now time.Time) []types.TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var emitted []types.TranscriptEntry
	for _, flush := range []struct {
		role types.Role
		buf  *strings.Builder
	}{
		{types.RoleUser, &a.user},
		{types.RoleAgent, &a.agent},
	} {
		text := strings.TrimSpace(flush.buf.String())
		flush.buf.Reset()
		if text == "" {
			continue
		}
		entry := types.TranscriptEntry{Role: flush.role, Text: text, Timestamp: now}
		a.history = append(a.history, entry)
		emitted = append(emitted, entry)
		if a.onEntry != nil {
			a.onEntry(entry)
		}
	}
	return emitted
}

// History returns a copy of all entries emitted so far.
func (a *Aggregator) History() []types.TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.TranscriptEntry(nil), a.history...)
}

// Reset drops the in-progress turn buffers. Finalized history stays.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.Reset()
	a.agent.Reset()
}
