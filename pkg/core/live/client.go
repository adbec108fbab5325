package live

import (
	"context"
	"sync"

	"github.com/voxa-ai/voxa-live/pkg/core"
	"github.com/voxa-ai/voxa-live/pkg/core/capture"
	"github.com/voxa-ai/voxa-live/pkg/core/playback"
)

// Client hands out sessions while enforcing that at most one is active
// at a time. Each start constructs a fresh Session; finished sessions
// are never restarted.
type Client struct {
	cfg    Config
	source capture.Source
	sink   playback.Sink

	mu     sync.Mutex
	active *Session
}

// NewClient creates a client with the shared device handles.
func NewClient(cfg Config, source capture.Source, sink playback.Sink) *Client {
	return &Client{cfg: cfg, source: source, sink: sink}
}

// StartSession constructs and starts a fresh session. A start while a
// session is still connecting or listening is rejected; a second
// channel is never opened silently.
func (c *Client) StartSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		switch c.active.State() {
		case StateConnecting, StateListening:
			return nil, core.NewInvalidStateError("a session is already active")
		}
	}

	session := NewSession(c.cfg, c.source, c.sink)
	if err := session.Start(ctx); err != nil {
		// A session that never ran is not tracked as active.
		return nil, err
	}
	c.active = session
	return session, nil
}

// StopSession stops the active session, if any. Safe to call when
// nothing is running.
func (c *Client) StopSession() error {
	c.mu.Lock()
	session := c.active
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Stop()
}

// Active returns the most recent session, which may already be
// finished, or nil.
func (c *Client) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
