// Package gemini implements the duplex conversation channel on the
// Gemini Live bidirectional streaming API over a single WebSocket.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxa-ai/voxa-live/pkg/core"
	"github.com/voxa-ai/voxa-live/pkg/core/audio"
	"github.com/voxa-ai/voxa-live/pkg/core/channel"
	"github.com/voxa-ai/voxa-live/pkg/core/types"
)

const (
	// DefaultEndpoint is the Gemini Live WebSocket endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gemini-2.0-flash-live-001"

	// DefaultVoice is used when Config.Voice is empty.
	DefaultVoice = "Puck"

	defaultConnectTimeout = 15 * time.Second
)

// Config configures a Gemini Live connection.
type Config struct {
	// APIKey authenticates against the Gemini API. Required.
	APIKey string

	// Model is the live model name, without the "models/" prefix.
	Model string

	// SystemPrompt steers the agent for the whole session. Optional.
	SystemPrompt string

	// Voice selects the prebuilt agent voice.
	Voice string

	// Endpoint overrides the WebSocket URL, for tests.
	Endpoint string

	// ConnectTimeout bounds dial plus setup handshake.
	ConnectTimeout time.Duration

	// Logger receives channel-level debug logs. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Client is a live Gemini connection implementing channel.Channel.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events  chan channel.Event
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

var _ channel.Channel = (*Client)(nil)

// Dial opens the WebSocket, sends the setup frame, and waits for the
// server's setup acknowledgement before returning a live client. The
// returned client is already streaming events.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.NewConfigurationError("gemini API key is not set")
	}
	full := cfg.withDefaults()

	endpoint, err := url.Parse(full.Endpoint)
	if err != nil {
		return nil, core.NewConfigurationError(fmt.Sprintf("invalid endpoint %q", full.Endpoint))
	}
	query := endpoint.Query()
	query.Set("key", full.APIKey)
	endpoint.RawQuery = query.Encode()

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, full.ConnectTimeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint.String(), nil)
	if err != nil {
		return nil, core.NewChannelError("websocket dial failed", err)
	}

	if err := conn.WriteJSON(buildSetup(full)); err != nil {
		_ = conn.Close()
		return nil, core.NewChannelError("send setup", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(full.ConnectTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, core.NewChannelError("read setup acknowledgement", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var first serverMessage
	if err := json.Unmarshal(payload, &first); err != nil {
		_ = conn.Close()
		return nil, core.NewChannelError("decode setup acknowledgement", err)
	}
	if first.SetupComplete == nil {
		_ = conn.Close()
		return nil, core.NewChannelError("server did not acknowledge setup", nil)
	}

	client := &Client{
		conn:    conn,
		logger:  full.Logger,
		events:  make(chan channel.Event, 256),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go client.readLoop()
	return client, nil
}

func buildSetup(cfg Config) clientMessage {
	return clientMessage{
		Setup: &setupMessage{
			Model: "models/" + cfg.Model,
			GenerationConfig: &generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: &voiceConfig{
						PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: cfg.Voice},
					},
				},
			},
			SystemInstruction:        systemInstruction(cfg.SystemPrompt),
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
}

func systemInstruction(prompt string) *content {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}
	return &content{Parts: []part{{Text: prompt}}}
}

// Send transmits one audio chunk as a realtimeInput frame.
func (c *Client) Send(chunk channel.Chunk) error {
	if c.closed.Load() {
		return core.NewChannelError("channel is closed", nil)
	}
	msg := clientMessage{
		RealtimeInput: &realtimeInput{
			Audio: &inlineData{
				MIMEType: chunk.MIME,
				Data:     audio.EncodeToString(chunk.Data),
			},
		},
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return core.NewChannelError("send audio", err)
	}
	return nil
}

// Events yields inbound channel events. The stream ends with a single
// ClosedEvent.
func (c *Client) Events() <-chan channel.Event {
	return c.events
}

// Close tears the connection down. Safe to call more than once; later
// calls wait for the read loop to finish and return nil.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) terminalErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setErr(core.NewChannelError("connection lost", err))
			}
			break
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// A malformed frame is skipped; it never ends the session.
			c.logger.Warn("skipping malformed frame", "error", err)
			continue
		}
		if msg.GoAway != nil {
			c.logger.Info("server requested disconnect")
			continue
		}
		if msg.ServerContent == nil {
			continue
		}
		for _, event := range decodeServerContent(msg.ServerContent, c.logger) {
			if !c.emit(event) {
				break
			}
		}
	}

	// Exactly one terminal event, then the stream ends.
	c.emit(channel.ClosedEvent{Err: c.terminalErr()})
	close(c.events)
}

// emit delivers in order, giving up only when the client is closing and
// the consumer is gone. Reports whether delivery may continue.
func (c *Client) emit(event channel.Event) bool {
	select {
	case c.events <- event:
		return true
	default:
	}
	select {
	case c.events <- event:
		return true
	case <-c.closing:
		return false
	}
}

// decodeServerContent expands one serverContent frame into ordered
// channel events: transcripts first, then audio, then turn markers.
func decodeServerContent(sc *serverContent, logger *slog.Logger) []channel.Event {
	var events []channel.Event

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, channel.TranscriptEvent{
			Role: types.RoleUser,
			Text: sc.InputTranscription.Text,
		})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, channel.TranscriptEvent{
			Role: types.RoleAgent,
			Text: sc.OutputTranscription.Text,
		})
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			pcm, err := audio.DecodeString(p.InlineData.Data)
			if err != nil {
				logger.Warn("skipping undecodable audio part",
					"error", core.NewDecodeError("bad audio payload", err))
				continue
			}
			events = append(events, channel.AudioEvent{Data: pcm})
		}
	}

	if sc.Interrupted {
		events = append(events, channel.InterruptedEvent{})
	}
	if sc.TurnComplete {
		events = append(events, channel.TurnCompleteEvent{})
	}
	return events
}
