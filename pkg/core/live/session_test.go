package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxa-ai/voxa-live/pkg/core"
	"github.com/voxa-ai/voxa-live/pkg/core/channel"
	"github.com/voxa-ai/voxa-live/pkg/core/types"
)

type fakeChannel struct {
	mu        sync.Mutex
	sent      []channel.Chunk
	events    chan channel.Event
	closeOnce sync.Once
	closed    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan channel.Event, 64)}
}

func (f *fakeChannel) Send(chunk channel.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("channel closed")
	}
	f.sent = append(f.sent, chunk)
	return nil
}

func (f *fakeChannel) Events() <-chan channel.Event { return f.events }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.terminate(nil)
	return nil
}

// terminate emits the single terminal event and ends the stream.
func (f *fakeChannel) terminate(err error) {
	f.closeOnce.Do(func() {
		f.events <- channel.ClosedEvent{Err: err}
		close(f.events)
	})
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSource struct {
	mu        sync.Mutex
	onSamples func([]float32)
	startErr  error
	stops     int
}

func (f *fakeSource) Start(onSamples func([]float32)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.onSamples = onSamples
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSource) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeSink struct {
	mu      sync.Mutex
	writes  [][]byte
	flushes int
}

func (f *fakeSink) Write(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, pcm)
	return nil
}

func (f *fakeSink) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeSink) stats() (writes, flushes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes), f.flushes
}

type fixture struct {
	session *Session
	ch      *fakeChannel
	source  *fakeSource
	sink    *fakeSink
}

func newFixture(t *testing.T, mutate func(cfg *Config)) *fixture {
	t.Helper()
	f := &fixture{
		ch:     newFakeChannel(),
		source: &fakeSource{},
		sink:   &fakeSink{},
	}
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Dial = func(context.Context, Config) (channel.Channel, error) {
		return f.ch, nil
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.session = NewSession(cfg, f.source, f.sink)
	return f
}

// drain collects every session event until the stream closes.
func drain(t *testing.T, s *Session) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case event, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			t.Fatalf("session event stream never closed (got %d events)", len(events))
		}
	}
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

func TestStartTransitionsToListening(t *testing.T) {
	f := newFixture(t, nil)

	if f.session.State() != StateIdle {
		t.Fatalf("initial state = %s", f.session.State())
	}
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.session.State(); got != StateListening {
		t.Fatalf("state after Start = %s, want LISTENING", got)
	}
	if err := f.session.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	var transitions []StateChangedEvent
	for _, event := range drain(t, f.session) {
		if sc, ok := event.(*StateChangedEvent); ok {
			transitions = append(transitions, *sc)
		}
	}
	want := []StateChangedEvent{
		{From: StateIdle, To: StateConnecting},
		{From: StateConnecting, To: StateListening},
		{From: StateListening, To: StateIdle},
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %+v, want %+v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %+v, want %+v", i, transitions[i], want[i])
		}
	}
}

func TestStartFailsFastOnMissingCredential(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.APIKey = ""
		cfg.Dial = nil
	})

	err := f.session.Start(context.Background())
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	if got := core.TypeOf(err); got != core.ErrConfiguration {
		t.Errorf("error type = %q, want %q", got, core.ErrConfiguration)
	}
	if f.session.State() != StateErrored {
		t.Errorf("state = %s, want ERROR", f.session.State())
	}
}

func TestStartFailsOnPermissionDenied(t *testing.T) {
	f := newFixture(t, nil)
	f.source.startErr = errors.New("access denied")

	err := f.session.Start(context.Background())
	if err == nil {
		t.Fatalf("expected permission error")
	}
	if got := core.TypeOf(err); got != core.ErrPermission {
		t.Errorf("error type = %q, want %q", got, core.ErrPermission)
	}
	if !f.ch.isClosed() {
		t.Errorf("channel must be released when the microphone fails")
	}
	if f.session.State() != StateErrored {
		t.Errorf("state = %s, want ERROR", f.session.State())
	}
}

func TestStartFailsOnDialError(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Dial = func(context.Context, Config) (channel.Channel, error) {
			return nil, errors.New("connection refused")
		}
	})

	err := f.session.Start(context.Background())
	if err == nil {
		t.Fatalf("expected channel error")
	}
	if got := core.TypeOf(err); got != core.ErrChannel {
		t.Errorf("error type = %q, want %q", got, core.ErrChannel)
	}
	if f.session.State() != StateErrored {
		t.Errorf("state = %s, want ERROR", f.session.State())
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.session.Stop()

	err := f.session.Start(context.Background())
	if err == nil {
		t.Fatalf("second Start must be rejected")
	}
	if got := core.TypeOf(err); got != core.ErrInvalidState {
		t.Errorf("error type = %q, want %q", got, core.ErrInvalidState)
	}
}

func TestCaptureFlowsToChannel(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.FrameSamples = 4 })
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.session.Stop()

	f.source.onSamples([]float32{0.5, 0.5, 0.5, 0.5, 0.5})

	f.ch.mu.Lock()
	sent := len(f.ch.sent)
	var mime string
	if sent > 0 {
		mime = f.ch.sent[0].MIME
	}
	f.ch.mu.Unlock()
	if sent != 1 {
		t.Fatalf("sent chunks = %d, want 1", sent)
	}
	if mime != "audio/pcm;rate=16000" {
		t.Errorf("chunk mime = %q", mime)
	}
}

func TestInboundEventsFanOut(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.ch.events <- channel.TranscriptEvent{Role: types.RoleAgent, Text: "Hel"}
	f.ch.events <- channel.TranscriptEvent{Role: types.RoleAgent, Text: "lo"}
	f.ch.events <- channel.TranscriptEvent{Role: types.RoleUser, Text: "Hi"}
	f.ch.events <- channel.AudioEvent{Data: []byte{0x00, 0x10, 0x00, 0x10}}
	f.ch.events <- channel.TurnCompleteEvent{}
	f.ch.terminate(nil)

	events := drain(t, f.session)

	var entries []types.TranscriptEntry
	speakingRose := false
	for _, event := range events {
		switch e := event.(type) {
		case *TranscriptEntryEvent:
			entries = append(entries, e.Entry)
		case *SpeakingChangedEvent:
			if e.Speaking {
				speakingRose = true
			}
		}
	}

	if len(entries) != 2 {
		t.Fatalf("transcript entries = %+v, want user then agent", entries)
	}
	if entries[0].Role != types.RoleUser || entries[0].Text != "Hi" {
		t.Errorf("entry[0] = %+v", entries[0])
	}
	if entries[1].Role != types.RoleAgent || entries[1].Text != "Hello" {
		t.Errorf("entry[1] = %+v", entries[1])
	}
	if !speakingRose {
		t.Errorf("agent audio never raised the speaking signal")
	}

	writes, _ := f.sink.stats()
	if writes != 1 {
		t.Errorf("sink writes = %d, want 1", writes)
	}
	if history := f.session.Transcript(); len(history) != 2 {
		t.Errorf("history = %+v", history)
	}
	if f.session.State() != StateIdle {
		t.Errorf("clean close should land in IDLE, got %s", f.session.State())
	}
}

func TestInterruptionStopsPlayback(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A long chunk keeps the unit in flight until the interruption.
	f.ch.events <- channel.AudioEvent{Data: make([]byte, 48000)}
	f.ch.events <- channel.InterruptedEvent{}
	f.ch.terminate(nil)
	drain(t, f.session)

	if f.session.Speaking() {
		t.Errorf("speaking must drop on interruption")
	}
	_, flushes := f.sink.stats()
	if flushes == 0 {
		t.Errorf("interruption must flush the sink")
	}
}

func TestMalformedAudioIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.ch.events <- channel.AudioEvent{Data: []byte{0x01}}
	f.ch.events <- channel.AudioEvent{Data: []byte{0x00, 0x10}}
	f.ch.terminate(nil)
	drain(t, f.session)

	writes, _ := f.sink.stats()
	if writes != 1 {
		t.Errorf("sink writes = %d, want only the valid chunk", writes)
	}
	if f.session.State() != StateIdle {
		t.Errorf("decode errors must not abort the session, state = %s", f.session.State())
	}
}

func TestChannelErrorMovesToErrored(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.ch.terminate(core.NewChannelError("transport failed", nil))
	events := drain(t, f.session)

	if f.session.State() != StateErrored {
		t.Fatalf("state = %s, want ERROR", f.session.State())
	}
	var sawError bool
	for _, event := range events {
		if _, ok := event.(*ErrorEvent); ok {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("no error event surfaced")
	}
	if f.source.stopCount() != 1 {
		t.Errorf("capture device not released, stops = %d", f.source.stopCount())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := f.session.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.session.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if f.source.stopCount() != 1 {
		t.Errorf("source stops = %d, want 1", f.source.stopCount())
	}
	if !f.ch.isClosed() {
		t.Errorf("channel not released")
	}
	waitForState(t, f.session, StateIdle)
}

func TestStopBeforeStartIsSafe(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.session.Stop(); err != nil {
		t.Fatalf("Stop on idle session: %v", err)
	}
	if f.session.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", f.session.State())
	}
}

func TestClientDropsSessionThatFailedToStart(t *testing.T) {
	attempts := 0
	ch := newFakeChannel()
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Dial = func(context.Context, Config) (channel.Channel, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return ch, nil
	}
	client := NewClient(cfg, &fakeSource{}, &fakeSink{})

	if _, err := client.StartSession(context.Background()); err == nil {
		t.Fatalf("StartSession should surface the dial failure")
	}
	if client.Active() != nil {
		t.Errorf("a session that never ran must not be reported as active")
	}

	// The failed attempt does not block the next one.
	session, err := client.StartSession(context.Background())
	if err != nil {
		t.Fatalf("retry StartSession: %v", err)
	}
	defer client.StopSession()
	if client.Active() != session {
		t.Errorf("Active() should report the running session")
	}
}

func TestClientAllowsOneActiveSession(t *testing.T) {
	ch := newFakeChannel()
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Dial = func(context.Context, Config) (channel.Channel, error) {
		return ch, nil
	}
	client := NewClient(cfg, &fakeSource{}, &fakeSink{})

	first, err := client.StartSession(context.Background())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if _, err := client.StartSession(context.Background()); err == nil {
		t.Fatalf("second StartSession must be rejected while listening")
	} else if got := core.TypeOf(err); got != core.ErrInvalidState {
		t.Errorf("error type = %q, want %q", got, core.ErrInvalidState)
	}

	if err := client.StopSession(); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	waitForState(t, first, StateIdle)

	// After the first session finished, a fresh one may start.
	second := newFakeChannel()
	cfg2 := cfg
	cfg2.Dial = func(context.Context, Config) (channel.Channel, error) {
		return second, nil
	}
	client2 := NewClient(cfg2, &fakeSource{}, &fakeSink{})
	if _, err := client2.StartSession(context.Background()); err != nil {
		t.Fatalf("fresh StartSession: %v", err)
	}
	_ = client2.StopSession()
}
