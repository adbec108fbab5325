// Package live orchestrates one spoken conversation: it owns the
// lifecycle state machine and wires the capture pipeline, the duplex
// channel, the playback scheduler, and the transcript aggregator
// together.
package live

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxa-ai/voxa-live/pkg/core"
	"github.com/voxa-ai/voxa-live/pkg/core/capture"
	"github.com/voxa-ai/voxa-live/pkg/core/channel"
	"github.com/voxa-ai/voxa-live/pkg/core/playback"
	"github.com/voxa-ai/voxa-live/pkg/core/transcript"
	"github.com/voxa-ai/voxa-live/pkg/core/types"
)

// Session is one call attempt. It exclusively owns its capture device,
// duplex channel, and output timeline, and is never reused: starting
// again always constructs a fresh Session.
type Session struct {
	cfg    Config
	logger *slog.Logger
	id     string

	source capture.Source
	sink   playback.Sink

	mu          sync.Mutex
	state       State
	ch          channel.Channel
	pipeline    *capture.Pipeline
	scheduler   *playback.Scheduler
	aggregator  *transcript.Aggregator
	loopStarted bool

	events       chan Event
	done         chan struct{}
	started      atomic.Bool
	stopping     atomic.Bool
	eventsClosed atomic.Bool
	finishOnce   sync.Once
}

// NewSession creates a session reading from source and playing through
// sink. The session starts in the idle state.
func NewSession(cfg Config, source capture.Source, sink playback.Sink) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
		id:     "live_" + uuid.NewString(),
		source: source,
		sink:   sink,
		state:  StateIdle,
		events: make(chan Event, 128),
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the session event stream. It closes when the session
// reaches a terminal state.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Transcript returns all finalized transcript entries so far.
func (s *Session) Transcript() []types.TranscriptEntry {
	s.mu.Lock()
	agg := s.aggregator
	s.mu.Unlock()
	if agg == nil {
		return nil
	}
	return agg.History()
}

// Speaking reports whether agent audio is currently in flight.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	sched := s.scheduler
	s.mu.Unlock()
	return sched != nil && sched.Speaking()
}

// Start opens the duplex channel and begins streaming microphone
// audio. It may be called at most once per Session; a second call is
// rejected rather than opening a second channel.
func (s *Session) Start(ctx context.Context) error {
	if s.stopping.Load() {
		return core.NewInvalidStateError("session already stopped")
	}
	if s.started.Swap(true) {
		return core.NewInvalidStateError("session already started")
	}

	if err := s.cfg.Validate(); err != nil {
		s.fail(err)
		return err
	}
	full := s.cfg.withDefaults()
	s.setState(StateConnecting)

	ch, err := full.Dial(ctx, full)
	if err != nil {
		chanErr := err
		if core.TypeOf(err) == "" {
			chanErr = core.NewChannelError("could not open the conversation channel", err)
		}
		s.fail(chanErr)
		return chanErr
	}

	scheduler, err := playback.NewScheduler(s.sink, playback.Config{
		Format: full.OutputFormat,
		OnSpeaking: func(speaking bool) {
			s.emit(&SpeakingChangedEvent{Speaking: speaking})
		},
		Logger: full.Logger,
	})
	if err != nil {
		_ = ch.Close()
		s.fail(err)
		return err
	}

	aggregator := transcript.NewAggregator(func(entry types.TranscriptEntry) {
		s.emit(&TranscriptEntryEvent{Entry: entry})
	})

	pipeline, err := capture.NewPipeline(s.source, capture.Config{
		Format:       full.InputFormat,
		FrameSamples: full.FrameSamples,
		Send:         ch.Send,
		Logger:       full.Logger,
	})
	if err != nil {
		_ = ch.Close()
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.ch = ch
	s.scheduler = scheduler
	s.aggregator = aggregator
	s.pipeline = pipeline
	s.mu.Unlock()

	if err := pipeline.Start(); err != nil {
		s.fail(err)
		return err
	}

	s.setState(StateListening)

	s.mu.Lock()
	s.loopStarted = true
	s.mu.Unlock()
	go s.eventLoop(ch)

	return nil
}

// eventLoop fans inbound channel events out to the scheduler and the
// aggregator. It runs until the channel's terminal event.
func (s *Session) eventLoop(ch channel.Channel) {
	for event := range ch.Events() {
		switch e := event.(type) {
		case channel.TranscriptEvent:
			s.aggregator.Append(e.Role, e.Text)
			s.emit(&PartialTranscriptEvent{Role: e.Role, Text: e.Text})
		case channel.AudioEvent:
			if err := s.scheduler.Schedule(e.Data); err != nil {
				// One bad chunk is skipped; the session keeps running.
				s.logger.Warn("skipping audio chunk", "session", s.id, "error", err)
			}
		case channel.TurnCompleteEvent:
			s.aggregator.CompleteTurn(time.Now())
		case channel.InterruptedEvent:
			s.scheduler.Interrupt()
		case channel.ClosedEvent:
			if e.Err != nil && !s.stopping.Load() {
				s.fail(e.Err)
			} else {
				s.finish(StateIdle, nil)
			}
		}
	}
	// The channel drained without a terminal event; treat it as an
	// orderly close.
	s.finish(StateIdle, nil)
}

// Stop tears the session down and returns once the capture device and
// playback timeline are released. Safe to call more than once and in
// any state.
func (s *Session) Stop() error {
	s.stopping.Store(true)
	s.teardown()

	s.mu.Lock()
	loopStarted := s.loopStarted
	s.mu.Unlock()
	if loopStarted {
		<-s.done
	} else {
		s.finish(StateIdle, nil)
	}

	// A user stop always lands in idle, even from the error state.
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	return nil
}

// fail tears down and parks the session in the error state.
func (s *Session) fail(err error) {
	s.logger.Error("session failed", "session", s.id, "error", err)
	s.finish(StateErrored, err)
}

// finish runs exactly once: teardown, final state, stream close.
func (s *Session) finish(final State, err error) {
	s.finishOnce.Do(func() {
		s.teardown()
		if err != nil {
			s.emit(&ErrorEvent{Err: err})
		}
		s.setState(final)
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		s.emit(&ClosedEvent{Reason: reason})
		s.eventsClosed.Store(true)
		close(s.events)
		close(s.done)
	})
}

// teardown releases the capture device, the playback timeline, and the
// channel, in that order. Idempotent; never panics on a resource that
// was already released.
func (s *Session) teardown() {
	s.mu.Lock()
	pipeline := s.pipeline
	scheduler := s.scheduler
	ch := s.ch
	s.mu.Unlock()

	if pipeline != nil {
		_ = pipeline.Stop()
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	if ch != nil {
		_ = ch.Close()
	}
}

func (s *Session) setState(newState State) {
	s.mu.Lock()
	oldState := s.state
	s.state = newState
	s.mu.Unlock()

	if oldState != newState {
		s.logger.Debug("session state", "session", s.id, "from", oldState.String(), "to", newState.String())
		s.emit(&StateChangedEvent{From: oldState, To: newState})
	}
}

// emit sends an event to the events channel without ever blocking the
// caller; a full buffer drops the event.
func (s *Session) emit(event Event) {
	if s.eventsClosed.Load() {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}
