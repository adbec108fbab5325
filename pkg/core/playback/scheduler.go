// Package playback schedules decoded agent audio on a gapless output
// timeline and exposes the "agent is speaking" signal.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxa-ai/voxa-live/pkg/core"
	"github.com/voxa-ai/voxa-live/pkg/core/audio"
)

// Sink is the audio output device. Write appends PCM to the device
// buffer for immediate, gapless playout; Flush discards everything
// buffered but not yet played.
type Sink interface {
	Write(pcm []byte) error
	Flush()
}

// Config configures a Scheduler.
type Config struct {
	// Format is the inbound decoding profile. Defaults to the 24 kHz
	// mono output profile.
	Format audio.Format

	// OnSpeaking is invoked when the in-flight set transitions between
	// empty and non-empty, and unconditionally on interruption. It is
	// called with the scheduler's lock held; keep it cheap. Optional.
	OnSpeaking func(speaking bool)

	// Logger receives per-chunk warnings. Defaults to slog.Default.
	Logger *slog.Logger

	// now and afterFunc are replaceable for tests.
	now       func() time.Duration
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// unit is one scheduled playback buffer on the output timeline.
type unit struct {
	start time.Duration
	dur   time.Duration
	timer *time.Timer
}

// Scheduler owns the output timeline. Each buffer starts exactly where
// the previous one ends, so chunks arriving in bursts still play
// contiguously in arrival order.
type Scheduler struct {
	sink       Sink
	format     audio.Format
	onSpeaking func(bool)
	logger     *slog.Logger

	now       func() time.Duration
	afterFunc func(d time.Duration, fn func()) *time.Timer

	mu       sync.Mutex
	cursor   time.Duration
	inflight map[uuid.UUID]*unit
	stopped  bool
}

// NewScheduler creates a scheduler writing to sink. The output clock
// starts at zero when the scheduler is created.
func NewScheduler(sink Sink, cfg Config) (*Scheduler, error) {
	if sink == nil {
		return nil, core.NewConfigurationError("playback sink must not be nil")
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.OutputFormat()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		epoch := time.Now()
		cfg.now = func() time.Duration { return time.Since(epoch) }
	}
	if cfg.afterFunc == nil {
		cfg.afterFunc = time.AfterFunc
	}
	return &Scheduler{
		sink:       sink,
		format:     cfg.Format,
		onSpeaking: cfg.OnSpeaking,
		logger:     cfg.Logger,
		now:        cfg.now,
		afterFunc:  cfg.afterFunc,
		inflight:   make(map[uuid.UUID]*unit),
	}, nil
}

// Schedule decodes one inbound PCM chunk and queues it immediately
// after whatever is already queued. A malformed chunk returns a decode
// error and changes nothing.
func (s *Scheduler) Schedule(pcm []byte) error {
	buf, err := audio.DecodeSampleBuffer(pcm, s.format)
	if err != nil {
		return core.NewDecodeError("undecodable audio chunk", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return core.NewInvalidStateError("playback scheduler is stopped")
	}

	// The timeline advances only for audio the sink accepted; a dropped
	// chunk must not leave a gap before the next one.
	if err := s.sink.Write(buf.PCM16()); err != nil {
		s.logger.Warn("dropping playback chunk", "error", err)
		return nil
	}

	start := s.now()
	if s.cursor > start {
		start = s.cursor
	}
	dur := buf.Duration()
	s.cursor = start + dur

	id := uuid.New()
	u := &unit{start: start, dur: dur}
	wasEmpty := len(s.inflight) == 0
	s.inflight[id] = u
	u.timer = s.afterFunc(s.cursor-s.now(), func() { s.complete(id) })
	if wasEmpty && s.onSpeaking != nil {
		s.onSpeaking(true)
	}
	return nil
}

// complete removes a naturally finished unit from the in-flight set.
func (s *Scheduler) complete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[id]; !ok {
		return
	}
	delete(s.inflight, id)
	if len(s.inflight) == 0 && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// Interrupt stops every in-flight unit, discards buffered output, and
// resets the cursor to the current output-clock time. The speaking
// signal drops regardless of whether anything was playing.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
}

func (s *Scheduler) interruptLocked() {
	for id, u := range s.inflight {
		if u.timer != nil {
			u.timer.Stop()
		}
		delete(s.inflight, id)
	}
	s.sink.Flush()
	s.cursor = s.now()
	if s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// Stop interrupts playback and refuses further scheduling. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.interruptLocked()
}

// Speaking reports whether any unit is currently in flight.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight) > 0
}

// Cursor returns the next available playback start offset on the
// output clock.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
