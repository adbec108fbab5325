// Package capture turns a live microphone stream into fixed-size
// encoded audio chunks for the duplex channel.
package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voxa-ai/voxa-live/pkg/core"
	"github.com/voxa-ai/voxa-live/pkg/core/audio"
	"github.com/voxa-ai/voxa-live/pkg/core/channel"
)

// DefaultFrameSamples is 256ms of audio at the 16 kHz input profile.
const DefaultFrameSamples = 4096

// Source is a live audio input device. Start begins delivering float
// samples in [-1, 1] to the callback from the device's own goroutine;
// Stop ends delivery and releases the device.
type Source interface {
	Start(onSamples func(samples []float32)) error
	Stop() error
}

// Config configures a capture Pipeline.
type Config struct {
	// Format is the outbound encoding profile. Defaults to the 16 kHz
	// mono input profile.
	Format audio.Format

	// FrameSamples is the chunk size in samples. Defaults to
	// DefaultFrameSamples.
	FrameSamples int

	// Send forwards one encoded chunk to the duplex channel. Required.
	Send func(chunk channel.Chunk) error

	// Logger receives dropped-chunk warnings. Defaults to slog.Default.
	Logger *slog.Logger
}

// Pipeline accumulates captured samples and emits back-to-back
// fixed-size PCM chunks. Send failures are logged and the chunk is
// dropped; they never stop the pipeline.
type Pipeline struct {
	source Source
	format audio.Format
	frame  int
	send   func(chunk channel.Chunk) error
	logger *slog.Logger

	mu      sync.Mutex
	pending []float32

	stopped atomic.Bool
}

// NewPipeline creates a pipeline reading from source.
func NewPipeline(source Source, cfg Config) (*Pipeline, error) {
	if source == nil {
		return nil, core.NewConfigurationError("capture source must not be nil")
	}
	if cfg.Send == nil {
		return nil, core.NewConfigurationError("capture send hook must not be nil")
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.InputFormat()
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = DefaultFrameSamples
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		source: source,
		format: cfg.Format,
		frame:  cfg.FrameSamples,
		send:   cfg.Send,
		logger: cfg.Logger,
	}, nil
}

// Start begins capturing. The device failing to open surfaces as a
// permission error.
func (p *Pipeline) Start() error {
	if p.stopped.Load() {
		return core.NewInvalidStateError("capture pipeline already stopped")
	}
	if err := p.source.Start(p.push); err != nil {
		return core.NewPermissionError("microphone could not be started", err)
	}
	return nil
}

// push accumulates samples and cuts complete frames. Called from the
// device callback.
func (p *Pipeline) push(samples []float32) {
	if p.stopped.Load() {
		return
	}

	p.mu.Lock()
	p.pending = append(p.pending, samples...)
	var frames [][]float32
	for len(p.pending) >= p.frame {
		frame := make([]float32, p.frame)
		copy(frame, p.pending[:p.frame])
		p.pending = p.pending[p.frame:]
		frames = append(frames, frame)
	}
	p.mu.Unlock()

	for _, frame := range frames {
		p.emit(frame)
	}
}

func (p *Pipeline) emit(frame []float32) {
	chunk := channel.Chunk{
		Data: audio.QuantizePCM16(frame),
		MIME: p.format.MIME(),
	}
	if err := p.send(chunk); err != nil {
		// The channel may not be ready yet, or is going away. Either
		// way one lost chunk of microphone audio is recoverable.
		p.logger.Warn("dropping capture chunk", "bytes", len(chunk.Data), "error", err)
	}
}

// Stop releases the microphone. A trailing partial frame is discarded.
// Safe to call more than once.
func (p *Pipeline) Stop() error {
	if p.stopped.Swap(true) {
		return nil
	}
	err := p.source.Stop()

	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("capture source stop", "error", err)
	}
	return nil
}
