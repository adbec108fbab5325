package device

import (
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/voxa-ai/voxa-live/pkg/core"
	"github.com/voxa-ai/voxa-live/pkg/core/audio"
)

// Speaker plays PCM through the default output device. It implements
// playback.Sink: writes are buffered and pulled by the player, Flush
// drops everything that has not reached the hardware yet.
type Speaker struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	gen     uint64
	player  *oto.Player
	playing bool
	closed  bool
}

// NewSpeaker initializes the output device for the given playback
// format. The buffer is kept small for low interruption latency.
func NewSpeaker(format audio.Format) (*Speaker, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms of device buffer: anything larger keeps playing
		// noticeably after an interruption.
		BufferSize: format.BytesFor(100 * time.Millisecond),
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, core.NewPermissionError("speaker unavailable", err)
	}
	<-ready

	s := &Speaker{
		otoCtx: otoCtx,
		buf:    make([]byte, 0, format.BytesPerSecond()*2),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Write appends PCM for immediate playout. The player starts lazily on
// the first write.
func (s *Speaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.NewInvalidStateError("speaker is closed")
	}

	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read implements io.Reader for the player pull loop. A read that was
// pending across a Flush belongs to the retired player: it must not
// consume audio written afterwards, so it returns silence instead.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.gen
	for len(s.buf) == 0 && !s.closed && gen == s.gen {
		s.cond.Wait()
	}
	if gen != s.gen || (s.closed && len(s.buf) == 0) {
		// Silence lets the retired player drain gracefully.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards all pending audio and stops the current player so the
// next write starts clean. Bumping the generation wakes any read still
// parked on behalf of the old player and retires it, so it cannot
// swallow the first chunk written after the flush.
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.gen++
	s.cond.Broadcast()

	if s.player != nil && s.playing {
		s.playing = false
		player := s.player
		s.player = nil
		s.mu.Unlock()

		// Pause first so audio stops instantly, then reset to drop the
		// device's own buffer.
		player.Pause()
		player.Reset()
		player.Close()
		return
	}
	s.mu.Unlock()
}

// Close releases the output device. Safe to call more than once.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
	return nil
}
