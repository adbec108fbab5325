package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

// EncodeToString encodes raw PCM bytes for text-safe wire transport.
func EncodeToString(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeString decodes text-safe wire payload back to raw PCM bytes.
func DecodeString(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}

// QuantizePCM16 converts float samples in [-1, 1] to 16-bit signed
// little-endian PCM. Out-of-range samples are clamped.
func QuantizePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		v := int16(sample * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// SampleBuffer is one decoded playback buffer: float samples at a fixed
// rate, ready for scheduling on the output timeline.
type SampleBuffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// DecodeSampleBuffer decodes a raw 16-bit signed little-endian PCM byte
// buffer into a SampleBuffer at the format's rate. It returns an error
// for empty or odd-length input; such chunks are malformed and must be
// skipped by the caller rather than scheduled.
func DecodeSampleBuffer(pcm []byte, f Format) (*SampleBuffer, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty PCM payload")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("odd PCM payload length %d", len(pcm))
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(v) / 32768.0
	}
	channels := f.Channels
	if channels == 0 {
		channels = 1
	}
	return &SampleBuffer{
		Samples:    samples,
		SampleRate: f.SampleRate,
		Channels:   channels,
	}, nil
}

// Duration returns the play time of the buffer.
func (b *SampleBuffer) Duration() time.Duration {
	if b.SampleRate == 0 || b.Channels == 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// PCM16 re-encodes the buffer as 16-bit signed little-endian PCM.
func (b *SampleBuffer) PCM16() []byte {
	return QuantizePCM16(b.Samples)
}
