// Package audio provides the codec utilities of the session core: PCM
// quantization, base64 wire encoding, and decoding raw PCM byte buffers
// into playable sample buffers.
package audio

import (
	"fmt"
	"time"
)

// Format specifies PCM audio parameters for one direction of the call.
type Format struct {
	// SampleRate in Hz.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: 16 for the fixed wire profiles.
	BitsPerSample int `json:"bits_per_sample"`
}

// InputFormat is the fixed microphone/outbound profile: 16 kHz mono s16le.
func InputFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// OutputFormat is the fixed agent-audio/inbound profile: 24 kHz mono s16le.
func OutputFormat() Format {
	return Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
}

// MIME returns the wire tag identifying the format and rate,
// for example "audio/pcm;rate=16000".
func (f Format) MIME() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// BytesPerSecond returns the PCM byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * (f.BitsPerSample / 8)
}

// Duration returns the play time of the given byte count.
func (f Format) Duration(bytes int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// BytesFor returns the byte count covering the given duration.
func (f Format) BytesFor(d time.Duration) int {
	return int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
}
