// Package device binds the session core to real audio hardware: a
// malgo microphone as the capture source and an oto speaker as the
// playback sink.
package device

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/voxa-ai/voxa-live/pkg/core"
	"github.com/voxa-ai/voxa-live/pkg/core/audio"
)

// Microphone captures float samples from the default input device. It
// implements capture.Source.
type Microphone struct {
	ctx    *malgo.AllocatedContext
	format audio.Format

	mu     sync.Mutex
	device *malgo.Device
}

// NewMicrophone initializes the audio backend for the given capture
// format. Call Close when done with the device for good.
func NewMicrophone(format audio.Format) (*Microphone, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, core.NewPermissionError("audio backend unavailable", err)
	}
	return &Microphone{ctx: ctx, format: format}, nil
}

// Start opens the capture device and begins delivering float samples
// to the callback from the device thread.
func (m *Microphone) Start(onSamples func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return core.NewInvalidStateError("microphone already started")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(m.format.Channels)
	deviceConfig.SampleRate = uint32(m.format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			onSamples(floatSamples(pInputSamples))
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return core.NewPermissionError("microphone unavailable", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return core.NewPermissionError("microphone could not start", err)
	}
	m.device = device
	return nil
}

// Stop releases the capture device. Safe to call more than once.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}
	_ = m.device.Stop()
	m.device.Uninit()
	m.device = nil
	return nil
}

// Close stops the device and tears the audio backend down.
func (m *Microphone) Close() error {
	_ = m.Stop()
	return m.ctx.Uninit()
}

// floatSamples reinterprets the device's f32le byte stream.
func floatSamples(raw []byte) []float32 {
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
