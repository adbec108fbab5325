package live

import (
	"context"
	"log/slog"

	"github.com/voxa-ai/voxa-live/pkg/core"
	"github.com/voxa-ai/voxa-live/pkg/core/audio"
	"github.com/voxa-ai/voxa-live/pkg/core/capture"
	"github.com/voxa-ai/voxa-live/pkg/core/channel"
	"github.com/voxa-ai/voxa-live/pkg/core/channel/gemini"
)

// Config holds all configuration for a live session.
type Config struct {
	// APIKey authenticates against the remote agent service. Required
	// unless a custom Dial is provided.
	APIKey string `json:"api_key"`

	// Model is the remote agent model name.
	Model string `json:"model"`

	// SystemPrompt steers the agent for the whole session.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Voice selects the agent's voice.
	Voice string `json:"voice,omitempty"`

	// InputFormat is the microphone/outbound profile. Default: 16 kHz mono.
	InputFormat audio.Format `json:"input_format"`

	// OutputFormat is the agent-audio/inbound profile. Default: 24 kHz mono.
	OutputFormat audio.Format `json:"output_format"`

	// FrameSamples is the capture chunk size in samples. Default: 4096
	// (256ms at 16 kHz).
	FrameSamples int `json:"frame_samples"`

	// Dial opens the duplex channel. Defaults to the Gemini Live
	// transport; tests substitute their own.
	Dial func(ctx context.Context, cfg Config) (channel.Channel, error) `json:"-"`

	// Logger receives session logs. Defaults to slog.Default.
	Logger *slog.Logger `json:"-"`
}

// DefaultConfig returns a Config with the fixed wire profiles filled in.
func DefaultConfig() Config {
	return Config{
		Model:        gemini.DefaultModel,
		Voice:        gemini.DefaultVoice,
		InputFormat:  audio.InputFormat(),
		OutputFormat: audio.OutputFormat(),
		FrameSamples: capture.DefaultFrameSamples,
	}
}

// withDefaults fills zero values without mutating the receiver.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Voice == "" {
		c.Voice = def.Voice
	}
	if c.InputFormat == (audio.Format{}) {
		c.InputFormat = def.InputFormat
	}
	if c.OutputFormat == (audio.Format{}) {
		c.OutputFormat = def.OutputFormat
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = def.FrameSamples
	}
	if c.Dial == nil {
		c.Dial = dialGemini
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate reports the first configuration problem, if any.
func (c Config) Validate() error {
	if c.APIKey == "" && c.Dial == nil {
		return core.NewConfigurationError("API key is not set (export GEMINI_API_KEY)")
	}
	return nil
}

func dialGemini(ctx context.Context, cfg Config) (channel.Channel, error) {
	return gemini.Dial(ctx, gemini.Config{
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Voice:        cfg.Voice,
		Logger:       cfg.Logger,
	})
}
