// Command voxa-live holds a spoken conversation with the remote agent
// from the terminal: it streams the default microphone up, plays the
// agent's voice back, and prints the transcript as turns complete.
//
// Usage:
//
//	go run ./cmd/voxa-live
//
// Environment variables:
//
//	GEMINI_API_KEY    - Required
//	VOXA_ARCHIVE_DSN  - Optional Postgres DSN for transcript archiving
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxa-ai/voxa-live/pkg/core/audio"
	"github.com/voxa-ai/voxa-live/pkg/core/live"
	"github.com/voxa-ai/voxa-live/pkg/core/types"
	"github.com/voxa-ai/voxa-live/pkg/device"
	"github.com/voxa-ai/voxa-live/pkg/store/postgres"
)

func main() {
	_ = godotenv.Load()

	model := flag.String("model", "", "remote agent model (default: the live default)")
	voice := flag.String("voice", "", "agent voice name")
	system := flag.String("system", "You are in a live voice call. Keep replies short and conversational.", "system prompt")
	archiveDSN := flag.String("archive", os.Getenv("VOXA_ARCHIVE_DSN"), "Postgres DSN for transcript archiving")
	debug := flag.Bool("debug", false, "verbose logging and a live mic level meter")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "GEMINI_API_KEY is not set; export it or add it to .env")
		os.Exit(1)
	}

	if err := run(logger, *model, *voice, *system, *archiveDSN, *debug); err != nil {
		logger.Error("session ended", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, model, voice, system, archiveDSN string, debug bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mic, err := device.NewMicrophone(audio.InputFormat())
	if err != nil {
		return err
	}
	defer mic.Close()

	speaker, err := device.NewSpeaker(audio.OutputFormat())
	if err != nil {
		return err
	}
	defer speaker.Close()

	var archive *postgres.Store
	if archiveDSN != "" {
		archive, err = postgres.Open(ctx, archiveDSN)
		if err != nil {
			return err
		}
		defer archive.Close()
		logger.Info("transcript archiving enabled")
	}

	cfg := live.DefaultConfig()
	cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	cfg.SystemPrompt = system
	cfg.Logger = logger
	if model != "" {
		cfg.Model = model
	}
	if voice != "" {
		cfg.Voice = voice
	}

	meter := newLevelMeter(mic)
	client := live.NewClient(cfg, meter, speaker)

	session, err := client.StartSession(ctx)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nhanging up...")
		_ = client.StopSession()
	}()

	if debug {
		go meter.report(ctx, logger)
	}

	fmt.Println("connected - start talking (ctrl-c to hang up)")

	for event := range session.Events() {
		switch e := event.(type) {
		case *live.StateChangedEvent:
			logger.Debug("state", "from", e.From.String(), "to", e.To.String())
		case *live.PartialTranscriptEvent:
			logger.Debug("partial", "role", e.Role, "text", e.Text)
		case *live.TranscriptEntryEvent:
			fmt.Printf("[%s] %s\n", e.Entry.Role, e.Entry.Text)
			if archive != nil {
				if err := archive.SaveEntries(ctx, session.ID(), []types.TranscriptEntry{e.Entry}); err != nil {
					logger.Warn("archive write failed", "error", err)
				}
			}
		case *live.SpeakingChangedEvent:
			if e.Speaking {
				fmt.Println("(agent speaking...)")
			}
		case *live.ErrorEvent:
			fmt.Fprintf(os.Stderr, "error: %v\n", e.Err)
		case *live.ClosedEvent:
			if e.Reason == "" {
				fmt.Println("call ended")
			}
		}
	}

	if session.State() == live.StateErrored {
		return fmt.Errorf("session ended with an error")
	}
	return nil
}

// levelMeter wraps the microphone to track input level for the debug
// display without touching the capture path.
type levelMeter struct {
	inner interface {
		Start(onSamples func([]float32)) error
		Stop() error
	}
	rms  atomic.Uint64
	peak atomic.Uint64
}

func newLevelMeter(inner *device.Microphone) *levelMeter {
	return &levelMeter{inner: inner}
}

func (m *levelMeter) Start(onSamples func([]float32)) error {
	return m.inner.Start(func(samples []float32) {
		pcm := audio.QuantizePCM16(samples)
		m.rms.Store(math.Float64bits(audio.RMSEnergy(pcm)))
		m.peak.Store(math.Float64bits(audio.PeakAmplitude(pcm)))
		onSamples(samples)
	})
}

func (m *levelMeter) Stop() error {
	return m.inner.Stop()
}

func (m *levelMeter) report(ctx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug("mic level",
				"rms", math.Float64frombits(m.rms.Load()),
				"peak", math.Float64frombits(m.peak.Load()))
		}
	}
}
