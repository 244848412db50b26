package stt

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Probe matches capability.Probe.
type Probe = func() (bool, string)

// NewOnline builds the configured online recognizer and a probe describing
// how it authenticates.
func NewOnline(cfg config.OnlineConfig, log *slog.Logger) (Recognizer, Probe, error) {
	switch cfg.Provider {
	case "google":
		detail := "google: application default credentials"
		switch {
		case cfg.APIKey != "":
			detail = "google: api key"
		case cfg.CredentialsFile != "":
			detail = "google: credentials file"
		case os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "":
			detail = "google: GOOGLE_APPLICATION_CREDENTIALS"
		}
		return NewGoogleRecognizer(cfg, log), fixed(true, detail), nil
	case "openai":
		r, err := NewOpenAIRecognizer(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return r, fixed(true, "openai: "+r.(*openAIRecognizer).model), nil
	case "mock":
		return NewMockRecognizer("online-mock"), fixed(true, "mock"), nil
	default:
		return nil, nil, fmt.Errorf("unknown online provider %q", cfg.Provider)
	}
}

// NewOffline builds the configured offline recognizer. An engine that cannot
// be loaded is not an error: the recognizer is nil and the probe reports why.
func NewOffline(cfg config.OfflineConfig, log *slog.Logger) (Recognizer, Probe, error) {
	switch cfg.Mode {
	case "whisper":
		r, err := NewWhisperRecognizer(cfg, log)
		if err != nil {
			if !errors.Is(err, ErrEngineNotInstalled) {
				log.Warn("offline engine unavailable", slog.String("error", err.Error()))
			}
			return nil, fixed(false, err.Error()), nil
		}
		return r, fixed(true, "whisper: "+cfg.ModelPath), nil
	case "exec":
		r, err := NewExecRecognizer(cfg)
		if err != nil {
			return nil, nil, err
		}
		return r, ExecProbe(cfg.Command), nil
	case "mock":
		return NewMockRecognizer("offline-mock"), fixed(true, "mock"), nil
	case "none":
		return nil, fixed(false, "offline engine disabled"), nil
	default:
		return nil, nil, fmt.Errorf("unknown offline mode %q", cfg.Mode)
	}
}

func fixed(available bool, detail string) Probe {
	return func() (bool, string) { return available, detail }
}
