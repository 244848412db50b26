//go:build !whisper

package stt

import (
	"log/slog"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// NewWhisperRecognizer reports ErrEngineNotInstalled; build with -tags whisper
// and the whisper.cpp library to enable the engine.
func NewWhisperRecognizer(config.OfflineConfig, *slog.Logger) (Recognizer, error) {
	return nil, ErrEngineNotInstalled
}
