//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
)

type whisperRecognizer struct {
	cfg   config.OfflineConfig
	log   *slog.Logger
	mu    sync.Mutex
	model whisper.Model
}

// NewWhisperRecognizer loads the whisper.cpp model once; each request gets a
// fresh context on that model.
func NewWhisperRecognizer(cfg config.OfflineConfig, log *slog.Logger) (Recognizer, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("whisper model_path not configured")
	}
	log = log.With(slog.String("component", "stt-whisper"))
	log.Info("loading whisper model", slog.String("path", cfg.ModelPath))
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	log.Info("whisper model loaded", slog.Bool("multilingual", model.IsMultilingual()))
	return &whisperRecognizer{cfg: cfg, log: log, model: model}, nil
}

func (w *whisperRecognizer) Name() string { return "whisper" }

func (w *whisperRecognizer) Recognize(ctx context.Context, wavPath string, _ string) (string, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	samples, err := audio.Float32Samples(data)
	if err != nil {
		return "", fmt.Errorf("read samples: %w", err)
	}
	if len(samples) == 0 {
		return "", ErrUnintelligible
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create whisper context: %w", err)
	}
	if w.cfg.Language != "" {
		if err := wctx.SetLanguage(w.cfg.Language); err != nil {
			w.log.Warn("failed to set language",
				slog.String("language", w.cfg.Language),
				slog.String("error", err.Error()))
		}
	}
	if w.cfg.Threads > 0 {
		wctx.SetThreads(w.cfg.Threads)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper process: %w", err)
	}

	var text strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		text.WriteString(segment.Text)
	}
	result := strings.TrimSpace(text.String())
	if result == "" {
		return "", ErrUnintelligible
	}
	return result, nil
}

func (w *whisperRecognizer) Close() error {
	return w.model.Close()
}
