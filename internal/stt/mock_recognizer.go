package stt

import (
	"context"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-scribe/internal/audio"
)

type mockRecognizer struct {
	name string
}

// NewMockRecognizer describes the audio it was given instead of recognizing
// it. Silent-length (zero frame) audio is reported as unintelligible.
func NewMockRecognizer(name string) Recognizer {
	return &mockRecognizer{name: name}
}

func (m *mockRecognizer) Name() string { return m.name }

func (m *mockRecognizer) Close() error { return nil }

func (m *mockRecognizer) Recognize(_ context.Context, wavPath string, language string) (string, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	format, err := audio.Inspect(data)
	if err != nil {
		return "", err
	}
	if format.Frames == 0 {
		return "", ErrUnintelligible
	}
	if language == "" {
		language = "default"
	}
	return fmt.Sprintf("[%s transcript language=%s duration=%.2fs]", m.name, language, format.Duration().Seconds()), nil
}
