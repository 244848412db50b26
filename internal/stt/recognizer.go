package stt

import (
	"context"
	"errors"
)

var (
	// ErrUnintelligible is returned (possibly wrapped) when a backend heard
	// nothing it could turn into text.
	ErrUnintelligible = errors.New("speech not recognized")
	// ErrEngineNotInstalled is returned when the offline engine is not part of this build.
	ErrEngineNotInstalled = errors.New("offline engine not installed")
)

// Recognizer abstracts STT backends. wavPath points at canonical 16 kHz mono
// WAV; language is a BCP-47 tag that backends without localization ignore.
type Recognizer interface {
	Recognize(ctx context.Context, wavPath string, language string) (string, error)
	Name() string
	Close() error
}
