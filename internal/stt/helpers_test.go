package stt

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/staging"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixedCaps map[string]bool

func (c fixedCaps) Available(name string) bool { return c[name] }

// countingStager wraps a real stager and remembers every staged path.
type countingStager struct {
	inner *staging.Stager
	mu    sync.Mutex
	paths []string
}

func newCountingStager(t *testing.T) *countingStager {
	t.Helper()
	s, err := staging.New(config.StagingConfig{Dir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("staging: %v", err)
	}
	return &countingStager{inner: s}
}

func (s *countingStager) With(data []byte, fn func(string) error) error {
	return s.inner.With(data, func(path string) error {
		s.mu.Lock()
		s.paths = append(s.paths, path)
		s.mu.Unlock()
		return fn(path)
	})
}

func (s *countingStager) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

type brokenStager struct{}

func (brokenStager) With([]byte, func(string) error) error {
	return &staging.StorageError{Op: "create", Err: os.ErrPermission}
}

type fakeRecognizer struct {
	name    string
	text    string
	err     error
	panics  bool
	inspect func(path string)

	mu        sync.Mutex
	calls     int
	languages []string
}

func (f *fakeRecognizer) Name() string { return f.name }

func (f *fakeRecognizer) Close() error { return nil }

func (f *fakeRecognizer) Recognize(_ context.Context, path string, language string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.languages = append(f.languages, language)
	f.mu.Unlock()
	if f.inspect != nil {
		f.inspect(path)
	}
	if f.panics {
		panic("engine crashed")
	}
	return f.text, f.err
}

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// makeWAV encodes a constant-valued 16-bit PCM clip.
func makeWAV(t *testing.T, rate, channels int, seconds float64, value int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	frames := int(seconds * float64(rate))
	data := make([]int, frames*channels)
	for i := range data {
		data[i] = value
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}
	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return out
}

func assertRemoved(t *testing.T, paths []string) {
	t.Helper()
	for _, p := range paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("staged file %s still exists (stat err=%v)", p, err)
		}
	}
}
