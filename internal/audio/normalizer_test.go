package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-scribe/internal/capability"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/staging"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixedCaps map[string]bool

func (c fixedCaps) Available(name string) bool { return c[name] }

type countingStager struct {
	calls int
	err   error
	inner Stager
}

func (s *countingStager) With(data []byte, fn func(string) error) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	return s.inner.With(data, fn)
}

func newNormalizer(t *testing.T, command string, caps Capabilities, stager Stager) *Normalizer {
	t.Helper()
	if command == "" {
		command = "ffmpeg"
	}
	if stager == nil {
		s, err := staging.New(config.StagingConfig{Dir: t.TempDir()}, newLogger())
		if err != nil {
			t.Fatalf("staging: %v", err)
		}
		stager = s
	}
	n, err := NewNormalizer(config.AudioConfig{FFmpegCommand: command, MaxInputBytes: 8 << 20}, stager, caps, newLogger())
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	return n
}

func makeWAV(t *testing.T, rate, channels, depth int, seconds float64, sample func(frame, ch int) int) []byte {
	t.Helper()
	frames := int(seconds * float64(rate))
	data := make([]int, 0, frames*channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			data = append(data, sample(i, c))
		}
	}
	out := &writeSeeker{}
	enc := wav.NewEncoder(out, rate, depth, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: depth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}
	return out.Bytes()
}

func tone(rate int) func(frame, ch int) int {
	return func(frame, ch int) int {
		return int(8000 * math.Sin(2*math.Pi*440*float64(frame)/float64(rate)))
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func within(got, want, tolerance int) bool {
	d := got - want
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

func TestNormalizeSingleWAV(t *testing.T) {
	n := newNormalizer(t, "", fixedCaps{}, nil)
	input := makeWAV(t, 44100, 2, 16, 1.0, tone(44100))

	out, err := n.NormalizeSingle(context.Background(), input)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	format, err := Inspect(out)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if format.SampleRate != SampleRate || format.Channels != 1 || format.BitDepth != 16 {
		t.Fatalf("unexpected format %+v", format)
	}
	if !within(format.Frames, 16000, 200) {
		t.Fatalf("expected about 16000 frames, got %d", format.Frames)
	}
}

func TestNormalizeAndConcatenateEmpty(t *testing.T) {
	n := newNormalizer(t, "", fixedCaps{}, nil)
	out, err := n.NormalizeAndConcatenate(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(out))
	}
}

func TestNormalizeAndConcatenateJoinsSegmentsInOrder(t *testing.T) {
	n := newNormalizer(t, "", fixedCaps{}, nil)
	first := makeWAV(t, 44100, 2, 16, 2.0, tone(44100))
	second := makeWAV(t, 44100, 2, 16, 1.5, func(frame, ch int) int { return 1000 })
	ctx := context.Background()

	joined, err := n.NormalizeAndConcatenate(ctx, [][]byte{first, second})
	if err != nil {
		t.Fatalf("concatenate: %v", err)
	}
	format, err := Inspect(joined)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if format.SampleRate != SampleRate || format.Channels != 1 {
		t.Fatalf("unexpected format %+v", format)
	}
	if !within(format.Frames, 56000, 400) {
		t.Fatalf("expected about 3.5s of audio, got %d frames", format.Frames)
	}

	var want []int16
	for _, seg := range [][]byte{first, second} {
		single, err := n.NormalizeAndConcatenate(ctx, [][]byte{seg})
		if err != nil {
			t.Fatalf("normalize segment: %v", err)
		}
		samples, err := Samples(single)
		if err != nil {
			t.Fatalf("samples: %v", err)
		}
		want = append(want, samples...)
	}
	got, err := Samples(joined)
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d differs: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestNormalizeAndConcatenateReportsBadSegment(t *testing.T) {
	n := newNormalizer(t, "", fixedCaps{}, nil)
	good := makeWAV(t, 16000, 1, 16, 0.5, tone(16000))

	_, err := n.NormalizeAndConcatenate(context.Background(), [][]byte{good, []byte("not audio at all")})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decodeErr.Segment != 1 {
		t.Fatalf("expected segment 1, got %d", decodeErr.Segment)
	}
}

func TestNormalizeSingleScales24Bit(t *testing.T) {
	n := newNormalizer(t, "", fixedCaps{}, nil)
	input := makeWAV(t, 16000, 1, 24, 0.1, func(frame, ch int) int {
		if frame%2 == 0 {
			return 1 << 20
		}
		return -(1 << 20)
	})

	out, err := n.NormalizeSingle(context.Background(), input)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	samples, err := Samples(out)
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(samples) != 1600 {
		t.Fatalf("expected 1600 samples, got %d", len(samples))
	}
	if samples[0] != 4096 || samples[1] != -4096 {
		t.Fatalf("unexpected scaled samples %d %d", samples[0], samples[1])
	}
}

func TestNormalizeSingleWithoutFFmpegIsDecodeError(t *testing.T) {
	stager := &countingStager{}
	n := newNormalizer(t, "", fixedCaps{capability.CodecFFmpeg: false}, stager)

	_, err := n.NormalizeSingle(context.Background(), []byte("ID3\x03\x00\x00\x00garbage mp3 payload"))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decodeErr.Segment != -1 {
		t.Fatalf("expected no segment index, got %d", decodeErr.Segment)
	}
	if stager.calls != 0 {
		t.Fatalf("expected nothing staged, got %d", stager.calls)
	}
}

func TestNormalizeSingleEmptyInput(t *testing.T) {
	n := newNormalizer(t, "", fixedCaps{}, nil)
	_, err := n.NormalizeSingle(context.Background(), nil)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestNormalizeSingleRejectsOversizedInput(t *testing.T) {
	n := newNormalizer(t, "", fixedCaps{}, nil)
	n.maxInput = 16
	_, err := n.NormalizeSingle(context.Background(), make([]byte, 17))
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestNormalizeSingleUsesFFmpeg(t *testing.T) {
	script := writeScript(t, `printf '\001\000\002\000\375\377'`)
	inner, err := staging.New(config.StagingConfig{Dir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("staging: %v", err)
	}
	stager := &countingStager{inner: inner}
	n := newNormalizer(t, script, fixedCaps{capability.CodecFFmpeg: true}, stager)

	out, err := n.NormalizeSingle(context.Background(), []byte("ID3\x03\x00\x00\x00fake mp3"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	samples, err := Samples(out)
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(samples) != 3 || samples[0] != 1 || samples[1] != 2 || samples[2] != -3 {
		t.Fatalf("unexpected samples %v", samples)
	}
	if stager.calls != 1 {
		t.Fatalf("expected input staged once, got %d", stager.calls)
	}
	leftovers, _ := filepath.Glob(filepath.Join(inner.Dir(), "*"))
	if len(leftovers) != 0 {
		t.Fatalf("expected staged input removed, found %v", leftovers)
	}
}

func TestNormalizeSingleFFmpegFailure(t *testing.T) {
	script := writeScript(t, `echo "Invalid data found when processing input" >&2; exit 1`)
	n := newNormalizer(t, script, fixedCaps{capability.CodecFFmpeg: true}, nil)

	_, err := n.NormalizeSingle(context.Background(), []byte("definitely not media"))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected ffmpeg stderr in error, got %v", err)
	}
}

func TestNormalizeSingleStorageErrorIsNotDecodeError(t *testing.T) {
	stager := &countingStager{err: &staging.StorageError{Op: "create", Err: os.ErrPermission}}
	n := newNormalizer(t, "", fixedCaps{capability.CodecFFmpeg: true}, stager)

	_, err := n.NormalizeSingle(context.Background(), []byte("ID3\x03\x00\x00\x00fake mp3"))
	var storageErr *staging.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		t.Fatalf("storage failure must not be reported as a decode error")
	}
}

func TestToMonoAverages(t *testing.T) {
	mono := toMono([]int16{100, 300, -50, 50, 7, 8}, 2)
	want := []int16{200, 0, 7}
	for i := range want {
		if mono[i] != want[i] {
			t.Fatalf("frame %d: got %d want %d", i, mono[i], want[i])
		}
	}
}

func TestParseCommand(t *testing.T) {
	args, err := ParseCommand(`ffmpeg -hide_banner -loglevel "error"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(args) != 4 || args[3] != "error" {
		t.Fatalf("unexpected args %v", args)
	}
	if _, err := ParseCommand("   "); err == nil {
		t.Fatal("expected empty command to fail")
	}
}

func TestDecodeOggOpusRejectsGarbage(t *testing.T) {
	if _, err := decodeOggOpus([]byte("OggS but not really a stream")); err == nil {
		t.Fatal("expected error for malformed ogg data")
	}
}

func TestTrimSilenceDropsZeroTail(t *testing.T) {
	raw := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00}
	got := trimSilence(raw)
	if len(got) != 2 || got[0] != 1 || got[1] != -1 {
		t.Fatalf("unexpected samples %v", got)
	}
}
