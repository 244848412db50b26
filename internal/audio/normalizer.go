// Package audio converts recordings and uploads into the canonical format
// recognizers accept: 16 kHz, mono, 16-bit PCM WAV.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"
	"github.com/zeozeozeo/gomplerate"

	"github.com/loqalabs/loqa-scribe/internal/capability"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/staging"
)

// DecodeError reports input that could not be decoded as audio. Segment is
// the zero-based index of the offending recording, or -1 for a single input.
type DecodeError struct {
	Segment int
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Segment >= 0 {
		return fmt.Sprintf("cannot decode audio segment %d: %v", e.Segment, e.Err)
	}
	return fmt.Sprintf("cannot decode audio: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Stager stages bytes to a file for the duration of fn.
type Stager interface {
	With(data []byte, fn func(path string) error) error
}

// Capabilities reports whether an optional collaborator is usable.
type Capabilities interface {
	Available(name string) bool
}

type Normalizer struct {
	log      *slog.Logger
	ffmpeg   []string
	maxInput int64
	stager   Stager
	caps     Capabilities
}

func NewNormalizer(cfg config.AudioConfig, stager Stager, caps Capabilities, log *slog.Logger) (*Normalizer, error) {
	args, err := ParseCommand(cfg.FFmpegCommand)
	if err != nil {
		return nil, err
	}
	return &Normalizer{
		log:      log.With(slog.String("component", "audio-normalizer")),
		ffmpeg:   args,
		maxInput: cfg.MaxInputBytes,
		stager:   stager,
		caps:     caps,
	}, nil
}

// NormalizeSingle converts one container of any supported format. WAV is
// decoded natively; everything else goes through ffmpeg when it is available.
func (n *Normalizer) NormalizeSingle(ctx context.Context, data []byte) ([]byte, error) {
	samples, err := n.decode(ctx, data)
	if err != nil {
		var storageErr *staging.StorageError
		if errors.As(err, &storageErr) {
			return nil, err
		}
		return nil, &DecodeError{Segment: -1, Err: err}
	}
	out, err := encodeWAV(samples)
	if err != nil {
		return nil, &DecodeError{Segment: -1, Err: err}
	}
	return out, nil
}

// NormalizeAndConcatenate converts each recorded WAV segment and joins them
// in order. An empty list yields an empty result.
func (n *Normalizer) NormalizeAndConcatenate(ctx context.Context, segments [][]byte) ([]byte, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	var joined []int16
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := n.checkSize(seg); err != nil {
			return nil, &DecodeError{Segment: i, Err: err}
		}
		p, err := decodeWAV(seg)
		if err != nil {
			return nil, &DecodeError{Segment: i, Err: err}
		}
		samples, err := toCanonical(p)
		if err != nil {
			return nil, &DecodeError{Segment: i, Err: err}
		}
		joined = append(joined, samples...)
	}
	out, err := encodeWAV(joined)
	if err != nil {
		return nil, &DecodeError{Segment: -1, Err: err}
	}
	n.log.Debug("concatenated segments",
		slog.Int("segments", len(segments)),
		slog.Int("frames", len(joined)))
	return out, nil
}

func (n *Normalizer) decode(ctx context.Context, data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, errors.New("input is empty")
	}
	if err := n.checkSize(data); err != nil {
		return nil, err
	}
	mtype := mimetype.Detect(data)
	if mtype.Is("audio/wav") {
		p, err := decodeWAV(data)
		if err == nil {
			return toCanonical(p)
		}
		if !n.ffmpegAvailable() {
			return nil, err
		}
		n.log.Debug("native wav decode failed, trying ffmpeg", slog.String("error", err.Error()))
	}
	if !n.ffmpegAvailable() {
		if mtype.Is("audio/ogg") {
			p, err := decodeOggOpus(data)
			if err != nil {
				return nil, fmt.Errorf("ogg decode without ffmpeg: %w", err)
			}
			return toCanonical(p)
		}
		return nil, fmt.Errorf("ffmpeg is not available to decode %s", mtype.String())
	}

	var samples []int16
	err := n.stager.With(data, func(path string) error {
		decoded, err := runFFmpeg(ctx, n.ffmpeg, path)
		if err != nil {
			return err
		}
		samples = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no audio samples in %s input", mtype.String())
	}
	return samples, nil
}

func (n *Normalizer) ffmpegAvailable() bool {
	return n.caps != nil && n.caps.Available(capability.CodecFFmpeg)
}

func (n *Normalizer) checkSize(data []byte) error {
	if n.maxInput > 0 && int64(len(data)) > n.maxInput {
		return fmt.Errorf("input of %d bytes exceeds limit of %d", len(data), n.maxInput)
	}
	return nil
}

func toCanonical(p pcm) ([]int16, error) {
	mono := toMono(p.samples, p.channels)
	return resample(mono, p.sampleRate, SampleRate)
}

func toMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

func resample(samples []int16, from, to int) ([]int16, error) {
	if from == to || len(samples) == 0 {
		return samples, nil
	}
	if from <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", from)
	}
	r, err := gomplerate.NewResampler(1, from, to)
	if err != nil {
		return nil, fmt.Errorf("resampler %d->%d: %w", from, to, err)
	}
	return r.ResampleInt16(samples), nil
}
