package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Canonical output format: what every recognizer receives.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

var errNotWAV = errors.New("not a valid WAV file")

// Format describes decoded WAV audio.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int
}

func (f Format) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Frames) * time.Second / time.Duration(f.SampleRate)
}

// pcm holds interleaved samples scaled to 16-bit.
type pcm struct {
	samples    []int16
	channels   int
	sampleRate int
}

// Inspect reads the header and counts frames of a WAV buffer.
func Inspect(data []byte) (Format, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Format{}, errNotWAV
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Format{}, fmt.Errorf("read pcm: %w", err)
	}
	channels := int(d.NumChans)
	frames := 0
	if channels > 0 {
		frames = len(buf.Data) / channels
	}
	return Format{
		SampleRate: int(d.SampleRate),
		Channels:   channels,
		BitDepth:   int(d.BitDepth),
		Frames:     frames,
	}, nil
}

// Samples decodes a canonical WAV buffer into mono 16-bit samples.
func Samples(data []byte) ([]int16, error) {
	p, err := decodeWAV(data)
	if err != nil {
		return nil, err
	}
	if p.channels != Channels || p.sampleRate != SampleRate {
		return nil, fmt.Errorf("expected %d Hz mono, got %d Hz with %d channels", SampleRate, p.sampleRate, p.channels)
	}
	return p.samples, nil
}

// Float32Samples decodes a canonical WAV buffer into samples normalized to [-1, 1].
func Float32Samples(data []byte) ([]float32, error) {
	samples, err := Samples(data)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}

func decodeWAV(data []byte) (pcm, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return pcm{}, errNotWAV
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return pcm{}, fmt.Errorf("unsupported WAV encoding %d (integer PCM only)", d.WavAudioFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return pcm{}, fmt.Errorf("read pcm: %w", err)
	}
	channels := int(d.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	if channels <= 0 {
		return pcm{}, errors.New("WAV header declares no channels")
	}

	samples := make([]int16, len(buf.Data))
	switch d.BitDepth {
	case 8:
		for i, v := range buf.Data {
			samples[i] = int16((v - 128) << 8)
		}
	case 16:
		for i, v := range buf.Data {
			samples[i] = int16(v)
		}
	case 24:
		for i, v := range buf.Data {
			samples[i] = int16(v >> 8)
		}
	case 32:
		for i, v := range buf.Data {
			samples[i] = int16(v >> 16)
		}
	default:
		return pcm{}, fmt.Errorf("unsupported bit depth %d", d.BitDepth)
	}
	return pcm{samples: samples, channels: channels, sampleRate: int(d.SampleRate)}, nil
}

func encodeWAV(samples []int16) ([]byte, error) {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}

	out := &writeSeeker{}
	enc := wav.NewEncoder(out, SampleRate, BitDepth, Channels, wavFormatPCM)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes when it closes.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(next)
	return next, nil
}

func (w *writeSeeker) Bytes() []byte { return w.buf }
