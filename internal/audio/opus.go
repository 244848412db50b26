package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
)

// Largest Opus frame: 120 ms at 48 kHz.
const maxOpusFrame = 5760

// decodeOggOpus is the pure Go path for Ogg/Opus when ffmpeg is missing. The
// decoder has limited codec coverage, so panics are reported as errors.
func decodeOggOpus(data []byte) (p pcm, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = pcm{}
			err = fmt.Errorf("opus decoder panic: %v", r)
		}
	}()

	ogg, header, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return pcm{}, fmt.Errorf("parse ogg container: %w", err)
	}
	if header.SampleRate == 0 {
		return pcm{}, errors.New("ogg header declares no sample rate")
	}

	decoder := opus.NewDecoder()
	out := make([]byte, maxOpusFrame*2*2)
	var mono []int16
	for {
		segments, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return pcm{}, fmt.Errorf("parse ogg page: %w", err)
		}
		for _, packet := range segments {
			if len(packet) == 0 {
				continue
			}
			clear(out)
			_, stereo, err := decoder.Decode(packet, out)
			if err != nil {
				continue
			}
			frame := trimSilence(out)
			if stereo {
				frame = toMono(frame, 2)
			}
			mono = append(mono, frame...)
		}
	}
	if len(mono) == 0 {
		return pcm{}, errors.New("no opus packets decoded")
	}
	return pcm{samples: mono, channels: 1, sampleRate: int(header.SampleRate)}, nil
}

// trimSilence converts little-endian PCM to samples, dropping the unused
// zeroed tail of the decode buffer.
func trimSilence(raw []byte) []int16 {
	end := len(raw) &^ 1
	for end >= 2 && raw[end-1] == 0 && raw[end-2] == 0 {
		end -= 2
	}
	samples := make([]int16, end/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return samples
}
