package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ParseCommand splits a configured ffmpeg command line into argv.
func ParseCommand(command string) ([]string, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("ffmpeg command is empty")
	}
	return args, nil
}

// FFmpegProbe reports whether the configured ffmpeg binary resolves on PATH.
func FFmpegProbe(args []string) func() (bool, string) {
	return func() (bool, string) {
		if len(args) == 0 {
			return false, "no command configured"
		}
		path, err := exec.LookPath(args[0])
		if err != nil {
			return false, err.Error()
		}
		return true, path
	}
}

// ffmpegArgs returns the arguments that decode input into canonical raw PCM on stdout.
func ffmpegArgs(base []string, input string) []string {
	args := make([]string, 0, len(base)+14)
	args = append(args, base[1:]...)
	return append(args,
		"-i", input,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"pipe:1",
	)
}

func runFFmpeg(ctx context.Context, base []string, input string) ([]int16, error) {
	cmd := exec.CommandContext(ctx, base[0], ffmpegArgs(base, input)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("ffmpeg: %w", err)
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	raw := stdout.Bytes()
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return samples, nil
}
