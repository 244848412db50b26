package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type execRecognizer struct {
	cmd []string
	cfg config.OfflineConfig
	mu  sync.Mutex
}

type execResult struct {
	Text string `json:"text"`
}

// NewExecRecognizer runs an external engine per request:
// <command> --audio <path> [--model <path>] [--language <lang>], expecting
// {"text": "..."} on stdout.
func NewExecRecognizer(cfg config.OfflineConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

// ExecProbe reports whether the configured command resolves on PATH.
func ExecProbe(command string) func() (bool, string) {
	return func() (bool, string) {
		args, err := shellwords.Parse(command)
		if err != nil || len(args) == 0 {
			return false, "no command configured"
		}
		path, err := exec.LookPath(args[0])
		if err != nil {
			return false, err.Error()
		}
		return true, path
	}
}

func (r *execRecognizer) Name() string { return "exec" }

func (r *execRecognizer) Close() error { return nil }

func (r *execRecognizer) Recognize(ctx context.Context, wavPath string, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", wavPath)
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrUnintelligible
	}
	return text, nil
}
