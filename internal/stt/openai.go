package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type openAIRecognizer struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

// NewOpenAIRecognizer uses the hosted Whisper transcription endpoint.
func NewOpenAIRecognizer(cfg config.OnlineConfig, log *slog.Logger) (Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openAIRecognizer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		log:    log.With(slog.String("component", "stt-openai")),
	}, nil
}

func (r *openAIRecognizer) Name() string { return "openai" }

func (r *openAIRecognizer) Close() error { return nil }

func (r *openAIRecognizer) Recognize(ctx context.Context, wavPath string, lang string) (string, error) {
	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: wavPath,
		Language: baseLanguage(lang),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrUnintelligible
	}
	r.log.Debug("recognized", slog.String("model", r.model), slog.String("language", lang))
	return text, nil
}

// baseLanguage reduces a BCP-47 tag such as "fr-FR" to the ISO-639-1 code
// the transcription API expects.
func baseLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	base, _ := parsed.Base()
	return base.String()
}
