package stt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
)

type speechClient interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

type googleRecognizer struct {
	cfg  config.OnlineConfig
	log  *slog.Logger
	dial func(ctx context.Context) (speechClient, error)

	mu     sync.Mutex
	client speechClient
}

// NewGoogleRecognizer uses Cloud Speech-to-Text v1 synchronous recognition.
// The gRPC client is created on first use.
func NewGoogleRecognizer(cfg config.OnlineConfig, log *slog.Logger) Recognizer {
	r := &googleRecognizer{
		cfg: cfg,
		log: log.With(slog.String("component", "stt-google")),
	}
	r.dial = r.newClient
	return r
}

func (r *googleRecognizer) Name() string { return "google" }

func (r *googleRecognizer) newClient(ctx context.Context) (speechClient, error) {
	var opts []option.ClientOption
	if r.cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(r.cfg.APIKey))
	}
	if r.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(r.cfg.CredentialsFile))
	}
	if r.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(r.cfg.Endpoint))
	}
	return speech.NewClient(ctx, opts...)
}

func (r *googleRecognizer) connect(ctx context.Context) (speechClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	client, err := r.dial(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	r.client = client
	return client, nil
}

func (r *googleRecognizer) Recognize(ctx context.Context, wavPath string, language string) (string, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	client, err := r.connect(ctx)
	if err != nil {
		return "", err
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:   audio.SampleRate,
			AudioChannelCount: audio.Channels,
			LanguageCode:      language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
		},
	})
	if err != nil {
		if st, ok := status.FromError(err); ok {
			return "", fmt.Errorf("%s: %s", st.Code(), st.Message())
		}
		return "", err
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(alternatives[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", ErrUnintelligible
	}
	r.log.Debug("recognized", slog.String("language", language), slog.Int("results", len(parts)))
	return strings.Join(parts, " "), nil
}

func (r *googleRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
