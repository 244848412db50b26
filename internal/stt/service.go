package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/session"
)

// UploadExtensions lists the file types accepted by TranscribeUpload.
var UploadExtensions = []string{".wav", ".mp3", ".m4a"}

type Normalizer interface {
	NormalizeSingle(ctx context.Context, data []byte) ([]byte, error)
	NormalizeAndConcatenate(ctx context.Context, segments [][]byte) ([]byte, error)
}

type Publisher interface {
	PublishTranscript(msg protocol.Transcript) error
}

// Service runs the normalize, dispatch and record pipeline for one session
// action at a time.
type Service struct {
	cfg        config.STTConfig
	log        *slog.Logger
	normalizer Normalizer
	dispatcher *Dispatcher
	publisher  Publisher
	clock      func() time.Time
}

// NewService wires the pipeline. publisher may be nil when no bus is configured.
func NewService(cfg config.STTConfig, normalizer Normalizer, dispatcher *Dispatcher, publisher Publisher, log *slog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		log:        log.With(slog.String("component", "stt-service")),
		normalizer: normalizer,
		dispatcher: dispatcher,
		publisher:  publisher,
		clock:      time.Now,
	}
}

// TranscribeUpload transcribes an uploaded file. The returned error is
// non-nil only for staging failures.
func (s *Service) TranscribeUpload(ctx context.Context, sess *session.Session, filename string, data []byte, backend Backend, language string) (Result, error) {
	if !sess.TryBegin() {
		return busy(), nil
	}
	defer sess.End()

	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(UploadExtensions, ext) {
		return failed(KindUnsupportedFile, fmt.Sprintf("unsupported file type %q: expected wav, mp3 or m4a", ext)), nil
	}
	if len(data) == 0 {
		return failed(KindNoAudio, msgNoAudio), nil
	}

	wav, err := s.normalizer.NormalizeSingle(ctx, data)
	if err != nil {
		return s.decodeFailure(err)
	}
	return s.dispatch(ctx, sess, wav, backend, language, protocol.SourceUpload)
}

// TranscribeSegments concatenates the session's recorded clips and
// transcribes them. An empty segment list yields "no audio provided".
func (s *Service) TranscribeSegments(ctx context.Context, sess *session.Session, backend Backend, language string) (Result, error) {
	if !sess.TryBegin() {
		return busy(), nil
	}
	defer sess.End()

	wav, err := s.normalizer.NormalizeAndConcatenate(ctx, sess.Segments())
	if err != nil {
		return s.decodeFailure(err)
	}
	return s.dispatch(ctx, sess, wav, backend, language, protocol.SourceSegments)
}

func (s *Service) dispatch(ctx context.Context, sess *session.Session, wav []byte, backend Backend, language, source string) (Result, error) {
	if backend == "" {
		backend = Backend(s.cfg.DefaultBackend)
	}
	if language == "" {
		language = s.cfg.DefaultLanguage
	}

	result, err := s.dispatcher.Dispatch(ctx, Request{WAV: wav, Backend: backend, Language: language})
	if err != nil {
		return Result{}, err
	}
	if !result.OK() {
		return result, nil
	}

	sess.SetLastTranscript(result.Text)
	if s.publisher != nil {
		msg := protocol.Transcript{
			SessionID: sess.ID(),
			Text:      result.Text,
			Backend:   string(backend),
			Language:  language,
			Source:    source,
			Timestamp: s.clock().UTC(),
		}
		if err := s.publisher.PublishTranscript(msg); err != nil {
			s.log.Warn("failed to publish transcript", slog.String("error", err.Error()))
		}
	}
	return result, nil
}

func (s *Service) decodeFailure(err error) (Result, error) {
	var decodeErr *audio.DecodeError
	if errors.As(err, &decodeErr) {
		return failed(KindDecode, decodeErr.Error()), nil
	}
	return Result{}, err
}

func busy() Result {
	return failed(KindBusy, "a transcription is already running for this session")
}
