package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/capability"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/session"
	"github.com/loqalabs/loqa-scribe/internal/staging"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

// pipeline is the in-process transcription stack used by one CLI invocation.
type pipeline struct {
	normalizer *audio.Normalizer
	service    *stt.Service
	sessions   *session.Store
	online     stt.Recognizer
	offline    stt.Recognizer
}

func newPipeline(ctx context.Context, cfg config.Config, log *slog.Logger) (*pipeline, error) {
	stager, err := staging.New(cfg.Staging, log)
	if err != nil {
		return nil, err
	}
	ffmpeg, err := audio.ParseCommand(cfg.Audio.FFmpegCommand)
	if err != nil {
		return nil, err
	}
	online, onlineProbe, err := stt.NewOnline(cfg.STT.Online, log)
	if err != nil {
		return nil, err
	}
	offline, offlineProbe, err := stt.NewOffline(cfg.STT.Offline, log)
	if err != nil {
		online.Close()
		return nil, err
	}

	caps := capability.NewRegistry(log)
	caps.Register(capability.CodecFFmpeg, audio.FFmpegProbe(ffmpeg))
	caps.Register(capability.OnlineSTT, onlineProbe)
	caps.Register(capability.OfflineSTT, offlineProbe)
	caps.ProbeAll(ctx)

	p := &pipeline{online: online, offline: offline, sessions: session.NewStore(cfg.Session, log)}
	p.normalizer, err = audio.NewNormalizer(cfg.Audio, stager, caps, log)
	if err != nil {
		p.Close()
		return nil, err
	}
	dispatcher := stt.NewDispatcher(stager, caps, online, offline, log)
	p.service = stt.NewService(cfg.STT, p.normalizer, dispatcher, nil, log)
	return p, nil
}

// transcribe uploads a single file, or records several files as segments of
// one session and transcribes them together.
func (p *pipeline) transcribe(ctx context.Context, files []string, backend stt.Backend, language string) (stt.Result, error) {
	sess := p.sessions.Create()
	if len(files) == 1 {
		data, err := os.ReadFile(files[0])
		if err != nil {
			return stt.Result{}, err
		}
		return p.service.TranscribeUpload(ctx, sess, files[0], data, backend, language)
	}
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return stt.Result{}, err
		}
		if _, ok := sess.AddSegment(data); !ok {
			return stt.Result{}, fmt.Errorf("cannot add segment %s", name)
		}
	}
	return p.service.TranscribeSegments(ctx, sess, backend, language)
}

func (p *pipeline) Close() error {
	var errs []error
	for _, rec := range []stt.Recognizer{p.offline, p.online} {
		if rec != nil {
			errs = append(errs, rec.Close())
		}
	}
	return errors.Join(errs...)
}
