// Package stt turns canonical WAV audio into text through one of two
// interchangeable backends.
//
// The online backend honors the request language. The offline engine does
// not: it always uses its own configured language (stt.offline.language,
// "en" by default), whatever the caller asked for.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-scribe/internal/capability"
)

const instrumentation = "github.com/loqalabs/loqa-scribe/stt"

// Stager stages bytes to a file for the duration of fn.
type Stager interface {
	With(data []byte, fn func(path string) error) error
}

// Capabilities reports cached collaborator availability.
type Capabilities interface {
	Available(name string) bool
}

// Dispatcher routes one canonical WAV to the selected backend. It holds no
// per-request state.
type Dispatcher struct {
	log     *slog.Logger
	stager  Stager
	caps    Capabilities
	online  Recognizer
	offline Recognizer

	tracer   trace.Tracer
	meter    metric.Meter
	count    metric.Int64Counter
	duration metric.Float64Histogram
}

func NewDispatcher(stager Stager, caps Capabilities, online, offline Recognizer, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		log:     log.With(slog.String("component", "stt-dispatcher")),
		stager:  stager,
		caps:    caps,
		online:  online,
		offline: offline,
		tracer:  otel.Tracer(instrumentation),
		meter:   otel.Meter(instrumentation),
	}
	if err := d.initMetrics(); err != nil {
		d.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return d
}

// Dispatch transcribes req.WAV. Recognition problems come back as a failed
// Result; the returned error is non-nil only when the audio could not be
// staged.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "stt.dispatch", trace.WithAttributes(
		attribute.String("stt.backend", string(req.Backend)),
		attribute.String("stt.language", req.Language),
		attribute.Int("audio.bytes", len(req.WAV)),
	))
	defer span.End()
	start := time.Now()

	if len(req.WAV) == 0 {
		result := failed(KindNoAudio, msgNoAudio)
		d.observe(ctx, span, req.Backend, result, start)
		return result, nil
	}

	var result Result
	err := d.stager.With(req.WAV, func(path string) error {
		result = d.recognize(ctx, req, path)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "staging failed")
		d.record(ctx, req.Backend, "storage_error", start)
		d.log.Error("failed to stage audio", slog.String("error", err.Error()))
		return Result{}, err
	}
	d.observe(ctx, span, req.Backend, result, start)
	return result, nil
}

func (d *Dispatcher) recognize(ctx context.Context, req Request, path string) Result {
	switch req.Backend {
	case BackendOnline:
		if d.online == nil {
			return failed(KindTransport, "online backend request failed: no online recognizer configured")
		}
		text, err := d.online.Recognize(ctx, path, req.Language)
		switch {
		case errors.Is(err, ErrUnintelligible):
			return failed(KindUnintelligible, "audio not understood by the online backend")
		case err != nil:
			return failed(KindTransport, fmt.Sprintf("online backend request failed: %v", err))
		}
		return succeeded(text)

	case BackendOffline:
		if d.offline == nil || !d.caps.Available(capability.OfflineSTT) {
			return failed(KindBackendUnavailable, "offline engine not installed")
		}
		text, err := d.offline.Recognize(ctx, path, "")
		switch {
		case errors.Is(err, ErrUnintelligible):
			return failed(KindUnintelligible, "audio not understood by the offline backend")
		case err != nil:
			return failed(KindEngine, fmt.Sprintf("offline engine error: %v", err))
		}
		return succeeded(text)

	default:
		return failed(KindUnknownBackend, fmt.Sprintf("unknown backend: %s", req.Backend))
	}
}

func (d *Dispatcher) observe(ctx context.Context, span trace.Span, backend Backend, result Result, start time.Time) {
	outcome := "ok"
	if !result.OK() {
		outcome = string(result.Failure.Kind)
		span.SetStatus(otelcodes.Error, result.Failure.Message)
		d.log.Info("transcription failed",
			slog.String("backend", string(backend)),
			slog.String("kind", outcome),
			slog.String("error", result.Failure.Message))
	} else {
		d.log.Debug("transcription succeeded",
			slog.String("backend", string(backend)),
			slog.Int("chars", len(result.Text)))
	}
	span.SetAttributes(attribute.String("stt.outcome", outcome))
	d.record(ctx, backend, outcome, start)
}

func (d *Dispatcher) record(ctx context.Context, backend Backend, outcome string, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("backend", string(backend)),
		attribute.String("outcome", outcome),
	)
	if d.count != nil {
		d.count.Add(ctx, 1, attrs)
	}
	if d.duration != nil {
		d.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

func (d *Dispatcher) initMetrics() error {
	count, err := d.meter.Int64Counter("scribe.transcriptions",
		metric.WithDescription("Transcription dispatches by backend and outcome"))
	if err != nil {
		return err
	}
	duration, err := d.meter.Float64Histogram("scribe.transcription.duration",
		metric.WithDescription("Time spent dispatching one transcription"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	d.count = count
	d.duration = duration
	return nil
}
