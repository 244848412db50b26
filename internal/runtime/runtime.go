package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/capability"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/httpapi"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/session"
	"github.com/loqalabs/loqa-scribe/internal/staging"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	caps     *capability.Registry
	stager   *staging.Stager
	sessions *session.Store
	online   stt.Recognizer
	offline  stt.Recognizer
	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	api      *httpapi.Handler
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.build(ctx); err != nil {
		r.release()
		_ = r.tracerClose(context.Background())
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sessions.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.Handle("/api/", r.api)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			serveErr <- err
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	var errs []error
	if err := r.release(); err != nil {
		errs = append(errs, err)
	}
	if err := r.tracerClose(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	select {
	case err := <-serveErr:
		errs = append(errs, fmt.Errorf("http server: %w", err))
	default:
	}
	return errors.Join(errs...)
}

// build constructs the transcription pipeline from leaf to root.
func (r *Runtime) build(ctx context.Context) error {
	log := r.logger

	stager, err := staging.New(r.cfg.Staging, log)
	if err != nil {
		return fmt.Errorf("failed to prepare staging directory: %w", err)
	}
	r.stager = stager
	if r.cfg.Staging.SweepAfterMS > 0 {
		removed, err := stager.Sweep(time.Duration(r.cfg.Staging.SweepAfterMS) * time.Millisecond)
		if err != nil {
			log.Warn("failed to sweep staging directory", slog.String("error", err.Error()))
		} else if removed > 0 {
			log.Info("removed stale staged files", slog.Int("count", removed))
		}
	}

	ffmpeg, err := audio.ParseCommand(r.cfg.Audio.FFmpegCommand)
	if err != nil {
		return fmt.Errorf("invalid ffmpeg command: %w", err)
	}

	online, onlineProbe, err := stt.NewOnline(r.cfg.STT.Online, log)
	if err != nil {
		return fmt.Errorf("failed to create online recognizer: %w", err)
	}
	r.online = online
	offline, offlineProbe, err := stt.NewOffline(r.cfg.STT.Offline, log)
	if err != nil {
		return fmt.Errorf("failed to create offline recognizer: %w", err)
	}
	r.offline = offline

	r.caps = capability.NewRegistry(log)
	r.caps.Register(capability.CodecFFmpeg, audio.FFmpegProbe(ffmpeg))
	r.caps.Register(capability.OnlineSTT, onlineProbe)
	r.caps.Register(capability.OfflineSTT, offlineProbe)
	for _, c := range r.caps.ProbeAll(ctx) {
		log.Info("capability probed",
			slog.String("name", c.Name),
			slog.Bool("available", c.Available),
			slog.String("detail", c.Detail))
	}

	normalizer, err := audio.NewNormalizer(r.cfg.Audio, stager, r.caps, log)
	if err != nil {
		return fmt.Errorf("failed to create normalizer: %w", err)
	}
	dispatcher := stt.NewDispatcher(stager, r.caps, online, offline, log)

	var publisher stt.Publisher
	if r.cfg.Bus.Enabled {
		client, err := r.connectBus(ctx)
		if err != nil {
			return err
		}
		r.bus = client
		publisher = client
	}

	service := stt.NewService(r.cfg.STT, normalizer, dispatcher, publisher, log)
	r.sessions = session.NewStore(r.cfg.Session, log)
	r.api = httpapi.New(r.cfg, r.sessions, service, r.caps, log)
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) (*bus.Client, error) {
	busCfg := r.cfg.Bus
	srv, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded nats server: %w", err)
	}
	r.nats = srv
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}
	return client, nil
}

// release closes everything build created, in reverse order.
func (r *Runtime) release() error {
	var errs []error
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	for _, rec := range []stt.Recognizer{r.offline, r.online} {
		if rec == nil {
			continue
		}
		if err := rec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s recognizer: %w", rec.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if r.bus != nil && !r.bus.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus disconnected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
