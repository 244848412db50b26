// Package httpapi exposes recording sessions and transcription over HTTP
// for the presentation layer.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/language"

	"github.com/loqalabs/loqa-scribe/internal/capability"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/session"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

const downloadName = "transcription.txt"

type Transcriber interface {
	TranscribeUpload(ctx context.Context, sess *session.Session, filename string, data []byte, backend stt.Backend, language string) (stt.Result, error)
	TranscribeSegments(ctx context.Context, sess *session.Session, backend stt.Backend, language string) (stt.Result, error)
}

type Capabilities interface {
	Available(name string) bool
	Snapshot() []capability.Capability
}

type Handler struct {
	cfg      config.Config
	log      *slog.Logger
	sessions *session.Store
	stt      Transcriber
	caps     Capabilities
	mux      *http.ServeMux

	meter           metric.Meter
	requestDuration metric.Float64Histogram
}

func New(cfg config.Config, sessions *session.Store, transcriber Transcriber, caps Capabilities, log *slog.Logger) *Handler {
	h := &Handler{
		cfg:      cfg,
		log:      log.With(slog.String("component", "http-api")),
		sessions: sessions,
		stt:      transcriber,
		caps:     caps,
		mux:      http.NewServeMux(),
		meter:    otel.Meter("github.com/loqalabs/loqa-scribe/httpapi"),
	}
	if err := h.initMetrics(); err != nil {
		h.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /api/options", h.withMetrics("/api/options", h.handleOptions))
	h.mux.HandleFunc("GET /api/capabilities", h.withMetrics("/api/capabilities", h.handleCapabilities))
	h.mux.HandleFunc("GET /api/segments", h.withMetrics("/api/segments", h.handleSegmentCount))
	h.mux.HandleFunc("POST /api/segments", h.withMetrics("/api/segments", h.handleAddSegment))
	h.mux.HandleFunc("DELETE /api/segments", h.withMetrics("/api/segments", h.handleClearSegments))
	h.mux.HandleFunc("POST /api/segments/transcribe", h.withMetrics("/api/segments/transcribe", h.handleTranscribeSegments))
	h.mux.HandleFunc("POST /api/transcriptions", h.withMetrics("/api/transcriptions", h.handleTranscribeUpload))
	h.mux.HandleFunc("GET /api/transcript", h.withMetrics("/api/transcript", h.handleTranscript))
	h.mux.HandleFunc("GET /api/transcript/download", h.withMetrics("/api/transcript/download", h.handleDownload))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type backendOption struct {
	Name              string `json:"name"`
	Label             string `json:"label"`
	LanguageSensitive bool   `json:"language_sensitive"`
	Available         bool   `json:"available"`
}

type optionsResponse struct {
	Backends         []backendOption `json:"backends"`
	Languages        []string        `json:"languages"`
	DefaultBackend   string          `json:"default_backend"`
	DefaultLanguage  string          `json:"default_language"`
	OfflineLanguage  string          `json:"offline_language"`
	UploadExtensions []string        `json:"upload_extensions"`
}

func (h *Handler) handleOptions(w http.ResponseWriter, _ *http.Request) {
	sttCfg := h.cfg.STT
	writeJSON(w, http.StatusOK, optionsResponse{
		Backends: []backendOption{
			{
				Name:              string(stt.BackendOnline),
				Label:             "Online (" + sttCfg.Online.Provider + ")",
				LanguageSensitive: true,
				Available:         h.caps.Available(capability.OnlineSTT),
			},
			{
				Name:              string(stt.BackendOffline),
				Label:             "Offline (" + sttCfg.Offline.Mode + ")",
				LanguageSensitive: false,
				Available:         h.caps.Available(capability.OfflineSTT),
			},
		},
		Languages:        sttCfg.Languages,
		DefaultBackend:   sttCfg.DefaultBackend,
		DefaultLanguage:  sttCfg.DefaultLanguage,
		OfflineLanguage:  sttCfg.Offline.Language,
		UploadExtensions: stt.UploadExtensions,
	})
}

func (h *Handler) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": h.caps.Snapshot()})
}

type segmentsResponse struct {
	Segments int    `json:"segments"`
	Warning  string `json:"warning,omitempty"`
}

func (h *Handler) handleSegmentCount(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	writeJSON(w, http.StatusOK, segmentsResponse{Segments: sess.SegmentCount()})
}

func (h *Handler) handleAddSegment(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	data, _, err := h.readAudio(w, r, "audio")
	if err != nil {
		h.writeReadError(w, err)
		return
	}
	count, ok := sess.AddSegment(data)
	resp := segmentsResponse{Segments: count}
	if !ok {
		if len(data) == 0 {
			resp.Warning = "nothing was recorded"
		} else {
			resp.Warning = "segment limit reached"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleClearSegments(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	sess.ClearSegments()
	writeJSON(w, http.StatusOK, segmentsResponse{Segments: 0})
}

func (h *Handler) handleTranscribeSegments(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	backend, language, ok := h.selection(w, r)
	if !ok {
		return
	}
	if sess.SegmentCount() == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"warning": "no segments recorded"})
		return
	}
	result, err := h.stt.TranscribeSegments(r.Context(), sess, backend, language)
	h.writeResult(w, result, err)
}

func (h *Handler) handleTranscribeUpload(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	data, filename, err := h.readAudio(w, r, "file")
	if err != nil {
		h.writeReadError(w, err)
		return
	}
	backend, language, ok := h.selection(w, r)
	if !ok {
		return
	}
	if filename == "" {
		writeJSON(w, http.StatusOK, map[string]string{"warning": "no file uploaded"})
		return
	}
	result, err := h.stt.TranscribeUpload(r.Context(), sess, filename, data, backend, language)
	h.writeResult(w, result, err)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"text": sess.LastTranscript()})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	text := sess.LastTranscript()
	if text == "" {
		writeError(w, http.StatusNotFound, "no transcript available")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": downloadName}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

// selection reads the backend and language from the query string or form.
// Unknown backend names pass through so the dispatcher can report them.
// Language tags are canonicalized, so "en-us" selects "en-US".
func (h *Handler) selection(w http.ResponseWriter, r *http.Request) (stt.Backend, string, bool) {
	backend := r.FormValue("backend")
	lang := r.FormValue("language")
	if lang == "" {
		return stt.Backend(backend), "", true
	}
	tag, err := language.Parse(lang)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid language tag: "+lang)
		return "", "", false
	}
	if !slices.Contains(h.cfg.STT.Languages, tag.String()) {
		writeError(w, http.StatusBadRequest, "unsupported language: "+lang)
		return "", "", false
	}
	return stt.Backend(backend), tag.String(), true
}

func (h *Handler) writeResult(w http.ResponseWriter, result stt.Result, err error) {
	if err != nil {
		h.log.Error("transcription failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not store audio for transcription")
		return
	}
	if result.OK() {
		writeJSON(w, http.StatusOK, map[string]string{"text": result.Text})
		return
	}
	status := http.StatusUnprocessableEntity
	if result.Failure.Kind == stt.KindBusy {
		status = http.StatusConflict
	}
	writeJSON(w, status, result.Failure)
}

func (h *Handler) writeReadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
