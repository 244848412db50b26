package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

func writeAudioFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecRecognizerPassesArguments(t *testing.T) {
	script := writeScript(t, `printf '{"text": "%s"}' "$*"`)
	r, err := NewExecRecognizer(config.OfflineConfig{Command: script, ModelPath: "/models/base.bin", Language: "en"})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	text, err := r.Recognize(context.Background(), "/tmp/clip.wav", "fr-FR")
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	want := "--audio /tmp/clip.wav --model /models/base.bin --language en"
	if text != want {
		t.Fatalf("expected %q, got %q", want, text)
	}
}

func TestExecRecognizerEmptyTextIsUnintelligible(t *testing.T) {
	script := writeScript(t, `echo '{"text": "  "}'`)
	r, err := NewExecRecognizer(config.OfflineConfig{Command: script})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	if _, err := r.Recognize(context.Background(), "clip.wav", ""); !errors.Is(err, ErrUnintelligible) {
		t.Fatalf("expected ErrUnintelligible, got %v", err)
	}
}

func TestExecRecognizerFailure(t *testing.T) {
	script := writeScript(t, `echo "model missing" >&2; exit 3`)
	r, err := NewExecRecognizer(config.OfflineConfig{Command: script})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	_, err = r.Recognize(context.Background(), "clip.wav", "")
	if err == nil || !strings.Contains(err.Error(), "model missing") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestExecProbe(t *testing.T) {
	if ok, _ := ExecProbe("definitely-not-a-real-binary-xyz --flag")(); ok {
		t.Fatal("expected missing binary to be unavailable")
	}
	script := writeScript(t, "exit 0")
	if ok, detail := ExecProbe(script)(); !ok || detail != script {
		t.Fatalf("expected script available, got %v %q", ok, detail)
	}
}

func TestOpenAIRecognizer(t *testing.T) {
	var gotLanguage, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": " bonjour le monde "}`))
	}))
	defer srv.Close()

	r, err := NewOpenAIRecognizer(config.OnlineConfig{APIKey: "test", Endpoint: srv.URL + "/v1"}, newLogger())
	if err != nil {
		t.Fatalf("new openai recognizer: %v", err)
	}
	text, err := r.Recognize(context.Background(), writeAudioFile(t, makeWAV(t, 16000, 1, 0.1, 0)), "fr-FR")
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if text != "bonjour le monde" {
		t.Fatalf("unexpected text %q", text)
	}
	if gotLanguage != "fr" || gotModel != "whisper-1" {
		t.Fatalf("unexpected form language=%q model=%q", gotLanguage, gotModel)
	}
}

func TestOpenAIRecognizerEmptyAndErrors(t *testing.T) {
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": {"message": "upstream exploded", "type": "server_error"}}`))
			return
		}
		w.Write([]byte(`{"text": ""}`))
	}))
	defer srv.Close()

	r, err := NewOpenAIRecognizer(config.OnlineConfig{APIKey: "test", Endpoint: srv.URL + "/v1"}, newLogger())
	if err != nil {
		t.Fatalf("new openai recognizer: %v", err)
	}
	path := writeAudioFile(t, makeWAV(t, 16000, 1, 0.1, 0))
	if _, err := r.Recognize(context.Background(), path, "en-US"); !errors.Is(err, ErrUnintelligible) {
		t.Fatalf("expected ErrUnintelligible, got %v", err)
	}
	fail = true
	_, err = r.Recognize(context.Background(), path, "en-US")
	if err == nil || !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestOpenAIRecognizerRequiresKey(t *testing.T) {
	if _, err := NewOpenAIRecognizer(config.OnlineConfig{}, newLogger()); err == nil {
		t.Fatal("expected missing key to fail")
	}
}

func TestBaseLanguage(t *testing.T) {
	cases := map[string]string{"fr-FR": "fr", "en-US": "en", "de": "de", "": "", "!!": ""}
	for in, want := range cases {
		if got := baseLanguage(in); got != want {
			t.Fatalf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

type fakeSpeech struct {
	req    *speechpb.RecognizeRequest
	resp   *speechpb.RecognizeResponse
	err    error
	closed bool
}

func (f *fakeSpeech) Recognize(_ context.Context, req *speechpb.RecognizeRequest, _ ...gax.CallOption) (*speechpb.RecognizeResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeSpeech) Close() error {
	f.closed = true
	return nil
}

func newGoogleWithFake(fake *fakeSpeech) *googleRecognizer {
	r := NewGoogleRecognizer(config.OnlineConfig{Provider: "google"}, newLogger()).(*googleRecognizer)
	r.dial = func(context.Context) (speechClient, error) { return fake, nil }
	return r
}

func TestGoogleRecognizerJoinsResults(t *testing.T) {
	fake := &fakeSpeech{resp: &speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "bonjour"}, {Transcript: "bonsoir"}}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " tout le monde"}}},
	}}}
	r := newGoogleWithFake(fake)

	wav := makeWAV(t, 16000, 1, 0.1, 0)
	text, err := r.Recognize(context.Background(), writeAudioFile(t, wav), "fr-FR")
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if text != "bonjour tout le monde" {
		t.Fatalf("unexpected text %q", text)
	}
	cfg := fake.req.GetConfig()
	if cfg.GetLanguageCode() != "fr-FR" || cfg.GetSampleRateHertz() != 16000 || cfg.GetAudioChannelCount() != 1 {
		t.Fatalf("unexpected recognition config %+v", cfg)
	}
	if cfg.GetEncoding() != speechpb.RecognitionConfig_LINEAR16 {
		t.Fatalf("unexpected encoding %v", cfg.GetEncoding())
	}
	if len(fake.req.GetAudio().GetContent()) != len(wav) {
		t.Fatalf("expected audio content to be the staged file")
	}

	if err := r.Close(); err != nil || !fake.closed {
		t.Fatalf("expected client closed, err=%v", err)
	}
}

func TestGoogleRecognizerNoResults(t *testing.T) {
	r := newGoogleWithFake(&fakeSpeech{resp: &speechpb.RecognizeResponse{}})
	_, err := r.Recognize(context.Background(), writeAudioFile(t, []byte("wav")), "fr-FR")
	if !errors.Is(err, ErrUnintelligible) {
		t.Fatalf("expected ErrUnintelligible, got %v", err)
	}
}

func TestGoogleRecognizerStatusError(t *testing.T) {
	r := newGoogleWithFake(&fakeSpeech{err: status.Error(codes.Unavailable, "service down")})
	_, err := r.Recognize(context.Background(), writeAudioFile(t, []byte("wav")), "fr-FR")
	if err == nil || err.Error() != "Unavailable: service down" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestMockRecognizer(t *testing.T) {
	r := NewMockRecognizer("mock")
	text, err := r.Recognize(context.Background(), writeAudioFile(t, makeWAV(t, 16000, 1, 1.5, 0)), "en-US")
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if !strings.Contains(text, "duration=1.50s") || !strings.Contains(text, "en-US") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestNewOfflineWhisperWithoutEngine(t *testing.T) {
	r, probe, err := NewOffline(config.OfflineConfig{Mode: "whisper"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != nil {
		t.Fatal("expected no recognizer without a model")
	}
	if ok, _ := probe(); ok {
		t.Fatal("expected offline capability unavailable")
	}
}

func TestNewOfflineModes(t *testing.T) {
	if _, _, err := NewOffline(config.OfflineConfig{Mode: "bogus"}, newLogger()); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
	r, probe, err := NewOffline(config.OfflineConfig{Mode: "none"}, newLogger())
	if err != nil || r != nil {
		t.Fatalf("expected nil recognizer for none, got %v %v", r, err)
	}
	if ok, _ := probe(); ok {
		t.Fatal("disabled engine must be unavailable")
	}
	r, probe, err = NewOffline(config.OfflineConfig{Mode: "mock"}, newLogger())
	if err != nil || r == nil {
		t.Fatalf("expected mock recognizer, got %v", err)
	}
	if ok, _ := probe(); !ok {
		t.Fatal("mock engine must be available")
	}
}

func TestNewOnlineProviders(t *testing.T) {
	r, probe, err := NewOnline(config.OnlineConfig{Provider: "google", APIKey: "k"}, newLogger())
	if err != nil || r.Name() != "google" {
		t.Fatalf("expected google recognizer, got %v", err)
	}
	if ok, detail := probe(); !ok || detail != "google: api key" {
		t.Fatalf("unexpected probe %v %q", ok, detail)
	}
	if _, _, err := NewOnline(config.OnlineConfig{Provider: "carrier-pigeon"}, newLogger()); err == nil {
		t.Fatal("expected unknown provider to fail")
	}
}
