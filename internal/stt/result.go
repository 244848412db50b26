package stt

// Backend selects the recognizer family for a request.
type Backend string

const (
	BackendOnline  Backend = "online"
	BackendOffline Backend = "offline"
)

// Kind tags the reason a transcription produced no text.
type Kind string

const (
	KindNoAudio            Kind = "no_audio_provided"
	KindDecode             Kind = "decode_error"
	KindUnintelligible     Kind = "unintelligible_audio"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindTransport          Kind = "transport_error"
	KindEngine             Kind = "engine_error"
	KindUnknownBackend     Kind = "unknown_backend"
	KindUnsupportedFile    Kind = "unsupported_file"
	KindBusy               Kind = "busy"
)

const msgNoAudio = "no audio provided"

type Request struct {
	WAV      []byte
	Backend  Backend
	Language string
}

type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"error"`
}

func (f *Failure) Error() string { return f.Message }

// Result is a success when Failure is nil. Text may be empty on success and
// is always empty on failure.
type Result struct {
	Text    string   `json:"text"`
	Failure *Failure `json:"failure,omitempty"`
}

func (r Result) OK() bool { return r.Failure == nil }

func failed(kind Kind, message string) Result {
	return Result{Failure: &Failure{Kind: kind, Message: message}}
}

func succeeded(text string) Result {
	return Result{Text: text}
}
