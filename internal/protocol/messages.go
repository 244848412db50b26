package protocol

import "time"

// Transcript is broadcast on the bus after a successful transcription.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Backend   string    `json:"backend"`
	Language  string    `json:"language,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript sources.
const (
	SourceSegments = "segments"
	SourceUpload   = "upload"
)

const SubjectTranscriptFinal = "stt.text.final"
