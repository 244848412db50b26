// Package session keeps per-browser-session recording state: the ordered
// segment list, the last successful transcript and the in-flight flag.
package session

import (
	"bytes"
	"sync"
	"time"
)

type Session struct {
	id          string
	maxSegments int
	clock       func() time.Time

	mu         sync.Mutex
	segments   [][]byte
	transcript string
	inflight   bool
	lastActive time.Time
}

func newSession(id string, maxSegments int, clock func() time.Time) *Session {
	return &Session{id: id, maxSegments: maxSegments, clock: clock, lastActive: clock()}
}

func (s *Session) ID() string { return s.id }

// AddSegment appends a recorded clip. An empty buffer, or a full segment
// list, leaves the list unchanged and reports ok == false.
func (s *Session) AddSegment(buf []byte) (count int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.clock()
	if len(buf) == 0 {
		return len(s.segments), false
	}
	if s.maxSegments > 0 && len(s.segments) >= s.maxSegments {
		return len(s.segments), false
	}
	s.segments = append(s.segments, bytes.Clone(buf))
	return len(s.segments), true
}

func (s *Session) ClearSegments() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = nil
	s.lastActive = s.clock()
}

// Segments returns the recorded clips in recording order. The slice is a
// copy; the clips themselves are never modified after capture.
func (s *Session) Segments() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.segments))
	copy(out, s.segments)
	return out
}

func (s *Session) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

func (s *Session) SetLastTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = text
	s.lastActive = s.clock()
}

func (s *Session) LastTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// TryBegin marks a transcription as running. It returns false when one is
// already in flight for this session.
func (s *Session) TryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	s.lastActive = s.clock()
	return true
}

func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	s.lastActive = s.clock()
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.clock()
	s.mu.Unlock()
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, s.inflight
}
