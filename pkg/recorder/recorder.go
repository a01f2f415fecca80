// Package recorder models the capture side of a voice turn as an
// explicit two-phase resource: a session is acquired, audio chunks
// accumulate in order, and the session is finalized into a single
// payload (or aborted). The underlying slot is released on every exit
// path, and at most one session is active at a time.
package recorder

import (
	"errors"
	"sync"
)

// MaxPayloadBytes caps a finalized recording. Uploads beyond this are
// rejected before any network call is made.
const MaxPayloadBytes = 25 * 1024 * 1024

// allowedTypes is the set of audio container types accepted for upload.
var allowedTypes = map[string]bool{
	"audio/wav":  true,
	"audio/mp3":  true,
	"audio/mpeg": true,
	"audio/webm": true,
	"video/webm": true,
	"video/mp4":  true,
}

var (
	// ErrSessionActive is returned by Start while a session is already
	// recording. Starting twice is a caller error and is rejected
	// deterministically.
	ErrSessionActive = errors.New("a recording session is already active")

	// ErrUnsupportedType is returned by Start for a content type
	// outside the audio allowlist.
	ErrUnsupportedType = errors.New("unsupported audio content type")

	// ErrPayloadTooLarge is returned by Append once the accumulated
	// chunks exceed MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("recording exceeds maximum payload size")

	// ErrSessionClosed is returned when a finalized or aborted session
	// is used again.
	ErrSessionClosed = errors.New("recording session is closed")

	// ErrEmptyRecording is returned by Finalize when no audio arrived.
	ErrEmptyRecording = errors.New("recording contains no audio data")
)

// Payload is a finalized recording ready for transcription.
type Payload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Recorder hands out recording sessions, at most one at a time.
type Recorder struct {
	mu     sync.Mutex
	active *Session
}

func New() *Recorder {
	return &Recorder{}
}

// Start acquires the recording slot and returns a fresh session.
// It fails with ErrSessionActive while another session is open and
// with ErrUnsupportedType for non-audio uploads.
func (r *Recorder) Start(contentType, filename string) (*Session, error) {
	if !allowedTypes[contentType] {
		return nil, ErrUnsupportedType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, ErrSessionActive
	}

	s := &Session{
		owner:       r,
		contentType: contentType,
		filename:    filename,
	}
	r.active = s

	return s, nil
}

// Recording reports whether a session currently holds the slot.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// release frees the slot held by s. Idempotent.
func (r *Recorder) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == s {
		r.active = nil
	}
}

// Session owns the accumulating chunk sequence for one recording.
// It is not safe for concurrent use; a recording is fed by a single flow.
type Session struct {
	owner       *Recorder
	contentType string
	filename    string
	chunks      [][]byte
	size        int
	closed      bool
}

// Append adds one audio chunk to the session, preserving arrival order.
func (s *Session) Append(chunk []byte) error {
	if s.closed {
		return ErrSessionClosed
	}
	if len(chunk) == 0 {
		return nil
	}
	if s.size+len(chunk) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.chunks = append(s.chunks, buf)
	s.size += len(chunk)

	return nil
}

// Size returns the number of bytes accumulated so far.
func (s *Session) Size() int {
	return s.size
}

// Finalize concatenates the accumulated chunks into a single payload
// and releases the recording slot. The session is unusable afterwards.
func (s *Session) Finalize() (Payload, error) {
	if s.closed {
		return Payload{}, ErrSessionClosed
	}
	s.close()

	if s.size == 0 {
		return Payload{}, ErrEmptyRecording
	}

	data := make([]byte, 0, s.size)
	for _, chunk := range s.chunks {
		data = append(data, chunk...)
	}
	s.chunks = nil

	return Payload{
		Data:        data,
		ContentType: s.contentType,
		Filename:    s.filename,
	}, nil
}

// Abort discards the accumulated chunks and releases the slot. Safe to
// call on an already-closed session.
func (s *Session) Abort() {
	if s.closed {
		return
	}
	s.close()
	s.chunks = nil
	s.size = 0
}

func (s *Session) close() {
	s.closed = true
	s.owner.release(s)
}
