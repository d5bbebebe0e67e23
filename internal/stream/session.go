package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/minicam/internal/capture"
	"github.com/bryanchriswhite/minicam/internal/logger"
)

var (
	// ErrBufferTooSmall means the destination could not hold the envelope header
	ErrBufferTooSmall = errors.New("buffer too small for headers")

	ErrSessionClosed   = errors.New("stream session closed")
	ErrTooManySessions = errors.New("too many stream sessions")
)

// FrameSource produces frames and normalizes them to JPEG buffers.
// *capture.Adapter is the production implementation.
type FrameSource interface {
	Capture() (*capture.Frame, error)
	EnsureJPEG(frame *capture.Frame) (*capture.Buffer, error)
}

// State is the position of a session in its frame cycle
type State int

const (
	// AwaitingFrame: the next Fill captures a new frame
	AwaitingFrame State = iota
	// DrainingFrame: the next Fill continues the frame in flight
	DrainingFrame
)

func (s State) String() string {
	switch s {
	case AwaitingFrame:
		return "awaiting_frame"
	case DrainingFrame:
		return "draining_frame"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SessionStats counts a session's activity
type SessionStats struct {
	FramesStarted   uint64 `json:"frames_started"`
	FramesCompleted uint64 `json:"frames_completed"`
	FramesDropped   uint64 `json:"frames_dropped"`
	BytesWritten    uint64 `json:"bytes_written"`
	EmptyFills      uint64 `json:"empty_fills"`
}

// Session is the per-connection cursor over the frame currently being sent.
// It implements the chunk-producer side of a chunked response: the transport
// calls Fill with a bounded buffer until the client goes away, then Close.
type Session struct {
	id       string
	remote   string
	opened   time.Time
	source   FrameSource
	boundary string

	mu     sync.Mutex
	state  State
	buf    *capture.Buffer
	offset int
	closed bool
	err    error

	framesStarted   atomic.Uint64
	framesCompleted atomic.Uint64
	framesDropped   atomic.Uint64
	bytesWritten    atomic.Uint64
	emptyFills      atomic.Uint64
}

// NewSession creates a session in the AwaitingFrame state
func NewSession(id string, source FrameSource, boundary string) *Session {
	if boundary == "" {
		boundary = DefaultBoundary
	}
	return &Session{
		id:       id,
		opened:   time.Now(),
		source:   source,
		boundary: boundary,
		state:    AwaitingFrame,
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Boundary returns the multipart boundary the session writes
func (s *Session) Boundary() string {
	return s.boundary
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns why the last Fill produced nothing, or nil
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns a copy of the session counters
func (s *Session) Stats() SessionStats {
	return SessionStats{
		FramesStarted:   s.framesStarted.Load(),
		FramesCompleted: s.framesCompleted.Load(),
		FramesDropped:   s.framesDropped.Load(),
		BytesWritten:    s.bytesWritten.Load(),
		EmptyFills:      s.emptyFills.Load(),
	}
}

// Fill writes up to len(dst) bytes of the stream into dst and returns the
// count. Zero means nothing is ready right now; it never ends the stream.
// index is the transport's running byte count and is informational only.
func (s *Session) Fill(dst []byte, index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = nil

	var n int
	switch {
	case s.closed:
		s.err = ErrSessionClosed
	case len(dst) == 0:
	case s.state == DrainingFrame:
		n = s.drain(dst)
	default:
		n = s.startFrame(dst, index)
	}

	if n == 0 {
		s.emptyFills.Add(1)
	} else {
		s.bytesWritten.Add(uint64(n))
	}
	return n
}

// startFrame captures a frame and writes its header plus as much payload as fits
func (s *Session) startFrame(dst []byte, index int) int {
	log := logger.WithComponent("stream")

	frame, err := s.source.Capture()
	if err != nil {
		s.err = err
		log.Debug().Err(err).Str("session", s.id).Msg("Camera capture failed")
		return 0
	}

	buf, err := s.source.EnsureJPEG(frame)
	if err != nil {
		s.err = err
		log.Debug().Err(err).Str("session", s.id).Msg("JPEG conversion failed")
		return 0
	}

	size := buf.Len()
	headerLen := HeaderLen(s.boundary, size)
	if headerLen > len(dst) {
		s.err = fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, headerLen, len(dst))
		s.release(buf)
		s.framesDropped.Add(1)
		log.Warn().Err(s.err).Str("session", s.id).Uint64("seq", buf.Seq()).Msg("Dropping frame")
		return 0
	}

	written := len(AppendHeader(dst[:0], s.boundary, size))
	payload := copy(dst[written:], buf.Bytes())
	s.framesStarted.Add(1)

	if payload < size {
		s.buf = buf
		s.offset = payload
		s.state = DrainingFrame
	} else {
		s.release(buf)
		s.framesCompleted.Add(1)
	}

	log.Debug().
		Str("session", s.id).
		Int("index", index).
		Int("size", size).
		Int("payload", payload).
		Msg("Frame started")

	return written + payload
}

// drain continues the frame in flight from the stored offset
func (s *Session) drain(dst []byte) int {
	data := s.buf.Bytes()
	if s.offset >= len(data) {
		s.finish()
		return 0
	}

	n := copy(dst, data[s.offset:])
	s.offset += n
	if s.offset >= len(data) {
		s.finish()
	}
	return n
}

// finish releases the frame in flight and goes back to AwaitingFrame
func (s *Session) finish() {
	s.release(s.buf)
	s.buf = nil
	s.offset = 0
	s.state = AwaitingFrame
	s.framesCompleted.Add(1)
}

func (s *Session) release(buf *capture.Buffer) {
	owner := buf.Owner()
	if err := buf.Release(); err != nil {
		logger.WithComponent("stream").Warn().
			Err(err).
			Str("session", s.id).
			Str("owner", owner.String()).
			Msg("Failed to release frame buffer")
	}
}

// Close releases a frame still in flight. It is safe to call more than once;
// Fill on a closed session returns 0.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.buf != nil {
		s.release(s.buf)
		s.buf = nil
		s.offset = 0
		s.framesDropped.Add(1)
	}
	s.state = AwaitingFrame
	return nil
}
