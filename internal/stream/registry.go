package stream

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bryanchriswhite/minicam/internal/logger"
	"github.com/google/uuid"
)

// Options configures a Registry
type Options struct {
	Boundary    string
	MaxSessions int // 0 means unlimited
}

// SessionInfo describes an open session for the stats endpoint
type SessionInfo struct {
	ID     string        `json:"id"`
	Remote string        `json:"remote"`
	Opened time.Time     `json:"opened"`
	State  string        `json:"state"`
	Stats  SessionStats  `json:"stats"`
	Uptime time.Duration `json:"uptime_ns"`
}

// Registry tracks one Session per connected client. Sessions never share
// cursor state; the registry only hands them out and tears them down.
type Registry struct {
	source FrameSource
	opts   Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry whose sessions read from source
func NewRegistry(source FrameSource, opts Options) *Registry {
	if opts.Boundary == "" {
		opts.Boundary = DefaultBoundary
	}
	return &Registry{
		source:   source,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Boundary returns the multipart boundary used by new sessions
func (r *Registry) Boundary() string {
	return r.opts.Boundary
}

// Open creates and registers a session for the client at remote
func (r *Registry) Open(remote string) (*Session, error) {
	r.mu.Lock()
	if r.opts.MaxSessions > 0 && len(r.sessions) >= r.opts.MaxSessions {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, r.opts.MaxSessions)
	}

	s := NewSession(uuid.NewString(), r.source, r.opts.Boundary)
	s.remote = remote
	r.sessions[s.id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	logger.WithComponent("stream").Info().
		Str("session", s.id).
		Str("remote", remote).
		Int("total", count).
		Msg("Stream client connected")
	return s, nil
}

// Get returns a registered session
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close unregisters a session and releases anything it still holds
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s not found", id)
	}

	err := s.Close()
	stats := s.Stats()
	logger.WithComponent("stream").Info().
		Str("session", id).
		Str("remote", s.remote).
		Uint64("frames", stats.FramesCompleted).
		Uint64("bytes", stats.BytesWritten).
		Int("remaining", count).
		Msg("Stream client disconnected")
	return err
}

// CloseAll closes every session, used on shutdown
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Len returns the number of open sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the open sessions, oldest first
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{
			ID:     s.id,
			Remote: s.remote,
			Opened: s.opened,
			State:  s.State().String(),
			Stats:  s.Stats(),
			Uptime: time.Since(s.opened),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Opened.Before(out[j].Opened) })
	return out
}
