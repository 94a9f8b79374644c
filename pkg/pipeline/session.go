package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Ticket identifies one request within a Session
type Ticket struct {
	seq uint64
	// ID is a unique request identifier for logs
	ID string
}

// Session serializes results of repeated requests from one user: only the most
// recent request may publish its result. Earlier requests still run to
// completion but their results are dropped.
type Session struct {
	mu      sync.Mutex
	seq     uint64
	active  uint64
	pending bool
	log     logrus.FieldLogger
}

// NewSession creates an empty session
func NewSession(log logrus.FieldLogger) *Session {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Session{log: log}
}

// Begin starts a request and supersedes any request in flight
func (s *Session) Begin() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.active = s.seq
	s.pending = true
	return Ticket{seq: s.seq, ID: uuid.NewString()}
}

// Cancel supersedes the request in flight without starting a new one
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.active = s.seq
	s.pending = false
}

// Current reports whether t is still the request allowed to publish
func (s *Session) Current(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending && t.seq == s.active
}

// Commit runs apply when t is still current and reports whether it did.
// A ticket commits at most once. apply runs without the session lock held, so
// it may call back into the session.
func (s *Session) Commit(t Ticket, apply func()) bool {
	s.mu.Lock()
	if !s.pending || t.seq != s.active {
		s.mu.Unlock()
		s.log.WithField("request_id", t.ID).Debug("dropping stale result")
		return false
	}
	s.pending = false
	s.mu.Unlock()

	if apply != nil {
		apply()
	}
	return true
}

// Run generates src under a new ticket and hands the outcome to apply unless a
// later request or Cancel superseded it. It reports whether apply was called.
func (s *Session) Run(ctx context.Context, p *Pipeline, src Source, out types.OutputSpec, apply func(*types.PipelineResult, error)) bool {
	t := s.Begin()
	res, err := p.Generate(ctx, src, out)
	return s.Commit(t, func() {
		if apply != nil {
			apply(res, err)
		}
	})
}
