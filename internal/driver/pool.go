package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rendis/autoflow/pkg/schema"
)

// Pool shares one driver session per profile across concurrent executions.
// Sessions are reference counted: the first Acquire opens and configures the
// session, the last Release closes it.
type Pool struct {
	factory Factory
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	drv  Driver
	refs int
	// ready is closed once the session is opened (or failed to open).
	ready chan struct{}
	err   error
}

// NewPool creates a pool that opens sessions with factory.
func NewPool(factory Factory, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		factory:  factory,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Acquire returns the session for profile, opening it and applying the
// profile on first use. Every successful Acquire must be paired with exactly
// one Release.
func (p *Pool) Acquire(ctx context.Context, profile *schema.Profile) (Driver, error) {
	if profile == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "profile is required")
	}

	p.mu.Lock()
	if s, ok := p.sessions[profile.ID]; ok {
		s.refs++
		p.mu.Unlock()
		return p.await(ctx, profile.ID, s)
	}
	s := &session{refs: 1, ready: make(chan struct{})}
	p.sessions[profile.ID] = s
	p.mu.Unlock()

	s.drv, s.err = p.open(ctx, profile)
	close(s.ready)
	if s.err != nil {
		p.mu.Lock()
		delete(p.sessions, profile.ID)
		p.mu.Unlock()
		return nil, s.err
	}
	p.logger.Debug("driver session opened", "profile_id", profile.ID)
	return s.drv, nil
}

func (p *Pool) await(ctx context.Context, profileID string, s *session) (Driver, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		p.release(profileID, s)
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.drv, nil
}

func (p *Pool) open(ctx context.Context, profile *schema.Profile) (Driver, error) {
	drv, err := p.factory(ctx)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDriver, "open session for profile %s: %s", profile.ID, err.Error()).WithCause(err)
	}
	if err := drv.ApplyProfile(ctx, profile); err != nil {
		_ = drv.Close()
		return nil, schema.NewErrorf(schema.ErrCodeDriver, "apply profile %s: %s", profile.ID, err.Error()).WithCause(err)
	}
	return drv, nil
}

// Release drops one reference to the profile's session and closes it when
// no references remain. Releasing an unknown profile is a no-op.
func (p *Pool) Release(profileID string) {
	p.mu.Lock()
	s, ok := p.sessions[profileID]
	p.mu.Unlock()
	if ok {
		p.release(profileID, s)
	}
}

func (p *Pool) release(profileID string, s *session) {
	p.mu.Lock()
	if p.sessions[profileID] != s {
		p.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, profileID)
	p.mu.Unlock()

	<-s.ready
	if s.drv == nil {
		return
	}
	if err := s.drv.Close(); err != nil {
		p.logger.Warn("driver session close failed", "profile_id", profileID, "error", err)
		return
	}
	p.logger.Debug("driver session closed", "profile_id", profileID)
}

// Refs returns the reference count of the profile's session.
func (p *Pool) Refs(profileID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[profileID]; ok {
		return s.refs
	}
	return 0
}

// Close closes every open session regardless of reference counts.
func (p *Pool) Close() error {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*session)
	p.mu.Unlock()

	var firstErr error
	for id, s := range sessions {
		<-s.ready
		if s.drv == nil {
			continue
		}
		if err := s.drv.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %s: %w", id, err)
		}
	}
	return firstErr
}
