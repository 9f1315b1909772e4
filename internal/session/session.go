// Package session resolves and holds the authenticated user. Everything that
// talks to the backend on the user's behalf is gated on it.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// Authenticator is the slice of the backend the gate needs.
type Authenticator interface {
	Me(ctx context.Context) (*models.Session, error)
	Login(ctx context.Context, username string) (*models.Session, error)
	Register(ctx context.Context, username, email string) (*models.Session, error)
	Logout(ctx context.Context) error
}

// UnblockFunc runs once a session becomes valid.
type UnblockFunc func(ctx context.Context, s models.Session)

// Gate owns the current Session.
type Gate struct {
	auth   Authenticator
	logger zerolog.Logger

	mu         sync.RWMutex
	current    *models.Session
	onUnblock  []UnblockFunc
	onTeardown []func()
}

// NewGate creates a gate with no session.
func NewGate(auth Authenticator, logger zerolog.Logger) *Gate {
	return &Gate{
		auth:   auth,
		logger: logging.WithComponent(logger, "session"),
	}
}

// OnUnblock registers a hook run after Resume or Authenticate succeeds.
func (g *Gate) OnUnblock(fn UnblockFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onUnblock = append(g.onUnblock, fn)
}

// OnTeardown registers a hook run when the session ends.
func (g *Gate) OnTeardown(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTeardown = append(g.onTeardown, fn)
}

// Resume asks the backend whether the stored cookie is still a valid session.
// On any failure the session is cleared and no unblock hook runs.
func (g *Gate) Resume(ctx context.Context) (*models.Session, error) {
	s, err := g.auth.Me(ctx)
	if err != nil {
		g.logger.Info().Err(err).Msg("No session to resume")
		if g.clear() {
			g.runTeardown()
		}
		return nil, err
	}

	g.logger.Info().Str("username", s.Username).Msg("Session resumed")
	g.establish(ctx, *s)
	return s, nil
}

// Authenticate logs in or registers. Local validation failures never reach
// the network. A rejected or failed request leaves the current session untouched.
func (g *Gate) Authenticate(ctx context.Context, mode models.AuthMode, username, email string) (*models.Session, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if mode != models.AuthLogin && mode != models.AuthRegister {
		return nil, apperrors.NewValidationError("mode", mode, "Mode must be login or register")
	}
	if username == "" {
		return nil, apperrors.NewValidationError("username", username, "Username is required")
	}

	var (
		s   *models.Session
		err error
	)
	if mode == models.AuthRegister {
		s, err = g.auth.Register(ctx, username, email)
	} else {
		s, err = g.auth.Login(ctx, username)
	}
	if err != nil {
		g.logger.Warn().Err(err).Str("mode", string(mode)).Str("username", username).Msg("Authentication failed")
		return nil, err
	}

	g.logger.Info().Str("mode", string(mode)).Str("username", s.Username).Msg("Authenticated")

	// Switching users must not leak the previous user's state.
	if g.clear() {
		g.runTeardown()
	}
	g.establish(ctx, *s)
	return s, nil
}

// Logout ends the session. The remote call is best effort; local state is
// always cleared and teardown hooks always run.
func (g *Gate) Logout(ctx context.Context) {
	if err := g.auth.Logout(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("Logout request failed")
	}
	g.clear()
	g.runTeardown()
	g.logger.Info().Msg("Logged out")
}

// Expire drops a session the backend no longer accepts. It runs teardown
// without contacting the backend and reports whether a session was held.
func (g *Gate) Expire() bool {
	if !g.clear() {
		return false
	}
	g.runTeardown()
	g.logger.Warn().Msg("Session expired")
	return true
}

// Current returns the session, if any.
func (g *Gate) Current() (models.Session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.current == nil {
		return models.Session{}, false
	}
	return *g.current, true
}

// Authenticated reports whether a session is held.
func (g *Gate) Authenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current != nil
}

// Require returns ErrNotAuthenticated wrapped in an AuthError when no session is held.
func (g *Gate) Require(op string) error {
	if g.Authenticated() {
		return nil
	}
	return apperrors.NewAuthError(op, "Please log in first", apperrors.ErrNotAuthenticated)
}

func (g *Gate) establish(ctx context.Context, s models.Session) {
	g.mu.Lock()
	g.current = &s
	hooks := append([]UnblockFunc(nil), g.onUnblock...)
	g.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx, s)
	}
}

// clear drops the session and reports whether one was held.
func (g *Gate) clear() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	had := g.current != nil
	g.current = nil
	return had
}

func (g *Gate) runTeardown() {
	g.mu.RLock()
	hooks := append([]func(){}, g.onTeardown...)
	g.mu.RUnlock()

	for _, fn := range hooks {
		fn()
	}
}
