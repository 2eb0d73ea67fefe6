// Package session is the explicit signed-in state of a portal user. A session
// is created on sign-in, restored from its token on every request and ended
// on sign-out. Ended sessions are remembered in Redis until they would have
// expired anyway.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/auth"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// ErrNoSession is returned for missing, invalid, expired and ended tokens.
var ErrNoSession = errors.New("no active session")

const revokedKeyPrefix = "session:revoked:"

// Session is one signed-in user.
type Session struct {
	ID        string      `json:"id"`
	Token     string      `json:"token"`
	UserID    utils.SixID `json:"user_id"`
	IsAdmin   bool        `json:"is_admin"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Actor is the session as seen by the services.
func (s *Session) Actor() services.Actor {
	return services.Actor{UserID: s.UserID, IsAdmin: s.IsAdmin}
}

// Profile is the identity used to prefill and lock request form fields.
func (s *Session) Profile() *models.Contact {
	return &models.Contact{Name: s.Name, Email: s.Email}
}

// UserLookup is the part of the user service Restore and Refresh need.
type UserLookup interface {
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
}

type Manager struct {
	rdb    *redis.Client
	secret string
	ttl    time.Duration
	users  UserLookup
}

// NewManager issues tokens valid for ttl. rdb may be nil, in which case
// sign-out cannot revoke tokens before they expire.
func NewManager(rdb *redis.Client, secret string, ttl time.Duration, users UserLookup) *Manager {
	return &Manager{rdb: rdb, secret: secret, ttl: ttl, users: users}
}

// Start signs user in.
func (m *Manager) Start(ctx context.Context, user *models.User) (*Session, error) {
	token, claims, err := auth.GenerateJWT(auth.Identity{
		UserID:  user.ID,
		IsAdmin: user.IsAdmin,
		Name:    user.Name,
		Email:   user.Email,
	}, m.secret, m.ttl)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Session %s started for user %s", claims.ID, user.ID)
	return &Session{
		ID:        claims.ID,
		Token:     token,
		UserID:    user.ID,
		IsAdmin:   user.IsAdmin,
		Name:      user.Name,
		Email:     user.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Restore rebuilds the session a token stands for from the current user record.
func (m *Manager) Restore(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	claims, err := auth.ValidateJWT(token, m.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	id, err := claims.Identity()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	if m.rdb != nil {
		n, err := m.rdb.Exists(ctx, revokedKeyPrefix+claims.ID).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check session %s: %w", claims.ID, err)
		}
		if n > 0 {
			return nil, ErrNoSession
		}
	}
	// Role and profile come from the user record, not the claims, so a demoted
	// admin loses access on the next request.
	user, err := m.users.FindByID(ctx, id.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s no longer exists", ErrNoSession, id.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user of session %s: %w", claims.ID, err)
	}
	return &Session{
		ID:        claims.ID,
		Token:     token,
		UserID:    user.ID,
		IsAdmin:   user.IsAdmin,
		Name:      user.Name,
		Email:     user.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SignOut ends s. Ending an already expired session is a no-op.
func (m *Manager) SignOut(ctx context.Context, s *Session) error {
	if m.rdb == nil {
		return nil
	}
	remaining := time.Until(s.ExpiresAt)
	if remaining <= 0 {
		return nil
	}
	if err := m.rdb.Set(ctx, revokedKeyPrefix+s.ID, s.UserID.String(), remaining).Err(); err != nil {
		return fmt.Errorf("failed to end session %s: %w", s.ID, err)
	}
	logger.Debugf("Session %s ended for user %s", s.ID, s.UserID)
	return nil
}

// Refresh replaces s with a new session built from the current user record,
// so profile and role changes show up without signing in again.
func (m *Manager) Refresh(ctx context.Context, s *Session) (*Session, error) {
	user, err := m.users.FindByID(ctx, s.UserID)
	if err != nil {
		return nil, err
	}
	next, err := m.Start(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := m.SignOut(ctx, s); err != nil {
		logger.Warnf("Refreshed session %s but could not end the old one: %v", next.ID, err)
	}
	return next, nil
}

type ctxKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session attached by WithSession, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
