package api

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"estate_admin/models"
)

// SessionStore persists the credential between runs
type SessionStore interface {
	LoadSession() (token string, user *models.User, err error)
	SaveSession(token string, user *models.User) error
	ClearSession() error
}

// Session holds the bearer credential and the logged-in user. It is passed
// to the Client explicitly; nothing else reads the credential.
type Session struct {
	mu             sync.RWMutex
	token          string
	user           *models.User
	store          SessionStore
	onUnauthorized func()
	logger         *zap.Logger
}

// NewSession restores any saved credential from store. store may be nil for
// an in-memory session.
func NewSession(store SessionStore, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{store: store, logger: logger}
	if store == nil {
		return s, nil
	}

	token, user, err := store.LoadSession()
	if err != nil {
		return nil, err
	}
	s.token, s.user = token, user
	return s, nil
}

// OnUnauthorized installs the callback run after a 401 clears the session
func (s *Session) OnUnauthorized(fn func()) {
	s.mu.Lock()
	s.onUnauthorized = fn
	s.mu.Unlock()
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) LoggedIn() bool {
	return s.Token() != ""
}

func (s *Session) Set(token string, user *models.User) error {
	s.mu.Lock()
	s.token, s.user = token, user
	s.mu.Unlock()

	if s.store != nil {
		return s.store.SaveSession(token, user)
	}
	return nil
}

func (s *Session) Clear() error {
	s.mu.Lock()
	s.token, s.user = "", nil
	s.mu.Unlock()

	if s.store != nil {
		return s.store.ClearSession()
	}
	return nil
}

// Expired decodes the token's exp claim without verifying the signature.
// Opaque tokens and tokens without exp never report expiry.
func (s *Session) Expired(now time.Time) bool {
	token := s.Token()
	if token == "" {
		return false
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

func (s *Session) unauthorized() {
	if err := s.Clear(); err != nil {
		s.logger.Warn("clear session", zap.Error(err))
	}

	s.mu.RLock()
	fn := s.onUnauthorized
	s.mu.RUnlock()

	if fn != nil {
		fn()
	}
}
