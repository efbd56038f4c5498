package credential

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// CookieName is the cookie the access token is mirrored into for
	// same-site server reads.
	CookieName = "access_token"

	cookieMaxAge = 7 * 24 * 60 * 60

	backendTimeout = 5 * time.Second
)

// TokenStore holds the current access token. An empty token means anonymous.
type TokenStore interface {
	Get() string
	Set(token string)
	// Clear removes the token and reports whether this call removed it.
	Clear() bool
}

// Backend persists the token across process restarts.
type Backend interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// Store is the process-wide TokenStore. The in-memory value is
// authoritative; the backend and cookie jar are mirrors.
type Store struct {
	mu      sync.RWMutex
	token   string
	backend Backend
	jar     http.CookieJar
	origin  *url.URL
}

var _ TokenStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithBackend makes the store write through to a durable backend.
func WithBackend(b Backend) Option {
	return func(s *Store) { s.backend = b }
}

// WithCookieMirror mirrors the token into jar as a cookie scoped to origin.
func WithCookieMirror(jar http.CookieJar, origin *url.URL) Option {
	return func(s *Store) {
		s.jar = jar
		s.origin = &url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/"}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Restore loads a previously persisted token. It is a no-op without a backend.
func (s *Store) Restore(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	token, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.mirror(token)
	return nil
}

func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the token. Setting an empty token is equivalent to Clear.
func (s *Store) Set(token string) {
	if token == "" {
		s.Clear()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.mirror(token)

	if s.backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()
		if err := s.backend.Save(ctx, token); err != nil {
			log.Error().Err(err).Msg("failed to persist access token")
		}
	}
}

func (s *Store) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return false
	}
	s.token = ""
	s.mirror("")

	if s.backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		defer cancel()
		if err := s.backend.Delete(ctx); err != nil {
			log.Error().Err(err).Msg("failed to delete persisted access token")
		}
	}
	return true
}

// mirror must be called with mu held.
func (s *Store) mirror(token string) {
	if s.jar == nil {
		return
	}
	c := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		c.MaxAge = -1
	}
	s.jar.SetCookies(s.origin, []*http.Cookie{c})
}
