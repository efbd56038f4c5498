// Package auth holds the login, registration and logout flows. Together with
// the refresher they are the only writers of the access token.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/namikmesic/tenant-session/internal/api"
	"github.com/namikmesic/tenant-session/internal/credential"
	"github.com/rs/zerolog/log"
)

// ErrNoToken is returned when a login or registration succeeds without
// issuing an access token.
var ErrNoToken = errors.New("server did not issue an access token")

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Company  string `json:"company,omitempty"`
}

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	TenantID string `json:"tenant_id"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type Service struct {
	api   *api.Client
	store credential.TokenStore
}

func NewService(c *api.Client, store credential.TokenStore) *Service {
	return &Service{api: c, store: store}
}

func (s *Service) Login(ctx context.Context, creds Credentials) error {
	return s.authenticate(ctx, "/auth/login", creds)
}

func (s *Service) Register(ctx context.Context, reg Registration) error {
	return s.authenticate(ctx, "/auth/register", reg)
}

func (s *Service) authenticate(ctx context.Context, path string, body any) error {
	var resp tokenResponse
	err := s.api.Do(ctx, api.Request{Method: http.MethodPost, Path: path, Body: body, Public: true}, &resp)
	if err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return ErrNoToken
	}
	s.store.Set(resp.AccessToken)
	log.Info().Str("path", path).Msg("authenticated")
	return nil
}

// Logout tells the server to revoke the refresh cookie and always clears the
// local token, even if that call fails.
func (s *Service) Logout(ctx context.Context) error {
	err := s.api.Do(ctx, api.Request{Method: http.MethodPost, Path: "/auth/logout", Public: true}, nil)
	s.store.Clear()
	if err != nil {
		log.Warn().Err(err).Msg("server logout failed, local session cleared")
	}
	return err
}

func (s *Service) Me(ctx context.Context) (User, error) {
	return api.Send[User](ctx, s.api, http.MethodGet, "/auth/me", nil)
}
