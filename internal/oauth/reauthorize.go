package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/namikmesic/tenant-session/internal/api"
	"github.com/rs/zerolog/log"
)

// ErrNoAuthorizeURL is returned when the backend does not hand out a URL.
var ErrNoAuthorizeURL = errors.New("backend returned no authorize url")

type reauthorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// Reauthorizer renews a data connection's provider grant through the popup.
type Reauthorizer struct {
	api    *api.Client
	bridge *Bridge
}

func NewReauthorizer(c *api.Client, b *Bridge) *Reauthorizer {
	return &Reauthorizer{api: c, bridge: b}
}

// Reauthorize asks the backend for an authorize URL for connectionID and
// waits for the popup flow to finish.
func (r *Reauthorizer) Reauthorize(ctx context.Context, connectionID string) error {
	path := "/connections/" + url.PathEscape(connectionID) + "/reauthorize"
	resp, err := api.Send[reauthorizeResponse](ctx, r.api, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	if resp.AuthorizeURL == "" {
		return ErrNoAuthorizeURL
	}

	if err := r.bridge.Authorize(ctx, resp.AuthorizeURL); err != nil {
		return err
	}
	log.Info().Str("connection_id", connectionID).Msg("connection reauthorized")
	return nil
}
