package refresh

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/namikmesic/tenant-session/internal/credential"
	"github.com/rs/zerolog/log"
)

const (
	// Path is the cookie-authenticated refresh endpoint, relative to the API base.
	Path = "/auth/refresh"

	defaultTimeout = 30 * time.Second
	maxBody        = 64 * 1024
)

// Doer sends HTTP requests. *http.Client satisfies it; the client's cookie
// jar carries the refresh-token cookie.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// operation is one in-flight refresh shared by every caller that observes it.
type operation struct {
	done chan struct{}
	ok   bool
}

// Refresher renews the access token with at most one refresh call in flight.
type Refresher struct {
	client  Doer
	url     string
	store   credential.TokenStore
	timeout time.Duration

	inflight atomic.Pointer[operation]
	waiters  atomic.Int64
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithTimeout bounds a single refresh call.
func WithTimeout(d time.Duration) Option {
	return func(r *Refresher) { r.timeout = d }
}

func New(client Doer, baseURL string, store credential.TokenStore, opts ...Option) *Refresher {
	r := &Refresher{
		client:  client,
		url:     strings.TrimRight(baseURL, "/") + Path,
		store:   store,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// EnsureFreshToken reports whether a new access token was obtained. Concurrent
// callers share the outcome of a single refresh call. A caller whose ctx ends
// first gets false without affecting the shared refresh.
func (r *Refresher) EnsureFreshToken(ctx context.Context) bool {
	for {
		if op := r.inflight.Load(); op != nil {
			return r.wait(ctx, op)
		}
		op := &operation{done: make(chan struct{})}
		if r.inflight.CompareAndSwap(nil, op) {
			go r.run(op)
			return r.wait(ctx, op)
		}
	}
}

// Waiters reports how many callers are blocked on the in-flight refresh.
func (r *Refresher) Waiters() int64 {
	return r.waiters.Load()
}

func (r *Refresher) wait(ctx context.Context, op *operation) bool {
	r.waiters.Add(1)
	defer r.waiters.Add(-1)

	select {
	case <-op.done:
		return op.ok
	case <-ctx.Done():
		return false
	}
}

func (r *Refresher) run(op *operation) {
	start := time.Now()
	defer func() {
		r.inflight.CompareAndSwap(op, nil)
		close(op.done)
		log.Debug().
			Bool("ok", op.ok).
			Int64("waiters", r.waiters.Load()).
			Dur("duration", time.Since(start)).
			Msg("token refresh settled")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	op.ok = r.refresh(ctx)
}

func (r *Refresher) refresh(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to build refresh request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("token refresh request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		log.Warn().Int("status", resp.StatusCode).Msg("token refresh rejected")
		return false
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil || body.AccessToken == "" {
		log.Warn().Err(err).Msg("token refresh returned no access token")
		return false
	}

	r.store.Set(body.AccessToken)
	log.Info().Msg("access token refreshed")
	return true
}
