package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/tenant-session/internal/apierror"
	"github.com/namikmesic/tenant-session/internal/credential"
	"github.com/namikmesic/tenant-session/internal/stream"
	"github.com/rs/zerolog/log"
)

const maxResponseBody = 10 * 1024 * 1024

// Refresher renews the access token; concurrent callers share one outcome.
type Refresher interface {
	EnsureFreshToken(ctx context.Context) bool
}

// Navigator is told when the session is over and the user must log in again.
type Navigator interface {
	RedirectToLogin()
}

// NavigatorFunc adapts a function into a Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) RedirectToLogin() { f() }

// StreamMirror optionally receives the raw bytes of every streaming response.
type StreamMirror interface {
	Sink(sessionID uuid.UUID) stream.Sink
}

// Request describes one logical API call. It is immutable; the single retry
// after a token refresh resends it unchanged.
type Request struct {
	Method string
	Path   string
	Body   any
	// Public marks endpoints such as login where a 401 is an ordinary
	// failure and never triggers a refresh.
	Public bool
}

// Client sends JSON requests with the session's credentials and applies the
// 401 -> refresh -> retry-once policy.
type Client struct {
	baseURL   string
	http      *http.Client
	store     credential.TokenStore
	refresher Refresher
	navigator Navigator
	mirror    StreamMirror

	// loggedOut latches once the login redirect has been signalled and is
	// re-armed when a token is seen again.
	loggedOut atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Its cookie jar carries the refresh
// cookie, so it should be shared with the refresher.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithNavigator(n Navigator) Option {
	return func(c *Client) { c.navigator = n }
}

func WithStreamMirror(m StreamMirror) Option {
	return func(c *Client) { c.mirror = m }
}

func New(baseURL string, store credential.TokenStore, refresher Refresher, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		http:      http.DefaultClient,
		store:     store,
		refresher: refresher,
		navigator: NavigatorFunc(func() {}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends req and decodes a 2xx JSON body into out. out may be nil, and is
// left untouched for empty bodies. Failures are *apierror.Error values.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	call, err := c.prepare(req, contentTypeJSON)
	if err != nil {
		return err
	}

	resp, err := c.execute(ctx, call)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return apierror.Network(err)
	}
	if !isSuccess(resp.StatusCode) {
		return apierror.Normalize(resp.StatusCode, data)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &apierror.Error{
			Kind:    apierror.KindServer,
			Status:  resp.StatusCode,
			Message: "invalid response body",
			Err:     err,
		}
	}
	return nil
}

// Send is the typed form of Do.
func Send[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var out T
	err := c.Do(ctx, Request{Method: method, Path: path, Body: body}, &out)
	return out, err
}

// Stream opens a streaming POST under the same auth and retry policy as Do
// and returns a session over the event stream. The caller must Close it.
func (c *Client) Stream(ctx context.Context, path string, body any) (*stream.Session, error) {
	call, err := c.prepare(Request{Method: http.MethodPost, Path: path, Body: body}, contentTypeSSE)
	if err != nil {
		return nil, err
	}

	resp, err := c.execute(ctx, call)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return nil, apierror.Normalize(resp.StatusCode, data)
	}
	if !isEventStream(resp) {
		log.Warn().
			Str("request_id", call.id.String()).
			Str("content_type", resp.Header.Get("Content-Type")).
			Msg("streaming response is not an event stream")
	}

	respBody := resp.Body
	if c.mirror != nil {
		respBody = stream.MirrorBody(respBody, c.mirror.Sink(call.id))
	}
	return stream.NewSession(call.id, respBody), nil
}

// call is a prepared Request: the body is encoded once so the retry
// resends identical bytes under the same request id.
type call struct {
	Request
	id      uuid.UUID
	url     string
	payload []byte
	accept  string
}

func (c *Client) prepare(req Request, accept string) (*call, error) {
	target, err := buildTargetURL(c.baseURL, req.Path)
	if err != nil {
		return nil, &apierror.Error{Kind: apierror.KindNetwork, Message: err.Error(), Err: err}
	}

	var payload []byte
	if req.Body != nil {
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", req.Method, req.Path, err)
		}
	}

	return &call{Request: req, id: uuid.New(), url: target, payload: payload, accept: accept}, nil
}

type attempt int

const (
	attemptFirst attempt = iota
	attemptRetry
)

func (a attempt) String() string {
	if a == attemptRetry {
		return "retry"
	}
	return "first"
}

// execute runs the bounded state machine
//
//	sent -> done | 401 -> refreshing -> (ok) retried -> done | failed
//	                                 -> (not ok) failed
//
// A response other than 401 is returned to the caller unread.
func (c *Client) execute(ctx context.Context, cl *call) (*http.Response, error) {
	for a := attemptFirst; ; a++ {
		token := c.store.Get()
		if token != "" {
			c.loggedOut.Store(false)
		}
		start := time.Now()

		resp, err := c.send(ctx, cl, token)
		if err != nil {
			log.Debug().Err(err).Str("request_id", cl.id.String()).Str("attempt", a.String()).Msg("api request failed")
			return nil, apierror.Network(err)
		}

		log.Debug().
			Str("request_id", cl.id.String()).
			Str("method", cl.Method).
			Str("path", cl.Path).
			Int("status", resp.StatusCode).
			Str("attempt", a.String()).
			Dur("duration", time.Since(start)).
			Msg("api request")

		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		resp.Body.Close()

		if cl.Public {
			return nil, apierror.Normalize(resp.StatusCode, data)
		}
		if a == attemptRetry {
			return nil, c.expire(token, apierror.Normalize(resp.StatusCode, data))
		}
		if !c.renew(ctx, token) {
			if ctx.Err() != nil {
				return nil, apierror.Network(ctx.Err())
			}
			return nil, c.expire(token, apierror.Unauthorized(""))
		}
	}
}

func (c *Client) send(ctx context.Context, cl *call, token string) (*http.Response, error) {
	var body io.Reader
	if cl.payload != nil {
		body = bytes.NewReader(cl.payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.Method, cl.url, body)
	if err != nil {
		return nil, err
	}
	req.Header = requestHeaders(token, cl.id.String(), cl.accept)
	return c.http.Do(req)
}

// renew obtains a token newer than sent. When another caller already
// rotated the token, the retry uses that one without a new refresh.
func (c *Client) renew(ctx context.Context, sent string) bool {
	if current := c.store.Get(); current != "" && current != sent {
		return true
	}
	return c.refresher.EnsureFreshToken(ctx)
}

// expire ends the session. The caller that actually removes the token
// signals the redirect; anonymous callers share the latch, so concurrent
// terminal failures redirect once.
func (c *Client) expire(sent string, cause *apierror.Error) *apierror.Error {
	cleared := c.store.Clear()
	if cleared {
		c.loggedOut.Store(true)
	}
	if cleared || (sent == "" && c.loggedOut.CompareAndSwap(false, true)) {
		log.Warn().Str("reason", cause.Message).Msg("session expired, redirecting to login")
		c.navigator.RedirectToLogin()
	}
	cause.Kind = apierror.KindUnauthorized
	return cause
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}
