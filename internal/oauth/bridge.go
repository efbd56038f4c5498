package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/tenant-session/internal/apierror"
	"github.com/rs/zerolog/log"
)

const (
	// CorrelationParam is appended to the authorize URL and must be echoed
	// back by the callback that posts the result.
	CorrelationParam = "correlation_id"

	DefaultTimeout      = 120 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

var (
	// ErrPopupClosed means the user closed the window before a result arrived.
	ErrPopupClosed = errors.New("authorization window closed")
	// ErrPopupBlocked means the window could not be opened at all.
	ErrPopupBlocked = errors.New("authorization window could not be opened")
)

// AuthorizationError is an explicit ERROR result posted by the callback.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return "authorization failed"
	}
	return "authorization failed: " + e.Message
}

type MessageType string

const (
	MessageSuccess MessageType = "SUCCESS"
	MessageError   MessageType = "ERROR"
)

// Message is a result delivered to the bridge, the equivalent of a window
// message event sent by the popup.
type Message struct {
	Origin        string
	Type          MessageType
	CorrelationID string
	Error         string
}

// Popup is an open authorization window.
type Popup interface {
	Closed() bool
	Close() error
}

// Opener opens an authorization window at url.
type Opener interface {
	Open(ctx context.Context, url string) (Popup, error)
}

// Bridge correlates popup results with the Authorize call that opened them.
type Bridge struct {
	origin       string
	opener       Opener
	timeout      time.Duration
	pollInterval time.Duration

	mu        sync.Mutex
	listeners map[string]chan Message
}

type Option func(*Bridge)

func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) { b.pollInterval = d }
}

// NewBridge accepts messages only from origin.
func NewBridge(origin string, opener Opener, opts ...Option) *Bridge {
	b := &Bridge{
		origin:       origin,
		opener:       opener,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		listeners:    make(map[string]chan Message),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Post delivers msg to the matching Authorize call. It reports whether a
// listener accepted it.
func (b *Bridge) Post(msg Message) bool {
	if msg.Origin != b.origin {
		log.Warn().Str("origin", msg.Origin).Msg("ignoring authorization message from foreign origin")
		return false
	}

	b.mu.Lock()
	ch, ok := b.listeners[msg.CorrelationID]
	b.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

// Listening reports how many Authorize calls are waiting for a result.
func (b *Bridge) Listening() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Authorize opens authorizeURL and waits for its result, for the popup to be
// closed, for ctx to end or for the timeout, whichever happens first. The
// listener and poll ticker are released on every path.
func (b *Bridge) Authorize(ctx context.Context, authorizeURL string) error {
	id := uuid.NewString()
	target, err := withCorrelation(authorizeURL, id)
	if err != nil {
		return err
	}

	results := make(chan Message, 1)
	b.mu.Lock()
	b.listeners[id] = results
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}()

	popup, err := b.opener.Open(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}

	poll := time.NewTicker(b.pollInterval)
	defer poll.Stop()
	deadline := time.NewTimer(b.timeout)
	defer deadline.Stop()

	for {
		select {
		case msg := <-results:
			if done, err := settle(popup, msg); done {
				return err
			}
		case <-poll.C:
			if !popup.Closed() {
				continue
			}
			// A result posted just before the window closed still wins.
			select {
			case msg := <-results:
				if done, err := settle(popup, msg); done {
					return err
				}
			default:
			}
			return ErrPopupClosed
		case <-deadline.C:
			closePopup(popup)
			return apierror.Timeout(fmt.Sprintf("authorization not completed within %s", b.timeout))
		case <-ctx.Done():
			closePopup(popup)
			return ctx.Err()
		}
	}
}

// settle reports the outcome carried by msg, if it carries one.
func settle(popup Popup, msg Message) (bool, error) {
	switch msg.Type {
	case MessageSuccess:
		closePopup(popup)
		return true, nil
	case MessageError:
		closePopup(popup)
		return true, &AuthorizationError{Message: msg.Error}
	}
	log.Debug().Str("type", string(msg.Type)).Msg("ignoring authorization message")
	return false, nil
}

func closePopup(p Popup) {
	if err := p.Close(); err != nil {
		log.Debug().Err(err).Msg("failed to close authorization window")
	}
}

func withCorrelation(rawURL, id string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}
	q := u.Query()
	q.Set(CorrelationParam, id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
