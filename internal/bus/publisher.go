package bus

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/tenant-session/internal/stream"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// LoginRequired is published when the session ends and the user must log in.
type LoginRequired struct {
	Profile string    `json:"profile"`
	At      time.Time `json:"at"`
}

// Publisher broadcasts session signals over core NATS. Nothing is persisted;
// observers that are not subscribed miss the message.
type Publisher struct {
	nc      *nats.Conn
	profile string
}

func NewPublisher(nc *nats.Conn, profile string) *Publisher {
	return &Publisher{nc: nc, profile: profile}
}

// RedirectToLogin publishes LoginRequired.
func (p *Publisher) RedirectToLogin() {
	data, err := json.Marshal(LoginRequired{Profile: p.profile, At: time.Now().UTC()})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode login required event")
		return
	}
	if err := p.nc.Publish(LoginRequiredSubject, data); err != nil {
		log.Warn().Err(err).Msg("failed to publish login required event")
	}
}

// Sink mirrors the raw chunks of one streaming response to
// StreamSubject(sessionID).
func (p *Publisher) Sink(sessionID uuid.UUID) stream.Sink {
	subject := StreamSubject(sessionID.String())
	return func(chunk []byte) {
		if err := p.nc.Publish(subject, chunk); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("failed to mirror stream chunk")
		}
	}
}

// Observer receives what a Publisher broadcasts.
type Observer struct {
	nc *nats.Conn
}

func NewObserver(nc *nats.Conn) *Observer {
	return &Observer{nc: nc}
}

func (o *Observer) OnLoginRequired(fn func(LoginRequired)) (*nats.Subscription, error) {
	return o.nc.Subscribe(LoginRequiredSubject, func(msg *nats.Msg) {
		var ev LoginRequired
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Msg("malformed login required event")
			return
		}
		fn(ev)
	})
}

// OnStream delivers mirrored chunks of every stream session.
func (o *Observer) OnStream(fn func(sessionID string, chunk []byte)) (*nats.Subscription, error) {
	return o.nc.Subscribe(StreamSubjectPrefix+">", func(msg *nats.Msg) {
		fn(strings.TrimPrefix(msg.Subject, StreamSubjectPrefix), msg.Data)
	})
}
