package stream

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/namikmesic/tenant-session/internal/apierror"
	"github.com/rs/zerolog/log"
)

const readBufferSize = 32 * 1024

// ErrSessionClosed is returned by Next after Close.
var ErrSessionClosed = errors.New("stream session closed")

// Session reads one streaming response. Next is not safe for concurrent use;
// Close may be called from any goroutine to abandon the stream.
type Session struct {
	ID uuid.UUID

	body    io.ReadCloser
	decoder *Decoder
	acc     Accumulator
	buf     []byte
	pending []Event
	err     error // terminal, set once reading stops

	closed    atomic.Bool
	closeOnce sync.Once
}

func NewSession(id uuid.UUID, body io.ReadCloser) *Session {
	return &Session{
		ID:      id,
		body:    body,
		decoder: NewDecoder(),
		buf:     make([]byte, readBufferSize),
	}
}

// Next returns the next event in arrival order, or io.EOF once the stream
// has ended and every event was delivered. The body is released on every
// terminal path.
func (s *Session) Next() (Event, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return Event{}, s.err
		}
		if s.closed.Load() {
			s.err = ErrSessionClosed
			return Event{}, s.err
		}
		s.read()
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	s.acc.Apply(ev)
	return ev, nil
}

func (s *Session) read() {
	n, err := s.body.Read(s.buf)
	if n > 0 {
		s.pending = append(s.pending, s.decoder.Feed(s.buf[:n])...)
	}
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, io.EOF):
		s.pending = append(s.pending, s.decoder.Finish()...)
		s.err = io.EOF
	case s.closed.Load():
		s.err = ErrSessionClosed
	default:
		log.Warn().Err(err).Str("session_id", s.ID.String()).Msg("stream read failed")
		s.err = apierror.Network(err)
	}
	s.Close()
}

// Reply returns the fold of every event delivered so far.
func (s *Session) Reply() Reply {
	return s.acc.Reply()
}

// Drain delivers every remaining event to onEvent (which may be nil) and
// returns the final reply. The session is closed on return.
func (s *Session) Drain(onEvent func(Event)) (Reply, error) {
	defer s.Close()
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return s.Reply(), nil
		}
		if err != nil {
			return s.Reply(), err
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.body.Close()
	})
	return err
}
