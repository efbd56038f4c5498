package stream_test

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"
	"github.com/namikmesic/tenant-session/internal/apierror"
	"github.com/namikmesic/tenant-session/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackedBody struct {
	io.Reader
	mu     sync.Mutex
	closed int
}

func (b *trackedBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *trackedBody) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func TestSession_DrainFoldsInOrder(t *testing.T) {
	t.Parallel()

	body := &trackedBody{Reader: iotest.HalfReader(strings.NewReader(sample))}
	s := stream.NewSession(uuid.New(), body)

	var seen []stream.EventType
	reply, err := s.Drain(func(ev stream.Event) { seen = append(seen, ev.Type) })

	require.NoError(t, err)
	assert.Equal(t, []stream.EventType{
		stream.EventText, stream.EventToolStatus, stream.EventText, stream.EventError, stream.EventText,
	}, seen)
	assert.Equal(t, "Hello wörld ✓!", reply.Text)
	assert.Equal(t, []string{"tool failed"}, reply.Errors)
	assert.Equal(t, 1, body.closeCount())
}

func TestSession_NextReturnsEOFAndReleasesBody(t *testing.T) {
	t.Parallel()

	body := &trackedBody{Reader: iotest.OneByteReader(strings.NewReader("data: {\"type\":\"text\",\"content\":\"hi\"}\n\n"))}
	s := stream.NewSession(uuid.New(), body)

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "hi", ev.Content)
	assert.Equal(t, "hi", s.Reply().Text)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, body.closeCount())

	require.NoError(t, s.Close())
	assert.Equal(t, 1, body.closeCount())
}

func TestSession_ReadErrorIsNetworkAndReleasesBody(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	body := &trackedBody{Reader: io.MultiReader(
		strings.NewReader("data: {\"type\":\"text\",\"content\":\"partial\"}\n\n"),
		iotest.ErrReader(boom),
	)}
	s := stream.NewSession(uuid.New(), body)

	reply, err := s.Drain(nil)

	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindNetwork))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", reply.Text)
	assert.Equal(t, 1, body.closeCount())
}

func TestSession_CloseStopsReading(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	s := stream.NewSession(uuid.New(), pr)

	go func() {
		_, _ = pw.Write([]byte("data: {\"type\":\"text\",\"content\":\"one\"}\n\n"))
	}()
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", ev.Content)

	require.NoError(t, s.Close())
	_, err = s.Next()
	assert.ErrorIs(t, err, stream.ErrSessionClosed)
}

func TestMirrorBody_CopiesChunksInOrder(t *testing.T) {
	t.Parallel()

	var chunks []string
	body := &trackedBody{Reader: iotest.HalfReader(strings.NewReader(sample))}
	mirrored := stream.MirrorBody(body, func(chunk []byte) { chunks = append(chunks, string(chunk)) })

	s := stream.NewSession(uuid.New(), mirrored)
	_, err := s.Drain(nil)

	require.NoError(t, err)
	assert.Equal(t, sample, strings.Join(chunks, ""))
	assert.Equal(t, 1, body.closeCount())
}

func TestMirrorBody_NilSinkIsPassthrough(t *testing.T) {
	t.Parallel()

	body := &trackedBody{Reader: strings.NewReader("")}
	assert.Same(t, body, stream.MirrorBody(body, nil))
}
