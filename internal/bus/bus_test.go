package bus_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/tenant-session/internal/api"
	"github.com/namikmesic/tenant-session/internal/bus"
	"github.com/namikmesic/tenant-session/internal/credential"
	"github.com/namikmesic/tenant-session/internal/stream"
	nats "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := bus.NewServer()
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	nc, err := srv.Connect()
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestPublisher_LoginRequired(t *testing.T) {
	t.Parallel()

	nc := connect(t)
	got := make(chan bus.LoginRequired, 1)
	sub, err := bus.NewObserver(nc).OnLoginRequired(func(ev bus.LoginRequired) { got <- ev })
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, nc.Flush())

	bus.NewPublisher(nc, "work").RedirectToLogin()

	select {
	case ev := <-got:
		assert.Equal(t, "work", ev.Profile)
		assert.WithinDuration(t, time.Now(), ev.At, time.Minute)
	case <-time.After(5 * time.Second):
		t.Fatal("login required event not received")
	}
}

type chunkLog struct {
	mu     sync.Mutex
	ids    map[string]bool
	chunks []string
}

func (c *chunkLog) add(id string, chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[id] = true
	c.chunks = append(c.chunks, string(chunk))
}

func (c *chunkLog) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.chunks, "")
}

func TestPublisher_SinkMirrorsChunks(t *testing.T) {
	t.Parallel()

	nc := connect(t)
	seen := &chunkLog{ids: make(map[string]bool)}
	sub, err := bus.NewObserver(nc).OnStream(seen.add)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, nc.Flush())

	id := uuid.New()
	sink := bus.NewPublisher(nc, "default").Sink(id)
	sink([]byte("data: a\n"))
	sink([]byte("\n"))
	require.NoError(t, nc.Flush())

	assert.Eventually(t, func() bool { return seen.joined() == "data: a\n\n" }, 5*time.Second, 5*time.Millisecond)
	seen.mu.Lock()
	assert.True(t, seen.ids[id.String()])
	seen.mu.Unlock()
}

type noRefresh struct{}

func (noRefresh) EnsureFreshToken(context.Context) bool { return false }

func TestPublisher_WiredIntoClient(t *testing.T) {
	t.Parallel()

	nc := connect(t)
	sse := "data: {\"type\":\"text\",\"content\":\"hi\"}\n\n"
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/expired" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"expired"}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	t.Cleanup(backend.Close)

	seen := &chunkLog{ids: make(map[string]bool)}
	obs := bus.NewObserver(nc)
	streamSub, err := obs.OnStream(seen.add)
	require.NoError(t, err)
	t.Cleanup(func() { _ = streamSub.Unsubscribe() })
	redirected := make(chan bus.LoginRequired, 1)
	loginSub, err := obs.OnLoginRequired(func(ev bus.LoginRequired) { redirected <- ev })
	require.NoError(t, err)
	t.Cleanup(func() { _ = loginSub.Unsubscribe() })
	require.NoError(t, nc.Flush())

	pub := bus.NewPublisher(nc, "default")
	store := credential.NewStore()
	store.Set("T1")
	client := api.New(backend.URL, store, noRefresh{}, api.WithNavigator(pub), api.WithStreamMirror(pub))

	s, err := client.Stream(context.Background(), "/chat", nil)
	require.NoError(t, err)
	reply, err := s.Drain(func(stream.Event) {})
	require.NoError(t, err)
	assert.Equal(t, "hi", reply.Text)
	assert.Eventually(t, func() bool { return seen.joined() == sse }, 5*time.Second, 5*time.Millisecond)

	err = client.Do(context.Background(), api.Request{Method: http.MethodGet, Path: "/expired"}, nil)
	require.Error(t, err)
	select {
	case ev := <-redirected:
		assert.Equal(t, "default", ev.Profile)
	case <-time.After(5 * time.Second):
		t.Fatal("redirect was not published")
	}
}
