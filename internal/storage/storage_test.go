package storage_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/namikmesic/tenant-session/internal/credential"
	"github.com/namikmesic/tenant-session/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB emulates the credentials table.
type fakeDB struct {
	mu       sync.Mutex
	rows     map[string]string
	stmts    []string
	queryErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string]string)}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stmts = append(f.stmts, sql)
	switch {
	case strings.Contains(sql, "INSERT INTO credentials"):
		f.rows[args[0].(string)] = args[1].(string)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "DELETE FROM credentials"):
		delete(f.rows, args[0].(string))
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return fakeRow{err: f.queryErr}
	}
	v, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{val: v}
}

func (f *fakeDB) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stmts...)
}

type fakeRow struct {
	val string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.val
	return nil
}

func newWriter(t *testing.T, db storage.Execer, buffer, batch int) *storage.BatchWriter {
	t.Helper()
	w := storage.NewBatchWriter(db, buffer, batch, 60_000)
	t.Cleanup(w.Shutdown)
	return w
}

func TestCredentialBackend_RoundTrip(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	b := storage.NewCredentialBackend(db, newWriter(t, db, 16, 100), "default")
	ctx := context.Background()

	got, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, b.Save(ctx, "T1"))
	got, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T1", got)

	require.NoError(t, b.Delete(ctx))
	got, err = b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCredentialBackend_ProfilesAreSeparate(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	w := newWriter(t, db, 16, 100)
	work := storage.NewCredentialBackend(db, w, "work")
	home := storage.NewCredentialBackend(db, w, "home")
	ctx := context.Background()

	require.NoError(t, work.Save(ctx, "W1"))
	require.NoError(t, home.Save(ctx, "H1"))

	got, err := work.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "W1", got)
	got, err = home.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "H1", got)
}

func TestCredentialBackend_RotationsCollapse(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	w := newWriter(t, db, 16, 100)
	b := storage.NewCredentialBackend(db, w, "default")
	ctx := context.Background()

	for _, tok := range []string{"T1", "T2", "T3"} {
		require.NoError(t, b.Save(ctx, tok))
	}
	require.NoError(t, w.Sync(ctx))

	assert.Len(t, db.statements(), 1)
	assert.Equal(t, "T3", db.rows["default"])
}

func TestCredentialBackend_LoadError(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	db.queryErr = errors.New("connection reset")
	b := storage.NewCredentialBackend(db, newWriter(t, db, 4, 4), "default")

	_, err := b.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCredentialBackend_BacksStore(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	w := newWriter(t, db, 16, 100)
	ctx := context.Background()

	s := credential.NewStore(credential.WithBackend(storage.NewCredentialBackend(db, w, "default")))
	s.Set("T1")

	restored := credential.NewStore(credential.WithBackend(storage.NewCredentialBackend(db, w, "default")))
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, "T1", restored.Get())
}

func TestBatchWriter_DropsWhenFull(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	w := newWriter(t, db, 1, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, w.Enqueue(storage.WriteJob{Exec: func(context.Context, storage.Execer) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	noop := storage.WriteJob{Exec: func(context.Context, storage.Execer) error { return nil }}
	assert.True(t, w.Enqueue(noop))
	assert.False(t, w.Enqueue(noop))
	close(release)
}

func TestBatchWriter_ShutdownFlushes(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	w := storage.NewBatchWriter(db, 16, 100, 60_000)
	require.True(t, w.Enqueue(storage.UpsertCredentialJob("default", "T1")))
	w.Shutdown()

	assert.Equal(t, "T1", db.rows["default"])
}

func TestBatchWriter_TickerFlushes(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	w := storage.NewBatchWriter(db, 16, 100, 5)
	t.Cleanup(w.Shutdown)
	require.True(t, w.Enqueue(storage.UpsertCredentialJob("default", "T1")))

	assert.Eventually(t, func() bool { return len(db.statements()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestBatchWriter_SyncRespectsContext(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	w := newWriter(t, db, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	w.Enqueue(storage.WriteJob{Exec: func(context.Context, storage.Execer) error {
		close(started)
		<-release
		return nil
	}})
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Sync(ctx), context.DeadlineExceeded)
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	require.NoError(t, storage.RunMigrations(context.Background(), db))

	stmts := db.statements()
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS credentials")
}
