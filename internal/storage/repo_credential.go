package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrQueueFull is returned when a credential write could not be queued.
var ErrQueueFull = errors.New("credential write queue full")

// CredentialBackend persists one profile's access token in the credentials
// table. Writes go through the BatchWriter so rapid rotations collapse into
// a single upsert.
type CredentialBackend struct {
	db      DB
	writer  *BatchWriter
	profile string
}

func NewCredentialBackend(db DB, writer *BatchWriter, profile string) *CredentialBackend {
	return &CredentialBackend{db: db, writer: writer, profile: profile}
}

func (b *CredentialBackend) Load(ctx context.Context) (string, error) {
	if err := b.writer.Sync(ctx); err != nil {
		return "", fmt.Errorf("sync pending writes: %w", err)
	}

	var token string
	err := b.db.QueryRow(ctx,
		`SELECT access_token FROM credentials WHERE profile = $1`, b.profile,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load credential %s: %w", b.profile, err)
	}
	return token, nil
}

func (b *CredentialBackend) Save(_ context.Context, token string) error {
	if !b.writer.Enqueue(UpsertCredentialJob(b.profile, token)) {
		return ErrQueueFull
	}
	return nil
}

func (b *CredentialBackend) Delete(_ context.Context) error {
	if !b.writer.Enqueue(DeleteCredentialJob(b.profile)) {
		return ErrQueueFull
	}
	return nil
}

func UpsertCredentialJob(profile, token string) WriteJob {
	return WriteJob{
		Key: "credential:" + profile,
		Exec: func(ctx context.Context, db Execer) error {
			_, err := db.Exec(ctx, `
				INSERT INTO credentials (profile, access_token, updated_at)
				VALUES ($1, $2, now())
				ON CONFLICT (profile) DO UPDATE SET
					access_token = EXCLUDED.access_token,
					updated_at = now()`,
				profile, token,
			)
			return err
		},
	}
}

func DeleteCredentialJob(profile string) WriteJob {
	return WriteJob{
		Key: "credential:" + profile,
		Exec: func(ctx context.Context, db Execer) error {
			_, err := db.Exec(ctx, `DELETE FROM credentials WHERE profile = $1`, profile)
			return err
		},
	}
}
