// Package store persists sessions between runs. Persistence is the
// driver's concern, not the state machine's: the machine only guarantees
// that a Session survives the JSON round trip unchanged, and this package
// relies on exactly that.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codereader/internal/errs"
	"github.com/codereader/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         UUID PRIMARY KEY,
	repo       TEXT NOT NULL,
	completed  BOOLEAN NOT NULL DEFAULT FALSE,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// SessionStore saves and restores sessions in Postgres.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore connects to databaseURL and ensures the schema exists.
func NewSessionStore(ctx context.Context, databaseURL string, maxConns int) (*SessionStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure sessions table: %w", err)
	}

	return &SessionStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *SessionStore) Close() {
	s.pool.Close()
}

// Save upserts the full session state.
func (s *SessionStore) Save(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to serialize session %s: %w", sess.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, repo, completed, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET repo = EXCLUDED.repo, completed = EXCLUDED.completed,
		    data = EXCLUDED.data, updated_at = now()`,
		sess.ID, sess.RepoOwner+"/"+sess.RepoName, sess.Completed, data)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

// Load restores a session by ID.
func (s *SessionStore) Load(ctx context.Context, id string) (*session.Session, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM sessions WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("session "+id, "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	sess := &session.Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("failed to deserialize session %s: %w", id, err)
	}
	return sess, nil
}

// SessionInfo is a listing row: enough to pick a session to resume.
type SessionInfo struct {
	ID        string
	Repo      string
	Completed bool
}

// List returns stored sessions, newest first.
func (s *SessionStore) List(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, repo, completed FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.Repo, &info.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("session "+id, "")
	}
	return nil
}
