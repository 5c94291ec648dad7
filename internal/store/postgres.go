package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elysia-go/elysiatree/internal/observability"
)

// ErrTreeNotFound is returned by TreeStore lookups that find no row.
var ErrTreeNotFound = errors.New("tree not found")

// TreeSummary is the row shape returned by a TreeStore listing, enough to
// populate a tree-picker without deserialising every export.
type TreeSummary struct {
	ID        string
	Title     string
	UpdatedAt time.Time
}

// TreeStore persists a tree's exported JSON blob (see Tree.ExportJSON in
// internal/tree) to a durable backend, keyed by conversation id.
type TreeStore interface {
	Save(ctx context.Context, userID *int64, treeID, title string, data []byte) error
	Load(ctx context.Context, userID *int64, treeID string) ([]byte, error)
	List(ctx context.Context, userID *int64) ([]TreeSummary, error)
	Delete(ctx context.Context, userID *int64, treeID string) error
}

// NewPostgresTreeStore returns a Postgres-backed TreeStore, grounded on the
// teacher's pgx chat-store idioms (QueryRow/Exec, NOW(), pgx.ErrNoRows
// translation) but collapsed to a single JSONB blob per tree rather than a
// two-table sessions+messages schema, since a tree export is one document,
// not a growing message log.
func NewPostgresTreeStore(pool *pgxpool.Pool) TreeStore {
	return &pgTreeStore{pool: pool}
}

type pgTreeStore struct {
	pool *pgxpool.Pool
}

func (s *pgTreeStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS trees (
    id UUID PRIMARY KEY,
    user_id BIGINT,
    title TEXT NOT NULL DEFAULT '',
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS trees_user_updated_idx ON trees(user_id, updated_at DESC);
`)
	return err
}

func hasAccess(userID *int64, owner *int64) bool {
	if userID == nil {
		return true
	}
	if owner == nil {
		return false
	}
	return *userID == *owner
}

func (s *pgTreeStore) Save(ctx context.Context, userID *int64, treeID, title string, data []byte) error {
	if strings.TrimSpace(treeID) == "" {
		return errors.New("tree id required")
	}
	var uid any
	if userID != nil {
		uid = *userID
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO trees (id, user_id, title, data)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET title = $3, data = $4, updated_at = NOW()`,
		treeID, uid, title, data)
	return err
}

func (s *pgTreeStore) Load(ctx context.Context, userID *int64, treeID string) ([]byte, error) {
	log := observability.LoggerWithTrace(ctx)
	row := s.pool.QueryRow(ctx, `SELECT user_id, data FROM trees WHERE id = $1`, treeID)
	var owner *int64
	var data []byte
	if err := row.Scan(&owner, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreeNotFound
		}
		log.Error().Err(err).Str("tree_id", treeID).Msg("tree_store_load_error")
		return nil, err
	}
	if !hasAccess(userID, owner) {
		return nil, ErrTreeNotFound
	}
	return data, nil
}

func (s *pgTreeStore) List(ctx context.Context, userID *int64) ([]TreeSummary, error) {
	query := `SELECT id, title, updated_at FROM trees`
	args := []any{}
	if userID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *userID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TreeSummary
	for rows.Next() {
		var t TreeSummary
		if err := rows.Scan(&t.ID, &t.Title, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *pgTreeStore) Delete(ctx context.Context, userID *int64, treeID string) error {
	query := `DELETE FROM trees WHERE id = $1`
	args := []any{treeID}
	if userID != nil {
		query += ` AND user_id = $2`
		args = append(args, *userID)
	}
	cmd, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTreeNotFound
	}
	return nil
}
