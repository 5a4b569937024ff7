// Package postgres provides a Postgres-backed BlobStore for checkpoint
// snapshots, for deployments that keep run state next to their other data.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/roundup-crawler/internal/storage"
)

const defaultTable = "roundup_checkpoints"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for checkpoint rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// BlobStore keeps one row per object name. Each PutObject is a single upsert,
// so readers see either the previous payload or the new one.
type BlobStore struct {
	pool  querier
	table string
	now   func() time.Time
}

var _ storage.BlobStore = (*BlobStore)(nil)

// New connects to Postgres using the provided config.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &BlobStore{pool: pool, table: table, now: time.Now}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*BlobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &BlobStore{pool: pool, table: name, now: time.Now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the checkpoint table if it does not exist.
func (s *BlobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	content_type TEXT NOT NULL DEFAULT '',
	payload BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// GetObject loads the payload stored under name.
func (s *BlobStore) GetObject(ctx context.Context, name string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE name = $1`, s.table)
	var payload []byte
	if err := s.pool.QueryRow(ctx, query, name).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", name, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return payload, nil
}

// PutObject upserts the payload under name.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, data io.Reader) (string, error) {
	if name == "" {
		return "", fmt.Errorf("path is required")
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, content_type, payload, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET
	content_type = EXCLUDED.content_type,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, name, contentType, buf.Bytes(), s.now().UTC()); err != nil {
		return "", fmt.Errorf("upsert checkpoint: %w", err)
	}
	return fmt.Sprintf("postgres://%s/%s", s.table, name), nil
}

// Close releases the underlying pool resources.
func (s *BlobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
