// Package postgres provides the Postgres-backed source and document store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

const uniqueViolation = "23505"

// Schema creates the tables used by Store. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS sources (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	url                 TEXT NOT NULL DEFAULT '',
	source_type         TEXT NOT NULL,
	sync_interval       TEXT NOT NULL,
	is_paused           BOOLEAN NOT NULL DEFAULT FALSE,
	is_active           BOOLEAN NOT NULL DEFAULT TRUE,
	last_sync           TIMESTAMPTZ,
	next_sync           TIMESTAMPTZ NOT NULL,
	total_documents     BIGINT NOT NULL DEFAULT 0,
	last_document_count INTEGER NOT NULL DEFAULT 0,
	sync_errors         INTEGER NOT NULL DEFAULT 0,
	last_error          TEXT,
	config              JSONB NOT NULL DEFAULT '{}'::jsonb,
	tags                TEXT[] NOT NULL DEFAULT '{}',
	description         TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sources_due_idx ON sources (next_sync) WHERE is_active AND NOT is_paused;
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	link        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	tags        TEXT[] NOT NULL DEFAULT '{}',
	author      TEXT NOT NULL DEFAULT '',
	pub_date    TIMESTAMPTZ,
	source_id   TEXT NOT NULL,
	crawled_at  TIMESTAMPTZ NOT NULL
);`

const sourceColumns = `id, name, url, source_type, sync_interval, is_paused, is_active, last_sync, next_sync,
	total_documents, last_document_count, sync_errors, last_error, config, tags, description, created_at, updated_at`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type pool interface {
	querier
	Close()
}

// Store implements ingest.Store on Postgres.
type Store struct {
	pool    pool
	acquire func(context.Context) (querier, func(), error)
}

// NewStore connects a pgx pool and returns a Store whose sessions each hold
// their own pooled connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{
		pool: pgPool,
		acquire: func(ctx context.Context) (querier, func(), error) {
			conn, err := pgPool.Acquire(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("acquire connection: %w", err)
			}
			return conn, conn.Release, nil
		},
	}, nil
}

// NewStoreWithPool wraps an existing pool (primarily for testing). Sessions
// issue their statements directly on the pool.
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{
		pool: p,
		acquire: func(context.Context) (querier, func(), error) {
			return p, func() {}, nil
		},
	}, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// OpenSession acquires a connection dedicated to one worker.
func (s *Store) OpenSession(ctx context.Context) (ingest.Session, error) {
	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &session{q: q, release: release}, nil
}

// CreateSource inserts a new source row.
func (s *Store) CreateSource(ctx context.Context, src ingest.Source) error {
	cfg, err := ingest.EncodeConfig(src.Type, src.Config)
	if err != nil {
		return err
	}
	tags := src.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO sources (`+sourceColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		src.ID, src.Name, src.URL, string(src.Type), string(src.Interval), src.IsPaused, src.IsActive,
		src.LastSync, src.NextSync, src.TotalDocuments, src.LastDocumentCount, src.SyncErrors, src.LastError,
		cfg, tags, src.Description, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetSource fetches one source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (ingest.Source, error) {
	return getSource(ctx, s.pool, id)
}

// ListSources returns every source ordered by ID.
func (s *Store) ListSources(ctx context.Context) ([]ingest.Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return collectSources(rows)
}

// ListDueSources returns active, unpaused sources whose next_sync has passed.
func (s *Store) ListDueSources(ctx context.Context, now time.Time) ([]ingest.Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources
WHERE is_active AND NOT is_paused AND next_sync <= $1 ORDER BY next_sync`, now)
	if err != nil {
		return nil, fmt.Errorf("list due sources: %w", err)
	}
	return collectSources(rows)
}

// SetPaused toggles is_paused.
func (s *Store) SetPaused(ctx context.Context, id string, paused bool, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sources SET is_paused = $2, updated_at = $3 WHERE id = $1`, id, paused, at)
	if err != nil {
		return fmt.Errorf("update paused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrSourceNotFound
	}
	return nil
}

// ResetErrors clears sync_errors and last_error.
func (s *Store) ResetErrors(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET sync_errors = 0, last_error = NULL, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("reset errors: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrSourceNotFound
	}
	return nil
}

// DeleteSource removes a source row; its documents are kept.
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrSourceNotFound
	}
	return nil
}

// Close shuts down the pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

type session struct {
	q       querier
	release func()
	closed  bool
}

func (ss *session) GetSource(ctx context.Context, id string) (ingest.Source, error) {
	if ss.closed {
		return ingest.Source{}, errors.New("session closed")
	}
	return getSource(ctx, ss.q, id)
}

func (ss *session) DocumentExists(ctx context.Context, link string) (bool, error) {
	if ss.closed {
		return false, errors.New("session closed")
	}
	var exists bool
	if err := ss.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE link = $1)`, link).Scan(&exists); err != nil {
		return false, fmt.Errorf("check document link: %w", err)
	}
	return exists, nil
}

func (ss *session) CreateDocument(ctx context.Context, doc ingest.Document) error {
	if ss.closed {
		return errors.New("session closed")
	}
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := ss.q.Exec(ctx, `INSERT INTO documents
(id, title, link, description, tags, author, pub_date, source_id, crawled_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		doc.ID, doc.Title, doc.Link, doc.Description, tags, doc.Author, doc.PubDate, doc.SourceID, doc.CrawledAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ingest.ErrDuplicateLink
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// RecordSync applies the outcome in a single UPDATE so concurrent readers
// never observe a half-applied result.
func (ss *session) RecordSync(ctx context.Context, sourceID string, outcome ingest.SyncOutcome) error {
	if ss.closed {
		return errors.New("session closed")
	}
	var (
		tag pgconn.CommandTag
		err error
	)
	if outcome.Success {
		n := outcome.DocumentCount
		if n < 0 {
			n = 0
		}
		tag, err = ss.q.Exec(ctx, `UPDATE sources SET
	last_sync = $2, next_sync = $3, last_document_count = $4,
	total_documents = total_documents + $4, sync_errors = 0, last_error = NULL, updated_at = $2
WHERE id = $1`, sourceID, outcome.At, outcome.NextSync, n)
	} else {
		tag, err = ss.q.Exec(ctx, `UPDATE sources SET
	next_sync = $2, sync_errors = sync_errors + 1, last_error = $3, updated_at = $4
WHERE id = $1`, sourceID, outcome.NextSync, outcome.Error, outcome.At)
	}
	if err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrSourceNotFound
	}
	return nil
}

func (ss *session) Close(context.Context) error {
	if ss.closed {
		return nil
	}
	ss.closed = true
	ss.release()
	return nil
}

func getSource(ctx context.Context, q querier, id string) (ingest.Source, error) {
	src, err := scanSource(q.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.Source{}, ingest.ErrSourceNotFound
	}
	if err != nil {
		return ingest.Source{}, fmt.Errorf("get source: %w", err)
	}
	return src, nil
}

func collectSources(rows pgx.Rows) ([]ingest.Source, error) {
	defer rows.Close()
	var out []ingest.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func scanSource(row pgx.Row) (ingest.Source, error) {
	var (
		src        ingest.Source
		sourceType string
		interval   string
		cfg        []byte
	)
	err := row.Scan(
		&src.ID, &src.Name, &src.URL, &sourceType, &interval, &src.IsPaused, &src.IsActive,
		&src.LastSync, &src.NextSync, &src.TotalDocuments, &src.LastDocumentCount, &src.SyncErrors,
		&src.LastError, &cfg, &src.Tags, &src.Description, &src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return ingest.Source{}, err //nolint:wrapcheck
	}
	src.Type = ingest.SourceType(sourceType)
	src.Interval = ingest.Interval(interval)
	src.Config, err = ingest.DecodeConfig(cfg)
	if err != nil {
		return ingest.Source{}, err
	}
	return src, nil
}
