// Package postgres is the PostgreSQL implementation of store.Backend, built
// on pgx. It mirrors the SQLite store: same tables, same ordering, same
// idempotency and conflict rules.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/metrics"
	"github.com/roach88/asof/internal/querysql"
	"github.com/roach88/asof/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const backendName = "postgres"

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store is the PostgreSQL Backend.
type Store struct {
	pool      *pgxpool.Pool
	threshold int
	metrics   *metrics.Metrics
}

var _ store.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithIDSetThreshold overrides store.DefaultIDSetThreshold.
func WithIDSetThreshold(n int) Option {
	return func(s *Store) { s.threshold = n }
}

// WithMetrics records round-trips on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{pool: pool, threshold: store.DefaultIDSetThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Pool exposes the pool for maintenance queries.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) observe(op string) {
	s.metrics.StoreQuery(backendName, op)
}

func translate(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record not found: %w", op, err)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - schema not applied: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// AppendCommit inserts a commit record; identical rewrites are no-ops.
func (s *Store) AppendCommit(ctx context.Context, c ir.CommitRecord) error {
	if c.CommitID <= 0 {
		return fmt.Errorf("append commit: commit id must be positive, got %d", c.CommitID)
	}
	s.observe("append_commit")
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO commits (commit_id, committed_at, committed_by, comment)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (commit_id) DO NOTHING
		`, c.CommitID, c.CommittedAt.UTC(), c.CommittedBy, c.Comment)
		if err != nil {
			return translate(fmt.Sprintf("append commit %d", c.CommitID), err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		existing, err := readCommit(ctx, tx, c.CommitID)
		if err != nil {
			return err
		}
		if !existing.CommittedAt.Equal(c.CommittedAt) || existing.CommittedBy != c.CommittedBy || existing.Comment != c.Comment {
			return fmt.Errorf("append commit %d: a different commit record already exists", c.CommitID)
		}
		return nil
	})
}

// AppendEntries inserts entries in one transaction with the same duplicate
// and conflict rules as the SQLite store.
func (s *Store) AppendEntries(ctx context.Context, entries []ir.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.observe("append_entries")
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, e := range entries {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("append entries: %w", err)
			}
			if err := appendEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func appendEntry(ctx context.Context, tx pgx.Tx, e ir.AuditLogEntry) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO audit_log
		(commit_id, object_id, root_object_id, parent_object_id, entity_type_id, effective_date, action, payload, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (object_id, commit_id) DO NOTHING
	`,
		e.CommitID,
		e.ObjectID,
		e.RootObjectID,
		e.ParentObjectID,
		e.EntityTypeID,
		ir.TruncateDate(e.EffectiveDate),
		int16(e.Action),
		e.Payload,
		e.Archived,
	)
	if err != nil {
		return translate(fmt.Sprintf("append entry %d@%d", e.ObjectID, e.CommitID), err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	existing, err := scanEntry(tx.QueryRow(ctx,
		"SELECT "+querysql.EntryColumns+" FROM audit_log WHERE object_id = $1 AND commit_id = $2",
		e.ObjectID, e.CommitID))
	if err != nil {
		return translate("read existing entry", err)
	}
	if !existing.Same(e) {
		return auditerr.ConflictingEntry(e.ObjectID, e.CommitID)
	}
	slog.Debug("duplicate entry ignored", "object_id", e.ObjectID, "commit_id", e.CommitID)
	return nil
}

// SetArchived flips the archived flag of one entry.
func (s *Store) SetArchived(ctx context.Context, objectID, commitID int64, archived bool) error {
	s.observe("set_archived")
	tag, err := s.pool.Exec(ctx,
		"UPDATE audit_log SET archived = $1 WHERE object_id = $2 AND commit_id = $3",
		archived, objectID, commitID)
	if err != nil {
		return translate("set archived", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set archived %d@%d: %w", objectID, commitID, store.ErrNotFound)
	}
	return nil
}

// Commit retrieves one commit record.
func (s *Store) Commit(ctx context.Context, commitID int64) (ir.CommitRecord, error) {
	s.observe("commit")
	return readCommit(ctx, s.pool, commitID)
}

// CommitsBetween returns commits with start <= committed_at < end.
func (s *Store) CommitsBetween(ctx context.Context, start, end time.Time) ([]ir.CommitRecord, error) {
	s.observe("commits_between")
	rows, err := s.pool.Query(ctx, `
		SELECT commit_id, committed_at, committed_by, comment
		FROM commits
		WHERE committed_at >= $1 AND committed_at < $2
		ORDER BY commit_id ASC
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, translate("query commits", err)
	}
	commits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ir.CommitRecord, error) {
		return scanCommit(row)
	})
	if err != nil {
		return nil, translate("scan commits", err)
	}
	if commits == nil {
		commits = []ir.CommitRecord{}
	}
	return commits, nil
}

// LatestCommitID returns the highest commit id, 0 for an empty log.
func (s *Store) LatestCommitID(ctx context.Context) (int64, error) {
	s.observe("latest_commit")
	var id *int64
	if err := s.pool.QueryRow(ctx, "SELECT MAX(commit_id) FROM commits").Scan(&id); err != nil {
		return 0, translate("latest commit", err)
	}
	if id == nil {
		return 0, nil
	}
	return *id, nil
}

func readCommit(ctx context.Context, db DBTX, commitID int64) (ir.CommitRecord, error) {
	c, err := scanCommit(db.QueryRow(ctx, `
		SELECT commit_id, committed_at, committed_by, comment
		FROM commits WHERE commit_id = $1
	`, commitID))
	if err != nil {
		return ir.CommitRecord{}, translate(fmt.Sprintf("commit %d", commitID), err)
	}
	return c, nil
}

func scanCommit(row pgx.Row) (ir.CommitRecord, error) {
	var c ir.CommitRecord
	if err := row.Scan(&c.CommitID, &c.CommittedAt, &c.CommittedBy, &c.Comment); err != nil {
		return ir.CommitRecord{}, err
	}
	c.CommittedAt = c.CommittedAt.UTC()
	return c, nil
}

func scanEntry(row pgx.Row) (ir.AuditLogEntry, error) {
	var (
		e      ir.AuditLogEntry
		date   time.Time
		action int16
	)
	if err := row.Scan(
		&e.CommitID,
		&e.ObjectID,
		&e.RootObjectID,
		&e.ParentObjectID,
		&e.EntityTypeID,
		&date,
		&action,
		&e.Payload,
		&e.Archived,
	); err != nil {
		return ir.AuditLogEntry{}, err
	}
	e.EffectiveDate = ir.TruncateDate(date)
	e.Action = ir.Action(action)
	return e, nil
}

func idTableName(suffix string) string {
	return "idset_" + strings.ReplaceAll(suffix, "-", "")
}
