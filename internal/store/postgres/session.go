package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/querysql"
	"github.com/roach88/asof/internal/store"
)

// session pins one pooled connection, because temporary tables are private
// to the connection that created them.
type session struct {
	store *Store
	conn  *pgxpool.Conn
	free  []string
	all   []string
}

// OpenSession acquires a connection for the session's lifetime.
func (s *Store) OpenSession(ctx context.Context) (store.Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &session{store: s, conn: conn}, nil
}

// Entries runs a one-shot session.
func (s *Store) Entries(ctx context.Context, q criteria.Query) ([]ir.AuditLogEntry, error) {
	sess, err := s.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.Entries(ctx, q)
}

func (sess *session) Entries(ctx context.Context, q criteria.Query) ([]ir.AuditLogEntry, error) {
	if sess.conn == nil {
		return nil, errors.New("entries: session closed")
	}
	var used []string
	defer func() {
		for _, name := range used {
			sess.release(ctx, name)
		}
	}()

	c := querysql.NewCompiler(querysql.Postgres)
	c.IDSetThreshold = sess.store.threshold
	c.IDTable = func(ids []int64) (string, error) {
		name, err := sess.acquire(ctx)
		if err != nil {
			return "", err
		}
		used = append(used, name)
		return name, sess.fill(ctx, name, ids)
	}

	query, args, err := c.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("entries: %w", err)
	}
	sess.store.observe("entries")

	rows, err := sess.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, translate("query entries", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ir.AuditLogEntry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, translate("scan entries", err)
	}
	if entries == nil {
		entries = []ir.AuditLogEntry{}
	}
	return entries, nil
}

func (sess *session) Commit(ctx context.Context, commitID int64) (ir.CommitRecord, error) {
	return sess.store.Commit(ctx, commitID)
}

func (sess *session) CommitsBetween(ctx context.Context, start, end time.Time) ([]ir.CommitRecord, error) {
	return sess.store.CommitsBetween(ctx, start, end)
}

func (sess *session) acquire(ctx context.Context) (string, error) {
	if n := len(sess.free); n > 0 {
		name := sess.free[n-1]
		sess.free = sess.free[:n-1]
		return name, nil
	}
	name := idTableName(uuid.NewString())
	if _, err := sess.conn.Exec(ctx, "CREATE TEMP TABLE "+name+" (id BIGINT PRIMARY KEY)"); err != nil {
		return "", translate("create id table", err)
	}
	sess.store.metrics.IDTableCreated()
	slog.Debug("id table created", "table", name)
	sess.all = append(sess.all, name)
	return name, nil
}

func (sess *session) fill(ctx context.Context, name string, ids []int64) error {
	seen := make(map[int64]bool, len(ids))
	rows := make([][]any, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, []any{id})
	}
	if _, err := sess.conn.CopyFrom(ctx, pgx.Identifier{name}, []string{"id"}, pgx.CopyFromRows(rows)); err != nil {
		return translate("fill id table", err)
	}
	return nil
}

func (sess *session) release(ctx context.Context, name string) {
	if _, err := sess.conn.Exec(ctx, "TRUNCATE "+name); err != nil {
		slog.Warn("failed to empty id table", "table", name, "error", err)
		return
	}
	sess.free = append(sess.free, name)
}

// Close drops the session's tables and returns the connection to the pool.
func (sess *session) Close() error {
	if sess.conn == nil {
		return nil
	}
	var errs []error
	for _, name := range sess.all {
		if _, err := sess.conn.Exec(context.Background(), "DROP TABLE IF EXISTS "+name); err != nil {
			errs = append(errs, fmt.Errorf("drop %s: %w", name, err))
			continue
		}
		slog.Debug("id table dropped", "table", name)
	}
	sess.conn.Release()
	sess.conn = nil
	sess.all, sess.free = nil, nil
	return errors.Join(errs...)
}
