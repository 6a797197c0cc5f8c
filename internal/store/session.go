package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/ir"
)

// session tracks the temporary id tables one reader created. Tables are
// created on first use, emptied and reused across queries, and dropped on
// Close.
type session struct {
	store  *Store
	free   []string
	all    []string
	closed bool
}

// OpenSession returns a Reader whose temporary tables live until Close.
func (s *Store) OpenSession(ctx context.Context) (Session, error) {
	return s.newSession(), nil
}

func (s *Store) newSession() *session {
	return &session{store: s}
}

func (sess *session) Entries(ctx context.Context, q criteria.Query) ([]ir.AuditLogEntry, error) {
	if sess.closed {
		return nil, errors.New("entries: session closed")
	}
	var used []string
	defer func() {
		for _, name := range used {
			sess.release(name)
		}
	}()

	stage := func(ids []int64) (string, error) {
		name, err := sess.acquire(ctx)
		if err != nil {
			return "", err
		}
		used = append(used, name)
		return name, sess.fill(ctx, name, ids)
	}

	query, args, err := sess.store.compiler(stage).Compile(q)
	if err != nil {
		return nil, fmt.Errorf("entries: %w", err)
	}
	sess.store.observe("entries")
	return readEntries(ctx, sess.store.db, query, args)
}

func (sess *session) Commit(ctx context.Context, commitID int64) (ir.CommitRecord, error) {
	return sess.store.Commit(ctx, commitID)
}

func (sess *session) CommitsBetween(ctx context.Context, start, end time.Time) ([]ir.CommitRecord, error) {
	return sess.store.CommitsBetween(ctx, start, end)
}

// acquire returns an empty temporary table, creating one when none is free.
func (sess *session) acquire(ctx context.Context) (string, error) {
	if n := len(sess.free); n > 0 {
		name := sess.free[n-1]
		sess.free = sess.free[:n-1]
		return name, nil
	}
	name := "temp.idset_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := sess.store.db.ExecContext(ctx,
		"CREATE TEMP TABLE "+strings.TrimPrefix(name, "temp.")+" (id INTEGER PRIMARY KEY)"); err != nil {
		return "", fmt.Errorf("create id table: %w", err)
	}
	sess.store.metrics.IDTableCreated()
	slog.Debug("id table created", "table", name)
	sess.all = append(sess.all, name)
	return name, nil
}

func (sess *session) fill(ctx context.Context, name string, ids []int64) error {
	tx, err := sess.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fill id table: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO "+name+" (id) VALUES (?)")
	if err != nil {
		return fmt.Errorf("fill id table: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("fill id table: %w", err)
		}
	}
	return tx.Commit()
}

// release empties a table and returns it to the free list.
func (sess *session) release(name string) {
	if _, err := sess.store.db.Exec("DELETE FROM " + name); err != nil {
		slog.Warn("failed to empty id table", "table", name, "error", err)
		return
	}
	sess.free = append(sess.free, name)
}

// Close drops every table the session created.
func (sess *session) Close() error {
	if sess.closed {
		return nil
	}
	sess.closed = true
	var errs []error
	for _, name := range sess.all {
		if _, err := sess.store.db.Exec("DROP TABLE IF EXISTS " + name); err != nil {
			errs = append(errs, fmt.Errorf("drop %s: %w", name, err))
			continue
		}
		slog.Debug("id table dropped", "table", name)
	}
	sess.all, sess.free = nil, nil
	return errors.Join(errs...)
}
