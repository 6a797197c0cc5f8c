package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/ir"
)

// queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Entries returns matching rows. Large id sets are staged in temporary
// tables that are dropped before Entries returns.
func (s *Store) Entries(ctx context.Context, q criteria.Query) ([]ir.AuditLogEntry, error) {
	sess := s.newSession()
	defer sess.Close()
	return sess.Entries(ctx, q)
}

// Commit retrieves a single commit record.
// Returns an error wrapping ErrNotFound if absent.
func (s *Store) Commit(ctx context.Context, commitID int64) (ir.CommitRecord, error) {
	s.observe("commit")
	return readCommit(ctx, s.db, commitID)
}

// CommitsBetween returns commits with start <= committed_at < end, ordered
// by commit id.
func (s *Store) CommitsBetween(ctx context.Context, start, end time.Time) ([]ir.CommitRecord, error) {
	s.observe("commits_between")
	return readCommitsBetween(ctx, s.db, start, end)
}

// LatestCommitID returns the highest commit id, 0 for an empty log.
func (s *Store) LatestCommitID(ctx context.Context) (int64, error) {
	s.observe("latest_commit")
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(commit_id) FROM commits").Scan(&id); err != nil {
		return 0, fmt.Errorf("latest commit: %w", err)
	}
	return id.Int64, nil
}

func readCommit(ctx context.Context, q queryer, commitID int64) (ir.CommitRecord, error) {
	c, err := scanCommit(q.QueryRowContext(ctx, `
		SELECT commit_id, committed_at, committed_by, comment
		FROM commits
		WHERE commit_id = ?
	`, commitID))
	if noRows(err) {
		return ir.CommitRecord{}, fmt.Errorf("commit %d: %w", commitID, ErrNotFound)
	}
	if err != nil {
		return ir.CommitRecord{}, fmt.Errorf("read commit %d: %w", commitID, err)
	}
	return c, nil
}

func readCommitsBetween(ctx context.Context, q queryer, start, end time.Time) ([]ir.CommitRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT commit_id, committed_at, committed_by, comment
		FROM commits
		WHERE committed_at >= ? AND committed_at < ?
		ORDER BY commit_id ASC
	`, formatTimestamp(start), formatTimestamp(end))
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	commits := []ir.CommitRecord{}
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

func readEntries(ctx context.Context, q queryer, query string, args []any) ([]ir.AuditLogEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []ir.AuditLogEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
