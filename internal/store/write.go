package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/querysql"
)

// AppendCommit inserts a commit record. Rewriting an identical record is a
// no-op; a different record for an existing commit id is an error.
func (s *Store) AppendCommit(ctx context.Context, c ir.CommitRecord) error {
	if c.CommitID <= 0 {
		return fmt.Errorf("append commit: commit id must be positive, got %d", c.CommitID)
	}
	s.observe("append_commit")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO commits (commit_id, committed_at, committed_by, comment)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(commit_id) DO NOTHING
	`, c.CommitID, formatTimestamp(c.CommittedAt), c.CommittedBy, c.Comment)
	if err != nil {
		return fmt.Errorf("append commit %d: %w", c.CommitID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := scanCommit(tx.QueryRowContext(ctx, `
			SELECT commit_id, committed_at, committed_by, comment
			FROM commits WHERE commit_id = ?
		`, c.CommitID))
		if err != nil {
			return fmt.Errorf("append commit %d: read existing: %w", c.CommitID, err)
		}
		if !existing.CommittedAt.Equal(c.CommittedAt) || existing.CommittedBy != c.CommittedBy || existing.Comment != c.Comment {
			return fmt.Errorf("append commit %d: a different commit record already exists", c.CommitID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append commit: commit tx: %w", err)
	}
	return nil
}

// AppendEntries inserts entries in one transaction. Exact duplicates of
// stored entries are skipped; a different entry for a stored
// (object_id, commit_id) aborts the batch with a CONFLICTING_ENTRY error.
//
// The commit referenced by each entry must exist (foreign key constraint).
func (s *Store) AppendEntries(ctx context.Context, entries []ir.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.observe("append_entries")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append entries: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("append entries: %w", err)
		}
		if err := appendEntry(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append entries: commit tx: %w", err)
	}
	return nil
}

func appendEntry(ctx context.Context, tx *sql.Tx, e ir.AuditLogEntry) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log
		(commit_id, object_id, root_object_id, parent_object_id, entity_type_id, effective_date, action, payload, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_id, commit_id) DO NOTHING
	`,
		e.CommitID,
		e.ObjectID,
		e.RootObjectID,
		e.ParentObjectID,
		e.EntityTypeID,
		formatDate(e.EffectiveDate),
		int(e.Action),
		nullable(e.Payload),
		boolInt(e.Archived),
	)
	if err != nil {
		return fmt.Errorf("append entry %d@%d: %w", e.ObjectID, e.CommitID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	existing, err := scanEntry(tx.QueryRowContext(ctx,
		"SELECT "+querysql.EntryColumns+" FROM audit_log WHERE object_id = ? AND commit_id = ?",
		e.ObjectID, e.CommitID))
	if err != nil {
		return fmt.Errorf("append entry %d@%d: read existing: %w", e.ObjectID, e.CommitID, err)
	}
	if !existing.Same(e) {
		return auditerr.ConflictingEntry(e.ObjectID, e.CommitID)
	}
	slog.Debug("duplicate entry ignored", "object_id", e.ObjectID, "commit_id", e.CommitID)
	return nil
}

// SetArchived flips the archived flag of one entry. It is the only update
// the audit log permits.
func (s *Store) SetArchived(ctx context.Context, objectID, commitID int64, archived bool) error {
	s.observe("set_archived")
	res, err := s.db.ExecContext(ctx,
		"UPDATE audit_log SET archived = ? WHERE object_id = ? AND commit_id = ?",
		boolInt(archived), objectID, commitID)
	if err != nil {
		return fmt.Errorf("set archived %d@%d: %w", objectID, commitID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set archived %d@%d: %w", objectID, commitID, ErrNotFound)
	}
	return nil
}
