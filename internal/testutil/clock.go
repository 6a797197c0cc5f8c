package testutil

import (
	"sync"
	"time"

	"github.com/roach88/asof/internal/ir"
)

// Epoch is the wall-clock time of commit 1 produced by a CommitClock.
var Epoch = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

// CommitClock hands out commit records with monotonically increasing ids and
// timestamps one minute apart, so tests and golden files are reproducible.
//
// Thread-safety: All methods are safe for concurrent use.
type CommitClock struct {
	mu  sync.Mutex
	seq int64
	by  int64
}

// NewCommitClock creates a clock whose first commit is 1. Commits are
// attributed to user 1 unless changed with As.
func NewCommitClock() *CommitClock {
	return &CommitClock{by: 1}
}

// Next returns the next commit record.
func (c *CommitClock) Next(comment string) ir.CommitRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return ir.CommitRecord{
		CommitID:    c.seq,
		CommittedAt: At(c.seq),
		CommittedBy: c.by,
		Comment:     comment,
	}
}

// Current returns the last handed-out commit id, 0 before the first call.
func (c *CommitClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// As changes the user id stamped on subsequent commits.
func (c *CommitClock) As(userID int64) *CommitClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.by = userID
	return c
}

// Reset restarts the clock. After Reset the next commit is 1 again.
func (c *CommitClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// At is the commit timestamp the clock assigns to a commit id.
func At(commitID int64) time.Time {
	return Epoch.Add(time.Duration(commitID-1) * time.Minute)
}

// Date parses a YYYY-MM-DD literal and panics on error.
func Date(s string) time.Time {
	d, err := ir.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}
