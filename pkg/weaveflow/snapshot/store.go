// Package snapshot provides durable storage for paused-run state
// snapshots, keyed by run execution id.
package snapshot

import (
	"errors"
	"time"
)

// Record is one persisted snapshot together with the identity allowed to
// resume the run.
type Record struct {
	RunID     string
	Owner     string
	Data      string
	CreatedAt time.Time
}

// Info provides metadata without loading the snapshot payload.
type Info struct {
	RunID     string
	Owner     string
	Size      int64
	CreatedAt time.Time
}

// Store persists pause snapshots. Implementations must be safe for
// concurrent use. A run has at most one snapshot: Save overwrites.
type Store interface {
	// Save stores the snapshot for a run, replacing any prior one.
	Save(rec Record) error

	// Load retrieves the snapshot for a run.
	// Returns ErrNotFound if none exists.
	Load(runID string) (Record, error)

	// List returns metadata for all stored snapshots, ordered by
	// creation time.
	List() ([]Info, error)

	// Delete removes the snapshot for a run.
	// Returns nil if none exists.
	Delete(runID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for snapshot storage.
var (
	// ErrNotFound indicates no snapshot exists for the run.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("snapshot store closed")
)
