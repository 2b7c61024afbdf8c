// Package state keeps run snapshots of the marketplace workflow.
package state

import "context"

// Storage defines the persistence contract for run snapshots.
type Storage interface {
	// Get returns the snapshot of the specified run.
	Get(ctx context.Context, runID string) (*Snapshot, error)
	// Save stores the snapshot, replacing any previous one for the same run.
	Save(ctx context.Context, snapshot *Snapshot) error
	// Delete removes the snapshot of the specified run.
	Delete(ctx context.Context, runID string) error
	// List returns every stored snapshot.
	List(ctx context.Context) ([]*Snapshot, error)
}
