package storage

import (
	"context"
	"errors"
	"time"

	"rankwatch/collector"
)

// ErrNotFound is returned when a snapshot id does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the metadata of one persisted collection run.
type Snapshot struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"` // UTC
	Server    string    `json:"server"`
	Notes     string    `json:"notes"`
}

// SnapshotDetail is a snapshot together with all of its result rows.
type SnapshotDetail struct {
	Snapshot
	PsiResults []PsiResult `json:"psiResults"`
	GeoResults []GeoResult `json:"geoResults"`
}

// PsiResult is a persisted PSI row.
type PsiResult struct {
	ID         int64 `json:"id"`
	SnapshotID int64 `json:"snapshotId"`
	PsiRow
}

// GeoResult is a persisted GEO row.
type GeoResult struct {
	ID         int64 `json:"id"`
	SnapshotID int64 `json:"snapshotId"`
	GeoRow
}

// Row shapes are re-exported so callers do not need to import the
// collector package just to call WriteSnapshot.
type (
	PsiRow = collector.PsiRow
	GeoRow = collector.GeoRow
)

// Store abstracts the snapshot persistence back-end.
type Store interface {
	// InitSchema creates the schema if it does not exist. Safe to call on
	// every start.
	InitSchema(ctx context.Context) error

	// WriteSnapshot stores a snapshot and all of its rows in a single
	// transaction and returns the new snapshot id. Either everything is
	// written or nothing is.
	WriteSnapshot(ctx context.Context, server, notes string, psi []PsiRow, geo []GeoRow) (int64, error)

	// ListSnapshots returns snapshot metadata, newest first.
	ListSnapshots(ctx context.Context, limit, offset int) ([]Snapshot, error)

	// GetSnapshot returns a snapshot with its rows, or ErrNotFound.
	GetSnapshot(ctx context.Context, id int64) (*SnapshotDetail, error)

	// CountOlderThan counts snapshots created strictly before cutoff.
	CountOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// ListOlderThan returns metadata of snapshots created strictly before
	// cutoff, oldest first.
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]Snapshot, error)

	// DeleteOlderThan deletes snapshots created strictly before cutoff,
	// together with their rows, and returns how many snapshots went.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases any resources (e.g. DB connections).
	Close() error
}
