// Package retention prunes snapshots that fall outside the keep window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rankwatch/metrics"
	"rankwatch/storage"
)

// ErrInvalidKeepDays is returned for a negative keep window.
var ErrInvalidKeepDays = errors.New("keepDays must be a non-negative integer")

// Store is the part of storage.Store retention needs.
type Store interface {
	CountOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]storage.Snapshot, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Request selects the keep window and the mode.
type Request struct {
	KeepDays int  `json:"keepDays"`
	DryRun   bool `json:"dryRun"`
}

// Result reports what a run did, or would do.
type Result struct {
	DryRun               bool      `json:"dryRun"`
	KeepDays             int       `json:"keepDays"`
	Cutoff               time.Time `json:"cutoff"`
	WouldDeleteSnapshots *int      `json:"wouldDeleteSnapshots,omitempty"`
	DeletedSnapshots     *int      `json:"deletedSnapshots,omitempty"`
}

// Manager applies the retention policy: a snapshot is expired when it was
// created before now - keepDays.
type Manager struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

// NewManager returns a Manager using the wall clock.
func NewManager(store Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, log: log, now: time.Now}
}

// WithClock returns a copy of m reading time from now.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	cp := *m
	cp.now = now
	return &cp
}

// Pinned returns a copy of m whose clock is frozen at the current time, so
// Cutoff, Expired and Run on it all agree on one boundary.
func (m *Manager) Pinned() *Manager {
	at := m.now()
	return m.WithClock(func() time.Time { return at })
}

// Cutoff is the expiry boundary for keepDays.
func (m *Manager) Cutoff(keepDays int) time.Time {
	return m.now().UTC().Add(-time.Duration(keepDays) * 24 * time.Hour)
}

// Run applies the policy. In dry-run mode nothing is mutated, even when
// the store fails.
func (m *Manager) Run(ctx context.Context, req Request) (*Result, error) {
	if req.KeepDays < 0 {
		return nil, ErrInvalidKeepDays
	}
	cutoff := m.Cutoff(req.KeepDays)
	res := &Result{DryRun: req.DryRun, KeepDays: req.KeepDays, Cutoff: cutoff}
	log := m.log.With(zap.Int("keep_days", req.KeepDays), zap.Time("cutoff", cutoff), zap.Bool("dry_run", req.DryRun))

	if req.DryRun {
		n, err := m.store.CountOlderThan(ctx, cutoff)
		if err != nil {
			return nil, fmt.Errorf("retention dry-run: %w", err)
		}
		res.WouldDeleteSnapshots = &n
		log.Info("retention dry-run", zap.Int("would_delete", n))
		return res, nil
	}

	n, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("retention: %w", err)
	}
	res.DeletedSnapshots = &n
	metrics.RetentionDeleted(n)
	log.Info("retention applied", zap.Int("deleted", n))
	return res, nil
}

// Expired lists the snapshots Run would delete for keepDays, oldest first.
func (m *Manager) Expired(ctx context.Context, keepDays int) ([]storage.Snapshot, error) {
	if keepDays < 0 {
		return nil, ErrInvalidKeepDays
	}
	snaps, err := m.store.ListOlderThan(ctx, m.Cutoff(keepDays))
	if err != nil {
		return nil, fmt.Errorf("list expired snapshots: %w", err)
	}
	return snaps, nil
}

// Count returns the number reported by a Result, whichever mode produced it.
func (r *Result) Count() int {
	switch {
	case r.DeletedSnapshots != nil:
		return *r.DeletedSnapshots
	case r.WouldDeleteSnapshots != nil:
		return *r.WouldDeleteSnapshots
	}
	return 0
}
