// Package scheduler runs the periodic collection and retention pass.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job is one step of a scheduled pass.
type Job func(ctx context.Context) error

// Config controls the loop.
type Config struct {
	// Interval between passes. The first pass runs immediately.
	Interval time.Duration
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
}

// Scheduler collects a snapshot and then applies retention, once per
// Interval.
type Scheduler struct {
	config  Config
	collect Job
	rotate  Job
	log     *zap.Logger
}

// New returns a Scheduler. Either job may be nil.
func New(cfg Config, collect, rotate Job, log *zap.Logger) *Scheduler {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{config: cfg, collect: collect, rotate: rotate, log: log}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", zap.Duration("interval", s.config.Interval))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass. A failing step is logged and does not
// stop the next one.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	if s.collect != nil {
		if err := s.collect(ctx); err != nil {
			s.log.Error("scheduled collection failed", zap.Error(err))
		}
	}
	if ctx.Err() != nil {
		return
	}
	if s.rotate != nil {
		if err := s.rotate(ctx); err != nil {
			s.log.Error("scheduled retention failed", zap.Error(err))
		}
	}
	s.log.Info("scheduled pass finished", zap.Duration("took", time.Since(start)))
}
