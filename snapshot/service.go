// Package snapshot runs one collection and persists it as a snapshot.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"rankwatch/collector"
	"rankwatch/config"
	"rankwatch/logger"
	"rankwatch/metrics"
)

// PreviewRows caps the rows echoed back in a Response.
const PreviewRows = 10

// ErrInvalidStrategy is returned for a strategy other than mobile or desktop.
var ErrInvalidStrategy = errors.New("strategy must be mobile or desktop")

// Collector produces one row per URL and query.
type Collector interface {
	Collect(ctx context.Context, req collector.Request) collector.Batch
}

// Writer persists a snapshot atomically.
type Writer interface {
	WriteSnapshot(ctx context.Context, server, notes string, psi []collector.PsiRow, geo []collector.GeoRow) (int64, error)
}

// Request is one trigger.
type Request struct {
	URLs         []string `json:"urls"`
	Queries      []string `json:"queries"`
	SiteHostname string   `json:"siteHostname"`
	Strategy     string   `json:"strategy"`
	Save         bool     `json:"save"`
	Notes        *string  `json:"notes"`
}

// Response reports what was collected and whether it was stored.
type Response struct {
	SnapshotID     *int64             `json:"snapshotId"`
	PsiCount       int                `json:"psiCount"`
	GeoCount       int                `json:"geoCount"`
	Saved          bool               `json:"saved"`
	PsiRowsPreview []collector.PsiRow `json:"psiRowsPreview"`
	GeoRowsPreview []collector.GeoRow `json:"geoRowsPreview"`
	Error          string             `json:"error,omitempty"`

	// Batch holds every row; previews are a prefix of it.
	Batch collector.Batch `json:"-"`
}

// Service is the single entry point for writes, shared by the HTTP trigger
// and the scheduler.
type Service struct {
	collector Collector
	store     Writer
	server    string
	strategy  string
	log       *zap.Logger

	writeMu sync.Mutex
}

// New returns a Service labelling snapshots with server. defaultStrategy
// applies when a Request leaves Strategy empty.
func New(c Collector, store Writer, server, defaultStrategy string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if defaultStrategy == "" {
		defaultStrategy = "mobile"
	}
	return &Service{
		collector: c,
		store:     store,
		server:    server,
		strategy:  defaultStrategy,
		log:       log,
	}
}

// Trigger collects and, when req.Save is set, persists the result. A
// persistence failure does not lose the rows: they are returned with
// Saved false and Error set.
func (s *Service) Trigger(ctx context.Context, req Request) (*Response, error) {
	strategy := strings.ToLower(strings.TrimSpace(req.Strategy))
	if strategy == "" {
		strategy = s.strategy
	}
	if !config.ValidStrategy(strategy) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, req.Strategy)
	}

	log := logger.FromContext(ctx, s.log)

	start := time.Now()
	batch := s.collector.Collect(ctx, collector.Request{
		URLs:     req.URLs,
		Queries:  req.Queries,
		Site:     req.SiteHostname,
		Strategy: strategy,
	})
	metrics.ObserveBatch(batch, time.Since(start))

	resp := &Response{
		PsiCount:       len(batch.PSI),
		GeoCount:       len(batch.Geo),
		PsiRowsPreview: head(batch.PSI, PreviewRows),
		GeoRowsPreview: head(batch.Geo, PreviewRows),
		Batch:          batch,
	}
	if !req.Save {
		return resp, nil
	}

	notes := ""
	if req.Notes != nil {
		notes = *req.Notes
	}

	id, err := s.write(ctx, notes, batch)
	metrics.SnapshotWritten(err)
	if err != nil {
		log.Error("snapshot not saved", zap.Error(err),
			zap.Int("psi_rows", resp.PsiCount), zap.Int("geo_rows", resp.GeoCount))
		resp.Error = err.Error()
		return resp, nil
	}

	resp.SnapshotID = &id
	resp.Saved = true
	log.Info("snapshot saved", zap.Int64("snapshot_id", id),
		zap.Int("psi_rows", resp.PsiCount), zap.Int("geo_rows", resp.GeoCount))
	return resp, nil
}

func (s *Service) write(ctx context.Context, notes string, b collector.Batch) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.WriteSnapshot(ctx, s.server, notes, b.PSI, b.Geo)
}

func head[T any](rows []T, n int) []T {
	if len(rows) > n {
		rows = rows[:n]
	}
	out := make([]T, len(rows))
	copy(out, rows)
	return out
}
