// Package api is the HTTP surface over the snapshot service and store.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"rankwatch/collector"
	"rankwatch/metrics"
	"rankwatch/provider"
	"rankwatch/retention"
	"rankwatch/snapshot"
	"rankwatch/storage"
)

// Triggerer runs one collection.
type Triggerer interface {
	Trigger(ctx context.Context, req snapshot.Request) (*snapshot.Response, error)
}

// Reader reads persisted snapshots.
type Reader interface {
	ListSnapshots(ctx context.Context, limit, offset int) ([]storage.Snapshot, error)
	GetSnapshot(ctx context.Context, id int64) (*storage.SnapshotDetail, error)
}

// Retainer applies the retention policy.
type Retainer interface {
	Run(ctx context.Context, req retention.Request) (*retention.Result, error)
}

// GeoChecker answers queries without persisting anything.
type GeoChecker interface {
	CollectGEO(ctx context.Context, queries []string, site string) []collector.GeoRow
}

// Submitter pings IndexNow.
type Submitter interface {
	Submit(ctx context.Context, host, key string, urls []string) (*provider.IndexNowResult, error)
}

// Deps wires the handlers to their collaborators.
type Deps struct {
	Snapshots Triggerer
	Store     Reader
	Retention Retainer
	PSI       provider.MetricProvider
	Geo       GeoChecker
	IndexNow  Submitter

	IndexNowKey string // used when a submit request carries none
	APIKey      string // empty leaves the API open
	Server      string
	Strategy    string // default for /audit/psi
	Log         *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &handler{deps: d}

	r := chi.NewRouter()
	r.Use(requestContext(d.Log))
	r.Use(requestLogger(d.Log))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.health)
	r.Get("/", h.root)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(d.APIKey))

		r.Post("/snapshots", h.triggerSnapshot)
		r.Get("/snapshots", h.listSnapshots)
		r.Get("/snapshots/{id}", h.getSnapshot)
		r.Post("/retention", h.runRetention)

		r.Get("/audit/psi", h.auditPSI)
		r.Post("/geo/check", h.geoCheck)
		r.Post("/indexnow/submit", h.indexNowSubmit)
		r.Post("/gsc/performance", h.gscPerformance)
	})

	return r
}
