package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rankwatch/collector"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestMetricsExposed(t *testing.T) {
	ObserveBatch(collector.Batch{
		PSI: []collector.PsiRow{{URL: "a", Status: collector.StatusOK}, {URL: "b", Status: collector.StatusError}},
		Geo: []collector.GeoRow{{Query: "q", Status: collector.StatusStub}},
	}, 2*time.Second)
	SnapshotWritten(nil)
	SnapshotWritten(errors.New("disk full"))
	RetentionDeleted(3)
	RetentionDeleted(0)

	body := scrape(t)
	for _, want := range []string{
		"rankwatch_snapshots_written_total",
		"rankwatch_snapshot_write_failures_total",
		`rankwatch_psi_results_total{status="ok"}`,
		`rankwatch_psi_results_total{status="error"}`,
		`rankwatch_geo_results_total{status="stub"}`,
		"rankwatch_retention_deleted_total",
		"rankwatch_collection_duration_seconds_count",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics output missing %q", want)
		}
	}
}
