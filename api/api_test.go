package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"rankwatch/collector"
	"rankwatch/provider"
	"rankwatch/retention"
	"rankwatch/snapshot"
	"rankwatch/storage"
)

type fakeSubmitter struct {
	host, key string
	urls      []string
}

func (f *fakeSubmitter) Submit(_ context.Context, host, key string, urls []string) (*provider.IndexNowResult, error) {
	f.host, f.key, f.urls = host, key, urls
	return &provider.IndexNowResult{StatusCode: 202, Text: ""}, nil
}

type testServer struct {
	srv   *httptest.Server
	store *storage.SQLite
	index *fakeSubmitter
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "snapshots.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	psi := provider.MetricProviderFunc(func(_ context.Context, url, _ string) (*provider.Report, error) {
		if strings.Contains(url, "broken") {
			return nil, &provider.Error{Kind: provider.KindTransport, Target: url, Err: errors.New("connection refused")}
		}
		lcp := "1.2 s"
		return &provider.Report{URL: url, Summary: provider.Summary{
			PerformanceScore: 0.91,
			CoreWebVitals:    provider.CoreWebVitals{LCP: &lcp},
		}}, nil
	})
	coll := collector.New(psi, provider.Unconfigured(), 2, nil)
	index := &fakeSubmitter{}

	h := NewRouter(Deps{
		Snapshots:   snapshot.New(coll, store, "test", "mobile", nil),
		Store:       store,
		Retention:   retention.NewManager(store, nil),
		PSI:         psi,
		Geo:         coll,
		IndexNow:    index,
		IndexNowKey: "default-key",
		APIKey:      apiKey,
		Server:      "test",
		Strategy:    "mobile",
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store, index: index}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t, "secret")
	resp := ts.do(t, "GET", "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health = %d", resp.StatusCode)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("response is missing X-Request-ID")
	}

	resp = ts.do(t, "GET", "/health", nil, map[string]string{RequestIDHeader: "abc"})
	if got := resp.Header.Get(RequestIDHeader); got != "abc" {
		t.Errorf("X-Request-ID = %q, want the caller's id", got)
	}
}

func TestAPIKey(t *testing.T) {
	ts := newTestServer(t, "secret")

	resp := ts.do(t, "GET", "/snapshots", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /snapshots without key = %d, want 401", resp.StatusCode)
	}
	var body ErrorBody
	decode(t, resp, &body)
	if body.Error != "Unauthorized" || body.Message == "" {
		t.Errorf("error body = %+v", body)
	}

	resp = ts.do(t, "GET", "/snapshots", nil, map[string]string{"X-API-Key": "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /snapshots with key = %d, want 200", resp.StatusCode)
	}
}

func TestOpenWhenNoKeyConfigured(t *testing.T) {
	ts := newTestServer(t, "")
	resp := ts.do(t, "GET", "/snapshots", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /snapshots = %d, want 200", resp.StatusCode)
	}
}

func TestTriggerListGet(t *testing.T) {
	ts := newTestServer(t, "")

	resp := ts.do(t, "POST", "/snapshots", map[string]any{
		"urls":         []string{"https://a.com", "https://broken.com", "https://c.com"},
		"queries":      []string{"best plumber"},
		"siteHostname": "a.com",
		"notes":        "api",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /snapshots = %d, want 201", resp.StatusCode)
	}
	var trig snapshot.Response
	decode(t, resp, &trig)
	if trig.PsiCount != 3 || trig.GeoCount != 1 || !trig.Saved || trig.SnapshotID == nil {
		t.Fatalf("trigger response = %+v", trig)
	}
	if trig.PsiRowsPreview[1].Status != collector.StatusError {
		t.Errorf("second row status = %s, want error", trig.PsiRowsPreview[1].Status)
	}

	resp = ts.do(t, "GET", "/snapshots?limit=5", nil, nil)
	var list listResponse
	decode(t, resp, &list)
	if len(list.Snapshots) != 1 || list.Snapshots[0].ID != *trig.SnapshotID || list.Limit != 5 {
		t.Fatalf("list = %+v", list)
	}

	resp = ts.do(t, "GET", "/snapshots/"+itoa(*trig.SnapshotID), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /snapshots/{id} = %d", resp.StatusCode)
	}
	var detail storage.SnapshotDetail
	decode(t, resp, &detail)
	if len(detail.PsiResults) != 3 || len(detail.GeoResults) != 1 || detail.Notes != "api" {
		t.Errorf("detail = %+v", detail)
	}
	if detail.GeoResults[0].Status != collector.StatusStub {
		t.Errorf("geo status = %s, want stub", detail.GeoResults[0].Status)
	}
}

func TestTriggerValidation(t *testing.T) {
	ts := newTestServer(t, "")

	cases := []struct {
		name string
		body any
		want int
	}{
		{"empty", map[string]any{}, http.StatusBadRequest},
		{"bad strategy", map[string]any{"urls": []string{"https://a.com"}, "strategy": "tablet"}, http.StatusBadRequest},
		{"no save", map[string]any{"urls": []string{"https://a.com"}, "save": false}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.do(t, "POST", "/snapshots", tc.body, nil)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestGetSnapshotErrors(t *testing.T) {
	ts := newTestServer(t, "")
	if resp := ts.do(t, "GET", "/snapshots/999", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing snapshot = %d, want 404", resp.StatusCode)
	}
	if resp := ts.do(t, "GET", "/snapshots/abc", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", resp.StatusCode)
	}
	if resp := ts.do(t, "GET", "/snapshots?limit=0", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", resp.StatusCode)
	}
}

func TestRetention(t *testing.T) {
	ts := newTestServer(t, "")
	ts.do(t, "POST", "/snapshots", map[string]any{"urls": []string{"https://a.com"}}, nil)

	resp := ts.do(t, "POST", "/retention", map[string]any{"keepDays": 0, "dryRun": true}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /retention = %d", resp.StatusCode)
	}
	var raw map[string]any
	decode(t, resp, &raw)
	if raw["dryRun"] != true || raw["wouldDeleteSnapshots"] == nil {
		t.Errorf("dry-run body = %v", raw)
	}
	if _, ok := raw["deletedSnapshots"]; ok {
		t.Errorf("dry-run body reports deletedSnapshots: %v", raw)
	}

	resp = ts.do(t, "POST", "/retention", map[string]any{"keepDays": -1}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("keepDays=-1 = %d, want 400", resp.StatusCode)
	}
}

func TestAuditPSI(t *testing.T) {
	ts := newTestServer(t, "")

	resp := ts.do(t, "GET", "/audit/psi?url=https://a.com", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /audit/psi = %d", resp.StatusCode)
	}
	var body auditResponse
	decode(t, resp, &body)
	if body.URL != "https://a.com" || body.LighthouseSummary.CoreWebVitals.LCP == nil {
		t.Errorf("audit body = %+v", body)
	}

	if resp := ts.do(t, "GET", "/audit/psi", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing url = %d, want 400", resp.StatusCode)
	}
	if resp := ts.do(t, "GET", "/audit/psi?url=https://broken.com", nil, nil); resp.StatusCode != http.StatusBadGateway {
		t.Errorf("provider failure = %d, want 502", resp.StatusCode)
	}
}

func TestGeoCheck(t *testing.T) {
	ts := newTestServer(t, "")
	resp := ts.do(t, "POST", "/geo/check", map[string]any{"queries": []string{"best plumber"}, "siteHostname": "a.com"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /geo/check = %d", resp.StatusCode)
	}
	var body struct {
		Results []collector.GeoRow `json:"results"`
	}
	decode(t, resp, &body)
	if len(body.Results) != 1 || body.Results[0].Status != collector.StatusStub {
		t.Errorf("results = %+v", body.Results)
	}

	list, err := ts.store.ListSnapshots(context.Background(), 10, 0)
	if err != nil || len(list) != 0 {
		t.Errorf("geo check persisted something: %v, %v", list, err)
	}
}

func TestIndexNowSubmit(t *testing.T) {
	ts := newTestServer(t, "")
	resp := ts.do(t, "POST", "/indexnow/submit", map[string]any{"host": "a.com", "urls": []string{"https://a.com/x"}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /indexnow/submit = %d", resp.StatusCode)
	}
	if ts.index.key != "default-key" || ts.index.host != "a.com" || len(ts.index.urls) != 1 {
		t.Errorf("submitted %+v", ts.index)
	}

	if resp := ts.do(t, "POST", "/indexnow/submit", map[string]any{"urls": []string{"x"}}, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing host = %d, want 400", resp.StatusCode)
	}
}

func TestGSCPerformanceStub(t *testing.T) {
	ts := newTestServer(t, "")
	resp := ts.do(t, "POST", "/gsc/performance", map[string]any{
		"siteUrl": "https://a.com", "startDate": "2026-01-01", "endDate": "2026-01-31",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /gsc/performance = %d", resp.StatusCode)
	}
	var body struct {
		Message  string     `json:"message"`
		Received gscRequest `json:"received"`
	}
	decode(t, resp, &body)
	if body.Message == "" || body.Received.SiteURL != "https://a.com" {
		t.Errorf("body = %+v", body)
	}

	bad := []map[string]any{
		{"startDate": "2026-01-01", "endDate": "2026-01-31"},
		{"siteUrl": "https://a.com", "startDate": "01/01/2026", "endDate": "2026-01-31"},
		{"siteUrl": "https://a.com", "startDate": "2026-02-01", "endDate": "2026-01-31"},
	}
	for _, b := range bad {
		if resp := ts.do(t, "POST", "/gsc/performance", b, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST /gsc/performance %v = %d, want 400", b, resp.StatusCode)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, "secret")
	resp := ts.do(t, "GET", "/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200 without a key", resp.StatusCode)
	}
}

func itoa(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}
