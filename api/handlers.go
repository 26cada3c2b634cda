package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"rankwatch/config"
	"rankwatch/logger"
	"rankwatch/provider"
	"rankwatch/retention"
	"rankwatch/snapshot"
	"rankwatch/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type handler struct {
	deps Deps
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, r, http.StatusOK, map[string]any{
		"service": "rankwatch",
		"server":  h.deps.Server,
		"auth":    h.deps.APIKey != "",
	})
}

// triggerSnapshot handles POST /snapshots. Save defaults to true.
func (h *handler) triggerSnapshot(w http.ResponseWriter, r *http.Request) {
	req := snapshot.Request{Save: true}
	if err := parseJSONBody(r, &req); err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.URLs) == 0 && len(req.Queries) == 0 {
		errorResponse(w, r, http.StatusBadRequest, "urls or queries is required")
		return
	}

	resp, err := h.deps.Snapshots.Trigger(r.Context(), req)
	if errors.Is(err, snapshot.ErrInvalidStrategy) {
		errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), h.deps.Log).Error("snapshot trigger failed", zap.Error(err))
		errorResponse(w, r, http.StatusInternalServerError, "snapshot failed")
		return
	}

	status := http.StatusOK
	if resp.Saved {
		status = http.StatusCreated
	}
	jsonResponse(w, r, status, resp)
}

type listResponse struct {
	Snapshots []storage.Snapshot `json:"snapshots"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// listSnapshots handles GET /snapshots?limit=&offset=.
func (h *handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil || limit <= 0 || limit > maxLimit {
		errorResponse(w, r, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxLimit))
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		errorResponse(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	snaps, err := h.deps.Store.ListSnapshots(r.Context(), limit, offset)
	if err != nil {
		logger.FromContext(r.Context(), h.deps.Log).Error("list snapshots failed", zap.Error(err))
		errorResponse(w, r, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []storage.Snapshot{}
	}
	jsonResponse(w, r, http.StatusOK, listResponse{Snapshots: snaps, Limit: limit, Offset: offset})
}

// getSnapshot handles GET /snapshots/{id}.
func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		errorResponse(w, r, http.StatusBadRequest, "id must be a positive integer")
		return
	}

	snap, err := h.deps.Store.GetSnapshot(r.Context(), id)
	if storage.IsNotFound(err) {
		errorResponse(w, r, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), h.deps.Log).Error("get snapshot failed", zap.Int64("snapshot_id", id), zap.Error(err))
		errorResponse(w, r, http.StatusInternalServerError, "failed to read snapshot")
		return
	}
	jsonResponse(w, r, http.StatusOK, snap)
}

// runRetention handles POST /retention.
func (h *handler) runRetention(w http.ResponseWriter, r *http.Request) {
	var req retention.Request
	if err := parseJSONBody(r, &req); err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := h.deps.Retention.Run(r.Context(), req)
	if errors.Is(err, retention.ErrInvalidKeepDays) {
		errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), h.deps.Log).Error("retention failed", zap.Error(err))
		errorResponse(w, r, http.StatusInternalServerError, "retention failed")
		return
	}
	jsonResponse(w, r, http.StatusOK, res)
}

type auditResponse struct {
	URL                     string           `json:"url"`
	LighthouseSummary       provider.Summary `json:"lighthouse_summary"`
	LoadingExperience       map[string]any   `json:"loading_experience"`
	OriginLoadingExperience map[string]any   `json:"origin_loading_experience"`
}

// auditPSI handles GET /audit/psi?url=&strategy=.
func (h *handler) auditPSI(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		errorResponse(w, r, http.StatusBadRequest, "url is required")
		return
	}
	strategy := r.URL.Query().Get("strategy")
	if strategy == "" {
		strategy = h.deps.Strategy
	}
	if !config.ValidStrategy(strategy) {
		errorResponse(w, r, http.StatusBadRequest, "strategy must be mobile or desktop")
		return
	}

	rep, err := h.deps.PSI.Fetch(r.Context(), target, strings.ToLower(strategy))
	if err != nil {
		logger.FromContext(r.Context(), h.deps.Log).Warn("psi audit failed", zap.String("url", target), zap.Error(err))
		errorResponse(w, r, http.StatusBadGateway, err.Error())
		return
	}
	jsonResponse(w, r, http.StatusOK, auditResponse{
		URL:                     rep.URL,
		LighthouseSummary:       rep.Summary,
		LoadingExperience:       rep.LoadingExperience,
		OriginLoadingExperience: rep.OriginLoadingExperience,
	})
}

type geoCheckRequest struct {
	Queries      []string `json:"queries"`
	SiteHostname string   `json:"siteHostname"`
}

// geoCheck handles POST /geo/check. Nothing is stored.
func (h *handler) geoCheck(w http.ResponseWriter, r *http.Request) {
	var req geoCheckRequest
	if err := parseJSONBody(r, &req); err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Queries) == 0 {
		errorResponse(w, r, http.StatusBadRequest, "queries is required")
		return
	}
	rows := h.deps.Geo.CollectGEO(r.Context(), req.Queries, req.SiteHostname)
	jsonResponse(w, r, http.StatusOK, map[string]any{"results": rows})
}

type indexNowRequest struct {
	Host string   `json:"host"`
	Key  string   `json:"key"`
	URLs []string `json:"urls"`
}

// indexNowSubmit handles POST /indexnow/submit.
func (h *handler) indexNowSubmit(w http.ResponseWriter, r *http.Request) {
	var req indexNowRequest
	if err := parseJSONBody(r, &req); err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Key == "" {
		req.Key = h.deps.IndexNowKey
	}
	switch {
	case req.Host == "":
		errorResponse(w, r, http.StatusBadRequest, "host is required")
		return
	case req.Key == "":
		errorResponse(w, r, http.StatusBadRequest, "key is required")
		return
	case len(req.URLs) == 0:
		errorResponse(w, r, http.StatusBadRequest, "urls is required")
		return
	}

	res, err := h.deps.IndexNow.Submit(r.Context(), req.Host, req.Key, req.URLs)
	if err != nil {
		logger.FromContext(r.Context(), h.deps.Log).Warn("indexnow submit failed", zap.Error(err))
		errorResponse(w, r, http.StatusBadGateway, err.Error())
		return
	}
	jsonResponse(w, r, http.StatusOK, res)
}

type gscRequest struct {
	SiteURL   string `json:"siteUrl"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// gscPerformance handles POST /gsc/performance. Search Console needs an
// OAuth flow that is not wired up, so the request is validated and echoed.
func (h *handler) gscPerformance(w http.ResponseWriter, r *http.Request) {
	var req gscRequest
	if err := parseJSONBody(r, &req); err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.SiteURL == "" {
		errorResponse(w, r, http.StatusBadRequest, "siteUrl is required")
		return
	}
	start, serr := time.Parse(time.DateOnly, req.StartDate)
	end, eerr := time.Parse(time.DateOnly, req.EndDate)
	if serr != nil || eerr != nil {
		errorResponse(w, r, http.StatusBadRequest, "startDate and endDate must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		errorResponse(w, r, http.StatusBadRequest, "endDate is before startDate")
		return
	}
	jsonResponse(w, r, http.StatusOK, map[string]any{
		"message":  "GSC performance is a stub; use the gsc-normalize command on a Search Console export",
		"received": req,
	})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
