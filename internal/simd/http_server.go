package simd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/burst-adaptation/internal/archive"
	"github.com/GoSim-25-26J-441/burst-adaptation/internal/burst"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
)

// ArchiveReader serves finished runs from persistent storage
type ArchiveReader interface {
	GetRun(ctx context.Context, id string) (*archive.Record, error)
	ListRuns(ctx context.Context, limit int) ([]*archive.Record, error)
}

type HTTPServer struct {
	mux      *http.ServeMux
	store    *RunStore
	Executor *RunExecutor
	archive  ArchiveReader
}

func NewHTTPServer(store *RunStore, executor *RunExecutor) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		store:    store,
		Executor: executor,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/runs", s.handleRuns)
	s.mux.HandleFunc("/v1/runs/", s.handleRunByID)
	s.mux.HandleFunc("/v1/burst-rate", s.handleBurstRate)
	s.mux.HandleFunc("/v1/archive/runs", s.handleArchiveList)
	s.mux.HandleFunc("/v1/archive/runs/", s.handleArchiveGet)

	return s
}

// WithArchive enables the /v1/archive endpoints
func (s *HTTPServer) WithArchive(a ArchiveReader) *HTTPServer {
	s.archive = a
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRuns handles /v1/runs
func (s *HTTPServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRunByID handles /v1/runs/{id} and its actions and sub-resources
func (s *HTTPServer) handleRunByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	type route struct {
		suffix  string
		method  string
		handler func(http.ResponseWriter, *http.Request, string)
	}
	routes := []route{
		{":start", http.MethodPost, s.handleStartRun},
		{":stop", http.MethodPost, s.handleStopRun},
		{"/metrics/timeseries", http.MethodGet, s.handleTimeSeries},
		{"/metrics", http.MethodGet, s.handleGetRunMetrics},
		{"/steps/stream", http.MethodGet, s.handleStepStream},
		{"/export", http.MethodGet, s.handleExportRun},
	}
	for _, rt := range routes {
		if !strings.HasSuffix(path, rt.suffix) {
			continue
		}
		if r.Method != rt.method {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rt.handler(w, r, strings.TrimSuffix(path, rt.suffix))
		return
	}

	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleGetRun(w, r, path)
}

// handleCreateRun handles POST /v1/runs
func (s *HTTPServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string    `json:"run_id,omitempty"`
		Input *RunInput `json:"input"`
		// Start launches the run right after creating it
		Start bool `json:"start,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Input == nil {
		s.writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	if err := ValidateInput(*req.Input); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.store.Create(req.RunID, *req.Input)
	if err != nil {
		switch {
		case errors.Is(err, ErrRunExists):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidRunID):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	logger.Info("run created (HTTP)", "run_id", rec.Run.ID)

	if req.Start {
		started, err := s.Executor.Start(rec.Run.ID)
		if err != nil {
			s.writeExecutorError(w, err)
			return
		}
		rec = started
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"run": rec.Run})
}

// handleListRuns handles GET /v1/runs with pagination and status filter
func (s *HTTPServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 1000)
	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	var status models.RunStatus
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		parsed, ok := parseRunStatus(statusStr)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status: "+statusStr)
			return
		}
		status = parsed
	}

	recs := s.store.ListFiltered(limit, offset, status)
	runs := make([]models.Run, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
		"pagination": map[string]any{
			"limit":  limit,
			"offset": offset,
			"count":  len(runs),
		},
	})
}

func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = min(parsed, max)
		}
	}
	return limit
}

// parseRunStatus accepts status names case-insensitively
func parseRunStatus(statusStr string) (models.RunStatus, bool) {
	status := models.RunStatus(strings.ToLower(statusStr))
	switch status {
	case models.RunStatusPending, models.RunStatusRunning, models.RunStatusCompleted,
		models.RunStatusFailed, models.RunStatusCancelled:
		return status, true
	}
	return "", false
}

// handleGetRun handles GET /v1/runs/{id}
func (s *HTTPServer) handleGetRun(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	resp := map[string]any{"run": rec.Run}
	if rec.Result != nil {
		resp["result"] = rec.Result
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleStartRun handles POST /v1/runs/{id}:start
func (s *HTTPServer) handleStartRun(w http.ResponseWriter, _ *http.Request, runID string) {
	updated, err := s.Executor.Start(runID)
	if err != nil {
		s.writeExecutorError(w, err)
		return
	}
	logger.Info("run started (HTTP)", "run_id", runID)
	s.writeJSON(w, http.StatusOK, map[string]any{"run": updated.Run})
}

// handleStopRun handles POST /v1/runs/{id}:stop
func (s *HTTPServer) handleStopRun(w http.ResponseWriter, _ *http.Request, runID string) {
	updated, err := s.Executor.Stop(runID)
	if err != nil {
		s.writeExecutorError(w, err)
		return
	}
	logger.Info("run cancelled (HTTP)", "run_id", runID)
	s.writeJSON(w, http.StatusOK, map[string]any{"run": updated.Run})
}

func (s *HTTPServer) writeExecutorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRunIDMissing):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRunTerminal):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleGetRunMetrics handles GET /v1/runs/{id}/metrics
func (s *HTTPServer) handleGetRunMetrics(w http.ResponseWriter, _ *http.Request, runID string) {
	if _, ok := s.store.Get(runID); !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	collector, ok := s.store.GetCollector(runID)
	if !ok || collector == nil {
		s.writeError(w, http.StatusPreconditionFailed, "metrics not available")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"metrics": collector.GetSummary()})
}

// handleTimeSeries handles GET /v1/runs/{id}/metrics/timeseries
func (s *HTTPServer) handleTimeSeries(w http.ResponseWriter, r *http.Request, runID string) {
	if _, ok := s.store.Get(runID); !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	collector, ok := s.store.GetCollector(runID)
	if !ok || collector == nil {
		s.writeError(w, http.StatusPreconditionFailed, "time-series metrics not available")
		return
	}

	var startTime, endTime time.Time
	var err error
	if v := r.URL.Query().Get("start_time"); v != "" {
		if startTime, err = parseTime(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid start_time format: "+err.Error())
			return
		}
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		if endTime, err = parseTime(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid end_time format: "+err.Error())
			return
		}
	}

	metricNames := collector.GetMetricNames()
	if name := r.URL.Query().Get("metric"); name != "" {
		metricNames = []string{name}
	}

	points := make([]map[string]any, 0)
	for _, name := range metricNames {
		for _, point := range collector.GetTimeSeries(name, nil) {
			if !startTime.IsZero() && point.Timestamp.Before(startTime) {
				continue
			}
			if !endTime.IsZero() && point.Timestamp.After(endTime) {
				continue
			}
			points = append(points, map[string]any{
				"timestamp": point.Timestamp.Format(time.RFC3339Nano),
				"metric":    point.Name,
				"value":     point.Value,
			})
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"points": points,
	})
}

// handleExportRun handles GET /v1/runs/{id}/export
func (s *HTTPServer) handleExportRun(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	export := map[string]any{
		"run":   rec.Run,
		"input": rec.Input,
		"steps": rec.Steps,
	}
	if rec.Result != nil {
		export["result"] = rec.Result
	}
	if collector, ok := s.store.GetCollector(runID); ok && collector != nil {
		export["metrics"] = collector.GetSummary()
	}
	s.writeJSON(w, http.StatusOK, export)
}

// parseTime parses time from ISO 8601 or Unix milliseconds
func parseTime(timeStr string) (time.Time, error) {
	if unixMs, err := strconv.ParseInt(timeStr, 10, 64); err == nil {
		return time.UnixMilli(unixMs).UTC(), nil
	}
	for _, format := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(format, timeStr); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unable to parse time format")
}

// handleStepStream handles GET /v1/runs/{id}/steps/stream (SSE). Every
// evaluated step is sent once; the stream ends when the run is terminal.
func (s *HTTPServer) handleStepStream(w http.ResponseWriter, r *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	interval := time.Second
	if v := r.URL.Query().Get("interval_ms"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			interval = time.Duration(ms) * time.Millisecond
		}
	}
	flush := func() {
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}

	previousStatus := rec.Run.Status
	sent := 0
	s.sendSSEEvent(w, "status_change", map[string]any{"status": previousStatus})

	// publish reports whether the stream is finished
	publish := func(rec *RunRecord) bool {
		for ; sent < len(rec.Steps); sent++ {
			s.sendSSEEvent(w, "step", rec.Steps[sent])
		}
		if rec.Run.Status != previousStatus {
			previousStatus = rec.Run.Status
			s.sendSSEEvent(w, "status_change", map[string]any{"status": previousStatus})
		}
		if rec.Run.Status.IsTerminal() {
			s.sendSSEEvent(w, "complete", map[string]any{"status": rec.Run.Status, "result": rec.Result})
			return true
		}
		return false
	}
	done := publish(rec)
	flush()
	if done {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			rec, ok := s.store.Get(runID)
			if !ok {
				s.sendSSEEvent(w, "error", map[string]any{"error": "run not found"})
				return
			}
			done := publish(rec)
			flush()
			if done {
				return
			}
		}
	}
}

func (s *HTTPServer) sendSSEEvent(w http.ResponseWriter, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Error("failed to marshal SSE event data", "error", err)
		return
	}
	if _, err := w.Write([]byte("event: " + eventType + "\ndata: " + string(payload) + "\n\n")); err != nil {
		logger.Error("failed to write SSE event", "error", err)
	}
}

// burstRateRequest is the body of POST /v1/burst-rate. Zero bin width and a
// missing threshold select the defaults.
type burstRateRequest struct {
	TimesMs           []float64 `json:"times_ms"`
	Senders           []int     `json:"senders"`
	PopulationSize    int       `json:"population_size"`
	DurationMs        float64   `json:"duration_ms"`
	BinWidthMs        float64   `json:"bin_width_ms,omitempty"`
	ActivityThreshold *float64  `json:"activity_threshold,omitempty"`
}

func (req burstRateRequest) estimator() *burst.Estimator {
	threshold := -1.0
	if req.ActivityThreshold != nil {
		threshold = *req.ActivityThreshold
	}
	return burst.NewEstimator(req.BinWidthMs, threshold)
}

// handleBurstRate handles POST /v1/burst-rate
func (s *HTTPServer) handleBurstRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req burstRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	est := req.estimator()
	analysis, err := est.Analyze(&models.SpikeTrain{
		TimesMs:        req.TimesMs,
		Senders:        req.Senders,
		PopulationSize: req.PopulationSize,
		DurationMs:     req.DurationMs,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"rate_hz":            analysis.RateHz,
		"bursts":             analysis.Bursts(),
		"bin_width_ms":       est.BinWidthMs,
		"activity_threshold": est.ActivityThreshold,
		"analysis":           analysis,
	})
}

// handleArchiveList handles GET /v1/archive/runs
func (s *HTTPServer) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.archive == nil {
		s.writeError(w, http.StatusNotImplemented, "archive not configured")
		return
	}
	recs, err := s.archive.ListRuns(r.Context(), parseLimit(r, 50, 1000))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*archive.Record{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": recs})
}

// handleArchiveGet handles GET /v1/archive/runs/{id}
func (s *HTTPServer) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.archive == nil {
		s.writeError(w, http.StatusNotImplemented, "archive not configured")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/archive/runs/")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}
	rec, err := s.archive.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}
