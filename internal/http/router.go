package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/splax/rollout/internal/domain"
	"github.com/splax/rollout/internal/repository"
	"github.com/splax/rollout/internal/service/flags"
	"github.com/splax/rollout/internal/service/history"
	"github.com/splax/rollout/internal/service/monitor"
	"github.com/splax/rollout/internal/service/rollback"
	"github.com/splax/rollout/internal/service/validate"
	"github.com/splax/rollout/internal/ws"
)

// Router wires HTTP endpoints to control-plane services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	flags     *flags.Engine
	monitor   *monitor.Monitor
	rollback  *rollback.Manager
	validator *validate.Validator
	history   *history.Tracker
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault   = time.Minute
	rateWindowRealtime  = 30 * time.Second
	rateLimitEvaluate   = 1200
	rateLimitWrite      = 60
	rateLimitRead       = 240
	rateLimitStream     = 30
	healthCheckTimeout  = 2 * time.Second
	sseHeartbeatPeriod  = 15 * time.Second
	defaultHistoryLimit = 50
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, flagEngine *flags.Engine, mon *monitor.Monitor, rb *rollback.Manager, validator *validate.Validator, tracker *history.Tracker, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		flags:     flagEngine,
		monitor:   mon,
		rollback:  rb,
		validator: validator,
		history:   tracker,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/flags/", r.audit(r.handleFlagSubroutes))
	r.mux.HandleFunc("/deployments/", r.audit(r.handleDeploymentSubroutes))
	r.mux.HandleFunc("/history", r.audit(r.handleHistory))
	r.mux.HandleFunc("/history/", r.audit(r.handleHistorySubroutes))
	r.mux.HandleFunc("/ws/events", r.audit(r.handleEventsWS))
}

func (r *Router) handleFlagSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/flags/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(trimmed, "/")
	evolutionID := parts[0]
	if evolutionID == "" {
		r.notFound(w)
		return
	}

	switch {
	case len(parts) == 1:
		r.handleFlag(w, req, evolutionID)
	case len(parts) == 2 && parts[1] == "evaluate":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		if !r.allow(w, req, "flags_evaluate", rateLimitEvaluate, rateWindowDefault) {
			return
		}
		r.handleFlagEvaluate(w, req, evolutionID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleFlag(w http.ResponseWriter, req *http.Request, evolutionID string) {
	switch req.Method {
	case http.MethodPost:
		if !r.allow(w, req, "flags_write", rateLimitWrite, rateWindowDefault) {
			return
		}
		var cfg flags.FlagConfig
		if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		flag, err := r.flags.CreateFlag(req.Context(), evolutionID, cfg)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, flag)
	case http.MethodGet:
		if !r.allow(w, req, "flags_read", rateLimitRead, rateWindowDefault) {
			return
		}
		flag, err := r.flags.GetFlag(req.Context(), evolutionID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, flag)
	case http.MethodPatch, http.MethodPut:
		if !r.allow(w, req, "flags_write", rateLimitWrite, rateWindowDefault) {
			return
		}
		var update flags.FlagUpdate
		if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		flag, err := r.flags.UpdateFlag(req.Context(), evolutionID, update)
		if err != nil {
			if errors.Is(err, flags.ErrNotFound) {
				r.writeServiceError(w, err)
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, flag)
	case http.MethodDelete:
		if !r.allow(w, req, "flags_write", rateLimitWrite, rateWindowDefault) {
			return
		}
		if err := r.flags.DeleteFlag(req.Context(), evolutionID); err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleFlagEvaluate(w http.ResponseWriter, req *http.Request, evolutionID string) {
	var evalCtx domain.EvalContext
	if err := json.NewDecoder(req.Body).Decode(&evalCtx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	flagID := flags.FlagID(evolutionID)
	enabled, err := r.flags.Evaluate(req.Context(), flagID, evalCtx)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flag_id": flagID,
		"user_id": evalCtx.UserID,
		"enabled": enabled,
	})
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/deployments/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		r.notFound(w)
		return
	}
	deploymentID := parts[0]

	switch parts[1] {
	case "monitor":
		r.handleMonitor(w, req, deploymentID)
	case "health":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		if !r.allow(w, req, "monitor_read", rateLimitRead, rateWindowDefault) {
			return
		}
		report, err := r.monitor.GenerateHealthReport(deploymentID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case "metrics":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		if !r.allow(w, req, "monitor_read", rateLimitRead, rateWindowDefault) {
			return
		}
		summary, err := r.monitor.MetricsSummary(deploymentID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case "rollback-plan":
		r.handleRollbackPlan(w, req, deploymentID)
	case "rollback":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		if !r.allow(w, req, "rollback_write", rateLimitWrite, rateWindowDefault) {
			return
		}
		r.handleRollbackExecute(w, req, deploymentID)
	case "validate":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		if !r.allow(w, req, "validate", rateLimitWrite, rateWindowDefault) {
			return
		}
		r.handleValidate(w, req, deploymentID)
	case "record":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		if !r.allow(w, req, "history_write", rateLimitWrite, rateWindowDefault) {
			return
		}
		r.handleRecord(w, req, deploymentID)
	case "events":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		if !r.allow(w, req, "events_stream", rateLimitStream, rateWindowRealtime) {
			return
		}
		r.streamEvents(w, req, deploymentID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleMonitor(w http.ResponseWriter, req *http.Request, deploymentID string) {
	switch req.Method {
	case http.MethodPost:
		if !r.allow(w, req, "monitor_write", rateLimitWrite, rateWindowDefault) {
			return
		}
		var deployment domain.Deployment
		if err := json.NewDecoder(req.Body).Decode(&deployment); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if deployment.ID == "" {
			deployment.ID = deploymentID
		}
		if deployment.ID != deploymentID {
			writeError(w, http.StatusBadRequest, "deployment id mismatch")
			return
		}
		session, err := r.monitor.StartMonitoring(req.Context(), deployment)
		if err != nil {
			if errors.Is(err, monitor.ErrAlreadyMonitoring) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, session)
	case http.MethodDelete:
		if !r.allow(w, req, "monitor_write", rateLimitWrite, rateWindowDefault) {
			return
		}
		if err := r.monitor.StopMonitoring(deploymentID); err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleRollbackPlan(w http.ResponseWriter, req *http.Request, deploymentID string) {
	switch req.Method {
	case http.MethodPost:
		if !r.allow(w, req, "rollback_write", rateLimitWrite, rateWindowDefault) {
			return
		}
		var deployment domain.Deployment
		if err := json.NewDecoder(req.Body).Decode(&deployment); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if deployment.ID == "" {
			deployment.ID = deploymentID
		}
		if deployment.ID != deploymentID {
			writeError(w, http.StatusBadRequest, "deployment id mismatch")
			return
		}
		plan, err := r.rollback.CreatePlan(req.Context(), deployment)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, plan)
	case http.MethodGet:
		if !r.allow(w, req, "rollback_read", rateLimitRead, rateWindowDefault) {
			return
		}
		plan, err := r.rollback.Plan(deploymentID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleRollbackExecute(w http.ResponseWriter, req *http.Request, deploymentID string) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reason := strings.TrimSpace(payload.Reason)
	if reason == "" {
		reason = "manual rollback"
	}
	result, err := r.rollback.ExecuteRollback(req.Context(), deploymentID, reason)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleValidate(w http.ResponseWriter, req *http.Request, deploymentID string) {
	var payload struct {
		Deployment domain.Deployment `json:"deployment"`
		DurationMS int64             `json:"duration_ms"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Deployment.ID == "" {
		payload.Deployment.ID = deploymentID
	}
	if payload.Deployment.ID != deploymentID {
		writeError(w, http.StatusBadRequest, "deployment id mismatch")
		return
	}
	duration := time.Duration(payload.DurationMS) * time.Millisecond
	report, err := r.validator.Validate(req.Context(), payload.Deployment, duration)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (r *Router) handleRecord(w http.ResponseWriter, req *http.Request, deploymentID string) {
	var deployment domain.Deployment
	if err := json.NewDecoder(req.Body).Decode(&deployment); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if deployment.ID == "" {
		deployment.ID = deploymentID
	}
	if deployment.ID != deploymentID {
		writeError(w, http.StatusBadRequest, "deployment id mismatch")
		return
	}
	record, err := r.history.Record(req.Context(), deployment)
	if err != nil {
		if errors.Is(err, history.ErrMissingResult) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if !r.allow(w, req, "history_read", rateLimitRead, rateWindowDefault) {
		return
	}
	query := req.URL.Query()

	if evolutionID := strings.TrimSpace(query.Get("evolution_id")); evolutionID != "" {
		records, err := r.history.RecordsByEvolution(req.Context(), evolutionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}
	if raw := strings.TrimSpace(query.Get("strategy")); raw != "" {
		strategy := domain.Strategy(raw)
		if !strategy.Valid() {
			writeError(w, http.StatusBadRequest, "unknown strategy")
			return
		}
		records, err := r.history.RecordsByStrategy(req.Context(), strategy)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}
	if query.Get("from") != "" || query.Get("to") != "" {
		from, err := time.Parse(time.RFC3339, query.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		to, err := time.Parse(time.RFC3339, query.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		records, err := r.history.RecordsBetween(req.Context(), from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	records, err := r.history.RecentRecords(req.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (r *Router) handleHistorySubroutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/history/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		r.notFound(w)
		return
	}

	switch trimmed {
	case "analytics":
		if !r.allow(w, req, "history_read", rateLimitRead, rateWindowDefault) {
			return
		}
		analytics, err := r.history.Analytics(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, analytics)
	case "export":
		if !r.allow(w, req, "history_read", rateLimitRead, rateWindowDefault) {
			return
		}
		format := history.ExportFormat(req.URL.Query().Get("format"))
		if format == "" {
			format = history.ExportJSON
		}
		data, err := r.history.Export(req.Context(), format)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		switch format {
		case history.ExportCSV:
			w.Header().Set("Content-Type", "text/csv")
		default:
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		if !r.allow(w, req, "history_read", rateLimitRead, rateWindowDefault) {
			return
		}
		record, err := r.history.RecordByDeploymentID(req.Context(), trimmed)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if !r.allow(w, req, "events_stream", rateLimitStream, rateWindowRealtime) {
		return
	}
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		deploymentID = ws.AllStreams
	}
	r.serveWebsocket(w, req, deploymentID)
}

// streamEvents serves a deployment's live event stream, speaking websocket
// when the client asks for an upgrade and SSE otherwise.
func (r *Router) streamEvents(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if websocket.IsWebSocketUpgrade(req) {
		r.serveWebsocket(w, req, deploymentID)
		return
	}
	r.serveSSE(w, req, deploymentID)
}

func (r *Router) serveWebsocket(w http.ResponseWriter, req *http.Request, deploymentID string) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger, deploymentID)
	r.hub.Register(deploymentID, client)
	go func() {
		defer func() {
			r.hub.Unregister(deploymentID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) serveSSE(w http.ResponseWriter, req *http.Request, deploymentID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger, deploymentID)
	r.hub.Register(deploymentID, client)
	defer func() {
		r.hub.Unregister(deploymentID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// allow applies a rate limit for one route class, answering whether the
// handler should proceed.
func (r *Router) allow(w http.ResponseWriter, req *http.Request, route string, limit int, window time.Duration) bool {
	if limit <= 0 || r.limiter == nil {
		return true
	}
	key := rateLimitKeyIP(req)
	decision := r.limiter.Allow(route+":"+key, limit, window)
	r.applyRateHeaders(w, limit, decision)
	if !decision.allowed {
		r.recordRateLimitHit(route, rateMetricKey(key))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// writeServiceError maps service sentinels onto HTTP statuses.
func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, flags.ErrNotFound),
		errors.Is(err, monitor.ErrSessionNotFound),
		errors.Is(err, rollback.ErrPlanNotFound),
		errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		route := routeLabel(req.URL.Path)
		r.recordRequestMetrics(req.Method, route, status, duration)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses identifiers out of paths so metric label cardinality
// stays bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/flags/"):
		if strings.HasSuffix(path, "/evaluate") {
			return "/flags/{evolution_id}/evaluate"
		}
		return "/flags/{evolution_id}"
	case strings.HasPrefix(path, "/deployments/"):
		parts := strings.Split(strings.TrimPrefix(path, "/deployments/"), "/")
		if len(parts) == 2 {
			return "/deployments/{id}/" + parts[1]
		}
		return "/deployments/{id}"
	case strings.HasPrefix(path, "/history/"):
		rest := strings.TrimPrefix(path, "/history/")
		if rest == "analytics" || rest == "export" {
			return path
		}
		return "/history/{deployment_id}"
	default:
		return path
	}
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}
