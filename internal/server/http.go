package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fraxd/internal/event"
	"fraxd/internal/ingestion"
	"fraxd/internal/observability"
	"fraxd/internal/persistence"
	"fraxd/internal/projection"
	"fraxd/internal/query"
)

// SubmitFunc hands a parsed command to the core and blocks until it is
// applied or rejected.
type SubmitFunc func(ctx context.Context, cmd event.Command) error

// HTTPServer serves the JSON API, health probes, and Prometheus metrics.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// HTTPDeps holds everything the HTTP handlers need.
type HTTPDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	Submit        SubmitFunc
	Metrics       *observability.Metrics
}

func NewHTTPServer(addr string, deps *HTTPDeps) *HTTPServer {
	h := &handlers{deps: deps, log: observability.NewLogger("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", deps.HealthChecker.LivenessHandler)
	r.Get("/readyz", deps.HealthChecker.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", h.getSystemState)
		r.Get("/balances/{account}", h.getBalances)
		r.Get("/balances/{account}/{asset}", h.getBalance)
		r.Get("/allowances/{asset}/{owner}/{spender}", h.getAllowance)
		r.Get("/events", h.getTokenEvents)
		r.Post("/commands", h.submitCommand)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/integrity", h.verifyIntegrity)
			r.Get("/eventlog", h.getEventLogInfo)
			r.Post("/rebuild-projections", h.rebuildProjections)
		})
	})

	return &HTTPServer{
		server: &http.Server{Addr: addr, Handler: r},
		log:    observability.NewLogger("http"),
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type handlers struct {
	deps *HTTPDeps
	log  zerolog.Logger
}

// requestLogger logs one line per request with the chi request ID.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// ==== query handlers ====

func (h *handlers) getSystemState(w http.ResponseWriter, r *http.Request) {
	timer := time.Now()
	defer h.observeQuery("state", timer)

	state, err := h.deps.QueryService.GetSystemState(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "state", err)
		return
	}
	if state == nil {
		writeJSONError(w, http.StatusNotFound, "no state projected yet")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *handlers) getBalances(w http.ResponseWriter, r *http.Request) {
	timer := time.Now()
	defer h.observeQuery("balances", timer)

	account := chi.URLParam(r, "account")
	balances, err := h.deps.QueryService.GetBalances(r.Context(), account)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "balances", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":  account,
		"balances": balances,
	})
}

func (h *handlers) getBalance(w http.ResponseWriter, r *http.Request) {
	timer := time.Now()
	defer h.observeQuery("balance", timer)

	account := chi.URLParam(r, "account")
	asset := chi.URLParam(r, "asset")

	balance, err := h.deps.QueryService.GetBalance(r.Context(), asset, account)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *handlers) getAllowance(w http.ResponseWriter, r *http.Request) {
	timer := time.Now()
	defer h.observeQuery("allowance", timer)

	asset := chi.URLParam(r, "asset")
	owner := chi.URLParam(r, "owner")
	spender := chi.URLParam(r, "spender")

	allowance, err := h.deps.QueryService.GetAllowance(r.Context(), asset, owner, spender)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "allowance", err)
		return
	}
	writeJSON(w, http.StatusOK, allowance)
}

func (h *handlers) getTokenEvents(w http.ResponseWriter, r *http.Request) {
	timer := time.Now()
	defer h.observeQuery("events", timer)

	q := r.URL.Query()
	asset := q.Get("asset")
	account := q.Get("account")

	limit := 50
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			writeJSONError(w, http.StatusBadRequest, "limit must be 1..500")
			return
		}
		limit = n
	}

	var before *int64
	if s := q.Get("before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "before must be an integer sequence")
			return
		}
		before = &n
	}

	events, err := h.deps.QueryService.GetTokenEvents(r.Context(), asset, account, limit, before)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "events", err)
		return
	}

	resp := map[string]interface{}{"events": events}
	if len(events) == limit {
		resp["next_before"] = events[len(events)-1].Sequence
	}
	writeJSON(w, http.StatusOK, resp)
}

// ==== command submission ====

// commandRequest is the HTTP submission envelope. Payload is the same
// wire format the NATS subjects carry.
type commandRequest struct {
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload"`
}

func (h *handlers) submitCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CommandType == "" {
		writeJSONError(w, http.StatusBadRequest, "command_type is required")
		return
	}

	cmd, err := ingestion.ParseRawCommand(ingestion.RawCommand{Data: req.Payload}, req.CommandType)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("parse payload: %v", err))
		return
	}

	if err := h.deps.Submit(r.Context(), cmd); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"accepted": false,
			"error":    err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted":     true,
		"command_type": req.CommandType,
	})
}

// ==== admin handlers ====

func (h *handlers) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "integrity", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) getEventLogInfo(w http.ResponseWriter, r *http.Request) {
	latestSeq, err := h.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "eventlog", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_sequence": latestSeq,
	})
}

func (h *handlers) rebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), h.deps.DB); err != nil {
		h.writeError(w, http.StatusInternalServerError, "rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

// ==== helpers ====

func (h *handlers) observeQuery(name string, start time.Time) {
	h.deps.Metrics.QueryRequests.WithLabelValues(name).Inc()
	h.deps.Metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

func (h *handlers) writeError(w http.ResponseWriter, status int, query string, err error) {
	h.deps.Metrics.QueryErrors.WithLabelValues(query).Inc()
	h.log.Error().Str("query", query).Err(err).Msg("query failed")
	writeJSONError(w, status, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
