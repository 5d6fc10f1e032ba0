package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/asyncq/internal/domain"
	"github.com/djlord-it/asyncq/internal/executor"
	"github.com/djlord-it/asyncq/internal/service"
	"github.com/djlord-it/asyncq/internal/sweeper"
)

// PrincipalHeader carries the caller identity. Jobs are scoped to it.
const PrincipalHeader = "X-Principal"

// DefaultPrincipal is used when PrincipalHeader is absent.
const DefaultPrincipal = "anonymous"

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Queries is the job lifecycle the handler serves.
type Queries interface {
	Submit(ctx context.Context, sub service.Submission) (domain.Job, error)
	Get(ctx context.Context, principal string, jobID uuid.UUID) (domain.Job, error)
	Cancel(ctx context.Context, principal string, jobID uuid.UUID) error
}

// Sweeper runs an on-demand cleanup sweep.
type Sweeper interface {
	RunOnce(ctx context.Context) (sweeper.Result, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// LeaderStatus reports whether this process currently holds sweeper leadership.
type LeaderStatus interface {
	IsLeader() bool
}

type Handler struct {
	queries Queries
	sweeper Sweeper // optional, nil disables /admin/sweep
	checks  map[string]HealthCheck
	leader  LeaderStatus
	limiter *SubmitLimiter // optional, nil = unlimited
}

func NewHandler(queries Queries) *Handler {
	return &Handler{queries: queries, checks: make(map[string]HealthCheck)}
}

// WithSweeper enables POST /admin/sweep.
func (h *Handler) WithSweeper(s Sweeper) *Handler {
	h.sweeper = s
	return h
}

// WithSubmitLimiter rejects submissions over the per-principal rate with 429.
func (h *Handler) WithSubmitLimiter(l *SubmitLimiter) *Handler {
	h.limiter = l
	return h
}

// WithHealthCheck adds a named component to verbose /health responses.
func (h *Handler) WithHealthCheck(name string, check HealthCheck) *Handler {
	h.checks[name] = check
	return h
}

// WithLeaderStatus reports leadership in verbose /health responses and
// restricts POST /admin/sweep to the leader.
func (h *Handler) WithLeaderStatus(l LeaderStatus) *Handler {
	h.leader = l
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/queries" && r.Method == http.MethodPost:
		h.submitQuery(w, r)

	case path == "/admin/sweep" && r.Method == http.MethodPost && h.sweeper != nil:
		h.sweep(w, r)

	case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
		h.cancelQuery(w, r)

	case strings.HasPrefix(path, "/queries/") && r.Method == http.MethodGet:
		h.getQuery(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || (len(h.checks) == 0 && h.leader == nil) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	if h.leader != nil {
		if h.leader.IsLeader() {
			resp.Components["sweeper"] = "leader"
		} else {
			resp.Components["sweeper"] = "follower"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) submitQuery(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.limiter != nil && !h.limiter.Allow(principal) {
		writeError(w, http.StatusTooManyRequests, "too many submissions")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req SubmitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateSubmitQuery(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.queries.Submit(r.Context(), service.Submission{
		Principal: principal,
		Query:     req.Query,
		QueryType: domain.QueryType(req.QueryType),
		RequestID: req.RequestID,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateJob):
			writeError(w, http.StatusConflict, "duplicate request_id")
		case errors.Is(err, executor.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "executor queue is full")
		case errors.Is(err, executor.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		default:
			log.Printf("api: submit query error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to submit query")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, toQueryResponse(job))
}

func (h *Handler) getQuery(w http.ResponseWriter, r *http.Request) {
	// Extract job ID from path: /queries/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "queries" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query id")
		return
	}

	principal, err := principalFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.queries.Get(r.Context(), principal, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "query not found")
			return
		}
		log.Printf("api: get query error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get query")
		return
	}

	writeJSON(w, http.StatusOK, toQueryResponse(job))
}

func (h *Handler) cancelQuery(w http.ResponseWriter, r *http.Request) {
	// Extract job ID from path: /queries/{id}/cancel
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "queries" || parts[2] != "cancel" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	jobID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query id")
		return
	}

	principal, err := principalFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.queries.Cancel(r.Context(), principal, jobID); err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "query not found")
		case errors.Is(err, domain.ErrTerminalStatus):
			writeError(w, http.StatusConflict, "query already finished")
		default:
			log.Printf("api: cancel query error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel query")
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	// The sweep lock is per process; only the leader may sweep.
	if h.leader != nil && !h.leader.IsLeader() {
		writeError(w, http.StatusConflict, "this instance is not the sweeper leader")
		return
	}

	res, err := h.sweeper.RunOnce(r.Context())
	if errors.Is(err, sweeper.ErrSweepInProgress) {
		writeError(w, http.StatusConflict, "sweep already in progress")
		return
	}

	resp := SweepResponse{Deleted: res.Deleted, TimedOut: res.TimedOut}
	if err != nil {
		log.Printf("api: sweep error: %v", err)
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
