// Package api implements the HTTP front end of the task engine: submitting
// function invocations, polling task status, fetching results, and
// cancelling tasks. The engine itself lives in internal/task; this package
// only translates HTTP to engine calls and engine errors to status codes.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskmill/taskmill/internal/api/shared"
	"github.com/taskmill/taskmill/internal/platform/logger"
	"github.com/taskmill/taskmill/internal/task"
)

// InvokeRequest represents the request body for invoking a function.
type InvokeRequest struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// TaskResponse represents the status of a task.
type TaskResponse struct {
	TaskID      string     `json:"task_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ResultResponse represents a finished task's result.
type ResultResponse struct {
	TaskID string `json:"task_id"`
	Result any    `json:"result"`
}

// InvokeResponse represents a synchronous invocation's result.
type InvokeResponse struct {
	Result any `json:"result"`
}

// CancelResponse represents the outcome of a cancellation.
type CancelResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// FunctionsResponse lists the invokable function names.
type FunctionsResponse struct {
	Functions []string `json:"functions"`
}

// TaskHandler handles task-related HTTP requests against one manager.
type TaskHandler struct {
	manager *task.Manager
	catalog *Catalog
	logger  *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(manager *task.Manager, catalog *Catalog, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		manager: manager,
		catalog: catalog,
		logger:  logger.With("component", "task_handler"),
	}
}

// RegisterRoutes mounts the handler's routes on the given router.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Get("/functions", h.ListFunctions)
	r.Post("/functions/{name}", h.Invoke)
	r.Get("/tasks", h.ListTasks)
	r.Get("/tasks/{id}", h.GetStatus)
	r.Get("/tasks/{id}/result", h.GetResult)
	r.Delete("/tasks/{id}", h.CancelTask)
}

// ListFunctions handles GET /api/functions requests.
func (h *TaskHandler) ListFunctions(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, FunctionsResponse{Functions: h.catalog.Names()})
}

// Invoke handles POST /api/functions/{name} requests. The dispatch policy
// decides whether the call runs inline (responding with the result) or is
// submitted as a task (responding 202 with a task handle).
func (h *TaskHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	fn, ok := h.catalog.Lookup(name)
	if !ok {
		shared.RespondWithError(w, r, http.StatusNotFound, "Unknown function: "+name)
		return
	}

	var req InvokeRequest
	if r.ContentLength != 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
	}

	if task.ShouldRunAsync(h.manager.DispatchMode(), h.asyncIntent(r)) {
		h.invokeAsync(w, r, fn, &req)
		return
	}
	h.invokeSync(w, r, fn, &req)
}

// asyncIntent reads the wire-level flag the configured dispatch mode cares
// about. For always/never modes the value is ignored.
func (h *TaskHandler) asyncIntent(r *http.Request) bool {
	switch h.manager.DispatchMode() {
	case task.ModeHeaderFlag:
		return isTruthy(r.Header.Get("X-Async"))
	default:
		return isTruthy(r.URL.Query().Get("async"))
	}
}

func isTruthy(s string) bool {
	switch s {
	case "1", "true", "True", "yes":
		return true
	default:
		return false
	}
}

func (h *TaskHandler) invokeAsync(w http.ResponseWriter, r *http.Request, fn task.Callable, req *InvokeRequest) {
	taskID, err := h.manager.CreateTask(r.Context(), fn, req.Args, req.Kwargs)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	rec, err := h.manager.GetStatus(r.Context(), taskID)
	if err != nil {
		// The record can only be missing if it was cancelled between
		// submission and this read; report the handle anyway.
		h.logger.Debug("record missing right after submit", "task_id", taskID, "error", err)
		shared.RespondWithJSON(w, r, http.StatusAccepted, TaskResponse{TaskID: taskID, Status: string(task.StatusRunning)})
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, recordToResponse(rec))
}

func (h *TaskHandler) invokeSync(w http.ResponseWriter, r *http.Request, fn task.Callable, req *InvokeRequest) {
	result, err := task.RunCallable(r.Context(), fn, req.Args, req.Kwargs)
	if err != nil {
		logger.FromContext(r.Context()).Error("synchronous invocation failed", "error", err, "path", r.URL.Path)
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Function failed: "+err.Error(), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, InvokeResponse{Result: result})
}

// GetStatus handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	rec, err := h.manager.GetStatus(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, recordToResponse(rec))
}

// DefaultWaitTimeout bounds a ?wait=true result query that names no
// ?timeout= of its own, so a bare wait actually waits instead of expiring
// immediately.
const DefaultWaitTimeout = 30 * time.Second

// GetResult handles GET /api/tasks/{id}/result requests. With ?wait=true the
// call blocks until the task finishes or the ?timeout= duration elapses.
func (h *TaskHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	wait := isTruthy(r.URL.Query().Get("wait"))
	timeout := DefaultWaitTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid timeout: "+raw)
			return
		}
		timeout = parsed
	}

	result, err := h.manager.GetResult(r.Context(), taskID, wait, timeout)
	if err != nil {
		h.respondResultError(w, r, taskID, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ResultResponse{TaskID: taskID, Result: result})
}

// respondResultError maps result-retrieval errors, distinguishing "the task
// itself failed" (an outcome, reported with its stored detail) from
// retrieval problems.
func (h *TaskHandler) respondResultError(w http.ResponseWriter, r *http.Request, taskID string, err error) {
	var execErr *task.ExecutionError
	if errors.As(err, &execErr) {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, GetSafeErrorMessage(err), err)
		return
	}
	if errors.Is(err, task.ErrTaskNotReady) {
		shared.RespondWithJSON(w, r, http.StatusAccepted, shared.ErrorResponse{
			Error:   GetSafeErrorMessage(err),
			TraceID: shared.GetTraceID(r.Context()),
		})
		return
	}
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}

// CancelTask handles DELETE /api/tasks/{id} requests. Cancellation is
// idempotent: cancelling an unknown or already-cancelled task reports
// cancelled=false with a 200.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	removed, err := h.manager.CancelTask(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CancelResponse{TaskID: taskID, Cancelled: removed})
}

// ListTasks handles GET /api/tasks?limit= requests. Tasks are returned most
// recent first.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit: "+raw)
			return
		}
		limit = parsed
	}

	recs, err := h.manager.ListTasks(r.Context(), limit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]TaskResponse, 0, len(recs))
	for _, rec := range recs {
		responses = append(responses, recordToResponse(rec))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// recordToResponse converts a task.Record to a TaskResponse.
func recordToResponse(rec *task.Record) TaskResponse {
	return TaskResponse{
		TaskID:      rec.TaskID,
		Status:      string(rec.Status),
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
}
