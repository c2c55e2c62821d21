package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nexhub-labs/coordinator/internal/agent"
	"github.com/nexhub-labs/coordinator/internal/model"
	"github.com/nexhub-labs/coordinator/internal/orchestrator"
	"github.com/nexhub-labs/coordinator/internal/registry"
	"github.com/nexhub-labs/coordinator/internal/resilience"
	"github.com/nexhub-labs/coordinator/internal/schedule"
	"github.com/nexhub-labs/coordinator/internal/storage"
	"github.com/nexhub-labs/coordinator/internal/store"
)

// Handlers maps the coordinator surface onto HTTP. All semantics live in
// the core; this layer only translates requests and status codes.
type Handlers struct {
	logger     *zap.Logger
	coord      *orchestrator.Orchestrator
	schedules  *schedule.RecurringScheduler
	history    storage.HistoryStore
	resilience resilience.Config
}

// NewHandlers creates the HTTP handler set. schedules and history may be
// nil when the corresponding features are disabled.
func NewHandlers(coord *orchestrator.Orchestrator, schedules *schedule.RecurringScheduler, history storage.HistoryStore, resilienceCfg resilience.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		logger:     logger.Named("api"),
		coord:      coord,
		schedules:  schedules,
		history:    history,
		resilience: resilienceCfg,
	}
}

type createWorkflowRequest struct {
	Name    string                 `json:"name"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.coord.CreateWorkflow(req.Name, req.Context)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

type addTaskRequest struct {
	Name         string                 `json:"name"`
	Class        model.TaskClass        `json:"class"`
	Priority     model.TaskPriority     `json:"priority"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

func (h *Handlers) AddTask(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")

	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.coord.AddTask(r.Context(), workflowID, req.Name, req.Class, req.Priority, req.Dependencies, req.Context)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (h *Handlers) GetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.coord.GetWorkflowStatus(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(report)
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.coord.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(task)
}

func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.CancelTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
}

type registerWorkerRequest struct {
	Type string `json:"type"`

	// Dependency names the upstream for http workers.
	Dependency   string `json:"dependency,omitempty"`
	FallbackBody string `json:"fallback_body,omitempty"`
}

// RegisterWorker registers one of the built-in worker implementations.
// External worker processes register through the Go API, not HTTP.
func (h *Handlers) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var worker model.Worker
	switch req.Type {
	case "transform":
		worker = agent.NewTransformAgent(h.logger)
	case "http":
		dep := req.Dependency
		if dep == "" {
			dep = "upstream"
		}
		cfg := agent.HTTPAgentConfig{Resilience: h.resilience}
		if req.FallbackBody != "" {
			cfg.FallbackBody = []byte(req.FallbackBody)
		}
		worker = agent.NewHTTPAgent(dep, cfg, h.logger)
	default:
		http.Error(w, "unknown worker type", http.StatusBadRequest)
		return
	}

	id, err := h.coord.RegisterWorker(r.Context(), worker)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (h *Handlers) UnregisterWorker(w http.ResponseWriter, r *http.Request) {
	h.coord.UnregisterWorker(r.Context(), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetWorkerStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.coord.GetWorkerStatus(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(state)
}

func (h *Handlers) ResetWorkerError(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ResetWorkerError(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "idle"})
}

func (h *Handlers) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.coord.GetSystemStatus(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(status)
}

func (h *Handlers) RunAssignmentPass(w http.ResponseWriter, r *http.Request) {
	assigned := h.coord.RunAssignmentPass(r.Context())
	json.NewEncoder(w).Encode(map[string]int{"assigned": assigned})
}

type addScheduleRequest struct {
	Expression string                    `json:"expression"`
	Template   schedule.WorkflowTemplate `json:"template"`
}

func (h *Handlers) AddSchedule(w http.ResponseWriter, r *http.Request) {
	if h.schedules == nil {
		http.Error(w, "recurring schedules disabled", http.StatusNotImplemented)
		return
	}

	var req addScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.schedules.Add(req.Expression, req.Template)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (h *Handlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	if h.schedules == nil {
		http.Error(w, "recurring schedules disabled", http.StatusNotImplemented)
		return
	}
	json.NewEncoder(w).Encode(h.schedules.List())
}

func (h *Handlers) RemoveSchedule(w http.ResponseWriter, r *http.Request) {
	if h.schedules == nil {
		http.Error(w, "recurring schedules disabled", http.StatusNotImplemented)
		return
	}
	h.schedules.Remove(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "history disabled", http.StatusNotImplemented)
		return
	}

	filters := make(map[string]interface{})
	for _, key := range []string{"task_id", "workflow_id", "status", "class"} {
		if value := r.URL.Query().Get(key); value != "" {
			filters[key] = value
		}
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.history.List(r.Context(), filters, offset, limit)
	if err != nil {
		http.Error(w, "failed to list history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*storage.TaskRecord{}
	}
	json.NewEncoder(w).Encode(records)
}

// writeError maps core errors onto HTTP status codes.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var validation *store.ValidationError

	switch {
	case errors.As(err, &validation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrWorkflowNotFound),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, registry.ErrWorkerNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrTaskTerminal),
		errors.Is(err, store.ErrTaskNotInProgress),
		errors.Is(err, registry.ErrWorkerNotErrored),
		errors.Is(err, registry.ErrDuplicateWorker):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("Request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
