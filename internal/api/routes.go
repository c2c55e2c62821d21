package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP router over the handler set.
func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.CreateWorkflow)
			r.Post("/{id}/tasks", h.AddTask)
			r.Get("/{id}/status", h.GetWorkflowStatus)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/{id}", h.GetTask)
			r.Post("/{id}/cancel", h.CancelTask)
		})

		r.Route("/workers", func(r chi.Router) {
			r.Post("/", h.RegisterWorker)
			r.Get("/{id}", h.GetWorkerStatus)
			r.Delete("/{id}", h.UnregisterWorker)
			r.Post("/{id}/reset", h.ResetWorkerError)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", h.AddSchedule)
			r.Get("/", h.ListSchedules)
			r.Delete("/{id}", h.RemoveSchedule)
		})

		r.Get("/history", h.ListHistory)
		r.Get("/system/status", h.GetSystemStatus)
		r.Post("/assignments/run", h.RunAssignmentPass)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	return r
}
