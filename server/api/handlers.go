package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/dispatch/comms"
	"github.com/GoCodeAlone/dispatch/task"
	"github.com/GoCodeAlone/dispatch/worker"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Dispatcher Dispatcher
	Bus        comms.Bus    // optional
	Journal    task.Journal // optional
	Logger     *slog.Logger
	Version    string
	StartAt    time.Time
}

// RegisterRoutes registers all protected API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)

	mux.HandleFunc("GET /api/workers", h.listWorkers)

	mux.HandleFunc("GET /api/events", h.listEvents)
	mux.HandleFunc("GET /api/journal", h.listJournal)

	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	var status *task.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st := task.Status(s)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(s))
			return
		}
		status = &st
	}

	snap, err := h.Dispatcher.Snapshot(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	tasks := snap.Tasks
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// createTaskRequest is the body accepted by POST /api/tasks.
type createTaskRequest struct {
	Description string `json:"description"`
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	id, err := h.Dispatcher.Enqueue(r.Context(), req.Description)
	switch {
	case errors.Is(err, task.ErrPoolFull):
		writeError(w, http.StatusInsufficientStorage, err.Error())
		return
	case errors.Is(err, task.ErrDescriptionTooLong), errors.Is(err, task.ErrInvalidDescription):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	t, err := h.Dispatcher.Task(r.Context(), id)
	if err != nil {
		// Enqueued, but the dispatcher went away before the read-back.
		writeJSON(w, http.StatusCreated, task.Task{ID: id, Description: req.Description, Status: task.StatusPending})
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	t, err := h.Dispatcher.Task(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Worker handlers ---

func (h *Handlers) listWorkers(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Dispatcher.Snapshot(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	workers := snap.Workers
	if workers == nil {
		workers = []worker.Info{}
	}
	writeJSON(w, http.StatusOK, workers)
}

// --- Event handlers ---

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeJSON(w, http.StatusOK, []*comms.Event{})
		return
	}
	events, err := h.Bus.History(r.URL.Query().Get("type"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*comms.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handlers) listJournal(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	entries, err := h.Journal.List(task.EntryFilter{
		Kind:   r.URL.Query().Get("kind"),
		TaskID: queryInt(r, "task_id", 0),
		Limit:  queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*task.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Status / version ---

// Status is the body returned by GET /api/status.
type Status struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Tasks     task.Counts       `json:"tasks"`
	Table     worker.TableStats `json:"table"`
	StartedAt time.Time         `json:"started_at"`
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Dispatcher.Snapshot(r.Context(), nil)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "stopped",
			"version": h.Version,
		})
		return
	}
	writeJSON(w, http.StatusOK, Status{
		Status:    "ok",
		Version:   h.Version,
		Uptime:    time.Since(h.StartAt).Truncate(time.Second).String(),
		Tasks:     snap.Counts,
		Table:     snap.Table,
		StartedAt: h.StartAt,
	})
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
