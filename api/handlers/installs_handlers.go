package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"scholarmis-apps/core/store"
	"scholarmis-apps/core/tasks"
	"scholarmis-apps/core/utils"
)

type InstallsHandler struct {
	runs   store.InstallRunsStore
	logger *utils.Logger
}

func NewInstallsHandler(runs store.InstallRunsStore, logger *utils.Logger) *InstallsHandler {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &InstallsHandler{runs: runs, logger: logger}
}

func (h *InstallsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	items, err := h.runs.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("app")), limit)
	if err != nil {
		h.logger.Errorf("install runs list: %v", err)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *InstallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(urlParam(r, "run_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, ErrorCodeNotFound, "installs.error.notFound")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// TaskRunner is the beat surface exposed over HTTP.
type TaskRunner interface {
	RunNow(ctx context.Context, name string) (string, error)
	Scheduled() []string
}

type TasksHandler struct {
	tasks  store.PeriodicTasksStore
	runner TaskRunner
	audits store.AuditStore
	logger *utils.Logger
}

func NewTasksHandler(periodic store.PeriodicTasksStore, runner TaskRunner, audits store.AuditStore, logger *utils.Logger) *TasksHandler {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &TasksHandler{tasks: periodic, runner: runner, audits: audits, logger: logger}
}

func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.tasks.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	scheduled := []string{}
	if h.runner != nil {
		scheduled = h.runner.Scheduled()
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "scheduled": scheduled})
}

func (h *TasksHandler) Run(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	name := strings.TrimSpace(urlParam(r, "name"))
	if name == "" || h.runner == nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	result, err := h.runner.RunNow(r.Context(), name)
	if err != nil {
		if errors.Is(err, tasks.ErrUnknownTask) {
			auditLog(h.audits, r.Context(), user, AuditTaskRun, "not_found", "name="+name)
			writeError(w, http.StatusNotFound, ErrorCodeNotFound, "tasks.error.notFound")
			return
		}
		h.logger.Errorf("task %s: %v", name, err)
		auditLog(h.audits, r.Context(), user, AuditTaskRun, "failed", "name="+name)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	auditLog(h.audits, r.Context(), user, AuditTaskRun, "success", "name="+name)
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "result": result})
}

func (h *TasksHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *TasksHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *TasksHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := strings.TrimSpace(urlParam(r, "name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	action := "tasks.disable"
	if enabled {
		action = "tasks.enable"
	}
	if err := h.tasks.SetEnabled(r.Context(), name, enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrorCodeNotFound, "tasks.error.notFound")
			return
		}
		auditLog(h.audits, r.Context(), currentUser(r), action, "failed", "name="+name)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	auditLog(h.audits, r.Context(), currentUser(r), action, "success", "name="+name)
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": enabled})
}
