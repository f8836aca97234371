package handlers

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strings"
	"time"

	"scholarmis-apps/core/store"
)

const (
	auditDefaultLimit = 200
	auditMaxLimit     = 5000
	auditDefaultSpan  = 30 * 24 * time.Hour
)

// LogsHandler serves the audit trail of app, install and task operations.
type LogsHandler struct {
	audits store.AuditStore
}

func NewLogsHandler(audits store.AuditStore) *LogsHandler {
	return &LogsHandler{audits: audits}
}

// auditEntry splits the "result=<r> <details>" payload written by auditLog and the
// installer.
type auditEntry struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	Details   string    `json:"details"`
}

func newAuditEntry(rec store.AuditRecord) auditEntry {
	e := auditEntry{ID: rec.ID, CreatedAt: rec.CreatedAt.UTC(), Username: rec.Username, Action: rec.Action}
	details := strings.TrimSpace(rec.Details)
	if rest, ok := strings.CutPrefix(details, "result="); ok {
		e.Result, e.Details, _ = strings.Cut(rest, " ")
	} else {
		e.Details = details
	}
	return e
}

func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.entries(w, r, auditDefaultLimit)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func (h *LogsHandler) Export(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.entries(w, r, auditMaxLimit)
	if !ok {
		return
	}
	filename := "apps_audit_" + time.Now().UTC().Format("20060102_150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"time", "username", "action", "result", "details"})
	for _, e := range entries {
		_ = writer.Write([]string{e.CreatedAt.Format(time.RFC3339), e.Username, e.Action, e.Result, e.Details})
	}
	writer.Flush()
}

func (h *LogsHandler) entries(w http.ResponseWriter, r *http.Request, defLimit int) ([]auditEntry, bool) {
	filter, err := parseAuditFilter(r, defLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return nil, false
	}
	items, err := h.audits.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return nil, false
	}
	entries := make([]auditEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, newAuditEntry(item))
	}
	return entries, true
}

var errBadAuditQuery = errors.New("bad audit query")

// parseAuditFilter reads section, action, user, q, since, to and limit. since defaults to
// thirty days ago.
func parseAuditFilter(r *http.Request, defLimit int) (store.AuditFilter, error) {
	q := r.URL.Query()
	limit, _, ok := parseLimitOffset(r, defLimit, auditMaxLimit)
	if !ok {
		return store.AuditFilter{}, errBadAuditQuery
	}
	filter := store.AuditFilter{
		Section:  strings.ToLower(strings.TrimSpace(q.Get("section"))),
		Action:   strings.TrimSpace(q.Get("action")),
		Username: strings.TrimSpace(q.Get("user")),
		Text:     strings.TrimSpace(q.Get("q")),
		Since:    time.Now().UTC().Add(-auditDefaultSpan),
		Limit:    limit,
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		t, err := parseDateTime(raw)
		if err != nil {
			return store.AuditFilter{}, err
		}
		filter.Since = t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := parseDateTime(raw)
		if err != nil {
			return store.AuditFilter{}, err
		}
		filter.Until = t
	}
	return filter, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

func parseDateTime(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errBadAuditQuery
}
