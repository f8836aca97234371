package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"scholarmis-apps/core/auth"
	"scholarmis-apps/core/store"
)

const (
	ErrorCodeInvalidRequest = "apps.invalid_request"
	ErrorCodeNotFound       = "apps.not_found"
	ErrorCodeConflict       = "apps.conflict"
	ErrorCodeInternal       = "apps.internal"

	ErrorKeyInvalidRequest = "apps.error.invalidRequest"
	ErrorKeyNotFound       = "apps.error.notFound"
	ErrorKeyConflict       = "apps.error.conflict"
	ErrorKeyInternal       = "common.serverError"
)

const (
	AuditCreateApp      = "apps.create"
	AuditUpdateApp      = "apps.update"
	AuditDeleteApp      = "apps.delete"
	AuditAttachPerm     = "apps.permissions.attach"
	AuditInstallRequest = "apps.install.requested"
	AuditTaskRun        = "tasks.run"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, i18nKey string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":     code,
			"i18n_key": i18nKey,
		},
	})
}

func currentUser(r *http.Request) string {
	return auth.Username(r.Context())
}

// auditLog writes "result=<result> <details>" and drops store errors.
func auditLog(audits store.AuditStore, ctx context.Context, username, action, result, details string) {
	if audits == nil {
		return
	}
	payload := "result=" + result
	if details != "" {
		payload = payload + " " + details
	}
	_ = audits.Log(ctx, username, action, payload)
}

func pathInt64(raw string) (int64, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseIntDefault(raw string, def int) int {
	value := strings.TrimSpace(raw)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return n
}

// parseLimitOffset reads ?limit= and ?offset=. Non-numeric or negative values are
// rejected; limit is capped at max.
func parseLimitOffset(r *http.Request, def, max int) (int, int, bool) {
	q := r.URL.Query()
	limit, offset := def, 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		limit = n
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > math.MaxInt32 {
			return 0, 0, false
		}
		offset = n
	}
	if limit > max {
		limit = max
	}
	return limit, offset, true
}

// parseBool accepts true/false/1/0 in any case; anything else is unset.
func parseBool(raw string) (*bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return nil, true
	case "true", "1":
		v := true
		return &v, true
	case "false", "0":
		v := false
		return &v, true
	default:
		return nil, false
	}
}
