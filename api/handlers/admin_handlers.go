package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"scholarmis-apps/core/store"
	"scholarmis-apps/core/utils"
)

// AdminHandler is the back-office view over apps. Routes are mounted behind the
// public-tenant guard.
type AdminHandler struct {
	apps        store.AppsStore
	permissions store.PermissionsStore
	audits      store.AuditStore
	logger      *utils.Logger
}

func NewAdminHandler(apps store.AppsStore, permissions store.PermissionsStore, audits store.AuditStore, logger *utils.Logger) *AdminHandler {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &AdminHandler{apps: apps, permissions: permissions, audits: audits, logger: logger}
}

const (
	adminDefaultLimit = 100
	adminMaxLimit     = 500
)

var adminColumns = []string{"verbose_name", "label", "name", "is_active", "is_default", "is_service", "url", "icon"}

type adminRow struct {
	ID          int64   `json:"id"`
	VerboseName string  `json:"verbose_name"`
	Label       string  `json:"label"`
	Name        string  `json:"name"`
	IsActive    bool    `json:"is_active"`
	IsDefault   bool    `json:"is_default"`
	IsService   bool    `json:"is_service"`
	URL         *string `json:"url"`
	Icon        *string `json:"icon"`
	Display     string  `json:"display"`
}

func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parseLimitOffset(r, adminDefaultLimit, adminMaxLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	items, total, err := h.listApps(r, limit, offset)
	if errors.Is(err, errUnknownKind) {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	if err != nil {
		h.logger.Errorf("admin apps list: %v", err)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	rows := make([]adminRow, 0, len(items))
	for i := range items {
		a := &items[i]
		rows = append(rows, adminRow{
			ID:          a.ID,
			VerboseName: a.VerboseName,
			Label:       a.Label,
			Name:        a.Name,
			IsActive:    a.IsActive,
			IsDefault:   a.IsDefault,
			IsService:   a.IsService,
			URL:         a.URL,
			Icon:        a.Icon,
			Display:     a.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns": adminColumns,
		"total":   total,
		"items":   rows,
	})
}

var errUnknownKind = errors.New("unknown app kind")

// listApps serves ?kind=default and ?kind=paid from the dedicated store queries; the
// q filter and paging are then applied to that set.
func (h *AdminHandler) listApps(r *http.Request, limit, offset int) ([]store.App, int, error) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	var items []store.App
	var err error
	switch kind := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind"))); kind {
	case "":
		return h.apps.List(r.Context(), store.AppFilter{VerboseName: q, Ordering: "name", Limit: limit, Offset: offset})
	case "default":
		items, err = h.apps.ListDefaultApps(r.Context())
	case "paid":
		items, err = h.apps.ListPaidApps(r.Context())
	default:
		return nil, 0, errUnknownKind
	}
	if err != nil {
		return nil, 0, err
	}
	matched := items[:0]
	for _, a := range items {
		if q == "" || strings.Contains(strings.ToLower(a.VerboseName), strings.ToLower(q)) {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	total := len(matched)
	if offset >= total {
		return []store.App{}, total, nil
	}
	end := total
	if offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (h *AdminHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	app, err := h.apps.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	if app == nil {
		writeError(w, http.StatusNotFound, ErrorCodeNotFound, ErrorKeyNotFound)
		return
	}
	perms, err := h.apps.ListPermissions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": app.Name, "items": perms})
}

// SetPermissions replaces the app's permission set with permission_ids.
func (h *AdminHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id, ok := pathInt64(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	var payload struct {
		PermissionIDs []int64 `json:"permission_ids"`
	}
	if r.Body == nil || json.NewDecoder(r.Body).Decode(&payload) != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	app, err := h.apps.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	if app == nil {
		writeError(w, http.StatusNotFound, ErrorCodeNotFound, ErrorKeyNotFound)
		return
	}
	ids := make([]string, 0, len(payload.PermissionIDs))
	for _, pid := range payload.PermissionIDs {
		p, err := h.permissions.Get(r.Context(), pid)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
			return
		}
		if p == nil {
			writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "apps.error.unknownPermission")
			return
		}
		ids = append(ids, strconv.FormatInt(pid, 10))
	}
	details := "id=" + strconv.FormatInt(id, 10) + " permissions=" + strings.Join(ids, ",")
	if err := h.apps.SetPermissions(r.Context(), id, payload.PermissionIDs); err != nil {
		h.logger.Errorf("admin set permissions %s: %v", app.Name, err)
		auditLog(h.audits, r.Context(), user, AuditAttachPerm, "failed", details)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	auditLog(h.audits, r.Context(), user, AuditAttachPerm, "success", details)
	perms, err := h.apps.ListPermissions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": app.Name, "items": perms})
}
