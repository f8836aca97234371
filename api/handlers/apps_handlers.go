package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"scholarmis-apps/core/installer"
	"scholarmis-apps/core/registry"
	"scholarmis-apps/core/store"
	"scholarmis-apps/core/utils"
)

// AppInstaller is the part of the installer the HTTP layer triggers.
type AppInstaller interface {
	Install(ctx context.Context, app *registry.SubApp) *installer.Report
}

type AppsHandler struct {
	apps      store.AppsStore
	registry  *registry.Registry
	installer AppInstaller
	audits    store.AuditStore
	pageSize  int
	maxPage   int
	logger    *utils.Logger
}

func NewAppsHandler(apps store.AppsStore, reg *registry.Registry, inst AppInstaller, audits store.AuditStore, pageSize, maxPageSize int, logger *utils.Logger) *AppsHandler {
	if pageSize <= 0 {
		pageSize = 20
	}
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &AppsHandler{
		apps:      apps,
		registry:  reg,
		installer: inst,
		audits:    audits,
		pageSize:  pageSize,
		maxPage:   maxPageSize,
		logger:    logger,
	}
}

type appView struct {
	ID          int64   `json:"id"`
	Label       string  `json:"label"`
	Name        string  `json:"name"`
	VerboseName string  `json:"verbose_name"`
	Description *string `json:"description"`
	URL         *string `json:"url"`
	Icon        *string `json:"icon"`
	AbsoluteURL *string `json:"absolute_url"`
	IsActive    bool    `json:"is_active"`
	IsService   bool    `json:"is_service"`
	IsDefault   bool    `json:"is_default"`
}

func newAppView(app *store.App) appView {
	v := appView{
		ID:          app.ID,
		Label:       app.Label,
		Name:        app.Name,
		VerboseName: app.VerboseName,
		Description: app.Description,
		URL:         app.URL,
		Icon:        app.Icon,
		IsActive:    app.IsActive,
		IsService:   app.IsService,
		IsDefault:   app.IsDefault,
	}
	if home := registry.HomeURL(app.Label); home != "" {
		v.AbsoluteURL = &home
	}
	return v
}

type pageEnvelope struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

var appOrderingFields = map[string]struct{}{"label": {}, "-label": {}}

func (h *AppsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	active, ok := parseBool(q.Get("is_active"))
	if !ok {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	ordering := strings.TrimSpace(q.Get("ordering"))
	if _, ok := appOrderingFields[ordering]; !ok {
		ordering = "label"
	}
	size := parseIntDefault(q.Get("page_size"), h.pageSize)
	if size <= 0 {
		size = h.pageSize
	}
	if size > h.maxPage {
		size = h.maxPage
	}
	page := 1
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		// pages past MaxInt32 rows are past the end of any table
		if err != nil || n < 1 || n > math.MaxInt32/size {
			writeError(w, http.StatusNotFound, ErrorCodeNotFound, "apps.error.invalidPage")
			return
		}
		page = n
	}
	items, total, err := h.apps.List(r.Context(), store.AppFilter{
		Label:    q.Get("label"),
		Search:   q.Get("search"),
		Active:   active,
		Ordering: ordering,
		Limit:    size,
		Offset:   (page - 1) * size,
	})
	if err != nil {
		h.logger.Errorf("apps list: %v", err)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	if page > 1 && (page-1)*size >= total {
		writeError(w, http.StatusNotFound, ErrorCodeNotFound, "apps.error.invalidPage")
		return
	}
	results := make([]appView, 0, len(items))
	for i := range items {
		results = append(results, newAppView(&items[i]))
	}
	env := pageEnvelope{Count: total, Results: results}
	if page*size < total {
		next := pageURL(r, page+1)
		env.Next = &next
	}
	if page > 1 {
		prev := pageURL(r, page-1)
		env.Previous = &prev
	}
	writeJSON(w, http.StatusOK, env)
}

// pageURL rebuilds the request URL pointing at page; page 1 drops the parameter.
func pageURL(r *http.Request, page int) string {
	u := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path}
	if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		u.Scheme = "https"
	}
	q := r.URL.Query()
	if page <= 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *AppsHandler) Get(w http.ResponseWriter, r *http.Request) {
	app, ok := h.loadApp(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newAppView(app))
}

type appPayload struct {
	Name        *string `json:"name"`
	Label       *string `json:"label"`
	VerboseName *string `json:"verbose_name"`
	IsActive    *bool   `json:"is_active"`
	IsService   *bool   `json:"is_service"`
	IsDefault   *bool   `json:"is_default"`
}

func decodeAppPayload(r *http.Request) (appPayload, error) {
	var p appPayload
	if r.Body == nil {
		return p, errors.New("empty body")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&p); err != nil {
		return p, err
	}
	return p, nil
}

func (h *AppsHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	p, err := decodeAppPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	name := trimmed(p.Name)
	verbose := trimmed(p.VerboseName)
	if name == "" || verbose == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "apps.error.nameRequired")
		return
	}
	label := trimmed(p.Label)
	if label == "" {
		label = name
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			label = name[i+1:]
		}
	}
	existing, err := h.apps.GetByName(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	if existing != nil {
		auditLog(h.audits, r.Context(), user, AuditCreateApp, "conflict", "name="+name)
		writeError(w, http.StatusConflict, ErrorCodeConflict, ErrorKeyConflict)
		return
	}
	app := &store.App{
		Name:        name,
		Label:       label,
		VerboseName: verbose,
		IsActive:    boolOr(p.IsActive, true),
		IsService:   boolOr(p.IsService, false),
		IsDefault:   boolOr(p.IsDefault, false),
	}
	if _, err := h.apps.Create(r.Context(), app); err != nil {
		h.logger.Errorf("apps create %s: %v", name, err)
		auditLog(h.audits, r.Context(), user, AuditCreateApp, "failed", "name="+name)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	auditLog(h.audits, r.Context(), user, AuditCreateApp, "success", "id="+strconv.FormatInt(app.ID, 10)+" name="+name)
	writeJSON(w, http.StatusCreated, newAppView(app))
}

// Update serves PUT (verbose_name required) and PATCH. name and label never change.
func (h *AppsHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

func (h *AppsHandler) PartialUpdate(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *AppsHandler) update(w http.ResponseWriter, r *http.Request, partial bool) {
	user := currentUser(r)
	app, ok := h.loadApp(w, r)
	if !ok {
		return
	}
	p, err := decodeAppPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	if p.VerboseName != nil {
		if v := trimmed(p.VerboseName); v != "" {
			app.VerboseName = v
		} else {
			writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "apps.error.verboseNameRequired")
			return
		}
	} else if !partial {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "apps.error.verboseNameRequired")
		return
	}
	if p.IsActive != nil {
		if *p.IsActive {
			app.Activate()
		} else {
			app.Deactivate()
		}
	}
	if p.IsService != nil {
		if *p.IsService {
			app.SetService()
		} else {
			app.UnsetService()
		}
	}
	if p.IsDefault != nil {
		app.IsDefault = *p.IsDefault
	}
	details := "id=" + strconv.FormatInt(app.ID, 10) + " name=" + app.Name
	if err := h.apps.Update(r.Context(), app); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrorCodeNotFound, ErrorKeyNotFound)
			return
		}
		h.logger.Errorf("apps update %s: %v", app.Name, err)
		auditLog(h.audits, r.Context(), user, AuditUpdateApp, "failed", details)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	auditLog(h.audits, r.Context(), user, AuditUpdateApp, "success", details)
	writeJSON(w, http.StatusOK, newAppView(app))
}

func (h *AppsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id, ok := pathInt64(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return
	}
	details := "id=" + strconv.FormatInt(id, 10)
	if err := h.apps.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			auditLog(h.audits, r.Context(), user, AuditDeleteApp, "not_found", details)
			writeError(w, http.StatusNotFound, ErrorCodeNotFound, ErrorKeyNotFound)
			return
		}
		auditLog(h.audits, r.Context(), user, AuditDeleteApp, "failed", details)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return
	}
	auditLog(h.audits, r.Context(), user, AuditDeleteApp, "success", details)
	w.WriteHeader(http.StatusNoContent)
}

// Current resolves the sub-application owning ?path= (defaults to the request path).
func (h *AppsHandler) Current(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		path = r.URL.Path
	}
	out := map[string]any{"app_name": nil, "app_label": nil, "app_home": nil}
	if sub, ok := h.registry.ResolvePath(path); ok {
		out["app_name"] = sub.VerboseName
		out["app_label"] = sub.Label
		out["app_home"] = registry.HomeURL(sub.Label)
	}
	writeJSON(w, http.StatusOK, out)
}

type stepView struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

func reportView(rep *installer.Report) map[string]any {
	steps := make([]stepView, 0, len(rep.Steps))
	for _, s := range rep.Steps {
		steps = append(steps, stepView{
			Name:      s.Name,
			Status:    s.Status,
			Created:   s.Created,
			Updated:   s.Updated,
			ErrorKind: string(s.Kind()),
			Message:   s.Message,
		})
	}
	return map[string]any{
		"run_id":      rep.RunID,
		"app":         rep.App,
		"ok":          rep.OK(),
		"started_at":  rep.StartedAt,
		"finished_at": rep.FinishedAt,
		"steps":       steps,
	}
}

// Install re-runs the installer for one registered app.
func (h *AppsHandler) Install(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	app, ok := h.loadApp(w, r)
	if !ok {
		return
	}
	sub, found := h.registry.Get(app.Name)
	if !found || h.installer == nil {
		auditLog(h.audits, r.Context(), user, AuditInstallRequest, "not_registered", "name="+app.Name)
		writeError(w, http.StatusNotFound, ErrorCodeNotFound, "apps.error.notRegistered")
		return
	}
	auditLog(h.audits, r.Context(), user, AuditInstallRequest, "requested", "name="+app.Name)
	rep := h.installer.Install(r.Context(), sub)
	writeJSON(w, http.StatusOK, reportView(rep))
}

func (h *AppsHandler) loadApp(w http.ResponseWriter, r *http.Request) (*store.App, bool) {
	id, ok := pathInt64(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, ErrorKeyInvalidRequest)
		return nil, false
	}
	app, err := h.apps.Get(r.Context(), id)
	if err != nil {
		h.logger.Errorf("apps get %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, ErrorKeyInternal)
		return nil, false
	}
	if app == nil {
		writeError(w, http.StatusNotFound, ErrorCodeNotFound, ErrorKeyNotFound)
		return nil, false
	}
	return app, true
}

func trimmed(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
