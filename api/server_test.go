package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"scholarmis-apps/config"
	"scholarmis-apps/core/auth"
	"scholarmis-apps/core/installer"
	"scholarmis-apps/core/rbac"
	"scholarmis-apps/core/registry"
	"scholarmis-apps/core/store"
	"scholarmis-apps/core/tasks"
	"scholarmis-apps/core/utils"
)

const (
	adminToken  = "admin-token"
	viewerToken = "viewer-token"
)

type testServer struct {
	srv   *Server
	apps  store.AppsStore
	perms store.PermissionsStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	logger := utils.NopLogger()
	cfg := &config.AppConfig{
		DBPath:  filepath.Join(dir, "api.db"),
		Tenancy: config.TenancyConfig{PublicSchema: "public", Header: "X-Tenant"},
		Auth:    config.AuthConfig{Enabled: true},
	}
	for _, tok := range []struct{ name, token, role string }{
		{"ops", adminToken, rbac.RoleAdmin},
		{"reader", viewerToken, rbac.RoleViewer},
	} {
		hash, err := auth.HashToken(tok.token)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		cfg.Auth.Tokens = append(cfg.Auth.Tokens, config.TokenConfig{Name: tok.name, Hash: hash, Role: tok.role})
	}
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg, err := registry.FromConfig([]config.SubAppConfig{
		{Name: "scholarmis.students", VerboseName: "Students", Path: filepath.Join(dir, "students")},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	stores := installer.Stores{
		Apps:        store.NewAppsStore(db),
		Permissions: store.NewPermissionsStore(db),
		Settings:    store.NewSettingsStore(db),
		Options:     store.NewOptionsStore(db),
		Fixtures:    store.NewFixturesStore(db),
		Tasks:       store.NewPeriodicTasksStore(db),
		Runs:        store.NewInstallRunsStore(db),
		Audits:      store.NewAuditStore(db),
	}
	taskRegistry := tasks.NewRegistry()
	if err := taskRegistry.Register("tasks.ping", func(ctx context.Context) (string, error) { return "pong", nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	beat := tasks.NewBeat(cfg.Scheduler, stores.Tasks, taskRegistry, logger)
	inst := installer.New(config.InstallerConfig{StaticURL: "/static/", IgnoreErrors: true, RecordRuns: true}, reg, stores, logger)
	srv := NewServer(cfg, ServerDeps{
		Apps:        stores.Apps,
		Permissions: stores.Permissions,
		Tasks:       stores.Tasks,
		Runs:        stores.Runs,
		Audits:      stores.Audits,
		Registry:    reg,
		Installer:   inst,
		TaskRunner:  beat,
		Policy:      rbac.MustPolicy(rbac.DefaultRoles()),
	}, logger)
	return &testServer{srv: srv, apps: stores.Apps, perms: stores.Permissions}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Host = "scholarmis.com"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) seed(t *testing.T, labels ...string) {
	t.Helper()
	for _, label := range labels {
		_, err := ts.apps.Create(context.Background(), &store.App{
			Name:        "scholarmis." + label,
			Label:       label,
			VerboseName: strings.ToUpper(label[:1]) + label[1:],
			IsActive:    label != "library",
		})
		if err != nil {
			t.Fatalf("seed %s: %v", label, err)
		}
	}
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

type listResponse struct {
	Count    int       `json:"count"`
	Next     *string   `json:"next"`
	Previous *string   `json:"previous"`
	Results  []appView `json:"results"`
}

type appView struct {
	ID          int64   `json:"id"`
	Label       string  `json:"label"`
	Name        string  `json:"name"`
	VerboseName string  `json:"verbose_name"`
	AbsoluteURL *string `json:"absolute_url"`
	IsActive    bool    `json:"is_active"`
	IsDefault   bool    `json:"is_default"`
}

func TestAppsRoutesAuthAndPermissionGuards(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "exams")
	tests := []struct {
		method string
		path   string
		body   string
		write  bool
	}{
		{method: http.MethodGet, path: "/api/apps/"},
		{method: http.MethodGet, path: "/api/apps/1"},
		{method: http.MethodGet, path: "/api/apps/current?path=/exams/"},
		{method: http.MethodPost, path: "/api/apps/", body: `{"name":"scholarmis.hr","verbose_name":"HR"}`, write: true},
		{method: http.MethodPatch, path: "/api/apps/1", body: `{"is_active":false}`, write: true},
		{method: http.MethodPut, path: "/api/apps/1", body: `{"verbose_name":"Exams"}`, write: true},
		{method: http.MethodPost, path: "/api/apps/1/install", write: true},
		{method: http.MethodGet, path: "/api/admin/apps/", write: true},
		{method: http.MethodGet, path: "/api/installs", write: true},
		{method: http.MethodGet, path: "/api/tasks", write: true},
		{method: http.MethodGet, path: "/api/logs", write: true},
	}
	for _, tc := range tests {
		t.Run(tc.method+"_"+strings.ReplaceAll(tc.path, "/", "_"), func(t *testing.T) {
			if rr := ts.do(t, tc.method, tc.path, "", tc.body); rr.Code != http.StatusUnauthorized {
				t.Fatalf("no token: expected 401 got %d", rr.Code)
			}
			if rr := ts.do(t, tc.method, tc.path, "bogus", tc.body); rr.Code != http.StatusUnauthorized {
				t.Fatalf("bad token: expected 401 got %d", rr.Code)
			}
			rr := ts.do(t, tc.method, tc.path, viewerToken, tc.body)
			if tc.write && rr.Code != http.StatusForbidden {
				t.Fatalf("viewer: expected 403 got %d", rr.Code)
			}
			if !tc.write && rr.Code != http.StatusOK {
				t.Fatalf("viewer: expected 200 got %d: %s", rr.Code, rr.Body.String())
			}
			if rr := ts.do(t, tc.method, tc.path, adminToken, tc.body); rr.Code == http.StatusUnauthorized || rr.Code == http.StatusForbidden {
				t.Fatalf("admin: expected access, got %d", rr.Code)
			}
		})
	}
}

func TestAppsListFiltersOrderingAndPagination(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "exams", "admissions", "library", "finance")

	rr := ts.do(t, http.MethodGet, "/api/apps/", viewerToken, "")
	var all listResponse
	decode(t, rr, &all)
	if all.Count != 4 || all.Next != nil || all.Previous != nil {
		t.Fatalf("unexpected envelope: %+v", all)
	}
	if all.Results[0].Label != "admissions" || all.Results[3].Label != "library" {
		t.Fatalf("expected label ordering, got %+v", all.Results)
	}
	if all.Results[0].AbsoluteURL == nil || *all.Results[0].AbsoluteURL != "/admissions/" {
		t.Fatalf("expected absolute url, got %v", all.Results[0].AbsoluteURL)
	}

	rr = ts.do(t, http.MethodGet, "/api/apps/?ordering=-label", viewerToken, "")
	var desc listResponse
	decode(t, rr, &desc)
	if desc.Results[0].Label != "library" {
		t.Fatalf("expected descending order, got %+v", desc.Results)
	}

	rr = ts.do(t, http.MethodGet, "/api/apps/?label=AM&is_active=true", viewerToken, "")
	var filtered listResponse
	decode(t, rr, &filtered)
	if filtered.Count != 1 || filtered.Results[0].Label != "exams" {
		t.Fatalf("expected exams only, got %+v", filtered)
	}

	rr = ts.do(t, http.MethodGet, "/api/apps/?is_active=0", viewerToken, "")
	var inactive listResponse
	decode(t, rr, &inactive)
	if inactive.Count != 1 || inactive.Results[0].Label != "library" {
		t.Fatalf("expected library only, got %+v", inactive)
	}

	if rr := ts.do(t, http.MethodGet, "/api/apps/?is_active=maybe", viewerToken, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad boolean, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodGet, "/api/apps/?page_size=3&search=s", viewerToken, "")
	var first listResponse
	decode(t, rr, &first)
	if first.Count != 2 || first.Next != nil {
		t.Fatalf("expected two search hits on one page, got %+v", first)
	}

	rr = ts.do(t, http.MethodGet, "/api/apps/?page_size=3", viewerToken, "")
	var page1 listResponse
	decode(t, rr, &page1)
	if len(page1.Results) != 3 || page1.Next == nil || !strings.Contains(*page1.Next, "page=2") {
		t.Fatalf("expected next link, got %+v", page1)
	}
	rr = ts.do(t, http.MethodGet, "/api/apps/?page_size=3&page=2", viewerToken, "")
	var page2 listResponse
	decode(t, rr, &page2)
	if len(page2.Results) != 1 || page2.Previous == nil || strings.Contains(*page2.Previous, "page=") {
		t.Fatalf("expected previous link to first page, got %+v", page2)
	}
	if rr := ts.do(t, http.MethodGet, "/api/apps/?page=9", viewerToken, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for page past the end, got %d", rr.Code)
	}
}

func TestListsRejectOutOfRangePaging(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "exams", "finance")
	for _, path := range []string{
		"/api/apps/?page=9223372036854775807",
		"/api/apps/?page=4611686018427387904&page_size=2",
		"/api/apps/?page=99999999999999999999",
	} {
		if rr := ts.do(t, http.MethodGet, path, viewerToken, ""); rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 got %d", path, rr.Code)
		}
	}
	for _, path := range []string{
		"/api/admin/apps/?limit=-1",
		"/api/admin/apps/?limit=0",
		"/api/admin/apps/?offset=-5",
		"/api/admin/apps/?offset=abc",
	} {
		if rr := ts.do(t, http.MethodGet, path, adminToken, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", path, rr.Code)
		}
	}
	rr := ts.do(t, http.MethodGet, "/api/admin/apps/?limit=100000&offset=1", adminToken, "")
	var out struct {
		Total int               `json:"total"`
		Items []json.RawMessage `json:"items"`
	}
	decode(t, rr, &out)
	if out.Total != 2 || len(out.Items) != 1 {
		t.Fatalf("expected second row of two, got total=%d items=%d", out.Total, len(out.Items))
	}
}

func TestAppsCreateUpdateDelete(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/apps/", adminToken, `{"name":"scholarmis.hostels","verbose_name":"Hostels","is_default":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	var created appView
	decode(t, rr, &created)
	if created.Label != "hostels" || !created.IsActive || !created.IsDefault {
		t.Fatalf("unexpected created app: %+v", created)
	}
	if rr := ts.do(t, http.MethodPost, "/api/apps/", adminToken, `{"name":"scholarmis.hostels","verbose_name":"Again"}`); rr.Code != http.StatusConflict {
		t.Fatalf("expected conflict, got %d", rr.Code)
	}

	path := fmt.Sprintf("/api/apps/%d", created.ID)
	rr = ts.do(t, http.MethodPatch, path, adminToken, `{"is_active":false,"name":"renamed","label":"renamed"}`)
	var patched appView
	decode(t, rr, &patched)
	if patched.IsActive || patched.Name != "scholarmis.hostels" || patched.Label != "hostels" {
		t.Fatalf("patch must only touch writable fields: %+v", patched)
	}
	if rr := ts.do(t, http.MethodPut, path, adminToken, `{"is_active":true}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("put without verbose_name: expected 400 got %d", rr.Code)
	}
	rr = ts.do(t, http.MethodPut, path, adminToken, `{"verbose_name":"Halls"}`)
	var put appView
	decode(t, rr, &put)
	if put.VerboseName != "Halls" || put.IsActive {
		t.Fatalf("put should keep omitted flags: %+v", put)
	}

	if rr := ts.do(t, http.MethodDelete, path, adminToken, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204 got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodGet, path, adminToken, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404 got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodDelete, path, adminToken, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404 got %d", rr.Code)
	}
}

func TestAdminHiddenOutsidePublicTenant(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "exams")
	req := httptest.NewRequest(http.MethodGet, "/api/admin/apps/", nil)
	req.Host = "scholarmis.com"
	req.Header.Set("X-Tenant", "uni")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rr := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for tenant request, got %d", rr.Code)
	}

	rr = ts.do(t, http.MethodGet, "/api/admin/apps/?q=exa", adminToken, "")
	var out struct {
		Columns []string `json:"columns"`
		Items   []struct {
			VerboseName string `json:"verbose_name"`
			Display     string `json:"display"`
		} `json:"items"`
	}
	decode(t, rr, &out)
	if len(out.Items) != 1 || out.Items[0].Display != "Exams (Paid)" || out.Columns[0] != "verbose_name" {
		t.Fatalf("unexpected admin listing: %+v", out)
	}
}

func TestAdminSetPermissions(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "exams")
	ctx := context.Background()
	app, err := ts.apps.GetByName(ctx, "scholarmis.exams")
	if err != nil || app == nil {
		t.Fatalf("lookup: %v", err)
	}
	ct, err := ts.perms.GetOrCreateContentType(ctx, "exams", "Exams")
	if err != nil {
		t.Fatalf("content type: %v", err)
	}
	perm, err := ts.perms.UpsertPermission(ctx, ct.ID, "publish_results", "Can publish results")
	if err != nil {
		t.Fatalf("permission: %v", err)
	}
	path := fmt.Sprintf("/api/admin/apps/%d/permissions", app.ID)
	if rr := ts.do(t, http.MethodPut, path, viewerToken, `{"permission_ids":[]}`); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer: expected 403 got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodPut, path, adminToken, `{"permission_ids":[424242]}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown permission: expected 400 got %d", rr.Code)
	}
	rr := ts.do(t, http.MethodPut, path, adminToken, fmt.Sprintf(`{"permission_ids":[%d]}`, perm.ID))
	if rr.Code != http.StatusOK {
		t.Fatalf("set permissions: %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, http.MethodGet, path, adminToken, "")
	var out struct {
		Items []store.Permission `json:"items"`
	}
	decode(t, rr, &out)
	if len(out.Items) != 1 || out.Items[0].ID != perm.ID {
		t.Fatalf("unexpected permissions: %+v", out.Items)
	}
}

func TestAdminListByKind(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "exams", "finance")
	ctx := context.Background()
	for _, app := range []*store.App{
		{Name: "scholarmis.students", Label: "students", VerboseName: "Students", IsActive: true, IsDefault: true},
		{Name: "scholarmis.notify", Label: "notify", VerboseName: "Notifications", IsActive: true, IsService: true},
	} {
		if _, err := ts.apps.Create(ctx, app); err != nil {
			t.Fatalf("create %s: %v", app.Name, err)
		}
	}
	type listing struct {
		Total int `json:"total"`
		Items []struct {
			Name string `json:"name"`
		} `json:"items"`
	}
	var out listing
	decode(t, ts.do(t, http.MethodGet, "/api/admin/apps/?kind=default", adminToken, ""), &out)
	if out.Total != 1 || out.Items[0].Name != "scholarmis.students" {
		t.Fatalf("unexpected default apps: %+v", out)
	}
	out = listing{}
	decode(t, ts.do(t, http.MethodGet, "/api/admin/apps/?kind=paid&limit=1&offset=1", adminToken, ""), &out)
	if out.Total != 2 || len(out.Items) != 1 || out.Items[0].Name != "scholarmis.finance" {
		t.Fatalf("unexpected paid apps page: %+v", out)
	}
	out = listing{}
	decode(t, ts.do(t, http.MethodGet, "/api/admin/apps/?kind=paid&q=exa", adminToken, ""), &out)
	if out.Total != 1 || out.Items[0].Name != "scholarmis.exams" {
		t.Fatalf("unexpected filtered paid apps: %+v", out)
	}
	if rr := ts.do(t, http.MethodGet, "/api/admin/apps/?kind=premium", adminToken, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind: expected 400 got %d", rr.Code)
	}
}

func TestInstallEndpointRecordsRun(t *testing.T) {
	ts := newTestServer(t)
	app, _, err := ts.apps.GetOrCreate(context.Background(), &store.App{Name: "scholarmis.students", Label: "students", VerboseName: "Students", IsActive: true})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	rr := ts.do(t, http.MethodPost, fmt.Sprintf("/api/apps/%d/install", app.ID), adminToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("install: %d %s", rr.Code, rr.Body.String())
	}
	var report struct {
		RunID string `json:"run_id"`
		OK    bool   `json:"ok"`
		Steps []struct {
			Name string `json:"name"`
		} `json:"steps"`
	}
	decode(t, rr, &report)
	if !report.OK || len(report.Steps) != 6 || report.Steps[0].Name != installer.StepRegisterApp {
		t.Fatalf("unexpected report: %+v", report)
	}
	if rr := ts.do(t, http.MethodGet, "/api/installs/"+report.RunID, adminToken, ""); rr.Code != http.StatusOK {
		t.Fatalf("install run lookup: %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodGet, "/api/installs/missing", adminToken, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing run: expected 404 got %d", rr.Code)
	}
}

func TestLogsListSplitsResult(t *testing.T) {
	ts := newTestServer(t)
	if rr := ts.do(t, http.MethodPost, "/api/tasks/run/tasks.ping", adminToken, ""); rr.Code != http.StatusOK {
		t.Fatalf("run: %d", rr.Code)
	}
	rr := ts.do(t, http.MethodGet, "/api/logs?section=tasks", adminToken, "")
	var out struct {
		Count int `json:"count"`
		Items []struct {
			Username string `json:"username"`
			Action   string `json:"action"`
			Result   string `json:"result"`
		} `json:"items"`
	}
	decode(t, rr, &out)
	if out.Count != 1 || out.Items[0].Action != "tasks.run" || out.Items[0].Result != "success" || out.Items[0].Username != "ops" {
		t.Fatalf("unexpected audit entries: %+v", out)
	}
	if rr := ts.do(t, http.MethodGet, "/api/logs?since=yesterday", adminToken, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400 got %d", rr.Code)
	}
	rr = ts.do(t, http.MethodGet, "/api/logs/export?section=tasks", adminToken, "")
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv") || !strings.Contains(rr.Body.String(), "tasks.run,success") {
		t.Fatalf("unexpected export: %q", rr.Body.String())
	}
}

func TestTaskRunEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodPost, "/api/tasks/run/tasks.ping", adminToken, "")
	var out map[string]string
	decode(t, rr, &out)
	if out["result"] != "pong" {
		t.Fatalf("unexpected task result: %v", out)
	}
	if rr := ts.do(t, http.MethodPost, "/api/tasks/run/tasks.nope", adminToken, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown task: expected 404 got %d", rr.Code)
	}
}

func TestCurrentAppResolvesPath(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/apps/current?path=/students/list/", viewerToken, "")
	var out map[string]*string
	decode(t, rr, &out)
	if out["app_name"] == nil || *out["app_name"] != "Students" || *out["app_home"] != "/students/" {
		t.Fatalf("unexpected metadata: %v", out)
	}
	rr = ts.do(t, http.MethodGet, "/api/apps/current?path=/unknown/", viewerToken, "")
	out = nil
	decode(t, rr, &out)
	if out["app_name"] != nil {
		t.Fatalf("expected null app for unknown path, got %v", out)
	}
}
