package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"scholarmis-apps/config"
	"scholarmis-apps/core/utils"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.AppConfig{DBPath: filepath.Join(t.TempDir(), "store.db")}
	logger := utils.NopLogger()
	db, err := NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db
}

func strPtr(v string) *string { return &v }

func TestAppsGetOrCreateIsIdempotent(t *testing.T) {
	apps := NewAppsStore(setupTestDB(t))
	ctx := context.Background()
	first, created, err := apps.GetOrCreate(ctx, &App{Name: "scholarmis.admissions", Label: "admissions", VerboseName: "Admissions", IsActive: true, IsDefault: true})
	if err != nil || !created {
		t.Fatalf("first get-or-create: created=%v err=%v", created, err)
	}
	second, created, err := apps.GetOrCreate(ctx, &App{Name: "scholarmis.admissions", Label: "other", VerboseName: "Other"})
	if err != nil {
		t.Fatalf("second get-or-create: %v", err)
	}
	if created {
		t.Fatalf("expected existing row on second call")
	}
	if second.ID != first.ID || second.Label != "admissions" {
		t.Fatalf("existing row should be returned untouched, got %+v", second)
	}
	_, total, err := apps.List(ctx, AppFilter{})
	if err != nil || total != 1 {
		t.Fatalf("expected one row, got %d (%v)", total, err)
	}
}

func TestAppsUpdateKeepsName(t *testing.T) {
	apps := NewAppsStore(setupTestDB(t))
	ctx := context.Background()
	app := &App{Name: "scholarmis.finance", Label: "finance", VerboseName: "Finance", IsActive: true}
	if _, err := apps.Create(ctx, app); err != nil {
		t.Fatalf("create: %v", err)
	}
	app.Name = "renamed"
	app.VerboseName = "Finance Office"
	app.Icon = strPtr("/static/finance/icon.png")
	app.Deactivate().SetService()
	if err := apps.Update(ctx, app); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := apps.Get(ctx, app.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "scholarmis.finance" {
		t.Fatalf("name must not change, got %q", got.Name)
	}
	if got.VerboseName != "Finance Office" || got.IsActive || !got.IsService {
		t.Fatalf("unexpected row %+v", got)
	}
	if got.Icon == nil || *got.Icon != "/static/finance/icon.png" {
		t.Fatalf("icon not stored: %v", got.Icon)
	}
	if err := apps.Update(ctx, &App{ID: 999, Label: "x", VerboseName: "x"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppsListFiltersAndOrdering(t *testing.T) {
	apps := NewAppsStore(setupTestDB(t))
	ctx := context.Background()
	seed := []App{
		{Name: "a.library", Label: "library", VerboseName: "Library", IsActive: true, IsDefault: true},
		{Name: "a.hostel", Label: "hostel", VerboseName: "Hostel", IsActive: false},
		{Name: "a.notifications", Label: "notifications", VerboseName: "Notifications", IsActive: true, IsService: true},
	}
	for i := range seed {
		if _, err := apps.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("create %s: %v", seed[i].Name, err)
		}
	}
	active := true
	items, total, err := apps.List(ctx, AppFilter{Active: &active, Ordering: "-label"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 || items[0].Label != "notifications" || items[1].Label != "library" {
		t.Fatalf("unexpected list %+v (total %d)", items, total)
	}
	items, _, err = apps.List(ctx, AppFilter{Search: "HOST"})
	if err != nil || len(items) != 1 || items[0].Label != "hostel" {
		t.Fatalf("search: %+v %v", items, err)
	}
	items, total, err = apps.List(ctx, AppFilter{Ordering: "label", Limit: 1, Offset: 1})
	if err != nil || total != 3 || len(items) != 1 || items[0].Label != "library" {
		t.Fatalf("paging: %+v total=%d err=%v", items, total, err)
	}
	defaults, err := apps.ListDefaultApps(ctx)
	if err != nil || len(defaults) != 1 || defaults[0].Label != "library" {
		t.Fatalf("defaults: %+v %v", defaults, err)
	}
	paid, err := apps.ListPaidApps(ctx)
	if err != nil || len(paid) != 1 || paid[0].Label != "hostel" {
		t.Fatalf("paid: %+v %v", paid, err)
	}
	if paid[0].String() != "Hostel (Paid)" || defaults[0].String() != "Library (Default)" {
		t.Fatalf("unexpected display names %q %q", paid[0].String(), defaults[0].String())
	}
}

func TestPermissionsUpsertAndAttach(t *testing.T) {
	db := setupTestDB(t)
	apps := NewAppsStore(db)
	perms := NewPermissionsStore(db)
	ctx := context.Background()
	app := &App{Name: "a.exams", Label: "exams", VerboseName: "Exams", IsActive: true}
	if _, err := apps.Create(ctx, app); err != nil {
		t.Fatalf("create app: %v", err)
	}
	ct, err := perms.GetOrCreateContentType(ctx, "exams", "app")
	if err != nil {
		t.Fatalf("content type: %v", err)
	}
	again, err := perms.GetOrCreateContentType(ctx, "exams", "app")
	if err != nil || again.ID != ct.ID {
		t.Fatalf("content type should be reused: %v %v", again, err)
	}
	p1, err := perms.UpsertPermission(ctx, ct.ID, "manage_exams", "Can manage exams")
	if err != nil {
		t.Fatalf("permission: %v", err)
	}
	p2, err := perms.UpsertPermission(ctx, ct.ID, "manage_exams", "Can manage all exams")
	if err != nil || p2.ID != p1.ID {
		t.Fatalf("permission should be updated in place: %v %v", p2, err)
	}
	for i := 0; i < 2; i++ {
		if err := apps.AddPermission(ctx, app.ID, p1.ID); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	attached, err := apps.ListPermissions(ctx, app.ID)
	if err != nil || len(attached) != 1 || attached[0].Name != "Can manage all exams" {
		t.Fatalf("attached permissions: %+v %v", attached, err)
	}
}

func TestSettingsUpsertDetectsChanges(t *testing.T) {
	settings := NewSettingsStore(setupTestDB(t))
	ctx := context.Background()
	s := &AppSetting{App: "library", Name: "max_loans", Value: json.RawMessage(`5`), Default: json.RawMessage(`3`), Type: "integer"}
	created, changed, err := settings.Upsert(ctx, s)
	if err != nil || !created || !changed {
		t.Fatalf("first upsert: created=%v changed=%v err=%v", created, changed, err)
	}
	same := &AppSetting{App: "library", Name: "max_loans", Value: json.RawMessage(` 5 `), Default: json.RawMessage(`3`), Type: "integer", Options: json.RawMessage(`{}`)}
	created, changed, err = settings.Upsert(ctx, same)
	if err != nil || created || changed {
		t.Fatalf("identical upsert must be a no-op: created=%v changed=%v err=%v", created, changed, err)
	}
	updated := &AppSetting{App: "library", Name: "max_loans", Value: json.RawMessage(`7`), Default: json.RawMessage(`3`), Type: "integer"}
	if _, changed, err = settings.Upsert(ctx, updated); err != nil || !changed {
		t.Fatalf("update: changed=%v err=%v", changed, err)
	}
	got, err := settings.Get(ctx, "library", "max_loans")
	if err != nil || got == nil || string(got.Value) != "7" || string(got.Options) != "{}" {
		t.Fatalf("unexpected setting %+v %v", got, err)
	}
	n, err := settings.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count: %d %v", n, err)
	}
}

func TestOptionsUpsertMergesFields(t *testing.T) {
	options := NewOptionsStore(setupTestDB(t))
	ctx := context.Background()
	slug := "first_class"
	rec := &OptionRecord{AppLabel: "exams", Model: "Grade", LookupField: "name", LookupValue: "First Class", Slug: &slug,
		Fields: map[string]any{"name": "First Class", "points": float64(4)}}
	created, _, err := options.Upsert(ctx, rec)
	if err != nil || !created {
		t.Fatalf("create: %v %v", created, err)
	}
	again := &OptionRecord{AppLabel: "exams", Model: "Grade", LookupField: "name", LookupValue: "First Class",
		Fields: map[string]any{"points": float64(4)}}
	created, changed, err := options.Upsert(ctx, again)
	if err != nil || created || changed {
		t.Fatalf("replay must be a no-op: created=%v changed=%v err=%v", created, changed, err)
	}
	again.Fields = map[string]any{"points": float64(5)}
	if _, changed, err = options.Upsert(ctx, again); err != nil || !changed {
		t.Fatalf("update: %v %v", changed, err)
	}
	got, err := options.Get(ctx, "exams", "Grade", "name", "First Class")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Fields["name"] != "First Class" || got.Fields["points"] != float64(5) {
		t.Fatalf("fields not merged: %+v", got.Fields)
	}
	if got.Slug == nil || *got.Slug != "first_class" {
		t.Fatalf("slug lost: %v", got.Slug)
	}
	if n, _ := options.Count(ctx, "exams", "Grade"); n != 1 {
		t.Fatalf("expected one record, got %d", n)
	}
}

func TestPeriodicTaskSwitchesSchedule(t *testing.T) {
	tasks := NewPeriodicTasksStore(setupTestDB(t))
	ctx := context.Background()
	cron, err := tasks.GetOrCreateCrontab(ctx, CrontabSchedule{Minute: "0", Hour: "2", DayOfMonth: "*", MonthOfYear: "*", DayOfWeek: "*"})
	if err != nil {
		t.Fatalf("crontab: %v", err)
	}
	same, err := tasks.GetOrCreateCrontab(ctx, CrontabSchedule{Minute: "0", Hour: "2", DayOfMonth: "*", MonthOfYear: "*", DayOfWeek: "*"})
	if err != nil || same.ID != cron.ID {
		t.Fatalf("crontab should be reused: %v %v", same, err)
	}
	task := &PeriodicTask{Name: "cleanup", Task: "tasks.cleanup_exports_folder", CrontabID: &cron.ID}
	created, _, err := tasks.Upsert(ctx, task)
	if err != nil || !created {
		t.Fatalf("create task: %v %v", created, err)
	}
	interval, err := tasks.GetOrCreateInterval(ctx, 300, PeriodSeconds)
	if err != nil {
		t.Fatalf("interval: %v", err)
	}
	switched := &PeriodicTask{Name: "cleanup", Task: "tasks.cleanup_exports_folder", IntervalID: &interval.ID}
	if _, changed, err := tasks.Upsert(ctx, switched); err != nil || !changed {
		t.Fatalf("switch: %v %v", changed, err)
	}
	got, err := tasks.Get(ctx, "cleanup")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.CrontabID != nil || got.Crontab != nil {
		t.Fatalf("crontab reference should be cleared: %+v", got)
	}
	if got.Interval == nil || got.Interval.Duration() != 5*time.Minute || !got.Enabled {
		t.Fatalf("unexpected interval %+v", got)
	}
	if _, _, err := tasks.Upsert(ctx, &PeriodicTask{Name: "bad", Task: "x", CrontabID: &cron.ID, IntervalID: &interval.ID}); err == nil {
		t.Fatalf("expected error for two schedules")
	}
	at := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	if err := tasks.MarkRun(ctx, "cleanup", at); err != nil {
		t.Fatalf("mark run: %v", err)
	}
	got, _ = tasks.Get(ctx, "cleanup")
	if got.TotalRunCount != 1 || got.LastRunAt == nil || !got.LastRunAt.Equal(at) {
		t.Fatalf("run not recorded: %+v", got)
	}
	if err := tasks.SetEnabled(ctx, "missing", false); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInstallRunsRoundTrip(t *testing.T) {
	runs := NewInstallRunsStore(setupTestDB(t))
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	run := &InstallRun{
		ID:         "5f0c6a4e-8a11-4a56-9c6b-3b1a7e0b2d10",
		AppName:    "scholarmis.library",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Steps: []InstallStep{
			{Position: 1, Name: "register_app", Status: StepStatusOK},
			{Position: 2, Name: "load_tasks", Status: StepStatusFailed, ErrorKind: "schedule-format", Message: "bad schedule"},
		},
	}
	if err := runs.Save(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := runs.Get(ctx, run.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Steps) != 2 || got.Steps[1].ErrorKind != "schedule-format" {
		t.Fatalf("steps not stored: %+v", got.Steps)
	}
	list, err := runs.List(ctx, "scholarmis.library", 10)
	if err != nil || len(list) != 1 || len(list[0].Steps) != 2 {
		t.Fatalf("list: %+v %v", list, err)
	}
	if err := runs.Save(ctx, &InstallRun{}); err == nil {
		t.Fatalf("expected error for run without id")
	}
}

func TestAuditLogFilters(t *testing.T) {
	audits := NewAuditStore(setupTestDB(t))
	ctx := context.Background()
	_ = audits.Log(ctx, "admin", "apps.update", "id=1")
	_ = audits.Log(ctx, "system", "apps.install", "app=scholarmis.library")
	items, err := audits.List(ctx, AuditFilter{Action: "apps.install"})
	if err != nil || len(items) != 1 || items[0].Username != "system" {
		t.Fatalf("unexpected audit list %+v %v", items, err)
	}
	items, err = audits.List(ctx, AuditFilter{Limit: 1})
	if err != nil || len(items) != 1 {
		t.Fatalf("limit: %+v %v", items, err)
	}

	_ = audits.Log(ctx, "ops", "tasks.run", "result=success name=tasks.cleanup_exports_folder")
	_ = audits.Log(ctx, "ops", "appsx.other", "result=success")
	items, err = audits.List(ctx, AuditFilter{Section: "apps", Limit: 1})
	if err != nil || len(items) != 1 || items[0].Action != "apps.install" {
		t.Fatalf("section filter must run before the limit: %+v %v", items, err)
	}
	items, err = audits.List(ctx, AuditFilter{Section: "apps"})
	if err != nil || len(items) != 2 {
		t.Fatalf("section apps must not match appsx: %+v %v", items, err)
	}
	items, err = audits.List(ctx, AuditFilter{Text: "CLEANUP_exports"})
	if err != nil || len(items) != 1 || items[0].Action != "tasks.run" {
		t.Fatalf("text filter: %+v %v", items, err)
	}
	items, err = audits.List(ctx, AuditFilter{Until: time.Now().UTC().Add(-time.Hour)})
	if err != nil || len(items) != 0 {
		t.Fatalf("until filter: %+v %v", items, err)
	}
}

func TestRebindPlaceholders(t *testing.T) {
	if got := rebind(true, "a=? AND b=?"); got != "a=$1 AND b=$2" {
		t.Fatalf("unexpected rebind %q", got)
	}
	if got := rebind(false, "a=?"); got != "a=?" {
		t.Fatalf("sqlite query must stay untouched, got %q", got)
	}
}

func TestAppsSetPermissionsReplacesSet(t *testing.T) {
	db := setupTestDB(t)
	apps := NewAppsStore(db)
	perms := NewPermissionsStore(db)
	ctx := context.Background()
	app := &App{Name: "a.hostel", Label: "hostel", VerboseName: "Hostel", IsActive: true}
	if _, err := apps.Create(ctx, app); err != nil {
		t.Fatalf("create app: %v", err)
	}
	ct, err := perms.GetOrCreateContentType(ctx, "hostel", "app")
	if err != nil {
		t.Fatalf("content type: %v", err)
	}
	allocate, _ := perms.UpsertPermission(ctx, ct.ID, "allocate_room", "Can allocate rooms")
	evict, _ := perms.UpsertPermission(ctx, ct.ID, "evict_student", "Can evict students")
	if err := apps.AddPermission(ctx, app.ID, allocate.ID); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := apps.SetPermissions(ctx, app.ID, []int64{evict.ID, evict.ID}); err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	attached, err := apps.ListPermissions(ctx, app.ID)
	if err != nil || len(attached) != 1 || attached[0].Codename != "evict_student" {
		t.Fatalf("expected only evict_student, got %+v %v", attached, err)
	}
	if err := apps.SetPermissions(ctx, app.ID, nil); err != nil {
		t.Fatalf("clear permissions: %v", err)
	}
	attached, _ = apps.ListPermissions(ctx, app.ID)
	if len(attached) != 0 {
		t.Fatalf("expected no permissions, got %+v", attached)
	}
	got, err := perms.Get(ctx, allocate.ID)
	if err != nil || got == nil || got.Codename != "allocate_room" {
		t.Fatalf("get permission: %+v %v", got, err)
	}
	missing, err := perms.Get(ctx, 9999)
	if err != nil || missing != nil {
		t.Fatalf("missing permission should be nil,nil: %+v %v", missing, err)
	}
}

func TestFixturesApplyRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	fixtures := NewFixturesStore(db)
	options := NewOptionsStore(db)
	settings := NewSettingsStore(db)
	ctx := context.Background()

	batch := FixtureBatch{
		Options: []OptionRecord{
			{AppLabel: "exams", Model: "Grade", LookupField: "name", LookupValue: "A", Fields: map[string]any{"name": "A"}},
			{AppLabel: "exams", Model: "Grade", LookupField: "name", LookupValue: "B", Fields: map[string]any{"bad": make(chan int)}},
		},
		Settings: []AppSetting{{App: "scholarmis.exams", Name: "grading", Type: "string"}},
	}
	if err := fixtures.Apply(ctx, batch); err == nil {
		t.Fatalf("expected encode error")
	}
	if n, _ := options.Count(ctx, "exams", "Grade"); n != 0 {
		t.Fatalf("expected rollback, found %d option rows", n)
	}

	batch.Options = batch.Options[:1]
	if err := fixtures.Apply(ctx, batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n, _ := options.Count(ctx, "exams", "Grade"); n != 1 {
		t.Fatalf("expected 1 option row, got %d", n)
	}
	if n, _ := settings.Count(ctx); n != 1 {
		t.Fatalf("expected 1 setting row, got %d", n)
	}
}
