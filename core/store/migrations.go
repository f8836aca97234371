package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"scholarmis-apps/core/utils"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var gooseMigrations embed.FS

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS apps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		label TEXT NOT NULL,
		verbose_name TEXT NOT NULL,
		description TEXT,
		url TEXT,
		icon TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_default INTEGER NOT NULL DEFAULT 0,
		is_service INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS content_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_label TEXT NOT NULL,
		model TEXT NOT NULL,
		UNIQUE(app_label, model)
	);`,
	`CREATE TABLE IF NOT EXISTS permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_type_id INTEGER NOT NULL,
		codename TEXT NOT NULL,
		name TEXT NOT NULL,
		UNIQUE(content_type_id, codename),
		FOREIGN KEY(content_type_id) REFERENCES content_types(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS app_permissions (
		app_id INTEGER NOT NULL,
		permission_id INTEGER NOT NULL,
		PRIMARY KEY (app_id, permission_id),
		FOREIGN KEY(app_id) REFERENCES apps(id) ON DELETE CASCADE,
		FOREIGN KEY(permission_id) REFERENCES permissions(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS app_settings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app TEXT NOT NULL,
		name TEXT NOT NULL,
		label TEXT,
		value TEXT,
		default_value TEXT,
		type TEXT NOT NULL DEFAULT 'string',
		options TEXT NOT NULL DEFAULT '{}',
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(app, name)
	);`,
	`CREATE TABLE IF NOT EXISTS option_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		app_label TEXT NOT NULL,
		model TEXT NOT NULL,
		lookup_field TEXT NOT NULL,
		lookup_value TEXT NOT NULL,
		slug TEXT,
		fields TEXT NOT NULL DEFAULT '{}',
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(app_label, model, lookup_field, lookup_value)
	);`,
	`CREATE TABLE IF NOT EXISTS crontab_schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		minute TEXT NOT NULL,
		hour TEXT NOT NULL,
		day_of_month TEXT NOT NULL,
		month_of_year TEXT NOT NULL,
		day_of_week TEXT NOT NULL,
		UNIQUE(minute, hour, day_of_month, month_of_year, day_of_week)
	);`,
	`CREATE TABLE IF NOT EXISTS interval_schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		every INTEGER NOT NULL,
		period TEXT NOT NULL,
		UNIQUE(every, period)
	);`,
	`CREATE TABLE IF NOT EXISTS periodic_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		task TEXT NOT NULL,
		crontab_id INTEGER,
		interval_id INTEGER,
		enabled INTEGER NOT NULL DEFAULT 1,
		last_run_at TIMESTAMP,
		total_run_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		CHECK (crontab_id IS NULL OR interval_id IS NULL),
		FOREIGN KEY(crontab_id) REFERENCES crontab_schedules(id) ON DELETE SET NULL,
		FOREIGN KEY(interval_id) REFERENCES interval_schedules(id) ON DELETE SET NULL
	);`,
	`CREATE TABLE IF NOT EXISTS install_runs (
		id TEXT PRIMARY KEY,
		app_name TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS install_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(run_id) REFERENCES install_runs(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_apps_label ON apps(label);`,
	`CREATE INDEX IF NOT EXISTS idx_option_records_model ON option_records(app_label, model);`,
	`CREATE INDEX IF NOT EXISTS idx_install_runs_app ON install_runs(app_name, started_at);`,
	`CREATE INDEX IF NOT EXISTS idx_install_steps_run ON install_steps(run_id, position);`,
}

func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	if !isPostgresDB(db) {
		if !isTestRuntime() {
			return fmt.Errorf("only postgres is supported outside go test runtime")
		}
		return applySQLiteTestMigrations(ctx, db, logger)
	}
	return applyGooseMigrations(ctx, db, logger)
}

func applyGooseMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	goose.SetBaseFS(gooseMigrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if logger != nil {
		goose.SetLogger(gooseLogger{logger: logger})
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("goose version: %w", err)
	}
	if logger != nil {
		logger.Printf("postgres migrations applied, version %d", version)
	}
	return nil
}

func applySQLiteTestMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	if logger != nil {
		logger.Printf("applying sqlite test migrations")
	}
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	if logger != nil {
		logger.Printf("sqlite test migrations applied")
	}
	return nil
}

type gooseLogger struct {
	logger *utils.Logger
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) { l.logger.Errorf(format, v...) }
func (l gooseLogger) Printf(format string, v ...interface{}) { l.logger.Printf(format, v...) }
