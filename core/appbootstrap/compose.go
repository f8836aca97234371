// Package appbootstrap wires configuration, storage, installer, scheduler and HTTP
// server into one runtime.
package appbootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"scholarmis-apps/api"
	"scholarmis-apps/config"
	"scholarmis-apps/core/auth"
	"scholarmis-apps/core/installer"
	"scholarmis-apps/core/rbac"
	"scholarmis-apps/core/registry"
	"scholarmis-apps/core/store"
	"scholarmis-apps/core/tasks"
	"scholarmis-apps/core/tenancy"
	"scholarmis-apps/core/utils"
)

type Runtime struct {
	Config    *config.AppConfig
	DB        *sql.DB
	Logger    *utils.Logger
	Registry  *registry.Registry
	Stores    installer.Stores
	Installer *installer.Installer
	Tasks     *tasks.Registry
	Beat      *tasks.Beat
}

// Open connects the database and builds every component. It does not migrate.
func Open(cfg *config.AppConfig, logger *utils.Logger) (*Runtime, error) {
	if logger == nil {
		logger = utils.NewLogger()
	}
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt, err := compose(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return rt, nil
}

func compose(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*Runtime, error) {
	reg, err := registry.FromConfig(cfg.Apps)
	if err != nil {
		return nil, err
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
	if err := tasks.RegisterDefaults(taskRegistry, cfg.Storage, logger.With("component", "tasks")); err != nil {
		return nil, fmt.Errorf("register tasks: %w", err)
	}
	return &Runtime{
		Config:    cfg,
		DB:        db,
		Logger:    logger,
		Registry:  reg,
		Stores:    stores,
		Installer: installer.New(cfg.Installer, reg, stores, logger.With("component", "installer")),
		Tasks:     taskRegistry,
		Beat:      tasks.NewBeat(cfg.Scheduler, stores.Tasks, taskRegistry, logger.With("component", "beat")),
	}, nil
}

// Migrate applies the schema migrations, then installs every registered sub-application.
func (rt *Runtime) Migrate(ctx context.Context) ([]*installer.Report, error) {
	if err := store.ApplyMigrations(ctx, rt.DB, rt.Logger); err != nil {
		return nil, err
	}
	return rt.Installer.InstallAll(ctx), nil
}

func (rt *Runtime) Server() (*api.Server, error) {
	policy, err := rbac.NewPolicy(rbac.DefaultRoles())
	if err != nil {
		return nil, err
	}
	if !rt.Config.Auth.Enabled {
		rt.Logger.Warnf("auth disabled: every API caller is an anonymous admin")
	}
	return api.NewServer(rt.Config, api.ServerDeps{
		Apps:        rt.Stores.Apps,
		Permissions: rt.Stores.Permissions,
		Tasks:       rt.Stores.Tasks,
		Runs:        rt.Stores.Runs,
		Audits:      rt.Stores.Audits,
		Registry:    rt.Registry,
		Installer:   rt.Installer,
		TaskRunner:  rt.Beat,
		Policy:      policy,
		Tokens:      auth.NewTokenAuthenticator(rt.Config.Auth.Tokens),
		Tenants:     tenancy.NewResolver(rt.Config.Tenancy),
	}, rt.Logger.With("component", "http"), rt.Beat), nil
}

func (rt *Runtime) Close() error {
	if rt == nil || rt.DB == nil {
		return nil
	}
	return rt.DB.Close()
}
