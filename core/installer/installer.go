// Package installer provisions the database side of every registered sub-application:
// the App row, option records, permissions, fixtures, settings and periodic tasks.
package installer

import (
	"context"
	"fmt"
	"time"

	"scholarmis-apps/config"
	"scholarmis-apps/core/registry"
	"scholarmis-apps/core/store"
	"scholarmis-apps/core/utils"

	"github.com/gofrs/uuid/v5"
)

const DefaultIcon = "img/app.png"

type Stores struct {
	Apps        store.AppsStore
	Permissions store.PermissionsStore
	Settings    store.SettingsStore
	Options     store.OptionsStore
	Fixtures    store.FixturesStore
	Tasks       store.PeriodicTasksStore
	Runs        store.InstallRunsStore
	Audits      store.AuditStore
}

type Installer struct {
	cfg      config.InstallerConfig
	registry *registry.Registry
	stores   Stores
	logger   *utils.Logger
	now      func() time.Time
}

type step struct {
	name string
	run  func(context.Context, *registry.SubApp) StepResult
}

func New(cfg config.InstallerConfig, reg *registry.Registry, stores Stores, logger *utils.Logger) *Installer {
	if cfg.DefaultIcon == "" {
		cfg.DefaultIcon = DefaultIcon
	}
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Installer{cfg: cfg, registry: reg, stores: stores, logger: logger, now: utils.NowUTC}
}

func (in *Installer) reader() Reader {
	return Reader{IgnoreErrors: in.cfg.IgnoreErrors}
}

func (in *Installer) steps() []step {
	return []step{
		{StepRegisterApp, in.registerApp},
		{StepOptions, in.loadOptions},
		{StepPermissions, in.loadPermissions},
		{StepFixtures, in.loadFixtures},
		{StepSettings, in.loadSettings},
		{StepTasks, in.loadTasks},
	}
}

// Install runs every step for app in order. It never returns an error: failures are
// logged and recorded on the report.
func (in *Installer) Install(ctx context.Context, app *registry.SubApp) *Report {
	return in.run(ctx, app, in.steps())
}

// InstallTasks only registers the periodic tasks of app.
func (in *Installer) InstallTasks(ctx context.Context, app *registry.SubApp) *Report {
	return in.run(ctx, app, []step{{StepTasks, in.loadTasks}})
}

// InstallAll installs every registered sub-application serially, in registry order.
func (in *Installer) InstallAll(ctx context.Context) []*Report {
	apps := in.registry.All()
	reports := make([]*Report, 0, len(apps))
	for _, app := range apps {
		if ctx.Err() != nil {
			in.logger.Warnf("installer: stopped before %s: %v", app.Name, ctx.Err())
			break
		}
		reports = append(reports, in.Install(ctx, app))
	}
	return reports
}

func (in *Installer) run(ctx context.Context, app *registry.SubApp, steps []step) *Report {
	report := &Report{RunID: uuid.Must(uuid.NewV4()).String(), App: app.Name, StartedAt: in.now()}
	log := in.logger.With("run_id", report.RunID, "app", app.Name)
	for _, s := range steps {
		res := in.safeStep(ctx, log, app, s)
		switch res.Status {
		case store.StepStatusFailed:
			log.Errorf("installer: %s failed (%s): %v", s.name, res.Kind(), res.Err)
		case store.StepStatusSkipped:
			log.Debugf("installer: %s skipped: %s", s.name, res.Message)
		default:
			log.Debugf("installer: %s done: %s", s.name, res.Message)
		}
		report.Steps = append(report.Steps, res)
	}
	report.FinishedAt = in.now()
	if report.OK() {
		log.Printf("installer: %s installed", app.Name)
	}
	in.persist(ctx, log, report)
	return report
}

// safeStep keeps a panicking step from aborting the remaining steps.
func (in *Installer) safeStep(ctx context.Context, log *utils.Logger, app *registry.SubApp, s step) (res StepResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("installer: %s panicked: %v", s.name, r)
			res = failed(s.name, persistenceError(app.Name, fmt.Errorf("panic: %v", r)))
		}
	}()
	return s.run(ctx, app)
}

func (in *Installer) persist(ctx context.Context, log *utils.Logger, report *Report) {
	if !in.cfg.RecordRuns || in.stores.Runs == nil {
		return
	}
	if err := in.stores.Runs.Save(ctx, report.run()); err != nil {
		log.Errorf("installer: save run: %v", err)
	}
	if in.stores.Audits != nil {
		result := "success"
		if !report.OK() {
			result = "failed"
		}
		if err := in.stores.Audits.Log(ctx, "system", AuditInstall, "result="+result+" app="+report.App+" run="+report.RunID); err != nil {
			log.Errorf("installer: audit: %v", err)
		}
	}
}

const AuditInstall = "apps.install"
