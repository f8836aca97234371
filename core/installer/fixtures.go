package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"scholarmis-apps/core/registry"
	"scholarmis-apps/core/store"
)

// SettingsFixtureModel is the built-in fixture target backed by the app settings table.
const SettingsFixtureModel = "settings.AppSetting"

type fixtureObject struct {
	Model  string         `json:"model"`
	PK     any            `json:"pk"`
	Fields map[string]any `json:"fields"`
}

// loadFixtures applies every fixtures/*.json file whose target table is still empty.
func (in *Installer) loadFixtures(ctx context.Context, app *registry.SubApp) StepResult {
	dir := filepath.Join(app.Path, "fixtures")
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return skipped(StepFixtures, "no fixtures directory")
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return failed(StepFixtures, newConfigError(KindFileNotFound, dir, err))
	}
	sort.Strings(files)
	res := StepResult{Name: StepFixtures}
	var errs []error
	for _, file := range files {
		loaded, err := in.loadFixture(ctx, file)
		if err != nil {
			in.logger.Errorf("installer: fixture %s: %v", file, err)
			if !in.cfg.IgnoreErrors {
				errs = append(errs, err)
			}
			continue
		}
		if loaded {
			res.Created++
		}
	}
	if len(errs) == 0 {
		res.Message = fmt.Sprintf("%d of %d fixture files loaded", res.Created, len(files))
	}
	return res.finish(errs)
}

// loadFixture applies one fixture file as a unit: every object is resolved first and
// the rows are written in a single transaction, so a bad object leaves nothing behind.
func (in *Installer) loadFixture(ctx context.Context, path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, newConfigError(KindFileNotFound, path, err)
	}
	var objects []fixtureObject
	if err := json.Unmarshal(raw, &objects); err != nil {
		return false, newConfigError(KindDecode, path, err)
	}
	if len(objects) == 0 {
		return false, validationError(path, "fixture has no objects")
	}
	empty, err := in.fixtureTargetEmpty(ctx, path, objects[0].Model)
	if err != nil || !empty {
		return false, err
	}
	var batch store.FixtureBatch
	for i, obj := range objects {
		if err := in.planFixtureObject(path, obj, &batch); err != nil {
			return false, fmt.Errorf("object %d: %w", i, err)
		}
	}
	if err := in.stores.Fixtures.Apply(ctx, batch); err != nil {
		return false, persistenceError(path, err)
	}
	return true, nil
}

func (in *Installer) fixtureTargetEmpty(ctx context.Context, path, model string) (bool, error) {
	if strings.EqualFold(model, SettingsFixtureModel) {
		n, err := in.stores.Settings.Count(ctx)
		if err != nil {
			return false, persistenceError(path, err)
		}
		return n == 0, nil
	}
	app, m, err := in.registry.FindModel(model)
	if err != nil {
		return false, newConfigError(KindValidation, path, err)
	}
	n, err := in.stores.Options.Count(ctx, app.Label, m.Name)
	if err != nil {
		return false, persistenceError(path, err)
	}
	return n == 0, nil
}

func (in *Installer) planFixtureObject(path string, obj fixtureObject, batch *store.FixtureBatch) error {
	if strings.EqualFold(obj.Model, SettingsFixtureModel) {
		appName, _ := obj.Fields["app"].(string)
		if strings.TrimSpace(appName) == "" {
			return validationError(path, "setting fixture needs an app")
		}
		setting, ok, err := settingFromMap(appName, obj.Fields)
		if err != nil {
			return newConfigError(KindValidation, path, err)
		}
		if !ok {
			return validationError(path, "setting fixture needs a name")
		}
		batch.Settings = append(batch.Settings, setting)
		return nil
	}
	app, model, err := in.registry.FindModel(obj.Model)
	if err != nil {
		return newConfigError(KindValidation, path, err)
	}
	rec, ok := planOptionRecord(app.Label, model, obj.Fields)
	if !ok {
		if obj.PK == nil {
			return validationError(path, "%s fixture object has no name, code or pk", obj.Model)
		}
		rec.LookupField = "pk"
		rec.LookupValue = lookupString(obj.PK)
	}
	batch.Options = append(batch.Options, rec)
	return nil
}
