package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scholarmis-apps/core/registry"
	"scholarmis-apps/core/store"
)

// planSettings validates a settings document. Entries without a name are skipped.
func planSettings(appName, path string, doc any) ([]store.AppSetting, []error) {
	list, ok := doc.([]any)
	if !ok {
		return nil, []error{validationError(path, "settings must be a list, got %T", doc)}
	}
	var out []store.AppSetting
	var errs []error
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			errs = append(errs, validationError(path, "setting %d is not an object", i))
			continue
		}
		setting, ok, err := settingFromMap(appName, entry)
		if err != nil {
			errs = append(errs, newConfigError(KindValidation, path, fmt.Errorf("setting %d: %w", i, err)))
			continue
		}
		if ok {
			out = append(out, setting)
		}
	}
	return out, errs
}

func settingFromMap(appName string, entry map[string]any) (store.AppSetting, bool, error) {
	name, _ := entry["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return store.AppSetting{}, false, nil
	}
	setting := store.AppSetting{App: appName, Name: name, Type: "string"}
	if label, ok := entry["label"].(string); ok {
		setting.Label = &label
	}
	if t, ok := entry["type"].(string); ok && strings.TrimSpace(t) != "" {
		setting.Type = t
	}
	var err error
	if setting.Value, err = rawJSON(entry, "value"); err != nil {
		return store.AppSetting{}, false, err
	}
	if setting.Default, err = rawJSON(entry, "default"); err != nil {
		return store.AppSetting{}, false, err
	}
	if setting.Options, err = rawJSON(entry, "options"); err != nil {
		return store.AppSetting{}, false, err
	}
	return setting, true, nil
}

func rawJSON(entry map[string]any, key string) (json.RawMessage, error) {
	v, ok := entry[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return raw, nil
}

func (in *Installer) loadSettings(ctx context.Context, app *registry.SubApp) StepResult {
	path := configPath(app.Path, "config", "settings.json")
	var doc any
	// the settings file is always read leniently
	found, _ := Reader{IgnoreErrors: true}.Read(path, &doc)
	if !found || doc == nil {
		return skipped(StepSettings, "no settings file")
	}
	settings, errs := planSettings(app.Name, path, doc)
	res := StepResult{Name: StepSettings}
	for i := range settings {
		created, changed, err := in.stores.Settings.Upsert(ctx, &settings[i])
		if err != nil {
			errs = append(errs, persistenceError(path, fmt.Errorf("setting %s: %w", settings[i].Name, err)))
			continue
		}
		res.count(created, changed)
	}
	return res.finish(errs)
}
