package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"scholarmis-apps/core/registry"
	"scholarmis-apps/core/store"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is either a crontab (five fields) or an interval in seconds.
type Schedule struct {
	Crontab  *store.CrontabSchedule
	Interval int
}

func (s Schedule) String() string {
	if s.Crontab != nil {
		return s.Crontab.Spec()
	}
	return strconv.Itoa(s.Interval) + "s"
}

// ParseSchedule accepts "m h dom mon dow" or a single positive number of seconds.
func ParseSchedule(raw string) (Schedule, error) {
	parts := strings.Fields(raw)
	switch {
	case len(parts) == 5:
		if _, err := cronParser.Parse(strings.Join(parts, " ")); err != nil {
			return Schedule{}, newConfigError(KindScheduleFormat, "", fmt.Errorf("invalid schedule format %q: %w", raw, err))
		}
		return Schedule{Crontab: &store.CrontabSchedule{
			Minute:      parts[0],
			Hour:        parts[1],
			DayOfMonth:  parts[2],
			MonthOfYear: parts[3],
			DayOfWeek:   parts[4],
		}}, nil
	case len(parts) == 1 && allDigits(parts[0]):
		n, err := strconv.Atoi(parts[0])
		if err != nil || n <= 0 {
			return Schedule{}, newConfigError(KindScheduleFormat, "", fmt.Errorf("interval must be a positive number of seconds, got %q", raw))
		}
		return Schedule{Interval: n}, nil
	default:
		return Schedule{}, newConfigError(KindScheduleFormat, "", fmt.Errorf("unknown schedule format %q", raw))
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type taskSpec struct {
	Name     string
	Task     string
	Schedule Schedule
}

func planTask(path, name string, details any) (taskSpec, error) {
	entry, ok := details.(map[string]any)
	if !ok {
		return taskSpec{}, validationError(path, "task %s must be a mapping", name)
	}
	task, _ := entry["task"].(string)
	if strings.TrimSpace(task) == "" {
		return taskSpec{}, validationError(path, "task %s has no task identifier", name)
	}
	var raw string
	if v, ok := entry["schedule"]; ok && v != nil {
		raw = fmt.Sprint(v)
	}
	sched, err := ParseSchedule(raw)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return taskSpec{}, fmt.Errorf("task %s: %w", name, err)
	}
	return taskSpec{Name: name, Task: strings.TrimSpace(task), Schedule: sched}, nil
}

// loadTasks registers every entry of celery/tasks.yml. A bad entry is reported and the
// rest are still registered.
func (in *Installer) loadTasks(ctx context.Context, app *registry.SubApp) StepResult {
	path := configPath(app.Path, "celery", "tasks.yml")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return skipped(StepTasks, "no tasks file")
	}
	var doc map[string]any
	found, err := in.reader().Read(path, &doc)
	if err != nil {
		return failed(StepTasks, err)
	}
	if !found || len(doc) == 0 {
		return skipped(StepTasks, "no tasks declared")
	}
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)
	res := StepResult{Name: StepTasks}
	var errs []error
	for _, name := range names {
		spec, err := planTask(path, name, doc[name])
		if err == nil {
			var created, changed bool
			created, changed, err = in.saveTask(ctx, spec)
			if err == nil {
				res.count(created, changed)
				continue
			}
			err = persistenceError(path, fmt.Errorf("task %s: %w", name, err))
		}
		in.logger.Errorf("installer: error processing task %q of %s: %v", name, app.Name, err)
		errs = append(errs, err)
	}
	return res.finish(errs)
}

func (in *Installer) saveTask(ctx context.Context, spec taskSpec) (bool, bool, error) {
	task := &store.PeriodicTask{Name: spec.Name, Task: spec.Task}
	if spec.Schedule.Crontab != nil {
		c, err := in.stores.Tasks.GetOrCreateCrontab(ctx, *spec.Schedule.Crontab)
		if err != nil {
			return false, false, err
		}
		task.CrontabID = &c.ID
	} else {
		i, err := in.stores.Tasks.GetOrCreateInterval(ctx, spec.Schedule.Interval, store.PeriodSeconds)
		if err != nil {
			return false, false, err
		}
		task.IntervalID = &i.ID
	}
	return in.stores.Tasks.Upsert(ctx, task)
}
