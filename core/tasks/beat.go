package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"scholarmis-apps/config"
	"scholarmis-apps/core/store"
	"scholarmis-apps/core/utils"

	"github.com/robfig/cron/v3"
)

var crontabParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type beatEntry struct {
	id  cron.EntryID
	key string
}

// Beat fires stored periodic tasks on their crontab or interval schedules. The task
// table is re-read every IntervalSeconds so installer changes are picked up live.
type Beat struct {
	cfg      config.SchedulerConfig
	store    store.PeriodicTasksStore
	registry *Registry
	logger   *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]beatEntry
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func NewBeat(cfg config.SchedulerConfig, tasks store.PeriodicTasksStore, registry *Registry, logger *utils.Logger) *Beat {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Beat{cfg: cfg, store: tasks, registry: registry, logger: logger, entries: map[string]beatEntry{}}
}

func (b *Beat) location() *time.Location {
	if tz := strings.TrimSpace(b.cfg.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
		b.logger.Warnf("beat: unknown timezone %q, using UTC", tz)
	}
	return time.UTC
}

func (b *Beat) StartWithContext(ctx context.Context) {
	if b == nil || b.store == nil || !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.runCtx = runCtx
	b.running = true
	b.cron = cron.New(
		cron.WithLocation(b.location()),
		cron.WithParser(crontabParser),
		cron.WithChain(cron.Recover(cron.PrintfLogger(b.logger))),
	)
	b.entries = map[string]beatEntry{}
	b.wg.Add(1)
	b.mu.Unlock()

	if err := b.Sync(runCtx); err != nil {
		b.logger.Errorf("beat: initial sync: %v", err)
	}
	b.cron.Start()

	interval := time.Duration(b.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer b.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := b.Sync(runCtx); err != nil {
					b.logger.Errorf("beat: sync: %v", err)
				}
			case <-runCtx.Done():
				return
			}
		}
	}()
}

func (b *Beat) StopWithContext(ctx context.Context) error {
	if b == nil || !b.cfg.Enabled {
		return nil
	}
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	wasRunning := b.running
	c := b.cron
	b.mu.Unlock()
	if !wasRunning || cancel == nil {
		return nil
	}
	cancel()
	stopped := c.Stop()
	waitDone := make(chan struct{})
	go func() {
		b.wg.Wait()
		<-stopped.Done()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync reconciles the cron entries with the enabled periodic tasks in the store.
func (b *Beat) Sync(ctx context.Context) error {
	items, err := b.store.List(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cron == nil {
		return nil
	}
	runCtx := b.runCtx
	seen := map[string]struct{}{}
	for _, item := range items {
		if !item.Enabled {
			continue
		}
		sched, spec, err := scheduleOf(item)
		if err != nil {
			b.logger.Warnf("beat: task %s: %v", item.Name, err)
			continue
		}
		seen[item.Name] = struct{}{}
		key := item.Task + "|" + spec
		if cur, ok := b.entries[item.Name]; ok {
			if cur.key == key {
				continue
			}
			b.cron.Remove(cur.id)
		}
		name, task := item.Name, item.Task
		id := b.cron.Schedule(sched, cron.FuncJob(func() { b.fire(runCtx, name, task) }))
		b.entries[item.Name] = beatEntry{id: id, key: key}
		b.logger.Debugf("beat: scheduled %s (%s) at %s", name, task, spec)
	}
	for name, entry := range b.entries {
		if _, ok := seen[name]; !ok {
			b.cron.Remove(entry.id)
			delete(b.entries, name)
		}
	}
	return nil
}

func scheduleOf(task store.PeriodicTask) (cron.Schedule, string, error) {
	switch {
	case task.Crontab != nil:
		spec := task.Crontab.Spec()
		sched, err := crontabParser.Parse(spec)
		if err != nil {
			return nil, "", err
		}
		return sched, spec, nil
	case task.Interval != nil && task.Interval.Every > 0:
		d := task.Interval.Duration()
		return cron.Every(d), "@every " + d.String(), nil
	default:
		return nil, "", fmt.Errorf("no schedule")
	}
}

func (b *Beat) fire(ctx context.Context, name, task string) {
	if ctx.Err() != nil {
		return
	}
	result, err := b.registry.Run(ctx, task)
	if err != nil {
		b.logger.Errorf("beat: %s (%s) failed: %v", name, task, err)
	} else {
		b.logger.Printf("beat: %s (%s): %s", name, task, result)
	}
	if err := b.store.MarkRun(ctx, name, utils.NowUTC()); err != nil {
		b.logger.Errorf("beat: record run of %s: %v", name, err)
	}
}

// RunNow fires a periodic task by name, or a registered task by identifier, once.
func (b *Beat) RunNow(ctx context.Context, name string) (string, error) {
	if b.store != nil {
		item, err := b.store.Get(ctx, name)
		if err != nil {
			return "", err
		}
		if item != nil {
			result, runErr := b.registry.Run(ctx, item.Task)
			if err := b.store.MarkRun(ctx, item.Name, utils.NowUTC()); err != nil {
				b.logger.Errorf("beat: record run of %s: %v", item.Name, err)
			}
			return result, runErr
		}
	}
	return b.registry.Run(ctx, name)
}

// Scheduled lists the names of the tasks currently scheduled.
func (b *Beat) Scheduled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.entries))
	for name := range b.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
