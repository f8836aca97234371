package tasks

import (
	"context"
	"fmt"
	"path"
	"time"

	"scholarmis-apps/config"
	"scholarmis-apps/core/utils"
)

const CleanupExportsTask = "tasks.cleanup_exports_folder"

// Cleanup deletes export files older than MaxAge from the tenant storage.
type Cleanup struct {
	storage *TenantStorage
	dir     string
	maxAge  time.Duration
	logger  *utils.Logger
	now     func() time.Time
}

func NewCleanup(storage *TenantStorage, dir string, maxAge time.Duration, logger *utils.Logger) *Cleanup {
	if dir == "" {
		dir = "exports"
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Cleanup{storage: storage, dir: dir, maxAge: maxAge, logger: logger, now: utils.NowUTC}
}

// Run never fails on a single file: delete errors are logged and the file is skipped.
func (c *Cleanup) Run(ctx context.Context) (string, error) {
	if !c.storage.Exists(c.dir) {
		return fmt.Sprintf("Directory '%s' not found in storage.", c.dir), nil
	}
	cutoff := c.now().Add(-c.maxAge)
	_, files, err := c.storage.ListDir(c.dir)
	if err != nil {
		c.logger.Errorf("cleanup: list %s: %v", c.dir, err)
		return fmt.Sprintf("Cleanup complete. Deleted %d files.", 0), nil
	}
	deleted := 0
	for _, name := range files {
		if ctx.Err() != nil {
			break
		}
		full := path.Join(c.dir, name)
		mtime, err := c.storage.ModifiedTime(full)
		if err != nil {
			c.logger.Errorf("cleanup: stat %s: %v", full, err)
			continue
		}
		if !mtime.Before(cutoff) {
			continue
		}
		if err := c.storage.Delete(full); err != nil {
			c.logger.Errorf("Failed to delete %s: %v", full, err)
			continue
		}
		deleted++
	}
	return fmt.Sprintf("Cleanup complete. Deleted %d files.", deleted), nil
}

// RegisterDefaults registers the built-in tasks of the service.
func RegisterDefaults(reg *Registry, cfg config.StorageConfig, logger *utils.Logger) error {
	cleanup := NewCleanup(NewTenantStorage(cfg.MediaRoot, cfg.Tenant), cfg.ExportsDir, cfg.ExportsMaxAge, logger)
	return reg.Register(CleanupExportsTask, cleanup.Run)
}
