package tasks

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var ErrOutsideStorage = errors.New("path escapes tenant storage")

// TenantStorage is the media storage of one tenant: <media root>/<tenant>.
type TenantStorage struct {
	root string
}

func NewTenantStorage(mediaRoot, tenant string) *TenantStorage {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		tenant = "public"
	}
	return &TenantStorage{root: filepath.Join(mediaRoot, tenant)}
}

func (s *TenantStorage) Root() string {
	return s.root
}

func (s *TenantStorage) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(name)))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideStorage, name)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *TenantStorage) Exists(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// ListDir returns the directory and file names directly under name, sorted.
func (s *TenantStorage) ListDir(name string) ([]string, []string, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, nil, err
	}
	var dirs, files []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files, nil
}

func (s *TenantStorage) ModifiedTime(name string) (time.Time, error) {
	p, err := s.path(name)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime().UTC(), nil
}

func (s *TenantStorage) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
