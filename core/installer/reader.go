package installer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reader loads one declarative config file. With IgnoreErrors set a missing or
// malformed file reads as absent instead of failing.
type Reader struct {
	IgnoreErrors bool
}

// Read decodes path into dest by extension (.yml/.yaml as YAML, anything else as JSON).
// found is false when the file is absent, empty, or ignored after an error.
func (r Reader) Read(path string, dest any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r.fail(newConfigError(KindFileNotFound, path, fmt.Errorf("%s not found", path)))
		}
		return r.fail(newConfigError(KindFileNotFound, path, err))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}
	if err := decode(path, raw, dest); err != nil {
		return r.fail(newConfigError(KindDecode, path, err))
	}
	return true, nil
}

func (r Reader) fail(err *ConfigError) (bool, error) {
	if r.IgnoreErrors {
		return false, nil
	}
	return false, err
}

func decode(path string, raw []byte, dest any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return yaml.Unmarshal(raw, dest)
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(dest); err != nil {
			return err
		}
		if dec.More() {
			return errors.New("unexpected data after top-level value")
		}
		return nil
	}
}

// configPath builds <app path>/<dir>/<file>.
func configPath(appPath, dir, file string) string {
	return filepath.Join(appPath, dir, file)
}
