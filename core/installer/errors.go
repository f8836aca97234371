package installer

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindFileNotFound   ErrorKind = "file-not-found"
	KindDecode         ErrorKind = "decode"
	KindValidation     ErrorKind = "validation"
	KindScheduleFormat ErrorKind = "schedule-format"
	KindPersistence    ErrorKind = "persistence"
)

var (
	ErrFileNotFound   = errors.New("config file not found")
	ErrDecode         = errors.New("config decode failed")
	ErrValidation     = errors.New("config validation failed")
	ErrScheduleFormat = errors.New("invalid schedule format")
	ErrPersistence    = errors.New("persistence failed")
)

var kindSentinels = map[ErrorKind]error{
	KindFileNotFound:   ErrFileNotFound,
	KindDecode:         ErrDecode,
	KindValidation:     ErrValidation,
	KindScheduleFormat: ErrScheduleFormat,
	KindPersistence:    ErrPersistence,
}

// ConfigError is returned by every reader and reconciler. errors.Is matches both the
// kind sentinel and the wrapped cause.
type ConfigError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	msg := string(e.Kind)
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

func newConfigError(kind ErrorKind, path string, err error) *ConfigError {
	return &ConfigError{Kind: kind, Path: path, Err: err}
}

func validationError(path, format string, args ...any) *ConfigError {
	return newConfigError(KindValidation, path, fmt.Errorf(format, args...))
}

func persistenceError(path string, err error) *ConfigError {
	return newConfigError(KindPersistence, path, err)
}

// KindOf reports the kind of a ConfigError anywhere in the chain, or "" for other errors.
func KindOf(err error) ErrorKind {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
