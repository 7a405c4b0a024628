package config

import (
	"errors"
	"fmt"
)

// ConfigError marks a configuration or caller-contract violation. Any
// ConfigError aborts the current compress round; no partial mask set is
// returned alongside one.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string {
	return e.msg
}

// Errorf builds a ConfigError with fmt.Sprintf semantics.
func Errorf(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
