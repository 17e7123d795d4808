package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks a source whose configuration cannot support a run.
	ErrConfig = errors.New("source configuration error")
	// ErrSkip marks a locator that could not be extracted.
	ErrSkip = errors.New("locator skipped")
	// ErrUnknownSource is returned for names missing from the registry.
	ErrUnknownSource = errors.New("unknown source")
	// ErrNotFound is returned by run stores for missing runs.
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned by run queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// ConfigError describes a configuration failure for one source.
type ConfigError struct {
	Source string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("source %q: %s", e.Source, e.Reason)
}

// Unwrap lets errors.Is match ErrConfig.
func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// NewConfigError builds a ConfigError.
func NewConfigError(source, format string, args ...any) error {
	return &ConfigError{Source: source, Reason: fmt.Sprintf(format, args...)}
}

// SkipError wraps an extraction failure for a single locator.
func SkipError(identity string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSkip, identity, err)
}
