package memory

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups for ids the store does not hold.
var ErrNotFound = errors.New("memory: item not found")

// ConfigError reports an invalid construction-time setting. It is never
// retried; the caller must fix the configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("memory: invalid config %s: %s", e.Field, e.Reason)
}

// StorageError wraps a fault from the durable store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("memory: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// InitializationError wraps the first fault of a startup rebuild attempt.
// Every waiter of that attempt observes the same error.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("memory: initialization failed: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// QueryError reports malformed caller input. The caller may correct the
// input and retry.
type QueryError struct {
	Reason string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("memory: invalid input: %s", e.Reason)
}
