package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a key has no cache entry.
	ErrNotFound = errors.New("cache entry not found")

	// ErrReadOnly is returned by writes on a store opened WithReadOnly.
	ErrReadOnly = errors.New("cache is read-only")

	// ErrCacheCorruption is matched by every *CorruptionError.
	ErrCacheCorruption = errors.New("cache corruption")
)

// CorruptionError reports an undecodable payload or a damaged index. The
// affected rows are left in place; callers rebuild the index and re-fetch.
type CorruptionError struct {
	Key string
	Err error
}

func (e *CorruptionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache corruption: %v", e.Err)
	}
	return fmt.Sprintf("cache corruption in %s: %v", e.Key, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

func (e *CorruptionError) Is(target error) bool { return target == ErrCacheCorruption }

// asCorruption converts SQLite corruption failures into *CorruptionError
// and passes every other error through unchanged.
func asCorruption(key string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "malformed") || strings.Contains(msg, "SQLITE_CORRUPT") || strings.Contains(msg, "corrupt") {
		return &CorruptionError{Key: key, Err: err}
	}
	return err
}
