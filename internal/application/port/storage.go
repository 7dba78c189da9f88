package port

import "errors"

var (
	// ErrNotFound is returned by mutations addressing a row that does not exist
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when an optimistic version check fails
	ErrVersionConflict = errors.New("version conflict")
)

// Cache is a key/value cache handed to components explicitly
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Delete(key string)
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(prefix string)
	Purge()
}
