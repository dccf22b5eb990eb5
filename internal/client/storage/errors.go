package storage

import "errors"

// Common client storage errors
var (
	// ErrEntryNotFound indicates that cache entry was not found
	ErrEntryNotFound = errors.New("cache entry not found")

	// ErrOperationNotFound indicates that queued operation was not found
	ErrOperationNotFound = errors.New("queued operation not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrStorageUnavailable indicates that the underlying storage engine
	// failed (quota, corruption, I/O). Callers must treat cache reads as
	// a miss and queue reads as empty instead of failing the user action.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
