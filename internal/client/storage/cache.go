package storage

import (
	"context"

	"github.com/iudanet/fieldsync/internal/models"
)

//go:generate moq -out cachestorage_mock.go . CacheStorage

// CacheStorage defines interface for the durable read-cache collection.
// Реализации обязаны быть атомарными на уровне одной записи и переживать
// перезапуск процесса.
type CacheStorage interface {
	// SaveEntry stores or replaces a cache entry unconditionally
	SaveEntry(ctx context.Context, entry *models.CacheEntry) error

	// GetEntry retrieves a cache entry by key
	// Returns ErrEntryNotFound if entry doesn't exist
	// Expiry is NOT checked here: that is the cache service's job
	GetEntry(ctx context.Context, key string) (*models.CacheEntry, error)

	// DeleteEntry removes a cache entry by key
	// Deleting a missing entry is not an error (idempotent)
	DeleteEntry(ctx context.Context, key string) error

	// DeleteAllEntries removes every cache entry
	DeleteAllEntries(ctx context.Context) error

	// ScanEntries iterates over all cache entries in key order and calls
	// fn for each one. Returning false from fn stops the scan early.
	// Used for expiry sweeps and diagnostics.
	ScanEntries(ctx context.Context, fn func(entry *models.CacheEntry) bool) error
}
