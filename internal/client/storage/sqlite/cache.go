package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

// SaveEntry stores or replaces a cache entry
func (s *Storage) SaveEntry(ctx context.Context, entry *models.CacheEntry) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	query := `
		INSERT INTO cache_entries (key, value, expires_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		    value = excluded.value,
		    expires_at = excluded.expires_at,
		    created_at = excluded.created_at
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.Key,
		[]byte(entry.Value),
		entry.ExpiresAt,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to save entry: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}

// GetEntry retrieves a cache entry by key.
// Expiry is not checked here, only physical presence.
func (s *Storage) GetEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	query := `SELECT key, value, expires_at, created_at FROM cache_entries WHERE key = ?`

	entry := &models.CacheEntry{}
	var value []byte

	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&entry.Key,
		&value,
		&entry.ExpiresAt,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntryNotFound
		}
		return nil, fmt.Errorf("%w: failed to get entry: %w", storage.ErrStorageUnavailable, err)
	}

	entry.Value = value
	return entry, nil
}

// DeleteEntry removes a cache entry by key (idempotent)
func (s *Storage) DeleteEntry(ctx context.Context, key string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("%w: failed to delete entry: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}

// DeleteAllEntries removes every cache entry
func (s *Storage) DeleteAllEntries(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("%w: failed to delete entries: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}

// ScanEntries iterates over all cache entries in key order
func (s *Storage) ScanEntries(ctx context.Context, fn func(entry *models.CacheEntry) bool) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	query := `SELECT key, value, expires_at, created_at FROM cache_entries ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: failed to scan entries: %w", storage.ErrStorageUnavailable, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		entry := &models.CacheEntry{}
		var value []byte

		if err := rows.Scan(&entry.Key, &value, &entry.ExpiresAt, &entry.CreatedAt); err != nil {
			return fmt.Errorf("%w: failed to scan row: %w", storage.ErrStorageUnavailable, err)
		}
		entry.Value = value

		if !fn(entry) {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: rows iteration failed: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}
