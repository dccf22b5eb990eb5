package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

// SaveEntry stores or replaces a cache entry in BoltDB
func (s *Storage) SaveEntry(ctx context.Context, entry *models.CacheEntry) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	// Сериализуем entry в JSON
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCache)
		if bucket == nil {
			return fmt.Errorf("cache bucket not found")
		}

		// Перезаписываем безусловно: последняя запись побеждает
		if err := bucket.Put([]byte(entry.Key), data); err != nil {
			return fmt.Errorf("failed to save entry: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}

// GetEntry retrieves a cache entry by key.
// Expiry is not checked here, only physical presence.
func (s *Storage) GetEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var entry *models.CacheEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCache)
		if bucket == nil {
			return storage.ErrEntryNotFound
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return storage.ErrEntryNotFound
		}

		// Десериализуем
		entry = &models.CacheEntry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return fmt.Errorf("failed to unmarshal entry: %w", err)
		}

		return nil
	})

	if err != nil {
		if errors.Is(err, storage.ErrEntryNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return entry, nil
}

// DeleteEntry removes a cache entry by key (idempotent)
func (s *Storage) DeleteEntry(ctx context.Context, key string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCache)
		if bucket == nil {
			return nil
		}

		return bucket.Delete([]byte(key))
	})

	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}

// DeleteAllEntries removes every cache entry
func (s *Storage) DeleteAllEntries(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		// Удаляем bucket полностью
		if err := tx.DeleteBucket(bucketCache); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete bucket: %w", err)
		}

		// Создаем заново пустой bucket
		if _, err := tx.CreateBucket(bucketCache); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}

// ScanEntries iterates over all cache entries in key order
func (s *Storage) ScanEntries(ctx context.Context, fn func(entry *models.CacheEntry) bool) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	errStop := errors.New("scan stopped")

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCache)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var entry models.CacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal entry: %w", err)
			}

			if !fn(&entry) {
				return errStop
			}

			return nil
		})
	})

	if err != nil && !errors.Is(err, errStop) {
		return fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}
