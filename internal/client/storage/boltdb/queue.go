package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

// opKey кодирует id операции в 8 байт BigEndian.
// BigEndian сохраняет числовой порядок при обходе bucket курсором.
func opKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// Enqueue assigns the next monotonic id and persists the operation.
// The operation is durable once Enqueue returns without error.
func (s *Storage) Enqueue(ctx context.Context, draft *models.OperationDraft) (*models.QueuedOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("invalid operation draft: %w", err)
	}

	op := &models.QueuedOperation{
		ClientID:  uuid.New().String(),
		Type:      draft.Type,
		Endpoint:  draft.Endpoint,
		Method:    draft.Method,
		Payload:   draft.Payload,
		CreatedAt: time.Now().UnixMilli(),
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket not found")
		}

		// NextSequence монотонно возрастает и не переиспользуется
		// после удаления записей
		id, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		op.ID = id

		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to marshal operation: %w", err)
		}

		if err := bucket.Put(opKey(op.ID), data); err != nil {
			return fmt.Errorf("failed to save operation: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return op, nil
}

// ListPending returns all pending operations sorted ascending by id
func (s *Storage) ListPending(ctx context.Context) ([]*models.QueuedOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var ops []*models.QueuedOperation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}

		// ForEach обходит ключи в байтовом порядке, который для
		// BigEndian ключей совпадает с порядком постановки в очередь
		return bucket.ForEach(func(k, v []byte) error {
			var op models.QueuedOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal operation: %w", err)
			}
			ops = append(ops, &op)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return ops, nil
}

// GetOperation retrieves a single operation by id
func (s *Storage) GetOperation(ctx context.Context, id uint64) (*models.QueuedOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var op *models.QueuedOperation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return storage.ErrOperationNotFound
		}

		data := bucket.Get(opKey(id))
		if data == nil {
			return storage.ErrOperationNotFound
		}

		op = &models.QueuedOperation{}
		if err := json.Unmarshal(data, op); err != nil {
			return fmt.Errorf("failed to unmarshal operation: %w", err)
		}

		return nil
	})

	if err != nil {
		if errors.Is(err, storage.ErrOperationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return op, nil
}

// Remove deletes an operation by id (idempotent)
func (s *Storage) Remove(ctx context.Context, id uint64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}

		return bucket.Delete(opKey(id))
	})

	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}

// RecordFailure increments RetryCount and stores the failure reason
func (s *Storage) RecordFailure(ctx context.Context, id uint64, errMsg string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return storage.ErrOperationNotFound
		}

		data := bucket.Get(opKey(id))
		if data == nil {
			return storage.ErrOperationNotFound
		}

		var op models.QueuedOperation
		if err := json.Unmarshal(data, &op); err != nil {
			return fmt.Errorf("failed to unmarshal operation: %w", err)
		}

		op.RetryCount++
		op.LastError = errMsg

		updated, err := json.Marshal(&op)
		if err != nil {
			return fmt.Errorf("failed to marshal updated operation: %w", err)
		}

		if err := bucket.Put(opKey(id), updated); err != nil {
			return fmt.Errorf("failed to save updated operation: %w", err)
		}

		return nil
	})

	if err != nil {
		if errors.Is(err, storage.ErrOperationNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}

// Count returns the number of pending operations.
// Использует статистику bucket, payload не десериализуется.
func (s *Storage) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var count int

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}

		count = bucket.Stats().KeyN
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return count, nil
}

// Prune removes operations whose RetryCount >= maxRetries and returns them
func (s *Storage) Prune(ctx context.Context, maxRetries int) ([]*models.QueuedOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var pruned []*models.QueuedOperation

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return nil
		}

		// Сначала собираем кандидатов: удалять внутри ForEach нельзя
		var keys [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var op models.QueuedOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal operation: %w", err)
			}

			if op.RetryCount >= maxRetries {
				pruned = append(pruned, &op)
				key := make([]byte, len(k))
				copy(key, k)
				keys = append(keys, key)
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete pruned operation: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
	}

	return pruned, nil
}
