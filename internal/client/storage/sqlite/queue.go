package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

// Enqueue assigns the next monotonic id and persists the operation.
// AUTOINCREMENT гарантирует, что id не переиспользуются после удаления.
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

	query := `
		INSERT INTO sync_queue (client_id, type, endpoint, method, payload, created_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, 0, '')
	`

	result, err := s.db.ExecContext(ctx, query,
		op.ClientID,
		op.Type,
		op.Endpoint,
		op.Method,
		[]byte(op.Payload),
		op.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enqueue operation: %w", storage.ErrStorageUnavailable, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get operation id: %w", storage.ErrStorageUnavailable, err)
	}
	op.ID = uint64(id)

	return op, nil
}

// ListPending returns all pending operations sorted ascending by id
func (s *Storage) ListPending(ctx context.Context) ([]*models.QueuedOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	query := `
		SELECT id, client_id, type, endpoint, method, payload, created_at, retry_count, last_error
		FROM sync_queue
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list operations: %w", storage.ErrStorageUnavailable, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ops []*models.QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows iteration failed: %w", storage.ErrStorageUnavailable, err)
	}

	return ops, nil
}

// GetOperation retrieves a single operation by id
func (s *Storage) GetOperation(ctx context.Context, id uint64) (*models.QueuedOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	query := `
		SELECT id, client_id, type, endpoint, method, payload, created_at, retry_count, last_error
		FROM sync_queue
		WHERE id = ?
	`

	op, err := scanOperation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrOperationNotFound
		}
		return nil, fmt.Errorf("%w: failed to get operation: %w", storage.ErrStorageUnavailable, err)
	}

	return op, nil
}

// Remove deletes an operation by id (idempotent)
func (s *Storage) Remove(ctx context.Context, id uint64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: failed to remove operation: %w", storage.ErrStorageUnavailable, err)
	}

	return nil
}

// RecordFailure increments RetryCount and stores the failure reason
func (s *Storage) RecordFailure(ctx context.Context, id uint64, errMsg string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	query := `
		UPDATE sync_queue
		SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, errMsg, id)
	if err != nil {
		return fmt.Errorf("%w: failed to record failure: %w", storage.ErrStorageUnavailable, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to check affected rows: %w", storage.ErrStorageUnavailable, err)
	}
	if affected == 0 {
		return storage.ErrOperationNotFound
	}

	return nil
}

// Count returns the number of pending operations without reading payloads
func (s *Storage) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count operations: %w", storage.ErrStorageUnavailable, err)
	}

	return count, nil
}

// Prune removes operations whose RetryCount >= maxRetries and returns them
func (s *Storage) Prune(ctx context.Context, maxRetries int) ([]*models.QueuedOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	// Сначала читаем обреченные операции: их нужно вернуть вызывающему
	// для отчета, молча терять данные нельзя
	query := `
		SELECT id, client_id, type, endpoint, method, payload, created_at, retry_count, last_error
		FROM sync_queue
		WHERE retry_count >= ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select pruned operations: %w", storage.ErrStorageUnavailable, err)
	}

	var pruned []*models.QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
		}
		pruned = append(pruned, op)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("%w: rows iteration failed: %w", storage.ErrStorageUnavailable, err)
	}
	_ = rows.Close()

	if len(pruned) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE retry_count >= ?`, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to delete pruned operations: %w", storage.ErrStorageUnavailable, err)
	}

	return pruned, nil
}

// scanner покрывает *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*models.QueuedOperation, error) {
	op := &models.QueuedOperation{}
	var payload []byte

	err := row.Scan(
		&op.ID,
		&op.ClientID,
		&op.Type,
		&op.Endpoint,
		&op.Method,
		&payload,
		&op.CreatedAt,
		&op.RetryCount,
		&op.LastError,
	)
	if err != nil {
		return nil, err
	}

	op.Payload = payload
	return op, nil
}
