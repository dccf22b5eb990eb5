package storage

import (
	"context"

	"github.com/iudanet/fieldsync/internal/models"
)

//go:generate moq -out queuestorage_mock.go . QueueStorage

// QueueStorage defines interface for the durable sync queue collection.
// Порядок постановки в очередь — единственный допустимый порядок повтора,
// поэтому идентификаторы монотонно возрастают и выдаются самим хранилищем.
type QueueStorage interface {
	// Enqueue assigns the next monotonic id, stamps CreatedAt and a fresh
	// ClientID, persists the operation and returns it. The operation is
	// durable once Enqueue returns without error.
	Enqueue(ctx context.Context, draft *models.OperationDraft) (*models.QueuedOperation, error)

	// ListPending returns a complete snapshot of pending operations
	// sorted ascending by id (== enqueue order)
	ListPending(ctx context.Context) ([]*models.QueuedOperation, error)

	// GetOperation retrieves a single operation by id
	// Returns ErrOperationNotFound if it doesn't exist
	GetOperation(ctx context.Context, id uint64) (*models.QueuedOperation, error)

	// Remove deletes an operation by id
	// Removing a missing operation is not an error (idempotent)
	Remove(ctx context.Context, id uint64) error

	// RecordFailure increments RetryCount and stores the failure reason,
	// leaving the operation in place
	RecordFailure(ctx context.Context, id uint64, errMsg string) error

	// Count returns the number of pending operations without
	// deserializing payloads. Used for UI badges.
	Count(ctx context.Context) (int, error)

	// Prune removes operations whose RetryCount >= maxRetries and returns
	// them so the caller can report the abandoned data. Never discard the
	// result silently.
	Prune(ctx context.Context, maxRetries int) ([]*models.QueuedOperation, error)
}
