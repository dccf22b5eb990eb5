package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/iudanet/fieldsync/internal/client/api"
	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

//go:generate moq -out service_mock.go . Service

// Service определяет интерфейс драйвера синхронизации
type Service interface {
	// SyncNow выполняет один проход по очереди против реальной сети.
	// Безопасен при конкурентных вызовах: пока проход идет, повторный
	// вызов — no-op со статусом InProgress.
	SyncNow(ctx context.Context) (*Result, error)

	// PendingCount возвращает количество операций, ожидающих отправки
	PendingCount(ctx context.Context) (int, error)
}

//go:generate moq -out notifier_mock.go . Notifier

// Notifier доставляет пользователю события очереди вне основного потока
// вызова. Брошенные операции обязаны доходить до пользователя: молчаливая
// потеря данных — главный отказ, которого этот слой обязан избегать.
type Notifier interface {
	// OperationQueued вызывается когда операция поставлена в очередь
	OperationQueued(op *models.QueuedOperation)

	// OperationSynced вызывается после успешного повтора операции
	OperationSynced(op *models.QueuedOperation)

	// OperationAbandoned вызывается когда операция навсегда удалена из
	// очереди: окончательный отказ сервера или исчерпание повторов
	OperationAbandoned(op *models.QueuedOperation, reason string)
}

// Result contains the outcome of one drain pass
type Result struct {
	Abandoned  []*models.QueuedOperation // операции, навсегда удаленные в этом проходе
	Synced     int                       // успешно отправленные операции
	Failed     int                       // неудачи этого прохода (включая остановившую его)
	Pending    int                       // операции, оставшиеся в очереди
	InProgress bool                      // true если другой проход уже шел и этот вызов был no-op
}

// service handles draining the sync queue against the network
type service struct {
	apiClient  api.ClientAPI
	queue      storage.QueueStorage
	notifier   Notifier
	logger     *slog.Logger
	maxRetries int
	inFlight   atomic.Bool
}

// NewService creates a new sync driver
func NewService(apiClient api.ClientAPI, queue storage.QueueStorage, notifier Notifier, maxRetries int, logger *slog.Logger) Service {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &service{
		apiClient:  apiClient,
		queue:      queue,
		notifier:   notifier,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// SyncNow performs one drain pass over the queue
// 1. Snapshots the pending operations
// 2. Dispatches them strictly sequentially in enqueue order
// 3. Prunes operations that exhausted their retry budget
func (s *service) SyncNow(ctx context.Context) (*Result, error) {
	// Эксклюзивный флаг прохода: два триггера (кнопка «sync now» и
	// событие reconnect) не должны чередовать свои отправки
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("drain already in progress, skipping")
		pending, _ := s.PendingCount(ctx)
		return &Result{InProgress: true, Pending: pending}, nil
	}
	defer s.inFlight.Store(false)

	result := &Result{}

	ops, err := s.queue.ListPending(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrStorageUnavailable) {
			// Хранилище отвалилось: деградируем до пустой очереди,
			// следующий триггер попробует снова
			s.logger.Warn("queue storage unavailable, skipping drain", "error", err)
			return result, nil
		}
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}

	if len(ops) == 0 {
		return result, nil
	}

	s.logger.Info("starting drain", "pending", len(ops))

	// Строго последовательно и строго в порядке постановки: поздняя
	// операция может зависеть от эффектов ранней (create раньше update)
	for _, op := range ops {
		err := s.apiClient.Dispatch(ctx, op)
		if err == nil {
			if removeErr := s.queue.Remove(ctx, op.ID); removeErr != nil {
				s.logger.Warn("failed to remove synced operation",
					"id", op.ID,
					"error", removeErr)
			}
			result.Synced++
			s.notifier.OperationSynced(op)
			continue
		}

		result.Failed++

		if api.IsRejection(err) {
			// Окончательный отказ сервера: повтор не изменит исход,
			// а висящая операция заблокировала бы всю очередь за ней.
			// Удаляем сразу и сообщаем о безвозвратной потере.
			s.logger.Warn("operation rejected by server",
				"id", op.ID,
				"endpoint", op.Endpoint,
				"error", err)
			if removeErr := s.queue.Remove(ctx, op.ID); removeErr != nil {
				s.logger.Warn("failed to remove rejected operation",
					"id", op.ID,
					"error", removeErr)
			}
			result.Abandoned = append(result.Abandoned, op)
			s.notifier.OperationAbandoned(op, err.Error())
			continue
		}

		// Сбой связности: фиксируем неудачу и останавливаем проход,
		// чтобы не переупорядочивать отправки относительно еще
		// сломанной сети
		s.logger.Info("connectivity failure, halting drain pass",
			"id", op.ID,
			"retry_count", op.RetryCount+1,
			"error", err)
		if recErr := s.queue.RecordFailure(ctx, op.ID, err.Error()); recErr != nil {
			s.logger.Warn("failed to record operation failure",
				"id", op.ID,
				"error", recErr)
		}
		break
	}

	// Убираем операции, исчерпавшие бюджет повторов
	pruned, err := s.queue.Prune(ctx, s.maxRetries)
	if err != nil {
		s.logger.Warn("failed to prune exhausted operations", "error", err)
	}
	for _, op := range pruned {
		s.logger.Warn("operation abandoned after retry ceiling",
			"id", op.ID,
			"endpoint", op.Endpoint,
			"retry_count", op.RetryCount,
			"last_error", op.LastError)
		result.Abandoned = append(result.Abandoned, op)
		s.notifier.OperationAbandoned(op, fmt.Sprintf("gave up after %d attempts: %s", op.RetryCount, op.LastError))
	}

	pending, err := s.queue.Count(ctx)
	if err != nil {
		s.logger.Warn("failed to count pending operations", "error", err)
	}
	result.Pending = pending

	s.logger.Info("drain completed",
		"synced", result.Synced,
		"failed", result.Failed,
		"abandoned", len(result.Abandoned),
		"pending", result.Pending)

	return result, nil
}

// PendingCount возвращает количество операций в очереди.
// Отказ хранилища деградирует до нуля: бейдж в UI не повод ронять экран.
func (s *service) PendingCount(ctx context.Context) (int, error) {
	count, err := s.queue.Count(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrStorageUnavailable) {
			s.logger.Warn("queue storage unavailable, reporting zero pending", "error", err)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}
