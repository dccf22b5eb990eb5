package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/fieldsync/internal/client/api"
	"github.com/iudanet/fieldsync/internal/models"
	pkgapi "github.com/iudanet/fieldsync/pkg/api"
)

// FetchFunc выполняет реальное сетевое чтение.
// Передается вызывающим кодом: фасад не знает про конкретные endpoints.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// MutationResult представляет исход записи через фасад
type MutationResult struct {
	OperationID uint64 `json:"operation_id"` // OperationID id в очереди, 0 если операция ушла напрямую
	Queued      bool   `json:"queued"`       // Queued true если операция отложена до появления сети
}

// Query выполняет чтение с fallback на кэш.
// Online: сетевое чтение, успех кладется в кэш с заданным ttl
// (ttl <= 0 — не истекает); при сбое связности отдается stale кэш.
// Offline: сеть не трогается вовсе, отдается кэш или ErrNoCachedData.
func (s *Session) Query(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (json.RawMessage, error) {
	if !s.monitor.Online() {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("offline cache read failed: %w", err)
		}
		if cached == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoCachedData, key)
		}
		return cached, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		if api.IsConnectivity(err) {
			// Сеть оказалась хуже, чем думал монитор: сообщаем ему
			// и пробуем отдать stale данные
			s.monitor.Report(false)

			cached, cacheErr := s.cache.Get(ctx, key)
			if cacheErr == nil && cached != nil {
				s.logger.Debug("serving stale cache after fetch failure",
					"key", key,
					"error", err)
				return cached, nil
			}
		}
		return nil, err
	}

	if cacheErr := s.cache.Set(ctx, key, value, ttl); cacheErr != nil {
		// Неудачная запись в кэш не портит успешное чтение
		s.logger.Warn("failed to cache fetched value", "key", key, "error", cacheErr)
	}

	return value, nil
}

// Mutate выполняет запись: напрямую при живой сети, через очередь при
// ее отсутствии. Endpoint и payload в draft уже материализованы, поэтому
// операция переживает перезапуск процесса.
func (s *Session) Mutate(ctx context.Context, draft *models.OperationDraft) (*MutationResult, error) {
	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mutation: %w", err)
	}

	if s.monitor.Online() {
		op := &models.QueuedOperation{
			ClientID:  uuid.New().String(),
			Type:      draft.Type,
			Endpoint:  draft.Endpoint,
			Method:    draft.Method,
			Payload:   draft.Payload,
			CreatedAt: time.Now().UnixMilli(),
		}

		err := s.api.Dispatch(ctx, op)
		if err == nil {
			return &MutationResult{}, nil
		}
		if api.IsRejection(err) {
			// Сервер окончательно отказал: очередь не спасет
			return nil, err
		}

		// Сбой связности по дороге: монитор отстал от реальности.
		// Сообщаем ему и откатываемся на очередь.
		s.logger.Info("dispatch failed, falling back to queue",
			"endpoint", draft.Endpoint,
			"error", err)
		s.monitor.Report(false)
	}

	return s.QueueMutation(ctx, draft)
}

// QueueMutation ставит запись в очередь независимо от состояния сети.
// Для потоков, которые явно выбирают отложенную семантику.
func (s *Session) QueueMutation(ctx context.Context, draft *models.OperationDraft) (*MutationResult, error) {
	op, err := s.queue.Enqueue(ctx, draft)
	if err != nil {
		// Отказ хранилища не должен ронять действие пользователя:
		// сообщаем о потере через notifier и отдаем оптимистичный
		// результат, как и при обычной постановке в очередь
		s.logger.Error("failed to enqueue mutation, data will not be synced",
			"endpoint", draft.Endpoint,
			"error", err)
		lost := &models.QueuedOperation{
			Type:      draft.Type,
			Endpoint:  draft.Endpoint,
			Method:    draft.Method,
			Payload:   draft.Payload,
			CreatedAt: time.Now().UnixMilli(),
		}
		s.notifier.OperationAbandoned(lost, fmt.Sprintf("failed to queue: %v", err))
		return &MutationResult{Queued: true}, nil
	}

	s.notifier.OperationQueued(op)
	return &MutationResult{Queued: true, OperationID: op.ID}, nil
}

// SyncNow запускает ручной drain; безопасен при избыточных вызовах
func (s *Session) SyncNow(ctx context.Context) (*pkgapi.SyncSummary, error) {
	result, err := s.driver.SyncNow(ctx)
	if err != nil {
		return nil, err
	}
	return &pkgapi.SyncSummary{
		Synced:  result.Synced,
		Failed:  result.Failed,
		Pending: result.Pending,
	}, nil
}

// PendingCount возвращает количество операций в очереди (для бейджа в UI)
func (s *Session) PendingCount(ctx context.Context) (int, error) {
	return s.driver.PendingCount(ctx)
}

// ListPending возвращает снимок очереди для экранов диагностики
func (s *Session) ListPending(ctx context.Context) ([]*models.QueuedOperation, error) {
	return s.queue.ListPending(ctx)
}
