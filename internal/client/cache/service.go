package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

//go:generate moq -out service_mock.go . Service

// Service определяет интерфейс read-through кэша с TTL.
// Сервис никогда не ходит в сеть сам: политика свежести (какой TTL,
// когда перечитывать) — ответственность вызывающего кода.
type Service interface {
	// Get возвращает значение по ключу или nil, если записи нет
	// или она истекла (истекшая запись лениво удаляется)
	Get(ctx context.Context, key string) (json.RawMessage, error)

	// Set сохраняет значение с TTL; ttl <= 0 означает «не истекает».
	// Существующая запись перезаписывается безусловно.
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error

	// Invalidate удаляет запись по ключу
	Invalidate(ctx context.Context, key string) error

	// InvalidateAll удаляет все записи кэша
	InvalidateAll(ctx context.Context) error

	// SweepExpired удаляет все истекшие записи и возвращает их количество.
	// Предназначен для запуска при старте процесса и опционально по таймеру.
	SweepExpired(ctx context.Context) (int, error)
}

type service struct {
	store  storage.CacheStorage
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new cache service
func NewService(store storage.CacheStorage, logger *slog.Logger) Service {
	return &service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// NewServiceWithClock creates a cache service with an injectable clock.
// Используется в тестах для проверки TTL без реального ожидания.
func NewServiceWithClock(store storage.CacheStorage, logger *slog.Logger, now func() time.Time) Service {
	return &service{
		store:  store,
		logger: logger,
		now:    now,
	}
}

// Get возвращает значение по ключу с проверкой TTL
func (s *service) Get(ctx context.Context, key string) (json.RawMessage, error) {
	entry, err := s.store.GetEntry(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrEntryNotFound) {
			return nil, nil
		}
		if errors.Is(err, storage.ErrStorageUnavailable) {
			// Деградируем до промаха кэша: отказ хранилища не должен
			// ронять путь чтения
			s.logger.Warn("cache storage unavailable, treating as miss",
				"key", key,
				"error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	if entry.Expired(s.now().UnixMilli()) {
		// Ленивое вытеснение: истекшая запись физически удаляется
		// при первом обращении
		if err := s.store.DeleteEntry(ctx, key); err != nil {
			s.logger.Warn("failed to evict expired cache entry",
				"key", key,
				"error", err)
		}
		return nil, nil
	}

	return entry.Value, nil
}

// Set сохраняет значение с TTL
func (s *service) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	now := s.now()

	entry := &models.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now.UnixMilli(),
	}

	// ttl <= 0 означает «не истекает» (ExpiresAt = 0)
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl).UnixMilli()
	}

	if err := s.store.SaveEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}

	return nil
}

// Invalidate удаляет запись по ключу
func (s *service) Invalidate(ctx context.Context, key string) error {
	if err := s.store.DeleteEntry(ctx, key); err != nil {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	return nil
}

// InvalidateAll удаляет все записи кэша
func (s *service) InvalidateAll(ctx context.Context) error {
	if err := s.store.DeleteAllEntries(ctx); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// SweepExpired удаляет все истекшие записи
func (s *service) SweepExpired(ctx context.Context) (int, error) {
	nowMillis := s.now().UnixMilli()

	// Собираем ключи истекших записей
	var expired []string
	err := s.store.ScanEntries(ctx, func(entry *models.CacheEntry) bool {
		if entry.Expired(nowMillis) {
			expired = append(expired, entry.Key)
		}
		return true
	})
	if err != nil {
		if errors.Is(err, storage.ErrStorageUnavailable) {
			s.logger.Warn("cache storage unavailable, skipping sweep", "error", err)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan cache entries: %w", err)
	}

	removed := 0
	for _, key := range expired {
		if err := s.store.DeleteEntry(ctx, key); err != nil {
			s.logger.Warn("failed to delete expired cache entry",
				"key", key,
				"error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug("swept expired cache entries", "count", removed)
	}

	return removed, nil
}
