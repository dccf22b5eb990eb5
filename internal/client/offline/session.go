// Package offline предоставляет фасад, через который приложение выполняет
// чтения с fallback на кэш и записи с постановкой в очередь при отсутствии
// сети. Вся остальная часть слоя (хранилище, драйвер, монитор) скрыта за
// Session.
package offline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/fieldsync/internal/client/api"
	"github.com/iudanet/fieldsync/internal/client/cache"
	"github.com/iudanet/fieldsync/internal/client/netmon"
	"github.com/iudanet/fieldsync/internal/client/storage"
	syncsvc "github.com/iudanet/fieldsync/internal/client/sync"
)

// Store объединяет обе коллекции Durable Store.
// Оба адаптера (boltdb, sqlite) реализуют его целиком.
type Store interface {
	storage.CacheStorage
	storage.QueueStorage
}

// Options настраивает поведение сессии
type Options struct {
	// MaxRetries потолок повторов операции до ее принудительного
	// удаления из очереди
	MaxRetries int

	// SweepInterval период фонового вытеснения истекшего кэша;
	// 0 отключает фоновые sweep (остается sweep при Init)
	SweepInterval time.Duration

	// DrainInterval период фонового drain в дополнение к событию
	// reconnect; 0 отключает периодический drain
	DrainInterval time.Duration
}

// Session — явно конструируемый контекст offline-слоя с управляемым
// жизненным циклом. Никакого глобального состояния: тесты создают
// независимые экземпляры без взаимных утечек.
type Session struct {
	cache    cache.Service
	queue    storage.QueueStorage
	driver   syncsvc.Service
	monitor  *netmon.Monitor
	api      api.ClientAPI
	notifier syncsvc.Notifier
	logger   *slog.Logger
	stop     chan struct{}
	opts     Options
	mu       sync.Mutex
	started  bool
	closed   bool
}

// NewSession собирает сессию из явных зависимостей.
// Хранилище открывает и закрывает вызывающий код (как и клиент API);
// nil notifier заменяется на LogNotifier.
func NewSession(apiClient api.ClientAPI, store Store, monitor *netmon.Monitor, notifier syncsvc.Notifier, opts Options, logger *slog.Logger) *Session {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	return &Session{
		cache:    cache.NewService(store, logger),
		queue:    store,
		driver:   syncsvc.NewService(apiClient, store, notifier, opts.MaxRetries, logger),
		monitor:  monitor,
		api:      apiClient,
		notifier: notifier,
		logger:   logger,
		stop:     make(chan struct{}),
		opts:     opts,
	}
}

// Init подготавливает сессию: выметает истекший кэш, запускает монитор
// связности и подписывает автоматический drain на событие reconnect.
// Повторный вызов — no-op.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	// Разовый sweep при старте процесса
	if removed, err := s.cache.SweepExpired(ctx); err != nil {
		s.logger.Warn("initial cache sweep failed", "error", err)
	} else if removed > 0 {
		s.logger.Info("initial cache sweep", "removed", removed)
	}

	// Автоматический drain при восстановлении связности: приложению
	// не нужно ничего вызывать
	s.monitor.OnReconnect(func() {
		go func() {
			if _, err := s.driver.SyncNow(context.Background()); err != nil {
				s.logger.Warn("reconnect drain failed", "error", err)
			}
		}()
	})
	s.monitor.Start(ctx)

	if s.opts.SweepInterval > 0 || s.opts.DrainInterval > 0 {
		go s.background(ctx)
	}

	return nil
}

// Close останавливает фоновые горутины и монитор связности.
// Хранилище не закрывает: оно принадлежит вызывающему коду.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.started {
		s.monitor.Stop()
		close(s.stop)
	}
	return nil
}

// background гоняет опциональные периодические sweep и drain
func (s *Session) background(ctx context.Context) {
	var sweepC, drainC <-chan time.Time

	if s.opts.SweepInterval > 0 {
		sweep := time.NewTicker(s.opts.SweepInterval)
		defer sweep.Stop()
		sweepC = sweep.C
	}
	if s.opts.DrainInterval > 0 {
		drain := time.NewTicker(s.opts.DrainInterval)
		defer drain.Stop()
		drainC = drain.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-sweepC:
			if _, err := s.cache.SweepExpired(ctx); err != nil {
				s.logger.Warn("periodic cache sweep failed", "error", err)
			}
		case <-drainC:
			// Drain имеет смысл только при живой сети
			if !s.monitor.Online() {
				continue
			}
			if _, err := s.driver.SyncNow(ctx); err != nil {
				s.logger.Warn("periodic drain failed", "error", err)
			}
		}
	}
}

// Online возвращает текущее состояние связности
func (s *Session) Online() bool {
	return s.monitor.Online()
}

// Cache открывает доступ к кэш-сервису (invalidate по ключу и т.п.)
func (s *Session) Cache() cache.Service {
	return s.cache
}
