// Package netmon отслеживает переходы достижимости сети и поднимает
// edge-triggered событие ровно один раз на переход. Без этой защиты
// нестабильная связь запускала бы избыточные параллельные drains очереди.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe сообщает, достижим ли сервер прямо сейчас.
// Это не просто «есть линк»: probe должен доходить до backend
// (например, HEAD на health endpoint).
type Probe func(ctx context.Context) bool

// Handler вызывается на переходе состояния
type Handler func()

// Monitor представляет монитор связности с двумя состояниями.
// Потокобезопасен; обработчики вызываются синхронно в горутине,
// зафиксировавшей переход.
type Monitor struct {
	probe        Probe
	logger       *slog.Logger
	stop         chan struct{}
	onReconnect  []Handler
	onDisconnect []Handler
	interval     time.Duration
	mu           sync.Mutex
	online       bool
	started      bool
}

// New creates a connectivity monitor.
// Начальное состояние — offline до первого успешного probe; Start
// выполняет первый probe немедленно.
func New(probe Probe, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// OnReconnect registers a handler fired once per OFFLINE → ONLINE transition.
// Должен вызываться до Start.
func (m *Monitor) OnReconnect(fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// OnDisconnect registers a handler fired once per ONLINE → OFFLINE transition
func (m *Monitor) OnDisconnect(fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, fn)
}

// Online returns the current connectivity state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Start снимает начальное состояние и запускает периодический probe.
// Повторный вызов — no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	// Начальное состояние выставляем без событий: переходов еще не было
	m.online = m.probe(ctx)
	online := m.online
	m.mu.Unlock()

	m.logger.Info("connectivity monitor started", "online", online)

	go m.loop(ctx)
}

// Stop останавливает периодический probe
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stop)
}

// Report принимает внешний сигнал достижимости (платформенный callback,
// результат реального запроса) и применяет переход состояния.
func (m *Monitor) Report(online bool) {
	m.transition(online)
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.transition(m.probe(ctx))
		}
	}
}

// transition применяет новое наблюдение и вызывает обработчики только
// на реальной смене состояния. Повторные сигналы в том же состоянии
// (flapping) событий не порождают.
func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	if online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online

	var handlers []Handler
	if online {
		handlers = append(handlers, m.onReconnect...)
	} else {
		handlers = append(handlers, m.onDisconnect...)
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("connectivity restored")
	} else {
		m.logger.Info("connectivity lost")
	}

	for _, fn := range handlers {
		fn()
	}
}
