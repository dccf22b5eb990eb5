package offline

import (
	"log/slog"

	"github.com/iudanet/fieldsync/internal/models"
)

// LogNotifier — notifier по умолчанию: пишет события очереди в лог.
// Приложение подменяет его своей реализацией (toast, push, badge).
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a slog-backed notifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// OperationQueued сообщает, что действие отложено до появления сети
func (n *LogNotifier) OperationQueued(op *models.QueuedOperation) {
	n.logger.Info("operation queued for sync",
		"id", op.ID,
		"type", op.Type,
		"endpoint", op.Endpoint)
}

// OperationSynced сообщает об успешном повторе
func (n *LogNotifier) OperationSynced(op *models.QueuedOperation) {
	n.logger.Info("operation synced",
		"id", op.ID,
		"type", op.Type,
		"endpoint", op.Endpoint)
}

// OperationAbandoned сообщает о безвозвратной потере операции.
// Это единственное место, где возможна видимая пользователю потеря
// данных, поэтому уровень Error.
func (n *LogNotifier) OperationAbandoned(op *models.QueuedOperation, reason string) {
	n.logger.Error("operation abandoned, data was not synced",
		"id", op.ID,
		"type", op.Type,
		"endpoint", op.Endpoint,
		"reason", reason)
}
