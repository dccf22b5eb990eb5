package models

import (
	"encoding/json"
	"fmt"
)

// Допустимые HTTP методы для отложенных операций записи.
// GET намеренно отсутствует: чтение никогда не ставится в очередь.
const (
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"
)

// OperationDraft представляет операцию записи до постановки в очередь.
// Endpoint и Payload должны быть вычислены заранее: контекст вызова
// (аргументы функции, замыкания) не переживает перезапуск процесса.
type OperationDraft struct {
	Type     string          `json:"type"`     // Type категория операции (для UI и фильтрации, не для диспетчеризации)
	Endpoint string          `json:"endpoint"` // Endpoint путь ресурса, уже раскрытый из аргументов вызова
	Method   string          `json:"method"`   // Method HTTP метод повтора (POST/PUT/PATCH/DELETE)
	Payload  json.RawMessage `json:"payload"`  // Payload уже сериализованное тело запроса
}

// Validate проверяет, что draft пригоден для постановки в очередь
func (d *OperationDraft) Validate() error {
	if d.Endpoint == "" {
		return fmt.Errorf("operation endpoint is required")
	}

	switch d.Method {
	case MethodPost, MethodPut, MethodPatch, MethodDelete:
	default:
		return fmt.Errorf("unsupported operation method %q", d.Method)
	}

	return nil
}

// QueuedOperation представляет операцию записи, ожидающую повтора.
// ID монотонно возрастает и задает единственно допустимый порядок повтора:
// операции никогда не переупорядочиваются и не выполняются параллельно.
type QueuedOperation struct {
	ClientID   string          `json:"client_id"`            // ClientID UUID операции, используется как idempotency key при повторе
	Type       string          `json:"type"`                 // Type категория операции
	Endpoint   string          `json:"endpoint"`             // Endpoint путь ресурса
	Method     string          `json:"method"`               // Method HTTP метод
	LastError  string          `json:"last_error,omitempty"` // LastError причина последней неудачи (для диагностики)
	Payload    json.RawMessage `json:"payload"`              // Payload тело запроса
	ID         uint64          `json:"id"`                   // ID локальный монотонный идентификатор (порядок повтора)
	CreatedAt  int64           `json:"created_at"`           // CreatedAt unix миллисекунды постановки в очередь
	RetryCount int             `json:"retry_count"`          // RetryCount количество неудачных попыток повтора
}

// CacheEntry представляет одну запись read-кэша.
// Запись с истекшим ExpiresAt ведет себя как отсутствующая и физически
// удаляется при следующем обращении (ленивое вытеснение).
type CacheEntry struct {
	Key       string          `json:"key"`        // Key ключ записи, выбирается вызывающим кодом
	Value     json.RawMessage `json:"value"`      // Value сериализованное значение
	ExpiresAt int64           `json:"expires_at"` // ExpiresAt unix миллисекунды истечения, 0 — не истекает
	CreatedAt int64           `json:"created_at"` // CreatedAt unix миллисекунды последней записи
}

// Expired сообщает, истекла ли запись на момент nowMillis.
// Записи с ExpiresAt == 0 не истекают никогда.
func (e *CacheEntry) Expired(nowMillis int64) bool {
	return e.ExpiresAt > 0 && nowMillis >= e.ExpiresAt
}
