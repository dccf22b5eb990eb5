// Package api содержит wire-типы, общие для клиента и backend.
package api

// ErrorResponse представляет ответ backend с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}

// SyncSummary представляет итог одного прохода синхронизации.
// Отдается приложению после ручного или автоматического drain.
type SyncSummary struct {
	Synced  int `json:"synced"`  // успешно отправленные операции
	Failed  int `json:"failed"`  // операции, завершившиеся неудачей в этом проходе
	Pending int `json:"pending"` // операции, оставшиеся в очереди
}
