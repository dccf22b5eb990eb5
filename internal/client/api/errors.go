package api

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnreachable indicates a transport-level failure: the server could
// not be reached at all (DNS, connect, TLS, timeout).
var ErrUnreachable = errors.New("server unreachable")

// StatusError представляет ответ сервера с не-2xx статусом
type StatusError struct {
	Message string // Message текст ошибки из тела ответа
	Code    int    // Code HTTP статус
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (%d)", e.Code)
	}
	return fmt.Sprintf("server error (%d): %s", e.Code, e.Message)
}

// Temporary сообщает, имеет ли смысл повторять запрос.
// 5xx и 429 — временные состояния сервера, остальные 4xx — окончательный
// отказ, который повтором не исправить.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 429
}

// IsConnectivity reports whether err is a connectivity-class failure:
// transport errors, timeouts and temporary server statuses. Such
// failures are retried on the next drain pass.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrUnreachable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	return false
}

// IsRejection reports whether err is a definitive application-level
// rejection (validation failure and the like). Retrying cannot change
// the outcome, so such operations are pruned immediately.
func IsRejection(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return !statusErr.Temporary()
	}
	return false
}
