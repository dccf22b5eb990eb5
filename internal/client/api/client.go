package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/pkg/api"
)

//go:generate moq -out client_mock.go . ClientAPI

// ClientAPI определяет сетевой примитив, через который уходят и прямые
// записи, и повтор операций из очереди. Реализация обязана различать
// ошибки связности (ErrUnreachable, временные статусы) и окончательные
// отказы приложения (*StatusError с не-временным кодом).
type ClientAPI interface {
	// Dispatch отправляет одну операцию {method, endpoint, payload}
	Dispatch(ctx context.Context, op *models.QueuedOperation) error

	// Fetch выполняет GET запрос и возвращает тело ответа
	Fetch(ctx context.Context, endpoint string) (json.RawMessage, error)

	// Ping проверяет доступность сервера (используется монитором связности)
	Ping(ctx context.Context) error
}

// TokenSource supplies the bearer token attached to every request.
// Токен непрозрачен для этого слоя; аутентификация — забота приложения.
type TokenSource func(ctx context.Context) (string, error)

// Client представляет HTTP клиент для взаимодействия с backend
type Client struct {
	httpClient  *http.Client
	tokenSource TokenSource
	baseURL     string
	healthPath  string
}

// Option настраивает Client
type Option func(*Client)

// WithTimeout overrides the default request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithTokenSource sets the bearer token source
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokenSource = ts
	}
}

// WithHealthPath overrides the health-check path used by Ping
func WithHealthPath(path string) Option {
	return func(c *Client) {
		c.healthPath = path
	}
}

// NewClient создает новый API клиент
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		healthPath: "/api/v1/health",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Dispatch отправляет одну операцию на сервер.
// Кратковременные сбои транспорта повторяются с backoff внутри одной
// попытки; итоговая ошибка классифицируется вызывающим кодом через
// IsConnectivity/IsRejection.
func (c *Client) Dispatch(ctx context.Context, op *models.QueuedOperation) error {
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(200*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.doRequest(ctx, op.Method, op.Endpoint, op.Payload, op.ClientID, nil)
		if err == nil {
			return nil
		}
		// Повторяем только транспортные сбои: окончательный отказ
		// сервера повтором не исправить
		if IsRejection(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return fmt.Errorf("dispatch %s %s: %w", op.Method, op.Endpoint, err)
	}

	return nil
}

// Fetch выполняет GET запрос и возвращает тело ответа
func (c *Client) Fetch(ctx context.Context, endpoint string) (json.RawMessage, error) {
	var result json.RawMessage
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "", &result); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	return result, nil
}

// Ping проверяет доступность сервера. Короткий timeout: монитор связности
// не должен подолгу висеть на каждом probe.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		return &StatusError{Code: resp.StatusCode}
	}

	return nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body json.RawMessage, idempotencyKey string, result *json.RawMessage) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	// Idempotency key защищает от двойного применения при повторе
	// операции, чей первый запрос дошел до сервера, но ответ потерялся
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	if c.tokenSource != nil {
		token, err := c.tokenSource(ctx)
		if err != nil {
			return fmt.Errorf("failed to get auth token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Транспортный сбой: сервер недоступен
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %w", ErrUnreachable, err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			statusErr.Message = errResp.Error
			if errResp.Message != "" {
				statusErr.Message += ": " + errResp.Message
			}
		} else {
			statusErr.Message = string(respBody)
		}
		return statusErr
	}

	// Возвращаем успешный ответ как есть, без интерпретации
	if result != nil {
		*result = json.RawMessage(respBody)
	}

	return nil
}
