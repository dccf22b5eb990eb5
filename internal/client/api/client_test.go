package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/models"
)

func testOp(endpoint string) *models.QueuedOperation {
	return &models.QueuedOperation{
		ID:       1,
		ClientID: "client-uuid-1",
		Type:     "approve",
		Endpoint: endpoint,
		Method:   models.MethodPost,
		Payload:  json.RawMessage(`{"ok":true}`),
	}
}

func TestClient_Dispatch_Success(t *testing.T) {
	var gotMethod, gotPath, gotKey, gotBody, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")

		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithTokenSource(func(ctx context.Context) (string, error) {
		return "test-token", nil
	}))

	err := client.Dispatch(context.Background(), testOp("/defects/42/approve"))
	require.NoError(t, err)

	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "/defects/42/approve", gotPath)
	assert.Equal(t, "client-uuid-1", gotKey)
	assert.JSONEq(t, `{"ok":true}`, gotBody)
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestClient_Dispatch_Rejection(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"validation failed","message":"defect already approved"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	err := client.Dispatch(context.Background(), testOp("/defects/42/approve"))
	require.Error(t, err)

	assert.True(t, IsRejection(err))
	assert.False(t, IsConnectivity(err))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Code)
	assert.Contains(t, statusErr.Message, "validation failed")

	// Окончательный отказ не повторяется внутри Dispatch
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Dispatch_ServerError_IsConnectivity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL)

	err := client.Dispatch(context.Background(), testOp("/a"))
	require.Error(t, err)
	assert.True(t, IsConnectivity(err))
	assert.False(t, IsRejection(err))
}

func TestClient_Dispatch_Unreachable(t *testing.T) {
	// Закрытый сервер гарантирует connection refused
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL)

	err := client.Dispatch(context.Background(), testOp("/a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, IsConnectivity(err))
}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/inspections", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	got, err := client.Fetch(context.Background(), "/inspections")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1},{"id":2}]`, string(got))
}

func TestClient_Ping(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	require.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "/api/v1/health", path)

	server.Close()
	assert.Error(t, client.Ping(context.Background()))
}

func TestStatusError_Temporary(t *testing.T) {
	tests := []struct {
		name string
		code int
		want bool
	}{
		{name: "internal error", code: 500, want: true},
		{name: "bad gateway", code: 502, want: true},
		{name: "too many requests", code: 429, want: true},
		{name: "bad request", code: 400, want: false},
		{name: "not found", code: 404, want: false},
		{name: "conflict", code: 409, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &StatusError{Code: tt.code}
			assert.Equal(t, tt.want, err.Temporary())
		})
	}
}
