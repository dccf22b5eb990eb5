package offline

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/client/api"
	"github.com/iudanet/fieldsync/internal/client/netmon"
	"github.com/iudanet/fieldsync/internal/client/storage/boltdb"
	"github.com/iudanet/fieldsync/internal/models"
)

// fakeAPI записывает отправленные операции
type fakeAPI struct {
	respond    func(op *models.QueuedOperation) error
	mu         gosync.Mutex
	dispatched []*models.QueuedOperation
}

func (f *fakeAPI) Dispatch(ctx context.Context, op *models.QueuedOperation) error {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, op)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(op)
	}
	return nil
}

func (f *fakeAPI) Fetch(ctx context.Context, endpoint string) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeAPI) Ping(ctx context.Context) error {
	return nil
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

func (f *fakeAPI) last() *models.QueuedOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dispatched) == 0 {
		return nil
	}
	return f.dispatched[len(f.dispatched)-1]
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// createTestSession собирает сессию с управляемой связностью
func createTestSession(t *testing.T, apiClient *fakeAPI, online bool) (*Session, *netmon.Monitor, *atomic.Bool) {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	var probeOnline atomic.Bool
	probeOnline.Store(online)

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	monitor := netmon.New(func(ctx context.Context) bool {
		return probeOnline.Load()
	}, time.Hour, logger)

	session := NewSession(apiClient, store, monitor, nil, Options{MaxRetries: 5}, logger)
	require.NoError(t, session.Init(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, session.Close())
	})

	return session, monitor, &probeOnline
}

func TestSession_Query_OfflineCacheHit(t *testing.T) {
	session, _, _ := createTestSession(t, &fakeAPI{}, false)
	ctx := context.Background()

	require.NoError(t, session.Cache().Set(ctx, "inspections:list", json.RawMessage(`[1,2]`), 0))

	// Offline: сеть не трогается вовсе
	got, err := session.Query(ctx, "inspections:list", time.Minute, func(ctx context.Context) (json.RawMessage, error) {
		t.Fatal("fetch must not be called while offline")
		return nil, nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(got))
}

func TestSession_Query_OfflineNoCache(t *testing.T) {
	session, _, _ := createTestSession(t, &fakeAPI{}, false)

	_, err := session.Query(context.Background(), "missing", time.Minute, func(ctx context.Context) (json.RawMessage, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrNoCachedData)
}

func TestSession_Query_OnlinePopulatesCache(t *testing.T) {
	session, monitor, probe := createTestSession(t, &fakeAPI{}, true)
	ctx := context.Background()

	fetches := 0
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		fetches++
		return json.RawMessage(`{"fresh":true}`), nil
	}

	got, err := session.Query(ctx, "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fresh":true}`, string(got))
	assert.Equal(t, 1, fetches)

	// Уходим в offline: значение должно отдаться из кэша
	probe.Store(false)
	monitor.Report(false)

	got, err = session.Query(ctx, "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fresh":true}`, string(got))
	assert.Equal(t, 1, fetches)
}

func TestSession_Query_StaleFallbackOnFetchFailure(t *testing.T) {
	session, monitor, _ := createTestSession(t, &fakeAPI{}, true)
	ctx := context.Background()

	require.NoError(t, session.Cache().Set(ctx, "k", json.RawMessage(`"stale"`), 0))

	got, err := session.Query(ctx, "k", time.Minute, func(ctx context.Context) (json.RawMessage, error) {
		return nil, api.ErrUnreachable
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"stale"`, string(got))

	// Сбой fetch сообщается монитору
	assert.False(t, monitor.Online())
}

func TestSession_Query_FetchErrorNoCache(t *testing.T) {
	session, _, _ := createTestSession(t, &fakeAPI{}, true)

	_, err := session.Query(context.Background(), "k", time.Minute, func(ctx context.Context) (json.RawMessage, error) {
		return nil, api.ErrUnreachable
	})
	assert.ErrorIs(t, err, api.ErrUnreachable)
}

func TestSession_Mutate_OnlineDirectDispatch(t *testing.T) {
	apiClient := &fakeAPI{}
	session, _, _ := createTestSession(t, apiClient, true)
	ctx := context.Background()

	result, err := session.Mutate(ctx, &models.OperationDraft{
		Type:     "approve",
		Endpoint: "/defects/42/approve",
		Method:   models.MethodPost,
		Payload:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	assert.False(t, result.Queued)
	assert.Equal(t, 1, apiClient.count())

	pending, err := session.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestSession_Mutate_OfflineQueues(t *testing.T) {
	apiClient := &fakeAPI{}
	session, _, _ := createTestSession(t, apiClient, false)
	ctx := context.Background()

	result, err := session.Mutate(ctx, &models.OperationDraft{
		Type:     "approve",
		Endpoint: "/defects/42/approve",
		Method:   models.MethodPost,
		Payload:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	assert.True(t, result.Queued)
	assert.Positive(t, result.OperationID)
	assert.Zero(t, apiClient.count())

	pending, err := session.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSession_Mutate_DispatchFailureFallsBackToQueue(t *testing.T) {
	apiClient := &fakeAPI{
		respond: func(op *models.QueuedOperation) error {
			return api.ErrUnreachable
		},
	}
	session, monitor, _ := createTestSession(t, apiClient, true)
	ctx := context.Background()

	result, err := session.Mutate(ctx, &models.OperationDraft{
		Type:     "pause",
		Endpoint: "/jobs/7/pause",
		Method:   models.MethodPost,
		Payload:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	assert.True(t, result.Queued)
	assert.False(t, monitor.Online())

	pending, err := session.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSession_Mutate_RejectionPropagates(t *testing.T) {
	apiClient := &fakeAPI{
		respond: func(op *models.QueuedOperation) error {
			return &api.StatusError{Code: 400, Message: "bad request"}
		},
	}
	session, _, _ := createTestSession(t, apiClient, true)

	_, err := session.Mutate(context.Background(), &models.OperationDraft{
		Type:     "approve",
		Endpoint: "/defects/42/approve",
		Method:   models.MethodPost,
	})
	require.Error(t, err)
	assert.True(t, api.IsRejection(err))

	// Отвергнутая запись не попадает в очередь
	pending, err := session.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestSession_QueueMutation_AlwaysQueues(t *testing.T) {
	apiClient := &fakeAPI{}
	session, _, _ := createTestSession(t, apiClient, true)
	ctx := context.Background()

	result, err := session.QueueMutation(ctx, &models.OperationDraft{
		Type:     "note",
		Endpoint: "/inspections/1/notes",
		Method:   models.MethodPost,
		Payload:  json.RawMessage(`{"text":"later"}`),
	})
	require.NoError(t, err)

	assert.True(t, result.Queued)
	assert.Zero(t, apiClient.count())
}

func TestSession_RoundTrip_OfflineThenReconnect(t *testing.T) {
	apiClient := &fakeAPI{}
	session, monitor, probe := createTestSession(t, apiClient, false)
	ctx := context.Background()

	// Действие пользователя в offline
	result, err := session.Mutate(ctx, &models.OperationDraft{
		Type:     "approve",
		Endpoint: "/defects/42/approve",
		Method:   models.MethodPost,
		Payload:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.True(t, result.Queued)

	pending, err := session.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pending)

	// Возвращается сеть: drain запускается сам, без участия приложения
	probe.Store(true)
	monitor.Report(true)

	require.Eventually(t, func() bool {
		count, err := session.PendingCount(ctx)
		return err == nil && count == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, apiClient.count())
	op := apiClient.last()
	assert.Equal(t, "approve", op.Type)
	assert.Equal(t, "/defects/42/approve", op.Endpoint)
	assert.Equal(t, models.MethodPost, op.Method)
	assert.JSONEq(t, `{}`, string(op.Payload))
}

func TestSession_SyncNow_Summary(t *testing.T) {
	apiClient := &fakeAPI{}
	session, _, _ := createTestSession(t, apiClient, false)
	ctx := context.Background()

	for _, e := range []string{"/a", "/b"} {
		_, err := session.QueueMutation(ctx, &models.OperationDraft{
			Type:     "approve",
			Endpoint: e,
			Method:   models.MethodPost,
			Payload:  json.RawMessage(`{}`),
		})
		require.NoError(t, err)
	}

	summary, err := session.SyncNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Synced)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Pending)
}

func TestSession_InitIdempotent(t *testing.T) {
	session, _, _ := createTestSession(t, &fakeAPI{}, true)

	// Повторный Init ничего не ломает
	require.NoError(t, session.Init(context.Background()))
}
