package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/client/storage/boltdb"
	"github.com/iudanet/fieldsync/internal/models"
)

// fakeClock — управляемые часы для проверки TTL без реального ожидания
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func createTestService(t *testing.T) (Service, *fakeClock, *boltdb.Storage) {
	t.Helper()

	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	svc := NewServiceWithClock(store, logger, clock.Now)

	return svc, clock, store
}

// testWriter направляет лог сервиса в t.Log
type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestService_SetGet(t *testing.T) {
	svc, _, _ := createTestService(t)
	ctx := context.Background()

	value := json.RawMessage(`{"inspections":[1,2,3]}`)
	require.NoError(t, svc.Set(ctx, "inspections:list", value, 0))

	got, err := svc.Get(ctx, "inspections:list")
	require.NoError(t, err)
	assert.JSONEq(t, string(value), string(got))
}

func TestService_Get_Missing(t *testing.T) {
	svc, _, _ := createTestService(t)

	got, err := svc.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestService_TTL(t *testing.T) {
	svc, clock, _ := createTestService(t)
	ctx := context.Background()

	value := json.RawMessage(`"v"`)
	require.NoError(t, svc.Set(ctx, "k", value, time.Second))

	// За миллисекунду до истечения значение еще живо
	clock.Advance(999 * time.Millisecond)
	got, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `"v"`, string(got))

	// Через миллисекунду после — отсутствует
	clock.Advance(2 * time.Millisecond)
	got, err = svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestService_TTLZero_NeverExpires(t *testing.T) {
	svc, clock, _ := createTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", json.RawMessage(`"v"`), 0))

	clock.Advance(1000 * time.Hour)
	got, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `"v"`, string(got))
}

func TestService_LazyEviction(t *testing.T) {
	svc, clock, store := createTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", json.RawMessage(`"v"`), time.Second))
	clock.Advance(2 * time.Second)

	// Get по истекшему ключу удаляет запись физически
	got, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	var keys []string
	require.NoError(t, store.ScanEntries(ctx, func(entry *models.CacheEntry) bool {
		keys = append(keys, entry.Key)
		return true
	}))
	assert.Empty(t, keys)
}

func TestService_Set_Overwrite(t *testing.T) {
	svc, _, _ := createTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", json.RawMessage(`"old"`), time.Minute))
	require.NoError(t, svc.Set(ctx, "k", json.RawMessage(`"new"`), 0))

	got, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `"new"`, string(got))
}

func TestService_Invalidate(t *testing.T) {
	svc, _, _ := createTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", json.RawMessage(`1`), 0))
	require.NoError(t, svc.Set(ctx, "b", json.RawMessage(`2`), 0))

	require.NoError(t, svc.Invalidate(ctx, "a"))
	got, err := svc.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, svc.InvalidateAll(ctx))
	got, err = svc.Get(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestService_SweepExpired(t *testing.T) {
	svc, clock, store := createTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "expired1", json.RawMessage(`1`), time.Second))
	require.NoError(t, svc.Set(ctx, "expired2", json.RawMessage(`2`), 2*time.Second))
	require.NoError(t, svc.Set(ctx, "alive", json.RawMessage(`3`), time.Hour))
	require.NoError(t, svc.Set(ctx, "forever", json.RawMessage(`4`), 0))

	clock.Advance(10 * time.Second)

	removed, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	var keys []string
	require.NoError(t, store.ScanEntries(ctx, func(entry *models.CacheEntry) bool {
		keys = append(keys, entry.Key)
		return true
	}))
	assert.ElementsMatch(t, []string{"alive", "forever"}, keys)
}

// brokenStore имитирует отказ storage engine
type brokenStore struct{}

func (b *brokenStore) SaveEntry(ctx context.Context, entry *models.CacheEntry) error {
	return storage.ErrStorageUnavailable
}

func (b *brokenStore) GetEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	return nil, storage.ErrStorageUnavailable
}

func (b *brokenStore) DeleteEntry(ctx context.Context, key string) error {
	return storage.ErrStorageUnavailable
}

func (b *brokenStore) DeleteAllEntries(ctx context.Context) error {
	return storage.ErrStorageUnavailable
}

func (b *brokenStore) ScanEntries(ctx context.Context, fn func(*models.CacheEntry) bool) error {
	return storage.ErrStorageUnavailable
}

func TestService_StorageUnavailable_DegradesToMiss(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	svc := NewService(&brokenStore{}, logger)
	ctx := context.Background()

	// Чтение деградирует до промаха, а не до ошибки
	got, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Sweep молча пропускается
	removed, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Запись отдает ошибку вызывающему: фасад решает, что с ней делать
	assert.Error(t, svc.Set(ctx, "k", json.RawMessage(`1`), 0))
}
