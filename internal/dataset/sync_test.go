package dataset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ncmcheck/internal/config"
	"ncmcheck/internal/metrics"
	"ncmcheck/internal/ncm"
	"ncmcheck/internal/storage"
)

const sampleDataset = `{
  "Data_Ultima_Atualizacao_NCM": "2024-10-02",
  "Nomenclaturas": [
    {"Codigo": "8471.30.19", "Descricao": "Outras", "Data_Inicio": "01/04/2023", "Data_Fim": "31/12/9999"},
    {"Codigo": "0101.21.00", "Descricao": "-- Reprodutores de raça pura", "Data_Inicio": "01/04/2022", "Data_Fim": "31/12/9999"}
  ]
}`

func newTestSync(t *testing.T, url string) (*SyncService, *storage.DB, *ncm.Store) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := ncm.NewStore()
	cfg := config.Config{DatasetURL: url, DatasetRateLimitRPS: 1000, DatasetTimeout: 5 * time.Second}
	return NewSyncService(db, cfg, store, metrics.New(), zap.NewNop()), db, store
}

func TestLoadFilePublishesAndStores(t *testing.T) {
	svc, db, store := newTestSync(t, "")
	path := filepath.Join(t.TempDir(), "ncm.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDataset), 0o644))

	snap, err := svc.LoadFile(context.Background(), path, FormatAuto)
	require.NoError(t, err)
	assert.Same(t, snap, store.Current())
	assert.Equal(t, "file:ncm.json", snap.Source)
	assert.Equal(t, 2, snap.Registry.Len())
	assert.Len(t, snap.Checksum, 64)

	row, err := db.LatestDataset()
	require.NoError(t, err)
	assert.Equal(t, snap.Checksum, row.Checksum)
	assert.Equal(t, 2, row.RecordCount)
	require.NotNil(t, row.AsOf)
	assert.Equal(t, "2024-10-02", *row.AsOf)

	again, err := svc.LoadBlob(context.Background(), []byte(sampleDataset), FormatJSON, OriginUpload)
	require.NoError(t, err)
	assert.Equal(t, snap.Checksum, again.Checksum)
	row, err = db.LatestDataset()
	require.NoError(t, err)
	assert.Equal(t, "file:ncm.json", row.Source)
}

func TestInvalidDatasetKeepsCurrentRegistry(t *testing.T) {
	svc, db, store := newTestSync(t, "")

	first, err := svc.LoadBlob(context.Background(), []byte(sampleDataset), FormatJSON, OriginUpload)
	require.NoError(t, err)

	_, err = svc.LoadBlob(context.Background(), []byte(`{"Ato": "sem lista"}`), FormatJSON, OriginUpload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ncm.ErrInvalidDataset))
	assert.Same(t, first, store.Current())

	row, err := db.LatestDataset()
	require.NoError(t, err)
	assert.Equal(t, first.Checksum, row.Checksum)
}

func TestConcurrentLoadsKeepStoreAndLatestInStep(t *testing.T) {
	svc, db, store := newTestSync(t, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Pairs of goroutines upload the same bytes.
			blob := strings.Replace(sampleDataset, `"Outras"`, fmt.Sprintf(`"Outras %d"`, i/2), 1)
			_, err := svc.LoadBlob(context.Background(), []byte(blob), FormatJSON, OriginUpload)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	current := store.Current()
	require.NotNil(t, current)
	row, err := db.LatestDataset()
	require.NoError(t, err)
	assert.Equal(t, current.Checksum, row.Checksum)

	restored, err := NewSyncService(db, config.Config{}, ncm.NewStore(), nil, nil).Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, current.Checksum, restored.Checksum)
}

func TestRestorePublishesLatestStored(t *testing.T) {
	svc, db, _ := newTestSync(t, "")
	_, err := svc.LoadBlob(context.Background(), []byte(sampleDataset), FormatJSON, OriginUpload)
	require.NoError(t, err)

	fresh := ncm.NewStore()
	restorer := NewSyncService(db, config.Config{}, fresh, nil, nil)
	snap, err := restorer.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "restore:upload", snap.Source)
	assert.Equal(t, 2, fresh.Registry().Len())
}

func TestRestoreWithoutDatasets(t *testing.T) {
	svc, _, store := newTestSync(t, "")
	_, err := svc.Restore(context.Background())
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Nil(t, store.Current())
}

func TestRefreshIfStale(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleDataset))
	}))
	defer srv.Close()

	svc, _, store := newTestSync(t, srv.URL)
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	refreshed, err := svc.RefreshIfStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.EqualValues(t, 1, hits.Load())
	require.NotNil(t, store.Current())
	assert.Contains(t, store.Current().Source, "download:")

	now = now.Add(30 * time.Minute)
	refreshed, err = svc.RefreshIfStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.EqualValues(t, 1, hits.Load())

	now = now.Add(2 * time.Hour)
	refreshed, err = svc.RefreshIfStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.EqualValues(t, 2, hits.Load())
}

func TestRefreshFailureKeepsRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	svc, _, store := newTestSync(t, srv.URL)
	first, err := svc.LoadBlob(context.Background(), []byte(sampleDataset), FormatJSON, OriginUpload)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	refreshed, err := svc.RefreshIfStale(context.Background(), time.Hour)
	assert.Error(t, err)
	assert.False(t, refreshed)
	assert.Same(t, first, store.Current())
}
