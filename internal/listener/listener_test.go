package listener

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ncmcheck/internal"
	"ncmcheck/internal/config"
	"ncmcheck/internal/connectors"
	"ncmcheck/internal/dataset"
	"ncmcheck/internal/metrics"
	"ncmcheck/internal/ncm"
	"ncmcheck/internal/pipeline"
	"ncmcheck/internal/storage"
)

type stubConnector struct {
	messages []internal.FetchedMailMessage
}

func (s stubConnector) FetchInbox(context.Context, string, int) ([]internal.FetchedMailMessage, error) {
	return s.messages, nil
}

const rawMessage = "From: compras@example.com\r\n" +
	"Subject: Classificacao fiscal\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
	"Conferir NCM 8471.30.19 e 0101.21.00\r\n"

func newTestService(t *testing.T, datasetStatus int) (*Service, *storage.DB) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(datasetStatus)
		_, _ = w.Write([]byte(`{"Nomenclaturas":[{"Codigo":"8471.30.19","Descricao":"Outras","Data_Inicio":"01/04/2023"}]}`))
	}))
	t.Cleanup(srv.Close)

	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Config{
		RawMailDir:               filepath.Join(tmp, "raw"),
		OutputDir:                filepath.Join(tmp, "out"),
		DatasetURL:               srv.URL,
		DatasetRateLimitRPS:      100,
		DatasetTimeout:           5 * time.Second,
		RegistryMaxAge:           time.Hour,
		DetectThreshold:          pipeline.DefaultDetectThreshold,
		MailListenerProvider:     "IMAP",
		MailListenerLabel:        "INBOX",
		MailListenerFetchMax:     10,
		MailListenerProcessBatch: 10,
		MailListenerAutoExport:   true,
	}
	store := ncm.NewStore()
	m := metrics.New()
	log := zap.NewNop()
	sync := dataset.NewSyncService(db, cfg, store, m, log)
	proc := pipeline.NewProcessingService(db, cfg, pipeline.NewChecker(store, m, nil), m, log)

	svc := NewService(db, cfg, sync, proc, log)
	svc.connectorFactory = func(_ context.Context, provider string) (connectors.MailConnector, error) {
		assert.Equal(t, "imap", provider)
		return stubConnector{messages: []internal.FetchedMailMessage{
			{Provider: "imap", MessageID: "<1@example.com>", Subject: "Classificacao fiscal", ReceivedAt: "2026-10-19T10:00:00Z", Raw: []byte(rawMessage)},
		}}, nil
	}
	return svc, db
}

func TestRunCycle(t *testing.T) {
	svc, db := newTestService(t, http.StatusOK)

	res, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleResult{RegistryRefreshed: true, Fetched: 1, Stored: 1, Processed: 1, Exported: 1}, res)

	doc, err := db.MustDocumentByProviderMessageID("imap", "<1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, string(internal.StatusExported), doc.Status)

	entries, err := os.ReadDir(filepath.Join(svc.cfg.OutputDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Same message again: already exported, registry still fresh.
	res, err = svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, res.RegistryRefreshed)
	assert.Equal(t, 0, res.Processed)
}

func TestRunCycleWithoutRegistry(t *testing.T) {
	svc, db := newTestService(t, http.StatusForbidden)

	_, err := svc.RunCycle(context.Background())
	assert.True(t, errors.Is(err, pipeline.ErrNoRegistry))

	doc, err := db.MustDocumentByProviderMessageID("imap", "<1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, string(internal.StatusFetched), doc.Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, _ := newTestService(t, http.StatusOK)
	svc.cfg.MailListenerInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestUnsupportedProvider(t *testing.T) {
	svc := NewService(nil, config.Config{}, nil, nil, nil)
	_, err := svc.makeConnector(context.Background(), "pop3")
	assert.ErrorContains(t, err, "unsupported listener provider")
}
