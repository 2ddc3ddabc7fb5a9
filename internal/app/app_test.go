package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScholarSnap/internal/config"
	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/infrastructure/queue"
	"ScholarSnap/internal/logging"
)

func testConfig(t *testing.T, catalogURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Recipients = []string{"a@x.com"}
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.DSN = filepath.Join(t.TempDir(), "log.db")
	cfg.Source.Endpoint = catalogURL
	cfg.Source.RequestInterval = 0
	cfg.Summarizer.APIKey = "test-key"
	cfg.Summarizer.Model = "gpt-4o-mini"
	cfg.Mail.Transport = config.TransportSMTP
	cfg.Mail.From = "bot@example.com"
	cfg.Mail.SMTP.Host = "127.0.0.1"
	cfg.Mail.SMTP.Port = 1
	cfg.Queue.Block = 20 * time.Millisecond
	return cfg
}

func unavailableCatalog(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRunOnceReportsSourceFailure(t *testing.T) {
	cfg := testConfig(t, unavailableCatalog(t))
	ctx := context.Background()

	a, err := New(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	result, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailure, result.Outcome)
	assert.ErrorIs(t, result.Err, domain.ErrSourceUnavailable)

	history, err := a.History(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestWorkerStoresTaskResult(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, unavailableCatalog(t))
	cfg.Queue.RedisURL = "redis://" + mr.Addr()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	taskID, err := a.Enqueue(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Worker(ctx) }()

	var result domain.TaskResult
	require.Eventually(t, func() bool {
		r, lookupErr := a.TaskResult(context.Background(), taskID)
		if lookupErr != nil {
			return false
		}
		result = r
		return true
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, domain.TaskSucceeded, result.Status)
	assert.False(t, result.OK)
	assert.Equal(t, domain.OutcomeFailure, result.Outcome)
	assert.Contains(t, result.Lines, "database initialized")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNewRejectsUnknownTransport(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Mail.Transport = "pigeon"

	_, err := New(context.Background(), cfg, logging.Discard())
	assert.ErrorContains(t, err, "pigeon")
}

func TestQueueClientWithoutDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Queue.RedisURL = "redis://" + mr.Addr()
	cfg.Database.Driver = config.DriverPostgres
	cfg.Database.DSN = "postgres://nobody@127.0.0.1:1/none?sslmode=disable"

	a := NewQueueClient(cfg, logging.Discard())
	defer a.Close()
	ctx := context.Background()

	taskID, err := a.Enqueue(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	_, err = a.TaskResult(ctx, taskID)
	assert.ErrorIs(t, err, queue.ErrResultNotFound)

	_, err = a.History(ctx, 5)
	assert.ErrorIs(t, err, errQueueClient)
	assert.ErrorIs(t, a.Worker(ctx), errQueueClient)
}
