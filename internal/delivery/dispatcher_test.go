package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookrelay/internal/config"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/signing"
	"github.com/shohag/hookrelay/internal/storage"
)

type captured struct {
	method string
	header http.Header
	body   []byte
}

type target struct {
	*httptest.Server
	mu       sync.Mutex
	requests []captured
	status   atomic.Int32
}

func newTarget(t *testing.T, status int) *target {
	t.Helper()
	tg := &target{}
	tg.status.Store(int32(status))
	tg.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		tg.mu.Lock()
		tg.requests = append(tg.requests, captured{method: r.Method, header: r.Header.Clone(), body: body})
		tg.mu.Unlock()
		w.WriteHeader(int(tg.status.Load()))
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	t.Cleanup(tg.Close)
	return tg
}

func (tg *target) calls() []captured {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return append([]captured(nil), tg.requests...)
}

// deadURL returns an address nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func testConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		Timeout:           2 * time.Second,
		Concurrency:       4,
		ResponseBodyLimit: 1024,
		UserAgent:         "HookRelay/test",
		Retry: config.RetryConfig{
			Enabled:         true,
			InitialInterval: 30 * time.Second,
			MaxInterval:     time.Hour,
			Multiplier:      2,
			PollInterval:    time.Second,
			BatchSize:       10,
		},
	}
}

func createWebhook(t *testing.T, store storage.Storage, url string, mutate func(*models.OutboundWebhook)) *models.OutboundWebhook {
	t.Helper()
	now := time.Now().UTC()
	w := &models.OutboundWebhook{
		ID:           models.NewID("out"),
		Name:         "crm",
		URL:          url,
		Method:       http.MethodPost,
		Events:       []string{"deal_won"},
		Headers:      map[string]string{},
		IsActive:     true,
		RetryEnabled: true,
		MaxRetries:   3,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mutate != nil {
		mutate(w)
	}
	require.NoError(t, store.CreateOutboundWebhook(context.Background(), w))
	return w
}

func logsFor(t *testing.T, store storage.Storage, webhookID string) []models.DeliveryLogEntry {
	t.Helper()
	logs, err := store.ListDeliveryLogs(context.Background(), webhookID, 100)
	require.NoError(t, err)
	return logs
}

var sampleDeal = map[string]any{"id": "deal_1", "title": "Big Deal", "value": 5000}

func TestDispatch_SignsAndSendsEnvelope(t *testing.T) {
	store := storage.NewMemory()
	tg := newTarget(t, http.StatusOK)
	w := createWebhook(t, store, tg.URL, func(w *models.OutboundWebhook) {
		w.Method = http.MethodPut
		w.Secret = "whsec_test"
		w.Headers = map[string]string{
			"X-Team":           "sales",
			signing.HeaderName: "forged",
		}
	})

	d := NewDispatcher(testConfig(), store, zerolog.Nop())
	summary, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deliveries)
	assert.Equal(t, 1, summary.Succeeded)

	calls := tg.calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, "HookRelay/test", req.header.Get("User-Agent"))
	assert.Equal(t, "sales", req.header.Get("X-Team"))
	assert.True(t, signing.Verify(req.body, req.header.Get(signing.HeaderName), "whsec_test"))

	var env struct {
		Event     string         `json:"event"`
		Timestamp string         `json:"timestamp"`
		Deal      map[string]any `json:"deal"`
	}
	require.NoError(t, json.Unmarshal(req.body, &env))
	assert.Equal(t, "deal_won", env.Event)
	assert.Equal(t, "Big Deal", env.Deal["title"])
	_, err = time.Parse(time.RFC3339, env.Timestamp)
	assert.NoError(t, err)

	logs := logsFor(t, store, w.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliverySuccess, logs[0].Status)
	assert.Equal(t, 1, logs[0].AttemptNumber)
	require.NotNil(t, logs[0].ResponseStatus)
	assert.Equal(t, http.StatusOK, *logs[0].ResponseStatus)
	assert.JSONEq(t, string(req.body), string(logs[0].RequestPayload))

	got, err := store.GetOutboundWebhook(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	assert.NotNil(t, got.LastSuccessAt)
	assert.NotNil(t, got.LastTriggeredAt)
}

func TestDispatch_NoSignatureWithoutSecret(t *testing.T) {
	store := storage.NewMemory()
	tg := newTarget(t, http.StatusOK)
	createWebhook(t, store, tg.URL, nil)

	d := NewDispatcher(testConfig(), store, zerolog.Nop())
	_, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
	require.NoError(t, err)

	calls := tg.calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].header.Get(signing.HeaderName))
}

func TestDispatch_NetworkErrorIsolatedPerWebhook(t *testing.T) {
	store := storage.NewMemory()
	tg := newTarget(t, http.StatusOK)
	healthy := createWebhook(t, store, tg.URL, nil)
	broken := createWebhook(t, store, deadURL(t), func(w *models.OutboundWebhook) {
		w.RetryEnabled = false
	})

	d := NewDispatcher(testConfig(), store, zerolog.Nop())
	summary, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Deliveries)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	all := logsFor(t, store, "")
	assert.Len(t, all, 2)

	healthyLogs := logsFor(t, store, healthy.ID)
	require.Len(t, healthyLogs, 1)
	assert.Equal(t, models.DeliverySuccess, healthyLogs[0].Status)

	brokenLogs := logsFor(t, store, broken.ID)
	require.Len(t, brokenLogs, 1)
	assert.Equal(t, models.DeliveryFailed, brokenLogs[0].Status)
	assert.Nil(t, brokenLogs[0].ResponseStatus)
	assert.Contains(t, brokenLogs[0].ErrorMessage, "request failed")

	h, err := store.GetOutboundWebhook(context.Background(), healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Empty(t, h.LastError)

	b, err := store.GetOutboundWebhook(context.Background(), broken.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ConsecutiveFailures)
	assert.NotEmpty(t, b.LastError)
	assert.Nil(t, b.LastSuccessAt)
}

func TestDispatch_SlowTargetTimesOut(t *testing.T) {
	store := storage.NewMemory()
	tg := newTarget(t, http.StatusOK)

	release := make(chan struct{})
	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slowSrv.Close)
	t.Cleanup(func() { close(release) })

	healthy := createWebhook(t, store, tg.URL, nil)
	slow := createWebhook(t, store, slowSrv.URL, func(w *models.OutboundWebhook) {
		w.RetryEnabled = false
	})

	cfg := testConfig()
	cfg.Timeout = 300 * time.Millisecond
	d := NewDispatcher(cfg, store, zerolog.Nop())

	start := time.Now()
	summary, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	healthyLogs := logsFor(t, store, healthy.ID)
	require.Len(t, healthyLogs, 1)
	assert.Equal(t, models.DeliverySuccess, healthyLogs[0].Status)

	slowLogs := logsFor(t, store, slow.ID)
	require.Len(t, slowLogs, 1)
	assert.Equal(t, models.DeliveryFailed, slowLogs[0].Status)
	assert.Nil(t, slowLogs[0].ResponseStatus)
	assert.NotEmpty(t, slowLogs[0].ErrorMessage)
}

func TestDispatch_RetryDisabledNeverLogsRetrying(t *testing.T) {
	store := storage.NewMemory()
	tg := newTarget(t, http.StatusInternalServerError)
	w := createWebhook(t, store, tg.URL, func(w *models.OutboundWebhook) {
		w.RetryEnabled = false
	})

	d := NewDispatcher(testConfig(), store, zerolog.Nop())
	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
		require.NoError(t, err)
	}

	logs := logsFor(t, store, w.ID)
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.NotEqual(t, models.DeliveryRetrying, l.Status)
		assert.Equal(t, "HTTP 500", l.ErrorMessage)
	}

	jobs, err := store.ListRetryJobs(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	got, err := store.GetOutboundWebhook(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ConsecutiveFailures)
	assert.True(t, got.IsActive, "failures never deactivate a webhook")
}

func TestDispatch_SchedulesRetry(t *testing.T) {
	store := storage.NewMemory()
	tg := newTarget(t, http.StatusServiceUnavailable)
	w := createWebhook(t, store, tg.URL, func(w *models.OutboundWebhook) {
		w.MaxRetries = 2
	})

	d := NewDispatcher(testConfig(), store, zerolog.Nop())
	before := time.Now().UTC()
	summary, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].RetryScheduled)

	logs := logsFor(t, store, w.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, models.DeliveryRetrying, logs[0].Status)
	assert.Equal(t, 2, logs[0].AttemptNumber)
	assert.Equal(t, "retry scheduled: attempt 2 of 3", logs[0].ErrorMessage)
	assert.Equal(t, models.DeliveryFailed, logs[1].Status)

	jobs, err := store.ListRetryJobs(context.Background(), w.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.RetryScheduled, jobs[0].State)
	assert.Equal(t, 2, jobs[0].Attempt)
	assert.JSONEq(t, `{"id":"deal_1","title":"Big Deal","value":5000}`, string(jobs[0].Payload))
	assert.WithinDuration(t, before.Add(30*time.Second), jobs[0].NextAttemptAt, 5*time.Second)
}

func TestDispatch_NoRetryPastBudget(t *testing.T) {
	store := storage.NewMemory()
	tg := newTarget(t, http.StatusInternalServerError)
	w := createWebhook(t, store, tg.URL, func(w *models.OutboundWebhook) {
		w.MaxRetries = 0
	})

	d := NewDispatcher(testConfig(), store, zerolog.Nop())
	_, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
	require.NoError(t, err)

	jobs, err := store.ListRetryJobs(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDispatch_OnlySubscribedActiveWebhooks(t *testing.T) {
	store := storage.NewMemory()
	tg := newTarget(t, http.StatusOK)
	createWebhook(t, store, tg.URL, func(w *models.OutboundWebhook) { w.Events = []string{"deal_lost"} })
	createWebhook(t, store, tg.URL, func(w *models.OutboundWebhook) { w.IsActive = false })
	createWebhook(t, store, tg.URL, func(w *models.OutboundWebhook) { w.Events = []string{"*"} })

	d := NewDispatcher(testConfig(), store, zerolog.Nop())
	summary, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deliveries)
	assert.Len(t, tg.calls(), 1)

	summary, err = d.Dispatch(context.Background(), "deal_created", sampleDeal)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deliveries, "wildcard subscriber only")
}

func TestDispatch_NoSubscribers(t *testing.T) {
	d := NewDispatcher(testConfig(), storage.NewMemory(), zerolog.Nop())
	summary, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Deliveries)
	assert.Empty(t, summary.Results)
}

type failingStore struct {
	*storage.MemoryStorage
}

func (failingStore) ListActiveOutboundWebhooksForEvent(context.Context, string) ([]models.OutboundWebhook, error) {
	return nil, errors.New("database is locked")
}

func TestDispatch_SubscriptionQueryError(t *testing.T) {
	d := NewDispatcher(testConfig(), failingStore{storage.NewMemory()}, zerolog.Nop())
	_, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestDispatch_TruncatesLoggedResponse(t *testing.T) {
	store := storage.NewMemory()
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(big)
	}))
	t.Cleanup(srv.Close)
	w := createWebhook(t, store, srv.URL, nil)

	d := NewDispatcher(testConfig(), store, zerolog.Nop())
	_, err := d.Dispatch(context.Background(), "deal_won", sampleDeal)
	require.NoError(t, err)

	logs := logsFor(t, store, w.ID)
	require.Len(t, logs, 1)
	assert.Len(t, logs[0].ResponseBody, MaxLoggedResponseBody)
}
