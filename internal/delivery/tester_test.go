package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/storage"
)

func TestTester_Success(t *testing.T) {
	store := storage.NewMemory()
	tg := newTarget(t, http.StatusOK)
	w := createWebhook(t, store, tg.URL, func(w *models.OutboundWebhook) {
		w.Events = []string{"deal_lost"}
	})

	res, err := NewTester(testConfig(), store, zerolog.Nop()).Test(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, `{"received":true}`, res.ResponseBody)
	assert.Empty(t, res.Error)

	calls := tg.calls()
	require.Len(t, calls, 1)
	var env Envelope
	require.NoError(t, json.Unmarshal(calls[0].body, &env))
	assert.Equal(t, TestEvent, env.Event)

	logs := logsFor(t, store, w.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, TestEvent, logs[0].EventType)
}

func TestTester_LeavesCountersAlone(t *testing.T) {
	store := storage.NewMemory()
	w := createWebhook(t, store, deadURL(t), nil)

	res, err := NewTester(testConfig(), store, zerolog.Nop()).Test(context.Background(), w.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, res.Status)
	assert.Contains(t, res.Error, "request failed")

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"status":0`)

	got, err := store.GetOutboundWebhook(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	assert.Nil(t, got.LastTriggeredAt)

	jobs, err := store.ListRetryJobs(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestTester_UnknownWebhook(t *testing.T) {
	_, err := NewTester(testConfig(), storage.NewMemory(), zerolog.Nop()).Test(context.Background(), "out_missing")
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}
