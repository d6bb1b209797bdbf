package ingest

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/ratelimit"
	"github.com/shohag/hookrelay/internal/signing"
	"github.com/shohag/hookrelay/internal/storage"
)

type fixture struct {
	store    *storage.MemoryStorage
	receiver *Receiver
	webhook  *models.InboundWebhook
}

func newFixture(t *testing.T, limiter ratelimit.Limiter, mutate func(*models.InboundWebhook)) *fixture {
	t.Helper()
	store := storage.NewMemory()
	now := time.Now().UTC()
	w := &models.InboundWebhook{
		ID:                 models.NewID("in"),
		Name:               "landing page",
		PipelineID:         "pipe_sales",
		PhaseID:            "phase_new",
		FieldMappings:      []models.FieldMapping{{Source: "name", Target: "contact_name"}},
		DefaultTags:        []string{"site"},
		DefaultTemperature: models.TemperatureHot,
		SecretToken:        models.NewSecretToken(),
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if mutate != nil {
		mutate(w)
	}
	require.NoError(t, store.CreateInboundWebhook(context.Background(), w))
	if limiter == nil {
		limiter = ratelimit.NewFixedWindow(ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	}
	return &fixture{
		store:    store,
		receiver: NewReceiver(store, limiter, zerolog.Nop()),
		webhook:  w,
	}
}

func (f *fixture) request(body string) Request {
	return Request{
		PipelineID: f.webhook.PipelineID,
		Token:      f.webhook.SecretToken,
		Body:       []byte(body),
		Headers:    http.Header{},
		SourceIP:   "203.0.113.10",
	}
}

func (f *fixture) logs(t *testing.T) []models.IngestionLogEntry {
	t.Helper()
	logs, err := f.store.ListIngestionLogs(context.Background(), "", 100)
	require.NoError(t, err)
	return logs
}

func TestReceive_EndToEnd(t *testing.T) {
	f := newFixture(t, nil, func(w *models.InboundWebhook) {
		w.HMACSecret = "inbound-secret"
		w.IPAllowlist = []string{"10.0.0.0/8", "203.0.113.10"}
	})

	req := f.request(`{"name":"Ana Silva"}`)
	req.Headers.Set(signing.HeaderName, signing.Header(signing.Sign(req.Body, "inbound-secret")))

	res, err := f.receiver.Receive(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)

	body, ok := res.Body.(SuccessBody)
	require.True(t, ok)
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.LogID)

	deal := body.Deal
	assert.Equal(t, "Ana Silva", deal.ContactName)
	assert.Equal(t, "Ana Silva", deal.Title)
	assert.Equal(t, models.DealSource, deal.Source)
	assert.Equal(t, "pipe_sales", deal.PipelineID)
	assert.Equal(t, "phase_new", deal.PhaseID)
	assert.Equal(t, []string{"site"}, deal.Tags)
	assert.Equal(t, models.TemperatureHot, deal.Temperature)
	assert.JSONEq(t, `{"name":"Ana Silva"}`, string(deal.RawPayload))

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, body.LogID, logs[0].ID)
	assert.Equal(t, models.IngestionSuccess, logs[0].Status)
	assert.Equal(t, "Ana Silva", logs[0].MappedData["contact_name"])
	assert.Equal(t, "203.0.113.10", logs[0].SourceIP)

	got, err := f.store.GetInboundWebhook(context.Background(), f.webhook.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RequestsToday)
	assert.NotNil(t, got.LastRequestAt)
}

func TestReceive_FullMapping(t *testing.T) {
	f := newFixture(t, nil, func(w *models.InboundWebhook) {
		w.FieldMappings = []models.FieldMapping{
			{Source: "lead.full_name", Target: "name"},
			{Source: "lead.email", Target: "email", Transform: "lowercase"},
			{Source: "lead.phone", Target: "phone", Transform: "format_phone"},
			{Source: "lead.company", Target: "company", Transform: "trim"},
			{Source: "budget", Target: "value"},
			{Source: "campaign", Target: "title", Transform: "uppercase"},
		}
	})

	res, err := f.receiver.Receive(context.Background(), f.request(`{
		"lead": {"full_name": "João Souza", "email": "JOAO@EXAMPLE.COM", "phone": 11987654321, "company": "  Acme  "},
		"budget": "1.234,56",
		"campaign": "black friday"
	}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)

	deal := res.Body.(SuccessBody).Deal
	assert.Equal(t, "João Souza", deal.ContactName)
	assert.Equal(t, "BLACK FRIDAY", deal.Title)
	assert.Equal(t, "joao@example.com", deal.Email)
	assert.Equal(t, "+5511987654321", deal.Phone)
	assert.Equal(t, "Acme", deal.Company)
	assert.InDelta(t, 1234.56, deal.Value, 0.0001)
}

func TestReceive_DefaultContactName(t *testing.T) {
	f := newFixture(t, nil, nil)

	res, err := f.receiver.Receive(context.Background(), f.request(`{"email":"x@y.z"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)

	deal := res.Body.(SuccessBody).Deal
	assert.Equal(t, models.DefaultContactName, deal.ContactName)
	assert.Equal(t, models.DefaultContactName, deal.Title)
	assert.Zero(t, deal.Value)
}

func TestReceive_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.InboundWebhook)
		prepare func(*fixture, *Request)
		status  int
		logged  bool
	}{
		{
			name: "invalid json is not logged",
			prepare: func(_ *fixture, r *Request) {
				r.Body = []byte(`{"name":`)
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "disabled webhook",
			mutate: func(w *models.InboundWebhook) { w.IsActive = false },
			status: http.StatusNotFound,
			logged: true,
		},
		{
			name: "unknown token",
			prepare: func(_ *fixture, r *Request) {
				r.Token = "nope"
			},
			status: http.StatusNotFound,
			logged: true,
		},
		{
			name: "token for another pipeline",
			prepare: func(_ *fixture, r *Request) {
				r.PipelineID = "pipe_other"
			},
			status: http.StatusNotFound,
			logged: true,
		},
		{
			name:   "ip not in allowlist",
			mutate: func(w *models.InboundWebhook) { w.IPAllowlist = []string{"198.51.100.0/24"} },
			status: http.StatusForbidden,
			logged: true,
		},
		{
			name:   "missing signature",
			mutate: func(w *models.InboundWebhook) { w.HMACSecret = "s" },
			status: http.StatusUnauthorized,
			logged: true,
		},
		{
			name:   "wrong signature",
			mutate: func(w *models.InboundWebhook) { w.HMACSecret = "s" },
			prepare: func(_ *fixture, r *Request) {
				r.Headers.Set(signing.HeaderName, signing.Header(signing.Sign(r.Body, "other")))
			},
			status: http.StatusUnauthorized,
			logged: true,
		},
		{
			name: "bad mapping target",
			mutate: func(w *models.InboundWebhook) {
				w.FieldMappings = []models.FieldMapping{{Source: "name", Target: "password"}}
			},
			status: http.StatusUnprocessableEntity,
			logged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, tt.mutate)
			req := f.request(`{"name":"Ana Silva"}`)
			if tt.prepare != nil {
				tt.prepare(f, &req)
			}

			res, err := f.receiver.Receive(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			body, ok := res.Body.(ErrorBody)
			require.True(t, ok)
			assert.NotEmpty(t, body.Error)

			logs := f.logs(t)
			if !tt.logged {
				assert.Empty(t, logs)
				return
			}
			require.Len(t, logs, 1)
			assert.Equal(t, models.IngestionRejected, logs[0].Status)
			assert.Equal(t, body.Error, logs[0].ErrorMessage)
			assert.Nil(t, logs[0].MappedData)

			got, err := f.store.GetInboundWebhook(context.Background(), f.webhook.ID)
			require.NoError(t, err)
			assert.Zero(t, got.RequestsToday, "rejections do not count")
		})
	}
}

func TestReceive_NotFoundLogHasNoWebhook(t *testing.T) {
	f := newFixture(t, nil, func(w *models.InboundWebhook) { w.IsActive = false })

	res, err := f.receiver.Receive(context.Background(), f.request(`{"name":"Ana"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.Status)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].InboundWebhookID)
}

func TestReceive_RateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.NewFixedWindow(2, time.Minute), nil)

	for i := 0; i < 2; i++ {
		res, err := f.receiver.Receive(context.Background(), f.request(`{"name":"Ana"}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.Status)
	}

	res, err := f.receiver.Receive(context.Background(), f.request(`{"name":"Ana"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, res.Status)

	logs := f.logs(t)
	require.Len(t, logs, 3)
	assert.Equal(t, models.IngestionRejected, logs[0].Status)
	require.NotNil(t, logs[0].InboundWebhookID)
	assert.Equal(t, f.webhook.ID, *logs[0].InboundWebhookID)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestReceive_LimiterError(t *testing.T) {
	f := newFixture(t, brokenLimiter{}, nil)

	res, err := f.receiver.Receive(context.Background(), f.request(`{"name":"Ana"}`))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, res.Status)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, models.IngestionRejected, logs[0].Status)
}

func TestReceive_NonObjectPayload(t *testing.T) {
	f := newFixture(t, nil, nil)

	res, err := f.receiver.Receive(context.Background(), f.request(`["a","b"]`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, models.DefaultContactName, res.Body.(SuccessBody).Deal.ContactName)
}
