package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/hookrelay/internal/config"
	"github.com/shohag/hookrelay/internal/metrics"
	"github.com/shohag/hookrelay/internal/storage"
)

const TestEvent = "test"

var ErrWebhookNotFound = errors.New("outbound webhook not found")

// SampleDeal is the canned payload sent by test deliveries.
var SampleDeal = map[string]any{
	"id":           "deal_test",
	"title":        "Test Deal",
	"contact_name": "Test Contact",
	"email":        "test@example.com",
	"phone":        "+5511999999999",
	"company":      "Example Co",
	"value":        1500.0,
	"status":       "open",
}

type TestResult struct {
	Success      bool   `json:"success"`
	Status       int    `json:"status"`
	ResponseBody string `json:"responseBody"`
	Error        string `json:"error,omitempty"`
	TimeMs       int64  `json:"timeMs"`
}

// Tester sends the sample deal to a single webhook. It writes a delivery log
// entry but leaves the webhook's health counters alone.
type Tester struct {
	store     storage.Storage
	sender    *Sender
	userAgent string
	log       zerolog.Logger
}

func NewTester(cfg config.DeliveryConfig, store storage.Storage, log zerolog.Logger) *Tester {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Tester{
		store:     store,
		sender:    NewSender(cfg.Timeout, cfg.ResponseBodyLimit),
		userAgent: userAgent,
		log:       log,
	}
}

func (t *Tester) Test(ctx context.Context, webhookID string) (*TestResult, error) {
	w, err := t.store.GetOutboundWebhook(ctx, webhookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook: %w", err)
	}
	if w == nil {
		return nil, ErrWebhookNotFound
	}

	deal, _ := json.Marshal(SampleDeal)
	now := time.Now().UTC()
	body, err := json.Marshal(Envelope{Event: TestEvent, Timestamp: now.Format(time.RFC3339), Deal: deal})
	if err != nil {
		return nil, fmt.Errorf("failed to encode test payload: %w", err)
	}

	result := t.sender.Send(ctx, webhookMethod(w), w.URL, buildHeaders(w, body, t.userAgent), body)

	entry := newDeliveryLog(w.ID, TestEvent, body, result, 1, now)
	if err := t.store.AppendDeliveryLog(context.WithoutCancel(ctx), entry); err != nil {
		t.log.Error().Err(err).Str("webhook_id", w.ID).Msg("failed to append test delivery log")
	}
	metrics.ObserveDelivery(TestEvent, string(entry.Status), time.Duration(result.LatencyMs)*time.Millisecond)

	t.log.Info().
		Str("webhook_id", w.ID).
		Int("status_code", result.StatusCode).
		Bool("success", result.OK()).
		Msg("test delivery sent")

	return &TestResult{
		Success:      result.OK(),
		Status:       result.StatusCode,
		ResponseBody: entry.ResponseBody,
		Error:        result.Failure(),
		TimeMs:       result.LatencyMs,
	}, nil
}
