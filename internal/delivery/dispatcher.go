package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/shohag/hookrelay/internal/config"
	"github.com/shohag/hookrelay/internal/metrics"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/storage"
)

// MaxLoggedResponseBody caps the response body kept in a delivery log entry.
const MaxLoggedResponseBody = 1024

// Envelope is the JSON body every subscriber receives.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Deal      json.RawMessage `json:"deal"`
}

type DeliveryResult struct {
	WebhookID      string `json:"webhook_id"`
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code,omitempty"`
	Error          string `json:"error,omitempty"`
	TimeMs         int64  `json:"time_ms"`
	LogID          string `json:"log_id"`
	RetryScheduled bool   `json:"retry_scheduled"`
}

type DispatchSummary struct {
	Event      string           `json:"event"`
	Deliveries int              `json:"deliveries"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Results    []DeliveryResult `json:"results"`
}

type Dispatcher struct {
	store       storage.Storage
	sender      *Sender
	policy      RetryPolicy
	retry       bool
	concurrency int
	userAgent   string
	now         func() time.Time
	log         zerolog.Logger
}

func NewDispatcher(cfg config.DeliveryConfig, store storage.Storage, log zerolog.Logger) *Dispatcher {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Dispatcher{
		store:       store,
		sender:      NewSender(cfg.Timeout, cfg.ResponseBodyLimit),
		policy:      NewRetryPolicy(cfg.Retry),
		retry:       cfg.Retry.Enabled,
		concurrency: concurrency,
		userAgent:   userAgent,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

// Dispatch notifies every active webhook subscribed to event. Individual
// delivery failures are recorded and reported in the summary; the returned
// error is reserved for failing to load the subscribers.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, deal any) (*DispatchSummary, error) {
	dealJSON, err := json.Marshal(deal)
	if err != nil {
		return nil, fmt.Errorf("failed to encode deal: %w", err)
	}

	hooks, err := d.store.ListActiveOutboundWebhooksForEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event %s: %w", event, err)
	}

	summary := &DispatchSummary{Event: event, Results: []DeliveryResult{}}
	if len(hooks) == 0 {
		d.log.Debug().Str("event", event).Msg("no subscribers for event")
		return summary, nil
	}

	p := pool.NewWithResults[DeliveryResult]().WithMaxGoroutines(d.concurrency)
	for i := range hooks {
		w := hooks[i]
		p.Go(func() DeliveryResult {
			return d.dispatchOne(ctx, &w, event, dealJSON)
		})
	}
	summary.Results = p.Wait()

	for _, r := range summary.Results {
		summary.Deliveries++
		if r.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	d.log.Info().
		Str("event", event).
		Int("deliveries", summary.Deliveries).
		Int("failed", summary.Failed).
		Msg("event dispatched")

	return summary, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, w *models.OutboundWebhook, event string, deal json.RawMessage) DeliveryResult {
	out := d.deliver(ctx, w, event, deal, 1)
	if out.result.Success {
		return out.result
	}
	if !d.retry || !w.RetryEnabled || out.failures > w.MaxRetries {
		return out.result
	}

	bg := context.WithoutCancel(ctx)
	now := d.now()
	job := &models.RetryJob{
		ID:            models.NewID("rjob"),
		WebhookID:     w.ID,
		EventType:     event,
		Payload:       deal,
		Attempt:       2,
		State:         models.RetryScheduled,
		NextAttemptAt: d.policy.NextAttemptAt(now, 2),
		LastError:     out.result.Error,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.store.CreateRetryJob(bg, job); err != nil {
		d.log.Error().Err(err).Str("webhook_id", w.ID).Msg("failed to schedule retry")
		return out.result
	}
	d.logRetrying(bg, w, event, out.body, job)
	out.result.RetryScheduled = true
	return out.result
}

type attemptOutcome struct {
	result   DeliveryResult
	body     []byte
	failures int
}

// deliver performs one attempt against w: send, append the log entry and
// update the webhook health fields.
func (d *Dispatcher) deliver(ctx context.Context, w *models.OutboundWebhook, event string, deal json.RawMessage, attempt int) attemptOutcome {
	now := d.now()
	body, err := json.Marshal(Envelope{
		Event:     event,
		Timestamp: now.Format(time.RFC3339),
		Deal:      deal,
	})
	if err != nil {
		// Only reachable with a corrupt stored payload.
		body = []byte(fmt.Sprintf(`{"event":%q,"timestamp":%q,"deal":null}`, event, now.Format(time.RFC3339)))
	}

	result := d.sender.Send(ctx, webhookMethod(w), w.URL, buildHeaders(w, body, d.userAgent), body)

	// Bookkeeping survives a caller that gave up while the send was in flight.
	bg := context.WithoutCancel(ctx)

	entry := newDeliveryLog(w.ID, event, body, result, attempt, now)
	if err := d.store.AppendDeliveryLog(bg, entry); err != nil {
		d.log.Error().Err(err).Str("webhook_id", w.ID).Msg("failed to append delivery log")
	}
	metrics.ObserveDelivery(event, string(entry.Status), time.Duration(result.LatencyMs)*time.Millisecond)

	out := attemptOutcome{
		body: body,
		result: DeliveryResult{
			WebhookID:  w.ID,
			Success:    result.OK(),
			StatusCode: result.StatusCode,
			Error:      result.Failure(),
			TimeMs:     result.LatencyMs,
			LogID:      entry.ID,
		},
	}

	if result.OK() {
		if err := d.store.RecordOutboundSuccess(bg, w.ID, now); err != nil {
			d.log.Error().Err(err).Str("webhook_id", w.ID).Msg("failed to record delivery success")
		}
		d.log.Info().
			Str("webhook_id", w.ID).
			Str("event", event).
			Int("attempt", attempt).
			Int("status_code", result.StatusCode).
			Int64("latency_ms", result.LatencyMs).
			Msg("delivery succeeded")
		return out
	}

	failures, err := d.store.RecordOutboundFailure(bg, w.ID, result.Failure(), now)
	if err != nil {
		d.log.Error().Err(err).Str("webhook_id", w.ID).Msg("failed to record delivery failure")
	}
	out.failures = failures
	d.log.Warn().
		Str("webhook_id", w.ID).
		Str("event", event).
		Int("attempt", attempt).
		Int("consecutive_failures", failures).
		Str("error", result.Failure()).
		Msg("delivery failed")
	return out
}

func (d *Dispatcher) logRetrying(ctx context.Context, w *models.OutboundWebhook, event string, body []byte, job *models.RetryJob) {
	entry := &models.DeliveryLogEntry{
		ID:             models.NewID("dlog"),
		WebhookID:      w.ID,
		EventType:      event,
		RequestPayload: body,
		AttemptNumber:  job.Attempt,
		Status:         models.DeliveryRetrying,
		ErrorMessage:   fmt.Sprintf("retry scheduled: attempt %d of %d", job.Attempt, w.MaxRetries+1),
		CreatedAt:      d.now(),
	}
	if err := d.store.AppendDeliveryLog(ctx, entry); err != nil {
		d.log.Error().Err(err).Str("webhook_id", w.ID).Msg("failed to append retry log")
	}
	metrics.RetriesScheduledTotal.Inc()
	d.log.Info().
		Str("webhook_id", w.ID).
		Str("retry_id", job.ID).
		Int("attempt", job.Attempt).
		Time("next_attempt_at", job.NextAttemptAt).
		Msg("delivery scheduled for retry")
}

func newDeliveryLog(webhookID, event string, body []byte, result *SendResult, attempt int, at time.Time) *models.DeliveryLogEntry {
	entry := &models.DeliveryLogEntry{
		ID:             models.NewID("dlog"),
		WebhookID:      webhookID,
		EventType:      event,
		RequestPayload: body,
		ResponseBody:   truncate(result.ResponseBody, MaxLoggedResponseBody),
		ResponseTimeMs: result.LatencyMs,
		AttemptNumber:  attempt,
		Status:         models.DeliveryFailed,
		ErrorMessage:   result.Failure(),
		CreatedAt:      at,
	}
	if result.StatusCode != 0 {
		code := result.StatusCode
		entry.ResponseStatus = &code
	}
	if result.OK() {
		entry.Status = models.DeliverySuccess
	}
	return entry
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
