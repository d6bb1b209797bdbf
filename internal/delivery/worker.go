package delivery

import (
	"context"
	"fmt"

	"github.com/shohag/hookrelay/internal/metrics"
	"github.com/shohag/hookrelay/internal/models"
)

// Redeliver sends a claimed retry job to its webhook and moves the job to
// its next state.
func (d *Dispatcher) Redeliver(ctx context.Context, job models.RetryJob) error {
	bg := context.WithoutCancel(ctx)

	w, err := d.store.GetOutboundWebhook(ctx, job.WebhookID)
	if err != nil {
		// Put the job back so the next poll picks it up again.
		job.State = models.RetryScheduled
		job.NextAttemptAt = d.now()
		if uerr := d.store.UpdateRetryJob(bg, &job); uerr != nil {
			d.log.Error().Err(uerr).Str("retry_id", job.ID).Msg("failed to requeue retry")
		}
		return fmt.Errorf("failed to load webhook %s: %w", job.WebhookID, err)
	}

	if w == nil || !w.IsActive {
		job.State = models.RetryExhausted
		job.LastError = "webhook deleted or inactive"
		metrics.RetriesExhaustedTotal.Inc()
		d.log.Info().Str("retry_id", job.ID).Str("webhook_id", job.WebhookID).Msg("dropping retry for unavailable webhook")
		return d.saveJob(bg, &job)
	}

	out := d.deliver(ctx, w, job.EventType, job.Payload, job.Attempt)

	switch {
	case out.result.Success:
		job.State = models.RetrySucceeded
		job.LastError = ""
	case d.retry && w.RetryEnabled && job.Attempt <= w.MaxRetries:
		job.Attempt++
		job.State = models.RetryScheduled
		job.NextAttemptAt = d.policy.NextAttemptAt(d.now(), job.Attempt)
		job.LastError = out.result.Error
		d.logRetrying(bg, w, job.EventType, out.body, &job)
	default:
		job.State = models.RetryExhausted
		job.LastError = out.result.Error
		metrics.RetriesExhaustedTotal.Inc()
		d.log.Warn().
			Str("retry_id", job.ID).
			Str("webhook_id", w.ID).
			Int("attempts", job.Attempt).
			Str("error", out.result.Error).
			Msg("delivery permanently failed")
	}

	return d.saveJob(bg, &job)
}

func (d *Dispatcher) saveJob(ctx context.Context, job *models.RetryJob) error {
	if err := d.store.UpdateRetryJob(ctx, job); err != nil {
		return fmt.Errorf("failed to update retry %s: %w", job.ID, err)
	}
	return nil
}
