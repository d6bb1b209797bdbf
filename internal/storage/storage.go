package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shohag/hookrelay/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// OutboundStore holds outbound subscriptions and their health fields.
type OutboundStore interface {
	CreateOutboundWebhook(ctx context.Context, w *models.OutboundWebhook) error
	GetOutboundWebhook(ctx context.Context, id string) (*models.OutboundWebhook, error)
	ListOutboundWebhooks(ctx context.Context) ([]models.OutboundWebhook, error)
	UpdateOutboundWebhook(ctx context.Context, w *models.OutboundWebhook) error
	DeleteOutboundWebhook(ctx context.Context, id string) error
	ListActiveOutboundWebhooksForEvent(ctx context.Context, event string) ([]models.OutboundWebhook, error)

	// RecordOutboundSuccess resets the failure counter, clears last_error and
	// stamps last_success_at and last_triggered_at.
	RecordOutboundSuccess(ctx context.Context, id string, at time.Time) error
	// RecordOutboundFailure atomically increments the failure counter and
	// returns its new value.
	RecordOutboundFailure(ctx context.Context, id, errMsg string, at time.Time) (int, error)
}

// InboundStore holds receiving endpoints.
type InboundStore interface {
	CreateInboundWebhook(ctx context.Context, w *models.InboundWebhook) error
	GetInboundWebhook(ctx context.Context, id string) (*models.InboundWebhook, error)
	ListInboundWebhooks(ctx context.Context) ([]models.InboundWebhook, error)
	UpdateInboundWebhook(ctx context.Context, w *models.InboundWebhook) error
	DeleteInboundWebhook(ctx context.Context, id string) error
	// FindActiveInboundWebhook returns nil, nil when no active webhook matches.
	FindActiveInboundWebhook(ctx context.Context, pipelineID, token string) (*models.InboundWebhook, error)
	// TouchInboundWebhook bumps requests_today, starting over on a new UTC
	// day, and stamps last_request_at.
	TouchInboundWebhook(ctx context.Context, id string, at time.Time) error
}

type DeliveryLogStore interface {
	AppendDeliveryLog(ctx context.Context, e *models.DeliveryLogEntry) error
	ListDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]models.DeliveryLogEntry, error)
}

type IngestionLogStore interface {
	AppendIngestionLog(ctx context.Context, e *models.IngestionLogEntry) error
	ListIngestionLogs(ctx context.Context, inboundWebhookID string, limit int) ([]models.IngestionLogEntry, error)
}

type RetryStore interface {
	CreateRetryJob(ctx context.Context, j *models.RetryJob) error
	// ClaimDueRetryJobs moves up to limit due jobs from scheduled_retry to
	// sent and returns them. A job is handed to one caller only. Claimed jobs
	// get NextAttemptAt = now + lease; a sent job still unresolved after its
	// lease is claimable again.
	ClaimDueRetryJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.RetryJob, error)
	UpdateRetryJob(ctx context.Context, j *models.RetryJob) error
	ListRetryJobs(ctx context.Context, webhookID string) ([]models.RetryJob, error)
}

type Storage interface {
	OutboundStore
	InboundStore
	DeliveryLogStore
	IngestionLogStore
	RetryStore

	// Stats
	GetStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	OutboundWebhooks    int64   `json:"outbound_webhooks"`
	ActiveOutbound      int64   `json:"active_outbound"`
	DegradedOutbound    int64   `json:"degraded_outbound"`
	InboundWebhooks     int64   `json:"inbound_webhooks"`
	ActiveInbound       int64   `json:"active_inbound"`
	Deliveries          int64   `json:"deliveries"`
	DeliverySuccesses   int64   `json:"delivery_successes"`
	DeliveryFailures    int64   `json:"delivery_failures"`
	DeliverySuccessRate float64 `json:"delivery_success_rate"`
	Ingestions          int64   `json:"ingestions"`
	IngestionRejected   int64   `json:"ingestion_rejected"`
	PendingRetries      int64   `json:"pending_retries"`
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
