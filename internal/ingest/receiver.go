// Package ingest authenticates, rate limits and maps third-party payloads
// posted to an inbound webhook URL into deal creation commands.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/hookrelay/internal/mapping"
	"github.com/shohag/hookrelay/internal/metrics"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/ratelimit"
	"github.com/shohag/hookrelay/internal/signing"
	"github.com/shohag/hookrelay/internal/storage"
)

const (
	msgInvalidJSON    = "Invalid JSON payload"
	msgNotFound       = "Webhook not found or inactive"
	msgRateLimited    = "Rate limit exceeded"
	msgIPNotAllowed   = "IP not allowed"
	msgBadSignature   = "Invalid signature"
	msgInternal       = "Internal server error"
	msgInvalidMapping = "Invalid field mappings"
)

type Request struct {
	PipelineID string
	Token      string
	Body       []byte
	Headers    http.Header
	SourceIP   string
}

// Result is what the HTTP layer writes back: a status code and a JSON body.
type Result struct {
	Status int
	Body   any
}

type SuccessBody struct {
	Success bool                `json:"success"`
	Deal    *models.DealCommand `json:"deal"`
	LogID   string              `json:"logId"`
}

type ErrorBody struct {
	Error string `json:"error"`
}

// Store is the slice of storage the receiver needs.
type Store interface {
	storage.InboundStore
	storage.IngestionLogStore
}

type Receiver struct {
	store   Store
	limiter ratelimit.Limiter
	now     func() time.Time
	log     zerolog.Logger
}

func NewReceiver(store Store, limiter ratelimit.Limiter, log zerolog.Logger) *Receiver {
	return &Receiver{
		store:   store,
		limiter: limiter,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// Receive runs the inbound pipeline for one request. The returned Result is
// always set. A non-nil error means an unexpected failure (the Result is then
// a 500) and is meant for logging.
func (r *Receiver) Receive(ctx context.Context, req Request) (*Result, error) {
	payload, err := decode(req.Body)
	if err != nil {
		metrics.IncIngestion(string(models.IngestionRejected), http.StatusBadRequest)
		return failure(http.StatusBadRequest, msgInvalidJSON), nil
	}
	raw := json.RawMessage(req.Body)

	w, err := r.store.FindActiveInboundWebhook(ctx, req.PipelineID, req.Token)
	if err != nil {
		return failure(http.StatusInternalServerError, msgInternal), fmt.Errorf("failed to find inbound webhook: %w", err)
	}
	if w == nil {
		return r.reject(ctx, nil, req, raw, http.StatusNotFound, msgNotFound), nil
	}
	id := w.ID

	allowed, err := r.limiter.Allow(ctx, w.ID)
	if err != nil {
		res := r.reject(ctx, &id, req, raw, http.StatusInternalServerError, msgInternal)
		return res, fmt.Errorf("rate limiter failed: %w", err)
	}
	metrics.IncRateLimit(allowed)
	if !allowed {
		return r.reject(ctx, &id, req, raw, http.StatusTooManyRequests, msgRateLimited), nil
	}

	if len(w.IPAllowlist) > 0 && !IPAllowed(req.SourceIP, w.IPAllowlist) {
		return r.reject(ctx, &id, req, raw, http.StatusForbidden, msgIPNotAllowed), nil
	}

	if w.HMACSecret != "" {
		provided := req.Headers.Get(signing.HeaderName)
		if !signing.Verify(req.Body, provided, w.HMACSecret) {
			return r.reject(ctx, &id, req, raw, http.StatusUnauthorized, msgBadSignature), nil
		}
	}

	if err := mapping.Validate(w.FieldMappings); err != nil {
		return r.reject(ctx, &id, req, raw, http.StatusUnprocessableEntity, fmt.Sprintf("%s: %v", msgInvalidMapping, err)), nil
	}
	mapped := mapping.Apply(payload, w.FieldMappings)
	deal := BuildDeal(w, mapped, raw)

	now := r.now()
	entry := &models.IngestionLogEntry{
		ID:               models.NewID("ilog"),
		InboundWebhookID: &id,
		SourceIP:         req.SourceIP,
		RawPayload:       raw,
		MappedData:       mapped,
		Status:           models.IngestionSuccess,
		CreatedAt:        now,
	}
	if err := r.store.AppendIngestionLog(ctx, entry); err != nil {
		metrics.IncIngestion(string(models.IngestionRejected), http.StatusInternalServerError)
		return failure(http.StatusInternalServerError, msgInternal), fmt.Errorf("failed to append ingestion log: %w", err)
	}
	if err := r.store.TouchInboundWebhook(ctx, w.ID, now); err != nil {
		r.log.Error().Err(err).Str("inbound_webhook_id", w.ID).Msg("failed to update request counters")
	}

	metrics.IncIngestion(string(models.IngestionSuccess), http.StatusOK)
	r.log.Info().
		Str("inbound_webhook_id", w.ID).
		Str("pipeline_id", w.PipelineID).
		Str("source_ip", req.SourceIP).
		Str("log_id", entry.ID).
		Msg("inbound webhook accepted")

	return &Result{
		Status: http.StatusOK,
		Body:   SuccessBody{Success: true, Deal: deal, LogID: entry.ID},
	}, nil
}

// reject records a rejected request and builds the matching failure result.
func (r *Receiver) reject(ctx context.Context, webhookID *string, req Request, raw json.RawMessage, status int, msg string) *Result {
	entry := &models.IngestionLogEntry{
		ID:               models.NewID("ilog"),
		InboundWebhookID: webhookID,
		SourceIP:         req.SourceIP,
		RawPayload:       raw,
		Status:           models.IngestionRejected,
		ErrorMessage:     msg,
		CreatedAt:        r.now(),
	}
	if err := r.store.AppendIngestionLog(ctx, entry); err != nil {
		r.log.Error().Err(err).Msg("failed to append ingestion log")
	}
	metrics.IncIngestion(string(models.IngestionRejected), status)

	ev := r.log.Warn().
		Int("status", status).
		Str("pipeline_id", req.PipelineID).
		Str("source_ip", req.SourceIP).
		Str("reason", msg)
	if webhookID != nil {
		ev = ev.Str("inbound_webhook_id", *webhookID)
	}
	ev.Msg("inbound webhook rejected")

	return failure(status, msg)
}

func failure(status int, msg string) *Result {
	return &Result{Status: status, Body: ErrorBody{Error: msg}}
}

// decode parses exactly one JSON value. Numbers stay json.Number so large
// integers such as phone numbers keep every digit.
func decode(body []byte) (any, error) {
	if !json.Valid(body) {
		return nil, errors.New("invalid json")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
