package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shohag/hookrelay/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// One writer keeps the read-modify-write statements below serialized.
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS outbound_webhooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT 'POST',
			events TEXT NOT NULL DEFAULT '[]',
			secret TEXT NOT NULL DEFAULT '',
			headers TEXT NOT NULL DEFAULT '{}',
			ip_allowlist TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			retry_enabled INTEGER NOT NULL DEFAULT 1,
			max_retries INTEGER NOT NULL DEFAULT 3,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			last_triggered_at DATETIME,
			last_success_at DATETIME,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS inbound_webhooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			pipeline_id TEXT NOT NULL,
			phase_id TEXT NOT NULL DEFAULT '',
			field_mappings TEXT NOT NULL DEFAULT '[]',
			default_tags TEXT NOT NULL DEFAULT '[]',
			default_temperature TEXT NOT NULL DEFAULT 'warm',
			secret_token TEXT NOT NULL UNIQUE,
			hmac_secret TEXT NOT NULL DEFAULT '',
			ip_allowlist TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			requests_today INTEGER NOT NULL DEFAULT 0,
			requests_day TEXT NOT NULL DEFAULT '',
			last_request_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_logs (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			request_payload TEXT NOT NULL,
			response_status INTEGER,
			response_body TEXT NOT NULL DEFAULT '',
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			attempt_number INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_logs (
			id TEXT PRIMARY KEY,
			inbound_webhook_id TEXT,
			source_ip TEXT NOT NULL DEFAULT '',
			raw_payload TEXT NOT NULL,
			mapped_data TEXT,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS retry_jobs (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			state TEXT NOT NULL,
			next_attempt_at INTEGER NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS outbound_webhook_events (
			webhook_id TEXT NOT NULL REFERENCES outbound_webhooks(id) ON DELETE CASCADE,
			event TEXT NOT NULL,
			PRIMARY KEY (webhook_id, event)
		)`,
		`INSERT OR IGNORE INTO outbound_webhook_events (webhook_id, event)
		 SELECT o.id, e.value FROM outbound_webhooks o, json_each(o.events) e`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_active ON outbound_webhooks(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_events_event ON outbound_webhook_events(event)`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_lookup ON inbound_webhooks(pipeline_id, secret_token, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_logs_webhook ON delivery_logs(webhook_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ingestion_logs_webhook ON ingestion_logs(inbound_webhook_id)`,
		`CREATE INDEX IF NOT EXISTS idx_retry_jobs_due ON retry_jobs(state, next_attempt_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// --- Outbound webhooks ---

const outboundColumns = `id, name, url, method, events, secret, headers, ip_allowlist, is_active, retry_enabled,
	max_retries, consecutive_failures, last_triggered_at, last_success_at, last_error, created_at, updated_at`

func (s *SQLiteStorage) CreateOutboundWebhook(ctx context.Context, w *models.OutboundWebhook) error {
	events, _ := json.Marshal(w.Events)
	headers, _ := json.Marshal(w.Headers)
	allow, _ := json.Marshal(w.IPAllowlist)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbound_webhooks (id, name, url, method, events, secret, headers, ip_allowlist, is_active, retry_enabled, max_retries, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.URL, w.Method, string(events), w.Secret, string(headers), string(allow),
		boolToInt(w.IsActive), boolToInt(w.RetryEnabled), w.MaxRetries, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return translateErr(err)
	}
	if err := replaceEvents(ctx, tx, w.ID, w.Events); err != nil {
		return err
	}
	return tx.Commit()
}

// replaceEvents rewrites the subscription index rows of one webhook.
func replaceEvents(ctx context.Context, tx *sql.Tx, id string, events []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM outbound_webhook_events WHERE webhook_id = ?`, id); err != nil {
		return err
	}
	for _, e := range events {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO outbound_webhook_events (webhook_id, event) VALUES (?, ?)`, id, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) scanOutbound(row scanner) (*models.OutboundWebhook, error) {
	var w models.OutboundWebhook
	var events, headers, allow string
	var active, retry int
	var lastTriggered, lastSuccess sql.NullTime
	err := row.Scan(&w.ID, &w.Name, &w.URL, &w.Method, &events, &w.Secret, &headers, &allow, &active, &retry,
		&w.MaxRetries, &w.ConsecutiveFailures, &lastTriggered, &lastSuccess, &w.LastError, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalColumns(
		column{"events", events, &w.Events},
		column{"headers", headers, &w.Headers},
		column{"ip_allowlist", allow, &w.IPAllowlist},
	); err != nil {
		return nil, err
	}
	w.IsActive = active == 1
	w.RetryEnabled = retry == 1
	w.LastTriggeredAt = nullTime(lastTriggered)
	w.LastSuccessAt = nullTime(lastSuccess)
	return &w, nil
}

func (s *SQLiteStorage) GetOutboundWebhook(ctx context.Context, id string) (*models.OutboundWebhook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outboundColumns+` FROM outbound_webhooks WHERE id = ?`, id)
	w, err := s.scanOutbound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func (s *SQLiteStorage) ListOutboundWebhooks(ctx context.Context) ([]models.OutboundWebhook, error) {
	return s.queryOutbound(ctx, `SELECT `+outboundColumns+` FROM outbound_webhooks ORDER BY created_at DESC`)
}

func (s *SQLiteStorage) ListActiveOutboundWebhooksForEvent(ctx context.Context, event string) ([]models.OutboundWebhook, error) {
	return s.queryOutbound(ctx,
		`SELECT `+outboundColumns+` FROM outbound_webhooks
		 WHERE is_active = 1
		   AND id IN (SELECT webhook_id FROM outbound_webhook_events WHERE event IN (?, '*'))
		 ORDER BY created_at`,
		event)
}

func (s *SQLiteStorage) queryOutbound(ctx context.Context, query string, args ...interface{}) ([]models.OutboundWebhook, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OutboundWebhook
	for rows.Next() {
		w, err := s.scanOutbound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) UpdateOutboundWebhook(ctx context.Context, w *models.OutboundWebhook) error {
	events, _ := json.Marshal(w.Events)
	headers, _ := json.Marshal(w.Headers)
	allow, _ := json.Marshal(w.IPAllowlist)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE outbound_webhooks SET name = ?, url = ?, method = ?, events = ?, secret = ?, headers = ?, ip_allowlist = ?,
		 is_active = ?, retry_enabled = ?, max_retries = ?, updated_at = ? WHERE id = ?`,
		w.Name, w.URL, w.Method, string(events), w.Secret, string(headers), string(allow),
		boolToInt(w.IsActive), boolToInt(w.RetryEnabled), w.MaxRetries, time.Now().UTC(), w.ID,
	)
	if err := affected(res, err); err != nil {
		return err
	}
	if err := replaceEvents(ctx, tx, w.ID, w.Events); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) DeleteOutboundWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbound_webhooks WHERE id = ?`, id)
	return affected(res, err)
}

func (s *SQLiteStorage) RecordOutboundSuccess(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbound_webhooks SET consecutive_failures = 0, last_error = '', last_success_at = ?, last_triggered_at = ? WHERE id = ?`,
		at, at, id,
	)
	return affected(res, err)
}

func (s *SQLiteStorage) RecordOutboundFailure(ctx context.Context, id, errMsg string, at time.Time) (int, error) {
	var failures int
	err := s.db.QueryRowContext(ctx,
		`UPDATE outbound_webhooks SET consecutive_failures = consecutive_failures + 1, last_error = ?, last_triggered_at = ?
		 WHERE id = ? RETURNING consecutive_failures`,
		errMsg, at, id,
	).Scan(&failures)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return failures, err
}

// --- Inbound webhooks ---

const inboundColumns = `id, name, pipeline_id, phase_id, field_mappings, default_tags, default_temperature, secret_token,
	hmac_secret, ip_allowlist, is_active, requests_today, last_request_at, created_at, updated_at`

func (s *SQLiteStorage) CreateInboundWebhook(ctx context.Context, w *models.InboundWebhook) error {
	mappings, _ := json.Marshal(w.FieldMappings)
	tags, _ := json.Marshal(w.DefaultTags)
	allow, _ := json.Marshal(w.IPAllowlist)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_webhooks (id, name, pipeline_id, phase_id, field_mappings, default_tags, default_temperature,
		 secret_token, hmac_secret, ip_allowlist, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.PipelineID, w.PhaseID, string(mappings), string(tags), string(w.DefaultTemperature),
		w.SecretToken, w.HMACSecret, string(allow), boolToInt(w.IsActive), w.CreatedAt, w.UpdatedAt,
	)
	return translateErr(err)
}

func (s *SQLiteStorage) scanInbound(row scanner) (*models.InboundWebhook, error) {
	var w models.InboundWebhook
	var mappings, tags, allow, temperature string
	var active int
	var lastRequest sql.NullTime
	err := row.Scan(&w.ID, &w.Name, &w.PipelineID, &w.PhaseID, &mappings, &tags, &temperature, &w.SecretToken,
		&w.HMACSecret, &allow, &active, &w.RequestsToday, &lastRequest, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalColumns(
		column{"field_mappings", mappings, &w.FieldMappings},
		column{"default_tags", tags, &w.DefaultTags},
		column{"ip_allowlist", allow, &w.IPAllowlist},
	); err != nil {
		return nil, err
	}
	w.DefaultTemperature = models.Temperature(temperature)
	w.IsActive = active == 1
	w.LastRequestAt = nullTime(lastRequest)
	return &w, nil
}

func (s *SQLiteStorage) GetInboundWebhook(ctx context.Context, id string) (*models.InboundWebhook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inboundColumns+` FROM inbound_webhooks WHERE id = ?`, id)
	w, err := s.scanInbound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func (s *SQLiteStorage) FindActiveInboundWebhook(ctx context.Context, pipelineID, token string) (*models.InboundWebhook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inboundColumns+` FROM inbound_webhooks WHERE pipeline_id = ? AND secret_token = ? AND is_active = 1`,
		pipelineID, token)
	w, err := s.scanInbound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func (s *SQLiteStorage) ListInboundWebhooks(ctx context.Context) ([]models.InboundWebhook, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+inboundColumns+` FROM inbound_webhooks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.InboundWebhook
	for rows.Next() {
		w, err := s.scanInbound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) UpdateInboundWebhook(ctx context.Context, w *models.InboundWebhook) error {
	mappings, _ := json.Marshal(w.FieldMappings)
	tags, _ := json.Marshal(w.DefaultTags)
	allow, _ := json.Marshal(w.IPAllowlist)
	res, err := s.db.ExecContext(ctx,
		`UPDATE inbound_webhooks SET name = ?, pipeline_id = ?, phase_id = ?, field_mappings = ?, default_tags = ?,
		 default_temperature = ?, secret_token = ?, hmac_secret = ?, ip_allowlist = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		w.Name, w.PipelineID, w.PhaseID, string(mappings), string(tags), string(w.DefaultTemperature),
		w.SecretToken, w.HMACSecret, string(allow), boolToInt(w.IsActive), time.Now().UTC(), w.ID,
	)
	if err != nil {
		return translateErr(err)
	}
	return affected(res, nil)
}

func (s *SQLiteStorage) DeleteInboundWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_webhooks WHERE id = ?`, id)
	return affected(res, err)
}

func (s *SQLiteStorage) TouchInboundWebhook(ctx context.Context, id string, at time.Time) error {
	day := at.UTC().Format("2006-01-02")
	res, err := s.db.ExecContext(ctx,
		`UPDATE inbound_webhooks SET
			requests_today = CASE WHEN requests_day = ? THEN requests_today + 1 ELSE 1 END,
			requests_day = ?,
			last_request_at = ?
		 WHERE id = ?`,
		day, day, at, id,
	)
	return affected(res, err)
}

// --- Logs ---

func (s *SQLiteStorage) AppendDeliveryLog(ctx context.Context, e *models.DeliveryLogEntry) error {
	var status sql.NullInt64
	if e.ResponseStatus != nil {
		status = sql.NullInt64{Int64: int64(*e.ResponseStatus), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_logs (id, webhook_id, event_type, request_payload, response_status, response_body,
		 response_time_ms, attempt_number, status, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WebhookID, e.EventType, string(e.RequestPayload), status, e.ResponseBody,
		e.ResponseTimeMs, e.AttemptNumber, string(e.Status), e.ErrorMessage, e.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) ListDeliveryLogs(ctx context.Context, webhookID string, limit int) ([]models.DeliveryLogEntry, error) {
	query := `SELECT id, webhook_id, event_type, request_payload, response_status, response_body, response_time_ms,
		attempt_number, status, error_message, created_at FROM delivery_logs`
	args := []interface{}{}
	if webhookID != "" {
		query += ` WHERE webhook_id = ?`
		args = append(args, webhookID)
	}
	query += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, listLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DeliveryLogEntry
	for rows.Next() {
		var e models.DeliveryLogEntry
		var payload, status string
		var respStatus sql.NullInt64
		if err := rows.Scan(&e.ID, &e.WebhookID, &e.EventType, &payload, &respStatus, &e.ResponseBody, &e.ResponseTimeMs,
			&e.AttemptNumber, &status, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RequestPayload = json.RawMessage(payload)
		e.Status = models.DeliveryStatus(status)
		if respStatus.Valid {
			code := int(respStatus.Int64)
			e.ResponseStatus = &code
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) AppendIngestionLog(ctx context.Context, e *models.IngestionLogEntry) error {
	var mapped sql.NullString
	if e.MappedData != nil {
		b, err := json.Marshal(e.MappedData)
		if err != nil {
			return fmt.Errorf("encode mapped data: %w", err)
		}
		mapped = sql.NullString{String: string(b), Valid: true}
	}
	var webhookID sql.NullString
	if e.InboundWebhookID != nil {
		webhookID = sql.NullString{String: *e.InboundWebhookID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_logs (id, inbound_webhook_id, source_ip, raw_payload, mapped_data, status, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, webhookID, e.SourceIP, string(e.RawPayload), mapped, string(e.Status), e.ErrorMessage, e.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) ListIngestionLogs(ctx context.Context, inboundWebhookID string, limit int) ([]models.IngestionLogEntry, error) {
	query := `SELECT id, inbound_webhook_id, source_ip, raw_payload, mapped_data, status, error_message, created_at FROM ingestion_logs`
	args := []interface{}{}
	if inboundWebhookID != "" {
		query += ` WHERE inbound_webhook_id = ?`
		args = append(args, inboundWebhookID)
	}
	query += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, listLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IngestionLogEntry
	for rows.Next() {
		var e models.IngestionLogEntry
		var webhookID, mapped sql.NullString
		var payload, status string
		if err := rows.Scan(&e.ID, &webhookID, &e.SourceIP, &payload, &mapped, &status, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RawPayload = json.RawMessage(payload)
		e.Status = models.IngestionStatus(status)
		if webhookID.Valid {
			id := webhookID.String
			e.InboundWebhookID = &id
		}
		if mapped.Valid {
			if err := json.Unmarshal([]byte(mapped.String), &e.MappedData); err != nil {
				return nil, fmt.Errorf("decode mapped data: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Retry jobs ---

const retryColumns = `id, webhook_id, event_type, payload, attempt, state, next_attempt_at, last_error, created_at, updated_at`

func (s *SQLiteStorage) CreateRetryJob(ctx context.Context, j *models.RetryJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retry_jobs (`+retryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.WebhookID, j.EventType, string(j.Payload), j.Attempt, string(j.State),
		j.NextAttemptAt.UnixMilli(), j.LastError, j.CreatedAt, j.UpdatedAt,
	)
	return translateErr(err)
}

func scanRetryJob(row scanner) (*models.RetryJob, error) {
	var j models.RetryJob
	var payload, state string
	var next int64
	if err := row.Scan(&j.ID, &j.WebhookID, &j.EventType, &payload, &j.Attempt, &state, &next, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	j.State = models.RetryState(state)
	j.NextAttemptAt = time.UnixMilli(next).UTC()
	return &j, nil
}

func (s *SQLiteStorage) ClaimDueRetryJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.RetryJob, error) {
	due := now.UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`UPDATE retry_jobs SET state = ?, next_attempt_at = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM retry_jobs WHERE state IN (?, ?) AND next_attempt_at <= ?
			ORDER BY next_attempt_at LIMIT ?
		 ) AND state IN (?, ?) AND next_attempt_at <= ?
		 RETURNING `+retryColumns,
		string(models.RetrySent), now.Add(lease).UnixMilli(), now,
		string(models.RetryScheduled), string(models.RetrySent), due, limit,
		string(models.RetryScheduled), string(models.RetrySent), due,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RetryJob
	for rows.Next() {
		j, err := scanRetryJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) UpdateRetryJob(ctx context.Context, j *models.RetryJob) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE retry_jobs SET attempt = ?, state = ?, next_attempt_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		j.Attempt, string(j.State), j.NextAttemptAt.UnixMilli(), j.LastError, time.Now().UTC(), j.ID,
	)
	return affected(res, err)
}

func (s *SQLiteStorage) ListRetryJobs(ctx context.Context, webhookID string) ([]models.RetryJob, error) {
	query := `SELECT ` + retryColumns + ` FROM retry_jobs`
	args := []interface{}{}
	if webhookID != "" {
		query += ` WHERE webhook_id = ?`
		args = append(args, webhookID)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RetryJob
	for rows.Next() {
		j, err := scanRetryJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		dest  *int64
		query string
	}{
		{&stats.OutboundWebhooks, `SELECT COUNT(*) FROM outbound_webhooks`},
		{&stats.ActiveOutbound, `SELECT COUNT(*) FROM outbound_webhooks WHERE is_active = 1`},
		{&stats.DegradedOutbound, `SELECT COUNT(*) FROM outbound_webhooks WHERE consecutive_failures > max_retries`},
		{&stats.InboundWebhooks, `SELECT COUNT(*) FROM inbound_webhooks`},
		{&stats.ActiveInbound, `SELECT COUNT(*) FROM inbound_webhooks WHERE is_active = 1`},
		{&stats.DeliverySuccesses, `SELECT COUNT(*) FROM delivery_logs WHERE status = 'success'`},
		{&stats.DeliveryFailures, `SELECT COUNT(*) FROM delivery_logs WHERE status = 'failed'`},
		{&stats.Ingestions, `SELECT COUNT(*) FROM ingestion_logs`},
		{&stats.IngestionRejected, `SELECT COUNT(*) FROM ingestion_logs WHERE status = 'rejected'`},
		{&stats.PendingRetries, `SELECT COUNT(*) FROM retry_jobs WHERE state IN ('scheduled_retry', 'sent')`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	stats.Deliveries = stats.DeliverySuccesses + stats.DeliveryFailures
	if stats.Deliveries > 0 {
		stats.DeliverySuccessRate = float64(stats.DeliverySuccesses) / float64(stats.Deliveries) * 100
	}
	return stats, nil
}

// --- helpers ---

type column struct {
	name string
	raw  string
	dest interface{}
}

func unmarshalColumns(cols ...column) error {
	for _, c := range cols {
		if c.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.raw), c.dest); err != nil {
			return fmt.Errorf("decode %s: %w", c.name, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func translateErr(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
