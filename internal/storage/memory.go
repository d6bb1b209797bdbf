package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shohag/hookrelay/internal/models"
)

// MemoryStorage keeps everything in process memory. Values are copied in and
// out so callers never share state with the store.
type MemoryStorage struct {
	mu            sync.Mutex
	outbound      map[string]*models.OutboundWebhook
	inbound       map[string]*models.InboundWebhook
	deliveryLogs  []models.DeliveryLogEntry
	ingestionLogs []models.IngestionLogEntry
	retryJobs     map[string]*models.RetryJob
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		outbound:  make(map[string]*models.OutboundWebhook),
		inbound:   make(map[string]*models.InboundWebhook),
		retryJobs: make(map[string]*models.RetryJob),
	}
}

func (s *MemoryStorage) Migrate(context.Context) error { return nil }
func (s *MemoryStorage) Close() error                  { return nil }

// --- Outbound webhooks ---

func (s *MemoryStorage) CreateOutboundWebhook(_ context.Context, w *models.OutboundWebhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outbound[w.ID]; ok {
		return ErrDuplicate
	}
	s.outbound[w.ID] = copyOutbound(w)
	return nil
}

func (s *MemoryStorage) GetOutboundWebhook(_ context.Context, id string) (*models.OutboundWebhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.outbound[id]
	if !ok {
		return nil, nil
	}
	return copyOutbound(w), nil
}

func (s *MemoryStorage) ListOutboundWebhooks(_ context.Context) ([]models.OutboundWebhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OutboundWebhook, 0, len(s.outbound))
	for _, w := range s.outbound {
		out = append(out, *copyOutbound(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) UpdateOutboundWebhook(_ context.Context, w *models.OutboundWebhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.outbound[w.ID]
	if !ok {
		return ErrNotFound
	}
	next := copyOutbound(w)
	// Health fields belong to the dispatcher.
	next.ConsecutiveFailures = cur.ConsecutiveFailures
	next.LastTriggeredAt = cur.LastTriggeredAt
	next.LastSuccessAt = cur.LastSuccessAt
	next.LastError = cur.LastError
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	s.outbound[w.ID] = next
	return nil
}

func (s *MemoryStorage) DeleteOutboundWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outbound[id]; !ok {
		return ErrNotFound
	}
	delete(s.outbound, id)
	return nil
}

func (s *MemoryStorage) ListActiveOutboundWebhooksForEvent(_ context.Context, event string) ([]models.OutboundWebhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OutboundWebhook
	for _, w := range s.outbound {
		if w.IsActive && w.Subscribes(event) {
			out = append(out, *copyOutbound(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) RecordOutboundSuccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.outbound[id]
	if !ok {
		return ErrNotFound
	}
	w.ConsecutiveFailures = 0
	w.LastError = ""
	w.LastSuccessAt = timePtr(at)
	w.LastTriggeredAt = timePtr(at)
	return nil
}

func (s *MemoryStorage) RecordOutboundFailure(_ context.Context, id, errMsg string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.outbound[id]
	if !ok {
		return 0, ErrNotFound
	}
	w.ConsecutiveFailures++
	w.LastError = errMsg
	w.LastTriggeredAt = timePtr(at)
	return w.ConsecutiveFailures, nil
}

// --- Inbound webhooks ---

func (s *MemoryStorage) CreateInboundWebhook(_ context.Context, w *models.InboundWebhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[w.ID]; ok {
		return ErrDuplicate
	}
	for _, other := range s.inbound {
		if other.SecretToken == w.SecretToken {
			return ErrDuplicate
		}
	}
	s.inbound[w.ID] = copyInbound(w)
	return nil
}

func (s *MemoryStorage) GetInboundWebhook(_ context.Context, id string) (*models.InboundWebhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.inbound[id]
	if !ok {
		return nil, nil
	}
	return copyInbound(w), nil
}

func (s *MemoryStorage) ListInboundWebhooks(_ context.Context) ([]models.InboundWebhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.InboundWebhook, 0, len(s.inbound))
	for _, w := range s.inbound {
		out = append(out, *copyInbound(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) UpdateInboundWebhook(_ context.Context, w *models.InboundWebhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.inbound[w.ID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range s.inbound {
		if id != w.ID && other.SecretToken == w.SecretToken {
			return ErrDuplicate
		}
	}
	next := copyInbound(w)
	next.RequestsToday = cur.RequestsToday
	next.LastRequestAt = cur.LastRequestAt
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	s.inbound[w.ID] = next
	return nil
}

func (s *MemoryStorage) DeleteInboundWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[id]; !ok {
		return ErrNotFound
	}
	delete(s.inbound, id)
	return nil
}

func (s *MemoryStorage) FindActiveInboundWebhook(_ context.Context, pipelineID, token string) (*models.InboundWebhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.inbound {
		if w.IsActive && w.PipelineID == pipelineID && w.SecretToken == token {
			return copyInbound(w), nil
		}
	}
	return nil, nil
}

func (s *MemoryStorage) TouchInboundWebhook(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.inbound[id]
	if !ok {
		return ErrNotFound
	}
	if w.LastRequestAt != nil && sameUTCDay(*w.LastRequestAt, at) {
		w.RequestsToday++
	} else {
		w.RequestsToday = 1
	}
	w.LastRequestAt = timePtr(at)
	return nil
}

// --- Logs ---

func (s *MemoryStorage) AppendDeliveryLog(_ context.Context, e *models.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveryLogs = append(s.deliveryLogs, *e)
	return nil
}

func (s *MemoryStorage) ListDeliveryLogs(_ context.Context, webhookID string, limit int) ([]models.DeliveryLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit = listLimit(limit)
	var out []models.DeliveryLogEntry
	for i := len(s.deliveryLogs) - 1; i >= 0 && len(out) < limit; i-- {
		if webhookID == "" || s.deliveryLogs[i].WebhookID == webhookID {
			out = append(out, s.deliveryLogs[i])
		}
	}
	return out, nil
}

func (s *MemoryStorage) AppendIngestionLog(_ context.Context, e *models.IngestionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingestionLogs = append(s.ingestionLogs, *e)
	return nil
}

func (s *MemoryStorage) ListIngestionLogs(_ context.Context, inboundWebhookID string, limit int) ([]models.IngestionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit = listLimit(limit)
	var out []models.IngestionLogEntry
	for i := len(s.ingestionLogs) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.ingestionLogs[i]
		if inboundWebhookID == "" || (e.InboundWebhookID != nil && *e.InboundWebhookID == inboundWebhookID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Retry jobs ---

func (s *MemoryStorage) CreateRetryJob(_ context.Context, j *models.RetryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.retryJobs[j.ID]; ok {
		return ErrDuplicate
	}
	cp := *j
	s.retryJobs[j.ID] = &cp
	return nil
}

func (s *MemoryStorage) ClaimDueRetryJobs(_ context.Context, now time.Time, lease time.Duration, limit int) ([]models.RetryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.RetryJob
	for _, j := range s.retryJobs {
		claimable := j.State == models.RetryScheduled || j.State == models.RetrySent
		if claimable && !j.NextAttemptAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].NextAttemptAt.Before(due[b].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]models.RetryJob, 0, len(due))
	for _, j := range due {
		j.State = models.RetrySent
		j.NextAttemptAt = now.Add(lease)
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (s *MemoryStorage) UpdateRetryJob(_ context.Context, j *models.RetryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.retryJobs[j.ID]; !ok {
		return ErrNotFound
	}
	cp := *j
	s.retryJobs[j.ID] = &cp
	return nil
}

func (s *MemoryStorage) ListRetryJobs(_ context.Context, webhookID string) ([]models.RetryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RetryJob
	for _, j := range s.retryJobs {
		if webhookID == "" || j.WebhookID == webhookID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// --- Stats ---

func (s *MemoryStorage) GetStats(_ context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &Stats{
		OutboundWebhooks: int64(len(s.outbound)),
		InboundWebhooks:  int64(len(s.inbound)),
	}
	for _, w := range s.outbound {
		if w.IsActive {
			stats.ActiveOutbound++
		}
		if w.Degraded() {
			stats.DegradedOutbound++
		}
	}
	for _, w := range s.inbound {
		if w.IsActive {
			stats.ActiveInbound++
		}
	}
	for _, e := range s.deliveryLogs {
		switch e.Status {
		case models.DeliverySuccess:
			stats.Deliveries++
			stats.DeliverySuccesses++
		case models.DeliveryFailed:
			stats.Deliveries++
			stats.DeliveryFailures++
		}
	}
	for _, e := range s.ingestionLogs {
		stats.Ingestions++
		if e.Status == models.IngestionRejected {
			stats.IngestionRejected++
		}
	}
	for _, j := range s.retryJobs {
		if j.State == models.RetryScheduled || j.State == models.RetrySent {
			stats.PendingRetries++
		}
	}
	if stats.Deliveries > 0 {
		stats.DeliverySuccessRate = float64(stats.DeliverySuccesses) / float64(stats.Deliveries) * 100
	}
	return stats, nil
}

func copyOutbound(w *models.OutboundWebhook) *models.OutboundWebhook {
	cp := *w
	cp.Events = append([]string(nil), w.Events...)
	cp.IPAllowlist = append([]string(nil), w.IPAllowlist...)
	if w.Headers != nil {
		cp.Headers = make(map[string]string, len(w.Headers))
		for k, v := range w.Headers {
			cp.Headers[k] = v
		}
	}
	return &cp
}

func copyInbound(w *models.InboundWebhook) *models.InboundWebhook {
	cp := *w
	cp.FieldMappings = append([]models.FieldMapping(nil), w.FieldMappings...)
	cp.DefaultTags = append([]string(nil), w.DefaultTags...)
	cp.IPAllowlist = append([]string(nil), w.IPAllowlist...)
	return &cp
}

func timePtr(t time.Time) *time.Time {
	return &t
}
