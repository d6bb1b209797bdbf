package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/signing"
)

const (
	DefaultTimeout           = 10 * time.Second
	DefaultResponseBodyLimit = 1024
	DefaultUserAgent         = "HookRelay/1.0"
)

type SendResult struct {
	StatusCode   int
	ResponseBody string
	LatencyMs    int64
	Error        string
}

func (r *SendResult) OK() bool {
	return r.Error == "" && IsSuccess(r.StatusCode)
}

// Failure describes why a send did not succeed, or "" when it did.
func (r *SendResult) Failure() string {
	switch {
	case r.Error != "":
		return r.Error
	case !IsSuccess(r.StatusCode):
		return fmt.Sprintf("HTTP %d", r.StatusCode)
	}
	return ""
}

type Sender struct {
	client    *http.Client
	bodyLimit int64
}

func NewSender(timeout time.Duration, bodyLimit int64) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if bodyLimit <= 0 {
		bodyLimit = DefaultResponseBodyLimit
	}
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
		bodyLimit: bodyLimit,
	}
}

func (s *Sender) Send(ctx context.Context, method, url string, header http.Header, payload []byte) *SendResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("failed to create request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	for k, vs := range header {
		req.Header[k] = vs
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("request failed: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, s.bodyLimit))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(body),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}

// buildHeaders assembles the outbound headers. Custom headers may override
// the defaults but never the signature, which is set last.
func buildHeaders(w *models.OutboundWebhook, payload []byte, userAgent string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", userAgent)
	for k, v := range w.Headers {
		h.Set(k, v)
	}
	if w.Secret != "" {
		h.Set(signing.HeaderName, signing.Header(signing.Sign(payload, w.Secret)))
	}
	return h
}

func webhookMethod(w *models.OutboundWebhook) string {
	if w.Method == "" {
		return http.MethodPost
	}
	return w.Method
}
