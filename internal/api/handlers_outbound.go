package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shohag/hookrelay/internal/delivery"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/storage"
)

const defaultMaxRetries = 3

type OutboundHandler struct {
	store  storage.Storage
	tester *delivery.Tester
	log    zerolog.Logger
}

func NewOutboundHandler(store storage.Storage, tester *delivery.Tester, log zerolog.Logger) *OutboundHandler {
	return &OutboundHandler{store: store, tester: tester, log: log}
}

type outboundRequest struct {
	Name         *string           `json:"name"`
	URL          *string           `json:"url"`
	Method       *string           `json:"method"`
	Events       []string          `json:"events"`
	Secret       *string           `json:"secret"`
	Headers      map[string]string `json:"headers"`
	IPAllowlist  []string          `json:"ip_allowlist"`
	IsActive     *bool             `json:"is_active"`
	RetryEnabled *bool             `json:"retry_enabled"`
	MaxRetries   *int              `json:"max_retries"`
}

// apply copies the fields present in req onto wh.
func (req *outboundRequest) apply(wh *models.OutboundWebhook) {
	if req.Name != nil {
		wh.Name = strings.TrimSpace(*req.Name)
	}
	if req.URL != nil {
		wh.URL = strings.TrimSpace(*req.URL)
	}
	if req.Method != nil {
		wh.Method = strings.ToUpper(strings.TrimSpace(*req.Method))
	}
	if req.Events != nil {
		wh.Events = req.Events
	}
	if req.Secret != nil {
		wh.Secret = *req.Secret
	}
	if req.Headers != nil {
		wh.Headers = req.Headers
	}
	if req.IPAllowlist != nil {
		wh.IPAllowlist = req.IPAllowlist
	}
	if req.IsActive != nil {
		wh.IsActive = *req.IsActive
	}
	if req.RetryEnabled != nil {
		wh.RetryEnabled = *req.RetryEnabled
	}
	if req.MaxRetries != nil {
		wh.MaxRetries = *req.MaxRetries
	}
}

func validateOutbound(wh *models.OutboundWebhook) error {
	if wh.Name == "" {
		return errors.New("name is required")
	}
	u, err := url.Parse(wh.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be a valid HTTP or HTTPS URL")
	}
	if wh.Method != http.MethodPost && wh.Method != http.MethodPut {
		return errors.New("method must be POST or PUT")
	}
	if len(wh.Events) == 0 {
		return errors.New("events must not be empty")
	}
	for _, e := range wh.Events {
		if strings.TrimSpace(e) == "" {
			return errors.New("event names must not be blank")
		}
	}
	if wh.MaxRetries < 0 || wh.MaxRetries > models.MaxRetriesLimit {
		return fmt.Errorf("max_retries must be between 0 and %d", models.MaxRetriesLimit)
	}
	return nil
}

func (h *OutboundHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req outboundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	wh := &models.OutboundWebhook{
		ID:           models.NewID("out"),
		Method:       http.MethodPost,
		Secret:       models.NewSecret(),
		Headers:      map[string]string{},
		IPAllowlist:  []string{},
		IsActive:     true,
		RetryEnabled: true,
		MaxRetries:   defaultMaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	req.apply(wh)

	if err := validateOutbound(wh); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateOutboundWebhook(r.Context(), wh); err != nil {
		h.log.Error().Err(err).Msg("failed to create outbound webhook")
		writeError(w, http.StatusInternalServerError, "failed to create outbound webhook")
		return
	}

	writeJSON(w, http.StatusCreated, wh)
}

func (h *OutboundHandler) load(w http.ResponseWriter, r *http.Request) *models.OutboundWebhook {
	id := chi.URLParam(r, "id")
	wh, err := h.store.GetOutboundWebhook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get outbound webhook")
		return nil
	}
	if wh == nil {
		writeError(w, http.StatusNotFound, "outbound webhook not found")
		return nil
	}
	return wh
}

func (h *OutboundHandler) Get(w http.ResponseWriter, r *http.Request) {
	if wh := h.load(w, r); wh != nil {
		writeJSON(w, http.StatusOK, wh)
	}
}

func (h *OutboundHandler) List(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.store.ListOutboundWebhooks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list outbound webhooks")
		return
	}
	if hooks == nil {
		hooks = []models.OutboundWebhook{}
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (h *OutboundHandler) Update(w http.ResponseWriter, r *http.Request) {
	wh := h.load(w, r)
	if wh == nil {
		return
	}

	var req outboundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.apply(wh)

	if err := validateOutbound(wh); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.UpdateOutboundWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update outbound webhook")
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *OutboundHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteOutboundWebhook(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "outbound webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete outbound webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OutboundHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	wh := h.load(w, r)
	if wh == nil {
		return
	}

	wh.IsActive = !wh.IsActive
	if err := h.store.UpdateOutboundWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle outbound webhook")
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (h *OutboundHandler) Test(w http.ResponseWriter, r *http.Request) {
	res, err := h.tester.Test(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, delivery.ErrWebhookNotFound) {
		writeError(w, http.StatusNotFound, "outbound webhook not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("test delivery failed")
		writeError(w, http.StatusInternalServerError, "failed to test outbound webhook")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OutboundHandler) Logs(w http.ResponseWriter, r *http.Request) {
	wh := h.load(w, r)
	if wh == nil {
		return
	}

	logs, err := h.store.ListDeliveryLogs(r.Context(), wh.ID, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list delivery logs")
		return
	}
	if logs == nil {
		logs = []models.DeliveryLogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *OutboundHandler) Retries(w http.ResponseWriter, r *http.Request) {
	wh := h.load(w, r)
	if wh == nil {
		return
	}

	jobs, err := h.store.ListRetryJobs(r.Context(), wh.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list retries")
		return
	}
	if jobs == nil {
		jobs = []models.RetryJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}
