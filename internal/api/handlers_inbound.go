package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shohag/hookrelay/internal/mapping"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/storage"
)

type InboundHandler struct {
	store     storage.Storage
	publicURL string
	log       zerolog.Logger
}

func NewInboundHandler(store storage.Storage, publicURL string, log zerolog.Logger) *InboundHandler {
	return &InboundHandler{store: store, publicURL: strings.TrimRight(publicURL, "/"), log: log}
}

type inboundRequest struct {
	Name               *string               `json:"name"`
	PipelineID         *string               `json:"pipeline_id"`
	PhaseID            *string               `json:"phase_id"`
	FieldMappings      []models.FieldMapping `json:"field_mappings"`
	DefaultTags        []string              `json:"default_tags"`
	DefaultTemperature *string               `json:"default_temperature"`
	HMACSecret         *string               `json:"hmac_secret"`
	IPAllowlist        []string              `json:"ip_allowlist"`
	IsActive           *bool                 `json:"is_active"`
}

func (req *inboundRequest) apply(wh *models.InboundWebhook) {
	if req.Name != nil {
		wh.Name = strings.TrimSpace(*req.Name)
	}
	if req.PipelineID != nil {
		wh.PipelineID = strings.TrimSpace(*req.PipelineID)
	}
	if req.PhaseID != nil {
		wh.PhaseID = strings.TrimSpace(*req.PhaseID)
	}
	if req.FieldMappings != nil {
		wh.FieldMappings = req.FieldMappings
	}
	if req.DefaultTags != nil {
		wh.DefaultTags = req.DefaultTags
	}
	if req.DefaultTemperature != nil {
		wh.DefaultTemperature = models.Temperature(*req.DefaultTemperature)
	}
	if req.HMACSecret != nil {
		wh.HMACSecret = *req.HMACSecret
	}
	if req.IPAllowlist != nil {
		wh.IPAllowlist = req.IPAllowlist
	}
	if req.IsActive != nil {
		wh.IsActive = *req.IsActive
	}
}

// validateInbound returns the HTTP status to use along with the error.
func validateInbound(wh *models.InboundWebhook) (int, error) {
	if wh.Name == "" {
		return http.StatusBadRequest, errors.New("name is required")
	}
	if wh.PipelineID == "" {
		return http.StatusBadRequest, errors.New("pipeline_id is required")
	}
	if !wh.DefaultTemperature.Valid() {
		return http.StatusBadRequest, errors.New("default_temperature must be cold, warm or hot")
	}
	if err := mapping.Validate(wh.FieldMappings); err != nil {
		return http.StatusUnprocessableEntity, err
	}
	return 0, nil
}

type inboundResponse struct {
	*models.InboundWebhook
	ReceiveURL string `json:"receive_url"`
}

func (h *InboundHandler) respond(w http.ResponseWriter, status int, wh *models.InboundWebhook) {
	writeJSON(w, status, inboundResponse{
		InboundWebhook: wh,
		ReceiveURL:     fmt.Sprintf("%s/receive/%s/%s", h.publicURL, wh.PipelineID, wh.SecretToken),
	})
}

func (h *InboundHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	wh := &models.InboundWebhook{
		ID:                 models.NewID("in"),
		FieldMappings:      []models.FieldMapping{},
		DefaultTags:        []string{},
		DefaultTemperature: models.TemperatureWarm,
		SecretToken:        models.NewSecretToken(),
		IPAllowlist:        []string{},
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	req.apply(wh)

	if status, err := validateInbound(wh); err != nil {
		writeError(w, status, err.Error())
		return
	}

	if err := h.store.CreateInboundWebhook(r.Context(), wh); err != nil {
		h.log.Error().Err(err).Msg("failed to create inbound webhook")
		writeError(w, http.StatusInternalServerError, "failed to create inbound webhook")
		return
	}

	h.respond(w, http.StatusCreated, wh)
}

func (h *InboundHandler) load(w http.ResponseWriter, r *http.Request) *models.InboundWebhook {
	wh, err := h.store.GetInboundWebhook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get inbound webhook")
		return nil
	}
	if wh == nil {
		writeError(w, http.StatusNotFound, "inbound webhook not found")
		return nil
	}
	return wh
}

func (h *InboundHandler) Get(w http.ResponseWriter, r *http.Request) {
	if wh := h.load(w, r); wh != nil {
		h.respond(w, http.StatusOK, wh)
	}
}

func (h *InboundHandler) List(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.store.ListInboundWebhooks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list inbound webhooks")
		return
	}
	if hooks == nil {
		hooks = []models.InboundWebhook{}
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (h *InboundHandler) Update(w http.ResponseWriter, r *http.Request) {
	wh := h.load(w, r)
	if wh == nil {
		return
	}

	var req inboundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.apply(wh)

	if status, err := validateInbound(wh); err != nil {
		writeError(w, status, err.Error())
		return
	}

	if err := h.store.UpdateInboundWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update inbound webhook")
		return
	}
	h.respond(w, http.StatusOK, wh)
}

func (h *InboundHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteInboundWebhook(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "inbound webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete inbound webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateToken replaces the secret token, invalidating the old receive URL.
func (h *InboundHandler) RotateToken(w http.ResponseWriter, r *http.Request) {
	wh := h.load(w, r)
	if wh == nil {
		return
	}

	wh.SecretToken = models.NewSecretToken()
	if err := h.store.UpdateInboundWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rotate token")
		return
	}

	h.log.Info().Str("inbound_webhook_id", wh.ID).Msg("secret token rotated")
	h.respond(w, http.StatusOK, wh)
}

func (h *InboundHandler) Logs(w http.ResponseWriter, r *http.Request) {
	wh := h.load(w, r)
	if wh == nil {
		return
	}

	logs, err := h.store.ListIngestionLogs(r.Context(), wh.ID, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list ingestion logs")
		return
	}
	if logs == nil {
		logs = []models.IngestionLogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}
