package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shohag/hookrelay/internal/delivery"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/storage"
)

type DeliveryHandler struct {
	store      storage.Storage
	dispatcher *delivery.Dispatcher
	log        zerolog.Logger
}

func NewDeliveryHandler(store storage.Storage, dispatcher *delivery.Dispatcher, log zerolog.Logger) *DeliveryHandler {
	return &DeliveryHandler{store: store, dispatcher: dispatcher, log: log}
}

type dispatchRequest struct {
	Event string          `json:"event"`
	Deal  json.RawMessage `json:"deal"`
}

// Dispatch fans an event out to its subscribers and reports every attempt.
func (h *DeliveryHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	if len(req.Deal) == 0 || string(req.Deal) == "null" {
		writeError(w, http.StatusBadRequest, "deal is required")
		return
	}

	summary, err := h.dispatcher.Dispatch(r.Context(), req.Event, req.Deal)
	if err != nil {
		h.log.Error().Err(err).Str("event", req.Event).Msg("dispatch failed")
		writeError(w, http.StatusInternalServerError, "failed to dispatch event")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListLogs returns recent delivery log entries across all webhooks, or for
// one webhook with ?webhook_id=.
func (h *DeliveryHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.store.ListDeliveryLogs(r.Context(), r.URL.Query().Get("webhook_id"), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list delivery logs")
		return
	}
	if logs == nil {
		logs = []models.DeliveryLogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}
