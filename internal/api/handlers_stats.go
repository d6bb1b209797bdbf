package api

import (
	"net/http"

	"github.com/shohag/hookrelay/internal/storage"
)

type StatsHandler struct {
	store storage.Storage
}

func NewStatsHandler(store storage.Storage) *StatsHandler {
	return &StatsHandler{store: store}
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "hookrelay",
	})
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
