package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shohag/hookrelay/internal/ingest"
)

const defaultMaxBodyBytes = 1 << 20

type ReceiveHandler struct {
	receiver *ingest.Receiver
	maxBody  int64
	log      zerolog.Logger
}

func NewReceiveHandler(receiver *ingest.Receiver, maxBody int64, log zerolog.Logger) *ReceiveHandler {
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &ReceiveHandler{receiver: receiver, maxBody: maxBody, log: log}
}

func (h *ReceiveHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	res, err := h.receiver.Receive(r.Context(), ingest.Request{
		PipelineID: chi.URLParam(r, "pipelineId"),
		Token:      chi.URLParam(r, "secretToken"),
		Body:       body,
		Headers:    r.Header,
		SourceIP:   ingest.ClientIP(r),
	})
	if err != nil {
		h.log.Error().Err(err).Str("pipeline_id", chi.URLParam(r, "pipelineId")).Msg("inbound webhook failed")
	}
	writeJSON(w, res.Status, res.Body)
}
