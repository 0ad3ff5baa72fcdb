package rest

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tidehq/tide/logger"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sourceId := vars["source"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		logger.Error("error reading webhook body", zap.String("source", sourceId), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "error reading body")
		return
	}
	defer r.Body.Close()

	ack := s.ingestor.Ingest(r.Context(), sourceId, body, r.Header)
	respondWithJSON(w, ack.Status, ack)
}
