package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tidehq/tide/logger"
	"go.uber.org/zap"
)

const defaultRunLimit = 50

func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workflowName := vars["workflow"]

	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	runs, err := s.storage.ListRuns(r.Context(), workflowName, limit)
	if err != nil {
		logger.Error("error listing runs", zap.String("workflow", workflowName), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error listing runs")
		return
	}
	respondWithJSON(w, http.StatusOK, runs)
}
