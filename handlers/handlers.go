package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stitchbot/stitchbot/logger"
	"github.com/stitchbot/stitchbot/models"
	"github.com/stitchbot/stitchbot/orchestrator"
	"github.com/stitchbot/stitchbot/repository"
)

// StatusSource provides the agent's live snapshot
type StatusSource interface {
	Status() orchestrator.Status
}

// Handler contains the HTTP handlers for the status API endpoints
type Handler struct {
	Agent StatusSource
	Repo  repository.StitchRepositoryInterface
}

// NewHandler creates and returns a new Handler instance
func NewHandler(agent StatusSource, repo repository.StitchRepositoryInterface) *Handler {
	return &Handler{Agent: agent, Repo: repo}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// GetStatus handles GET requests for the agent's current window and stress figures
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Agent.Status())
}

// ListStitches handles GET requests for the stitch ledger, newest first.
// Optional query parameters: status filters by stitch status, limit caps the result.
func (h *Handler) ListStitches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	status := models.StitchStatus(r.URL.Query().Get("status"))

	recs, err := h.Repo.GetAllStitches()
	if err != nil {
		logger.Logger.Error("Failed to list stitches", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	out := make([]*models.StitchRecord, 0, len(recs))
	for _, rec := range recs {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(out),
		"stitches": out,
	})
}

// GetStitch handles GET requests for a single stitch record
func (h *Handler) GetStitch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.Repo.GetStitch(id)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		logger.Logger.Error("Failed to get stitch", zap.String("stitch_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
