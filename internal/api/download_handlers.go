// Handlers for the download queue.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hibiki-app/hibiki-go/internal/models"
)

// UnitQueuePayload is the expected structure for queuing content units.
type UnitQueuePayload struct {
	ProviderID  string               `json:"provider_id"`
	SeriesID    string               `json:"series_id"`
	SeriesTitle string               `json:"series_title"`
	Units       []models.ContentUnit `json:"units"`
}

func (s *Server) handleEnqueueUnits(w http.ResponseWriter, r *http.Request) {
	var payload UnitQueuePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(payload.Units) == 0 {
		RespondWithError(w, http.StatusBadRequest, "No units provided to queue")
		return
	}

	var queued []*models.DownloadRequest
	for _, unit := range payload.Units {
		req, err := s.orch.Enqueue(&models.DownloadRequest{
			ProviderID:  payload.ProviderID,
			SeriesID:    payload.SeriesID,
			SeriesTitle: payload.SeriesTitle,
			Unit:        unit,
		})
		if err != nil {
			RespondWithError(w, http.StatusInternalServerError, "Failed to add units to download queue")
			return
		}
		queued = append(queued, req)
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":  fmt.Sprintf("%d unit(s) have been added to the download queue.", len(queued)),
		"requests": queued,
	})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.GetQueue()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve download queue")
		return
	}
	RespondWithJSON(w, http.StatusOK, items)
}

// handleLookupDownload returns the request currently covering a
// provider/unit pair.
func (s *Server) handleLookupDownload(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("provider_id")
	unitID := r.URL.Query().Get("unit_id")
	if providerID == "" || unitID == "" {
		RespondWithError(w, http.StatusBadRequest, "provider_id and unit_id are required")
		return
	}

	req, err := s.orch.GetByContentRef(providerID, unitID)
	if err != nil {
		RespondWithError(w, http.StatusNotFound, "No download request for that unit")
		return
	}
	RespondWithJSON(w, http.StatusOK, req)
}

func (s *Server) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	switch payload.Action {
	case "pause_all":
		s.orch.PauseAll()
	case "resume_all":
		s.orch.ResumeAll()
	case "delete_completed":
		if err := s.store.DeleteCompletedRequests(); err != nil {
			RespondWithError(w, http.StatusInternalServerError, "Failed to delete completed requests")
			return
		}
	default:
		RespondWithError(w, http.StatusBadRequest, "Unknown queue action")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Cancel(chi.URLParam(r, "requestID")); err != nil {
		RespondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handlePauseDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Pause(chi.URLParam(r, "requestID")); err != nil {
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleRequeueDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Requeue(chi.URLParam(r, "requestID")); err != nil {
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}
