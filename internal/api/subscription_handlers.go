package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hibiki-app/hibiki-go/internal/util"
)

func (s *Server) handleSubscribeToSeries(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SeriesTitle      string  `json:"series_title"`
		SeriesIdentifier string  `json:"series_identifier"`
		ProviderID       string  `json:"provider_id"`
		FolderPath       *string `json:"folder_path,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if payload.SeriesIdentifier == "" || payload.ProviderID == "" {
		RespondWithError(w, http.StatusBadRequest, "series_identifier and provider_id are required")
		return
	}

	if payload.FolderPath != nil && *payload.FolderPath != "" {
		sanitized := util.SanitizeFolderPath(*payload.FolderPath)
		if sanitized == "" {
			RespondWithError(w, http.StatusBadRequest, "Invalid folder path")
			return
		}
		if err := util.ValidateFolderPath(sanitized, s.app.Config().Library.Path); err != nil {
			RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid folder path: %v", err))
			return
		}
		payload.FolderPath = &sanitized
	}

	sub, err := s.store.Subscribe(payload.SeriesTitle, payload.SeriesIdentifier, payload.ProviderID, payload.FolderPath)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}
	RespondWithJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.GetAllSubscriptions(r.URL.Query().Get("provider_id"))
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve subscriptions")
		return
	}
	RespondWithJSON(w, http.StatusOK, subs)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := strconv.ParseInt(chi.URLParam(r, "subID"), 10, 64)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}
	if err := s.store.DeleteSubscription(subID); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateSubscriptionFolder(w http.ResponseWriter, r *http.Request) {
	subID, err := strconv.ParseInt(chi.URLParam(r, "subID"), 10, 64)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	var payload struct {
		FolderPath *string `json:"folder_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if payload.FolderPath != nil && *payload.FolderPath != "" {
		sanitized := util.SanitizeFolderPath(*payload.FolderPath)
		if sanitized == "" {
			RespondWithError(w, http.StatusBadRequest, "Invalid folder path")
			return
		}
		if err := util.ValidateFolderPath(sanitized, s.app.Config().Library.Path); err != nil {
			RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid folder path: %v", err))
			return
		}
		payload.FolderPath = &sanitized
	}

	if err := s.store.UpdateSubscriptionFolderPath(subID, payload.FolderPath); err != nil {
		RespondWithError(w, http.StatusNotFound, "Subscription not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCheckSubscription triggers an immediate poll of one subscription.
// The check runs in the background; overlapping checks of the same
// subscription are collapsed by the monitor.
func (s *Server) handleCheckSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := strconv.ParseInt(chi.URLParam(r, "subID"), 10, 64)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}
	if _, err := s.store.GetSubscriptionByID(subID); err != nil {
		RespondWithError(w, http.StatusNotFound, "Subscription not found")
		return
	}

	go s.mon.CheckSubscription(context.Background(), subID)
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Check started"})
}
