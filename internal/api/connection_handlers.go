// Handlers for external notification connections.

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hibiki-app/hibiki-go/internal/events"
	"github.com/hibiki-app/hibiki-go/internal/models"
)

func validConnection(conn *models.Connection) string {
	if conn.Type != models.ConnectionChat && conn.Type != models.ConnectionLibrary {
		return "Connection type must be 'chat' or 'library'"
	}
	if conn.URL == "" {
		return "Connection URL is required"
	}
	known := make(map[string]bool)
	for _, k := range events.Kinds() {
		known[k] = true
	}
	for _, k := range conn.FollowedEvents {
		if !known[k] {
			return "Unknown event kind: " + k
		}
	}
	return ""
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.GetConnections()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve connections")
		return
	}
	RespondWithJSON(w, http.StatusOK, conns)
}

func (s *Server) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	var conn models.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if msg := validConnection(&conn); msg != "" {
		RespondWithError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := s.store.AddConnection(&conn)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to create connection")
		return
	}
	RespondWithJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	connID, err := strconv.ParseInt(chi.URLParam(r, "connID"), 10, 64)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid connection id")
		return
	}

	var conn models.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	conn.ID = connID
	if msg := validConnection(&conn); msg != "" {
		RespondWithError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.store.UpdateConnection(&conn); err != nil {
		RespondWithError(w, http.StatusNotFound, "Connection not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, conn)
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	connID, err := strconv.ParseInt(chi.URLParam(r, "connID"), 10, 64)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid connection id")
		return
	}
	if err := s.store.DeleteConnection(connID); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete connection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEventKinds(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, events.Kinds())
}
