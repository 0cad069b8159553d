// Handlers for browsing providers and their series.

package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hibiki-app/hibiki-go/internal/downloader/providers"
	"github.com/hibiki-app/hibiki-go/internal/publication"
)

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, providers.GetAll())
}

func (s *Server) handleProviderSearch(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	query := r.URL.Query().Get("q")

	provider, ok := providers.Get(providerID)
	if !ok {
		RespondWithError(w, http.StatusNotFound, "Provider not found")
		return
	}

	results, err := provider.Search(r.Context(), query)
	if err != nil {
		RespondWithError(w, http.StatusBadGateway, "Failed to perform search")
		return
	}
	RespondWithJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	// Series identifiers can contain special characters like '/'.
	seriesID, _ := url.PathUnescape(chi.URLParam(r, "seriesID"))

	pub, err := publication.Open(providerID, seriesID)
	if err != nil {
		RespondWithError(w, http.StatusNotFound, "Provider not found")
		return
	}

	series, err := pub.SeriesInfo(r.Context())
	if err != nil {
		if providers.NotFound(err) {
			RespondWithError(w, http.StatusNotFound, "Series not found")
			return
		}
		RespondWithError(w, http.StatusBadGateway, "Failed to fetch series")
		return
	}
	RespondWithJSON(w, http.StatusOK, series)
}
