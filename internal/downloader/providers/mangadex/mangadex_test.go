package mangadex

// It uses a mock HTTP server to avoid making real network requests.

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiki-app/hibiki-go/internal/downloader/providers"
	"github.com/hibiki-app/hibiki-go/internal/models"
)

func setupTestServer() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/manga", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"series-1","attributes":{"title":{"en":"Test Manga"}},"relationships":[{"type":"cover_art","attributes":{"fileName":"cover.jpg"}}]}]}`)
	})

	mux.HandleFunc("/manga/series-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"id":"series-1","attributes":{"title":{"en":"Test Manga"}}}}`)
	})

	mux.HandleFunc("/manga/series-1/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[
			{"id":"chapter-2","attributes":{"title":"Two","volume":"1","chapter":"2","pages":18,"translatedLanguage":"en","publishAt":"2025-01-02T00:00:00Z"}},
			{"id":"chapter-1","attributes":{"title":"One","volume":"1","chapter":"1","pages":20,"translatedLanguage":"en","publishAt":"2025-01-01T00:00:00Z"}}
		]}`)
	})

	mux.HandleFunc("/at-home/server/chapter-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"baseUrl":"https://cdn.example.com","chapter":{"hash":"testhash","data":["p1.jpg","p2.jpg"],"dataSaver":["s1.jpg","s2.jpg"]}}`)
	})

	return httptest.NewServer(mux)
}

func newTestAdapter(baseURL string) *Adapter {
	return &Adapter{
		client:          &http.Client{Timeout: 20 * time.Second},
		apiBaseURL:      baseURL,
		coverArtBaseURL: baseURL + "/covers",
	}
}

func TestMangaDexAdapter(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	a := newTestAdapter(server.URL)
	ctx := context.Background()

	t.Run("Search", func(t *testing.T) {
		results, err := a.Search(ctx, "test")
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("Expected 1 search result, got %d", len(results))
		}
		if results[0].Title != "Test Manga" {
			t.Errorf("Expected title 'Test Manga', got '%s'", results[0].Title)
		}
	})

	t.Run("ResolveSeries orders units ascending", func(t *testing.T) {
		series, err := a.ResolveSeries(ctx, "series-1")
		if err != nil {
			t.Fatalf("ResolveSeries() failed: %v", err)
		}
		if series.Title != "Test Manga" {
			t.Errorf("Expected series title 'Test Manga', got '%s'", series.Title)
		}
		if len(series.Units) != 2 {
			t.Fatalf("Expected 2 units, got %d", len(series.Units))
		}
		if series.Units[0].Identifier != "chapter-1" || series.Units[1].Identifier != "chapter-2" {
			t.Errorf("Units not in ascending order: %v, %v", series.Units[0].Identifier, series.Units[1].Identifier)
		}
		if series.Units[0].Number != 1 || series.Units[0].Volume != 1 {
			t.Errorf("Unexpected unit key: %+v", series.Units[0].Key())
		}
	})

	t.Run("ResolveDownloadURLs returns primary and fallback", func(t *testing.T) {
		urls, err := a.ResolveDownloadURLs(ctx, models.ContentUnit{Identifier: "chapter-1"})
		if err != nil {
			t.Fatalf("ResolveDownloadURLs() failed: %v", err)
		}
		if len(urls.Primary) != 2 || len(urls.Fallback) != 2 {
			t.Fatalf("Expected 2 primary and 2 fallback URLs, got %d/%d", len(urls.Primary), len(urls.Fallback))
		}
		if urls.Primary[0] != "https://cdn.example.com/data/testhash/p1.jpg" {
			t.Errorf("Unexpected primary URL: %s", urls.Primary[0])
		}
		if urls.Fallback[0] != "https://cdn.example.com/data-saver/testhash/s1.jpg" {
			t.Errorf("Unexpected fallback URL: %s", urls.Fallback[0])
		}
	})

	t.Run("Unknown series is NotFound", func(t *testing.T) {
		_, err := a.ResolveSeries(ctx, "missing-series")
		if !providers.NotFound(err) {
			t.Errorf("Expected NotFound error, got %v", err)
		}
	})

	t.Run("Unreachable server is Unavailable", func(t *testing.T) {
		down := newTestAdapter("http://127.0.0.1:1")
		_, err := down.ResolveSeries(ctx, "series-1")
		if !providers.Unavailable(err) {
			t.Errorf("Expected Unavailable error, got %v", err)
		}
	})

	t.Run("Title fallback is deterministic", func(t *testing.T) {
		title := multiLingualString{"ja": "日本語", "fr": "Français", "de": "Deutsch"}
		want := pickTitle(title)
		if want != "Deutsch" {
			t.Fatalf("Expected the first language code alphabetically, got '%s'", want)
		}
		for i := 0; i < 20; i++ {
			if got := pickTitle(title); got != want {
				t.Fatalf("pickTitle changed its answer: '%s' then '%s'", want, got)
			}
		}
	})

	t.Run("Cancellation aborts the call", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := a.ResolveSeries(cancelled, "series-1")
		if err == nil {
			t.Fatal("Expected error from cancelled context")
		}
	})
}
