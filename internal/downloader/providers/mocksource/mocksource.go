// A mock provider for development and testing purposes. It simulates
// resolving series and page URLs from a real site without network calls.
package mocksource

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiki-app/hibiki-go/internal/models"
)

type Adapter struct {
	// PageBaseURL is where the fake page URLs point. Tests set this to a
	// local test server.
	PageBaseURL string
	// UnitCount is how many chapters each series reports.
	UnitCount int
}

func New() *Adapter {
	return &Adapter{
		PageBaseURL: "https://placehold.co",
		UnitCount:   25,
	}
}

func (a *Adapter) Info() models.ProviderInfo {
	return models.ProviderInfo{
		ID:   "mocksource",
		Name: "Mocksource",
	}
}

func (a *Adapter) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	var results []models.SearchResult
	for i := 1; i <= 10; i++ {
		results = append(results, models.SearchResult{
			Title:      fmt.Sprintf("%s - Result %d", query, i),
			CoverURL:   fmt.Sprintf("%s/cover-%d.jpg", a.PageBaseURL, i),
			Identifier: fmt.Sprintf("mock-series-%d", i),
		})
	}
	return results, nil
}

func (a *Adapter) ResolveSeries(ctx context.Context, seriesIdentifier string) (*models.Series, error) {
	series := &models.Series{
		Identifier: seriesIdentifier,
		Title:      fmt.Sprintf("Mock Series %s", seriesIdentifier),
	}
	for i := 1; i <= a.UnitCount; i++ {
		series.Units = append(series.Units, models.ContentUnit{
			Identifier:  fmt.Sprintf("mock-chapter-%s-%d", seriesIdentifier, i),
			Title:       fmt.Sprintf("Chapter %d: The Mocking", i),
			Volume:      1,
			Number:      float64(i),
			Pages:       3,
			Language:    "en",
			PublishedAt: time.Now().AddDate(0, 0, -a.UnitCount+i),
		})
	}
	return series, nil
}

func (a *Adapter) ResolveDownloadURLs(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
	var urls models.DownloadURLs
	for i := 1; i <= 3; i++ {
		urls.Primary = append(urls.Primary, fmt.Sprintf("%s/%s/page-%d.jpg", a.PageBaseURL, unit.Identifier, i))
		urls.Fallback = append(urls.Fallback, fmt.Sprintf("%s/%s/fallback-%d.jpg", a.PageBaseURL, unit.Identifier, i))
	}
	return urls, nil
}
