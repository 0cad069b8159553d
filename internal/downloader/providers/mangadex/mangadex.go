package mangadex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/hibiki-app/hibiki-go/internal/downloader/providers"
	"github.com/hibiki-app/hibiki-go/internal/models"
)

// Adapter implements the provider contract for MangaDex.
type Adapter struct {
	client          *http.Client
	apiBaseURL      string
	coverArtBaseURL string
}

// New creates a new instance of the MangaDex adapter.
func New() *Adapter {
	return &Adapter{
		client:          &http.Client{Timeout: 20 * time.Second},
		apiBaseURL:      "https://api.mangadex.org",
		coverArtBaseURL: "https://uploads.mangadex.org",
	}
}

// Info returns static information about this provider.
func (a *Adapter) Info() models.ProviderInfo {
	return models.ProviderInfo{
		ID:   "mangadex",
		Name: "MangaDex",
	}
}

// getJSON performs a GET request and decodes the JSON body, translating
// transport and HTTP status failures into the adapter error kinds.
func (a *Adapter) getJSON(ctx context.Context, url string, query map[string][]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if query != nil {
		q := req.URL.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", providers.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", providers.ErrNotFound, url)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: unexpected status %d from %s", providers.ErrUnavailable, resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", providers.ErrUnavailable, err)
	}
	return nil
}

// Search queries the MangaDex API for series matching the query string.
func (a *Adapter) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	var apiResponse mangaListResponse
	err := a.getJSON(ctx, fmt.Sprintf("%s/manga", a.apiBaseURL), map[string][]string{
		"title":      {query},
		"limit":      {"25"},
		"includes[]": {"cover_art"},
	}, &apiResponse)
	if err != nil {
		return nil, err
	}

	var results []models.SearchResult
	for _, mangaData := range apiResponse.Data {
		results = append(results, models.SearchResult{
			Title:      pickTitle(mangaData.Attributes.Title),
			CoverURL:   a.coverURL(mangaData),
			Identifier: mangaData.ID,
		})
	}
	return results, nil
}

// ResolveSeries fetches series metadata and the full unit list, ordered by
// volume then chapter number.
func (a *Adapter) ResolveSeries(ctx context.Context, seriesIdentifier string) (*models.Series, error) {
	var meta mangaResponse
	err := a.getJSON(ctx, fmt.Sprintf("%s/manga/%s", a.apiBaseURL, seriesIdentifier), map[string][]string{
		"includes[]": {"cover_art"},
	}, &meta)
	if err != nil {
		return nil, err
	}

	series := &models.Series{
		Identifier: seriesIdentifier,
		Title:      pickTitle(meta.Data.Attributes.Title),
		CoverURL:   a.coverURL(meta.Data),
	}

	// The feed is paginated; walk it until a page comes back short.
	offset := 0
	limit := 500
	for {
		var feed chapterFeedResponse
		err := a.getJSON(ctx, fmt.Sprintf("%s/manga/%s/feed", a.apiBaseURL, seriesIdentifier), map[string][]string{
			"limit":                {strconv.Itoa(limit)},
			"offset":               {strconv.Itoa(offset)},
			"order[volume]":        {"asc"},
			"order[chapter]":       {"asc"},
			"translatedLanguage[]": {"en"},
		}, &feed)
		if err != nil {
			return nil, err
		}

		for _, ch := range feed.Data {
			series.Units = append(series.Units, models.ContentUnit{
				Identifier:  ch.ID,
				Title:       unitTitle(ch.Attributes),
				Volume:      parseNumber(ch.Attributes.Volume),
				Number:      parseNumber(ch.Attributes.Chapter),
				Pages:       ch.Attributes.Pages,
				Language:    ch.Attributes.TranslatedLanguage,
				PublishedAt: ch.Attributes.PublishAt,
			})
		}

		if len(feed.Data) < limit {
			break
		}
		offset += limit
	}

	sort.SliceStable(series.Units, func(i, j int) bool {
		return series.Units[i].Key().Less(series.Units[j].Key())
	})
	return series, nil
}

// ResolveDownloadURLs resolves the page locations for one unit. Full-quality
// images are primary; the data-saver rendition is the fallback.
func (a *Adapter) ResolveDownloadURLs(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
	var apiResponse atHomeServerResponse
	err := a.getJSON(ctx, fmt.Sprintf("%s/at-home/server/%s", a.apiBaseURL, unit.Identifier), nil, &apiResponse)
	if err != nil {
		return models.DownloadURLs{}, err
	}

	hash := apiResponse.Chapter.Hash
	var urls models.DownloadURLs
	for _, pageFile := range apiResponse.Chapter.Data {
		urls.Primary = append(urls.Primary, fmt.Sprintf("%s/data/%s/%s", apiResponse.BaseURL, hash, pageFile))
	}
	for _, pageFile := range apiResponse.Chapter.DataSaver {
		urls.Fallback = append(urls.Fallback, fmt.Sprintf("%s/data-saver/%s/%s", apiResponse.BaseURL, hash, pageFile))
	}
	if len(urls.Primary) == 0 {
		return models.DownloadURLs{}, fmt.Errorf("%w: chapter %s has no pages", providers.ErrNotFound, unit.Identifier)
	}
	return urls, nil
}

func (a *Adapter) coverURL(m mangaData) string {
	for _, rel := range m.Relationships {
		if rel.Type == "cover_art" && rel.Attributes.FileName != "" {
			return fmt.Sprintf("%s/covers/%s/%s.256.jpg", a.coverArtBaseURL, m.ID, rel.Attributes.FileName)
		}
	}
	return ""
}

// pickTitle prefers the English title, falling back to the first available
// one by language code so the choice is stable across calls.
func pickTitle(title multiLingualString) string {
	if t := title.get("en"); t != "" {
		return t
	}
	langs := make([]string, 0, len(title))
	for lang := range title {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if title[lang] != "" {
			return title[lang]
		}
	}
	return ""
}

func unitTitle(attrs chapterAttributes) string {
	title := fmt.Sprintf("Ch. %s", attrs.Chapter)
	if attrs.Volume != "" {
		title = fmt.Sprintf("Vol. %s %s", attrs.Volume, title)
	}
	if attrs.Title != "" {
		title = fmt.Sprintf("%s - %s", title, attrs.Title)
	}
	return title
}

// parseNumber turns the API's stringly numbers ("1", "10.5", "") into
// floats; missing values sort first as zero.
func parseNumber(s string) float64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n
}
