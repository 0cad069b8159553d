// Package madara implements the provider contract for sites running the
// Madara WordPress theme, a common engine for scanlation sites. The adapter
// is configured with a site base URL at registration time.
package madara

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hibiki-app/hibiki-go/internal/downloader/providers"
	"github.com/hibiki-app/hibiki-go/internal/models"
)

// Adapter scrapes one Madara-engine site.
type Adapter struct {
	client  *http.Client
	id      string
	name    string
	baseURL string
}

// New creates an adapter for a Madara site. The id must be unique across
// registered providers.
func New(id, name, baseURL string) *Adapter {
	return &Adapter{
		client:  &http.Client{Timeout: 30 * time.Second},
		id:      id,
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (a *Adapter) Info() models.ProviderInfo {
	return models.ProviderInfo{ID: a.id, Name: a.name}
}

// fetchDocument GETs a page and parses it, mapping failures onto the
// adapter error kinds.
func (a *Adapter) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", a.baseURL+"/")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", providers.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", providers.ErrNotFound, pageURL)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: unexpected status %d from %s", providers.ErrUnavailable, resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing page: %v", providers.ErrUnavailable, err)
	}
	return doc, nil
}

// Search posts to the site's search endpoint and scrapes result rows.
func (a *Adapter) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	searchURL := fmt.Sprintf("%s/?s=%s&post_type=wp-manga", a.baseURL, url.QueryEscape(query))
	doc, err := a.fetchDocument(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var results []models.SearchResult
	doc.Find("div.c-tabs-item__content").Each(func(i int, s *goquery.Selection) {
		link := s.Find("div.post-title a")
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		slug := slugFromURL(href)
		if slug == "" {
			return
		}
		cover, _ := s.Find("img").Attr("data-src")
		if cover == "" {
			cover, _ = s.Find("img").Attr("src")
		}
		results = append(results, models.SearchResult{
			Title:      strings.TrimSpace(link.Text()),
			CoverURL:   cover,
			Identifier: slug,
		})
	})
	return results, nil
}

// ResolveSeries scrapes the series page: title from the post header and the
// chapter list from the wp-manga chapter rows, returned in ascending order.
func (a *Adapter) ResolveSeries(ctx context.Context, seriesIdentifier string) (*models.Series, error) {
	doc, err := a.fetchDocument(ctx, fmt.Sprintf("%s/manga/%s/", a.baseURL, seriesIdentifier))
	if err != nil {
		return nil, err
	}

	series := &models.Series{
		Identifier: seriesIdentifier,
		Title:      strings.TrimSpace(doc.Find("div.post-title h1").First().Text()),
	}
	if cover, ok := doc.Find("div.summary_image img").Attr("data-src"); ok {
		series.CoverURL = cover
	}
	if series.Title == "" {
		return nil, fmt.Errorf("%w: no series header on page for %s", providers.ErrNotFound, seriesIdentifier)
	}

	doc.Find("li.wp-manga-chapter > a").Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		title := strings.TrimSpace(s.Text())
		series.Units = append(series.Units, models.ContentUnit{
			Identifier: chapterSlug(seriesIdentifier, href),
			Title:      title,
			Number:     chapterNumber(title, href),
			Language:   "en",
		})
	})

	sort.SliceStable(series.Units, func(i, j int) bool {
		return series.Units[i].Key().Less(series.Units[j].Key())
	})
	return series, nil
}

// ResolveDownloadURLs scrapes the chapter reading page. Madara renders every
// page image in the reading-content block; lazy-loaded data-src values are
// preferred and plain src kept as the fallback rendition.
func (a *Adapter) ResolveDownloadURLs(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
	doc, err := a.fetchDocument(ctx, fmt.Sprintf("%s/manga/%s/?style=list", a.baseURL, unit.Identifier))
	if err != nil {
		return models.DownloadURLs{}, err
	}

	var urls models.DownloadURLs
	doc.Find("div.reading-content img").Each(func(i int, s *goquery.Selection) {
		primary, _ := s.Attr("data-src")
		fallback, _ := s.Attr("src")
		if primary == "" {
			primary, fallback = fallback, ""
		}
		if primary == "" {
			return
		}
		urls.Primary = append(urls.Primary, strings.TrimSpace(primary))
		if fallback != "" {
			urls.Fallback = append(urls.Fallback, strings.TrimSpace(fallback))
		}
	})

	if len(urls.Primary) == 0 {
		return models.DownloadURLs{}, fmt.Errorf("%w: no pages found for chapter %s", providers.ErrNotFound, unit.Identifier)
	}
	return urls, nil
}

var chapterNumberRe = regexp.MustCompile(`(?i)chapter[\s-]*([0-9]+(?:\.[0-9]+)?)`)

// chapterNumber extracts the numeric chapter position from the row title,
// falling back to the URL slug.
func chapterNumber(title, href string) float64 {
	for _, candidate := range []string{title, href} {
		if m := chapterNumberRe.FindStringSubmatch(candidate); m != nil {
			if n, err := strconv.ParseFloat(m[1], 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// slugFromURL extracts the series slug from a /manga/{slug}/ link.
func slugFromURL(href string) string {
	parts := strings.Split(href, "/manga/")
	if len(parts) < 2 {
		return ""
	}
	return strings.Trim(strings.SplitN(parts[1], "/", 2)[0], "/")
}

// chapterSlug keeps the chapter identifier relative to the series so it can
// be appended to /manga/ later.
func chapterSlug(seriesSlug, href string) string {
	parts := strings.Split(href, "/manga/")
	if len(parts) < 2 {
		return href
	}
	return strings.Trim(parts[1], "/")
}
