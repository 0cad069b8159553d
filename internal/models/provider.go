package models

import (
	"context"
	"time"
)

// ProviderInfo contains static information about a content provider.
type ProviderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SearchResult represents a single series found by a provider.
type SearchResult struct {
	Title      string `json:"title"`
	CoverURL   string `json:"cover_url"`
	Identifier string `json:"identifier"` // Unique ID for the series on the source site
}

// Series is the full state of one series at its source: metadata plus the
// complete ordered list of content units. A series is always refreshed as a
// whole, never merged across providers.
type Series struct {
	Identifier string        `json:"identifier"`
	Title      string        `json:"title"`
	CoverURL   string        `json:"cover_url,omitempty"`
	Units      []ContentUnit `json:"units"`
}

// ContentUnit is a single downloadable item within a series, typically a
// chapter or an episode.
type ContentUnit struct {
	Identifier  string    `json:"identifier"` // Unique ID for the unit on the source site
	Title       string    `json:"title"`
	Volume      float64   `json:"volume"`
	Number      float64   `json:"number"` // Sequence within the volume
	Pages       int       `json:"pages"`
	Language    string    `json:"language"`
	PublishedAt time.Time `json:"published_at"`
}

// Key returns the ordering key of the unit.
func (u ContentUnit) Key() UnitKey {
	return UnitKey{Volume: u.Volume, Number: u.Number, ID: u.Identifier}
}

// UnitKey orders content units by volume, then number within the volume,
// then identifier. The identifier tiebreak keeps the order total and stable
// even when a source publishes duplicate numbering.
type UnitKey struct {
	Volume float64 `json:"volume"`
	Number float64 `json:"number"`
	ID     string  `json:"id"`
}

// Less reports whether k sorts strictly before other.
func (k UnitKey) Less(other UnitKey) bool {
	if k.Volume != other.Volume {
		return k.Volume < other.Volume
	}
	if k.Number != other.Number {
		return k.Number < other.Number
	}
	return k.ID < other.ID
}

// IsZero reports whether no unit has been recorded for this key yet.
func (k UnitKey) IsZero() bool {
	return k.Volume == 0 && k.Number == 0 && k.ID == ""
}

// DownloadURLs holds the transfer locations resolved for one content unit.
// Fallback URLs are attempted only after the matching primary URL fails.
type DownloadURLs struct {
	Primary  []string `json:"primary"`
	Fallback []string `json:"fallback,omitempty"`
}

// Adapter defines the contract that every source connector must implement.
// Adapters only read from the external source; they never touch orchestrator
// state. Every call must honor context cancellation promptly.
type Adapter interface {
	Info() ProviderInfo
	Search(ctx context.Context, query string) ([]SearchResult, error)
	ResolveSeries(ctx context.Context, seriesIdentifier string) (*Series, error)
	ResolveDownloadURLs(ctx context.Context, unit ContentUnit) (DownloadURLs, error)
}
