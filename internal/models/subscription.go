package models

import "time"

// Subscription links a monitored series to a provider and remembers the
// watermark: the key of the newest unit already handed to the download
// queue. Units at or below the watermark are never re-emitted.
type Subscription struct {
	ID               int64      `json:"id"`
	SeriesTitle      string     `json:"series_title"`
	SeriesIdentifier string     `json:"series_identifier"`
	ProviderID       string     `json:"provider_id"`
	FolderPath       *string    `json:"folder_path,omitempty"` // Nullable, relative to the library path
	Watermark        UnitKey    `json:"watermark"`
	CreatedAt        time.Time  `json:"created_at"`
	LastCheckedAt    *time.Time `json:"last_checked_at,omitempty"`
}
