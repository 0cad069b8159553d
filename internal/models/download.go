package models

import "time"

// DownloadStatus is the lifecycle state of a download request.
type DownloadStatus string

const (
	StatusPending      DownloadStatus = "pending"
	StatusResolving    DownloadStatus = "resolving"
	StatusTransferring DownloadStatus = "transferring"
	StatusCompleted    DownloadStatus = "completed"
	StatusFailed       DownloadStatus = "failed"
	StatusCancelled    DownloadStatus = "cancelled"
	StatusPaused       DownloadStatus = "paused"
)

// Terminal reports whether the status is an end state.
func (s DownloadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DownloadRequest tracks one content unit through the download queue.
type DownloadRequest struct {
	ID          string         `json:"id"`
	ProviderID  string         `json:"provider_id"`
	SeriesID    string         `json:"series_id"` // Series identifier at the source
	SeriesTitle string         `json:"series_title"`
	Unit        ContentUnit    `json:"unit"`
	Dir         string         `json:"dir"` // Destination directory, rooted under the library path
	Status      DownloadStatus `json:"status"`
	Progress    int            `json:"progress"` // Percentage of download progress
	Message     string         `json:"message"`  // Last status or error message
	Attempts    int            `json:"attempts"`
	RequestedAt time.Time      `json:"requested_at"`
}

// ContentRef returns the coalescing key for the request. At most one active
// request may exist per ref.
func (r *DownloadRequest) ContentRef() string {
	return r.ProviderID + "/" + r.Unit.Identifier
}
