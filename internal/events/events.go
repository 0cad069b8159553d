// Package events carries download lifecycle events from the orchestrator to
// interested consumers: the notification dispatcher and the websocket hub.
package events

import "time"

// Lifecycle event kinds. These are the kinds an external connection can
// subscribe to.
const (
	DownloadStarted  = "DownloadStarted"
	DownloadFinished = "DownloadFinished"
	DownloadFailed   = "DownloadFailed"
)

// Kinds lists every event kind a connection may follow.
func Kinds() []string {
	return []string{DownloadStarted, DownloadFinished, DownloadFailed}
}

// Event describes one state transition of a download request.
type Event struct {
	Kind        string    `json:"kind"`
	RequestID   string    `json:"request_id"`
	ProviderID  string    `json:"provider_id"`
	SeriesTitle string    `json:"series_title"`
	UnitTitle   string    `json:"unit_title"`
	Message     string    `json:"message,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
