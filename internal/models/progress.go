package models

// ProgressUpdate is broadcast to websocket clients as a download advances.
type ProgressUpdate struct {
	RequestID string  `json:"request_id"`
	Message   string  `json:"message"`
	Progress  float64 `json:"progress"`
	Status    string  `json:"status"`
	Done      bool    `json:"done"`
}
