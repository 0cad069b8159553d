package models

import (
	"strings"
	"time"
)

// Connection types supported by the notification dispatcher.
const (
	ConnectionChat    = "chat"    // webhook-style chat integration
	ConnectionLibrary = "library" // library server scan trigger
)

// Connection is a configured third-party integration. The dispatcher
// delivers a lifecycle event to a connection only when the event kind is in
// FollowedEvents.
type Connection struct {
	ID             int64     `json:"id"`
	Type           string    `json:"type"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	FollowedEvents []string  `json:"followed_events"`
	CreatedAt      time.Time `json:"created_at"`
}

// Follows reports whether the connection subscribed to the given event kind.
func (c *Connection) Follows(kind string) bool {
	for _, k := range c.FollowedEvents {
		if k == kind {
			return true
		}
	}
	return false
}

// JoinEvents serializes followed event kinds for storage.
func JoinEvents(kinds []string) string {
	return strings.Join(kinds, ",")
}

// SplitEvents parses the stored followed-event list.
func SplitEvents(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
