// Package media provides the queued media item domain entities.
package media

import "github.com/google/uuid"

// Status represents the resolution state of a queued item.
type Status string

const (
	StatusPending Status = "pending" // Submitted, resolution in flight
	StatusReady   Status = "ready"   // Resolved, playable
	StatusError   Status = "error"   // Resolution failed
)

// Resolved holds the playable description of a submitted URL.
// Instances are immutable once attached to an item; copying the
// struct value is a full copy.
type Resolved struct {
	Title     string  `json:"title"`               // Display title
	Thumbnail string  `json:"thumbnail,omitempty"` // Thumbnail image URL
	StreamURL string  `json:"audioUrl"`            // Direct audio stream URL for the player
	Duration  float64 `json:"duration"`            // Duration in seconds
	Source    string  `json:"source"`              // Original page URL
}

// Item represents one entry in the playback queue.
type Item struct {
	ID       string    `json:"id"`                // Short random ID, unique per process run
	URL      string    `json:"url"`               // Submitted URL, treated as opaque
	Status   Status    `json:"status"`            // pending -> ready | error
	Resolved *Resolved `json:"details,omitempty"` // nil until resolution succeeds
}

// NewItem creates a pending item for a submitted URL.
func NewItem(url string) Item {
	return Item{
		ID:     uuid.NewString()[:8],
		URL:    url,
		Status: StatusPending,
	}
}

// Playable reports whether the item can be handed to the player.
func (i *Item) Playable() bool {
	return i.Status == StatusReady && i.Resolved != nil
}
