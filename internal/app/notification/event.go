// Package notification provides typed engine events and the broadcast
// hub that delivers them to subscribers.
package notification

import "github.com/arai051/tunebox/internal/domain/media"

// Type identifies a published event.
type Type string

const (
	TypeItemRemoved       Type = "item-removed"
	TypeQueueUpdate       Type = "queue-update"
	TypeQueueRefreshed    Type = "queue-refreshed"
	TypeQueueCleared      Type = "queue-cleared"
	TypeStatus            Type = "status"
	TypeAutoplayToggled   Type = "autoplay-toggled"
	TypeCredentialRefresh Type = "credential-refresh-needed"
)

// Event is one published event. Seq is assigned by the Manager and is
// strictly increasing in publish order across all event types.
type Event struct {
	Seq     uint64 `json:"seq"`
	Type    Type   `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ItemRemovedPayload accompanies TypeItemRemoved.
type ItemRemovedPayload struct {
	ID string `json:"id"`
}

// QueueUpdatePayload accompanies TypeQueueUpdate; Item is the
// post-mutation snapshot of the affected item.
type QueueUpdatePayload struct {
	ID   string     `json:"id"`
	Item media.Item `json:"item"`
}

// QueueRefreshedPayload accompanies TypeQueueRefreshed with the full
// reordered queue.
type QueueRefreshedPayload struct {
	Items []media.Item `json:"items"`
}

// CurrentTrack describes the playing track inside a status snapshot.
type CurrentTrack struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	Source    string `json:"source"`
}

// StatusPayload is the periodic playback state snapshot.
type StatusPayload struct {
	Paused   bool          `json:"paused"`
	Time     float64       `json:"time"`
	Duration float64       `json:"duration"`
	Volume   float64       `json:"volume"`
	Current  *CurrentTrack `json:"current"`
}

// AutoplayPayload accompanies TypeAutoplayToggled.
type AutoplayPayload struct {
	Enabled bool `json:"enabled"`
}

// CredentialRefreshPayload accompanies TypeCredentialRefresh. It is
// published when a resolution failure pattern suggests the resolver's
// upstream credentials have gone stale.
type CredentialRefreshPayload struct {
	URL    string `json:"url"`
	ItemID string `json:"itemId"`
}

// Publisher is the capability core components hold to emit events.
// Implementations must never block the caller.
type Publisher interface {
	Publish(typ Type, payload any)
}
