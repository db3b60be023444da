// Package playback drives the player: play transitions over the queue,
// a mirror of the player's state, and the poll loop that keeps the
// mirror fresh and advances at end of track.
package playback

import (
	"sync"

	"github.com/arai051/tunebox/internal/app/notification"
	"github.com/arai051/tunebox/internal/domain/media"
)

// State mirrors the engine's view of the player: what is loaded plus
// the last polled readings. The Director writes on transitions, the
// Poller refreshes readings, everyone else takes snapshots.
type State struct {
	mu sync.RWMutex

	nowPlayingID string
	nowPlaying   *media.Resolved // private copy, never aliased into the queue

	paused   bool
	timePos  float64
	duration float64
	volume   float64
}

// NewState creates state for a freshly started engine: nothing loaded,
// paused, volume at the player's initial 50.
func NewState() *State {
	return &State{paused: true, volume: 50}
}

// SetNowPlaying records a started track. The resolved details are
// copied so later queue mutations cannot touch them.
func (s *State) SetNowPlaying(id string, details media.Resolved) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowPlayingID = id
	s.nowPlaying = &details
	s.paused = false
	s.timePos = 0
	s.duration = details.Duration
}

// ClearNowPlaying resets to idle. Volume is kept, it stays valid
// across tracks.
func (s *State) ClearNowPlaying() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowPlayingID = ""
	s.nowPlaying = nil
	s.paused = true
	s.timePos = 0
	s.duration = 0
}

// NowPlayingID returns the playing item's ID, empty when idle.
func (s *State) NowPlayingID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowPlayingID
}

// Playing reports whether a track is loaded and actually running.
func (s *State) Playing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowPlayingID != "" && !s.paused
}

// MarkIdle applies an idle reading: paused with zeroed positions.
func (s *State) MarkIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.timePos = 0
	s.duration = 0
}

// SetPaused records a polled pause reading.
func (s *State) SetPaused(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = v
}

// SetTimePos records a polled position reading.
func (s *State) SetTimePos(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timePos = v
}

// SetDuration records a polled duration reading.
func (s *State) SetDuration(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = v
}

// SetVolume records a volume reading or an explicit volume change.
func (s *State) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
}

// Volume returns the last known player volume.
func (s *State) Volume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

// Snapshot renders the status payload published to observers.
func (s *State) Snapshot() notification.StatusPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload := notification.StatusPayload{
		Paused:   s.paused,
		Time:     s.timePos,
		Duration: s.duration,
		Volume:   s.volume,
	}
	if s.nowPlaying != nil {
		payload.Current = &notification.CurrentTrack{
			ID:        s.nowPlayingID,
			Title:     s.nowPlaying.Title,
			Thumbnail: s.nowPlaying.Thumbnail,
			Source:    s.nowPlaying.Source,
		}
	}
	return payload
}
