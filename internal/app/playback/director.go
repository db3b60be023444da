package playback

import (
	"errors"
	"sync"

	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/arai051/tunebox/internal/app/notification"
	"github.com/arai051/tunebox/internal/app/queue"
	"github.com/arai051/tunebox/internal/domain/media"
	"github.com/arai051/tunebox/internal/infra/mpv"
)

// Errors
var (
	ErrNotReady = errors.New("item is not ready to play")
)

// Player is the slice of the IPC channel the engine drives. All calls
// degrade gracefully: command methods return ErrUnavailable-class
// errors, property reads answer with an ok flag.
type Player interface {
	Load(streamURL string) error
	SetTitle(title string) error
	Stop() error
	CyclePause() error
	SetVolume(volume float64) error
	SeekPercent(percent float64) error
	IdleActive() (bool, bool)
	Paused() (bool, bool)
	Position() (float64, bool)
	Duration() (float64, bool)
	Volume() (float64, bool)
}

// ProcessMonitor reports the supervised player process for the debug
// surface.
type ProcessMonitor interface {
	Status() mpv.Status
}

// DebugItem summarizes one queued entry for the debug surface.
type DebugItem struct {
	ID         string       `json:"id"`
	Status     media.Status `json:"status"`
	HasDetails bool         `json:"hasDetails"`
	Title      string       `json:"title,omitempty"`
}

// DebugInfo is the inspection payload behind the debug endpoint.
type DebugInfo struct {
	Player   mpv.Status                 `json:"player"`
	Queue    []DebugItem                `json:"queue"`
	Playback notification.StatusPayload `json:"playback"`
	Autoplay bool                       `json:"autoplay"`
}

// Director owns play transitions: the composite mutations touching the
// queue and the playback state together. The transition lock covers
// those and the composite reads; player IPC always runs outside it so
// a wedged player cannot wedge the engine's readers.
type Director struct {
	mu sync.Mutex // transition lock, ordered before the store/state locks

	store   *queue.Store
	state   *State
	player  Player
	monitor ProcessMonitor
	pub     notification.Publisher

	autoplayMu sync.Mutex
	autoplay   bool
}

// NewDirector creates a director with the given initial autoplay flag.
func NewDirector(store *queue.Store, state *State, player Player, monitor ProcessMonitor, pub notification.Publisher, autoplay bool) *Director {
	return &Director{
		store:    store,
		state:    state,
		player:   player,
		monitor:  monitor,
		pub:      pub,
		autoplay: autoplay,
	}
}

// PlayItem starts playback of a resolved item. The load goes to the
// player first; only an acknowledged load mutates the engine, removing
// the item from the queue and installing it as now playing. On load
// failure nothing changes and the item stays queued.
func (d *Director) PlayItem(item media.Item) error {
	if !item.Playable() {
		return ErrNotReady
	}

	if err := d.player.Load(item.Resolved.StreamURL); err != nil {
		zlog.Warn().Err(err).Str("id", item.ID).Str("title", item.Resolved.Title).Msg("Player refused to load stream")
		return err
	}

	d.mu.Lock()
	d.state.SetNowPlaying(item.ID, *item.Resolved)
	if _, err := d.store.Remove(item.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
		zlog.Warn().Err(err).Str("id", item.ID).Msg("Failed to remove started item from queue")
	}
	d.mu.Unlock()

	// Cosmetic, failure is fine
	_ = d.player.SetTitle(item.Resolved.Title)

	zlog.Info().Str("id", item.ID).Str("title", item.Resolved.Title).Msg("Now playing")
	d.publishStatus()
	return nil
}

// PlayNext advances to the first ready item strictly after the current
// one's former position. No-op when autoplay is off. Candidates whose
// load fails stay queued and the next one is tried, each at most once
// per invocation; when something was playing and nothing could start,
// the engine goes idle.
func (d *Director) PlayNext() {
	if !d.AutoplayEnabled() {
		return
	}

	afterID := d.state.NowPlayingID()
	wasLoaded := afterID != ""

	tried := make(map[string]bool)
	for {
		item, ok := d.store.FirstReadyAfter(afterID)
		if !ok || tried[item.ID] {
			break
		}
		tried[item.ID] = true

		if err := d.PlayItem(item); err != nil {
			zlog.Warn().Err(err).Str("id", item.ID).Msg("Skipping unplayable queue item")
			afterID = item.ID
			continue
		}
		return
	}

	if wasLoaded {
		d.mu.Lock()
		d.state.ClearNowPlaying()
		d.mu.Unlock()
		zlog.Info().Msg("Queue exhausted, going idle")
		d.publishStatus()
	}
}

// Stop halts playback. The player call is best effort: even with the
// IPC down the engine's own state goes idle.
func (d *Director) Stop() {
	if err := d.player.Stop(); err != nil {
		zlog.Warn().Err(err).Msg("Player stop failed")
	}
	d.mu.Lock()
	d.state.ClearNowPlaying()
	d.mu.Unlock()
	d.publishStatus()
}

// TogglePause flips between playing and paused. The poller picks up
// the resulting pause state on its next cycle.
func (d *Director) TogglePause() {
	if err := d.player.CyclePause(); err != nil {
		zlog.Warn().Err(err).Msg("Pause toggle failed")
	}
}

// Skip advances to the next track. Autoplay-gated like PlayNext.
func (d *Director) Skip() {
	d.PlayNext()
}

// SetVolume clamps to [0,100], sets the player volume and records it
// so status reflects the change ahead of the next poll.
func (d *Director) SetVolume(volume float64) {
	volume = lo.Clamp(volume, 0, 100)
	if err := d.player.SetVolume(volume); err != nil {
		zlog.Warn().Err(err).Msg("Volume change failed")
	}
	d.state.SetVolume(volume)
}

// SeekPercent seeks to a position as a percentage of the duration,
// clamped to [0,100].
func (d *Director) SeekPercent(percent float64) {
	percent = lo.Clamp(percent, 0, 100)
	if err := d.player.SeekPercent(percent); err != nil {
		zlog.Warn().Err(err).Msg("Seek failed")
	}
}

// PlayNow jumps the queue: the item is moved to the front and played
// immediately. Returns queue.ErrNotFound for unknown IDs, ErrNotReady
// for items that have not resolved.
func (d *Director) PlayNow(id string) error {
	item, err := d.store.Get(id)
	if err != nil {
		return err
	}
	if !item.Playable() {
		return ErrNotReady
	}
	if err := d.store.MoveToFront(id); err != nil {
		return err
	}
	return d.PlayItem(item)
}

// Remove takes an item out of the queue. Should the removed ID be the
// one playing, playback stops too.
func (d *Director) Remove(id string) error {
	item, err := d.store.Remove(id)
	if err != nil {
		return err
	}
	if d.state.NowPlayingID() == item.ID {
		d.Stop()
	}
	return nil
}

// ClearQueue empties the queue and stops playback.
func (d *Director) ClearQueue() {
	d.store.Clear()
	d.Stop()
}

// ShuffleQueue shuffles the queue, keeping the playing item (when it
// is somehow still queued) at the front.
func (d *Director) ShuffleQueue() {
	d.store.Shuffle(d.state.NowPlayingID())
}

// MoveUp moves an item one position toward the front.
func (d *Director) MoveUp(id string) error {
	return d.store.MoveUp(id)
}

// MoveDown moves an item one position toward the back.
func (d *Director) MoveDown(id string) error {
	return d.store.MoveDown(id)
}

// Reorder moves the item at oldIndex to newIndex.
func (d *Director) Reorder(oldIndex, newIndex int) error {
	return d.store.MoveTo(oldIndex, newIndex)
}

// ToggleAutoplay flips the autoplay flag and returns the new value.
func (d *Director) ToggleAutoplay() bool {
	d.autoplayMu.Lock()
	d.autoplay = !d.autoplay
	enabled := d.autoplay
	d.autoplayMu.Unlock()

	zlog.Info().Bool("enabled", enabled).Msg("Autoplay toggled")
	if d.pub != nil {
		d.pub.Publish(notification.TypeAutoplayToggled, notification.AutoplayPayload{Enabled: enabled})
	}
	return enabled
}

// AutoplayEnabled reports the autoplay flag.
func (d *Director) AutoplayEnabled() bool {
	d.autoplayMu.Lock()
	defer d.autoplayMu.Unlock()
	return d.autoplay
}

// AutoStart begins playback of a freshly resolved item when autoplay
// is on and nothing is playing. The resolution worker calls this for
// every item it readies.
func (d *Director) AutoStart(id string) {
	if !d.AutoplayEnabled() || d.state.NowPlayingID() != "" {
		return
	}
	item, err := d.store.Get(id)
	if err != nil || !item.Playable() {
		return
	}
	if err := d.PlayItem(item); err != nil {
		zlog.Warn().Err(err).Str("id", id).Msg("Automatic start failed")
	}
}

// Snapshot returns the current status payload.
func (d *Director) Snapshot() notification.StatusPayload {
	return d.state.Snapshot()
}

// Debug returns the inspection payload: process status, queue summary,
// playback state and the autoplay flag.
func (d *Director) Debug() DebugInfo {
	items, playback := d.observe()

	info := DebugInfo{
		Queue: lo.Map(items, func(item media.Item, _ int) DebugItem {
			entry := DebugItem{ID: item.ID, Status: item.Status, HasDetails: item.Resolved != nil}
			if item.Resolved != nil {
				entry.Title = item.Resolved.Title
			}
			return entry
		}),
		Playback: playback,
		Autoplay: d.AutoplayEnabled(),
	}
	if d.monitor != nil {
		info.Player = d.monitor.Status()
	}
	return info
}

// observe reads the queue and the playback state as one unit under the
// transition lock. A started item is never reported both queued and
// playing.
func (d *Director) observe() ([]media.Item, notification.StatusPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Items(), d.state.Snapshot()
}

func (d *Director) publishStatus() {
	if d.pub != nil {
		d.pub.Publish(notification.TypeStatus, d.state.Snapshot())
	}
}
