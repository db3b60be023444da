// Package queue provides the ordered in-memory queue of submitted items.
package queue

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/arai051/tunebox/internal/app/notification"
	"github.com/arai051/tunebox/internal/domain/media"
)

// Errors
var (
	ErrNotFound        = errors.New("item not found in queue")
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Store holds the playback queue. Position is play priority; the item
// at index 0 plays next. A playing item is not in the store: starting
// playback removes it (see playback.Director).
//
// Every mutating operation publishes its event while the lock is held,
// so observers see events in true mutation order. The publisher is
// non-blocking, which makes that safe.
type Store struct {
	mu    sync.RWMutex
	items []media.Item
	rng   *rand.Rand
	pub   notification.Publisher
}

// NewStore creates an empty queue store. pub may be nil, in which case
// no events are emitted.
func NewStore(pub notification.Publisher) *Store {
	return &Store{
		items: make([]media.Item, 0),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		pub:   pub,
	}
}

// Submit appends a new pending item for the given URL and returns it.
func (s *Store) Submit(url string) media.Item {
	item := media.NewItem(url)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, item)
	zlog.Info().Str("id", item.ID).Str("url", url).Msg("Queued submission")
	s.publishLocked(notification.TypeQueueUpdate, notification.QueueUpdatePayload{ID: item.ID, Item: item})
	return item
}

// AttachResult marks the item ready with its resolved media. Returns
// false without side effects when the item has left the queue, which
// is normal when the user removed it while resolution was in flight.
func (s *Store) AttachResult(id string, resolved *media.Resolved) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		zlog.Debug().Str("id", id).Msg("Resolved item no longer queued, dropping result")
		return false
	}

	s.items[idx].Resolved = resolved
	s.items[idx].Status = media.StatusReady
	s.publishLocked(notification.TypeQueueUpdate, notification.QueueUpdatePayload{ID: id, Item: s.items[idx]})
	return true
}

// AttachError marks the item's resolution as failed. Returns false when
// the item has left the queue.
func (s *Store) AttachError(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		zlog.Debug().Str("id", id).Msg("Failed item no longer queued, dropping error")
		return false
	}

	s.items[idx].Status = media.StatusError
	s.publishLocked(notification.TypeQueueUpdate, notification.QueueUpdatePayload{ID: id, Item: s.items[idx]})
	return true
}

// IndexOf returns the item's current position.
func (s *Store) IndexOf(id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return 0, ErrNotFound
	}
	return idx, nil
}

// Get returns a snapshot copy of the item with the given ID.
func (s *Store) Get(id string) (media.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return media.Item{}, ErrNotFound
	}
	return s.items[idx], nil
}

// Remove removes the item with the given ID and returns it.
func (s *Store) Remove(id string) (media.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return media.Item{}, ErrNotFound
	}

	removed := s.items[idx]
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.publishLocked(notification.TypeItemRemoved, notification.ItemRemovedPayload{ID: id})
	return removed, nil
}

// MoveToFront moves the item to position 0.
func (s *Store) MoveToFront(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return ErrNotFound
	}

	if idx > 0 {
		item := s.items[idx]
		s.items = append(s.items[:idx], s.items[idx+1:]...)
		s.items = append([]media.Item{item}, s.items...)
	}
	s.publishLocked(notification.TypeQueueRefreshed, notification.QueueRefreshedPayload{Items: s.copyLocked()})
	return nil
}

// MoveUp swaps the item with its predecessor. Moving the first item is
// a silent no-op.
func (s *Store) MoveUp(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	if idx == 0 {
		zlog.Debug().Str("id", id).Msg("Item already at the top of the queue")
		return nil
	}

	s.items[idx], s.items[idx-1] = s.items[idx-1], s.items[idx]
	s.publishLocked(notification.TypeQueueRefreshed, notification.QueueRefreshedPayload{Items: s.copyLocked()})
	return nil
}

// MoveDown swaps the item with its successor. Moving the last item is
// a silent no-op.
func (s *Store) MoveDown(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	if idx == len(s.items)-1 {
		zlog.Debug().Str("id", id).Msg("Item already at the bottom of the queue")
		return nil
	}

	s.items[idx], s.items[idx+1] = s.items[idx+1], s.items[idx]
	s.publishLocked(notification.TypeQueueRefreshed, notification.QueueRefreshedPayload{Items: s.copyLocked()})
	return nil
}

// MoveTo moves the item at oldIndex to newIndex. Both indices must be
// inside the queue; a rejected call mutates nothing and emits nothing.
func (s *Store) MoveTo(oldIndex, newIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldIndex < 0 || oldIndex >= len(s.items) || newIndex < 0 || newIndex >= len(s.items) {
		zlog.Error().
			Int("oldIndex", oldIndex).
			Int("newIndex", newIndex).
			Int("length", len(s.items)).
			Msg("Reorder rejected, index out of range")
		return ErrIndexOutOfRange
	}

	item := s.items[oldIndex]
	s.items = append(s.items[:oldIndex], s.items[oldIndex+1:]...)
	rest := append([]media.Item{}, s.items[newIndex:]...)
	s.items = append(append(s.items[:newIndex], item), rest...)
	s.publishLocked(notification.TypeQueueRefreshed, notification.QueueRefreshedPayload{Items: s.copyLocked()})
	return nil
}

// Shuffle randomizes the queue order. When protectID is present in the
// queue, that item is held out and reinstated at position 0; everything
// else is permuted. The multiset of items never changes.
func (s *Store) Shuffle(protectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var protected *media.Item
	if protectID != "" {
		if idx := s.indexOfLocked(protectID); idx >= 0 {
			item := s.items[idx]
			protected = &item
			s.items = append(s.items[:idx], s.items[idx+1:]...)
		}
	}

	s.rng.Shuffle(len(s.items), func(i, j int) {
		s.items[i], s.items[j] = s.items[j], s.items[i]
	})

	if protected != nil {
		s.items = append([]media.Item{*protected}, s.items...)
	}

	s.publishLocked(notification.TypeQueueRefreshed, notification.QueueRefreshedPayload{Items: s.copyLocked()})
}

// Clear empties the queue. It does not touch playback state; stopping
// the current track is the Director's concern.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = s.items[:0]
	s.publishLocked(notification.TypeQueueCleared, nil)
}

// Items returns a snapshot copy of the queue in play order.
func (s *Store) Items() []media.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Len returns the number of queued items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// FirstReadyAfter returns the first playable item strictly after
// afterID's position. When afterID is empty or no longer queued (the
// normal case, since starting playback removes the item) the scan
// starts at the head.
func (s *Store) FirstReadyAfter(afterID string) (media.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if afterID != "" {
		if idx := s.indexOfLocked(afterID); idx >= 0 {
			start = idx + 1
		}
	}

	for _, item := range s.items[start:] {
		if item.Playable() {
			return item, true
		}
	}
	return media.Item{}, false
}

// indexOfLocked returns the index of the item, or -1. Callers must
// hold mu.
func (s *Store) indexOfLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// copyLocked returns a copy of the item slice. Callers must hold mu.
func (s *Store) copyLocked() []media.Item {
	items := make([]media.Item, len(s.items))
	copy(items, s.items)
	return items
}

// publishLocked emits an event. Callers must hold mu; the publisher is
// non-blocking so publishing under the lock cannot stall.
func (s *Store) publishLocked(typ notification.Type, payload any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(typ, payload)
}
