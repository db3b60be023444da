package playback

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/arai051/tunebox/internal/app/notification"
)

// Poller refreshes the playback state from the player on a fixed
// interval, detects end of track and publishes a status snapshot
// every cycle.
type Poller struct {
	player   Player
	state    *State
	director *Director
	pub      notification.Publisher
	interval time.Duration
}

// NewPoller creates a poller. A non-positive interval falls back to
// 500ms.
func NewPoller(player Player, state *State, director *Director, pub notification.Publisher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Poller{
		player:   player,
		state:    state,
		director: director,
		pub:      pub,
		interval: interval,
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	zlog.Debug().Dur("interval", p.interval).Msg("State poller started")
	for {
		select {
		case <-ctx.Done():
			zlog.Debug().Msg("State poller stopped")
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick runs one poll cycle. A cycle never terminates the loop: failed
// property reads keep their previous values and a recover guard
// catches the rest.
func (p *Poller) tick() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Interface("panic", r).Msg("State poll panicked")
		}
	}()

	// The end-of-track predicate needs the reading from before this
	// cycle overwrites it: was a track actually running.
	wasPlaying := p.state.Playing()

	idle, idleKnown := p.player.IdleActive()
	if idleKnown {
		if idle {
			p.state.MarkIdle()
		} else {
			if paused, ok := p.player.Paused(); ok {
				p.state.SetPaused(paused)
			}
			if pos, ok := p.player.Position(); ok {
				p.state.SetTimePos(pos)
			}
			if dur, ok := p.player.Duration(); ok {
				p.state.SetDuration(dur)
			}
		}
	}

	// Volume stays valid while idle, so it is read unconditionally.
	if volume, ok := p.player.Volume(); ok {
		p.state.SetVolume(volume)
	}

	if wasPlaying && idleKnown && idle {
		zlog.Debug().Msg("Track finished, advancing")
		p.director.PlayNext()
	}

	if p.pub != nil {
		p.pub.Publish(notification.TypeStatus, p.state.Snapshot())
	}
}
