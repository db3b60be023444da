// Package mpv drives an external mpv-compatible player process over
// its newline-delimited JSON IPC socket.
package mpv

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrUnavailable means a call could not complete even after verifying
// the player process. Callers treat it as "unknown", never as fatal.
var ErrUnavailable = errors.New("player unavailable")

// ProcessEnsurer verifies the player process is alive, restarting it
// when it is not. The Supervisor implements this.
type ProcessEnsurer interface {
	EnsureRunning() error
}

// Response is one reply from the player's IPC protocol.
type Response struct {
	Error string `json:"error"`
	Data  any    `json:"data"`
}

// Success reports whether the player accepted the command.
func (r Response) Success() bool {
	return r.Error == "success"
}

// request is the wire shape of a command.
type request struct {
	Command []any `json:"command"`
}

// Channel is a request/response client for the player socket. One
// connection is dialed per call and at most one request is outstanding
// at a time. On transport failure the channel asks the ensurer to
// verify the process and retries exactly once.
type Channel struct {
	socketPath string
	timeout    time.Duration
	ensurer    ProcessEnsurer

	mu sync.Mutex
}

// NewChannel creates a channel for the given socket path. timeout
// bounds each call end to end; ensurer may be nil to disable the
// restart-and-retry path.
func NewChannel(socketPath string, timeout time.Duration, ensurer ProcessEnsurer) *Channel {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Channel{
		socketPath: socketPath,
		timeout:    timeout,
		ensurer:    ensurer,
	}
}

// Command sends a raw command and returns the player's response.
// Returns ErrUnavailable when no response could be obtained.
func (c *Channel) Command(args ...any) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.roundTrip(args)
	if err == nil {
		return resp, nil
	}

	if c.ensurer == nil {
		zlog.Warn().Err(err).Interface("command", args).Msg("Player communication failed")
		return Response{}, ErrUnavailable
	}

	zlog.Debug().Err(err).Msg("Player communication failed, verifying process")
	if ensureErr := c.ensurer.EnsureRunning(); ensureErr != nil {
		zlog.Warn().Err(ensureErr).Msg("Player could not be brought back")
		return Response{}, ErrUnavailable
	}

	resp, err = c.roundTrip(args)
	if err != nil {
		zlog.Warn().Err(err).Interface("command", args).Msg("Player communication failed after restart")
		return Response{}, ErrUnavailable
	}
	return resp, nil
}

// roundTrip performs one dial-send-read cycle.
func (c *Channel) roundTrip(args []any) (Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to dial player socket")
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return Response{}, errors.Wrap(err, "failed to set socket deadline")
	}

	payload, err := json.Marshal(request{Command: args})
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to encode command")
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return Response{}, errors.Wrap(err, "failed to send command")
	}

	// The player broadcasts event lines to every connection. A line
	// carrying an "error" field is the response; everything else is
	// skipped.
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return Response{}, errors.Wrap(err, "failed to read response")
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Event *string `json:"event"`
			Error *string `json:"error"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			zlog.Debug().Bytes("line", line).Msg("Skipping unparseable line from player")
			continue
		}
		if probe.Event != nil || probe.Error == nil {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return Response{}, errors.Wrap(err, "failed to decode response")
		}
		return resp, nil
	}
}

// Get reads a property. In-protocol errors yield (nil, nil): the value
// is simply unknown right now. "property unavailable" is the normal
// idle-state answer and is only logged at debug.
func (c *Channel) Get(name string) (any, error) {
	resp, err := c.Command("get_property", name)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		if resp.Error == "property unavailable" {
			zlog.Debug().Str("property", name).Msg("Property unavailable")
		} else {
			zlog.Warn().Str("property", name).Str("error", resp.Error).Msg("Property query failed")
		}
		return nil, nil
	}
	return resp.Data, nil
}

// Set writes a property. In-protocol rejections are logged, not
// escalated.
func (c *Channel) Set(name string, value any) error {
	resp, err := c.Command("set_property", name, value)
	if err != nil {
		return err
	}
	if !resp.Success() {
		zlog.Warn().Str("property", name).Str("error", resp.Error).Msg("Property write rejected")
	}
	return nil
}

// Load replaces the current file with the given stream URL. The error
// is nil only when the player acknowledged the load.
func (c *Channel) Load(streamURL string) error {
	resp, err := c.Command("loadfile", streamURL, "replace")
	if err != nil {
		return err
	}
	if !resp.Success() {
		return errors.Newf("player rejected loadfile: %s", resp.Error)
	}
	return nil
}

// SetTitle sets the display title for the loaded media.
func (c *Channel) SetTitle(title string) error {
	return c.Set("force-media-title", title)
}

// Stop stops playback and unloads the current file.
func (c *Channel) Stop() error {
	_, err := c.Command("stop")
	return err
}

// CyclePause toggles between playing and paused.
func (c *Channel) CyclePause() error {
	_, err := c.Command("cycle", "pause")
	return err
}

// SetVolume sets the player volume (0-100).
func (c *Channel) SetVolume(volume float64) error {
	return c.Set("volume", volume)
}

// SeekPercent seeks to a position as a percentage of the duration.
func (c *Channel) SeekPercent(percent float64) error {
	return c.Set("percent-pos", percent)
}

// IdleActive reports whether the player core is idle. ok is false when
// the value could not be read.
func (c *Channel) IdleActive() (value, ok bool) {
	return c.boolProp("idle-active")
}

// Paused reports the pause property.
func (c *Channel) Paused() (value, ok bool) {
	return c.boolProp("pause")
}

// Position returns the playback position in seconds.
func (c *Channel) Position() (float64, bool) {
	return c.floatProp("time-pos")
}

// Duration returns the duration of the loaded media in seconds.
func (c *Channel) Duration() (float64, bool) {
	return c.floatProp("duration")
}

// Volume returns the player volume. Valid while idle.
func (c *Channel) Volume() (float64, bool) {
	return c.floatProp("volume")
}

func (c *Channel) boolProp(name string) (bool, bool) {
	v, err := c.Get(name)
	if err != nil || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (c *Channel) floatProp(name string) (float64, bool) {
	v, err := c.Get(name)
	if err != nil || v == nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
