package mpv

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/GiGurra/cmder"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrStartupFailed means the supervisor could not produce a live
// player socket. Diagnostics are logged before this is returned.
var ErrStartupFailed = errors.New("player startup failed")

// State represents the supervised process state.
type State int

const (
	StateNotStarted State = iota // No spawn attempted yet
	StateStarting                // Spawned, waiting for the socket
	StateRunning                 // Socket appeared, process alive
	StateDead                    // Process exited or startup failed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Config holds supervisor configuration.
type Config struct {
	Binary        string        // Player binary, e.g. "mpv"
	SocketPath    string        // IPC socket the player should create
	Volume        int           // Initial volume (0-100)
	StartAttempts int           // Socket appearance polls per spawn
	StartWait     time.Duration // Delay between polls
	ProbeTimeout  time.Duration // Liveness probe deadline
	ExtraArgs     []string      // Appended to the player command line
}

// Status is a point-in-time view of the supervised process.
type Status struct {
	State        string `json:"state"`
	PID          int    `json:"pid"`
	SocketExists bool   `json:"socketExists"`
}

// Supervisor owns the player process lifecycle: spawn with the probed
// audio backend, bounded startup wait, liveness checks, restart on
// demand, and teardown. Restarts happen only inside EnsureRunning, at
// most one spawn per call.
type Supervisor struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	cmd    *exec.Cmd
	waitCh chan struct{} // closed when the current process exits
	closed bool

	shutdownOnce sync.Once
}

// NewSupervisor creates a supervisor. Zero config fields get working
// defaults.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = "mpv"
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/tmp/mpv_socket"
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 50
	}
	if cfg.StartAttempts <= 0 {
		cfg.StartAttempts = 10
	}
	if cfg.StartWait <= 0 {
		cfg.StartWait = 100 * time.Millisecond
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	return &Supervisor{cfg: cfg, state: StateNotStarted}
}

// SocketPath returns the configured IPC socket path.
func (s *Supervisor) SocketPath() string {
	return s.cfg.SocketPath
}

// EnsureRunning verifies the player answers on its socket, restarting
// it when it does not. Returns ErrStartupFailed when no live socket
// could be produced.
func (s *Supervisor) EnsureRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Wrap(ErrStartupFailed, "supervisor is shut down")
	}

	if s.runningLocked() && s.socketPresentLocked() {
		if err := s.probeLocked(); err == nil {
			return nil
		}
		zlog.Warn().Msg("Player not responsive, restarting")
	} else if s.state != StateNotStarted {
		zlog.Warn().Stringer("state", s.state).Msg("Player not running, restarting")
	}

	return s.startLocked()
}

// Shutdown terminates the player and removes the socket. Idempotent;
// wired to both the signal path and the server's deferred teardown.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(s.doShutdown)
}

// Status returns a snapshot for the debug surface.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State:        s.state.String(),
		SocketExists: s.socketPresentLocked(),
	}
	if s.cmd != nil && s.cmd.Process != nil {
		status.PID = s.cmd.Process.Pid
	}
	return status
}

// startLocked performs a full restart: stale cleanup, spawn, bounded
// socket wait. Callers must hold mu.
func (s *Supervisor) startLocked() error {
	s.state = StateStarting

	s.killStaleLocked()
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		zlog.Warn().Err(err).Str("socket", s.cfg.SocketPath).Msg("Failed to remove stale socket")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	profile := DetectAudioProfile(ctx)
	cancel()

	args := buildArgs(s.cfg, profile)
	zlog.Info().
		Str("binary", s.cfg.Binary).
		Stringer("backend", profile.Backend()).
		Strs("args", args).
		Msg("Starting player")

	cmd := exec.Command(s.cfg.Binary, args...)
	if err := cmd.Start(); err != nil {
		s.state = StateDead
		s.logDiagnostics()
		return errors.Wrapf(ErrStartupFailed, "failed to spawn %s: %v", s.cfg.Binary, err)
	}

	s.cmd = cmd
	waitCh := make(chan struct{})
	s.waitCh = waitCh
	go func() {
		err := cmd.Wait()
		close(waitCh)
		s.mu.Lock()
		if s.cmd == cmd && s.state == StateRunning {
			zlog.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("Player process exited")
			s.state = StateDead
		}
		s.mu.Unlock()
	}()

	for i := 0; i < s.cfg.StartAttempts; i++ {
		select {
		case <-waitCh:
			s.state = StateDead
			s.logDiagnostics()
			return errors.Wrap(ErrStartupFailed, "player process died before creating its socket")
		case <-time.After(s.cfg.StartWait):
		}
		if s.socketPresentLocked() {
			s.state = StateRunning
			zlog.Info().Int("pid", cmd.Process.Pid).Str("socket", s.cfg.SocketPath).Msg("Player started")
			return nil
		}
	}

	s.state = StateDead
	_ = cmd.Process.Kill()
	s.logDiagnostics()
	return errors.Wrapf(ErrStartupFailed, "player socket %s was not created", s.cfg.SocketPath)
}

// runningLocked reports whether the current process is alive. Callers
// must hold mu.
func (s *Supervisor) runningLocked() bool {
	if s.state != StateRunning || s.cmd == nil {
		return false
	}
	select {
	case <-s.waitCh:
		return false
	default:
		return true
	}
}

func (s *Supervisor) socketPresentLocked() bool {
	_, err := os.Stat(s.cfg.SocketPath)
	return err == nil
}

// probeLocked sends a direct property query over a raw connection.
// Deliberately bypasses Channel so the restart logic stays out of the
// request path. Callers must hold mu.
func (s *Supervisor) probeLocked() error {
	conn, err := net.DialTimeout("unix", s.cfg.SocketPath, s.cfg.ProbeTimeout)
	if err != nil {
		return errors.Wrap(err, "failed to dial player socket")
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.cfg.ProbeTimeout)); err != nil {
		return errors.Wrap(err, "failed to set probe deadline")
	}
	if _, err := conn.Write([]byte(`{"command":["get_property","idle-active"]}` + "\n")); err != nil {
		return errors.Wrap(err, "failed to write probe")
	}
	if _, err := bufio.NewReader(conn).ReadBytes('\n'); err != nil {
		return errors.Wrap(err, "failed to read probe response")
	}
	return nil
}

// killStaleLocked kills leftover player processes so they cannot hold
// the audio device or the socket path. Callers must hold mu.
func (s *Supervisor) killStaleLocked() {
	procs, err := process.Processes()
	if err != nil {
		zlog.Warn().Err(err).Msg("Failed to list processes for stale player cleanup")
		return
	}

	name := filepath.Base(s.cfg.Binary)
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil || pname != name {
			continue
		}
		zlog.Info().Int32("pid", p.Pid).Str("name", pname).Msg("Killing stale player process")
		if err := p.Kill(); err != nil {
			zlog.Warn().Err(err).Int32("pid", p.Pid).Msg("Failed to kill stale player process")
		}
	}
}

func (s *Supervisor) doShutdown() {
	s.mu.Lock()
	s.closed = true
	cmd := s.cmd
	waitCh := s.waitCh
	s.state = StateDead
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		select {
		case <-waitCh:
			// Already gone
		default:
			zlog.Info().Int("pid", cmd.Process.Pid).Msg("Stopping player")
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-waitCh:
			case <-time.After(time.Second):
				zlog.Warn().Msg("Player did not exit in time, killing")
				_ = cmd.Process.Kill()
				<-waitCh
			}
		}
	}

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		zlog.Warn().Err(err).Str("socket", s.cfg.SocketPath).Msg("Failed to remove player socket")
	}
}

// logDiagnostics records why startup likely failed: binary presence,
// ALSA devices, and the user's audio group membership.
func (s *Supervisor) logDiagnostics() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	version := cmder.New(s.cfg.Binary, "--version").
		WithAttemptTimeout(5 * time.Second).
		Run(ctx)
	if version.Err != nil {
		zlog.Warn().Err(version.Err).Str("binary", s.cfg.Binary).Msg("Player binary is not runnable")
	} else {
		zlog.Info().Msgf("Player binary: %s", firstLine(version.StdOut))
	}

	devices := cmder.New("aplay", "-l").
		WithAttemptTimeout(5 * time.Second).
		Run(ctx)
	if devices.Err != nil {
		zlog.Warn().Err(devices.Err).Msg("Could not list ALSA devices")
	} else {
		zlog.Info().Msgf("ALSA devices:\n%s", strings.TrimSpace(devices.StdOut))
	}

	if u, err := user.Current(); err == nil {
		groups := groupNames(u)
		zlog.Info().
			Str("user", u.Username).
			Strs("groups", groups).
			Bool("inAudioGroup", lo.Contains(groups, "audio")).
			Msg("Audio group membership")
	}
}

// buildArgs assembles the player command line.
func buildArgs(cfg Config, profile AudioProfile) []string {
	args := []string{
		"--no-video",
		"--idle=yes",
		"--input-ipc-server=" + cfg.SocketPath,
		fmt.Sprintf("--volume=%d", cfg.Volume),
	}
	args = append(args, profile.Args()...)
	args = append(args, "--no-terminal", "--msg-level=all=info")
	args = append(args, cfg.ExtraArgs...)
	return args
}

func groupNames(u *user.User) []string {
	gids, err := u.GroupIds()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(gids))
	for _, gid := range gids {
		if g, err := user.LookupGroupId(gid); err == nil {
			names = append(names, g.Name)
		}
	}
	return names
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
