// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/arai051/tunebox/internal/api/httpapi"
	"github.com/arai051/tunebox/internal/app/notification"
	"github.com/arai051/tunebox/internal/app/playback"
	"github.com/arai051/tunebox/internal/app/queue"
	"github.com/arai051/tunebox/internal/app/resolve"
	"github.com/arai051/tunebox/internal/infra/config"
	"github.com/arai051/tunebox/internal/infra/logger"
	"github.com/arai051/tunebox/internal/infra/mpv"
	"github.com/arai051/tunebox/internal/infra/resolver"
)

var (
	app        = kingpin.New("tunebox-server", "tunebox playback daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// probe-audio command
	probeAudioCmd = app.Command("probe-audio", "Print audio backend detection results and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Handle probe-audio command
	if command == probeAudioCmd.FullCommand() {
		probeAudio()
		return
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Run server (defer ensures player shutdown is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	// The player outlives everything else in this function; its
	// teardown is deferred first so it runs after the HTTP drain and
	// the background loops have stopped.
	supervisor := mpv.NewSupervisor(mpv.Config{
		Binary:        cfg.Player.Binary,
		SocketPath:    cfg.Player.Socket,
		Volume:        cfg.Player.Volume,
		StartAttempts: cfg.Player.StartAttempts,
		StartWait:     cfg.Player.StartWait(),
		ProbeTimeout:  cfg.Player.CommandTimeout(),
		ExtraArgs:     cfg.Player.ExtraArgs,
	})
	defer supervisor.Shutdown()

	if err := supervisor.EnsureRunning(); err != nil {
		// Keep serving: the queue and UI stay available, and the
		// channel re-attempts a start on the next player call.
		zlog.Error().Err(err).Msg("Player failed to start, continuing without playback")
	}

	channel := mpv.NewChannel(cfg.Player.Socket, cfg.Player.CommandTimeout(), supervisor)

	hub := notification.NewManager()
	defer hub.Close()

	store := queue.NewStore(hub)
	state := playback.NewState()
	director := playback.NewDirector(store, state, channel, supervisor, hub, cfg.Playback.AutoplayEnabled())

	resolverClient, err := resolver.New(resolver.Config{
		URL:     cfg.Resolver.URL,
		Timeout: cfg.Resolver.Timeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create resolver client: %w", err)
	}

	worker := resolve.NewWorker(store, resolverClient, director, hub, cfg.Resolver.Timeout())
	defer worker.Close()

	pollCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()
	poller := playback.NewPoller(channel, state, director, hub, cfg.Playback.PollInterval())
	go poller.Run(pollCtx)

	// Create HTTP mux
	mux := http.NewServeMux()
	httpapi.NewService(director, store, worker, resolverClient, hub).Register(mux)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	// Start server
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		// Signal that we're about to start listening
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for server to start listening
	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zlog.Info().Msgf("Received %s, shutting down...", sig)
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// probeAudio prints the detected audio environment and the player
// arguments the server would start with.
func probeAudio() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	profile := mpv.DetectAudioProfile(ctx)

	fmt.Println("Audio environment:")
	fmt.Printf("  %-14s %v\n", "Raspberry Pi:", profile.RaspberryPi)
	fmt.Printf("  %-14s %v\n", "PipeWire:", profile.PipeWire)
	fmt.Printf("  %-14s %v\n", "PulseAudio:", profile.PulseAudio)
	fmt.Printf("  %-14s %s\n", "Backend:", profile.Backend())
	fmt.Printf("  %-14s %s\n", "Player args:", strings.Join(profile.Args(), " "))
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
