// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/callrelay/internal/api/connect"
	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/app/callkeep"
	"github.com/osa030/callrelay/internal/app/execution"
	"github.com/osa030/callrelay/internal/app/filter"
	"github.com/osa030/callrelay/internal/domain/call"
	"github.com/osa030/callrelay/internal/infra/config"
	"github.com/osa030/callrelay/internal/infra/logger"
	"github.com/osa030/callrelay/internal/infra/prefs"
)

var (
	app        = kingpin.New("callrelay-server", "callrelay call routing server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: from config)").String()

	// list-reports command
	listReportsCmd = app.Command("list-reports", "List broadcast reports and service actions and exit")

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available screening filters and exit")
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

	// Handle list-reports command
	if command == listReportsCmd.FullCommand() {
		printReports()
		return
	}

	// Handle list-filters command
	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Bootstrap logger until the config is loaded
	if _, err := logger.Init(loggerConfig(config.LoggingConfig{})); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	closer, err := logger.Init(loggerConfig(cfg.Logging))
	if err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}
	defer closer.Close()

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		_ = closer.Close()
		os.Exit(1)
	}
}

// loggerConfig applies command-line overrides to the configured logging.
func loggerConfig(c config.LoggingConfig) logger.Config {
	lc := logger.Config{
		Output:     c.Output,
		Level:      c.Level,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
	}
	if *verbose {
		lc.Level = "debug"
	}
	if *logfile != "" {
		lc.Output = *logfile
	}
	return lc
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	// Load preferences
	store, err := prefs.Load(cfg.Preferences.Path)
	if err != nil {
		return errors.Wrap(err, "failed to load preferences")
	}

	// Create relay
	fabric := broadcast.NewFabric(broadcast.Config{DeliveryTimeout: cfg.DeliveryTimeout()})
	relay := callkeep.New(callkeep.Deps{
		Fabric:   fabric,
		Prefs:    store,
		Renderer: logRenderer{},
		Launch: execution.LaunchConfig{
			Retries:      cfg.Background.LaunchRetries,
			Backoff:      cfg.RetryBackoff(),
			StartupDelay: cfg.StartupDelay(),
		},
	})

	if err := relay.UseFilters(cfg.EnabledFilters()); err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	if _, err := relay.OnBoot(); err != nil {
		zlog.Error().Msgf("Failed to schedule boot startup: %v", err)
	}

	// Create RPC service
	controlService := apiconnect.NewControlService(relay, cfg.Broadcast.SubscriberBuffer)

	// Create server with h2c (HTTP/2 cleartext) support
	serverAddr := cfg.Server.Addr
	server := &http.Server{
		Addr:    serverAddr,
		Handler: h2c.NewHandler(apiconnect.NewHandler(controlService, cfg.Auth.Token), &http2.Server{}),
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	// Start server
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", serverAddr)
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

	// Wait for shutdown signal or server error. SIGHUP reloads preferences.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

wait:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := store.Reload(); err != nil {
					zlog.Error().Msgf("Failed to reload preferences: %v", err)
				} else {
					zlog.Info().Msg("Preferences reloaded")
				}
				continue
			}
			zlog.Info().Msg("Received shutdown signal...")
			break wait
		case err := <-serverErrCh:
			return errors.Wrap(err, "server error")
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// End calls and close streams before the listener goes away
	relay.TearDown(shutdownCtx)
	controlService.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}
	if err := relay.Close(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to flush broadcasts: %v", err)
	}
	fabric.Close()

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// printReports prints broadcast reports and service actions.
func printReports() {
	fmt.Println("Broadcast Reports:")
	for _, r := range broadcast.Reports() {
		fmt.Printf("  %s\n", r)
	}
	fmt.Println("Service Actions:")
	for _, a := range call.Actions() {
		fmt.Printf("  %-15s requires metadata: %t\n", a, a.RequiresMetadata())
	}
}

// printFilters prints available filters.
func printFilters() {
	registered := filter.GetRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available Filters:")
	for _, name := range names {
		f := registered[name](filter.Deps{})
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// logRenderer stands in for the host notification UI.
type logRenderer struct{}

func (logRenderer) Render(meta call.Metadata) error {
	zlog.Info().Msgf("Notification: call_id=%s from=%s name=%q video=%t",
		meta.CallID, meta.Handle, meta.DisplayName, meta.HasVideo)
	return nil
}

func (logRenderer) Cancel(callID string) error {
	zlog.Info().Msgf("Notification cancelled: call_id=%s", callID)
	return nil
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
