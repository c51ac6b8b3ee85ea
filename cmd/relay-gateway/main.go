// ABOUTME: Entry point for the relay-gateway message routing server
// ABOUTME: Loads config, opens the store, wires the engines and serves the HTTP API

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/threadworks/relay-gateway/internal/config"
	"github.com/threadworks/relay-gateway/internal/delivery"
	"github.com/threadworks/relay-gateway/internal/directory"
	"github.com/threadworks/relay-gateway/internal/httpapi"
	"github.com/threadworks/relay-gateway/internal/relay"
	"github.com/threadworks/relay-gateway/internal/store"
	"github.com/threadworks/relay-gateway/internal/thread"
)

// version is overridden via -ldflags on release builds.
var version = "dev"

const banner = `
            _                               _
  _ __ ___| | __ _ _   _        __ _  __ _| |_ _____      ____ _ _   _
 | '__/ _ \ |/ _' | | | |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | | |  __/ | (_| | |_| |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_|  \___|_|\__,_|\__, |      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                   |___/       |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: RELAY_CONFIG env var > XDG_CONFIG_HOME/relay/gateway.yaml > ~/.config/relay/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relay", "gateway.yaml")
}

// setupLogger configures the default slog logger per config.
func setupLogger(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// openStore selects the store backend from config.
func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgresStore(cfg.DSN)
	default:
		return store.NewSQLiteStore(cfg.Path)
	}
}

func main() {
	if err := run(); err != nil {
		color.Red("relay-gateway: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// .env values feed ${VAR} expansion and RELAY_* overrides in the config
	_ = godotenv.Load()

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}

	setupLogger(cfg.Logging)
	logger := slog.Default()

	fmt.Print(color.CyanString(banner))
	fmt.Printf("  version %s\n\n", version)

	st, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	textEndpoint := cfg.Providers.TextEndpoint
	emailEndpoint := cfg.Providers.EmailEndpoint
	if cfg.Providers.Loopback {
		// Point both providers back at the local echo endpoint
		base := "http://" + cfg.Server.HTTPAddr
		if textEndpoint == "" {
			textEndpoint = base + "/api/test/messages/receive"
		}
		if emailEndpoint == "" {
			emailEndpoint = base + "/api/test/messages/receive"
		}
	}

	deliverer := delivery.New(delivery.Config{
		TextEndpoint:  textEndpoint,
		EmailEndpoint: emailEndpoint,
		Timeout:       cfg.Delivery.Timeout,
		MaxAttempts:   cfg.Delivery.MaxAttempts,
		BackoffBase:   cfg.Delivery.BackoffBase,
	}, logger)

	resolver := directory.New(st, logger)
	threads := thread.New(st, logger)
	engine := relay.New(st, resolver, threads, deliverer, logger)
	api := httpapi.New(st, engine, cfg.Providers.Loopback, logger)

	server := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
