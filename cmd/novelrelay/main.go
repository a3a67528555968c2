package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/golden-h/novelrelay/internal/bridge"
	"github.com/golden-h/novelrelay/internal/config"
	"github.com/golden-h/novelrelay/internal/coordinator"
	"github.com/golden-h/novelrelay/internal/events"
	"github.com/golden-h/novelrelay/internal/handlers"
	"github.com/golden-h/novelrelay/internal/sites"
	"github.com/golden-h/novelrelay/internal/store"
)

var version = "dev"

const sessionFile = "session.json"

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()
	cfg := config.Load()
	setupLogger(cfg.LogLevel)

	if len(os.Args) > 1 {
		switch cmd := os.Args[1]; {
		case cmd == "--version" || cmd == "-v":
			fmt.Printf("novelrelay %s\n", version)
			os.Exit(0)
		case cmd == "config":
			config.HandleConfigCommand(cfg)
			os.Exit(0)
		case cmd == "--help" || cmd == "-h":
			printHelp()
			os.Exit(0)
		case isCLICommand(cmd):
			runCLI(cfg, os.Args[1:])
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
			printHelp()
			os.Exit(2)
		}
	}

	runDaemon(cfg)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger writes text to a terminal and JSON lines otherwise.
func setupLogger(level string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func runDaemon(cfg *config.RuntimeConfig) {
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		slog.Error("cannot create state dir", "err", err)
		os.Exit(1)
	}

	set, err := sites.Load(cfg.SitesFile)
	if err != nil {
		slog.Error("cannot load site profiles", "path", cfg.SitesFile, "err", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		slog.Error("cannot open store", "path", cfg.StorePath, "err", err)
		os.Exit(1)
	}

	b := bridge.New(context.Background(), nil, cfg)
	if err := b.EnsureChrome(); err != nil {
		slog.Error("chrome failed to start",
			"err", err,
			"hint", "delete the profile directory or set CDP_URL to an existing browser",
			"profile", cfg.ProfileDir,
		)
		_ = st.Close()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.New()
	coord := coordinator.New(b, set, st, bus, coordinator.SettingsFrom(cfg))
	if err := coord.Seed(ctx); err != nil {
		slog.Warn("seed store", "err", err)
	}

	go coord.Run(ctx)
	if err := b.Watch(ctx); err != nil {
		slog.Error("watch browser tabs", "err", err)
	}

	sessionPath := filepath.Join(cfg.StateDir, sessionFile)
	go func() {
		n, err := b.RestoreTabs(ctx, sessionPath)
		if err != nil {
			slog.Warn("restore tabs", "err", err)
			return
		}
		if n > 0 {
			slog.Info("restored tabs", "count", n)
		}
	}()

	go b.CleanStaleTabs(ctx, cfg.SweepInterval, func(tabID string) {
		coord.OnTabEvent(ctx, bridge.TabEvent{Kind: bridge.TabClosed, TabID: tabID})
	})

	mux := http.NewServeMux()
	h := handlers.New(b, coord, bus, cfg)

	srv := &http.Server{
		Addr: cfg.ListenAddr(),
		Handler: handlers.RequestIDMiddleware(
			handlers.LoggingMiddleware(
				handlers.CorsMiddleware(
					handlers.RateLimitMiddleware(
						handlers.AuthMiddleware(cfg, mux))))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownOnce := &sync.Once{}
	doShutdown := func() {
		shutdownOnce.Do(func() {
			slog.Info("shutting down, saving tabs...")
			saveCtx, saveCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer saveCancel()
			keep := func(url string) bool {
				_, ok := set.ForURL(url)
				return ok
			}
			if err := b.SaveTabs(saveCtx, sessionPath, keep); err != nil {
				slog.Warn("save tabs", "err", err)
			}

			cancel()
			b.Close()
			if err := st.Close(); err != nil {
				slog.Warn("close store", "err", err)
			}
			if err := srv.Shutdown(saveCtx); err != nil {
				slog.Warn("http shutdown", "err", err)
			}
		})
	}

	h.RegisterRoutes(mux, doShutdown)

	setupSignalHandler(doShutdown, func() {
		cancel()
		b.Close()
	})

	slog.Info("novelrelay listening", "addr", cfg.ListenAddr(), "cdp", cfg.CdpURL, "profiles", len(set.Profiles), "version", version)
	if cfg.Token != "" {
		slog.Info("auth enabled")
	} else {
		slog.Info("auth disabled (set RELAY_TOKEN to enable)")
	}

	go runStartupHealthCheck(cfg)

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server", "err", err)
		os.Exit(1)
	}
}

func setupSignalHandler(shutdownFn func(), forceFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go shutdownFn()
		<-sig
		slog.Warn("force shutdown requested")
		forceFn()
		os.Exit(130)
	}()
}

func runStartupHealthCheck(cfg *config.RuntimeConfig) {
	time.Sleep(500 * time.Millisecond)
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodGet, cfg.BaseURL()+"/health", nil)
	if err != nil {
		return
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Error("startup health check failed", "err", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		slog.Info("startup health check passed")
	} else {
		slog.Warn("startup health check unexpected status", "status", resp.StatusCode)
	}
}
