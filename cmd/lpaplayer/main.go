// Command lpaplayer is the low-power audio playback daemon.
// Run with --mock to use simulated outputs (no sound card, UART or BlueZ required).
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/micro-nova/lpaplayer/internal/api"
	"github.com/micro-nova/lpaplayer/internal/auth"
	"github.com/micro-nova/lpaplayer/internal/config"
	"github.com/micro-nova/lpaplayer/internal/controller"
	"github.com/micro-nova/lpaplayer/internal/effects"
	"github.com/micro-nova/lpaplayer/internal/events"
	"github.com/micro-nova/lpaplayer/internal/hardware"
	"github.com/micro-nova/lpaplayer/internal/models"
	"github.com/micro-nova/lpaplayer/internal/player"
	"github.com/micro-nova/lpaplayer/internal/power"
	"github.com/micro-nova/lpaplayer/internal/route"
	"github.com/micro-nova/lpaplayer/internal/sink"
	"github.com/micro-nova/lpaplayer/internal/zeroconf"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// mockPeriod is how long a mock device write takes to "play".
const mockPeriod = 50 * time.Millisecond

func main() {
	var (
		mock   = flag.Bool("mock", false, "use mock outputs (no sound card, UART or D-Bus required)")
		addr   = flag.String("addr", ":8080", "HTTP listen address")
		cfgDir = flag.String("config-dir", "", "config directory (default: ~/.config/lpaplayer)")
		debug  = flag.Bool("debug", false, "enable debug logging")
		file   = flag.String("file", "", "media to play at startup (WAV path, \"tone\" or \"tone:<hz>\")")
		output = flag.String("output", "alsa", "local PCM backend: alsa or oto")
	)
	flag.Parse()

	// Configure logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Resolve config directory
	if *cfgDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("cannot determine home directory", "err", err)
			os.Exit(1)
		}
		*cfgDir = filepath.Join(home, ".config", "lpaplayer")
	}
	if err := os.MkdirAll(*cfgDir, 0755); err != nil {
		slog.Error("cannot create config directory", "path", *cfgDir, "err", err)
		os.Exit(1)
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Config store
	store := config.NewJSONStore(*cfgDir)
	settings, err := store.Load()
	if err != nil {
		slog.Error("cannot load config", "path", store.Path(), "err", err)
		os.Exit(1)
	}

	// Outputs
	hub := route.NewHub()
	var deps player.Deps
	if *mock {
		slog.Info("using mock outputs")
		deps = player.Deps{
			PCM:     hardware.NewMock(mockPeriod),
			Session: hardware.NewAmpSession(""),
			Sink:    sink.NewMock(4096),
			Lock:    &power.Noop{},
		}
	} else {
		var pcm hardware.PCM
		switch *output {
		case "alsa":
			pcm = hardware.NewALSA(settings.Card, settings.Device)
		case "oto":
			pcm = hardware.NewOto()
		default:
			slog.Error("unknown output backend", "output", *output)
			os.Exit(1)
		}
		lock := power.NewLogind("lpaplayer", "audio playback")
		defer lock.Close()
		deps = player.Deps{
			PCM:     pcm,
			Session: hardware.NewAmpSession(settings.AmpPin),
			Sink:    sink.NewSerial(settings.SerialPort, settings.SerialBaud),
			Lock:    lock,
		}
		slog.Info("using hardware outputs",
			"output", *output, "card", settings.Card, "device", settings.Device,
			"serial", settings.SerialPort, "amp_pin", settings.AmpPin)
	}

	// Event bus
	bus := events.NewBus()

	effectsPath := settings.EffectsFile
	if !filepath.IsAbs(effectsPath) {
		effectsPath = filepath.Join(*cfgDir, effectsPath)
	}

	// Controller
	ctrl, err := controller.New(store, bus, controller.Options{
		Deps:        deps,
		EffectsPath: effectsPath,
		Routes:      hub,
	})
	if err != nil {
		slog.Error("controller initialization failed", "err", err)
		os.Exit(1)
	}

	// Effects file: an existing file overrides the stored settings.
	if _, err := os.Stat(effectsPath); err == nil {
		if cfg, err := effects.Load(effectsPath); err != nil {
			slog.Warn("cannot read effects file", "path", effectsPath, "err", err)
		} else {
			ctrl.ApplyEffects(cfg)
		}
	}
	watcher, err := effects.Watch(effectsPath, ctrl.ApplyEffects)
	if err != nil {
		slog.Warn("effects watcher unavailable", "path", effectsPath, "err", err)
	} else {
		defer watcher.Close()
	}

	// Route monitor
	if !*mock {
		go func() {
			if err := route.NewBlueZ(hub).Run(ctx); err != nil {
				slog.Warn("bluez route monitor stopped", "err", err)
			}
		}()
	}

	// Zeroconf mDNS registration
	hostname, _ := os.Hostname()
	port := 8080
	if _, p, err := net.SplitHostPort(*addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	zc := zeroconf.New(hostname, port, "version="+version, "api=/api")
	go func() {
		if err := zc.Start(ctx); err != nil {
			slog.Warn("zeroconf failed", "err", err)
		}
	}()

	// Access keys for the control API
	authSvc, err := auth.NewService(*cfgDir)
	if err != nil {
		slog.Error("auth service initialization failed", "err", err)
		os.Exit(1)
	}
	defer authSvc.Close()

	// HTTP server
	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.NewRouter(ctrl, authSvc, bus),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		slog.Info("lpaplayer listening", "addr", *addr, "mock", *mock, "config", *cfgDir, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	// Startup media
	if *file != "" {
		if _, appErr := ctrl.Start(ctx, models.StartRequest{File: *file}); appErr != nil {
			slog.Error("cannot start playback", "file", *file, "err", appErr)
		}
	}

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	// Graceful HTTP shutdown
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	// Stop playback and flush pending config writes
	if err := ctrl.Close(); err != nil {
		slog.Warn("shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}
