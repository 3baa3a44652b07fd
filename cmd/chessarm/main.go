package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thyrook/chessarm/internal/config"
	"github.com/thyrook/chessarm/internal/iface/logger"
	"github.com/thyrook/chessarm/internal/relay"
	"github.com/thyrook/chessarm/internal/robot"
	"github.com/thyrook/chessarm/internal/rules"
	"github.com/thyrook/chessarm/internal/server"
	"github.com/thyrook/chessarm/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.json", "Configuration file")
	port := flag.String("port", "", "Serial port (overrides config)")
	baud := flag.Int("baud", 0, "Baud rate (overrides config)")
	simulate := flag.Bool("simulate", false, "Use the simulated controller")
	relayPath := flag.String("relay", "", "Relay file to watch (overrides config)")
	httpAddr := flag.String("http", "", "Debug panel listen address, e.g. :8080")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	referee := flag.Bool("referee", true, "Cross-check every move against a rule engine")
	resetCaptures := flag.Bool("reset-captures", false, "Zero the capture counters and exit")
	writeConfig := flag.Bool("write-config", false, "Write the effective configuration and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Config failed: %v", err)
	}

	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *baud > 0 {
		cfg.Serial.Baud = *baud
	}
	if *simulate {
		cfg.Serial.Simulate = true
	}
	if *relayPath != "" {
		cfg.Relay.Path = *relayPath
	}
	if *httpAddr != "" {
		cfg.Interface.HTTPListen = *httpAddr
	}
	if *logLevel != "" {
		cfg.Interface.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", *configPath)
		return
	}

	if *resetCaptures {
		if err := resetCounters(cfg.Storage.DBPath); err != nil {
			log.Fatalf("Reset failed: %v", err)
		}
		fmt.Println("✅ Capture counters reset")
		return
	}

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	zl, err := logger.New(cfg.Interface.LogLevel, cfg.Interface.LogPath)
	if err != nil {
		log.Fatalf("Logger failed: %v", err)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║  chessarm robot controller                                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	// run has released the rig by the time it returns
	err = run(cfg, zl, *referee)
	if err != nil {
		zl.Error("Controller stopped", zap.Error(err))
	}
	zl.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func resetCounters(dbPath string) error {
	store, err := storage.NewCaptureStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Reset()
}

func run(cfg *config.Config, zl *zap.Logger, withReferee bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rig, err := robot.OpenRig(cfg, zl)
	if err != nil {
		return err
	}
	defer rig.Close()

	if withReferee {
		rig.Choreographer.SetReferee(rules.NewGame())
	}

	watcher := relay.NewWatcher(relay.WatcherConfig{
		Path:         cfg.Relay.Path,
		PollInterval: cfg.Relay.PollInterval.Duration(),
		Handler:      rig.Choreographer.Execute,
		Logger:       zl.Named("relay"),
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return watcher.Stop(shutdownTimeout)
	})

	if cfg.Interface.HTTPListen != "" {
		srv := server.New(server.Config{
			Choreographer: rig.Choreographer,
			Watcher:       watcher,
			Traffic:       rig.Channel,
			Publisher:     relay.NewWriter(cfg.Relay.Path),
			Logger:        zl.Named("http"),
		})

		g.Go(func() error {
			return srv.Listen(cfg.Interface.HTTPListen)
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(shutdownTimeout)
		})
	}

	fmt.Printf("🤖 Watching %s (Ctrl+C to stop)\n", cfg.Relay.Path)

	err = g.Wait()

	status := rig.Choreographer.Status()
	zl.Info("Shutting down",
		zap.Uint64("moves", status.Executed),
		zap.Uint64("white_captured", status.Captures.White),
		zap.Uint64("black_captured", status.Captures.Black),
	)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
