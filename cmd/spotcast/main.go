package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spotcast/spotcast/internal/api"
	"github.com/spotcast/spotcast/internal/audio"
	"github.com/spotcast/spotcast/internal/cache"
	"github.com/spotcast/spotcast/internal/config"
	"github.com/spotcast/spotcast/internal/network"
	"github.com/spotcast/spotcast/internal/playback"
	"github.com/spotcast/spotcast/internal/session"
	"github.com/spotcast/spotcast/internal/storage"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	debug      = flag.Bool("debug", false, "Enable debug mode - shows detailed logging for all components")
	pin        = flag.String("pin", "", "Spot pin to connect to (overrides the stored session)")
	disconnect = flag.Bool("disconnect", false, "Clear the stored session and exit")
	clearCache = flag.Bool("clear-cache", false, "Remove all cached failover tracks and exit")
	Version    = "dev"
)

func main() {
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("[MAIN] Debug mode enabled - all components will log detailed information")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] Failed to load config: %v", err)
	}
	if *debug {
		cfg.Debug = true
		log.Printf("[MAIN] Configuration loaded successfully")
		log.Printf("[MAIN] - API Base URL: %s", cfg.API.BaseURL)
		log.Printf("[MAIN] - Database Path: %s", cfg.Storage.DatabasePath)
		log.Printf("[MAIN] - Cache Directory: %s", cfg.Storage.CacheDir)
		log.Printf("[MAIN] - Config Poll Interval: %d seconds", cfg.Session.PollIntervalSeconds)
	}

	if *clearCache {
		trackCache, err := cache.NewManager(cfg)
		if err != nil {
			log.Fatalf("[MAIN] Failed to open cache: %v", err)
		}
		if err := trackCache.Clear(); err != nil {
			log.Fatalf("[MAIN] Failed to clear cache: %v", err)
		}
		log.Println("[MAIN] Failover cache cleared")
		return
	}

	settings, err := storage.Open(cfg.Storage.DatabasePath, cfg.Debug)
	if err != nil {
		log.Fatalf("[MAIN] Failed to open settings database: %v", err)
	}
	defer settings.Close()

	if *disconnect {
		if err := settings.ClearToken(); err != nil {
			log.Fatalf("[MAIN] Failed to clear stored session: %v", err)
		}
		log.Println("[MAIN] Stored session cleared")
		return
	}

	token, err := resolveStartupToken(settings, *pin)
	if err != nil {
		log.Fatalf("[MAIN] %v", err)
	}

	engine, err := audio.NewEngine(cfg)
	if err != nil {
		log.Fatalf("[MAIN] Failed to initialize audio: %v", err)
	}

	trackCache, err := cache.NewManager(cfg)
	if err != nil {
		log.Fatalf("[MAIN] Failed to open cache: %v", err)
	}

	client := api.NewClient(cfg)
	monitor := network.NewMonitor(cfg)
	watchdog := playback.NewWatchdog(engine, playback.ConfigFrom(cfg), cfg.Debug)

	machine := session.NewMachine(session.ConfigFrom(cfg), client, settings,
		watchdog, trackCache, monitor, cfg.Debug)
	if err := machine.Start(); err != nil {
		log.Fatalf("[MAIN] Failed to start session: %v", err)
	}

	if volume, err := settings.LastVolume(); err == nil && volume > 0 {
		machine.SetVolume(volume)
	}

	states, cancelStates := machine.States()
	go func() {
		for state := range states {
			log.Printf("[MAIN] Session: %s", state.Status())
		}
	}()

	log.Printf("[MAIN] spotcast %s connecting to spot %s", Version, token)
	machine.Connect(token)

	waitForShutdown()

	log.Println("[MAIN] Shutting down...")
	cancelStates()
	machine.Close()
	if err := watchdog.Close(); err != nil {
		log.Printf("[MAIN] Audio shutdown: %v", err)
	}
	monitor.Close()
	log.Println("[MAIN] Goodbye")
}

// resolveStartupToken decides what to connect to at boot. An explicit -pin
// always wins and turns auto-connect on for future boots; without one, the
// stored session is only resumed when the user left auto-connect enabled.
func resolveStartupToken(settings *storage.Settings, pin string) (string, error) {
	if pin != "" {
		if err := settings.SetAutoStartEnabled(true); err != nil {
			return "", fmt.Errorf("enable auto-connect: %w", err)
		}
		return pin, nil
	}

	enabled, err := settings.AutoStartEnabled()
	if err != nil {
		return "", fmt.Errorf("read auto-connect setting: %w", err)
	}
	if !enabled {
		return "", fmt.Errorf("auto-connect is disabled; run with -pin <pin> to start a session")
	}

	stored, err := settings.Token()
	if err != nil {
		return "", fmt.Errorf("read stored session: %w", err)
	}
	if stored == "" {
		return "", fmt.Errorf("no stored session; run with -pin <pin> first")
	}
	return stored, nil
}

func waitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.Printf("[MAIN] Received signal: %v", sig)
}
