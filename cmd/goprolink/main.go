package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goprolink/goprolink/internal/ble"
	"github.com/goprolink/goprolink/internal/camera"
	"github.com/goprolink/goprolink/internal/cohn"
	"github.com/goprolink/goprolink/internal/config"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/goprolink/config.yaml)")
	id := flag.String("id", "", "last four digits of the camera serial (empty matches the first GoPro found)")
	online := flag.Bool("online", false, "bring the camera onto WiFi and enable HTTPS control")
	ssid := flag.String("ssid", "", "home network SSID to associate the camera with")
	password := flag.String("password", "", "home network password")
	record := flag.Duration("record", 0, "record a clip of this length, then exit (e.g. 5s)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel),
	})))

	printBanner(cfg, *id, *online, *ssid)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %s, shutting down...", sig)
		cancel()
	}()

	// Credential store, only needed in online mode
	var store cohn.Store
	if *online {
		s, err := cohn.OpenSQLiteStore(cfg.CredentialsPath)
		if err != nil {
			log.Fatalf("Failed to open credential store: %v", err)
		}
		defer s.Close()
		store = s
	}

	adapter := ble.NewBluetoothAdapter()
	cam := camera.New(adapter, camera.Options{
		Identifier: *id,
		Online:     *online,
		SSID:       *ssid,
		Password:   *password,
		Store:      store,
	}, cfg.Timeouts)

	log.Println("Connecting to camera...")
	openStart := time.Now()
	if err := cam.Open(ctx); err != nil {
		log.Fatalf("Failed to connect: %v\n\nCheck that the camera is on and in pairing range.", err)
	}
	defer cam.Close()
	log.Printf("Connected to %s in %s", cam.Identifier(), time.Since(openStart).Round(time.Millisecond))

	if err := cam.SetDateTime(ctx, time.Now()); err != nil {
		log.Printf("WARN: clock sync failed: %v", err)
	}

	if *record > 0 {
		if err := recordClip(ctx, cam, *record); err != nil {
			log.Fatalf("Recording failed: %v", err)
		}
		return
	}

	if *online {
		info, err := cam.Info(ctx)
		if err != nil {
			log.Printf("WARN: camera info unavailable: %v", err)
		} else {
			log.Printf("Camera: %s (firmware %s, serial %s)", info.ModelName, info.FirmwareVersion, info.SerialNumber)
		}
	}

	log.Println("Ready! Ctrl+C to quit.")
	runIdle(ctx, cam, *online)
}

// recordClip starts the shutter, waits, stops it, and in online mode
// reports the resulting file.
func recordClip(ctx context.Context, cam *camera.Camera, d time.Duration) error {
	log.Printf("Recording %s clip...", d)
	if err := cam.SetShutter(ctx, true); err != nil {
		return fmt.Errorf("shutter on: %w", err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := cam.SetShutter(ctx, false); err != nil {
		return fmt.Errorf("shutter off: %w", err)
	}
	log.Println("Recording stopped")

	last, err := cam.LastCapturedMedia(ctx)
	if err == nil {
		log.Printf("Captured %s/%s", last.Folder, last.File)
	}
	return nil
}

// runIdle keeps the connection alive until the context is cancelled. In
// online mode the camera powers its WiFi down without periodic traffic.
func runIdle(ctx context.Context, cam *camera.Camera, online bool) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Goodbye!")
			return
		case <-ticker.C:
			if !cam.IsHealthy(ctx) {
				log.Println("Connection lost, reconnecting...")
				if !cam.Reconnect(ctx) {
					log.Println("ERROR: reconnect failed, giving up")
					return
				}
				log.Println("Reconnected")
				continue
			}
			if online {
				if err := cam.KeepAlive(ctx); err != nil {
					log.Printf("WARN: keep-alive failed: %v", err)
				}
			}
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, id string, online bool, ssid string) {
	target := "first GoPro found"
	if id != "" {
		target = "GoPro " + id
	}
	mode := "offline (BLE only)"
	if online {
		mode = "online (BLE + HTTPS)"
	}

	fmt.Println("=== goprolink ===")
	fmt.Printf("  Camera:  %s\n", target)
	fmt.Printf("  Mode:    %s\n", mode)
	if ssid != "" {
		fmt.Printf("  WiFi:    %s\n", ssid)
	}
	fmt.Printf("  Creds:   %s\n", cfg.CredentialsPath)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=================")
}
