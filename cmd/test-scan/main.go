// Command test-scan is a manual test for BLE discovery.
// It scans for a peripheral by advertised name and prints what it finds.
//
// Usage:
//
//	go run ./cmd/test-scan [--name ESP32_Light] [--timeout 15s]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/blelight/internal/ble"
)

func main() {
	name := flag.String("name", ble.DeviceName, "advertised local name to look for")
	timeout := flag.Duration("timeout", 15*time.Second, "give up after this long")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter := ble.NewTinygoAdapter(logger)
	if err := adapter.Enable(); err != nil {
		fmt.Printf("Error: enabling adapter: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Scanning for %q for up to %s...\n", *name, *timeout)
	start := time.Now()
	dev, err := ble.NewScanner(adapter, *timeout, logger).Scan(ctx, *name)
	if err != nil {
		fmt.Printf("Error: %v (kind %s)\n", err, ble.KindOf(err))
		os.Exit(1)
	}

	fmt.Printf("\nFound %s at %s (RSSI %d dBm) after %s\n",
		dev.Name, dev.Address, dev.RSSI, time.Since(start).Round(time.Millisecond))
}
