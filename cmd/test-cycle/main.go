// Command test-cycle is a manual test for the color write pipeline.
// It connects to the light and cycles red, green and blue until
// interrupted, printing every state change.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-cycle [--interval 500ms]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/blelight/internal/ble"
	"github.com/chaz8081/blelight/internal/color"
	"github.com/chaz8081/blelight/internal/events"
	"github.com/chaz8081/blelight/internal/permission"
	"github.com/chaz8081/blelight/internal/session"
)

func main() {
	interval := flag.Duration("interval", 500*time.Millisecond, "time between colors")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	bus := events.New()
	defer bus.Subscribe(func(e events.ColorWrittenEvent) {
		fmt.Printf("    wrote %s in %s\n", e.Color.Hex(), e.Duration.Round(time.Microsecond))
	})()
	defer bus.Subscribe(func(e events.WriteFailedEvent) {
		fmt.Printf("    write %s failed: %s\n", e.Color.Hex(), e.Error)
	})()

	opts := session.DefaultOptions()
	opts.Bus = bus
	opts.Logger = logger
	ctrl := session.New(ble.NewTinygoAdapter(logger), permission.AllowAll(), opts)

	sub := ctrl.Subscribe()
	defer sub.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("Looking for %s. Press Ctrl+C to exit.\n", ble.DeviceName)
	ctrl.StartSession()

	colors := []color.Color{color.New(255, 0, 0), color.New(0, 255, 0), color.New(0, 0, 255)}
	tick := time.NewTicker(*interval)
	defer tick.Stop()

	for i := 0; ; {
		select {
		case s, ok := <-sub.C:
			if !ok {
				return
			}
			fmt.Printf(">>> %s\n", s)
		case <-tick.C:
			if ctrl.State() != session.Connected {
				continue
			}
			ctrl.SubmitColor(colors[i%len(colors)])
			i++
		case <-sig:
			fmt.Println("\nShutting down...")
			if err := ctrl.Close(); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			fmt.Println("Done.")
			return
		}
	}
}
