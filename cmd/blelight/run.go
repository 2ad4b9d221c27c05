package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/chaz8081/blelight/internal/color"
	"github.com/chaz8081/blelight/internal/events"
	"github.com/chaz8081/blelight/internal/metrics"
	"github.com/chaz8081/blelight/internal/session"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the light and stream colors read from stdin",
		Long: `Starts a session and reads one command per line from stdin:
  #RRGGBB, RRGGBB or "r g b"   send a color
  rescan                       drop the current link and scan again
  status                       print the connection state
  quit                         exit`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			printBanner(cfg)

			bus := events.New()
			if cfg.Metrics.Listen != "" {
				stop := serveMetrics(cfg.Metrics.Listen, bus, logger)
				defer stop()
			}

			ctrl := newController(cfg, logger, bus)
			return runLoop(ctrl, os.Stdin, logger)
		},
	}
}

func runLoop(ctrl *session.Controller, in io.Reader, logger *slog.Logger) error {
	sub := ctrl.Subscribe()
	defer sub.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	printState(sub.Initial)
	ctrl.StartSession()
	fmt.Println("Ready! Type a color (#FF8800 or \"255 136 0\"), rescan, status or quit.")

	for {
		select {
		case s, ok := <-sub.C:
			if !ok {
				return nil
			}
			printState(s)
			if s == session.PermissionDenied {
				fmt.Println("Bluetooth permission missing. Grant it and type rescan.")
			}

		case line, ok := <-lines:
			if !ok {
				logger.Info("stdin closed, shutting down")
				return ctrl.Close()
			}
			cmd, c, err := parseLine(line)
			if err != nil {
				fmt.Printf("? %v\n", err)
				continue
			}
			switch cmd {
			case cmdNone:
			case cmdColor:
				if !ctrl.SubmitColor(c) {
					fmt.Printf("Not connected (%s), %s dropped\n", ctrl.State(), c.Hex())
				}
			case cmdRescan:
				ctrl.Restart()
			case cmdStatus:
				printState(ctrl.State())
			case cmdQuit:
				fmt.Println("Goodbye!")
				return ctrl.Close()
			}

		case sig := <-sigCh:
			logger.Info("shutting down", "signal", sig.String())
			return ctrl.Close()
		}
	}
}

type lineCmd int

const (
	cmdNone lineCmd = iota
	cmdColor
	cmdRescan
	cmdStatus
	cmdQuit
)

// parseLine interprets one line of run input.
func parseLine(line string) (lineCmd, color.Color, error) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return cmdNone, color.Black, nil
	case "rescan", "restart":
		return cmdRescan, color.Black, nil
	case "status":
		return cmdStatus, color.Black, nil
	case "quit", "exit", "q":
		return cmdQuit, color.Black, nil
	}
	c, err := color.Parse(line)
	if err != nil {
		return cmdNone, color.Black, err
	}
	return cmdColor, c, nil
}

func printState(s session.State) {
	fmt.Printf("State: %s [%s]\n", s, s.Indicator())
}

// serveMetrics exposes the session metrics on addr and returns a function
// that shuts the server down.
func serveMetrics(addr string, bus *events.Bus, logger *slog.Logger) func() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	detach := metrics.New(reg).Attach(bus)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics server listening", "addr", addr)

	return func() {
		detach()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
