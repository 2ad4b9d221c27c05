package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blelight/internal/ble"
	"github.com/chaz8081/blelight/internal/config"
	"github.com/chaz8081/blelight/internal/events"
	"github.com/chaz8081/blelight/internal/logging"
	"github.com/chaz8081/blelight/internal/permission"
	"github.com/chaz8081/blelight/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:          "blelight",
		Short:        "Drive an ESP32 RGB light over Bluetooth LE",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file (default: ~/.config/blelight/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(flags),
		newSetCmd(flags),
		newProbeCmd(flags),
		newInitCmd(),
	)
	return root
}

// setup loads and validates the config and installs the logger.
func setup(flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// newGate picks the permission gate for this platform. BlueZ is asked over
// D-Bus; CoreBluetooth and WinRT prompt on first use, so elsewhere every
// capability is assumed held.
func newGate(cfg *config.Config, logger *slog.Logger) permission.Gate {
	if runtime.GOOS == "linux" {
		return permission.NewBluezGate(cfg.Bluez.Adapter, logger.With("component", "permission"))
	}
	return permission.AllowAll()
}

// newController wires the platform adapter, gate and bus into a controller.
func newController(cfg *config.Config, logger *slog.Logger, bus *events.Bus) *session.Controller {
	adapter := ble.NewTinygoAdapter(logger.With("component", "adapter"))
	return session.New(adapter, newGate(cfg, logger), session.Options{
		DeviceName:     cfg.Device.Name,
		ServiceUUID:    cfg.Device.ServiceUUID,
		CharUUID:       cfg.Device.CharacteristicUUID,
		ScanTimeout:    cfg.Scan.Timeout,
		ConnectTimeout: cfg.Connect.Timeout,
		SettleDelay:    cfg.Write.SettleDelay,
		MaxWriteRate:   cfg.Write.MaxRate,
		Bus:            bus,
		Logger:         logger,
	})
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== blelight ===")
	fmt.Printf("  Device:   %s\n", cfg.Device.Name)
	fmt.Printf("  Service:  %s\n", cfg.Device.ServiceUUID)
	fmt.Printf("  Color:    %s\n", cfg.Device.CharacteristicUUID)
	fmt.Printf("  Writes:   settle %s, max rate %s\n", cfg.Write.SettleDelay, rateString(cfg.Write.MaxRate))
	if cfg.Metrics.Listen != "" {
		fmt.Printf("  Metrics:  http://%s/metrics\n", cfg.Metrics.Listen)
	}
	fmt.Printf("  Log:      %s (%s)\n", cfg.LogLevel, cfg.LogFormat)
	fmt.Println("================")
}

func rateString(r float64) string {
	if r == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%g/s", r)
}
