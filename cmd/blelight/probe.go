package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blelight/internal/config"
	"github.com/chaz8081/blelight/internal/permission"
)

func newProbeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report whether Bluetooth scanning and connecting are permitted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}

			gate := newGate(cfg, logger)
			fmt.Printf("Platform: %s\n", runtime.GOOS)
			if runtime.GOOS == "linux" {
				fmt.Printf("Adapter:  %s\n", cfg.Bluez.Adapter)
			}
			for _, c := range []permission.Capability{permission.Scan, permission.Connect} {
				fmt.Printf("  %-18s %s\n", c, verdict(gate.HasPermission(c)))
			}
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
				return nil
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func verdict(ok bool) string {
	if ok {
		return "granted"
	}
	return "denied"
}
