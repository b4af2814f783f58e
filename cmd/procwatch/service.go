package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/procwatch/pkg/daemon/service"
)

var serviceManifest string

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the procwatchd systemd user unit",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install, enable and start procwatchd as a user service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		manifestPath := serviceManifest
		if manifestPath != "" {
			abs, err := filepath.Abs(manifestPath)
			if err != nil {
				return err
			}
			manifestPath = abs
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := service.Install(ctx, manifestPath); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "procwatchd service installed ✓")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop, disable and remove the user service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := service.Uninstall(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "procwatchd service removed ✓")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service and socket state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(ctx, socketPath))
	},
}

func init() {
	serviceInstallCmd.Flags().StringVar(&serviceManifest, "manifest", "", "manifest passed to procwatchd")
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}
