package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/procwatch/internal/buildinfo"
	"github.com/modoterra/procwatch/pkg/transport/uds"
	tuimodel "github.com/modoterra/procwatch/pkg/tui/model"
)

const defaultSocket = "/tmp/procwatch.sock"

var socketPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "procwatch",
	Short:        "Run commands and watch their output",
	Long:         "procwatch runs commands under a background daemon and classifies every line they print.",
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket, "daemon socket path")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(stopAllCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(serviceCmd)
}

// --- Root: TUI ---

func runTUI(cmd *cobra.Command, _ []string) error {
	ensureDaemon(cmd)
	app := tuimodel.New(socketPath)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// ensureDaemon spawns procwatchd in the background when nothing is
// listening on the socket yet.
func ensureDaemon(cmd *cobra.Command) {
	if c, err := uds.Dial(socketPath); err == nil {
		c.Close()
		return
	}
	d := exec.Command("procwatchd", "--socket", socketPath)
	if err := d.Start(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not start procwatchd: %v\n", err)
		return
	}
	go d.Wait()
	for i := 0; i < 30; i++ {
		if c, err := uds.Dial(socketPath); err == nil {
			c.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "warning: daemon did not come up, continuing anyway")
}

func dialDaemon() (*uds.Client, error) {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", socketPath, err)
	}
	return client, nil
}

// call dials the daemon, performs one request and closes the connection.
func call(timeout time.Duration, method string, in, out any) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return client.Call(ctx, method, in, out)
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if daemon is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var pong uds.PingResponse
		if err := call(2*time.Second, uds.MethodPing, nil, &pong); err != nil {
			return err
		}
		if pong.Pong {
			fmt.Fprintf(cmd.OutOrStdout(), "pong ✓ (procwatchd %s)\n", pong.Version)
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "procwatch %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

// --- Daemon ---

var daemonManifest string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start daemon in foreground (for debugging)",
	Long:  "Normally the TUI auto-spawns the daemon. Use this to run it manually.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		args := []string{"--socket", socketPath}
		if daemonManifest != "" {
			args = append(args, "--manifest", daemonManifest)
		}
		d := exec.Command("procwatchd", args...)
		d.Stdout = cmd.OutOrStdout()
		d.Stderr = cmd.ErrOrStderr()
		return d.Run()
	},
}

func init() {
	daemonCmd.Flags().StringVar(&daemonManifest, "manifest", "", "path to procwatch.yaml")
}
