package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/procwatch/pkg/core"
	"github.com/modoterra/procwatch/pkg/monitor"
	"github.com/modoterra/procwatch/pkg/transport/uds"
)

// --- Status ---

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every monitored process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var st monitor.Status
		if err := call(2*time.Second, uds.MethodStatus, nil, &st); err != nil {
			return err
		}
		if statusJSON {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		return printStatus(cmd.OutOrStdout(), st, time.Now())
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func printStatus(w io.Writer, st monitor.Status, now time.Time) error {
	if len(st.Processes) == 0 {
		_, err := fmt.Fprintln(w, "no processes")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPID\tUPTIME\tFILTER\tCOMMAND")
	for _, p := range st.Processes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			shortID(p.ID), orDash(p.Name), p.Status, p.PID,
			now.Sub(p.StartTime).Truncate(time.Second), levelList(p.LevelFilter), p.Command)
	}
	fmt.Fprintf(tw, "\n%d active\n", st.ActiveProcesses)
	return tw.Flush()
}

// --- Start ---

var (
	startName   string
	startFormat string
	startFilter []string
	startDir    string
)

var startCmd = &cobra.Command{
	Use:   "start [flags] -- <command...>",
	Short: "Start and monitor a command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := uds.StartRequest{
			Name:    startName,
			Command: strings.Join(args, " "),
			Dir:     startDir,
			Format:  startFormat,
			Levels:  startFilter,
		}
		var resp uds.StartResponse
		if err := call(10*time.Second, uds.MethodStart, req, &resp); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.ID)
		return nil
	},
}

func init() {
	startCmd.Flags().StringVar(&startName, "name", "", "label shown in status and the TUI")
	startCmd.Flags().StringVar(&startFormat, "format", "auto", "output format: auto, text or json")
	startCmd.Flags().StringSliceVar(&startFilter, "filter", nil, "levels to forward (debug,info,warn,error); default all")
	startCmd.Flags().StringVar(&startDir, "dir", "", "working directory")
}

// --- Stop ---

var stopCmd = &cobra.Command{
	Use:   "stop <id|name>",
	Short: "Stop a monitored process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		p, err := resolveProcess(client, args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.Call(ctx, uds.MethodStop, uds.ProcessRequest{ID: p.ID}, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stop → %s ✓\n", label(p))
		return nil
	},
}

var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every monitored process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := call(60*time.Second, uds.MethodStopAll, nil, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "stopped all ✓")
		return nil
	},
}

// --- Filter ---

var filterCmd = &cobra.Command{
	Use:   "filter <id|name> [levels...]",
	Short: "Set the levels forwarded for a process; no levels clears the filter",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var levels []string
		for _, a := range args[1:] {
			for _, l := range strings.Split(a, ",") {
				if l = strings.TrimSpace(l); l != "" {
					levels = append(levels, l)
				}
			}
		}
		if _, err := core.ParseLevels(levels); err != nil {
			return err
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		p, err := resolveProcess(client, args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		req := uds.SetLevelFilterRequest{ID: p.ID, Levels: levels}
		if err := client.Call(ctx, uds.MethodSetLevelFilter, req, nil); err != nil {
			return err
		}
		if len(levels) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: all levels\n", label(p))
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", label(p), strings.Join(levels, ", "))
		}
		return nil
	},
}

// --- Logs ---

var (
	logsCount int
	logsJSON  bool
)

var logsCmd = &cobra.Command{
	Use:   "logs <id|name>",
	Short: "Print recent output of a process, including filtered levels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		p, err := resolveProcess(client, args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var resp uds.RecentLogsResponse
		if err := client.Call(ctx, uds.MethodRecentLogs, uds.RecentLogsRequest{ID: p.ID, Count: logsCount}, &resp); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, e := range resp.Entries {
			if logsJSON {
				if err := writeJSONLine(out, e); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintln(out, formatEntry(e))
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logsCount, "lines", "n", 50, "number of entries (0 for all retained)")
	logsCmd.Flags().BoolVar(&logsJSON, "json", false, "one JSON entry per line")
}

// --- Tail ---

var tailJSON bool

var tailCmd = &cobra.Command{
	Use:   "tail [id|name...]",
	Short: "Stream live events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return tail(ctx, cmd.OutOrStdout(), args)
	},
}

func init() {
	tailCmd.Flags().BoolVar(&tailJSON, "json", false, "print raw event messages")
}

func tail(ctx context.Context, out io.Writer, selectors []string) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	events := make(chan uds.Message, 256)
	client.OnEvent(func(m uds.Message) {
		select {
		case events <- m:
		case <-ctx.Done():
		}
	})

	names := make(map[string]string)
	var st monitor.Status
	callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err = client.Call(callCtx, uds.MethodStatus, nil, &st)
	cancel()
	if err != nil {
		return err
	}
	for _, p := range st.Processes {
		names[p.ID] = label(&p)
	}

	var only map[string]bool
	if len(selectors) > 0 {
		only = make(map[string]bool)
		for _, sel := range selectors {
			p, err := matchProcess(st.Processes, sel)
			if err != nil {
				return err
			}
			only[p.ID] = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return fmt.Errorf("daemon closed the connection")
		case m := <-events:
			if m.Method == uds.EventStatusDelta {
				continue
			}
			ev, err := core.DecodeEvent(core.EventKind(m.Method), m.Data)
			if err != nil {
				continue
			}
			if e, ok := ev.(core.MonitoringStarted); ok {
				names[e.ProcessID] = e.Command
			}
			if only != nil && !only[ev.Process()] {
				continue
			}
			if tailJSON {
				if err := writeJSONLine(out, m); err != nil {
					return err
				}
				continue
			}
			name := names[ev.Process()]
			if name == "" {
				name = shortID(ev.Process())
			}
			fmt.Fprintf(out, "%s | %s\n", name, describeEvent(ev))
		}
	}
}

func describeEvent(ev core.Event) string {
	switch e := ev.(type) {
	case core.LogEntryEvent:
		return formatEntry(e.LogEntry)
	case core.MonitoringStarted:
		return fmt.Sprintf("started pid %d: %s", e.PID, e.Command)
	case core.ProcessExited:
		return "exited cleanly"
	case core.ProcessCrashed:
		if e.Signal != "" {
			return fmt.Sprintf("crashed: signal %s", e.Signal)
		}
		return fmt.Sprintf("crashed: exit code %d", e.Code)
	case core.MonitoringStopped:
		return "stopped"
	case core.StreamError:
		return fmt.Sprintf("%s read error: %s", e.Source, e.Error)
	case core.BufferWarning:
		return fmt.Sprintf("%s: %d bytes without newline", e.Source, e.PendingBytes)
	default:
		return string(ev.Kind())
	}
}

// --- Helpers ---

// resolveProcess accepts a full id, a process name or a unique id prefix.
func resolveProcess(client *uds.Client, sel string) (*monitor.ProcessStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var st monitor.Status
	if err := client.Call(ctx, uds.MethodStatus, nil, &st); err != nil {
		return nil, err
	}
	return matchProcess(st.Processes, sel)
}

func matchProcess(procs []monitor.ProcessStatus, sel string) (*monitor.ProcessStatus, error) {
	var byName, byPrefix []int
	for i, p := range procs {
		if p.ID == sel {
			return &procs[i], nil
		}
		if p.Name == sel {
			byName = append(byName, i)
		}
		if strings.HasPrefix(p.ID, sel) {
			byPrefix = append(byPrefix, i)
		}
	}
	for _, matches := range [][]int{byName, byPrefix} {
		switch len(matches) {
		case 0:
			continue
		case 1:
			return &procs[matches[0]], nil
		default:
			return nil, fmt.Errorf("%q matches %d processes", sel, len(matches))
		}
	}
	return nil, fmt.Errorf("%w: %s", monitor.ErrProcessNotFound, sel)
}

func formatEntry(e core.LogEntry) string {
	src := ""
	if e.Source == core.SourceStderr {
		src = " [stderr]"
	}
	return fmt.Sprintf("%s %-5s%s %s", e.Timestamp.Local().Format("15:04:05"), strings.ToUpper(string(e.Level)), src, e.Message)
}

func label(p *monitor.ProcessStatus) string {
	if p.Name != "" {
		return p.Name
	}
	return shortID(p.ID)
}

func levelList(levels []core.Level) string {
	if len(levels) == 0 {
		return "all"
	}
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = string(l)
	}
	return strings.Join(names, ",")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
