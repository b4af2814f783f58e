package model

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/procwatch/pkg/core"
	"github.com/modoterra/procwatch/pkg/daemon"
	"github.com/modoterra/procwatch/pkg/monitor"
	"github.com/modoterra/procwatch/pkg/transport/uds"
)

const (
	maxLogLines     = 500
	eventBufferSize = 1024
	backfillCount   = 200
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneList Pane = iota
	PaneDetail
	PaneLogs
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeEditor
	ModeConfirmStop
)

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client     *uds.Client
	events     chan uds.Message
	socketPath string
	connected  bool

	// State
	procs       []monitor.ProcessStatus
	ended       map[string]monitor.ProcessStatus
	logs        map[string][]core.LogEntry
	selectedIdx int
	logPaused   bool

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	width      int
	height     int

	editor     *EditorModel
	stopTarget string

	notice string
}

// New creates a new TUI app model.
func New(socketPath string) App {
	si := textinput.New()
	si.Placeholder = "search..."
	si.CharLimit = 64

	return App{
		socketPath: socketPath,
		search:     si,
		ended:      make(map[string]monitor.ProcessStatus),
		logs:       make(map[string][]core.LogEntry),
		activePane: PaneList,
		mode:       ModeNormal,
	}
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("procwatch"),
	)
}

type tickMsg time.Time

type connectedMsg struct {
	client *uds.Client
	events chan uds.Message
}

type disconnectedMsg struct{}

type statusLoadedMsg struct{ status monitor.Status }

// eventMsg is a broadcast pushed by the daemon.
type eventMsg uds.Message

type recentLogsMsg struct {
	id      string
	entries []core.LogEntry
}

type errorMsg struct{ err error }

type actionResultMsg struct{ msg string }

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		events := make(chan uds.Message, eventBufferSize)
		client.OnEvent(func(m uds.Message) {
			select {
			case events <- m:
			default:
			}
		})
		return connectedMsg{client: client, events: events}
	}
}

func waitForEvent(client *uds.Client, events <-chan uds.Message) tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-events:
			return eventMsg(m)
		case <-client.Done():
			return disconnectedMsg{}
		}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStatusCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var st monitor.Status
		if err := client.Call(ctx, uds.MethodStatus, nil, &st); err != nil {
			return errorMsg{err}
		}
		return statusLoadedMsg{st}
	}
}

func recentLogsCmd(client *uds.Client, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var resp uds.RecentLogsResponse
		err := client.Call(ctx, uds.MethodRecentLogs, uds.RecentLogsRequest{ID: id, Count: backfillCount}, &resp)
		if err != nil {
			return errorMsg{err}
		}
		return recentLogsMsg{id: id, entries: resp.Entries}
	}
}

func callCmd(client *uds.Client, method string, req any, done string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.Call(ctx, method, req, nil); err != nil {
			return errorMsg{err}
		}
		return actionResultMsg{msg: done}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.events = msg.events
		a.connected = true
		a.notice = "connected"
		return a, tea.Batch(tickCmd(), fetchStatusCmd(a.client), waitForEvent(a.client, a.events))

	case disconnectedMsg:
		a.connected = false
		a.client = nil
		a.notice = "daemon connection lost"
		return a, nil

	case tickMsg:
		if a.client != nil {
			return a, tea.Batch(tickCmd(), fetchStatusCmd(a.client))
		}
		return a, tickCmd()

	case statusLoadedMsg:
		a.procs = msg.status.Processes
		for _, p := range a.procs {
			delete(a.ended, p.ID)
		}
		a.clampSelection()
		return a, a.backfillSelected()

	case eventMsg:
		var cmd tea.Cmd
		a, cmd = a.handleEvent(uds.Message(msg))
		if a.client == nil {
			return a, cmd
		}
		return a, tea.Batch(cmd, waitForEvent(a.client, a.events))

	case recentLogsMsg:
		a.logs[msg.id] = mergeBackfill(msg.entries, a.logs[msg.id])
		return a, nil

	case actionResultMsg:
		a.notice = msg.msg
		if a.client != nil {
			return a, fetchStatusCmd(a.client)
		}
		return a, nil

	case errorMsg:
		a.notice = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleEvent(m uds.Message) (App, tea.Cmd) {
	if m.Method == uds.EventStatusDelta {
		var d daemon.Delta
		if err := m.UnmarshalData(&d); err != nil {
			return a, nil
		}
		a.applyDelta(d)
		return a, nil
	}

	ev, err := core.DecodeEvent(core.EventKind(m.Method), m.Data)
	if err != nil {
		return a, nil
	}
	switch e := ev.(type) {
	case core.LogEntryEvent:
		if !a.logPaused {
			a.appendLog(e.LogEntry)
		}
	case core.MonitoringStarted:
		if a.client != nil {
			return a, fetchStatusCmd(a.client)
		}
	case core.ProcessExited:
		a.markEnded(e.ProcessID, core.StatusExited, e.Code, e.Signal, e.EndTime)
		a.notice = "exited: " + a.displayName(e.ProcessID)
	case core.ProcessCrashed:
		a.markEnded(e.ProcessID, core.StatusCrashed, e.Code, e.Signal, e.EndTime)
		if len(a.logs[e.ProcessID]) == 0 && len(e.LastLogs) > 0 {
			a.logs[e.ProcessID] = tail(e.LastLogs, maxLogLines)
		}
		a.notice = fmt.Sprintf("crashed: %s (%s)", a.displayName(e.ProcessID), exitDescription(e.Code, e.Signal))
	case core.MonitoringStopped:
		a.notice = "stopped: " + a.displayName(e.ProcessID)
		delete(a.ended, e.ProcessID)
		a.procs = withoutProcess(a.procs, e.ProcessID)
		a.clampSelection()
	case core.StreamError:
		a.notice = fmt.Sprintf("%s %s: %s", a.displayName(e.ProcessID), e.Source, e.Error)
	case core.BufferWarning:
		a.notice = fmt.Sprintf("%s %s: %d bytes without newline", a.displayName(e.ProcessID), e.Source, e.PendingBytes)
	}
	return a, nil
}

func (a *App) applyDelta(d daemon.Delta) {
	idx := make(map[string]int, len(a.procs))
	for i, p := range a.procs {
		idx[p.ID] = i
	}
	for _, p := range d.Updated {
		if i, ok := idx[p.ID]; ok {
			a.procs[i] = p
		}
	}
	for _, p := range d.Added {
		if _, ok := idx[p.ID]; !ok {
			a.procs = append(a.procs, p)
			idx[p.ID] = len(a.procs) - 1
		}
	}
	// Ended sessions were already moved to a.ended by their exit event.
	for _, id := range d.Removed {
		a.procs = withoutProcess(a.procs, id)
	}
	a.clampSelection()
}

func (a *App) markEnded(id string, status core.Status, code int, signal string, end time.Time) {
	p, ok := a.lookup(id)
	if !ok {
		p = monitor.ProcessStatus{ID: id}
	}
	p.Status = status
	p.ExitCode = code
	p.Signal = signal
	p.EndTime = end
	a.ended[id] = p
	a.procs = withoutProcess(a.procs, id)
	a.clampSelection()
}

func (a *App) appendLog(e core.LogEntry) {
	lines := append(a.logs[e.ProcessID], e)
	a.logs[e.ProcessID] = tail(lines, maxLogLines)
}

// backfillSelected loads recent history the first time a process is shown.
func (a App) backfillSelected() tea.Cmd {
	p := a.selected()
	if p == nil || a.client == nil || p.Status.Terminal() {
		return nil
	}
	if _, ok := a.logs[p.ID]; ok {
		return nil
	}
	a.logs[p.ID] = []core.LogEntry{}
	return recentLogsCmd(a.client, p.ID)
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			a.clampSelection()
			return a, cmd
		}
	}

	if a.mode == ModeEditor && a.editor != nil {
		return a.editor.HandleKey(a, msg)
	}

	if a.mode == ModeConfirmStop {
		id := a.stopTarget
		a.mode = ModeNormal
		a.stopTarget = ""
		switch msg.String() {
		case "y", "Y":
			if a.client == nil {
				a.notice = "not connected"
				return a, nil
			}
			a.notice = "stopping " + a.displayName(id) + "..."
			return a, callCmd(a.client, uds.MethodStop, uds.ProcessRequest{ID: id}, "stop requested: "+a.displayName(id))
		default:
			a.notice = "stop cancelled"
			return a, nil
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down":
		if a.activePane == PaneList {
			if rows := a.rows(); len(rows) > 0 {
				a.selectedIdx = min(a.selectedIdx+1, len(rows)-1)
				return a, a.backfillSelected()
			}
		}
	case "k", "up":
		if a.activePane == PaneList && a.selectedIdx > 0 {
			a.selectedIdx--
			return a, a.backfillSelected()
		}

	case "tab":
		a.activePane = (a.activePane + 1) % 3

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "s":
		if p := a.selected(); p != nil && !p.Status.Terminal() {
			a.stopTarget = p.ID
			a.mode = ModeConfirmStop
			a.notice = "Stop " + a.displayName(p.ID) + "? (y/n)"
		}

	case "f":
		if p := a.selected(); p != nil && !p.Status.Terminal() {
			a.editor = NewFilterEditor(*p)
			a.mode = ModeEditor
			return a, textinput.Blink
		}

	case "n":
		a.editor = NewStartEditor()
		a.mode = ModeEditor
		return a, textinput.Blink

	case "x":
		if p := a.selected(); p != nil && p.Status.Terminal() {
			delete(a.ended, p.ID)
			delete(a.logs, p.ID)
			a.clampSelection()
		}

	case "c":
		if p := a.selected(); p != nil {
			a.logs[p.ID] = []core.LogEntry{}
		}

	case "l":
		a.activePane = PaneLogs

	case " ":
		a.logPaused = !a.logPaused
	}

	return a, nil
}

// rows returns live and ended processes that match the search, ordered by
// start time.
func (a App) rows() []monitor.ProcessStatus {
	all := make([]monitor.ProcessStatus, 0, len(a.procs)+len(a.ended))
	all = append(all, a.procs...)
	for _, p := range a.ended {
		all = append(all, p)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].StartTime.Equal(all[j].StartTime) {
			return all[i].ID < all[j].ID
		}
		return all[i].StartTime.Before(all[j].StartTime)
	})

	q := strings.ToLower(a.search.Value())
	if q == "" {
		return all
	}
	var filtered []monitor.ProcessStatus
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Command), q) ||
			strings.HasPrefix(p.ID, q) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func (a App) selected() *monitor.ProcessStatus {
	rows := a.rows()
	if a.selectedIdx < len(rows) {
		return &rows[a.selectedIdx]
	}
	return nil
}

func (a *App) clampSelection() {
	n := len(a.rows())
	if a.selectedIdx >= n {
		a.selectedIdx = max(0, n-1)
	}
}

func (a App) lookup(id string) (monitor.ProcessStatus, bool) {
	for _, p := range a.procs {
		if p.ID == id {
			return p, true
		}
	}
	p, ok := a.ended[id]
	return p, ok
}

func (a App) displayName(id string) string {
	if p, ok := a.lookup(id); ok {
		if p.Name != "" {
			return p.Name
		}
		if p.Command != "" {
			return p.Command
		}
	}
	return shortID(id)
}

func withoutProcess(procs []monitor.ProcessStatus, id string) []monitor.ProcessStatus {
	out := procs[:0:0]
	for _, p := range procs {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// mergeBackfill prepends history to entries that arrived live while the
// history request was in flight.
func mergeBackfill(history, live []core.LogEntry) []core.LogEntry {
	if len(history) == 0 {
		return live
	}
	last := history[len(history)-1].Timestamp
	merged := append([]core.LogEntry{}, history...)
	for _, e := range live {
		if e.Timestamp.After(last) {
			merged = append(merged, e)
		}
	}
	return tail(merged, maxLogLines)
}

func tail(entries []core.LogEntry, n int) []core.LogEntry {
	if len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}

func exitDescription(code int, signal string) string {
	if signal != "" {
		return "signal " + signal
	}
	return fmt.Sprintf("exit code %d", code)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
