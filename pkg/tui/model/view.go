package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/procwatch/pkg/core"
	"github.com/modoterra/procwatch/pkg/monitor"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusExited   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusCrashed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStarting = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	levelDebug = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	levelInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	levelWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	levelError = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	if a.mode == ModeEditor && a.editor != nil {
		editorView := a.editor.View(a.width - 4)
		return paneStyle.Width(a.width - 4).Height(a.height - 2).Render(editorView)
	}

	statusBarH := 2
	logPaneH := max(a.height*2/5, 5)
	mainH := a.height - logPaneH - statusBarH - 2
	listW := a.width*2/5 - 2
	detailW := a.width - listW - 4

	list := a.renderList(listW, mainH)
	listPane := a.paneBox(PaneList, " Processes ", list, listW, mainH)

	detail := a.renderDetail()
	detailPane := a.paneBox(PaneDetail, " Detail ", detail, detailW, mainH)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)

	logs := a.renderLogs(a.width-4, logPaneH)
	logPane := a.paneBox(PaneLogs, a.logTitle(), logs, a.width-4, logPaneH)

	return lipgloss.JoinVertical(lipgloss.Left, topRow, logPane, a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderList(w, h int) string {
	rows := a.rows()
	if len(rows) == 0 {
		msg := "no processes"
		if !a.connected {
			msg = "not connected"
		}
		return dimStyle.Render(msg)
	}

	var b strings.Builder
	maxVisible := max(h-2, 1)
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(rows) && i-start < maxVisible; i++ {
		p := rows[i]
		indicator := statusIndicator(p.Status)
		label := truncate(processLabel(p), w-6)
		line := fmt.Sprintf(" %s %-*s", indicator, max(w-6, 0), label)

		if i == a.selectedIdx {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}

	if a.mode == ModeSearch {
		b.WriteString("\n" + a.search.View())
	}

	return b.String()
}

func (a App) renderDetail() string {
	p := a.selected()
	if p == nil {
		return dimStyle.Render("select a process")
	}

	var b strings.Builder
	if p.Name != "" {
		fmt.Fprintf(&b, "Name:    %s\n", p.Name)
	}
	fmt.Fprintf(&b, "ID:      %s\n", dimStyle.Render(p.ID))
	fmt.Fprintf(&b, "Command: %s\n", p.Command)
	if p.PID > 0 {
		fmt.Fprintf(&b, "PID:     %d\n", p.PID)
	}
	fmt.Fprintf(&b, "Status:  %s\n", colorStatus(p.Status))
	if p.Status.Terminal() {
		fmt.Fprintf(&b, "Result:  %s\n", exitDescription(p.ExitCode, p.Signal))
	}
	if !p.StartTime.IsZero() {
		fmt.Fprintf(&b, "Uptime:  %s\n", formatDuration(uptime(*p, time.Now())))
	}
	if p.Format != "" {
		fmt.Fprintf(&b, "Format:  %s\n", p.Format)
	}
	fmt.Fprintf(&b, "Filter:  %s\n", filterLabel(p.LevelFilter))
	fmt.Fprintf(&b, "Buffer:  %d lines\n", len(a.logs[p.ID]))

	return b.String()
}

func (a App) renderLogs(w, h int) string {
	p := a.selected()
	if p == nil {
		return dimStyle.Render("no process selected")
	}
	lines := a.logs[p.ID]
	if len(lines) == 0 {
		return dimStyle.Render("no log output")
	}

	start := 0
	if len(lines) > h-1 {
		start = len(lines) - h + 1
	}

	var b strings.Builder
	for _, e := range lines[start:] {
		b.WriteString(formatEntry(e, w) + "\n")
	}
	return b.String()
}

func (a App) logTitle() string {
	title := " Logs "
	if p := a.selected(); p != nil {
		title = " Logs: " + processLabel(*p) + " "
	}
	if a.logPaused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	return title
}

func (a App) renderStatusBar() string {
	left := a.notice
	right := "j/k:nav tab:pane /:search n:new s:stop f:filter x:dismiss c:clear space:pause q:quit"
	switch a.mode {
	case ModeSearch:
		right = "enter:apply esc:cancel"
	case ModeEditor:
		right = "tab:next field enter:apply esc:cancel"
	case ModeConfirmStop:
		right = "y:confirm any:cancel"
	}

	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

// formatEntry renders one log line as "15:04:05 WRN message".
func formatEntry(e core.LogEntry, w int) string {
	ts := e.Timestamp.Local().Format("15:04:05")
	tag := levelStyle(e.Level).Render(levelTag(e.Level))
	msg := truncate(e.Message, w-len(ts)-5)
	if e.Source == core.SourceStderr {
		msg = levelError.Render("!") + " " + truncate(e.Message, w-len(ts)-7)
	}
	return dimStyle.Render(ts) + " " + tag + " " + msg
}

func levelTag(l core.Level) string {
	switch l {
	case core.LevelDebug:
		return "DBG"
	case core.LevelWarn:
		return "WRN"
	case core.LevelError:
		return "ERR"
	default:
		return "INF"
	}
}

func levelStyle(l core.Level) lipgloss.Style {
	switch l {
	case core.LevelDebug:
		return levelDebug
	case core.LevelWarn:
		return levelWarn
	case core.LevelError:
		return levelError
	default:
		return levelInfo
	}
}

func processLabel(p monitor.ProcessStatus) string {
	if p.Name != "" {
		return p.Name
	}
	if p.Command != "" {
		return p.Command
	}
	return shortID(p.ID)
}

func filterLabel(levels []core.Level) string {
	if len(levels) == 0 {
		return "all levels"
	}
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = string(l)
	}
	return strings.Join(names, ", ")
}

func uptime(p monitor.ProcessStatus, now time.Time) time.Duration {
	if p.Status.Terminal() && !p.EndTime.IsZero() {
		return p.EndTime.Sub(p.StartTime)
	}
	return now.Sub(p.StartTime)
}

func statusIndicator(s core.Status) string {
	switch s {
	case core.StatusRunning:
		return statusRunning.Render("●")
	case core.StatusStarting:
		return statusStarting.Render("◌")
	case core.StatusExited:
		return statusExited.Render("○")
	case core.StatusCrashed:
		return statusCrashed.Render("✖")
	default:
		return dimStyle.Render("?")
	}
}

func colorStatus(s core.Status) string {
	switch s {
	case core.StatusRunning:
		return statusRunning.Render(string(s))
	case core.StatusStarting:
		return statusStarting.Render(string(s))
	case core.StatusExited:
		return statusExited.Render(string(s))
	case core.StatusCrashed:
		return statusCrashed.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	sec := int64(d / time.Second)
	if sec < 0 {
		sec = 0
	}
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	if sec < 3600 {
		return fmt.Sprintf("%dm%ds", sec/60, sec%60)
	}
	return fmt.Sprintf("%dh%dm", sec/3600, (sec%3600)/60)
}
