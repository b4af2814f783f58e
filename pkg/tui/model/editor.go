package model

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/procwatch/pkg/capture"
	"github.com/modoterra/procwatch/pkg/core"
	"github.com/modoterra/procwatch/pkg/monitor"
	"github.com/modoterra/procwatch/pkg/transport/uds"
)

// EditorField is a named text input in the editor form.
type EditorField struct {
	Label string
	Input textinput.Model
}

type editorKind int

const (
	editorStart editorKind = iota
	editorFilter
)

// EditorModel is the inline form used to start a process or change a level
// filter.
type EditorModel struct {
	kind      editorKind
	fields    []EditorField
	activeIdx int
	processID string
	name      string
}

// NewStartEditor creates a blank form for starting a new process.
func NewStartEditor() *EditorModel {
	fields := []EditorField{
		newField("command", ""),
		newField("name", ""),
		newField("format", string(capture.FormatAuto)),
		newField("levels", ""),
	}
	fields[0].Input.Focus()
	return &EditorModel{kind: editorStart, fields: fields}
}

// NewFilterEditor creates a form pre-filled with the process's current
// level filter.
func NewFilterEditor(p monitor.ProcessStatus) *EditorModel {
	names := make([]string, len(p.LevelFilter))
	for i, l := range p.LevelFilter {
		names[i] = string(l)
	}
	fields := []EditorField{newField("levels", strings.Join(names, ","))}
	fields[0].Input.Focus()
	name := p.Name
	if name == "" {
		name = p.Command
	}
	return &EditorModel{kind: editorFilter, fields: fields, processID: p.ID, name: name}
}

func newField(label, value string) EditorField {
	ti := textinput.New()
	ti.Placeholder = label
	ti.SetValue(value)
	ti.CharLimit = 256
	return EditorField{Label: label, Input: ti}
}

func (e *EditorModel) value(label string) string {
	for _, f := range e.fields {
		if f.Label == label {
			return strings.TrimSpace(f.Input.Value())
		}
	}
	return ""
}

// splitLevels accepts comma or space separated level names.
func splitLevels(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
}

// submit validates the form and returns the daemon call it describes.
func (e *EditorModel) submit(client *uds.Client) (tea.Cmd, error) {
	levels := splitLevels(e.value("levels"))
	if _, err := core.ParseLevels(levels); err != nil {
		return nil, err
	}

	switch e.kind {
	case editorFilter:
		req := uds.SetLevelFilterRequest{ID: e.processID, Levels: levels}
		done := "filter updated: " + e.name
		if len(levels) == 0 {
			done = "filter cleared: " + e.name
		}
		return callCmd(client, uds.MethodSetLevelFilter, req, done), nil
	default:
		command := e.value("command")
		if command == "" {
			return nil, errors.New("command is required")
		}
		format := e.value("format")
		if _, err := capture.ParseFormat(format); err != nil {
			return nil, err
		}
		req := uds.StartRequest{
			Name:    e.value("name"),
			Command: command,
			Format:  format,
			Levels:  levels,
		}
		return callCmd(client, uds.MethodStart, req, "started: "+command), nil
	}
}

// HandleKey processes key events in editor mode.
func (e *EditorModel) HandleKey(a App, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = ModeNormal
		a.editor = nil
		return a, nil

	case "enter":
		if a.client == nil {
			a.notice = "not connected"
			return a, nil
		}
		cmd, err := e.submit(a.client)
		if err != nil {
			a.notice = "error: " + err.Error()
			return a, nil
		}
		a.mode = ModeNormal
		a.editor = nil
		return a, cmd

	case "tab":
		e.fields[e.activeIdx].Input.Blur()
		e.activeIdx = (e.activeIdx + 1) % len(e.fields)
		e.fields[e.activeIdx].Input.Focus()
		return a, textinput.Blink

	case "shift+tab":
		e.fields[e.activeIdx].Input.Blur()
		e.activeIdx = (e.activeIdx - 1 + len(e.fields)) % len(e.fields)
		e.fields[e.activeIdx].Input.Focus()
		return a, textinput.Blink

	default:
		var cmd tea.Cmd
		e.fields[e.activeIdx].Input, cmd = e.fields[e.activeIdx].Input.Update(msg)
		return a, cmd
	}
}

// View renders the editor form.
func (e *EditorModel) View(width int) string {
	title := "Start Process"
	hint := "levels: debug,info,warn,error (empty = all)  format: auto|text|json"
	if e.kind == editorFilter {
		title = "Level Filter: " + truncate(e.name, width-20)
		hint = "levels: debug,info,warn,error (empty = all)"
	}

	s := titleStyle.Render(" "+title+" ") + "\n\n"
	for i, f := range e.fields {
		prefix := "  "
		if i == e.activeIdx {
			prefix = "▸ "
		}
		s += prefix + dimStyle.Render(f.Label+": ") + f.Input.View() + "\n"
	}
	s += "\n" + dimStyle.Render("  "+hint)
	s += "\n" + helpStyle.Render("  tab:next  shift+tab:prev  enter:apply  esc:cancel")
	return s
}
