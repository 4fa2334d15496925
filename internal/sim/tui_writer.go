package sim

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"atmcs-sim/internal/axis"
	"atmcs-sim/internal/config"
	"atmcs-sim/internal/m3"
	"atmcs-sim/internal/mount"
	"atmcs-sim/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

// eventMsg carries an event log line and row data.
type eventMsg struct {
	line string
	row  telemetry.EventRow
}

// frameMsg carries the latest telemetry frame.
type frameMsg struct{ telemetry.Frame }

// adminMsg reports admin UI status.
type adminMsg struct{ active bool }

type setSubmitMsg struct{ fn func(mount.Command) error }

// commandResultMsg reports the outcome of a command typed at the prompt.
type commandResultMsg struct {
	cmd mount.Command
	err error
}

const (
	maxLogLines         = 1000
	maxSectionHeightPct = 0.3
)

// TUIWriter renders telemetry using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
func NewTUIWriter(cfg *config.MountConfig) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	m := newTUIModel(cfg)
	p := tea.NewProgram(m, tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// Write implements TelemetryWriter.
func (w *TUIWriter) Write(f telemetry.Frame) error {
	w.program.Send(frameMsg{f})
	return nil
}

// WriteBatch forwards the latest frame; the table only shows one.
func (w *TUIWriter) WriteBatch(frames []telemetry.Frame) error {
	if len(frames) > 0 {
		return w.Write(frames[len(frames)-1])
	}
	return nil
}

// WriteEvent implements EventWriter.
func (w *TUIWriter) WriteEvent(e telemetry.EventRow) error {
	col := colorCyan
	switch e.EventType {
	case telemetry.EventFaultRaised, telemetry.EventPositionLimits:
		col = colorRed
	case telemetry.EventTrackingLost:
		col = colorYellow
	}
	line := fmt.Sprintf("%st=%9.3f%s %s%s%s%s",
		colorGray, e.SimTime, colorReset,
		col, e.EventType, colorReset, eventDetail(e))
	w.program.Send(eventMsg{line: line, row: e})
	return nil
}

// WriteEvents outputs multiple events.
func (w *TUIWriter) WriteEvents(rows []telemetry.EventRow) error {
	for _, e := range rows {
		_ = w.WriteEvent(e)
	}
	return nil
}

// SetAdminStatus updates the admin UI indicator.
func (w *TUIWriter) SetAdminStatus(active bool) {
	w.program.Send(adminMsg{active: active})
}

// SetCommandHandler registers the callback that executes prompt commands.
// It is called off the UI goroutine and may block until the command was
// applied.
func (w *TUIWriter) SetCommandHandler(fn func(mount.Command) error) {
	w.program.Send(setSubmitMsg{fn: fn})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	cfg        *config.MountConfig
	table      table.Model
	vp         viewport.Model
	input      textinput.Model
	prompt     bool
	logs       []string
	frame      telemetry.Frame
	haveFrame  bool
	admin      bool
	wrap       bool
	autoscroll bool
	help       bool
	height     int
	submit     func(mount.Command) error
	events     map[string]int
}

func newTUIModel(cfg *config.MountConfig) tuiModel {
	cols := []table.Column{
		{Title: "Axis", Width: 10},
		{Title: "Position", Width: 11},
		{Title: "Velocity", Width: 10},
		{Title: "Accel", Width: 9},
		{Title: "Kind", Width: 9},
		{Title: "Range", Width: 16},
	}
	rows := make([]table.Row, 0, len(axis.All))
	for _, id := range axis.All {
		rows = append(rows, table.Row{id.String(), "-", "-", "-", "-", axisRange(cfg, id)})
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(len(rows)+1))
	return tuiModel{
		cfg:        cfg,
		table:      t,
		vp:         viewport.New(0, 0),
		autoscroll: true,
		events:     make(map[string]int),
	}
}

func axisRange(cfg *config.MountConfig, id axis.ID) string {
	if cfg == nil {
		return "-"
	}
	a, ok := cfg.Axes[id.String()]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("[%.0f, %.0f]", a.Min, a.Max)
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.height = msg.Height
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		if m.prompt {
			switch msg.Type {
			case tea.KeyEnter:
				val := m.input.Value()
				m.prompt = false
				m.updateViewportHeight()
				cmd := m.runCommand(val)
				return m, cmd
			case tea.KeyEsc:
				m.prompt = false
				m.updateViewportHeight()
			default:
				var cmd tea.Cmd
				m.input, cmd = m.input.Update(msg)
				return m, cmd
			}
			return m, nil
		}
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case ":", "c":
			m.input = textinput.New()
			m.input.Placeholder = "enable | track az el r1 r2 r3 [vaz vel] | m3 <port> | stop | disable | reset | fault <reason>"
			m.input.Focus()
			m.prompt = true
			m.updateViewportHeight()
			return m, nil
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		case "h", "?":
			m.help = true
			return m, nil
		}
		if !m.autoscroll {
			switch msg.String() {
			case "j", "down":
				m.vp.LineDown(1)
			case "k", "up":
				m.vp.LineUp(1)
			case "pgdown", "ctrl+n":
				m.vp.LineDown(10)
			case "pgup", "ctrl+p":
				m.vp.LineUp(10)
			default:
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
		return m, nil
	case frameMsg:
		m.frame = msg.Frame
		m.haveFrame = true
		m.table.SetRows(axisRows(m.cfg, msg.Frame))
	case eventMsg:
		m.events[msg.row.EventType]++
		m.appendLog(msg.line)
	case logMsg:
		m.appendLog(msg.line)
	case commandResultMsg:
		if msg.err != nil {
			m.appendLog(fmt.Sprintf("%s%s rejected:%s %v", colorRed, msg.cmd.Kind, colorReset, msg.err))
		} else {
			m.appendLog(fmt.Sprintf("%s%s accepted%s", colorGreen, msg.cmd.Kind, colorReset))
		}
	case adminMsg:
		m.admin = msg.active
	case setSubmitMsg:
		m.submit = msg.fn
	}
	return m, nil
}

// runCommand parses a prompt line and executes it asynchronously.
func (m *tuiModel) runCommand(val string) tea.Cmd {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	cmd, err := parseCommandInput(val, m.frame.Summary.SimTime)
	if err != nil {
		m.appendLog(fmt.Sprintf("%sinvalid command:%s %v", colorRed, colorReset, err))
		return nil
	}
	submit := m.submit
	if submit == nil {
		m.appendLog(fmt.Sprintf("%scommands disabled%s", colorGray, colorReset))
		return nil
	}
	return func() tea.Msg {
		return commandResultMsg{cmd: cmd, err: submit(cmd)}
	}
}

func (m *tuiModel) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshViewport()
}

func axisRows(cfg *config.MountConfig, f telemetry.Frame) []table.Row {
	rows := make([]table.Row, 0, len(f.Axes))
	for _, a := range f.Axes {
		id, err := axis.ParseID(a.Axis)
		rng := "-"
		if err == nil {
			rng = axisRange(cfg, id)
		}
		rows = append(rows, table.Row{
			a.Axis,
			strconv.FormatFloat(a.Position, 'f', 4, 64),
			strconv.FormatFloat(a.Velocity, 'f', 4, 64),
			strconv.FormatFloat(a.Acceleration, 'f', 3, 64),
			a.Kind,
			rng,
		})
	}
	return rows
}

func (m *tuiModel) updateViewportHeight() {
	used := lipgloss.Height(m.table.View()) + lipgloss.Height(m.renderBottom()) + 3
	if m.prompt {
		used++
	}
	h := m.height - used
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	sections := []string{
		m.table.View(),
		divider,
		"Events:",
		m.vp.View(),
	}
	if m.prompt {
		sections = append(sections, m.input.View())
	}
	sections = append(sections, divider, m.renderBottom())
	return strings.Join(sections, "\n")
}

func (m tuiModel) renderBottom() string {
	indicator := func(on bool) string {
		c := lipgloss.Color("9")
		if on {
			c = lipgloss.Color("10")
		}
		return lipgloss.NewStyle().Foreground(c).Render("●")
	}
	status := fmt.Sprintf("%sSTATE%s waiting for telemetry", colorBlue, colorReset)
	if m.haveFrame {
		st := m.frame.Summary.OperationalState
		status = fmt.Sprintf("%sSTATE%s t=%.3f %s%s%s %sm3=%s%s",
			colorBlue, colorReset, m.frame.Summary.SimTime,
			stateColor(st), st, colorReset,
			colorCyan, m.frame.Mirror.State, colorReset)
		if m.frame.Summary.Held {
			status += fmt.Sprintf(" %sheld%s", colorRed, colorReset)
		}
		if r := m.frame.Summary.LastFaultReason; r != "" {
			status += fmt.Sprintf(" %slast_fault=%q%s", colorGray, r, colorReset)
		}
	}
	counts := fmt.Sprintf("limits=%d lost=%d m3=%d faults=%d",
		m.events[telemetry.EventPositionLimits], m.events[telemetry.EventTrackingLost],
		m.events[telemetry.EventM3InPosition], m.events[telemetry.EventFaultRaised])
	return fmt.Sprintf("%s | %s | Admin UI %s | Wrap %s | Scroll %s", status, counts,
		indicator(m.admin), indicator(m.wrap), indicator(m.autoscroll))
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Keys:",
		"  : or c   command prompt",
		"  w        toggle line wrap",
		"  s        toggle autoscroll",
		"  j/k      scroll events (autoscroll off)",
		"  h or ?   toggle help",
		"  q        quit",
		"",
		"Commands:",
		"  enable | disable | reset | stop",
		"  track az el r1 r2 r3 [vaz vel]",
		"  m3 <1|2|3>",
		"  fault <reason>",
	}
	return strings.Join(lines, "\n")
}

// parseCommandInput parses a prompt line into a command. Track targets
// refer to the simulation time now.
func parseCommandInput(val string, now float64) (mount.Command, error) {
	fields := strings.Fields(val)
	if len(fields) == 0 {
		return mount.Command{}, errors.New("empty command")
	}
	args := fields[1:]
	noArgs := func(cmd mount.Command) (mount.Command, error) {
		if len(args) != 0 {
			return mount.Command{}, fmt.Errorf("%s takes no arguments", fields[0])
		}
		return cmd, nil
	}
	switch strings.ToLower(fields[0]) {
	case "enable":
		return noArgs(mount.Enable())
	case "disable":
		return noArgs(mount.Disable())
	case "reset":
		return noArgs(mount.ResetFault())
	case "stop":
		return noArgs(mount.StopTracking())
	case "m3":
		if len(args) != 1 {
			return mount.Command{}, errors.New("usage: m3 <port>")
		}
		p, err := m3.ParsePort(args[0])
		if err != nil {
			return mount.Command{}, err
		}
		return mount.MoveM3(p), nil
	case "fault":
		reason := strings.Join(args, " ")
		if reason == "" {
			reason = "operator"
		}
		return mount.InjectFault(reason), nil
	case "track":
		if len(args) != 5 && len(args) != 7 {
			return mount.Command{}, errors.New("usage: track az el r1 r2 r3 [vaz vel]")
		}
		vals := make([]float64, len(args))
		for i, a := range args {
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return mount.Command{}, fmt.Errorf("argument %d: %w", i+1, err)
			}
			vals[i] = v
		}
		t := mount.TrackTarget{
			Azimuth:   mount.AxisTarget{Position: vals[0]},
			Elevation: mount.AxisTarget{Position: vals[1]},
			Rotator1:  mount.AxisTarget{Position: vals[2]},
			Rotator2:  mount.AxisTarget{Position: vals[3]},
			Rotator3:  mount.AxisTarget{Position: vals[4]},
			Time:      now,
		}
		if len(vals) == 7 {
			t.Azimuth.Velocity = vals[5]
			t.Elevation.Velocity = vals[6]
		}
		return mount.Track(t), nil
	}
	return mount.Command{}, fmt.Errorf("unknown command %q", fields[0])
}
