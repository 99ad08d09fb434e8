// ABOUTME: Bubbletea model for the clock tree monitor
// ABOUTME: Shows every clock's time, rate and play state and maps keys to clock commands
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/playclock/pkg/frac"
	"github.com/Resonate-Protocol/playclock/pkg/playclock"
)

// seekStep is how far left and right move the selected clock.
const seekStep = 5 * time.Second

// Control is the subset of playclock.ClockControl the monitor drives.
type Control interface {
	Start()
	Stop()
	Seek(target int64)
	SetRate(rate frac.Frac)
}

// Config describes what the monitor shows and controls.
type Config struct {
	Title string
	Root  *playclock.FullClock

	// Remote, when set, receives commands for Root instead of a local
	// control. Descendants are always controlled locally.
	Remote Control

	// ForwardDelay is used by local controls. Zero selects
	// playclock.DefaultForwardDelay; negative values mean no delay.
	ForwardDelay time.Duration

	Refresh time.Duration
}

// row is one clock of the tree as last sampled.
type row struct {
	node       *playclock.FullClock
	depth      int
	name       string
	micros     int64
	playing    bool
	reqPlaying bool
	rate       frac.Frac
	reqRate    frac.Frac
}

// Model represents the TUI state
type Model struct {
	config   Config
	rows     []row
	selected int
	master   int64
	status   string

	width  int
	height int
}

// tickMsg triggers a resample of the tree.
type tickMsg time.Time

// StatusMsg shows a line of text under the tree.
type StatusMsg string

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	playingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stoppedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	gatedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// NewModel creates a new TUI model
func NewModel(config Config) Model {
	if config.Refresh <= 0 {
		config.Refresh = 100 * time.Millisecond
	}
	if config.ForwardDelay == 0 {
		config.ForwardDelay = playclock.DefaultForwardDelay
	}
	if config.Title == "" {
		config.Title = "playclock"
	}
	m := Model{config: config}
	m.sample()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return m.scheduleTick()
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.config.Refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.sample()
		return m, m.scheduleTick()
	case StatusMsg:
		m.status = string(msg)
	}

	return m, nil
}

// sample walks the tree depth first and records every live clock.
func (m *Model) sample() {
	root := m.config.Root
	if root == nil {
		m.rows = nil
		return
	}
	m.master = root.MasterMicros()

	rows := make([]row, 0, len(m.rows))
	var walk func(c *playclock.FullClock, depth int)
	walk = func(c *playclock.FullClock, depth int) {
		reqPlaying, reqRate := c.Requested()
		state := c.State()
		rows = append(rows, row{
			node:       c,
			depth:      depth,
			name:       c.Name(),
			micros:     state.FromMaster(m.master),
			playing:    state.Playing,
			reqPlaying: reqPlaying,
			rate:       state.Rate,
			reqRate:    reqRate,
		})
		for _, child := range c.Children() {
			walk(child, depth+1)
		}
	}
	walk(root, 0)
	m.rows = rows

	if m.selected >= len(m.rows) {
		m.selected = len(m.rows) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

// control returns the control for the selected clock.
func (m Model) control() (Control, row, bool) {
	if len(m.rows) == 0 {
		return nil, row{}, false
	}
	r := m.rows[m.selected]
	if r.node == m.config.Root && m.config.Remote != nil {
		return m.config.Remote, r, true
	}
	return playclock.NewAsyncControl(r.node, r.node.MasterClock(), m.config.ForwardDelay), r, true
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k", "shift+tab":
		if len(m.rows) > 0 {
			m.selected = (m.selected - 1 + len(m.rows)) % len(m.rows)
		}
		return m, nil
	case "down", "j", "tab":
		if len(m.rows) > 0 {
			m.selected = (m.selected + 1) % len(m.rows)
		}
		return m, nil
	}

	ctl, r, ok := m.control()
	if !ok {
		return m, nil
	}

	switch msg.String() {
	case " ", "p":
		if r.reqPlaying {
			ctl.Stop()
			m.status = fmt.Sprintf("stop %s", displayName(r))
		} else {
			ctl.Start()
			m.status = fmt.Sprintf("start %s", displayName(r))
		}
	case "left", "h":
		target := r.micros - seekStep.Microseconds()
		ctl.Seek(target)
		m.status = fmt.Sprintf("seek %s to %s", displayName(r), formatMicros(target))
	case "right", "l":
		target := r.micros + seekStep.Microseconds()
		ctl.Seek(target)
		m.status = fmt.Sprintf("seek %s to %s", displayName(r), formatMicros(target))
	case "+", "=":
		rate, _ := frac.Mul(r.reqRate, frac.Frac{Num: 2, Den: 1})
		ctl.SetRate(rate)
		m.status = fmt.Sprintf("rate %s %v", displayName(r), rate)
	case "-", "_":
		rate, _ := frac.Mul(r.reqRate, frac.Frac{Num: 1, Den: 2})
		ctl.SetRate(rate)
		m.status = fmt.Sprintf("rate %s %v", displayName(r), rate)
	case "0":
		ctl.SetRate(frac.One)
		m.status = fmt.Sprintf("rate %s %v", displayName(r), frac.One)
	case "r":
		ctl.SetRate(frac.Frac{Num: -r.reqRate.Num, Den: r.reqRate.Den})
		m.status = fmt.Sprintf("reverse %s", displayName(r))
	default:
		return m, nil
	}

	m.sample()
	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.config.Title))
	b.WriteString(dimStyle.Render(fmt.Sprintf("   master %s", formatMicros(m.master))))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(dimStyle.Render("no clocks"))
		b.WriteString("\n")
	}
	for i, r := range m.rows {
		line := m.renderRow(r)
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("space:play/stop  ←/→:seek 5s  +/-:rate ×2/÷2  0:rate 1  r:reverse  tab:select  q:quit"))

	return boxStyle.Render(b.String())
}

func (m Model) renderRow(r row) string {
	state := stoppedStyle.Render("■ stopped")
	switch {
	case r.playing:
		state = playingStyle.Render("▶ playing")
	case r.reqPlaying:
		state = gatedStyle.Render("◆ waiting")
	}

	indent := strings.Repeat("  ", r.depth)
	name := truncate(indent+displayName(r), 24)
	return fmt.Sprintf("%-24s %14s  %s  rate %-9v (×%v)", name, formatMicros(r.micros), state, r.rate, r.reqRate)
}

func displayName(r row) string {
	if r.name != "" {
		return r.name
	}
	return r.node.ID().String()[:8]
}

// formatMicros renders a clock time as [-]H:MM:SS.mmm.
func formatMicros(us int64) string {
	switch us {
	case playclock.DistantPast:
		return "-∞"
	case playclock.DistantFuture:
		return "+∞"
	}

	sign := ""
	if us < 0 {
		sign = "-"
		us = -us
	}
	ms := us / 1000
	return fmt.Sprintf("%s%d:%02d:%02d.%03d", sign, ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}

func truncate(s string, length int) string {
	if len([]rune(s)) <= length {
		return s
	}
	return string([]rune(s)[:length-1]) + "…"
}
