package viz

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/mpc"
)

const (
	width           = 60
	height          = 16
	historyCapacity = 200
	tickRate        = time.Second / 30
)

type TickMsg time.Time

// Loop is what the watch view steps: a plant, its integrator and the
// controller closing the loop.
type Loop struct {
	System     dynamo.System
	Integrator dynamo.Integrator
	Controller dynamo.Controller
	X0         dynamo.State
	Dt         float64
	// Steps ends the run when positive.
	Steps int
	// Value scores states for display, usually xᵀPx.
	Value func(dynamo.State) float64
	// Kick is the θ impulse added by the disturbance key.
	Kick float64
}

// Model is the bubbletea model of a live closed-loop run.
type Model struct {
	loop    Loop
	title   string
	mpc     *mpc.Controller
	canvas  *Canvas
	state   dynamo.State
	u       dynamo.Control
	t       float64
	step    int
	running bool
	done    bool
	err     error
	notice  string

	values  []float64
	latency time.Duration
	phases  map[mpc.Phase]int
}

func NewModel(title string, loop Loop) *Model {
	m := &Model{
		loop:    loop,
		title:   title,
		canvas:  NewCanvas(width, height),
		running: true,
		phases:  make(map[mpc.Phase]int),
	}
	if c, ok := loop.Controller.(*mpc.Controller); ok {
		m.mpc = c
		c.SetTransitions(m.onTransition)
	}
	if m.loop.Kick == 0 {
		m.loop.Kick = 0.05
	}
	m.reset()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(tickRate, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m *Model) Init() tea.Cmd { return tick() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "r":
			m.reset()
		case "d":
			m.state[2] += m.loop.Kick
			m.notice = fmt.Sprintf("kick θ += %.3f", m.loop.Kick)
		case "n":
			if !m.running {
				m.advance()
			}
		}
	case TickMsg:
		if m.running {
			m.advance()
		}
		return m, tick()
	}
	return m, nil
}

// advance closes the loop for one control interval.
func (m *Model) advance() {
	if m.done {
		return
	}
	if m.loop.Steps > 0 && m.step >= m.loop.Steps {
		m.done = true
		return
	}

	start := time.Now()
	u, err := m.loop.Controller.Compute(context.Background(), m.state, m.t)
	m.latency = time.Since(start)
	if err != nil {
		var rec dynamo.Recoverable
		if !errors.As(err, &rec) || !rec.Recoverable() {
			m.err, m.done = err, true
			return
		}
		m.notice = err.Error()
	}

	m.u = u
	next := m.loop.Integrator.Step(m.loop.System, m.state, u, m.t, m.loop.Dt)
	if !next.IsValid() {
		m.err, m.done = dynamo.ErrInvalidState, true
		return
	}
	m.state = next
	m.t += m.loop.Dt
	m.step++

	if m.loop.Value != nil {
		m.values = append(m.values, m.loop.Value(m.state))
		if len(m.values) > historyCapacity {
			m.values = m.values[1:]
		}
	}
}

func (m *Model) reset() {
	m.state = m.loop.X0.Clone()
	m.u = make(dynamo.Control, m.loop.System.ControlDim())
	m.t, m.step = 0, 0
	m.done, m.err, m.notice = false, nil, ""
	m.values = m.values[:0]
	m.latency = 0
	if r, ok := m.loop.Controller.(dynamo.Resetter); ok {
		r.Reset()
	}
}

func (m *Model) onTransition(from, to mpc.Phase) { m.phases[to]++ }

func (m *Model) State() dynamo.State { return m.state }
func (m *Model) Step() int           { return m.step }
func (m *Model) Running() bool       { return m.running }
func (m *Model) Done() bool          { return m.done }
func (m *Model) Err() error          { return m.err }

func (m *Model) View() string {
	m.draw()

	var s strings.Builder
	s.WriteString(row("time", fmt.Sprintf("%.2fs  step %d", m.t, m.step)))
	s.WriteString(row("position", fmt.Sprintf("%+.4f", m.state[0])))
	s.WriteString(row("angle", fmt.Sprintf("%+.4f rad", m.state[2])))
	if len(m.u) > 0 {
		s.WriteString(row("force", fmt.Sprintf("%+.4f", m.u[0])))
	}
	if len(m.values) > 0 {
		s.WriteString(row("value", fmt.Sprintf("%.6f", m.values[len(m.values)-1])))
	}
	s.WriteString(row("latency", m.latency.Round(time.Microsecond).String()))

	if m.mpc != nil {
		stats := m.mpc.Stats()
		phase := m.mpc.Phase().String()
		s.WriteString(row("phase", phaseStyles[phase].Render(phase)))
		s.WriteString(row("horizon", fmt.Sprintf("%d (%s)", m.mpc.Program().Horizon(), m.mpc.Program().Formulation())))
		s.WriteString(row("cost J*", fmt.Sprintf("%.6f", stats.LastCost)))
		s.WriteString(row("solves", fmt.Sprintf("%d  failed %d  fallback %d", stats.Solves, stats.Failures, stats.Fallbacks)))
		s.WriteString(row("mean solve", stats.MeanSolveTime().Round(time.Microsecond).String()))
		if n := m.phases[mpc.Solving]; n > 0 {
			s.WriteString(row("entered", fmt.Sprintf("solving %d  applying %d", n, m.phases[mpc.Applying])))
		}
		s.WriteString(labelStyle.Render("J* trend") + Sparkline(stats.Costs, 28) + "\n")
	}
	if chart := ValueChart(m.values); chart != "" {
		s.WriteString(graphStyle.Render(chart) + "\n")
	}
	if m.loop.Steps > 0 {
		s.WriteString(labelStyle.Render("progress") + Gauge(float64(m.step)/float64(m.loop.Steps), 28) + "\n")
	}

	status := "RUNNING"
	switch {
	case m.err != nil:
		status = errorStyle.Render("STOPPED: " + m.err.Error())
	case m.done:
		status = "DONE"
	case !m.running:
		status = "PAUSED"
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, canvasStyle.Render(m.canvas.String()), statsStyle.Render(s.String()))
	out := headerStyle.Render(strings.ToUpper(m.title)) + "\n" + status + "\n" + body
	if m.notice != "" {
		out += "\n" + m.notice
	}
	return out + helpStyle.Render("\nspace pause  n step  d kick  r reset  q quit")
}

// ValueChart plots the recent value-function history, empty until there
// are two points to connect.
func ValueChart(values []float64) string {
	if len(values) < 2 {
		return ""
	}
	return asciigraph.Plot(values, asciigraph.Height(4), asciigraph.Width(30), asciigraph.Caption("V(x) = xᵀPx"))
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value) + "\n"
}

func (m *Model) draw() {
	m.canvas.Clear()
	w, h := m.canvas.Dots()
	ground := h - 6
	m.canvas.DrawLine(0, ground+4, w-1, ground+4)

	pos, theta := m.state[0], m.state[2]
	cart := w/2 + int(math.Round(pos*40))
	m.canvas.FillRect(cart-6, ground, cart+6, ground+3)

	pole := float64(ground) * 0.75
	px := cart + int(math.Round(pole*math.Sin(theta)))
	py := ground - int(math.Round(pole*math.Cos(theta)))
	m.canvas.DrawLine(cart, ground, px, py)
	m.canvas.FillRect(px-1, py-1, px+1, py+1)
}

// Run blocks in the terminal until the user quits.
func Run(m *Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
