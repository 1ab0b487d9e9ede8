// Package console is a terminal host for a playback session: a status view
// refreshed on a timer and single-key transport controls.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/playback/internal/media"
	"github.com/zsiec/playback/internal/player"
)

const (
	seekStep   = 10 * time.Second
	volumeStep = 8
	speedStep  = 10
	minSpeed   = 10
	maxSpeed   = 400
	maxEvents  = 5
	barWidth   = 40
)

// Controller is the part of a session the console drives.
type Controller interface {
	Play() error
	Pause() error
	Seek(ms int64, mode player.SeekMode) error
	SetParam(id media.Param, v any) error
	GetParam(id media.Param) (any, error)
	State() player.State
}

type tickMsg time.Time

type stateMsg struct {
	state  player.State
	volume int
	speed  int
}

type notificationMsg player.Notification

// Model is the bubbletea model of the console.
type Model struct {
	ctl           Controller
	refresh       time.Duration
	notifications <-chan player.Notification

	state  player.State
	volume int
	speed  int
	events []string
	err    error
	width  int

	quitting bool
}

// New creates a console for ctl. notifications may be nil.
func New(ctl Controller, refresh time.Duration, notifications <-chan player.Notification) *Model {
	if refresh <= 0 {
		refresh = 200 * time.Millisecond
	}
	return &Model{
		ctl:           ctl,
		refresh:       refresh,
		notifications: notifications,
		speed:         100,
	}
}

// Run shows the console until the user quits or ctx is done.
func Run(ctx context.Context, m *Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	if err != nil && ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.fetch(), m.waitNotification())
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) fetch() tea.Cmd {
	ctl, volume, speed := m.ctl, m.volume, m.speed
	return func() tea.Msg {
		msg := stateMsg{state: ctl.State(), volume: volume, speed: speed}
		if v, err := ctl.GetParam(media.ParamAudioVolume); err == nil {
			if n, err := media.IntValue(v); err == nil {
				msg.volume = n
			}
		}
		if v, err := ctl.GetParam(media.ParamPlaySpeedValue); err == nil {
			if n, err := media.IntValue(v); err == nil {
				msg.speed = n
			}
		}
		return msg
	}
}

func (m *Model) waitNotification() tea.Cmd {
	if m.notifications == nil {
		return nil
	}
	ch := m.notifications
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return notificationMsg(n)
	}
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(m.tick(), m.fetch())

	case stateMsg:
		m.state = msg.state
		m.volume = msg.volume
		m.speed = msg.speed
		return m, nil

	case notificationMsg:
		m.addEvent(describe(player.Notification(msg)))
		return m, m.waitNotification()
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case " ", "space", "p":
		if m.state.Paused || !m.state.Playing {
			err = m.ctl.Play()
		} else {
			err = m.ctl.Pause()
		}
	case "left":
		err = m.seekBy(-seekStep)
	case "right":
		err = m.seekBy(seekStep)
	case ".":
		err = m.ctl.Seek(0, player.SeekStepForward)
	case ",":
		err = m.ctl.Seek(0, player.SeekStepBackward)
	case "+", "=":
		err = m.ctl.SetParam(media.ParamAudioVolume, m.volume+volumeStep)
	case "-", "_":
		err = m.ctl.SetParam(media.ParamAudioVolume, m.volume-volumeStep)
	case "]":
		err = m.ctl.SetParam(media.ParamPlaySpeedValue, min(m.speed+speedStep, maxSpeed))
	case "[":
		err = m.ctl.SetParam(media.ParamPlaySpeedValue, max(m.speed-speedStep, minSpeed))
	default:
		return m, nil
	}
	m.err = err
	return m, m.fetch()
}

func (m *Model) seekBy(d time.Duration) error {
	target := m.state.Position + d.Milliseconds()
	if m.state.Duration > 0 {
		target = min(target, m.state.Duration)
	}
	return m.ctl.Seek(max(target, 0), player.SeekAbsolute)
}

func (m *Model) addEvent(s string) {
	stamp := time.Now().Format("15:04:05")
	m.events = append(m.events, stamp+" "+s)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
}

func describe(n player.Notification) string {
	switch p := n.Payload.(type) {
	case player.VideoSize:
		return fmt.Sprintf("%s %dx%d", n.Msg, p.Width, p.Height)
	case player.SnapshotResult:
		if p.Err != nil {
			return fmt.Sprintf("%s failed: %v", n.Msg, p.Err)
		}
		return fmt.Sprintf("%s %s", n.Msg, p.Path)
	case error:
		return fmt.Sprintf("%s: %v", n.Msg, p)
	}
	return n.Msg.String()
}

func stateLabel(s player.State) string {
	switch {
	case s.Closed:
		return "CLOSED"
	case s.Reconnecting:
		return "RECONNECTING"
	case !s.Opened:
		return "OPENING"
	case s.Seeking:
		return "SEEKING"
	case s.Completed:
		return "COMPLETED"
	case s.Paused:
		return "PAUSED"
	}
	return "PLAYING"
}

func formatMS(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	h := int(d / time.Hour)
	mm := int(d/time.Minute) % 60
	ss := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mm, ss)
	}
	return fmt.Sprintf("%02d:%02d", mm, ss)
}

func progressBar(pos, dur int64, width int) string {
	filled := 0
	if dur > 0 {
		filled = int(min(max(pos, 0), dur) * int64(width) / dur)
	}
	return barFilled.Render(strings.Repeat(" ", filled)) +
		barEmpty.Render(strings.Repeat(" ", width-filled))
}

// View implements tea.Model
func (m *Model) View() string {
	if m.quitting {
		return "Stopping playback...\n"
	}

	s := m.state
	label := stateLabel(s)
	row := func(k, v string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(k), valueStyle.Render(v))
	}

	position := formatMS(s.Position)
	if s.Live {
		position += " (live)"
	} else if s.Duration > 0 {
		position += " / " + formatMS(s.Duration)
	}

	streams := make([]string, 0, 2)
	if s.HasAudio {
		streams = append(streams, "audio")
	}
	if s.HasVideo {
		streams = append(streams, "video")
	}

	lines := []string{
		titleStyle.Render("playback") + "  " + stateStyle(label).Render(label),
		row("source", s.URL),
		row("position", position),
	}
	if !s.Live && s.Duration > 0 {
		lines = append(lines, progressBar(s.Position, s.Duration, barWidth))
	}
	lines = append(lines,
		row("volume", fmt.Sprintf("%+d", m.volume)),
		row("speed", fmt.Sprintf("%d%%", m.speed)),
		row("streams", strings.Join(streams, "+")),
		row("datarate", fmt.Sprintf("%.1f KB/s", float64(s.Datarate)/1024)),
	)
	if len(m.events) > 0 {
		lines = append(lines, "", helpStyle.Render("events"))
		lines = append(lines, m.events...)
	}
	if m.err != nil {
		lines = append(lines, "", errorStyle.Render("error: "+m.err.Error()))
	}

	help := helpStyle.Render("space play/pause  ←/→ seek 10s  ,/. step  -/+ volume  [/] speed  q quit")
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)) + "\n" + help + "\n"
}
