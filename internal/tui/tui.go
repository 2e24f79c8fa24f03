// Package tui renders the recorder and the recording list, and forwards
// key presses to the service.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/voicememo/internal/play"
	"github.com/audiolibrelab/voicememo/internal/recording"
	"github.com/audiolibrelab/voicememo/internal/service"
	"github.com/audiolibrelab/voicememo/internal/session"
	"github.com/audiolibrelab/voicememo/internal/timefmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// seekStep is how far the arrow keys move the play head, in seconds.
const seekStep = 5

// Service is what the UI needs from the application state.
type Service interface {
	StartRecording(ctx context.Context) error
	StopRecording()
	IsRecording() bool
	ListRecordings() []recording.Recording
	DeleteRecording(id string) bool
	Play(id string) error
	Pause(id string)
	Seek(id string, seconds float64) error
	PlaybackState(id string) (play.State, bool)
	Updates() <-chan service.Update
}

var (
	primaryColor = lipgloss.Color("#7C3AED")
	recordColor  = lipgloss.Color("#F38BA8")
	textColor    = lipgloss.Color("#CDD6F4")
	dimTextColor = lipgloss.Color("#6C7086")
	playingColor = lipgloss.Color("#A6E3A1")

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	recordStyle = lipgloss.NewStyle().
			Foreground(recordColor).
			Bold(true)

	itemStyle = lipgloss.NewStyle().
			Foreground(textColor)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(primaryColor).
			Bold(true)

	playingStyle = lipgloss.NewStyle().
			Foreground(playingColor).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(dimTextColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(recordColor)
)

// Model is the bubbletea model
type Model struct {
	svc        Service
	keys       KeyMap
	help       help.Model
	recordings []recording.Recording
	playback   map[string]play.State
	cursor     int
	recording  bool
	starting   bool
	elapsed    int
	width      int

	statusMessage string
	errorMessage  string
}

// NewModel creates the model for svc
func NewModel(svc Service) Model {
	return Model{
		svc:        svc,
		keys:       DefaultKeyMap,
		help:       help.New(),
		recordings: svc.ListRecordings(),
		playback:   make(map[string]play.State),
		recording:  svc.IsRecording(),
	}
}

type updateMsg struct {
	update service.Update
}

type startResultMsg struct {
	err error
}

type playResultMsg struct {
	err error
}

func waitForUpdate(updates <-chan service.Update) tea.Cmd {
	return func() tea.Msg {
		return updateMsg{update: <-updates}
	}
}

func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.svc.Updates())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case updateMsg:
		m.applyUpdate(msg.update)
		return m, waitForUpdate(m.svc.Updates())

	case startResultMsg:
		m.starting = false
		if msg.err != nil {
			m.errorMessage = session.Message(msg.err)
			m.statusMessage = ""
		}
		return m, nil

	case playResultMsg:
		if msg.err != nil {
			m.errorMessage = fmt.Sprintf("Playback failed: %v", msg.err)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	return m, nil
}

func (m *Model) applyUpdate(u service.Update) {
	switch {
	case u.Session != nil:
		ev := u.Session
		switch ev.Kind {
		case session.EventStarted:
			m.recording = true
			m.elapsed = 0
			m.errorMessage = ""
			m.statusMessage = "Recording..."
		case session.EventTick:
			m.elapsed = ev.Elapsed
		case session.EventFinalized:
			m.recording = false
			m.elapsed = 0
			m.refresh()
			m.cursor = len(m.recordings) - 1
			m.statusMessage = fmt.Sprintf("Saved %s", timefmt.FormatInt(ev.Recording.Duration()))
		case session.EventFailed:
			m.recording = false
			m.starting = false
			m.elapsed = 0
			m.errorMessage = session.Message(ev.Err)
			m.statusMessage = ""
		}
	case u.Player != nil:
		m.playback[u.Player.RecordingID] = *u.Player
	}
}

func (m Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.recordings)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Record):
		m.errorMessage = ""
		if m.recording {
			m.svc.StopRecording()
			m.statusMessage = "Saving..."
			return m, nil
		}
		if m.starting {
			return m, nil
		}
		m.starting = true
		m.statusMessage = "Waiting for microphone..."
		svc := m.svc
		return m, func() tea.Msg {
			return startResultMsg{err: svc.StartRecording(context.Background())}
		}

	case key.Matches(msg, m.keys.Play):
		rec, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.errorMessage = ""
		if state, ok := m.svc.PlaybackState(rec.ID()); ok && state.Playing {
			m.svc.Pause(rec.ID())
			m.playback[rec.ID()] = m.stateOf(rec)
			return m, nil
		}
		svc := m.svc
		id := rec.ID()
		return m, func() tea.Msg {
			return playResultMsg{err: svc.Play(id)}
		}

	case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Forward):
		rec, ok := m.selected()
		if !ok {
			return m, nil
		}
		step := float64(seekStep)
		if key.Matches(msg, m.keys.Back) {
			step = -step
		}
		pos := m.stateOf(rec).Position + step
		if err := m.svc.Seek(rec.ID(), pos); err != nil {
			m.errorMessage = fmt.Sprintf("Seek failed: %v", err)
		}
		m.playback[rec.ID()] = m.stateOf(rec)
		return m, nil

	case key.Matches(msg, m.keys.Delete):
		rec, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.svc.DeleteRecording(rec.ID())
		delete(m.playback, rec.ID())
		m.refresh()
		if m.cursor >= len(m.recordings) && m.cursor > 0 {
			m.cursor = len(m.recordings) - 1
		}
		m.statusMessage = "Recording deleted"
		return m, nil
	}

	return m, nil
}

func (m *Model) refresh() {
	m.recordings = m.svc.ListRecordings()
}

func (m Model) selected() (recording.Recording, bool) {
	if m.cursor < 0 || m.cursor >= len(m.recordings) {
		return recording.Recording{}, false
	}
	return m.recordings[m.cursor], true
}

// stateOf prefers the live player state over the last update received.
func (m Model) stateOf(rec recording.Recording) play.State {
	if state, ok := m.svc.PlaybackState(rec.ID()); ok {
		return state
	}
	if state, ok := m.playback[rec.ID()]; ok {
		return state
	}
	return play.State{RecordingID: rec.ID(), Duration: rec.Duration()}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("🎙  Voice Memos") + "\n\n")

	if m.recording {
		b.WriteString(recordStyle.Render("● REC "+timefmt.FormatInt(m.elapsed)) + "\n\n")
	} else {
		b.WriteString(statusStyle.Render("Press r to start recording") + "\n\n")
	}

	if len(m.recordings) == 0 {
		b.WriteString(statusStyle.Render("No recordings yet") + "\n")
	}
	for i, rec := range m.recordings {
		b.WriteString(m.renderItem(i, rec) + "\n")
	}
	b.WriteString("\n")

	if m.errorMessage != "" {
		b.WriteString(errorStyle.Render("✗ "+m.errorMessage) + "\n")
	} else if m.statusMessage != "" {
		b.WriteString(statusStyle.Render(m.statusMessage) + "\n")
	}

	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderItem(i int, rec recording.Recording) string {
	state, ok := m.playback[rec.ID()]
	if !ok {
		state = play.State{Duration: rec.Duration()}
	}

	prefix := "  "
	if state.Playing {
		prefix = "▶ "
	}
	text := fmt.Sprintf("%s#%d  %s / %s  %s", prefix, i+1,
		timefmt.Format(state.Position), timefmt.FormatInt(rec.Duration()), progressBar(state.Position, rec.Duration(), 20))

	switch {
	case i == m.cursor:
		return selectedStyle.Render(text)
	case state.Playing:
		return playingStyle.Render(text)
	default:
		return itemStyle.Render(text)
	}
}

func progressBar(position float64, duration, width int) string {
	filled := 0
	if duration > 0 {
		filled = int(position / float64(duration) * float64(width))
	}
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("━", filled) + strings.Repeat("─", width-filled)
}

// Run runs the terminal UI until the user quits
func Run(svc Service) error {
	p := tea.NewProgram(NewModel(svc), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
