package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/ubaish01/commune--client/internal/conference"
	"github.com/ubaish01/commune--client/internal/protocol"
	"github.com/ubaish01/commune--client/internal/render"
)

const refreshInterval = time.Second

// RoomSession is the part of a conference session the room view reads.
type RoomSession interface {
	State() conference.State
	SocketID() string
	OnStateChange(fn func(conference.State))
}

// RoomSurface is the part of the render surface the room view reads.
type RoomSurface interface {
	Elements() []render.Element
	OnChange(fn func())
}

// RoomView is a live terminal view of one room: session state, local
// producers and remote elements.
type RoomView struct {
	program *tea.Program
	model   *roomModel
	wg      sync.WaitGroup
}

type refreshMsg struct{}

type roomModel struct {
	room, name string
	session    RoomSession
	surface    RoomSurface
	onQuit     func()

	spinner  spinner.Model
	started  time.Time
	state    conference.State
	socketID string
	elements []render.Element
	quitting bool
}

// NewRoomView creates the view. onQuit runs when the user presses q or
// ctrl+c, and should cancel the session.
func NewRoomView(room, name string, session RoomSession, surface RoomSurface, onQuit func()) *RoomView {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &roomModel{
		room:    room,
		name:    name,
		session: session,
		surface: surface,
		onQuit:  onQuit,
		spinner: s,
		started: time.Now(),
	}
	m.refresh()

	return &RoomView{model: m, program: tea.NewProgram(m)}
}

// Start runs the program in a goroutine and subscribes it to session and
// surface changes.
func (v *RoomView) Start() {
	notify := func() { go v.program.Send(refreshMsg{}) }
	v.model.session.OnStateChange(func(conference.State) { notify() })
	v.model.surface.OnChange(notify)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if _, err := v.program.Run(); err != nil {
			PrintErrorf("UI error: %v", err)
		}
	}()
}

// Stop quits the program and restores the terminal.
func (v *RoomView) Stop() {
	v.program.Quit()
	v.wg.Wait()
}

func (m *roomModel) refresh() {
	m.state = m.session.State()
	m.socketID = m.session.SocketID()
	m.elements = m.surface.Elements()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case refreshMsg:
		m.refresh()
		if m.state == conference.StateClosed || m.state == conference.StateFailed {
			return m, nil
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *roomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.room)))
	b.WriteString("\n")

	status := fmt.Sprintf("%s %s", m.spinner.View(), m.state)
	switch m.state {
	case conference.StateActive:
		status = SuccessStyle.Render("● " + m.state.String())
	case conference.StateFailed:
		status = ErrorStyle.Render(IconError + " " + m.state.String())
	case conference.StateClosed:
		status = MutedStyle.Render(m.state.String())
	}
	fmt.Fprintf(&b, "%s %s  %s  %s\n", IconPeer, BoldStyle.Render(m.name), status,
		MutedStyle.Render(time.Since(m.started).Truncate(time.Second).String()))
	if m.socketID != "" {
		b.WriteString(MutedStyle.Render("socket "+m.socketID) + "\n")
	}
	b.WriteString("\n")

	if tiles := TilesView(m.elements); tiles != "" {
		b.WriteString(tiles + "\n")
	}
	b.WriteString(RosterView(m.elements) + "\n")

	audio := 0
	for _, el := range m.elements {
		if el.Kind == protocol.KindAudio {
			audio++
		}
	}
	b.WriteString(FooterStyle.Render(fmt.Sprintf("%d remote elements, %d audio  ·  press q to leave", len(m.elements), audio)))
	return ContainerStyle.Render(b.String())
}
