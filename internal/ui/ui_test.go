package ui

import (
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubaish01/commune--client/internal/conference"
	"github.com/ubaish01/commune--client/internal/protocol"
	"github.com/ubaish01/commune--client/internal/render"
)

type stubSession struct{ state conference.State }

func (s *stubSession) State() conference.State              { return s.state }
func (s *stubSession) SocketID() string                     { return "sock-1" }
func (s *stubSession) OnStateChange(func(conference.State)) {}

type stubSurface struct{ elements []render.Element }

func (s *stubSurface) Elements() []render.Element { return s.elements }
func (s *stubSurface) OnChange(func())            {}

var elements = []render.Element{
	{ProducerID: "v1", Kind: protocol.KindVideo, Label: "bob", MimeType: "video/VP8", Packets: 10, Bytes: 2048},
	{ProducerID: "a1", Kind: protocol.KindAudio, Hidden: true, MimeType: "audio/opus", Recording: "/tmp/bob-a1.ogg"},
}

func TestRosterView(t *testing.T) {
	assert.Contains(t, RosterView(nil), "Nobody")

	out := RosterView(elements)
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "a1")
	assert.Contains(t, out, "2.00 KB")
	assert.Contains(t, out, "/tmp/bob-a1.ogg")
}

func TestTilesViewSkipsHidden(t *testing.T) {
	out := TilesView(elements)
	assert.Contains(t, out, "bob")
	assert.NotContains(t, out, "a1")
	assert.Empty(t, TilesView(elements[1:]))
}

func TestSessionSummaryView(t *testing.T) {
	out := SessionSummaryView(SessionSummary{
		Room:      "standup",
		Name:      "alice",
		State:     "closed",
		Duration:  90 * time.Second,
		Producers: []string{"audio", "video"},
		Layers:    []protocol.RtpEncodingParameters{{RID: "r0", MaxBitrate: 100_000}, {RID: "r2", MaxBitrate: 900_000}},
		Elements:  elements,
	})
	assert.Contains(t, out, "standup")
	assert.Contains(t, out, "audio, video")
	assert.Contains(t, out, "r0 100 kbps, r2 900 kbps")
	assert.Contains(t, out, "/tmp/bob-a1.ogg")
}

func TestRoomModelQuit(t *testing.T) {
	quit := false
	session := &stubSession{state: conference.StateActive}
	v := NewRoomView("standup", "alice", session, &stubSurface{elements: elements}, func() { quit = true })

	assert.Contains(t, v.model.View(), "standup")
	assert.Contains(t, v.model.View(), "active")

	_, cmd := v.model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, quit)
	assert.NotNil(t, cmd)
	assert.Empty(t, v.model.View())
}

func TestRoomModelStopsTickingWhenClosed(t *testing.T) {
	session := &stubSession{state: conference.StateActive}
	v := NewRoomView("standup", "alice", session, &stubSurface{}, nil)

	_, cmd := v.model.Update(refreshMsg{})
	assert.NotNil(t, cmd)

	session.state = conference.StateClosed
	_, cmd = v.model.Update(refreshMsg{})
	assert.Nil(t, cmd)
	assert.Equal(t, conference.StateClosed, v.model.state)
}

type lockedBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestSpinnerFollowsMessageUpdates(t *testing.T) {
	out := &lockedBuffer{}
	sp := NewWaitingSpinner("Joining standup...")
	sp.out = out
	sp.Start()

	sp.UpdateMessage("Joining standup (send-ready)...")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "(send-ready)")
	}, 2*time.Second, 10*time.Millisecond)

	sp.Success("Joined standup")
	sp.Stop()
	assert.Contains(t, out.String(), "Joined standup")
	assert.Equal(t, 1, strings.Count(out.String(), "Joined standup\n"))
}
