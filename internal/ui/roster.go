package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/ubaish01/commune--client/internal/protocol"
	"github.com/ubaish01/commune--client/internal/render"
	"github.com/ubaish01/commune--client/internal/utils"
)

// RosterView renders the remote elements as a table, video tiles first.
func RosterView(elements []render.Element) string {
	if len(elements) == 0 {
		return MutedStyle.Render("Nobody else is here yet")
	}

	rows := make([][]string, 0, len(elements))
	for _, el := range elements {
		rows = append(rows, []string{
			kindIcon(el.Kind),
			displayLabel(el),
			el.MimeType,
			fmt.Sprintf("%d", el.Packets),
			utils.FormatSize(int64(el.Bytes)),
			recordingCell(el.Recording),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("", "Participant", "Codec", "Packets", "Received", "Recording").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// TilesView renders one bordered tile per visible (video) element.
func TilesView(elements []render.Element) string {
	var tiles []string
	for _, el := range elements {
		if el.Hidden {
			continue
		}
		status := IdleStyle.Render("waiting for media")
		if el.Packets > 0 {
			status = LiveStyle.Render(fmt.Sprintf("● live  %s", utils.FormatSize(int64(el.Bytes))))
		}
		tiles = append(tiles, VideoTileStyle.Render(
			fmt.Sprintf("%s %s\n%s", IconVideo, LabelStyle.Render(el.Label), status),
		))
	}
	if len(tiles) == 0 {
		return ""
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tiles...)
}

func kindIcon(kind protocol.MediaKind) string {
	if kind == protocol.KindVideo {
		return IconVideo
	}
	return IconAudio
}

// displayLabel falls back to the producer id for hidden audio elements,
// which carry no label.
func displayLabel(el render.Element) string {
	if el.Label != "" {
		return el.Label
	}
	return MutedStyle.Render(el.ProducerID)
}

func recordingCell(path string) string {
	if path == "" {
		return "-"
	}
	return IconRecord + " " + path
}

// SessionSummary is printed once the room is left.
type SessionSummary struct {
	Room      string
	Name      string
	SocketID  string
	State     string
	Duration  time.Duration
	Producers []string
	Layers    []protocol.RtpEncodingParameters
	Elements  []render.Element
}

// SessionSummaryView renders the summary with go-pretty.
func SessionSummaryView(s SessionSummary) string {
	var packets, bytes uint64
	var recordings []string
	for _, el := range s.Elements {
		packets += el.Packets
		bytes += el.Bytes
		if el.Recording != "" {
			recordings = append(recordings, el.Recording)
		}
	}

	tw := prettytable.NewWriter()
	tw.SetStyle(prettytable.StyleRounded)
	tw.SetTitle(fmt.Sprintf("%s Session Summary", IconRoom))
	tw.AppendHeader(prettytable.Row{"Metric", "Value"})
	tw.AppendRows([]prettytable.Row{
		{"Room", s.Room},
		{"Name", s.Name},
		{"Socket", orDash(s.SocketID)},
		{"Final state", s.State},
		{"Duration", utils.FormatTimeDuration(s.Duration)},
		{"Published", orDash(strings.Join(s.Producers, ", "))},
		{"Video layers", orDash(layersCell(s.Layers))},
		{"Remote elements", len(s.Elements)},
		{"Packets received", packets},
		{"Bytes received", utils.FormatSize(int64(bytes))},
	})
	if len(recordings) > 0 {
		tw.AppendSeparator()
		for _, r := range recordings {
			tw.AppendRow(prettytable.Row{"Recording", r})
		}
	}
	return tw.Render()
}

func layersCell(layers []protocol.RtpEncodingParameters) string {
	parts := make([]string, 0, len(layers))
	for _, l := range layers {
		parts = append(parts, fmt.Sprintf("%s %s", l.RID, utils.FormatBitrate(l.MaxBitrate)))
	}
	return strings.Join(parts, ", ")
}

func RenderSessionSummary(s SessionSummary) {
	fmt.Println(SessionSummaryView(s))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
