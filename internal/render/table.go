// internal/render/table.go
package render

import (
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"ineffable/internal/session"
	"ineffable/internal/store"
)

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateHeader = true
	tw.Style().Options.DrawBorder = true
	return tw
}

// SessionsTable writes a session listing
func SessionsTable(w io.Writer, sessions []session.Info) {
	tw := newTable(w)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignCenter, WidthMax: 60},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
	})
	tw.AppendHeader(table.Row{"Session ID", "Title", "Updated"})

	for _, s := range sessions {
		tw.AppendRow(table.Row{s.ID, oneLine(s.Title), formatTime(s.UpdatedAt, s.CreatedAt)})
	}
	if len(sessions) == 0 {
		tw.AppendRow(table.Row{"-", "(no sessions)", "-"})
	}
	tw.Render()
}

// ServersTable writes the known servers, marking the default
func ServersTable(w io.Writer, servers []store.Server) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"", "Name", "URL", "Backend", "ID"})

	for _, s := range servers {
		mark := ""
		if s.IsDefault {
			mark = "*"
		}
		tw.AppendRow(table.Row{mark, s.Name, s.URL, s.Backend, shortID(s.ID)})
	}
	if len(servers) == 0 {
		tw.AppendRow(table.Row{"", "(no servers)", "-", "-", "-"})
	}
	tw.Render()
}

func formatTime(ts ...time.Time) string {
	for _, t := range ts {
		if !t.IsZero() {
			return t.Local().Format("2006-01-02 15:04")
		}
	}
	return "-"
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
