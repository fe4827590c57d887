package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentuity/go-fallback/fallback/disk"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableBorderColor = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	tableBorderStyle = lipgloss.NewStyle().Foreground(tableBorderColor)
	lockedStyle      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B58900", Dark: "#FFD75F"})
	expiredStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#a60853", Dark: "#F652A0"})
	mutedStyle       = lipgloss.NewStyle().Faint(true)
)

func renderReport(report *disk.Report, now time.Time) string {
	var b strings.Builder
	rows := make([][]string, 0, len(report.Slots))
	for _, s := range report.Slots {
		size, modified := "-", "-"
		if s.Written {
			size = fmt.Sprintf("%d", s.Size)
			modified = now.Sub(s.ModTime).Round(time.Second).String() + " ago"
		}
		rows = append(rows, []string{s.Name, size, modified, renderLock(s.Lock, s.LockAge)})
	}
	b.WriteString(table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		Headers("KEY FILE", "SIZE", "MODIFIED", "LOCK").
		Rows(rows...).
		String())
	if len(report.Temps) > 0 {
		b.WriteString("\n\n")
		b.WriteString(expiredStyle.Render(fmt.Sprintf("%d leftover temp file(s):", len(report.Temps))))
		for _, tmp := range report.Temps {
			b.WriteString(fmt.Sprintf("\n  %s (%d bytes, %s old)", tmp.Path, tmp.Size, now.Sub(tmp.ModTime).Round(time.Second)))
		}
	}
	return b.String()
}

func renderLock(state disk.State, age time.Duration) string {
	switch state {
	case disk.Locked:
		return lockedStyle.Render(fmt.Sprintf("locked %s", age.Round(time.Second)))
	case disk.Expired:
		return expiredStyle.Render(fmt.Sprintf("expired %s", age.Round(time.Second)))
	default:
		return mutedStyle.Render(state.String())
	}
}

func renderEventType(t disk.EventType) string {
	switch t {
	case disk.EventLocked:
		return lockedStyle.Render(t.String())
	case disk.EventRemoved:
		return expiredStyle.Render(t.String())
	default:
		return t.String()
	}
}
