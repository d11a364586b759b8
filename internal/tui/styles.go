package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

var statusColors = map[models.TaskStatus]lipgloss.Color{
	models.TaskStatusQueued:    lipgloss.Color("244"),
	models.TaskStatusRunning:   lipgloss.Color("34"),
	models.TaskStatusCompleted: lipgloss.Color("28"),
	models.TaskStatusError:     lipgloss.Color("196"),
}

func statusStyle(s models.TaskStatus) lipgloss.Style {
	c, ok := statusColors[s]
	if !ok {
		c = lipgloss.Color("252")
	}
	return lipgloss.NewStyle().Foreground(c)
}

func verdictStyle(s approval.Status) lipgloss.Style {
	if s == approval.StatusApproved {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
}
