package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary   = lipgloss.Color("86")
	colorSecondary = lipgloss.Color("241")
	colorSuccess   = lipgloss.Color("78")
	colorWarning   = lipgloss.Color("208")
	colorError     = lipgloss.Color("196")
	colorMuted     = lipgloss.Color("245")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	itemStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(2).
				Foreground(colorPrimary).
				Bold(true)

	checkboxStyle = lipgloss.NewStyle().
			Foreground(colorPrimary)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")).
			MarginTop(1)

	confirmStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSuccess)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorError)

	logBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorSecondary).
			Padding(0, 1)

	dividerStyle = lipgloss.NewStyle().
			Foreground(colorSecondary)

	badgeStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	iconOK    = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess).Render("✓")
	iconWarn  = lipgloss.NewStyle().Bold(true).Foreground(colorWarning).Render("!")
	iconError = lipgloss.NewStyle().Bold(true).Foreground(colorError).Render("✗")
)

// statusColor maps an execution status to its badge color. Unknown values
// render like a running execution.
func statusColor(s Status) lipgloss.Color {
	switch s {
	case StatusSuccess:
		return colorSuccess
	case StatusFailed:
		return colorError
	case StatusCancelled:
		return colorWarning
	case StatusPending:
		return colorMuted
	default:
		return colorPrimary
	}
}

func renderStatusBadge(s Status) string {
	label := string(s)
	if label == "" {
		label = "unknown"
	}
	return badgeStyle.
		Foreground(lipgloss.Color("0")).
		Background(statusColor(s)).
		Render(strings.ToUpper(label))
}

func renderStatusIcon(s Status) string {
	style := lipgloss.NewStyle().Bold(true).Foreground(statusColor(s))
	switch s {
	case StatusSuccess:
		return style.Render("✓")
	case StatusFailed:
		return style.Render("✗")
	case StatusCancelled:
		return style.Render("○")
	default:
		return style.Render("●")
	}
}

func renderDivider(width int) string {
	if width <= 0 {
		width = 40
	}
	return dividerStyle.Render(strings.Repeat("─", width))
}
