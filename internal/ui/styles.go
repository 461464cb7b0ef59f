package ui

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha palette.
var (
	colorGreen  = lipgloss.Color("#a6e3a1")
	colorYellow = lipgloss.Color("#f9e2af")
	colorRed    = lipgloss.Color("#f38ba8")
	colorTeal   = lipgloss.Color("#94e2d5")
	colorMauve  = lipgloss.Color("#cba6f7")
	colorMuted  = lipgloss.Color("#5a6278")
	colorBright = lipgloss.Color("#cdd6f4")
)

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(colorMauve)
	styleName    = lipgloss.NewStyle().Bold(true).Foreground(colorBright)
	styleOK      = lipgloss.NewStyle().Foreground(colorGreen)
	styleFailed  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	styleSkipped = lipgloss.NewStyle().Foreground(colorMuted)
	styleWarn    = lipgloss.NewStyle().Foreground(colorYellow)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleCounter = lipgloss.NewStyle().Foreground(colorTeal)
)
