// Package ui holds the lipgloss styles shared by the CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderPass renders s in the success style.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s in the warning style.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s in the failure style.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders s in the accent style.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders s dimmed.
func RenderMuted(s string) string { return mutedStyle.Render(s) }
