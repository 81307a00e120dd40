package main

import "github.com/charmbracelet/lipgloss"

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(14)
	valueStyle = lipgloss.NewStyle().Bold(true)
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true).MarginBottom(1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)
