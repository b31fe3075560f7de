package main

import "github.com/charmbracelet/lipgloss"

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	hostStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)
