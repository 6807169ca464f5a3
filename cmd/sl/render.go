package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"stepline/internal/domain"
)

var (
	clrSubtle = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#666666"}
	clrGreen  = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed    = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	clrBlue   = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}

	statusStyles = map[domain.Status]lipgloss.Style{
		domain.StatusOpen:       lipgloss.NewStyle().Foreground(clrSubtle),
		domain.StatusInProgress: lipgloss.NewStyle().Foreground(clrBlue).Bold(true),
		domain.StatusBlocked:    lipgloss.NewStyle().Foreground(clrRed),
		domain.StatusClosed:     lipgloss.NewStyle().Foreground(clrGreen),
	}
	readyStyle = lipgloss.NewStyle().Foreground(clrYellow).Bold(true)
	idStyle    = lipgloss.NewStyle().Foreground(clrSubtle)
)

func statusLabel(s domain.Status) string {
	if style, ok := statusStyles[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}

func treeLabel(it domain.Item, status domain.Status, ready bool) string {
	label := fmt.Sprintf("%s %s [%s]", idStyle.Render(it.ID), it.Title, statusLabel(status))
	if ready {
		label += " " + readyStyle.Render("ready")
	}
	return label
}

func printItemTree(it domain.Item, children map[string][]domain.Item, label func(domain.Item) string, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s\n", prefix, connector, label(it))
	for i, c := range children[it.ID] {
		printItemTree(c, children, label, newPrefix, i == len(children[it.ID])-1)
	}
}
