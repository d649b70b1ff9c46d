// Package ui renders terminal output for the CLI commands.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
	"github.com/civicdata/kawasaki-etl/internal/orchestrator"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	loadedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func statusStyle(s orchestrator.Status) lipgloss.Style {
	switch s {
	case orchestrator.StatusLoaded:
		return loadedStyle
	case orchestrator.StatusSkipped:
		return skippedStyle
	default:
		return failedStyle
	}
}

// RenderOutcomes renders the per-dataset results of a run as an aligned
// table with a totals line.
func RenderOutcomes(outcomes []orchestrator.Outcome) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("%-32s %-8s %8s %10s", "DATASET", "STATUS", "ROWS", "DURATION")))
	sb.WriteString("\n")

	loaded, skipped, failed := 0, 0, 0
	for _, o := range outcomes {
		line := fmt.Sprintf("%-32s %-8s %8d %10s",
			o.DatasetID, o.Status, o.Rows, o.Duration.Round(time.Millisecond))
		sb.WriteString(statusStyle(o.Status).Render(line))
		sb.WriteString("\n")
		if o.Err != nil {
			sb.WriteString(dimStyle.Render("  " + o.Err.Error()))
			sb.WriteString("\n")
		}
		switch o.Status {
		case orchestrator.StatusLoaded:
			loaded++
		case orchestrator.StatusSkipped:
			skipped++
		default:
			failed++
		}
	}

	sb.WriteString(dimStyle.Render(fmt.Sprintf("%d loaded, %d skipped, %d failed", loaded, skipped, failed)))
	return sb.String()
}

// RenderDatasets renders the configured catalogue.
func RenderDatasets(datasets map[string]catalog.Dataset) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("%-32s %-16s %-6s %s", "DATASET", "CATEGORY", "TYPE", "URL")))
	sb.WriteString("\n")
	for _, id := range catalog.IDs(datasets) {
		ds := datasets[id]
		sb.WriteString(fmt.Sprintf("%-32s %-16s %-6s %s\n", id, ds.Category, ds.Type, ds.URL))
	}
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%d datasets configured", len(datasets))))
	return sb.String()
}
