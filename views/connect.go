package views

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/meshwatch/meshwatch/discover"
)

// ConnectView handles the radio selection screen
type ConnectView struct {
	styles         *Styles
	width          int
	height         int
	candidates     []discover.Candidate
	selectedIndex  int
	status         string
	sweeping       bool
	sweepStartTime time.Time
	workerStats    map[int]discover.WorkerStatus
	statsLock      sync.RWMutex
}

// NewConnectView creates a new connect view
func NewConnectView(styles *Styles) *ConnectView {
	return &ConnectView{
		styles:      styles,
		workerStats: make(map[int]discover.WorkerStatus),
	}
}

// SetDimensions updates the view dimensions
func (v *ConnectView) SetDimensions(width, height int) {
	v.width = width
	v.height = height
}

// SetCandidates updates the list of discovered radios
func (v *ConnectView) SetCandidates(candidates []discover.Candidate) {
	v.candidates = candidates
}

// SetSelectedIndex updates the selected candidate index
func (v *ConnectView) SetSelectedIndex(index int) {
	v.selectedIndex = index
}

// SetStatus updates the status line under the candidate list
func (v *ConnectView) SetStatus(status string) {
	v.status = status
}

// SetSweeping updates whether a subnet sweep is running
func (v *ConnectView) SetSweeping(active bool) {
	if active && !v.sweeping {
		v.sweepStartTime = time.Now()
	}
	v.sweeping = active
}

// SetWorkerStats updates the sweep worker statistics
func (v *ConnectView) SetWorkerStats(stats map[int]discover.WorkerStatus) {
	v.statsLock.Lock()
	v.workerStats = stats
	v.statsLock.Unlock()
}

// GetSelectedCandidate returns the currently selected candidate
func (v *ConnectView) GetSelectedCandidate() (discover.Candidate, bool) {
	if v.selectedIndex >= 0 && v.selectedIndex < len(v.candidates) {
		return v.candidates[v.selectedIndex], true
	}
	return discover.Candidate{}, false
}

// Render generates the view
func (v *ConnectView) Render() string {
	banner := v.styles.RenderBanner()

	title := v.styles.DialogText.
		Bold(true).
		Padding(0, 1).
		Foreground(primaryColor).
		Align(lipgloss.Center).
		Render("Connect to a Radio")

	var middle string
	if len(v.candidates) == 0 {
		middle = v.styles.DialogBox.Render(
			v.styles.DialogText.Render("No radios found yet.") + "\n\n" +
				v.styles.DescStyle.Render("Plug in a USB radio, or press s to sweep\nthe local network for radios serving TCP."),
		)
	} else {
		var listContent []string
		for i, cand := range v.candidates {
			item := fmt.Sprintf("%s [%s]", cand.Label, cand.Source)
			if i == v.selectedIndex {
				arrow := v.styles.ComposeInput.Copy().
					Foreground(lipgloss.Color("#00ff00")).
					Render("▶")
				text := v.styles.DialogText.Copy().
					Foreground(lipgloss.Color("#FFFFFF")).
					Render(" " + item)
				item = arrow + text
			} else {
				item = v.styles.DialogText.Copy().
					Foreground(lipgloss.Color("#FFFFFF")).
					Render("  " + item)
			}
			listContent = append(listContent, item)
		}
		middle = v.styles.DialogBox.Render(strings.Join(listContent, "\n"))
	}

	details := v.renderDetails()

	var sweepInfo string
	if v.sweeping {
		sweepInfo = v.renderSweepProgress()
	}

	var status string
	if v.status != "" {
		status = v.styles.DialogText.Copy().
			Foreground(lipgloss.Color("#FFFFFF")).
			Render(v.status)
	}

	help := v.styles.Help.Render("↑↓ Select • Enter Connect • s Sweep LAN • r Rescan • q Quit")

	parts := []string{banner, title, middle}
	if details != "" {
		parts = append(parts, details)
	}
	if sweepInfo != "" {
		parts = append(parts, sweepInfo)
	}
	if status != "" {
		parts = append(parts, status)
	}
	parts = append(parts, help)

	content := lipgloss.JoinVertical(lipgloss.Center, parts...)

	return lipgloss.Place(
		v.width,
		v.height,
		lipgloss.Center,
		lipgloss.Center,
		content,
	)
}

// renderDetails shows how the selected candidate would be reached
func (v *ConnectView) renderDetails() string {
	cand, ok := v.GetSelectedCandidate()
	if !ok {
		return ""
	}

	labelStyle := v.styles.DialogText.Copy().
		Width(14).
		Align(lipgloss.Right).
		Foreground(lipgloss.Color("#00ff00"))
	valueStyle := v.styles.DialogText.Copy().
		Foreground(lipgloss.Color("#FFFFFF"))

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Connection"), "  ", valueStyle.Render(cand.Target.Kind.String())),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Address"), "  ", valueStyle.Render(cand.Target.Addr)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Found via"), "  ", valueStyle.Render(cand.Source)),
	}

	return v.styles.Box.Copy().
		BorderForeground(lipgloss.Color("#444444")).
		MarginTop(1).
		Width(60).
		Padding(0, 2).
		Align(lipgloss.Left).
		Render(strings.Join(rows, "\n"))
}

// renderSweepProgress draws the subnet sweep progress bar and counters
func (v *ConnectView) renderSweepProgress() string {
	var scanned, sent, total int32
	var activeWorkers int

	v.statsLock.RLock()
	for _, stat := range v.workerStats {
		if time.Since(stat.LastSeen) < time.Second*2 {
			activeWorkers++
		}
		// Every status copy carries the global counters
		scanned = stat.IPsScanned
		sent = stat.SentCount
		total = stat.TotalIPs
	}
	v.statsLock.RUnlock()

	var progress float64
	if total > 0 {
		progress = float64(scanned) / float64(total) * 100
		if progress > 100.0 {
			progress = 100.0
		}
	}

	progressWidth := 48
	filledWidth := int(float64(progressWidth) * progress / 100)

	var progressBar strings.Builder
	progressBar.WriteString("[")
	for i := 0; i < progressWidth; i++ {
		if i < filledWidth {
			progressBar.WriteString(lipgloss.NewStyle().Foreground(primaryColor).Render("█"))
		} else {
			progressBar.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("#333333")).Render("█"))
		}
	}
	progressBar.WriteString("]")

	elapsed := time.Since(v.sweepStartTime).Round(time.Second)
	statsText := fmt.Sprintf(
		"Sweeping: %.1f%% (%d/%d) | Queued: %d | Workers: %d | Time: %v",
		progress,
		min32(scanned, total),
		total,
		max32(0, sent-scanned),
		activeWorkers,
		elapsed,
	)

	return lipgloss.JoinVertical(
		lipgloss.Center,
		lipgloss.NewStyle().Width(v.width).Align(lipgloss.Center).Render(progressBar.String()),
		lipgloss.NewStyle().Width(v.width).Align(lipgloss.Center).Render(statsText),
	)
}

// Helper function to get minimum of two int32s
func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// Helper function to get maximum of two int32s
func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
