package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/meshwatch/meshwatch/radio"
)

// logLines is how many packets the log pane keeps on screen.
const logLines = 8

// SessionView handles the live mesh screen
type SessionView struct {
	styles        *Styles
	width         int
	height        int
	info          radio.MyInfo
	nodes         []radio.Node
	selectedIndex int
	tableOffset   int
	packets       []radio.Packet
	filter        FilterMode
	composing     bool
	composeText   string
	cursor        int
	directTarget  string
	status        string
	table         table.Model
}

// NewSessionView creates a new session view
func NewSessionView(styles *Styles) *SessionView {
	return &SessionView{
		styles: styles,
	}
}

// SetDimensions updates the view dimensions
func (v *SessionView) SetDimensions(width, height int) {
	v.width = width
	v.height = height
}

// SetInfo updates the connected radio's details
func (v *SessionView) SetInfo(info radio.MyInfo) {
	v.info = info
}

// SetNodes updates the node table contents
func (v *SessionView) SetNodes(nodes []radio.Node) {
	v.nodes = nodes
}

// SetSelectedIndex updates the selected node index
func (v *SessionView) SetSelectedIndex(index int) {
	v.selectedIndex = index
}

// SetTableOffset updates the table scroll offset
func (v *SessionView) SetTableOffset(offset int) {
	v.tableOffset = offset
}

// SetPackets updates the packet log contents
func (v *SessionView) SetPackets(packets []radio.Packet) {
	v.packets = packets
}

// SetFilter updates which packet kinds the log shows
func (v *SessionView) SetFilter(filter FilterMode) {
	v.filter = filter
}

// SetComposing updates whether the compose line is active
func (v *SessionView) SetComposing(active bool) {
	v.composing = active
}

// SetComposeText updates the message being written
func (v *SessionView) SetComposeText(text string) {
	v.composeText = text
}

// SetCursor updates the compose cursor position
func (v *SessionView) SetCursor(pos int) {
	v.cursor = pos
}

// SetDirectTarget updates the DM target name; empty means broadcast
func (v *SessionView) SetDirectTarget(name string) {
	v.directTarget = name
}

// SetStatus updates the delivery status line
func (v *SessionView) SetStatus(status string) {
	v.status = status
}

// Render generates the view
func (v *SessionView) Render() string {
	header := v.renderHeader()
	nodeTable := v.renderNodeTable()
	logPane := v.renderLog()
	compose := v.renderCompose()

	var statusLine string
	if v.status != "" {
		statusLine = lipgloss.NewStyle().
			Width(v.width).
			Align(lipgloss.Center).
			Foreground(secondaryColor).
			Render(v.status)
	}

	var helpText string
	if v.composing {
		helpText = "↵ Send • Tab Target • Esc Cancel"
	} else {
		helpText = fmt.Sprintf("↑↓ Select • Enter Details • c Compose • p Filter: %s • q Quit", v.filter.Label())
	}
	helpBox := v.styles.Help.Copy().
		Width(v.width-4).
		Padding(0, 1).
		Render(helpText)

	parts := []string{"\n", header, "\n", nodeTable, logPane, compose}
	if statusLine != "" {
		parts = append(parts, statusLine)
	}

	mainLayout := lipgloss.JoinVertical(lipgloss.Center, parts...)

	mainView := lipgloss.Place(
		v.width,
		v.height-3, // Reserve space for help box
		lipgloss.Center,
		lipgloss.Top,
		mainLayout,
	)

	return lipgloss.JoinVertical(
		lipgloss.Top,
		mainView,
		helpBox,
	)
}

// renderHeader shows the connected radio on one line
func (v *SessionView) renderHeader() string {
	fields := []string{
		fmt.Sprintf("%s (%s)", v.info.DisplayName(), v.info.ID),
	}
	if v.info.HwModel != "" {
		fields = append(fields, v.info.HwModel)
	}
	if v.info.Firmware != "" {
		fields = append(fields, "fw "+v.info.Firmware)
	}
	if v.info.Battery > 0 {
		fields = append(fields, fmt.Sprintf("batt %d%%", v.info.Battery))
	}

	return lipgloss.NewStyle().
		Width(v.width).
		Align(lipgloss.Center).
		Bold(true).
		Foreground(primaryColor).
		Render(strings.Join(fields, " • "))
}

// renderNodeTable draws the scrollable node table
func (v *SessionView) renderNodeTable() string {
	if len(v.nodes) == 0 {
		return v.styles.DialogText.Render("No nodes heard yet.")
	}

	// Reserve space for header, log pane, compose, status and help
	visibleRows := min(max(v.height-logLines-14, 3), len(v.nodes))

	startIdx := v.tableOffset
	endIdx := min(startIdx+visibleRows, len(v.nodes))

	var rows []table.Row
	for _, node := range v.nodes[startIdx:endIdx] {
		snr := "-"
		if node.SNR != 0 {
			snr = fmt.Sprintf("%.1fdB", node.SNR)
		}
		battery := "-"
		if node.Battery > 0 {
			battery = fmt.Sprintf("%d%%", node.Battery)
		}
		rows = append(rows, table.Row{
			truncate(node.DisplayName(), 20),
			node.ID,
			snr,
			battery,
			sinceLabel(node.LastHeard),
		})
	}

	columns := []table.Column{
		{Title: "Name", Width: 22},
		{Title: "ID", Width: 11},
		{Title: "SNR", Width: 8},
		{Title: "Battery", Width: 8},
		{Title: "Last Heard", Width: 12},
	}

	tableStyle := table.Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Align(lipgloss.Left),
		Selected: lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(lipgloss.Color("#000000")). // Black text on green background
			Bold(true).
			Align(lipgloss.Left),
		Cell: lipgloss.NewStyle().
			Foreground(secondaryColor).
			Align(lipgloss.Left),
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(!v.composing),
		table.WithHeight(visibleRows),
		table.WithStyles(tableStyle),
	)

	if len(rows) > 0 {
		cursorPos := v.selectedIndex - v.tableOffset
		if cursorPos >= 0 && cursorPos < len(rows) {
			t.SetCursor(cursorPos)
		}
	}

	v.table = t

	hasMoreAbove := v.tableOffset > 0
	hasMoreBelow := v.tableOffset+visibleRows < len(v.nodes)

	tableView := v.table.View()
	if hasMoreAbove {
		tableView = v.styles.DialogText.Foreground(primaryColor).SetString("▲").String() + "\n" + tableView
	}
	if hasMoreBelow {
		tableView = tableView + "\n" + v.styles.DialogText.Foreground(primaryColor).SetString("▼").String()
	}

	return tableView
}

// renderLog draws the packet log pane, newest entry last
func (v *SessionView) renderLog() string {
	var lines []string
	for i := len(v.packets) - 1; i >= 0 && len(lines) < logLines; i-- {
		p := v.packets[i]
		if !v.filter.Shows(p.Port) {
			continue
		}
		lines = append(lines, v.renderLogLine(p))
	}
	// Collected backwards from the tail
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	if len(lines) == 0 {
		lines = append(lines, v.styles.DescStyle.Render("Waiting for packets..."))
	}

	return v.styles.DialogBox.Copy().
		Width(min(v.width-4, 76)).
		Align(lipgloss.Left).
		Padding(0, 1).
		MarginTop(1).
		Render(strings.Join(lines, "\n"))
}

// renderLogLine formats one packet for the log pane
func (v *SessionView) renderLogLine(p radio.Packet) string {
	stamp := v.styles.DescStyle.Render(p.RxTime.Format("15:04:05"))
	name := v.styles.Info.Render(truncate(p.FromName, 16))

	var body string
	switch {
	case p.Text != "":
		if p.Broadcast() {
			body = ": " + p.Text
		} else {
			body = " (direct): " + p.Text
		}
	case p.HasPosition:
		body = fmt.Sprintf(" reported position %.5f, %.5f", p.Latitude, p.Longitude)
	case p.Port == "TELEMETRY_APP" && p.Battery > 0:
		body = fmt.Sprintf(" battery %d%% (%.2fV)", p.Battery, p.Voltage)
	case p.Port == "NODEINFO_APP":
		body = " announced itself"
	default:
		body = " sent " + p.Port
	}

	return stamp + " " + name + v.styles.DialogText.Render(truncate(body, 52))
}

// renderCompose draws the message input line
func (v *SessionView) renderCompose() string {
	target := "broadcast"
	if v.directTarget != "" {
		target = "to " + v.directTarget
	}
	targetTag := v.styles.KeyStyle.Render("[" + target + "]")

	var input string
	if v.composing {
		before := v.composeText[:v.cursor]
		after := v.composeText[v.cursor:]
		cursor := "│"
		input = v.styles.ComposeInput.Render("> ") +
			lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Render(before+cursor+after)
	} else {
		input = v.styles.DescStyle.Render("press c to write a message")
	}

	return lipgloss.NewStyle().
		Width(min(v.width-4, 76)).
		Align(lipgloss.Left).
		Render(targetTag + " " + input)
}

// Helper functions
func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

// sinceLabel humanizes how long ago a node was heard
func sinceLabel(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
