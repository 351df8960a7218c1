package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/meshwatch/meshwatch/radio"
)

// NodeDetailsView handles the node details screen
type NodeDetailsView struct {
	styles *Styles
	width  int
	height int
	node   radio.Node
}

// NewNodeDetailsView creates a new node details view
func NewNodeDetailsView(styles *Styles) *NodeDetailsView {
	return &NodeDetailsView{
		styles: styles,
	}
}

// SetDimensions updates the view dimensions
func (v *NodeDetailsView) SetDimensions(width, height int) {
	v.width = width
	v.height = height
}

// SetNode updates the node being displayed
func (v *NodeDetailsView) SetNode(node radio.Node) {
	v.node = node
}

// Render generates the view
func (v *NodeDetailsView) Render() string {
	var content strings.Builder

	headerStyle := v.styles.DialogText.Copy().
		Bold(true).
		Align(lipgloss.Center).
		Foreground(lipgloss.Color("#00ff00"))

	labelStyle := v.styles.DialogText.Copy().
		Width(12).
		Align(lipgloss.Right).
		Foreground(lipgloss.Color("#00ff00"))

	valueStyle := v.styles.DialogText.Copy().
		Width(30).
		Align(lipgloss.Left).
		Foreground(lipgloss.Color("#FFFFFF"))

	row := func(label, value string) {
		content.WriteString(lipgloss.JoinHorizontal(
			lipgloss.Right,
			labelStyle.Render(label),
			valueStyle.Render(value),
		))
		content.WriteString("\n")
	}

	// Node Information section
	content.WriteString(headerStyle.Render("Node Information"))
	content.WriteString("\n\n")

	row("Name", v.node.DisplayName())
	if v.node.ShortName != "" {
		row("Short Name", v.node.ShortName)
	}
	row("ID", v.node.ID)
	hardware := "Unknown"
	if v.node.HwModel != "" {
		hardware = v.node.HwModel
	}
	row("Hardware", hardware)

	// Radio Status section
	content.WriteString("\n")
	content.WriteString(headerStyle.Render("Radio Status"))
	content.WriteString("\n\n")

	if v.node.SNR != 0 {
		row("SNR", fmt.Sprintf("%.1f dB", v.node.SNR))
	}
	if v.node.Battery > 0 {
		row("Battery", fmt.Sprintf("%d%%", v.node.Battery))
	}
	if v.node.Voltage > 0 {
		row("Voltage", fmt.Sprintf("%.2f V", v.node.Voltage))
	}
	if v.node.ChannelUtil > 0 {
		row("Ch. Util", fmt.Sprintf("%.1f%%", v.node.ChannelUtil))
	}
	row("Last Heard", sinceLabel(v.node.LastHeard))

	// Position section
	if v.node.HasPosition {
		content.WriteString("\n")
		content.WriteString(headerStyle.Render("Position"))
		content.WriteString("\n\n")

		row("Latitude", fmt.Sprintf("%.6f", v.node.Latitude))
		row("Longitude", fmt.Sprintf("%.6f", v.node.Longitude))
		if v.node.Altitude != 0 {
			row("Altitude", fmt.Sprintf("%d m", v.node.Altitude))
		}
	}

	// Help text in a box
	helpBox := v.styles.Box.Copy().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#00ff00")).
		Width(40).
		Align(lipgloss.Center).
		Margin(1, 0).
		Padding(1, 2).
		Render("Esc to go back")

	finalContent := lipgloss.JoinVertical(
		lipgloss.Center,
		v.styles.DialogBox.Render(content.String()),
		helpBox,
	)

	return lipgloss.Place(
		v.width,
		v.height,
		lipgloss.Center,
		lipgloss.Center,
		finalContent,
	)
}
