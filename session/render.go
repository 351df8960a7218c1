package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/meshwatch/meshwatch/radio"
)

// Console colors
var (
	greenColor = lipgloss.Color("#39ff14") // Bright digital green
	whiteColor = lipgloss.Color("#FFFFFF") // Pure white for labels
	grayColor  = lipgloss.Color("#777777") // Dim detail
	redColor   = lipgloss.Color("#ff5f5f") // Errors
)

// styles holds the console session styles
type styles struct {
	header  lipgloss.Style
	label   lipgloss.Style
	name    lipgloss.Style
	dim     lipgloss.Style
	errText lipgloss.Style
}

func defaultStyles() *styles {
	s := &styles{}

	s.header = lipgloss.NewStyle().
		Bold(true).
		Foreground(greenColor).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(greenColor)

	s.label = lipgloss.NewStyle().
		Bold(true).
		Foreground(whiteColor)

	s.name = lipgloss.NewStyle().
		Foreground(greenColor)

	s.dim = lipgloss.NewStyle().
		Foreground(grayColor)

	s.errText = lipgloss.NewStyle().
		Foreground(redColor)

	return s
}

// renderPacket formats one mesh event as a single console line.
func (r *Runner) renderPacket(p radio.Packet) string {
	ts := r.st.dim.Render(p.RxTime.Format("15:04:05"))
	who := p.FromName
	if who == "" {
		who = p.FromID
	}
	head := fmt.Sprintf("%s %s", ts, r.st.name.Render(who))

	switch {
	case p.Port == "TEXT_MESSAGE_APP":
		if p.Broadcast() {
			return fmt.Sprintf("%s: %s", head, p.Text)
		}
		return fmt.Sprintf("%s %s: %s", head, r.st.dim.Render("(direct)"), p.Text)
	case p.HasPosition:
		return fmt.Sprintf("%s reported position %.5f, %.5f", head, p.Latitude, p.Longitude)
	case p.Port == "TELEMETRY_APP" && p.Battery != 0:
		return fmt.Sprintf("%s battery %d%% (%.2fV)", head, p.Battery, p.Voltage)
	case p.Port == "NODEINFO_APP":
		return fmt.Sprintf("%s announced itself (%s)", head, p.FromID)
	default:
		return fmt.Sprintf("%s sent %s (snr %.1f dB)", head, p.Port, p.SNR)
	}
}

// renderNodeTable formats nodes as fixed-width console rows.
func (r *Runner) renderNodeTable(nodes []radio.Node, now time.Time) string {
	var b strings.Builder
	b.WriteString(r.st.dim.Render(fmt.Sprintf("  %-20s %-11s %-8s %-13s %s",
		"NAME", "ID", "SNR", "LAST HEARD", "BATTERY")))
	b.WriteString("\n")

	for _, n := range nodes {
		snr := "-"
		if n.SNR != 0 {
			snr = fmt.Sprintf("%.1fdB", n.SNR)
		}
		battery := "-"
		if n.Battery != 0 {
			battery = fmt.Sprintf("%d%%", n.Battery)
		}
		b.WriteString(fmt.Sprintf("  %s %-11s %-8s %-13s %s\n",
			r.st.name.Render(fmt.Sprintf("%-20s", clip(n.DisplayName(), 20))),
			n.ID, snr, ago(now, n.LastHeard), battery))
	}
	return b.String()
}

// renderChannelTable formats the channel table as console rows.
func renderChannelTable(channels []radio.Channel) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %-5s %-16s %-10s %s\n", "IDX", "NAME", "ROLE", "PSK"))
	for _, ch := range channels {
		psk := "-"
		if ch.HasPSK {
			psk = "yes"
		}
		b.WriteString(fmt.Sprintf("  %-5d %-16s %-10s %s\n",
			ch.Index, clip(ch.DisplayName(), 16), ch.Role, psk))
	}
	return b.String()
}

// ago renders how long ago a node was heard.
func ago(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
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

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
