package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meshwatch/meshwatch/radio"
)

const commandHelp = `Commands:
  <text>                        broadcast a message to the mesh
  dm <name-or-!id> <text>       direct message, waits for the ack
  nodes [all|online]            show the node table
  info                          show the connected radio
  channel list                  show the channel table
  channel add <name>            create a secondary channel
  channel del <index>           disable a channel
  channel set <index-or-name>   make a channel primary
  config set owner <long> [short]
  config set pos <lat> <lon>
  config reboot
  exit
`

// handleCommand runs one console command. It returns true when the
// session should end.
func (r *Runner) handleCommand(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "exit", "quit":
		fmt.Fprintln(r.Out, "Closing the session.")
		return true
	case "help", "?":
		fmt.Fprint(r.Out, commandHelp)
	case "dm":
		r.cmdDM(ctx, fields[1:])
	case "nodes":
		r.cmdNodes(fields[1:])
	case "info":
		r.printInfo()
	case "channel":
		r.cmdChannel(fields[1:])
	case "config":
		r.cmdConfig(fields[1:])
	default:
		r.cmdBroadcast(line)
	}
	return false
}

// cmdBroadcast sends bare console input to the whole mesh.
func (r *Runner) cmdBroadcast(text string) {
	if _, err := r.Dev.SendText(radio.BroadcastAddr, 0, text, false); err != nil {
		fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Send failed: %v", err)))
		return
	}
	fmt.Fprintln(r.Out, r.st.dim.Render("Broadcast sent."))
}

// cmdDM sends a direct message and waits for the mesh to ack it.
func (r *Runner) cmdDM(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.Out, "Usage: dm <name-or-!id> <text>")
		return
	}
	node, err := r.Dev.FindNode(args[0])
	if err != nil {
		fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Cannot send: %v", err)))
		return
	}
	text := strings.Join(args[1:], " ")

	fmt.Fprintf(r.Out, "Sending to %s, waiting for acknowledgement...\n", node.DisplayName())
	ackCtx, cancel := context.WithTimeout(ctx, r.AckTimeout)
	defer cancel()

	start := time.Now()
	err = r.Dev.SendTextAndWait(ackCtx, node.Num, 0, text)
	switch {
	case err == nil:
		fmt.Fprintf(r.Out, "Delivered to %s in %s.\n", node.DisplayName(), time.Since(start).Round(time.Millisecond))
	case errors.Is(err, radio.ErrAckTimeout):
		fmt.Fprintln(r.Out, r.st.errText.Render(
			fmt.Sprintf("No acknowledgement from %s within %s.", node.DisplayName(), r.AckTimeout)))
	default:
		fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Delivery failed: %v", err)))
	}
}

// cmdNodes prints the node table, online only by default.
func (r *Runner) cmdNodes(args []string) {
	if len(args) > 0 && args[0] == "all" {
		peers := r.Dev.Peers()
		if len(peers) == 0 {
			fmt.Fprintln(r.Out, "No nodes found in the database yet.")
			return
		}
		fmt.Fprintln(r.Out, r.st.label.Render(fmt.Sprintf("All nodes (%d)", len(peers))))
		fmt.Fprint(r.Out, r.renderNodeTable(peers, time.Now()))
		return
	}
	r.printOnline()
}

func (r *Runner) cmdChannel(args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		channels := r.Dev.Channels()
		if len(channels) == 0 {
			fmt.Fprintln(r.Out, "No channels configured.")
			return
		}
		fmt.Fprintln(r.Out, r.st.label.Render("Channels"))
		fmt.Fprint(r.Out, renderChannelTable(channels))
	case "add":
		if len(args) < 2 {
			fmt.Fprintln(r.Out, "Usage: channel add <name>")
			return
		}
		ch, err := r.Dev.AddChannel(strings.Join(args[1:], " "))
		if err != nil {
			fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Channel add failed: %v", err)))
			return
		}
		fmt.Fprintf(r.Out, "Added channel %d (%s).\n", ch.Index, ch.DisplayName())
	case "del":
		if len(args) < 2 {
			fmt.Fprintln(r.Out, "Usage: channel del <index>")
			return
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintln(r.Out, "Channel index must be a number.")
			return
		}
		if err := r.Dev.DeleteChannel(int32(idx)); err != nil {
			fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Channel delete failed: %v", err)))
			return
		}
		fmt.Fprintf(r.Out, "Deleted channel %d.\n", idx)
	case "set":
		if len(args) < 2 {
			fmt.Fprintln(r.Out, "Usage: channel set <index-or-name>")
			return
		}
		ch, err := r.Dev.ResolveChannel(strings.Join(args[1:], " "))
		if err != nil {
			fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Channel set failed: %v", err)))
			return
		}
		if err := r.Dev.SetPrimaryChannel(ch.Index); err != nil {
			fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Channel set failed: %v", err)))
			return
		}
		fmt.Fprintf(r.Out, "Channel %s is now primary.\n", ch.DisplayName())
	default:
		fmt.Fprintln(r.Out, "Usage: channel list | add <name> | del <index> | set <index-or-name>")
	}
}

func (r *Runner) cmdConfig(args []string) {
	usage := func() {
		fmt.Fprintln(r.Out, "Usage: config set owner <long> [short] | config set pos <lat> <lon> | config reboot")
	}
	if len(args) == 0 {
		usage()
		return
	}
	switch args[0] {
	case "reboot":
		if err := r.Dev.Reboot(5); err != nil {
			fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Reboot failed: %v", err)))
			return
		}
		fmt.Fprintln(r.Out, "Reboot requested, the radio will restart in a few seconds.")
	case "set":
		if len(args) < 2 {
			usage()
			return
		}
		switch args[1] {
		case "owner":
			if len(args) < 3 {
				usage()
				return
			}
			long := args[2]
			short := ""
			if len(args) > 3 {
				short = args[3]
			}
			if err := r.Dev.SetOwner(long, short); err != nil {
				fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Owner update failed: %v", err)))
				return
			}
			fmt.Fprintf(r.Out, "Owner set to %s.\n", long)
		case "pos":
			if len(args) < 4 {
				usage()
				return
			}
			lat, latErr := strconv.ParseFloat(args[2], 64)
			lon, lonErr := strconv.ParseFloat(args[3], 64)
			if latErr != nil || lonErr != nil {
				fmt.Fprintln(r.Out, "Latitude and longitude must be decimal degrees.")
				return
			}
			if err := r.Dev.SetFixedPosition(lat, lon); err != nil {
				fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Position update failed: %v", err)))
				return
			}
			fmt.Fprintf(r.Out, "Fixed position set to %.5f, %.5f.\n", lat, lon)
		default:
			usage()
		}
	default:
		usage()
	}
}
