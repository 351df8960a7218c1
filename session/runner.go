package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/meshwatch/meshwatch/radio"
)

const (
	// DefaultRefreshInterval is how often the online node list is
	// reprinted during a long session.
	DefaultRefreshInterval = 15 * time.Minute

	// DefaultAckTimeout bounds the wait for a direct message
	// acknowledgement.
	DefaultAckTimeout = 15 * time.Second
)

// Device is the slice of the radio client the console session needs.
type Device interface {
	Connect(ctx context.Context) error
	Close()
	Err() error
	Events() <-chan radio.Packet

	MyInfo() radio.MyInfo
	Peers() []radio.Node
	FindNode(query string) (radio.Node, error)
	Channels() []radio.Channel

	SendText(dest uint32, channel uint32, text string, wantAck bool) (uint32, error)
	SendTextAndWait(ctx context.Context, dest uint32, channel uint32, text string) error

	SetOwner(longName, shortName string) error
	SetFixedPosition(lat, lon float64) error
	Reboot(seconds int32) error
	AddChannel(name string) (radio.Channel, error)
	DeleteChannel(index int32) error
	SetPrimaryChannel(index int32) error
	ResolveChannel(query string) (radio.Channel, error)
}

// Runner drives one console session: connect, print the node snapshot,
// then stream packets and commands until the context is cancelled.
type Runner struct {
	Dev Device
	Out io.Writer
	In  io.Reader // nil disables the command loop

	RefreshInterval time.Duration
	AckTimeout      time.Duration

	st *styles
}

// NewRunner builds a runner with console defaults. Callers override
// In/Out and the intervals directly.
func NewRunner(dev Device) *Runner {
	return &Runner{
		Dev:             dev,
		Out:             os.Stdout,
		RefreshInterval: DefaultRefreshInterval,
		AckTimeout:      DefaultAckTimeout,
		st:              defaultStyles(),
	}
}

// Run owns the device for its whole lifetime. It connects, prints the
// local node and peer snapshot, then blocks printing one line per
// incoming packet until the context is cancelled, the user exits, or
// the link dies. The device is released on every exit path.
func (r *Runner) Run(ctx context.Context) error {
	defer r.Dev.Close()

	if err := r.Dev.Connect(ctx); err != nil {
		fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Could not connect to a radio: %v", err)))
		return err
	}

	r.printSnapshot()

	var cmds <-chan string
	if r.In != nil {
		cmds = readLines(r.In)
	}

	refresh := time.NewTicker(r.RefreshInterval)
	defer refresh.Stop()

	events := r.Dev.Events()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.Out, "Interrupt received, closing the session.")
			return nil

		case pkt, ok := <-events:
			if !ok {
				if err := r.Dev.Err(); err != nil {
					fmt.Fprintln(r.Out, r.st.errText.Render(fmt.Sprintf("Connection to the radio was lost: %v", err)))
					return err
				}
				return nil
			}
			fmt.Fprintln(r.Out, r.renderPacket(pkt))

		case line, ok := <-cmds:
			if !ok {
				log.Debug("command input closed, streaming only")
				cmds = nil
				continue
			}
			if r.handleCommand(ctx, line) {
				return nil
			}

		case <-refresh.C:
			r.printOnline()
		}
	}
}

// readLines feeds console input into a channel so the stream loop can
// select over packets and commands at once.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// printSnapshot prints the local node header and the peer table, once,
// before streaming starts.
func (r *Runner) printSnapshot() {
	r.printInfo()

	peers := r.Dev.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(r.Out, "No nodes found in the database yet.")
	} else {
		fmt.Fprintln(r.Out, r.st.label.Render(fmt.Sprintf("Peers (%d, most recent first)", len(peers))))
		fmt.Fprint(r.Out, r.renderNodeTable(peers, time.Now()))
	}
	fmt.Fprintln(r.Out, r.st.dim.Render("Streaming packets, Ctrl+C to exit. Type 'help' for commands."))
}

// printOnline prints the nodes heard within the online window.
func (r *Runner) printOnline() {
	now := time.Now()
	var online []radio.Node
	for _, n := range r.Dev.Peers() {
		if n.Online(now) {
			online = append(online, n)
		}
	}
	if len(online) == 0 {
		fmt.Fprintln(r.Out, "No nodes appear to be online.")
		return
	}
	fmt.Fprintln(r.Out, r.st.label.Render(fmt.Sprintf("Online nodes (%d)", len(online))))
	fmt.Fprint(r.Out, r.renderNodeTable(online, now))
}

// printInfo prints everything known about the connected radio.
func (r *Runner) printInfo() {
	info := r.Dev.MyInfo()
	fmt.Fprintln(r.Out, r.st.header.Render(fmt.Sprintf(" %s ", info.DisplayName())))

	rows := []struct{ label, value string }{
		{"Node", info.ID},
		{"Short name", info.ShortName},
		{"Hardware", info.HwModel},
		{"Firmware", info.Firmware},
	}
	if info.Battery != 0 {
		rows = append(rows, struct{ label, value string }{
			"Battery", fmt.Sprintf("%d%% (%.2fV)", info.Battery, info.Voltage),
		})
	}
	if info.HasPosition {
		rows = append(rows, struct{ label, value string }{
			"Position", fmt.Sprintf("%.5f, %.5f", info.Latitude, info.Longitude),
		})
	}
	if info.RebootCount != 0 {
		rows = append(rows, struct{ label, value string }{
			"Reboots", fmt.Sprintf("%d", info.RebootCount),
		})
	}
	for _, row := range rows {
		if row.value == "" {
			continue
		}
		fmt.Fprintf(r.Out, "%s %s\n", r.st.label.Render(fmt.Sprintf("%-11s", row.label)), row.value)
	}
}
