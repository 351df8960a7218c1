package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/onsi/gomega/gbytes"

	"github.com/meshwatch/meshwatch/radio"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type sentText struct {
	dest    uint32
	channel uint32
	text    string
	wantAck bool
}

// fakeRadio substitutes the radio client behind the Device interface.
type fakeRadio struct {
	mu         sync.Mutex
	connectErr error
	closeCount int
	closeOnce  sync.Once
	events     chan radio.Packet
	lossErr    error

	info     radio.MyInfo
	peers    []radio.Node
	channels []radio.Channel

	sent    []sentText
	sendErr error
	ackErr  error

	ownerLong  string
	ownerShort string
	fixedLat   float64
	fixedLon   float64
	reboots    int
	added      []string
	deleted    []int32
	promoted   []int32
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{events: make(chan radio.Packet, 8)}
}

func (f *fakeRadio) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeRadio) Close() {
	f.mu.Lock()
	f.closeCount++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
}

// fail simulates the link dying underneath the session.
func (f *fakeRadio) fail(err error) {
	f.mu.Lock()
	f.lossErr = err
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
}

func (f *fakeRadio) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lossErr
}

func (f *fakeRadio) Events() <-chan radio.Packet { return f.events }
func (f *fakeRadio) MyInfo() radio.MyInfo        { return f.info }
func (f *fakeRadio) Peers() []radio.Node         { return f.peers }
func (f *fakeRadio) Channels() []radio.Channel   { return f.channels }

func (f *fakeRadio) FindNode(query string) (radio.Node, error) {
	for _, n := range f.peers {
		if n.ID == query || strings.EqualFold(n.LongName, query) || strings.EqualFold(n.ShortName, query) {
			return n, nil
		}
	}
	return radio.Node{}, radio.ErrNodeNotFound
}

func (f *fakeRadio) SendText(dest, channel uint32, text string, wantAck bool) (uint32, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentText{dest, channel, text, wantAck})
	f.mu.Unlock()
	return 42, nil
}

func (f *fakeRadio) SendTextAndWait(ctx context.Context, dest, channel uint32, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentText{dest, channel, text, true})
	f.mu.Unlock()
	return f.ackErr
}

func (f *fakeRadio) sentMessages() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

func (f *fakeRadio) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

func (f *fakeRadio) SetOwner(longName, shortName string) error {
	f.ownerLong, f.ownerShort = longName, shortName
	return nil
}

func (f *fakeRadio) SetFixedPosition(lat, lon float64) error {
	f.fixedLat, f.fixedLon = lat, lon
	return nil
}

func (f *fakeRadio) Reboot(seconds int32) error {
	f.reboots++
	return nil
}

func (f *fakeRadio) AddChannel(name string) (radio.Channel, error) {
	f.added = append(f.added, name)
	return radio.Channel{Index: 1, Name: name, Role: "SECONDARY", HasPSK: true}, nil
}

func (f *fakeRadio) DeleteChannel(index int32) error {
	f.deleted = append(f.deleted, index)
	return nil
}

func (f *fakeRadio) SetPrimaryChannel(index int32) error {
	f.promoted = append(f.promoted, index)
	return nil
}

func (f *fakeRadio) ResolveChannel(query string) (radio.Channel, error) {
	for _, ch := range f.channels {
		if strings.EqualFold(ch.Name, query) {
			return ch, nil
		}
	}
	return radio.Channel{}, radio.ErrInvalidChannel
}

var _ = Describe("Runner", func() {
	var fake *fakeRadio
	var buf *gbytes.Buffer
	var runner *Runner
	now := time.Now()

	BeforeEach(func() {
		fake = newFakeRadio()
		fake.info = radio.MyInfo{
			NodeNum:  0xa,
			ID:       "!0000000a",
			LongName: "Base-1",
			HwModel:  "TBEAM",
			Firmware: "2.1.22.abcdef",
		}
		buf = gbytes.NewBuffer()
		runner = NewRunner(fake)
		runner.Out = buf
	})

	start := func(ctx context.Context) chan error {
		done := make(chan error, 1)
		go func() { done <- runner.Run(ctx) }()
		return done
	}

	Context("Run", func() {
		It("should print the snapshot then stream packets in arrival order", func() {
			fake.peers = []radio.Node{
				{Num: 0xb, ID: "!0000000b", LongName: "Node-A", LastHeard: now},
				{Num: 0xc, ID: "!0000000c", LongName: "Node-B", LastHeard: now.Add(-time.Minute)},
			}
			ctx, cancel := context.WithCancel(context.Background())
			done := start(ctx)

			Eventually(buf).Should(gbytes.Say("Base-1"))
			Eventually(buf).Should(gbytes.Say("Node-A"))
			Eventually(buf).Should(gbytes.Say("Node-B"))
			Eventually(buf).Should(gbytes.Say("Streaming packets"))

			fake.events <- radio.Packet{
				From: 0xb, To: radio.BroadcastAddr, FromID: "!0000000b", FromName: "Node-A",
				Port: "TEXT_MESSAGE_APP", Text: "hello", RxTime: now,
			}
			fake.events <- radio.Packet{
				From: 0xc, To: radio.BroadcastAddr, FromID: "!0000000c", FromName: "Node-B",
				Port: "TEXT_MESSAGE_APP", Text: "hi", RxTime: now,
			}

			Eventually(buf).Should(gbytes.Say(`Node-A.*: hello\n`))
			Eventually(buf).Should(gbytes.Say(`Node-B.*: hi\n`))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
			Expect(fake.closes()).Should(Equal(1))
		})
		It("should say so when no peers are known", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := start(ctx)

			Eventually(buf).Should(gbytes.Say("Base-1"))
			Eventually(buf).Should(gbytes.Say("No nodes found in the database yet."))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
		It("should report a failed connect and print no node output", func() {
			fake.connectErr = errors.New("no meshtastic device found")

			err := runner.Run(context.Background())
			Expect(err).Should(HaveOccurred())
			Expect(buf).Should(gbytes.Say("Could not connect to a radio"))
			Expect(string(buf.Contents())).ShouldNot(ContainSubstring("LAST HEARD"))
			Expect(string(buf.Contents())).ShouldNot(ContainSubstring("Streaming"))
			Expect(fake.closes()).Should(Equal(1))
		})
		It("should surface a lost transport", func() {
			done := start(context.Background())
			Eventually(buf).Should(gbytes.Say("Streaming packets"))

			fake.fail(radio.ErrTransportClosed)

			Eventually(done).Should(Receive(MatchError(radio.ErrTransportClosed)))
			Eventually(buf).Should(gbytes.Say("Connection to the radio was lost"))
			Expect(fake.closes()).Should(Equal(1))
		})
		It("should exit cleanly on the exit command", func() {
			runner.In = strings.NewReader("exit\n")
			done := start(context.Background())

			Eventually(done).Should(Receive(BeNil()))
			Expect(buf).Should(gbytes.Say("Closing the session."))
			Expect(fake.closes()).Should(Equal(1))
		})
		It("should broadcast bare console input", func() {
			runner.In = strings.NewReader("hello everyone\n")
			ctx, cancel := context.WithCancel(context.Background())
			done := start(ctx)

			Eventually(fake.sentMessages).Should(HaveLen(1))
			sent := fake.sentMessages()[0]
			Expect(sent.dest).Should(Equal(radio.BroadcastAddr))
			Expect(sent.text).Should(Equal("hello everyone"))
			Expect(sent.wantAck).Should(BeFalse())
			Eventually(buf).Should(gbytes.Say("Broadcast sent."))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
		It("should reprint online nodes periodically", func() {
			fake.peers = []radio.Node{{Num: 0xb, LongName: "Node-A", LastHeard: time.Now()}}
			runner.RefreshInterval = 40 * time.Millisecond
			ctx, cancel := context.WithCancel(context.Background())
			done := start(ctx)

			Eventually(buf).Should(gbytes.Say("Online nodes"))
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	Context("commands", func() {
		ctx := context.Background()

		It("should report an unknown dm target", func() {
			runner.handleCommand(ctx, "dm ghost hi there")
			Expect(buf).Should(gbytes.Say("Cannot send"))
			Expect(fake.sentMessages()).Should(BeEmpty())
		})
		It("should send a dm and report delivery", func() {
			fake.peers = []radio.Node{{Num: 0xb, ID: "!0000000b", LongName: "Node-A", LastHeard: now}}
			runner.handleCommand(ctx, "dm Node-A hello there")

			sent := fake.sentMessages()
			Expect(sent).Should(HaveLen(1))
			Expect(sent[0].dest).Should(Equal(uint32(0xb)))
			Expect(sent[0].text).Should(Equal("hello there"))
			Expect(buf).Should(gbytes.Say("Delivered to Node-A"))
		})
		It("should report a dm ack timeout", func() {
			fake.peers = []radio.Node{{Num: 0xb, LongName: "Node-A", LastHeard: now}}
			fake.ackErr = radio.ErrAckTimeout
			runner.handleCommand(ctx, "dm Node-A hello")
			Expect(buf).Should(gbytes.Say("No acknowledgement from Node-A"))
		})
		It("should filter the node table to online nodes by default", func() {
			fake.peers = []radio.Node{
				{Num: 0xb, LongName: "Fresh-Node", LastHeard: time.Now()},
				{Num: 0xc, LongName: "Stale-Node", LastHeard: time.Now().Add(-2 * time.Hour)},
			}
			runner.handleCommand(ctx, "nodes")

			out := string(buf.Contents())
			Expect(out).Should(ContainSubstring("Fresh-Node"))
			Expect(out).ShouldNot(ContainSubstring("Stale-Node"))

			runner.handleCommand(ctx, "nodes all")
			Expect(string(buf.Contents())).Should(ContainSubstring("Stale-Node"))
		})
		It("should print device info", func() {
			runner.handleCommand(ctx, "info")
			Expect(buf).Should(gbytes.Say("2.1.22.abcdef"))
		})
		It("should drive the channel commands", func() {
			fake.channels = []radio.Channel{
				{Index: 0, Name: "", Role: "PRIMARY", HasPSK: true},
				{Index: 1, Name: "rescue", Role: "SECONDARY", HasPSK: true},
			}

			runner.handleCommand(ctx, "channel list")
			Expect(buf).Should(gbytes.Say("LongFast"))
			Expect(buf).Should(gbytes.Say("rescue"))

			runner.handleCommand(ctx, "channel add logistics")
			Expect(fake.added).Should(ConsistOf("logistics"))
			Expect(buf).Should(gbytes.Say("Added channel"))

			runner.handleCommand(ctx, "channel del 2")
			Expect(fake.deleted).Should(ConsistOf(int32(2)))

			runner.handleCommand(ctx, "channel set rescue")
			Expect(fake.promoted).Should(ConsistOf(int32(1)))
			Expect(buf).Should(gbytes.Say("rescue is now primary"))
		})
		It("should drive the config commands", func() {
			runner.handleCommand(ctx, "config set owner Basecamp BC1")
			Expect(fake.ownerLong).Should(Equal("Basecamp"))
			Expect(fake.ownerShort).Should(Equal("BC1"))

			runner.handleCommand(ctx, "config set pos 37.44593 -122.14191")
			Expect(fake.fixedLat).Should(BeNumerically("~", 37.44593, 1e-9))
			Expect(fake.fixedLon).Should(BeNumerically("~", -122.14191, 1e-9))

			runner.handleCommand(ctx, "config set pos north west")
			Expect(buf).Should(gbytes.Say("must be decimal degrees"))

			runner.handleCommand(ctx, "config reboot")
			Expect(fake.reboots).Should(Equal(1))
		})
		It("should print help", func() {
			runner.handleCommand(ctx, "help")
			Expect(buf).Should(gbytes.Say("Commands:"))
		})
		It("should end the session on exit", func() {
			Expect(runner.handleCommand(ctx, "exit")).Should(BeTrue())
			Expect(runner.handleCommand(ctx, "nodes")).Should(BeFalse())
		})
	})

	Context("rendering", func() {
		It("should humanize last-heard times", func() {
			Expect(ago(now, time.Time{})).Should(Equal("never"))
			Expect(ago(now, now.Add(-30*time.Second))).Should(Equal("just now"))
			Expect(ago(now, now.Add(-5*time.Minute))).Should(Equal("5m ago"))
			Expect(ago(now, now.Add(-3*time.Hour))).Should(Equal("3h ago"))
			Expect(ago(now, now.Add(-50*time.Hour))).Should(Equal("2d ago"))
		})
		It("should clip long names", func() {
			Expect(clip("short", 10)).Should(Equal("short"))
			Expect(clip("a very long node name", 10)).Should(Equal("a very ..."))
		})
		It("should render telemetry and position packets on one line", func() {
			pos := runner.renderPacket(radio.Packet{
				FromName: "Node-A", Port: "POSITION_APP",
				HasPosition: true, Latitude: 37.44593, Longitude: -122.14191, RxTime: now,
			})
			Expect(pos).Should(ContainSubstring("reported position 37.44593, -122.14191"))
			Expect(strings.Count(pos, "\n")).Should(BeZero())

			tel := runner.renderPacket(radio.Packet{
				FromName: "Node-A", Port: "TELEMETRY_APP",
				Battery: 87, Voltage: 4.02, RxTime: now,
			})
			Expect(tel).Should(ContainSubstring("battery 87% (4.02V)"))
			Expect(strings.Count(tel, "\n")).Should(BeZero())
		})
	})
})
