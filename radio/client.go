package radio

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"

	"github.com/meshtastic/go/meshtastic"
)

const (
	TargetSerial TargetKind = iota
	TargetTCP
	TargetBLE

	rxChanSize    = 10
	eventChanSize = 32

	configTimeout     = 30 * time.Second
	heartbeatInterval = 5 * time.Minute

	// BroadcastAddr addresses every node on the mesh.
	BroadcastAddr uint32 = 0xffffffff

	// maxMessageLen is the biggest text payload a single mesh packet
	// can carry.
	maxMessageLen = 237

	maxChannels = 8
)

type TargetKind int

// Target names the radio to connect to.
type Target struct {
	Kind TargetKind
	Addr string // serial device, host[:port], or BLE name
}

func (k TargetKind) String() string {
	switch k {
	case TargetSerial:
		return "serial"
	case TargetTCP:
		return "tcp"
	case TargetBLE:
		return "ble"
	default:
		return "unknown"
	}
}

// Client owns one connection to a radio. Connect performs the config
// handshake; after that the node table and local info are queryable
// and mesh packets arrive on Events.
type Client struct {
	transport Transport
	rx        chan []byte
	events    chan Packet
	nodes     *nodeDB

	mu          sync.RWMutex
	myNodeNum   uint32
	firmware    string
	rebootCount uint32
	channels    map[int32]*meshtastic.Channel

	configID   uint32
	configDone chan struct{}
	configOnce sync.Once

	pendingMu sync.Mutex
	pending   map[uint32]chan error

	packetID  uint32
	stopped   uint32
	lost      uint32
	closeOnce sync.Once
	loopDone  chan struct{}
}

// NewClient builds a client for the given target. Nothing is opened
// until Connect.
func NewClient(target Target) (*Client, error) {
	c := &Client{
		rx:         make(chan []byte, rxChanSize),
		events:     make(chan Packet, eventChanSize),
		nodes:      newNodeDB(),
		channels:   make(map[int32]*meshtastic.Channel),
		configDone: make(chan struct{}),
		pending:    make(map[uint32]chan error),
		loopDone:   make(chan struct{}),
		packetID:   rand.Uint32(),
	}

	switch target.Kind {
	case TargetSerial:
		c.transport = NewSerialTransport(target.Addr, c.rx)
	case TargetTCP:
		c.transport = NewTCPTransport(target.Addr, c.rx)
	case TargetBLE:
		c.transport = NewBLETransport(target.Addr, c.rx)
	default:
		return nil, errors.New("invalid transport")
	}
	return c, nil
}

// Connect opens the transport, requests the config dump and waits for
// the radio to finish it. On return the node table, channel list and
// local node info are populated.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(); err != nil {
		log.WithError(err).Error("could not connect to transport")
		return err
	}
	go c.transport.Listen()
	go c.receiveLoop()

	if err := c.requestConfig(); err != nil {
		log.WithError(err).Error("could not request device config")
		c.Close()
		return err
	}

	select {
	case <-c.configDone:
	case <-time.After(configTimeout):
		c.Close()
		return ErrConfigTimeout
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}

	go c.heartbeatLoop()
	log.WithField("node", NodeID(c.MyNodeNum())).Debug("config complete, session ready")
	return nil
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		log.Debug("closing radio connection")
		atomic.StoreUint32(&c.stopped, 1)
		c.transport.Close()
	})
}

// Err reports why the session ended. Nil after a deliberate Close,
// ErrTransportClosed when the link died underneath us.
func (c *Client) Err() error {
	if atomic.LoadUint32(&c.lost) == 1 {
		return ErrTransportClosed
	}
	return nil
}

// Events delivers decoded mesh packets in arrival order. The channel
// closes when the connection ends.
func (c *Client) Events() <-chan Packet {
	return c.events
}

// MyNodeNum is the connected radio's node number.
func (c *Client) MyNodeNum() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.myNodeNum
}

// MyInfo snapshots everything known about the connected radio.
func (c *Client) MyInfo() MyInfo {
	c.mu.RLock()
	info := MyInfo{
		NodeNum:     c.myNodeNum,
		ID:          NodeID(c.myNodeNum),
		Firmware:    c.firmware,
		RebootCount: c.rebootCount,
	}
	c.mu.RUnlock()

	for _, n := range c.nodes.snapshot() {
		if n.Num != info.NodeNum {
			continue
		}
		if n.ID != "" {
			info.ID = n.ID
		}
		info.LongName = n.LongName
		info.ShortName = n.ShortName
		info.HwModel = n.HwModel
		info.Battery = n.Battery
		info.Voltage = n.Voltage
		info.ChannelUtil = n.ChannelUtil
		info.HasPosition = n.HasPosition
		info.Latitude = n.Latitude
		info.Longitude = n.Longitude
		break
	}
	return info
}

// Nodes snapshots the node table, most recently heard first.
func (c *Client) Nodes() []Node {
	return c.nodes.snapshot()
}

// Peers is Nodes without the connected radio itself.
func (c *Client) Peers() []Node {
	self := c.MyNodeNum()
	all := c.nodes.snapshot()
	out := make([]Node, 0, len(all))
	for _, n := range all {
		if n.Num != self {
			out = append(out, n)
		}
	}
	return out
}

// FindNode matches a peer by "!id", long name or short name.
func (c *Client) FindNode(query string) (Node, error) {
	return c.nodes.find(query)
}

// Channels lists the configured channels in index order.
func (c *Client) Channels() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Channel, 0, len(c.channels))
	for i := int32(0); i < maxChannels; i++ {
		ch, ok := c.channels[i]
		if !ok {
			continue
		}
		out = append(out, channelView(ch))
	}
	return out
}

// SendText sends a text message. Returns the packet id used, which a
// later ROUTING_APP response refers to.
func (c *Client) SendText(dest uint32, channel uint32, text string, wantAck bool) (uint32, error) {
	id := c.nextPacketID()
	return id, c.sendText(id, dest, channel, text, wantAck)
}

// SendTextAndWait sends a direct message and blocks until the mesh
// acks it, delivery fails, or ctx expires.
func (c *Client) SendTextAndWait(ctx context.Context, dest uint32, channel uint32, text string) error {
	id := c.nextPacketID()
	ackCh := make(chan error, 1)

	c.pendingMu.Lock()
	c.pending[id] = ackCh
	c.pendingMu.Unlock()

	if err := c.sendText(id, dest, channel, text, true); err != nil {
		c.dropPending(id)
		return err
	}

	select {
	case err := <-ackCh:
		return err
	case <-ctx.Done():
		c.dropPending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrAckTimeout
		}
		return ctx.Err()
	}
}

func (c *Client) sendText(id, dest, channel uint32, text string, wantAck bool) error {
	if len(text) > maxMessageLen {
		return fmt.Errorf("message is %d bytes, maximum is %d", len(text), maxMessageLen)
	}
	pkt := &meshtastic.MeshPacket{
		To:      dest,
		Id:      id,
		Channel: channel,
		WantAck: wantAck,
		PayloadVariant: &meshtastic.MeshPacket_Decoded{
			Decoded: &meshtastic.Data{
				Portnum: meshtastic.PortNum_TEXT_MESSAGE_APP,
				Payload: []byte(text),
			},
		},
	}
	log.WithFields(log.Fields{"to": NodeID(dest), "packet_id": id}).Debug("sending text message")
	return c.sendToRadio(&meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_Packet{Packet: pkt},
	})
}

// requestConfig asks the radio to replay its config dump.
func (c *Client) requestConfig() error {
	c.configID = rand.Uint32()
	msg := &meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_WantConfigId{WantConfigId: c.configID},
	}
	log.WithField("config_id", c.configID).Debug("sending want_config to radio")
	return c.sendToRadio(msg)
}

// sendToRadio marshals and writes one ToRadio message.
func (c *Client) sendToRadio(msg *meshtastic.ToRadio) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("failure marshalling ToRadio proto")
		return err
	}
	return c.transport.SendToRadio(data)
}

func (c *Client) receiveLoop() {
	defer close(c.loopDone)

	for data := range c.rx {
		var msg meshtastic.FromRadio
		if err := proto.Unmarshal(data, &msg); err != nil {
			log.WithError(err).Debug("could not unmarshal FromRadio frame")
			continue
		}

		switch v := msg.GetPayloadVariant().(type) {
		case *meshtastic.FromRadio_MyInfo:
			log.WithField("node_num", v.MyInfo.GetMyNodeNum()).Debug("got my node info")
			c.mu.Lock()
			c.myNodeNum = v.MyInfo.GetMyNodeNum()
			c.rebootCount = v.MyInfo.GetRebootCount()
			c.mu.Unlock()
		case *meshtastic.FromRadio_Metadata:
			c.mu.Lock()
			c.firmware = v.Metadata.GetFirmwareVersion()
			c.mu.Unlock()
		case *meshtastic.FromRadio_NodeInfo:
			log.WithField("node_num", v.NodeInfo.GetNum()).Debug("got node info")
			c.nodes.applyNodeInfo(v.NodeInfo)
		case *meshtastic.FromRadio_Channel:
			c.applyChannel(v.Channel)
		case *meshtastic.FromRadio_Config:
			log.Debug("got device config section")
		case *meshtastic.FromRadio_ModuleConfig:
			log.Debug("got module config section")
		case *meshtastic.FromRadio_ConfigCompleteId:
			log.WithField("config_id", v.ConfigCompleteId).Debug("got config complete")
			if v.ConfigCompleteId == c.configID {
				c.configOnce.Do(func() { close(c.configDone) })
			}
		case *meshtastic.FromRadio_Packet:
			c.handlePacket(v.Packet)
		default:
			log.WithField("from_radio", msg.GetPayloadVariant()).Debug("ignoring message type")
		}
	}

	// rx closed underneath us: deliberate Close, or the link died.
	if atomic.LoadUint32(&c.stopped) == 0 {
		atomic.StoreUint32(&c.lost, 1)
		log.Warn("transport closed unexpectedly")
	}
	c.failPending(ErrTransportClosed)
	close(c.events)
}

func (c *Client) handlePacket(mp *meshtastic.MeshPacket) {
	rxTime := time.Now()
	if t := mp.GetRxTime(); t != 0 {
		rxTime = time.Unix(int64(t), 0)
	}
	c.nodes.touch(mp.GetFrom(), mp.GetRxSnr(), rxTime)

	decoded := mp.GetDecoded()
	if decoded == nil {
		log.WithField("from", NodeID(mp.GetFrom())).Debug("ignoring encrypted packet")
		return
	}

	pkt := Packet{
		From:       mp.GetFrom(),
		To:         mp.GetTo(),
		FromID:     NodeID(mp.GetFrom()),
		Port:       decoded.GetPortnum().String(),
		SNR:        mp.GetRxSnr(),
		RSSI:       mp.GetRxRssi(),
		RxTime:     rxTime,
		ChannelIdx: mp.GetChannel(),
		WantAck:    mp.GetWantAck(),
	}

	switch decoded.GetPortnum() {
	case meshtastic.PortNum_TEXT_MESSAGE_APP:
		pkt.Text = string(decoded.GetPayload())
	case meshtastic.PortNum_POSITION_APP:
		var pos meshtastic.Position
		if err := proto.Unmarshal(decoded.GetPayload(), &pos); err != nil {
			log.WithError(err).Debug("bad position payload")
			break
		}
		c.nodes.applyPosition(mp.GetFrom(), &pos)
		if pos.GetLatitudeI() != 0 || pos.GetLongitudeI() != 0 {
			pkt.HasPosition = true
			pkt.Latitude = float64(pos.GetLatitudeI()) * 1e-7
			pkt.Longitude = float64(pos.GetLongitudeI()) * 1e-7
		}
	case meshtastic.PortNum_NODEINFO_APP:
		var user meshtastic.User
		if err := proto.Unmarshal(decoded.GetPayload(), &user); err != nil {
			log.WithError(err).Debug("bad nodeinfo payload")
			break
		}
		c.nodes.applyUser(mp.GetFrom(), &user)
	case meshtastic.PortNum_TELEMETRY_APP:
		var tel meshtastic.Telemetry
		if err := proto.Unmarshal(decoded.GetPayload(), &tel); err != nil {
			log.WithError(err).Debug("bad telemetry payload")
			break
		}
		if dm := tel.GetDeviceMetrics(); dm != nil {
			c.nodes.applyTelemetry(mp.GetFrom(), dm)
			pkt.Battery = dm.GetBatteryLevel()
			pkt.Voltage = dm.GetVoltage()
		}
	case meshtastic.PortNum_ROUTING_APP:
		c.resolveAck(decoded)
	}

	pkt.FromName = c.nodes.displayName(mp.GetFrom())
	select {
	case c.events <- pkt:
	default:
		log.WithField("from", pkt.FromID).Warn("event channel full, dropping packet")
	}
}

// resolveAck matches a ROUTING_APP response to a pending send.
func (c *Client) resolveAck(decoded *meshtastic.Data) {
	reqID := decoded.GetRequestId()
	if reqID == 0 {
		return
	}
	var routing meshtastic.Routing
	if err := proto.Unmarshal(decoded.GetPayload(), &routing); err != nil {
		log.WithError(err).Debug("bad routing payload")
		return
	}

	var result error
	if reason := routing.GetErrorReason(); reason != meshtastic.Routing_NONE {
		result = fmt.Errorf("delivery failed: %s", reason.String())
	}

	c.pendingMu.Lock()
	ackCh, ok := c.pending[reqID]
	if ok {
		delete(c.pending, reqID)
	}
	c.pendingMu.Unlock()

	if ok {
		log.WithField("packet_id", reqID).Debug("resolved pending ack")
		ackCh <- result
	}
}

func (c *Client) dropPending(id uint32) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// failPending resolves every outstanding ack wait with err.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ackCh := range c.pending {
		delete(c.pending, id)
		ackCh <- err
	}
}

func (c *Client) applyChannel(ch *meshtastic.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch.GetRole() == meshtastic.Channel_DISABLED {
		delete(c.channels, ch.GetIndex())
		return
	}
	c.channels[ch.GetIndex()] = ch
}

func channelView(ch *meshtastic.Channel) Channel {
	view := Channel{Index: ch.GetIndex(), Role: ch.GetRole().String()}
	if s := ch.GetSettings(); s != nil {
		view.Name = s.GetName()
		view.HasPSK = len(s.GetPsk()) > 0
	}
	return view
}

// heartbeatLoop keeps network links alive; the firmware drops idle
// API connections.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			msg := &meshtastic.ToRadio{
				PayloadVariant: &meshtastic.ToRadio_Heartbeat{Heartbeat: &meshtastic.Heartbeat{}},
			}
			if err := c.sendToRadio(msg); err != nil {
				log.WithError(err).Debug("heartbeat failed")
				return
			}
		case <-c.loopDone:
			return
		}
	}
}

func (c *Client) nextPacketID() uint32 {
	for {
		id := atomic.AddUint32(&c.packetID, 1)
		if id != 0 {
			return id
		}
	}
}
