package radio

import "time"

// Packet is one decoded mesh event, flattened for display.
type Packet struct {
	From     uint32
	To       uint32
	FromID   string
	FromName string
	Port     string

	Text string

	HasPosition bool
	Latitude    float64
	Longitude   float64

	Battery uint32
	Voltage float32

	SNR        float32
	RSSI       int32
	RxTime     time.Time
	ChannelIdx uint32
	WantAck    bool
}

// Broadcast reports whether the packet was addressed to the whole mesh.
func (p Packet) Broadcast() bool {
	return p.To == BroadcastAddr
}

// MyInfo describes the radio this client is connected to.
type MyInfo struct {
	NodeNum     uint32
	ID          string
	LongName    string
	ShortName   string
	HwModel     string
	Firmware    string
	RebootCount uint32

	Battery     uint32
	Voltage     float32
	ChannelUtil float32

	HasPosition bool
	Latitude    float64
	Longitude   float64
}

// DisplayName is the owner's long name, or the node ID before the
// radio has told us one.
func (mi MyInfo) DisplayName() string {
	if mi.LongName != "" {
		return mi.LongName
	}
	return mi.ID
}

// Channel is one entry of the radio's channel table.
type Channel struct {
	Index  int32
	Name   string
	Role   string
	HasPSK bool
}

// DisplayName is the channel name, or the conventional default for an
// unnamed primary channel.
func (ch Channel) DisplayName() string {
	if ch.Name != "" {
		return ch.Name
	}
	if ch.Index == 0 {
		return "LongFast"
	}
	return "(unnamed)"
}
