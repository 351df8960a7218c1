package radio

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meshtastic/go/meshtastic"
)

// OnlineWindow is how recently a node must have been heard to count
// as online.
const OnlineWindow = 30 * time.Minute

// Node is the last-known state of a mesh node.
type Node struct {
	Num         uint32
	ID          string
	LongName    string
	ShortName   string
	HwModel     string
	SNR         float32
	LastHeard   time.Time
	HasPosition bool
	Latitude    float64
	Longitude   float64
	Altitude    int32
	Battery     uint32
	Voltage     float32
	ChannelUtil float32
}

// NodeID formats a node number the way the mesh names nodes.
func NodeID(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// DisplayName is the friendliest name we have for the node.
func (n Node) DisplayName() string {
	if n.LongName != "" {
		return n.LongName
	}
	if n.ID != "" {
		return n.ID
	}
	return NodeID(n.Num)
}

// Online reports whether the node was heard within the online window.
func (n Node) Online(now time.Time) bool {
	if n.LastHeard.IsZero() {
		return false
	}
	return now.Sub(n.LastHeard) <= OnlineWindow
}

// nodeDB caches every node the radio tells us about. Updated from the
// config dump and from NODEINFO/POSITION/TELEMETRY packets.
type nodeDB struct {
	mu    sync.RWMutex
	nodes map[uint32]*Node
}

func newNodeDB() *nodeDB {
	return &nodeDB{nodes: make(map[uint32]*Node)}
}

func (db *nodeDB) get(num uint32) *Node {
	n, ok := db.nodes[num]
	if !ok {
		n = &Node{Num: num, ID: NodeID(num)}
		db.nodes[num] = n
	}
	return n
}

// applyNodeInfo merges a NodeInfo from the config dump.
func (db *nodeDB) applyNodeInfo(ni *meshtastic.NodeInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()

	n := db.get(ni.GetNum())
	if u := ni.GetUser(); u != nil {
		applyUser(n, u)
	}
	if p := ni.GetPosition(); p != nil {
		applyPosition(n, p)
	}
	if dm := ni.GetDeviceMetrics(); dm != nil {
		applyDeviceMetrics(n, dm)
	}
	if ni.GetSnr() != 0 {
		n.SNR = ni.GetSnr()
	}
	if lh := ni.GetLastHeard(); lh != 0 {
		n.LastHeard = time.Unix(int64(lh), 0)
	}
}

// applyUser merges a NODEINFO_APP broadcast.
func (db *nodeDB) applyUser(num uint32, u *meshtastic.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	applyUser(db.get(num), u)
}

// applyPosition merges a POSITION_APP broadcast.
func (db *nodeDB) applyPosition(num uint32, p *meshtastic.Position) {
	db.mu.Lock()
	defer db.mu.Unlock()
	applyPosition(db.get(num), p)
}

// applyTelemetry merges device metrics from a TELEMETRY_APP broadcast.
func (db *nodeDB) applyTelemetry(num uint32, dm *meshtastic.DeviceMetrics) {
	db.mu.Lock()
	defer db.mu.Unlock()
	applyDeviceMetrics(db.get(num), dm)
}

// touch records that a node was just heard.
func (db *nodeDB) touch(num uint32, snr float32, at time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()

	n := db.get(num)
	if snr != 0 {
		n.SNR = snr
	}
	if at.After(n.LastHeard) {
		n.LastHeard = at
	}
}

// displayName resolves a node number to its friendly name.
func (db *nodeDB) displayName(num uint32) string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if n, ok := db.nodes[num]; ok {
		return n.DisplayName()
	}
	return NodeID(num)
}

// snapshot copies the table, most recently heard first.
func (db *nodeDB) snapshot() []Node {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]Node, 0, len(db.nodes))
	for _, n := range db.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastHeard.Equal(out[j].LastHeard) {
			return out[i].LastHeard.After(out[j].LastHeard)
		}
		return out[i].Num < out[j].Num
	})
	return out
}

// find matches a node by "!id" or by name, case-insensitive. Exact ID
// matches win; name matches must be unique.
func (db *nodeDB) find(query string) (Node, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if strings.HasPrefix(query, "!") {
		for _, n := range db.nodes {
			if strings.EqualFold(n.ID, query) {
				return *n, nil
			}
		}
		return Node{}, ErrNodeNotFound
	}

	var matches []*Node
	for _, n := range db.nodes {
		if strings.EqualFold(n.LongName, query) || strings.EqualFold(n.ShortName, query) {
			matches = append(matches, n)
		}
	}
	switch len(matches) {
	case 0:
		return Node{}, ErrNodeNotFound
	case 1:
		return *matches[0], nil
	default:
		return Node{}, ErrAmbiguousNode
	}
}

func applyUser(n *Node, u *meshtastic.User) {
	if u.GetId() != "" {
		n.ID = u.GetId()
	}
	if u.GetLongName() != "" {
		n.LongName = u.GetLongName()
	}
	if u.GetShortName() != "" {
		n.ShortName = u.GetShortName()
	}
	n.HwModel = u.GetHwModel().String()
}

func applyPosition(n *Node, p *meshtastic.Position) {
	if p.GetLatitudeI() == 0 && p.GetLongitudeI() == 0 {
		return
	}
	n.HasPosition = true
	n.Latitude = float64(p.GetLatitudeI()) * 1e-7
	n.Longitude = float64(p.GetLongitudeI()) * 1e-7
	n.Altitude = p.GetAltitude()
}

func applyDeviceMetrics(n *Node, dm *meshtastic.DeviceMetrics) {
	if dm.GetBatteryLevel() != 0 {
		n.Battery = dm.GetBatteryLevel()
	}
	if dm.GetVoltage() != 0 {
		n.Voltage = dm.GetVoltage()
	}
	if dm.GetChannelUtilization() != 0 {
		n.ChannelUtil = dm.GetChannelUtilization()
	}
}
