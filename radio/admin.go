package radio

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"

	"github.com/meshtastic/go/meshtastic"
)

const channelPSKLen = 16

// SetOwner updates the owner names on the radio. Empty fields are left
// unchanged by the firmware.
func (c *Client) SetOwner(longName, shortName string) error {
	user := &meshtastic.User{LongName: longName, ShortName: shortName}
	log.WithFields(log.Fields{"long": longName, "short": shortName}).Debug("setting owner")
	return c.sendAdmin(&meshtastic.AdminMessage{
		PayloadVariant: &meshtastic.AdminMessage_SetOwner{SetOwner: user},
	})
}

// SetFixedPosition pins the radio to the given coordinates.
func (c *Client) SetFixedPosition(lat, lon float64) error {
	pos := &meshtastic.Position{
		LatitudeI:  int32(lat * 1e7),
		LongitudeI: int32(lon * 1e7),
	}
	log.WithFields(log.Fields{"lat": lat, "lon": lon}).Debug("setting fixed position")
	return c.sendAdmin(&meshtastic.AdminMessage{
		PayloadVariant: &meshtastic.AdminMessage_SetFixedPosition{SetFixedPosition: pos},
	})
}

// Reboot asks the radio to restart after the given delay.
func (c *Client) Reboot(seconds int32) error {
	log.WithField("seconds", seconds).Debug("requesting reboot")
	return c.sendAdmin(&meshtastic.AdminMessage{
		PayloadVariant: &meshtastic.AdminMessage_RebootSeconds{RebootSeconds: seconds},
	})
}

// AddChannel creates a secondary channel with a fresh random PSK at the
// first free slot.
func (c *Client) AddChannel(name string) (Channel, error) {
	c.mu.RLock()
	index := int32(-1)
	for i := int32(1); i < maxChannels; i++ {
		if _, used := c.channels[i]; !used {
			index = i
			break
		}
	}
	c.mu.RUnlock()
	if index < 0 {
		return Channel{}, fmt.Errorf("channel table is full (%d channels)", maxChannels)
	}

	psk := make([]byte, channelPSKLen)
	if _, err := rand.Read(psk); err != nil {
		return Channel{}, fmt.Errorf("failed to generate channel psk: %w", err)
	}

	ch := &meshtastic.Channel{
		Index: index,
		Role:  meshtastic.Channel_SECONDARY,
		Settings: &meshtastic.ChannelSettings{
			Name: name,
			Psk:  psk,
		},
	}
	log.WithFields(log.Fields{"index": index, "name": name}).Debug("adding channel")
	if err := c.sendChannel(ch); err != nil {
		return Channel{}, err
	}

	c.mu.Lock()
	c.channels[index] = ch
	c.mu.Unlock()
	return channelView(ch), nil
}

// DeleteChannel disables the channel at the given index.
func (c *Client) DeleteChannel(index int32) error {
	if index == 0 {
		return fmt.Errorf("cannot delete the primary channel")
	}
	if index < 0 || index >= maxChannels {
		return ErrInvalidChannel
	}

	c.mu.RLock()
	_, ok := c.channels[index]
	c.mu.RUnlock()
	if !ok {
		return ErrInvalidChannel
	}

	ch := &meshtastic.Channel{
		Index:    index,
		Role:     meshtastic.Channel_DISABLED,
		Settings: &meshtastic.ChannelSettings{},
	}
	log.WithField("index", index).Debug("deleting channel")
	if err := c.sendChannel(ch); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.channels, index)
	c.mu.Unlock()
	return nil
}

// SetPrimaryChannel promotes the channel at index to primary and
// demotes the current primary to secondary.
func (c *Client) SetPrimaryChannel(index int32) error {
	c.mu.RLock()
	target, ok := c.channels[index]
	var current *meshtastic.Channel
	for _, ch := range c.channels {
		if ch.GetRole() == meshtastic.Channel_PRIMARY {
			current = ch
		}
	}
	c.mu.RUnlock()

	if !ok {
		return ErrInvalidChannel
	}
	if target.GetRole() == meshtastic.Channel_PRIMARY {
		return nil
	}

	if current != nil {
		demoted := proto.Clone(current).(*meshtastic.Channel)
		demoted.Role = meshtastic.Channel_SECONDARY
		if err := c.sendChannel(demoted); err != nil {
			return err
		}
		c.mu.Lock()
		c.channels[demoted.GetIndex()] = demoted
		c.mu.Unlock()
	}

	promoted := proto.Clone(target).(*meshtastic.Channel)
	promoted.Role = meshtastic.Channel_PRIMARY
	log.WithField("index", index).Debug("promoting channel to primary")
	if err := c.sendChannel(promoted); err != nil {
		return err
	}

	c.mu.Lock()
	c.channels[index] = promoted
	c.mu.Unlock()
	return nil
}

// ResolveChannel matches an index or a channel name.
func (c *Client) ResolveChannel(query string) (Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if idx, err := strconv.Atoi(query); err == nil {
		if ch, ok := c.channels[int32(idx)]; ok {
			return channelView(ch), nil
		}
		return Channel{}, ErrInvalidChannel
	}
	for _, ch := range c.channels {
		if strings.EqualFold(ch.GetSettings().GetName(), query) {
			return channelView(ch), nil
		}
	}
	return Channel{}, ErrInvalidChannel
}

func (c *Client) sendChannel(ch *meshtastic.Channel) error {
	return c.sendAdmin(&meshtastic.AdminMessage{
		PayloadVariant: &meshtastic.AdminMessage_SetChannel{SetChannel: ch},
	})
}

// sendAdmin wraps an AdminMessage in a mesh packet addressed to the
// local node.
func (c *Client) sendAdmin(msg *meshtastic.AdminMessage) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("failure marshalling AdminMessage proto")
		return err
	}
	pkt := &meshtastic.MeshPacket{
		To: c.MyNodeNum(),
		Id: c.nextPacketID(),
		PayloadVariant: &meshtastic.MeshPacket_Decoded{
			Decoded: &meshtastic.Data{
				Portnum:      meshtastic.PortNum_ADMIN_APP,
				Payload:      payload,
				WantResponse: true,
			},
		},
	}
	return c.sendToRadio(&meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_Packet{Packet: pkt},
	})
}
