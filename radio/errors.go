package radio

import "errors"

var (
	ErrNoDevice        = errors.New("no meshtastic device found")
	ErrNotConnected    = errors.New("not connected to a device")
	ErrConfigTimeout   = errors.New("timed out waiting for device config")
	ErrTransportClosed = errors.New("device connection lost")
	ErrAckTimeout      = errors.New("timed out waiting for delivery ack")
	ErrNodeNotFound    = errors.New("no node matches that name or id")
	ErrAmbiguousNode   = errors.New("name matches more than one node")
	ErrInvalidChannel  = errors.New("invalid channel index (valid range: 0-7)")
)
