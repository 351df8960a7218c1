package radio

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Meshtastic firmware speaks the stream protocol at this rate.
const serialBaudRate = 115200

// SerialTransport is a StreamTransport over a USB serial port.
type SerialTransport struct {
	StreamTransport
	device string
}

// NewSerialTransport prepares a transport for the given serial device,
// e.g. "/dev/ttyUSB0". recv is the channel completed frames land on.
func NewSerialTransport(device string, recv chan<- []byte) *SerialTransport {
	return &SerialTransport{
		StreamTransport: StreamTransport{recvChan: recv, wake: true},
		device:          device,
	}
}

// Connect opens the serial port.
func (t *SerialTransport) Connect() error {
	mode := &serial.Mode{BaudRate: serialBaudRate}
	port, err := serial.Open(t.device, mode)
	if err != nil {
		log.WithError(err).WithField("device", t.device).Error("could not open serial port")
		return fmt.Errorf("failed to open serial port %s: %w", t.device, err)
	}
	t.Stream = port
	return nil
}
