package radio

import (
	"fmt"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultTCPPort is the API port network-attached radios listen on.
	DefaultTCPPort = 4403

	tcpDialTimeout = 5 * time.Second
)

// TCPTransport is a StreamTransport over a network connection to a
// radio's API port.
type TCPTransport struct {
	StreamTransport
	addr string
}

// NewTCPTransport prepares a transport for host or host:port. recv is
// the channel completed frames land on.
func NewTCPTransport(addr string, recv chan<- []byte) *TCPTransport {
	if !strings.Contains(addr, ":") {
		addr = fmt.Sprintf("%s:%d", addr, DefaultTCPPort)
	}
	return &TCPTransport{
		StreamTransport: StreamTransport{recvChan: recv},
		addr:            addr,
	}
}

// Connect dials the radio.
func (t *TCPTransport) Connect() error {
	conn, err := net.DialTimeout("tcp", t.addr, tcpDialTimeout)
	if err != nil {
		log.WithError(err).WithField("addr", t.addr).Error("could not connect to radio")
		return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}
	t.Stream = conn
	return nil
}
