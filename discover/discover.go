package discover

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/meshwatch/meshwatch/radio"
)

// Candidate is one place a radio might be reachable.
type Candidate struct {
	Target radio.Target
	Label  string // human description for pickers
	Source string // "usb", "mdns" or "sweep"
}

// Candidates lists likely radios: USB serial ports first (ranked by
// how radio-like their adapter is), then anything advertising the
// Meshtastic service over mDNS.
func Candidates() []Candidate {
	out := SerialCandidates()
	out = append(out, MDNSCandidates()...)
	return out
}

// Autodetect picks the radio to use when none was named. A single
// serial port wins; several serial ports is an error rather than a
// guess; with no serial ports the first mDNS radio is used.
func Autodetect() (radio.Target, error) {
	serial := SerialCandidates()
	switch len(serial) {
	case 0:
	case 1:
		log.WithField("device", serial[0].Target.Addr).Debug("autodetected serial radio")
		return serial[0].Target, nil
	default:
		names := make([]string, len(serial))
		for i, c := range serial {
			names[i] = c.Target.Addr
		}
		return radio.Target{}, fmt.Errorf("multiple serial ports found (%s), pick one with -port",
			strings.Join(names, ", "))
	}

	if mdns := MDNSCandidates(); len(mdns) > 0 {
		log.WithField("addr", mdns[0].Target.Addr).Debug("autodetected network radio")
		return mdns[0].Target, nil
	}
	return radio.Target{}, radio.ErrNoDevice
}
