package discover

import (
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"

	"github.com/meshwatch/meshwatch/radio"
)

// USB vendor IDs of the serial adapters and SoCs the radios ship with.
var usbVendors = map[string]string{
	"10c4": "Silicon Labs CP210x",
	"1a86": "WCH CH34x",
	"303a": "Espressif",
	"239a": "Adafruit nRF52",
	"2e8a": "Raspberry Pi RP2040",
}

// SerialCandidates lists serial ports that could be a radio, most
// radio-like first.
func SerialCandidates() []Candidate {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		log.WithError(err).Debug("serial enumeration failed")
		return nil
	}

	type ranked struct {
		cand  Candidate
		score int
	}
	var found []ranked
	for _, p := range ports {
		score, label := rankPort(p)
		if score < 0 {
			continue
		}
		found = append(found, ranked{
			cand: Candidate{
				Target: radio.Target{Kind: radio.TargetSerial, Addr: p.Name},
				Label:  label,
				Source: "usb",
			},
			score: score,
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].score != found[j].score {
			return found[i].score > found[j].score
		}
		return found[i].cand.Target.Addr < found[j].cand.Target.Addr
	})

	out := make([]Candidate, len(found))
	for i, r := range found {
		out[i] = r.cand
		log.WithFields(log.Fields{"device": r.cand.Target.Addr, "score": r.score}).
			Debug("serial candidate")
	}
	return out
}

// rankPort scores how likely a port is to be a radio: 2 for a known
// radio adapter, 1 for any other USB serial device, 0 for bare ports.
func rankPort(p *enumerator.PortDetails) (int, string) {
	if !p.IsUSB {
		return 0, p.Name
	}
	if vendor, ok := usbVendors[strings.ToLower(p.VID)]; ok {
		return 2, fmt.Sprintf("%s (%s)", p.Name, vendor)
	}
	if p.Product != "" {
		return 1, fmt.Sprintf("%s (%s)", p.Name, p.Product)
	}
	return 1, p.Name
}
