package discover

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	log "github.com/sirupsen/logrus"

	"github.com/meshwatch/meshwatch/radio"
)

const (
	meshtasticService = "_meshtastic._tcp"
	mdnsTimeout       = 3 * time.Second
)

// MDNSCandidates browses the local network for radios advertising the
// Meshtastic TCP service.
func MDNSCandidates() []Candidate {
	entriesCh := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})

	var out []Candidate
	go func() {
		defer close(done)
		for entry := range entriesCh {
			if entry == nil || entry.AddrV4 == nil {
				continue
			}
			name := entryName(entry.Name)
			addr := fmt.Sprintf("%s:%d", entry.AddrV4.String(), entry.Port)
			log.WithFields(log.Fields{"name": name, "addr": addr}).Debug("mdns radio")
			out = append(out, Candidate{
				Target: radio.Target{Kind: radio.TargetTCP, Addr: addr},
				Label:  fmt.Sprintf("%s (%s)", name, addr),
				Source: "mdns",
			})
		}
	}()

	params := &mdns.QueryParam{
		Service:             meshtasticService,
		Domain:              "local",
		Timeout:             mdnsTimeout,
		Entries:             entriesCh,
		WantUnicastResponse: true,
		DisableIPv6:         true,
	}
	if err := mdns.Query(params); err != nil {
		log.WithError(err).Debug("mdns browse failed")
	}
	close(entriesCh)
	<-done

	return out
}

// entryName strips the service suffix and escapes from an mDNS
// instance name.
func entryName(name string) string {
	if idx := strings.Index(name, "._"); idx > 0 {
		name = name[:idx]
	}
	name = strings.TrimSuffix(name, ".local")
	name = strings.ReplaceAll(name, "\\", "")
	return name
}
