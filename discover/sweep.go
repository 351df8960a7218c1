package discover

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackpal/gateway"
	log "github.com/sirupsen/logrus"

	"github.com/meshwatch/meshwatch/radio"
)

const probeTimeout = 750 * time.Millisecond

// Sweeper probes every host on a subnet for the radio API port. Used
// by the connect screen when nothing advertises itself over mDNS.
type Sweeper struct {
	resultsChan  chan Candidate
	doneChan     chan bool
	stopChan     chan struct{}
	workerStats  map[int]*WorkerStatus
	statsLock    sync.RWMutex
	port         int
	scannedCount int32
	totalIPs     int32
	sentCount    int32
	foundCount   int32
}

// WorkerStatus tracks the status of each probe goroutine
type WorkerStatus struct {
	StartTime  time.Time
	LastSeen   time.Time
	CurrentIP  string
	State      string
	IPsFound   int32
	IPsScanned int32
	TotalIPs   int32
	SentCount  int32
}

// NewSweeper creates a new sweeper instance
func NewSweeper() *Sweeper {
	return &Sweeper{
		resultsChan: make(chan Candidate, 100),
		doneChan:    make(chan bool),
		stopChan:    make(chan struct{}),
		workerStats: make(map[int]*WorkerStatus),
		port:        radio.DefaultTCPPort,
	}
}

// Stop signals the sweeper to stop
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

// Results returns the channels for receiving sweep hits and completion
func (s *Sweeper) Results() (chan Candidate, chan bool) {
	return s.resultsChan, s.doneChan
}

// Sweep starts probing the specified CIDR range
func (s *Sweeper) Sweep(cidr string, workers int) error {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return err
	}

	ips := allIPs(ipNet)
	atomic.StoreInt32(&s.totalIPs, int32(len(ips)))
	atomic.StoreInt32(&s.scannedCount, 0)
	atomic.StoreInt32(&s.sentCount, 0)
	atomic.StoreInt32(&s.foundCount, 0)

	log.WithFields(log.Fields{"cidr": cidr, "hosts": len(ips), "workers": workers}).
		Debug("starting radio sweep")

	workChan := make(chan net.IP, len(ips))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		workerID := i

		s.statsLock.Lock()
		s.workerStats[workerID] = &WorkerStatus{
			StartTime: time.Now(),
			State:     "starting",
			CurrentIP: "waiting",
			LastSeen:  time.Now(),
			TotalIPs:  atomic.LoadInt32(&s.totalIPs),
		}
		s.statsLock.Unlock()

		go s.worker(workerID, workChan, &wg)
	}

	// Feed IPs to workers
	go func() {
		for _, ip := range ips {
			select {
			case <-s.stopChan:
				close(workChan)
				return
			case workChan <- ip:
				atomic.AddInt32(&s.sentCount, 1)
			}
		}
		close(workChan)
	}()

	// Wait for completion in a goroutine
	go func() {
		wg.Wait()
		remaining := atomic.LoadInt32(&s.sentCount) - atomic.LoadInt32(&s.scannedCount)
		if remaining > 0 {
			atomic.AddInt32(&s.scannedCount, remaining)
		}
		s.doneChan <- true
	}()

	return nil
}

func (s *Sweeper) worker(id int, workChan chan net.IP, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		s.statsLock.Lock()
		delete(s.workerStats, id)
		s.statsLock.Unlock()
	}()

	for ip := range workChan {
		select {
		case <-s.stopChan:
			return
		default:
			ipStr := ip.String()

			s.statsLock.Lock()
			if stat := s.workerStats[id]; stat != nil {
				stat.CurrentIP = ipStr
				stat.LastSeen = time.Now()
				stat.State = "probing"
			}
			s.statsLock.Unlock()

			if s.probe(ipStr) {
				addr := fmt.Sprintf("%s:%d", ipStr, s.port)
				log.WithField("addr", addr).Debug("sweep found a radio port")
				atomic.AddInt32(&s.foundCount, 1)

				s.statsLock.Lock()
				if stat := s.workerStats[id]; stat != nil {
					atomic.AddInt32(&stat.IPsFound, 1)
				}
				s.statsLock.Unlock()

				cand := Candidate{
					Target: radio.Target{Kind: radio.TargetTCP, Addr: addr},
					Label:  fmt.Sprintf("%s (radio port open)", ipStr),
					Source: "sweep",
				}
				select {
				case s.resultsChan <- cand:
				default:
					log.WithField("addr", addr).Warn("results channel full, skipping candidate")
				}
			}

			atomic.AddInt32(&s.scannedCount, 1)
		}
	}
}

// probe reports whether the host answers on the radio API port.
func (s *Sweeper) probe(ip string) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", ip, s.port), probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Stats returns a copy of current worker statistics
func (s *Sweeper) Stats() map[int]WorkerStatus {
	s.statsLock.RLock()
	defer s.statsLock.RUnlock()

	scanned := atomic.LoadInt32(&s.scannedCount)
	sent := atomic.LoadInt32(&s.sentCount)
	total := atomic.LoadInt32(&s.totalIPs)

	stats := make(map[int]WorkerStatus, len(s.workerStats))
	if len(s.workerStats) == 0 {
		stats[0] = WorkerStatus{
			StartTime:  time.Now(),
			LastSeen:   time.Now(),
			State:      "completed",
			IPsFound:   atomic.LoadInt32(&s.foundCount),
			IPsScanned: total,
			TotalIPs:   total,
			SentCount:  total,
		}
		return stats
	}

	for id, stat := range s.workerStats {
		copyStat := *stat
		copyStat.IPsScanned = scanned
		copyStat.TotalIPs = total
		copyStat.SentCount = sent
		stats[id] = copyStat
	}
	return stats
}

// LocalCIDR finds the subnet to sweep: the network of the interface
// that routes to the default gateway, capped at /24.
func LocalCIDR() (string, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return "", fmt.Errorf("could not find default gateway: %w", err)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil || !ipNet.Contains(gw) {
				continue
			}
			ones, _ := ipNet.Mask.Size()
			if ones < 24 {
				ones = 24
			}
			mask := net.CIDRMask(ones, 32)
			masked := &net.IPNet{IP: ipNet.IP.Mask(mask), Mask: mask}
			return masked.String(), nil
		}
	}
	return "", errors.New("no interface routes to the default gateway")
}

// allIPs returns every host address in a subnet
func allIPs(ipNet *net.IPNet) []net.IP {
	var ips []net.IP
	for ip := ipNet.IP.Mask(ipNet.Mask); ipNet.Contains(ip); inc(ip) {
		newIP := make(net.IP, len(ip))
		copy(newIP, ip)
		ips = append(ips, newIP)
	}
	if len(ips) > 2 {
		ips = ips[1 : len(ips)-1]
	}
	return ips
}

func inc(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}
