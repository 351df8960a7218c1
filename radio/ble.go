package radio

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// GATT layout of a meshtastic radio. ToRadio takes whole protobufs,
// FromRadio hands them back, FromNum notifies when FromRadio has data.
var (
	bleServiceUUID   = mustUUID("6ba1b218-15a8-461f-9fa8-5dcae273eafd")
	bleToRadioUUID   = mustUUID("f75c76d2-129e-4dad-a1dd-7866124401e7")
	bleFromRadioUUID = mustUUID("2c55e69e-4993-11ed-b878-0242ac120002")
	bleFromNumUUID   = mustUUID("ed9da18c-a800-4f66-a670-aa7547e34453")
)

const bleScanTimeout = 15 * time.Second

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// BLETransport talks to a radio over Bluetooth LE. The characteristics
// carry whole protobuf messages, so no stream framing is involved.
type BLETransport struct {
	name     string
	recvChan chan<- []byte

	adapter   *bluetooth.Adapter
	device    bluetooth.Device
	connected bool
	toRadio   bluetooth.DeviceCharacteristic
	fromRadio bluetooth.DeviceCharacteristic
	notify    chan struct{}
	done      chan struct{}
	stopped   uint32
}

// NewBLETransport prepares a transport for the radio advertised under
// name (or its BLE address). An empty name matches the first radio
// advertising the meshtastic service. recv is the channel protobuf
// payloads land on.
func NewBLETransport(name string, recv chan<- []byte) *BLETransport {
	return &BLETransport{
		name:     name,
		recvChan: recv,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (t *BLETransport) matches(res bluetooth.ScanResult) bool {
	if t.name != "" {
		return strings.EqualFold(res.LocalName(), t.name) ||
			strings.EqualFold(res.Address.String(), t.name)
	}
	return res.HasServiceUUID(bleServiceUUID) ||
		strings.HasPrefix(res.LocalName(), "Meshtastic")
}

// Connect scans for the radio, connects and resolves the meshtastic
// characteristics.
func (t *BLETransport) Connect() error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable bluetooth: %w", err)
	}
	t.adapter = adapter

	found := make(chan bluetooth.ScanResult, 1)
	go func() {
		err := adapter.Scan(func(a *bluetooth.Adapter, res bluetooth.ScanResult) {
			if t.matches(res) {
				select {
				case found <- res:
				default:
				}
				a.StopScan()
			}
		})
		if err != nil {
			log.WithError(err).Debug("ble scan ended")
		}
	}()

	var res bluetooth.ScanResult
	select {
	case res = <-found:
		log.WithFields(log.Fields{"name": res.LocalName(), "addr": res.Address.String()}).
			Debug("found ble radio")
	case <-time.After(bleScanTimeout):
		adapter.StopScan()
		return fmt.Errorf("ble scan: %w", ErrNoDevice)
	}

	dev, err := adapter.Connect(res.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", res.Address.String(), err)
	}
	t.device = dev

	svcs, err := dev.DiscoverServices([]bluetooth.UUID{bleServiceUUID})
	if err != nil || len(svcs) == 0 {
		dev.Disconnect()
		return fmt.Errorf("radio service not found on %s: %w", res.Address.String(), err)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{
		bleToRadioUUID, bleFromRadioUUID, bleFromNumUUID,
	})
	if err != nil {
		dev.Disconnect()
		return fmt.Errorf("failed to discover characteristics: %w", err)
	}

	var fromNum bluetooth.DeviceCharacteristic
	var haveTo, haveFrom, haveNum bool
	for _, ch := range chars {
		switch ch.UUID() {
		case bleToRadioUUID:
			t.toRadio, haveTo = ch, true
		case bleFromRadioUUID:
			t.fromRadio, haveFrom = ch, true
		case bleFromNumUUID:
			fromNum, haveNum = ch, true
		}
	}
	if !haveTo || !haveFrom || !haveNum {
		dev.Disconnect()
		return fmt.Errorf("radio is missing required characteristics")
	}

	err = fromNum.EnableNotifications(func(buf []byte) {
		select {
		case t.notify <- struct{}{}:
		default:
		}
	})
	if err != nil {
		dev.Disconnect()
		return fmt.Errorf("failed to enable notifications: %w", err)
	}
	t.connected = true
	return nil
}

// SendToRadio writes one protobuf to the ToRadio characteristic.
func (t *BLETransport) SendToRadio(data []byte) error {
	if _, err := t.toRadio.Write(data); err != nil {
		log.WithError(err).Error("ble write failed")
		return err
	}
	return nil
}

// Close disconnects from the radio. Safe to call before Connect ever
// reached it.
func (t *BLETransport) Close() {
	log.Debug("closing ble transport")
	if atomic.CompareAndSwapUint32(&t.stopped, 0, 1) {
		close(t.done)
		if t.connected {
			t.device.Disconnect()
		}
	}
}

// Listen drains FromRadio whenever FromNum signals more data, closing
// the receive channel when the link ends. Run it in a goroutine.
func (t *BLETransport) Listen() {
	defer close(t.recvChan)

	// Config frames queued before notifications were armed.
	if !t.drain() {
		return
	}
	for {
		select {
		case <-t.notify:
			if !t.drain() {
				return
			}
		case <-t.done:
			return
		}
	}
}

// drain reads FromRadio until the radio reports no more queued data.
func (t *BLETransport) drain() bool {
	for {
		if atomic.LoadUint32(&t.stopped) == 1 {
			return false
		}
		buf := make([]byte, maxFrameLen)
		n, err := t.fromRadio.Read(buf)
		if err != nil {
			if atomic.LoadUint32(&t.stopped) == 0 {
				log.WithError(err).Debug("ble read failed, stopping listener")
			}
			return false
		}
		if n == 0 {
			return true
		}
		t.recvChan <- buf[:n]
	}
}
