package radio

//go:generate mockgen --source transport.go -destination mock_transport.go -package radio

// Transport is a link to a radio: serial, TCP or BLE.
type Transport interface {
	// Connect opens the link. It does not start reading.
	Connect() error
	// SendToRadio writes one proto-encoded ToRadio message, adding any
	// link framing the medium needs.
	SendToRadio([]byte) error
	// Listen reads frames off the link and delivers the proto payloads
	// to the receive channel, closing it when the link ends. Run it in
	// a goroutine.
	Listen()
	Close()
}
