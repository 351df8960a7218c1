package radio

import (
	"errors"
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var fakeFrame = []byte{0x1, 0x2, 0x3, 0x4}

type mockPort struct {
	buf    []byte
	writes [][]byte
	failAt int // fail the Nth write, 0 disables
	closed bool
}

// Returns the buf slice one byte at a time
func (m *mockPort) Read(data []byte) (int, error) {
	if len(m.buf) == 0 {
		return 0, os.ErrClosed
	}
	data[0] = m.buf[0]
	m.buf = m.buf[1:]
	return 1, nil
}

func (m *mockPort) Write(p []byte) (int, error) {
	if m.failAt > 0 && len(m.writes)+1 == m.failAt {
		return 0, errors.New("write error")
	}
	m.writes = append(m.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.closed = true
	return nil
}

var _ = Describe("StreamTransport", func() {
	var port *mockPort
	var recv chan []byte
	var st *StreamTransport

	BeforeEach(func() {
		port = &mockPort{}
		recv = make(chan []byte, 1)
		st = &StreamTransport{Stream: port, recvChan: recv, wake: true}
	})

	Context("constructors", func() {
		It("should fulfill the Transport interface", func() {
			var iface Transport = NewSerialTransport("/dev/null", make(chan []byte, 1))
			Expect(iface).ShouldNot(BeNil())
		})
		It("should default the TCP port", func() {
			tt := NewTCPTransport("192.168.4.1", make(chan []byte, 1))
			Expect(tt.addr).Should(Equal("192.168.4.1:4403"))
		})
		It("should keep an explicit TCP port", func() {
			tt := NewTCPTransport("192.168.4.1:9000", make(chan []byte, 1))
			Expect(tt.addr).Should(Equal("192.168.4.1:9000"))
		})
	})

	Context("SendToRadio", func() {
		It("should write a wake preamble then the framed data", func() {
			err := st.SendToRadio(fakeFrame)
			Expect(err).Should(BeNil())
			Expect(port.writes).Should(HaveLen(2))
			Expect(port.writes[0]).Should(Equal([]byte{start1, start1, start1, start1}))
			Expect(port.writes[1]).Should(Equal([]byte{start1, start2, 0, 4, 0x1, 0x2, 0x3, 0x4}))
		})
		It("should skip the wake preamble on network links", func() {
			st.wake = false
			err := st.SendToRadio(fakeFrame)
			Expect(err).Should(BeNil())
			Expect(port.writes).Should(HaveLen(1))
			Expect(port.writes[0][:2]).Should(Equal([]byte{start1, start2}))
		})
		It("should error on wake write", func() {
			port.failAt = 1
			err := st.SendToRadio(fakeFrame)
			Expect(err).Should(HaveOccurred())
		})
		It("should error on frame write", func() {
			port.failAt = 2
			err := st.SendToRadio(fakeFrame)
			Expect(err).Should(HaveOccurred())
		})
	})

	Context("Listen", func() {
		It("should reassemble a frame around line noise", func() {
			data := []byte{
				start2, start1, 0x99, // bad byte after start1
				start1, start1, // repeated start1 stays in sync
				start2, 0, byte(len(fakeFrame)), // good header
			}
			data = append(data, fakeFrame...)
			data = append(data, 0x99) // trailing junk

			port.buf = data
			go st.Listen()

			Expect(<-recv).Should(Equal(fakeFrame))
			Eventually(recv).Should(BeClosed())
		})
		It("should drop oversized and empty frames", func() {
			data := []byte{
				start1, start2, 0xc3, 0x00, // length 49920, over the max
				start1, start2, 0, 0, // zero-length frame
				start1, start2, 0, byte(len(fakeFrame)),
			}
			data = append(data, fakeFrame...)

			port.buf = data
			go st.Listen()

			Expect(<-recv).Should(Equal(fakeFrame))
			Eventually(recv).Should(BeClosed())
		})
		It("should close the receive channel when the stream ends", func() {
			go st.Listen()
			Eventually(recv).Should(BeClosed())
		})
	})

	Context("Close", func() {
		It("should close the underlying stream", func() {
			st.Close()
			Expect(port.closed).Should(BeTrue())
		})
	})
})
