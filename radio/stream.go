package radio

import (
	"io"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// Stream framing: two magic bytes, big-endian length, then the
	// protobuf payload. Shared by serial and TCP links.
	start1 = 0x94
	start2 = 0xc3

	// Frames larger than this are not valid and get discarded.
	maxFrameLen = 512

	// Serial radios sleep their UART. A burst of start bytes wakes
	// them; the pause gives the firmware time to come up.
	wakeDelay = 100 * time.Millisecond
)

// frameBuffer tracks reassembly of one stream frame.
type frameBuffer struct {
	buf      []byte
	idx      int
	lenMSB   int
	lenLSB   int
	frameLen int
}

// StreamTransport frames ToRadio/FromRadio protos over any byte
// stream. Serial and TCP connections both use it; only the wake
// preamble differs.
type StreamTransport struct {
	Stream   io.ReadWriteCloser
	recvChan chan<- []byte
	wake     bool
	stopped  uint32
}

// SendToRadio wraps data in a stream frame and writes it out.
func (t *StreamTransport) SendToRadio(data []byte) error {
	if t.wake {
		log.Debug("writing wake preamble")
		if _, err := t.Stream.Write([]byte{start1, start1, start1, start1}); err != nil {
			log.WithError(err).Error("could not write to stream")
			return err
		}
		time.Sleep(wakeDelay)
	}

	dlen := len(data)
	header := []byte{start1, start2, byte(dlen >> 8), byte(dlen)}
	frame := append(header, data...)

	log.WithField("frame_len", dlen).Debug("writing frame to stream")
	if _, err := t.Stream.Write(frame); err != nil {
		log.WithError(err).Error("could not write to stream")
		return err
	}
	return nil
}

// Close stops the reader and closes the underlying stream. Safe to
// call before Connect ever opened one.
func (t *StreamTransport) Close() {
	log.Debug("closing stream transport")
	atomic.StoreUint32(&t.stopped, 1)
	if t.Stream != nil {
		t.Stream.Close()
	}
}

// Listen reads the stream a byte at a time and reassembles frames,
// tolerating debug log noise the firmware mixes into the same UART.
// Complete payloads go to the receive channel, which is closed when
// the stream ends. Run it in a goroutine.
func (t *StreamTransport) Listen() {
	log.Debug("listening for radio frames")
	defer close(t.recvChan)

	fb := &frameBuffer{}
	for atomic.LoadUint32(&t.stopped) == 0 {
		b := make([]byte, 1)
		n, err := t.Stream.Read(b)
		if err != nil {
			if atomic.LoadUint32(&t.stopped) == 0 {
				log.WithError(err).Debug("stream read failed, stopping listener")
			}
			return
		}
		if n == 0 {
			continue
		}

		// Track and buffer bytes until we have a complete frame.
		switch fb.idx {
		case 0:
			if b[0] != start1 {
				fb.idx = 0 // not a frame, skip
				continue
			}
		case 1:
			if b[0] == start1 {
				fb.idx = 1 // back one
				continue
			}
			if b[0] != start2 {
				fb.idx = 0 // restart
				continue
			}
		case 2:
			fb.lenMSB = int(b[0]) << 8
		case 3:
			fb.lenLSB = int(b[0])
			fb.frameLen = fb.lenMSB + fb.lenLSB
			if fb.frameLen > maxFrameLen {
				log.WithField("frame_len", fb.frameLen).Debug("frame exceeds maximum size, discarding")
				fb = &frameBuffer{}
				continue
			}
			if fb.frameLen == 0 {
				log.Debug("zero-length frame, discarding")
				fb = &frameBuffer{}
				continue
			}
			fb.buf = make([]byte, fb.frameLen)
		default:
			fb.buf[fb.idx-4] = b[0]
			if fb.idx == fb.frameLen+4-1 {
				log.WithField("frame_len", fb.frameLen).Debug("frame complete, queueing")
				t.recvChan <- fb.buf
				fb = &frameBuffer{}
				continue
			}
		}
		fb.idx++
	}
}
