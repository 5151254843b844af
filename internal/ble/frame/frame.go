// Package frame implements the length-prefixed packet framing used on the
// camera's GATT characteristics. Messages larger than the ~20 byte
// attribute MTU are split into a first packet carrying a length header and
// continuation packets marked with the high bit.
package frame

import (
	"errors"
	"fmt"
)

// DefaultMTU is the usable attribute payload size on the BLE link.
const DefaultMTU = 20

const (
	continuationBit = 0x80
	headerClassMask = 0x60
	generalLenMask  = 0x1F

	headerGeneral    = 0 // 5-bit length, 1 header byte
	headerExtended13 = 1 // 13-bit length, 2 header bytes
	headerExtended16 = 2 // 16-bit length, 3 header bytes
	headerReserved   = 3
)

// ErrPayloadTooLarge is returned by Fragment for payloads that do not fit
// a 16-bit length header.
var ErrPayloadTooLarge = errors.New("frame: payload exceeds 65535 bytes")

// Fragment splits payload into BLE packets of at most mtu bytes. The first
// packet carries an Extended-13 length header for payloads under 8192 bytes
// and an Extended-16 header otherwise. Continuation packets carry the
// continuation marker followed by up to mtu-1 payload bytes.
func Fragment(payload []byte, mtu int) ([][]byte, error) {
	if mtu < 4 {
		return nil, fmt.Errorf("frame: mtu %d too small", mtu)
	}
	n := len(payload)
	if n > 0xFFFF {
		return nil, ErrPayloadTooLarge
	}

	var header []byte
	if n < 8192 {
		header = []byte{byte(headerExtended13<<5) | byte(n>>8)&generalLenMask, byte(n)}
	} else {
		header = []byte{byte(headerExtended16 << 5), byte(n >> 8), byte(n)}
	}

	first := min(n, mtu-len(header))
	packets := [][]byte{append(header, payload[:first]...)}

	for off := first; off < n; {
		take := min(n-off, mtu-1)
		pkt := make([]byte, 1+take)
		pkt[0] = continuationBit
		copy(pkt[1:], payload[off:off+take])
		packets = append(packets, pkt)
		off += take
	}

	return packets, nil
}

// Reassembler rebuilds logical messages from a stream of notification
// packets. It is not safe for concurrent use; the transport feeds it from
// a single notification goroutine per characteristic.
type Reassembler struct {
	first    []byte // raw buffer for a first packet delivered split
	payload  []byte
	expected int
	active   bool
}

// Feed consumes one packet and returns the complete message once the
// declared length has been received. Malformed input never returns an
// error: a packet that overruns the declared length, or a reserved header
// class, resets the state so the next first packet starts clean.
//
// A first packet too short to hold its own header is buffered whole, and
// later deliveries append to it raw: the stack does not re-mark bytes it
// broke off a notification, so neither the continuation test nor a fresh
// header parse applies until the buffered packet is complete.
func (r *Reassembler) Feed(packet []byte) ([]byte, bool) {
	if len(packet) == 0 {
		return nil, false
	}

	if len(r.first) > 0 {
		if packet[0]&continuationBit != 0 {
			// A continuation means the buffered first packet is as whole
			// as it is going to get.
			if !r.flushFirst() {
				r.reset()
				return nil, false
			}
			return r.accumulate(packet[1:])
		}
		r.first = append(r.first, packet...)
		return r.completeFirst()
	}

	if packet[0]&continuationBit != 0 {
		if !r.active {
			// Stray continuation with no message in progress.
			return nil, false
		}
		return r.accumulate(packet[1:])
	}

	// A fresh first packet while a message is still pending means packets
	// were lost. Drop the partial message and start over.
	r.reset()
	r.active = true

	length, hdrLen, ok := parseHeader(packet)
	if !ok {
		if hdrLen < 0 {
			r.reset()
			return nil, false
		}
		r.first = append([]byte(nil), packet...)
		return nil, false
	}
	r.expected = length
	r.payload = make([]byte, 0, length)
	return r.accumulate(packet[hdrLen:])
}

// completeFirst re-parses the buffered first packet and emits the message
// once the declared length is satisfied.
func (r *Reassembler) completeFirst() ([]byte, bool) {
	length, hdrLen, ok := parseHeader(r.first)
	if !ok {
		if hdrLen < 0 {
			r.reset()
		}
		return nil, false
	}
	got := len(r.first) - hdrLen
	if got < length {
		return nil, false
	}
	if got > length {
		r.reset()
		return nil, false
	}
	msg := append([]byte(nil), r.first[hdrLen:]...)
	r.reset()
	return msg, true
}

// flushFirst promotes the buffered first packet into the accumulator so
// continuation packets can follow it.
func (r *Reassembler) flushFirst() bool {
	length, hdrLen, ok := parseHeader(r.first)
	if !ok {
		return false
	}
	r.expected = length
	r.payload = append([]byte(nil), r.first[hdrLen:]...)
	r.first = nil
	return true
}

// accumulate appends payload bytes to the in-progress message.
func (r *Reassembler) accumulate(b []byte) ([]byte, bool) {
	r.payload = append(r.payload, b...)
	if len(r.payload) > r.expected {
		r.reset()
		return nil, false
	}
	if len(r.payload) < r.expected {
		return nil, false
	}

	msg := r.payload
	r.reset()
	return msg, true
}

func (r *Reassembler) reset() {
	r.first = nil
	r.payload = nil
	r.expected = 0
	r.active = false
}

// parseHeader decodes a length header. It returns ok=false with hdrLen 0
// when more bytes are needed, and ok=false with hdrLen -1 for the reserved
// header class.
func parseHeader(b []byte) (length, hdrLen int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	switch (b[0] & headerClassMask) >> 5 {
	case headerGeneral:
		return int(b[0] & generalLenMask), 1, true
	case headerExtended13:
		if len(b) < 2 {
			return 0, 0, false
		}
		return int(b[0]&generalLenMask)<<8 | int(b[1]), 2, true
	case headerExtended16:
		if len(b) < 3 {
			return 0, 0, false
		}
		return int(b[1])<<8 | int(b[2]), 3, true
	default:
		return 0, -1, false
	}
}
