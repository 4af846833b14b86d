package packet

import (
	"bufio"
	"io"
)

// CtrlC is the byte a debugger sends, outside of any packet, to interrupt
// a running inferior.
const CtrlC = 0x03

// FrameKind identifies what was read from the wire.
type FrameKind uint8

const (
	FramePacket       FrameKind = iota // '$' packet
	FrameNotification                  // '%' notification
	FrameAck                           // '+'
	FrameNack                          // '-'
	FrameInterrupt                     // ^C
)

func (k FrameKind) String() string {
	switch k {
	case FramePacket:
		return "packet"
	case FrameNotification:
		return "notification"
	case FrameAck:
		return "ack"
	case FrameNack:
		return "nack"
	case FrameInterrupt:
		return "interrupt"
	}
	return "unknown"
}

// Frame is one unit read from the wire.
type Frame struct {
	Kind    FrameKind
	Payload []byte // decoded payload, only for packets and notifications
	Raw     []byte // bytes as they were received
}

// Reader reads frames from a debugger connection.
type Reader struct {
	rdr     *bufio.Reader
	maxBody int // zero means no limit
}

// NewReader returns a Reader reading from r.
func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{rdr: br}
	}
	return &Reader{rdr: bufio.NewReader(r)}
}

// SetMaxPacketSize limits the size of the packets read, a longer packet is
// consumed up to its checksum and reported as a *ProtocolError with
// TooLong set. The limit counts the body as transmitted plus the four
// framing characters.
func (r *Reader) SetMaxPacketSize(n int) {
	r.maxBody = n - 4
	if r.maxBody < 1 {
		r.maxBody = 1
	}
}

// ReadFrame reads the next frame. Bytes that can not start a frame are
// skipped.
// A packet with bad framing, checksum or size is returned together with a
// *ProtocolError, the caller can keep reading after it; any other error
// comes from the underlying reader. When only the checksum is wrong the
// frame carries the decoded payload.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		b, err := r.rdr.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		switch b {
		case '+':
			return Frame{Kind: FrameAck, Raw: []byte{b}}, nil
		case '-':
			return Frame{Kind: FrameNack, Raw: []byte{b}}, nil
		case CtrlC:
			return Frame{Kind: FrameInterrupt, Raw: []byte{b}}, nil
		case '$', '%':
			return r.readPacket(b)
		}
	}
}

func (r *Reader) readPacket(start byte) (Frame, error) {
	kind := FramePacket
	if start == '%' {
		kind = FrameNotification
	}
	body, tooLong, err := r.readBody()
	if err != nil {
		return Frame{}, err
	}
	var sum [2]byte
	if _, err := io.ReadFull(r.rdr, sum[:]); err != nil {
		return Frame{}, err
	}
	raw := make([]byte, 0, len(body)+3)
	raw = append(raw, start)
	raw = append(raw, body...)
	raw = append(raw, sum[:]...)
	if tooLong {
		return Frame{Kind: kind, Raw: raw}, &ProtocolError{Reason: "packet too long", Packet: raw, TooLong: true}
	}
	payload, err := decode(raw)
	return Frame{Kind: kind, Payload: payload, Raw: raw}, err
}

// readBody reads up to and including the '#' ending a packet body. Past
// the size limit bytes are discarded and tooLong is set.
func (r *Reader) readBody() (body []byte, tooLong bool, err error) {
	for {
		b, err := r.rdr.ReadByte()
		if err != nil {
			return nil, false, err
		}
		if b == '#' {
			return append(body, b), tooLong, nil
		}
		if r.maxBody > 0 && len(body) >= r.maxBody {
			tooLong = true
			continue
		}
		body = append(body, b)
	}
}
