// Package client implements the debugger side of the GDB remote serial
// protocol, limited to the packets served by the gdbstub package.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-delve/gdbstub/pkg/gdbstub/packet"
	"github.com/go-delve/gdbstub/pkg/logflags"
)

const gdbWireMaxLen = 120

// ErrTooManyAttempts is returned when a packet keeps being corrupted.
var ErrTooManyAttempts = errors.New("too many transmit attempts")

// ProtocolError is an error response (Exx) of the stub or an "unsupported
// command" response (empty packet).
type ProtocolError struct {
	Context string
	Cmd     string
	Code    string
}

func (err *ProtocolError) Error() string {
	cmd := err.Cmd
	if len(cmd) > 20 {
		cmd = cmd[:20] + "..."
	}
	if err.Code == "" {
		return fmt.Sprintf("unsupported packet %s during %s", cmd, err.Context)
	}
	return fmt.Sprintf("protocol error %s during %s for packet %s", err.Code, err.Context, cmd)
}

// IsUnsupported returns true if err is the empty response the stub sends
// for packets it does not know.
func IsUnsupported(err error) bool {
	var gdberr *ProtocolError
	if !errors.As(err, &gdberr) {
		return false
	}
	return gdberr.Code == ""
}

// Conn is a connection to a stub. Its methods are synchronous and must
// not be called concurrently, with the exception of Interrupt.
type Conn struct {
	conn net.Conn
	rdr  *packet.Reader

	packetSize            int  // maximum packet size supported by stub
	ack                   bool // when ack is true acknowledgment packets are enabled
	maxTransmitAttempts   int  // maximum number of transmit or receive attempts when bad checksums are read
	threadSuffixSupported bool // thread suffix supported by stub

	log logflags.Logger
}

// Dial connects to the stub listening at addr.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

// NewConn returns a client using conn, Handshake must be called before
// any other method.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:                conn,
		rdr:                 packet.NewReader(conn),
		ack:                 true,
		packetSize:          256,
		maxTransmitAttempts: 3,
		log:                 logflags.GdbWireLogger(),
	}
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Handshake disables acks and reads the features of the stub.
func (c *Conn) Handshake() error {
	// This first ack packet is needed to start up the connection
	if err := c.sendack('+'); err != nil {
		return err
	}

	if _, err := c.Exec([]byte("QStartNoAckMode"), "init/disableAck"); err != nil {
		return err
	}
	c.ack = false

	if _, err := c.Exec([]byte("QThreadSuffixSupported"), "init"); err != nil {
		if !IsUnsupported(err) {
			return err
		}
	} else {
		c.threadSuffixSupported = true
	}

	_, err := c.QSupported()
	return err
}

// AckMode returns true if acks are still in use.
func (c *Conn) AckMode() bool {
	return c.ack
}

// PacketSize returns the packet size advertised by the stub.
func (c *Conn) PacketSize() int {
	return c.packetSize
}

// Exec sends payload and returns the payload of the reply. Error replies
// are returned as *ProtocolError.
func (c *Conn) Exec(payload []byte, context string) ([]byte, error) {
	if err := c.Send(payload); err != nil {
		return nil, err
	}
	return c.recv(payload, context, false)
}

// Send sends payload without waiting for the reply.
func (c *Conn) Send(payload []byte) error {
	return c.SendRaw(packet.Encode(payload))
}

// SendRaw writes wire to the connection as it is, it is used to send
// malformed packets.
func (c *Conn) SendRaw(wire []byte) error {
	attempt := 0
	for {
		if logflags.GdbWire() {
			if len(wire) > gdbWireMaxLen {
				c.log.Debugf("<- %s...", wire[:gdbWireMaxLen])
			} else {
				c.log.Debugf("<- %s", wire)
			}
		}
		if _, err := c.conn.Write(wire); err != nil {
			return err
		}

		if !c.ack {
			return nil
		}

		ok, err := c.readack()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt > c.maxTransmitAttempts {
			return ErrTooManyAttempts
		}
		attempt++
	}
}

// readack reads an ack frame, returns true if it is '+'.
func (c *Conn) readack() (bool, error) {
	for {
		frame, err := c.rdr.ReadFrame()
		if err != nil {
			return false, err
		}
		switch frame.Kind {
		case packet.FrameAck:
			return true, nil
		case packet.FrameNack:
			return false, nil
		}
	}
}

// sendack sends an ack character, ack must be either '+' or '-'.
func (c *Conn) sendack(ack byte) error {
	if ack != '+' && ack != '-' {
		panic(fmt.Errorf("sendack(%c)", ack))
	}
	_, err := c.conn.Write([]byte{ack})
	c.log.Debugf("<- %c", ack)
	return err
}

// Interrupt sends a ^C to stop the running inferior.
func (c *Conn) Interrupt() error {
	c.log.Debug("<- interrupt")
	_, err := c.conn.Write([]byte{packet.CtrlC})
	return err
}

// Recv reads the next reply. Replies starting with E are returned as
// errors unless binary is set.
func (c *Conn) Recv(context string, binary bool) ([]byte, error) {
	return c.recv(nil, context, binary)
}

func (c *Conn) recv(cmd []byte, context string, binary bool) ([]byte, error) {
	var resp []byte
	attempt := 0
	for {
		frame, err := c.rdr.ReadFrame()
		var perr *packet.ProtocolError
		if err != nil && !errors.As(err, &perr) {
			return nil, err
		}
		if frame.Kind != packet.FramePacket {
			// stray acks and notifications
			continue
		}
		if logflags.GdbWire() {
			if len(frame.Raw) > gdbWireMaxLen {
				c.log.Debugf("-> %s...", frame.Raw[:gdbWireMaxLen])
			} else {
				c.log.Debugf("-> %s", frame.Raw)
			}
		}
		if err == nil {
			if c.ack {
				if err := c.sendack('+'); err != nil {
					return nil, err
				}
			}
			resp = frame.Payload
			break
		}
		if !c.ack {
			return nil, err
		}
		if attempt > c.maxTransmitAttempts {
			c.sendack('+')
			return nil, ErrTooManyAttempts
		}
		attempt++
		if err := c.sendack('-'); err != nil {
			return nil, err
		}
	}

	if len(resp) == 0 || (resp[0] == 'E' && (!binary || isErrorCode(resp))) {
		return nil, &ProtocolError{Context: context, Cmd: string(cmd), Code: string(resp)}
	}
	return resp, nil
}

func isErrorCode(resp []byte) bool {
	if len(resp) != 3 || resp[0] != 'E' {
		return false
	}
	_, err := packet.ParseHexUint(string(resp[1:]))
	return err == nil
}
