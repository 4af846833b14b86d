package gdbstub

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"

	"github.com/go-delve/gdbstub/pkg/gdbstub/packet"
	"github.com/go-delve/gdbstub/pkg/inferior"
	"github.com/go-delve/gdbstub/pkg/logflags"
)

// errSessionEnd is returned by handlers after the debugger killed or
// detached from the inferior, once their reply has been sent.
var errSessionEnd = errors.New("session ended by debugger")

// inbound is a frame read by the pump goroutine. err is either a
// *packet.ProtocolError, for a frame that could not be decoded, or the
// error that terminated the connection.
type inbound struct {
	frame packet.Frame
	err   error
}

// connection serves one debugger.
type connection struct {
	server *Server
	conn   net.Conn
	rdr    *packet.Reader
	out    *bufio.Writer

	sess     *Session
	target   inferior.Target
	registry *inferior.Registry
	agg      *Aggregator
	resp     *Responder
	mem      *memoryCache

	lastReply []byte // resent when the debugger nacks it
	frames    chan inbound
	done      chan struct{}

	log  logflags.Logger
	wire logflags.Logger
}

func newConnection(s *Server, conn net.Conn) (*connection, error) {
	c := &connection{
		server:   s,
		conn:     conn,
		rdr:      packet.NewReader(conn),
		out:      bufio.NewWriter(conn),
		sess:     NewSession(),
		target:   s.config.Target,
		registry: s.registry,
		frames:   make(chan inbound),
		done:     make(chan struct{}),
	}
	c.rdr.SetMaxPacketSize(s.config.MaxPacketSize)
	c.log = s.log.WithField("session", c.sess.ID)
	c.wire = logflags.GdbWireLogger().WithField("session", c.sess.ID)

	var err error
	if c.agg, err = NewAggregator(c.target, c.registry); err != nil {
		return nil, err
	}
	if c.mem, err = newMemoryCache(c.target, s.config.MemoryCacheSize); err != nil {
		return nil, err
	}
	if c.resp, err = newResponder(c.target.Arch(), c.mem, s.config.StackChunkSize, s.config.FrameWalkDepth); err != nil {
		return nil, err
	}
	return c, nil
}

// pump reads frames from the connection and hands them to the session
// loop. It exits after delivering the error that ended the connection, or
// when the session loop is done.
func (c *connection) pump() {
	defer close(c.frames)
	for {
		frame, err := c.rdr.ReadFrame()
		var perr *packet.ProtocolError
		if err != nil && !errors.As(err, &perr) {
			select {
			case c.frames <- inbound{err: err}:
			case <-c.done:
			}
			return
		}
		select {
		case c.frames <- inbound{frame: frame, err: err}:
		case <-c.done:
			return
		}
	}
}

// receive returns the next frame, transport errors are converted to
// ErrDisconnected.
func (c *connection) receive() (inbound, error) {
	in, ok := <-c.frames
	if !ok {
		return inbound{}, ErrDisconnected
	}
	var perr *packet.ProtocolError
	if in.err != nil && !errors.As(in.err, &perr) {
		if in.err != io.EOF && !c.server.stopped() {
			c.log.Debugf("read error: %v", in.err)
		}
		return inbound{}, ErrDisconnected
	}
	return in, nil
}

// serve answers packets until the debugger goes away, the session is ended
// by a packet or a fatal error occurs.
func (c *connection) serve() error {
	go c.pump()
	defer close(c.done)

	for {
		in, err := c.receive()
		if err != nil {
			return err
		}
		if in.err != nil {
			handled, err := c.malformed(in)
			if err != nil {
				return err
			}
			if handled {
				continue
			}
		}

		switch in.frame.Kind {
		case packet.FramePacket:
			if logflags.GdbWire() {
				c.wire.Debugf("<- %s", in.frame.Raw)
			}
			if c.sess.AckMode() {
				if err := c.sendRaw([]byte{'+'}); err != nil {
					return err
				}
			}
			if err := c.handle(in.frame.Payload); err != nil {
				return err
			}
		case packet.FrameNack:
			if c.sess.AckMode() && c.lastReply != nil {
				if err := c.sendRaw(c.lastReply); err != nil {
					return err
				}
			}
		case packet.FrameInterrupt:
			// the inferior is already stopped
			c.log.Debug("interrupt received while stopped")
		}
	}
}

// malformed answers a packet that failed to decode. It returns false if the
// packet must be served anyway: without acks checksums are not verified.
func (c *connection) malformed(in inbound) (bool, error) {
	var perr *packet.ProtocolError
	errors.As(in.err, &perr)
	switch {
	case perr.BadChecksum && !c.sess.AckMode():
		c.log.Debugf("ignoring checksum of %q", truncate(in.frame.Payload))
		return false, nil
	case perr.BadChecksum:
		c.log.Warnf("dropping packet: %v", perr)
		return true, c.sendRaw([]byte{'-'})
	}
	c.log.Warnf("rejecting packet: %v", perr)
	if c.sess.AckMode() {
		if err := c.sendRaw([]byte{'+'}); err != nil {
			return true, err
		}
	}
	return true, c.send(errcodeBadArgs.reply())
}

func (c *connection) handle(payload []byte) error {
	e := lookupPacket(payload)
	if e == nil {
		c.log.Debugf("unsupported packet %q", truncate(payload))
		return c.send(nil)
	}
	reply, err := e.fn(c, payload[len(e.name):])
	if err != nil {
		return err
	}
	return c.send(reply)
}

func truncate(payload []byte) []byte {
	if len(payload) > 20 {
		return payload[:20]
	}
	return payload
}

// send sends payload as a packet.
func (c *connection) send(payload []byte) error {
	wire := packet.Encode(payload)
	c.lastReply = wire
	return c.sendRaw(wire)
}

func (c *connection) sendRaw(wire []byte) error {
	if logflags.GdbWire() && len(wire) > 1 {
		c.wire.Debugf("-> %s", wire)
	}
	if _, err := c.out.Write(wire); err != nil {
		return ErrDisconnected
	}
	if err := c.out.Flush(); err != nil {
		return ErrDisconnected
	}
	return nil
}

// snapshot returns the snapshot of the current stop, capturing it if the
// session has not seen a stop yet.
func (c *connection) snapshot() (*StopSnapshot, error) {
	if snap := c.sess.Snapshot(); snap != nil {
		return snap, nil
	}
	ev, ok := c.target.LastStop()
	if !ok {
		ev = inferior.StopEvent{Signal: inferior.SignalStop}
	}
	return c.capture(ev)
}

// capture builds the snapshot for ev and makes it the current one.
func (c *connection) capture(ev inferior.StopEvent) (*StopSnapshot, error) {
	snap, err := c.agg.Capture(ev)
	if err != nil && !errors.Is(err, ErrNoLiveThreads) {
		return nil, err
	}
	c.sess.snapshot = snap
	return snap, nil
}

// refresh captures the current stop again after the debugger changed the
// state of the inferior.
func (c *connection) refresh() error {
	c.mem.purge()
	snap, err := c.snapshot()
	if err != nil {
		return err
	}
	_, err = c.capture(snap.Event)
	return err
}

// waitForStop waits for the running inferior to stop, forwarding interrupt
// requests from the debugger. If the debugger disconnects the inferior is
// stopped and ErrDisconnected is returned.
func (c *connection) waitForStop() (inferior.StopEvent, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		ev  inferior.StopEvent
		err error
	}
	resc := make(chan result, 1)
	go func() {
		ev, err := c.target.WaitForStop(ctx)
		resc <- result{ev, err}
	}()

	halt := func() {
		if err := c.target.Interrupt(); err != nil {
			c.log.Errorf("could not stop inferior: %v", err)
			cancel()
		}
		<-resc
	}

	for {
		select {
		case res := <-resc:
			return res.ev, res.err
		case <-c.server.stopChan:
			halt()
			return inferior.StopEvent{}, ErrDisconnected
		case in, ok := <-c.frames:
			var perr *packet.ProtocolError
			if !ok || (in.err != nil && !errors.As(in.err, &perr)) {
				c.log.Debug("debugger disconnected while the inferior was running")
				halt()
				return inferior.StopEvent{}, ErrDisconnected
			}
			if in.err == nil && in.frame.Kind == packet.FrameInterrupt {
				c.log.Debug("interrupting inferior")
				if err := c.target.Interrupt(); err != nil {
					c.log.Errorf("could not interrupt inferior: %v", err)
				}
				continue
			}
			if in.err == nil && in.frame.Kind == packet.FramePacket {
				c.log.Warnf("packet %q received while running, ignored", truncate(in.frame.Payload))
			}
		}
	}
}

// resume runs the inferior, or steps thread tid, and returns the stop reply
// of the stop that follows.
func (c *connection) resume(step bool, tid uint64) ([]byte, error) {
	c.mem.purge()
	var err error
	if step {
		err = c.target.Step(tid)
	} else {
		err = c.target.Resume()
	}
	if err != nil {
		var exited inferior.ErrProcessExited
		if errors.As(err, &exited) {
			snap, err := c.capture(inferior.StopEvent{Exited: true, ExitStatus: exited.Status})
			if err != nil {
				return nil, err
			}
			return c.resp.StopReply(snap, 0, c.sess.StopReplyMode())
		}
		c.log.Errorf("could not resume: %v", err)
		return errcodeTarget.reply(), nil
	}
	ev, err := c.waitForStop()
	if err != nil {
		return nil, err
	}
	snap, err := c.capture(ev)
	if err != nil {
		return nil, err
	}
	return c.resp.StopReply(snap, 0, c.sess.StopReplyMode())
}
