package gdbstub

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-delve/gdbstub/pkg/gdbstub/packet"
	"github.com/go-delve/gdbstub/pkg/inferior"
)

var replyOK = []byte("OK")

// notFoundReply turns NotFound errors into the code reply, any other error
// is returned unchanged and ends the session.
func notFoundReply(code errorCode, err error) ([]byte, error) {
	if errors.Is(err, inferior.ErrNotFound) {
		return code.reply(), nil
	}
	return nil, err
}

func (c *connection) qSupported(args []byte) ([]byte, error) {
	return []byte(fmt.Sprintf("PacketSize=%x;QStartNoAckMode+;QThreadSuffixSupported+;QListThreadsInStopReply+;jThreadsInfo+;qXfer:features:read-;multiprocess-", c.server.config.MaxPacketSize)), nil
}

func negotiation(name string) packetHandler {
	return func(c *connection, args []byte) ([]byte, error) {
		if !c.sess.Negotiate(name) {
			return nil, nil
		}
		c.log.Debugf("%s enabled, stop replies are %s", name, c.sess.StopReplyMode())
		return replyOK, nil
	}
}

func (c *connection) haltReason(args []byte) ([]byte, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return c.resp.StopReply(snap, 0, c.sess.StopReplyMode())
}

func (c *connection) currentThread(args []byte) ([]byte, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	th, ok := snap.StoppingThread()
	if !ok {
		return errcodeNoThread.reply(), nil
	}
	return []byte(fmt.Sprintf("QC%x", th.ID)), nil
}

// firstThreadInfo lists every thread of the current stop in one batch,
// subsequentThreadInfo then ends the list.
func (c *connection) firstThreadInfo(args []byte) ([]byte, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	if len(snap.Threads) == 0 {
		return []byte("l"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('m')
	for i := range snap.Threads {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%x", snap.Threads[i].ID)
	}
	return buf.Bytes(), nil
}

func (c *connection) subsequentThreadInfo(args []byte) ([]byte, error) {
	return []byte("l"), nil
}

func (c *connection) threadStopInfo(args []byte) ([]byte, error) {
	tid, err := packet.ParseHexUint(string(args))
	if err != nil || tid == 0 {
		return errcodeBadArgs.reply(), nil
	}
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	reply, err := c.resp.StopReply(snap, tid, c.sess.StopReplyMode())
	if err != nil {
		return notFoundReply(errcodeNoThread, err)
	}
	return reply, nil
}

func (c *connection) threadsInfo(args []byte) ([]byte, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	reply, err := c.resp.ThreadsInfo(snap)
	if err != nil {
		c.log.Errorf("could not encode thread info: %v", err)
		return errcodeTarget.reply(), nil
	}
	return reply, nil
}

func (c *connection) registerInfo(args []byte) ([]byte, error) {
	regnum, err := packet.ParseHexUint(string(args))
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	arch := c.target.Arch()
	if regnum >= uint64(len(arch.Registers)) {
		return errcodeEndOfList.reply(), nil
	}
	ri := &arch.Registers[regnum]
	kvs := packet.KeyValues{{Key: "name", Value: ri.Name}}
	if ri.AltName != "" {
		kvs = append(kvs, packet.KeyValue{Key: "alt-name", Value: ri.AltName})
	}
	kvs = append(kvs,
		packet.KeyValue{Key: "bitsize", Value: strconv.Itoa(ri.Bitsize)},
		packet.KeyValue{Key: "offset", Value: strconv.Itoa(ri.Offset)},
		packet.KeyValue{Key: "encoding", Value: ri.Encoding},
		packet.KeyValue{Key: "format", Value: ri.Format},
		packet.KeyValue{Key: "set", Value: ri.Set})
	if ri.DwarfNum >= 0 {
		kvs = append(kvs,
			packet.KeyValue{Key: "ehframe", Value: strconv.Itoa(ri.DwarfNum)},
			packet.KeyValue{Key: "dwarf", Value: strconv.Itoa(ri.DwarfNum)})
	}
	if ri.Generic != "" {
		kvs = append(kvs, packet.KeyValue{Key: "generic", Value: ri.Generic})
	}
	return []byte(kvs.String()), nil
}

func (c *connection) processInfo(args []byte) ([]byte, error) {
	arch := c.target.Arch()
	return []byte(fmt.Sprintf("pid:%x;parent-pid:1;real-uid:0;real-gid:0;effective-uid:0;effective-gid:0;triple:%s;ostype:linux;endian:%s;ptrsize:%d;",
		c.target.Pid(), packet.HexBytes([]byte(arch.Triple)), arch.Endian(), arch.PtrSize)), nil
}

func (c *connection) hostInfo(args []byte) ([]byte, error) {
	arch := c.target.Arch()
	return []byte(fmt.Sprintf("triple:%s;ptrsize:%d;endian:%s;ostype:linux;vendor:unknown;",
		packet.HexBytes([]byte(arch.Triple)), arch.PtrSize, arch.Endian())), nil
}

func (c *connection) attached(args []byte) ([]byte, error) {
	// the inferior is always created by the stub
	return []byte("0"), nil
}

// parseThreadID parses a thread id as found in H packets, -1 (all threads)
// and 0 (any thread) are both returned as 0.
func parseThreadID(s string) (uint64, error) {
	if s == "-1" {
		return 0, nil
	}
	return packet.ParseHexUint(s)
}

func (c *connection) setThread(args []byte) ([]byte, error) {
	if len(args) < 2 {
		return errcodeBadArgs.reply(), nil
	}
	tid, err := parseThreadID(string(args[1:]))
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	if tid != 0 {
		snap, err := c.snapshot()
		if err != nil {
			return nil, err
		}
		if _, ok := snap.Thread(tid); !ok {
			return errcodeNoThread.reply(), nil
		}
	}
	switch args[0] {
	case 'g':
		c.sess.gThread = tid
	case 'c':
		c.sess.cThread = tid
	default:
		return nil, nil
	}
	return replyOK, nil
}

func (c *connection) threadAlive(args []byte) ([]byte, error) {
	tid, err := packet.ParseHexUint(string(args))
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Thread(tid); !ok {
		return errcodeNoThread.reply(), nil
	}
	return replyOK, nil
}

// splitThreadSuffix separates the ;thread:<tid>; suffix from the arguments
// of a register packet, tid is zero if there is no suffix.
func splitThreadSuffix(args []byte) (rest []byte, tid uint64, err error) {
	idx := bytes.IndexByte(args, ';')
	if idx < 0 {
		return args, 0, nil
	}
	if v, ok := packet.ParseKeyValues(string(args[idx+1:])).Get("thread"); ok {
		tid, err = packet.ParseHexUint(v)
	}
	return args[:idx], tid, err
}

// selectedThread returns the thread register packets apply to: the one in
// the thread suffix, the one selected by Hg or the stopping thread.
func (c *connection) selectedThread(suffixTID, selected uint64) (*ThreadState, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	tid := suffixTID
	if tid == 0 {
		tid = selected
	}
	var th *ThreadState
	var ok bool
	if tid == 0 {
		th, ok = snap.StoppingThread()
	} else {
		th, ok = snap.Thread(tid)
	}
	if !ok {
		return nil, &inferior.NotFoundError{What: "thread", Key: strconv.FormatUint(tid, 16)}
	}
	return th, nil
}

func (c *connection) readRegister(args []byte) ([]byte, error) {
	rest, tid, err := splitThreadSuffix(args)
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	regnum, err := packet.ParseHexUint(string(rest))
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	th, err := c.selectedThread(tid, c.sess.gThread)
	if err != nil {
		return notFoundReply(errcodeNoThread, err)
	}
	ri, err := c.target.Arch().Register(int(regnum))
	if err != nil {
		return notFoundReply(errcodeNoRegister, err)
	}
	return packet.AppendHex(nil, ri.Value(th.Regs)), nil
}

func (c *connection) readRegisters(args []byte) ([]byte, error) {
	_, tid, err := splitThreadSuffix(args)
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	th, err := c.selectedThread(tid, c.sess.gThread)
	if err != nil {
		return notFoundReply(errcodeNoThread, err)
	}
	return packet.AppendHex(nil, th.Regs), nil
}

// storeRegisters writes regs to thread tid and captures the stop again so
// that the following replies see the new values.
func (c *connection) storeRegisters(tid uint64, regs []byte) ([]byte, error) {
	if err := c.target.WriteRegisters(tid, regs); err != nil {
		c.log.Errorf("could not write registers of thread %#x: %v", tid, err)
		return errcodeTarget.reply(), nil
	}
	if err := c.refresh(); err != nil {
		return nil, err
	}
	return replyOK, nil
}

func (c *connection) writeRegister(args []byte) ([]byte, error) {
	rest, tid, err := splitThreadSuffix(args)
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	eq := bytes.IndexByte(rest, '=')
	if eq < 0 {
		return errcodeBadArgs.reply(), nil
	}
	regnum, err := packet.ParseHexUint(string(rest[:eq]))
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	value, err := packet.ParseHexBytes(string(rest[eq+1:]))
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	th, err := c.selectedThread(tid, c.sess.gThread)
	if err != nil {
		return notFoundReply(errcodeNoThread, err)
	}
	ri, err := c.target.Arch().Register(int(regnum))
	if err != nil {
		return notFoundReply(errcodeNoRegister, err)
	}
	if len(value) != ri.Size() {
		return errcodeBadArgs.reply(), nil
	}
	regs := append([]byte(nil), th.Regs...)
	copy(ri.Value(regs), value)
	return c.storeRegisters(th.ID, regs)
}

func (c *connection) writeRegisters(args []byte) ([]byte, error) {
	rest, tid, err := splitThreadSuffix(args)
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	regs, err := packet.ParseHexBytes(string(rest))
	if err != nil || len(regs) != c.target.Arch().RegistersSize() {
		return errcodeBadArgs.reply(), nil
	}
	th, err := c.selectedThread(tid, c.sess.gThread)
	if err != nil {
		return notFoundReply(errcodeNoThread, err)
	}
	return c.storeRegisters(th.ID, regs)
}

// parseReadMemory parses <addr>,<len> and bounds len to max.
func parseReadMemory(args []byte, max int) (addr uint64, size int, err error) {
	addr, length, err := packet.ParseAddrLen(string(args))
	if err != nil {
		return 0, 0, err
	}
	if length > uint64(max) {
		length = uint64(max)
	}
	return addr, int(length), nil
}

// readStopMemory reads memory through the cache of the current stop.
func (c *connection) readStopMemory(addr uint64, size int) ([]byte, []byte, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, nil, err
	}
	data, err := c.mem.read(snap.Generation, addr, size)
	if err != nil {
		c.log.Debugf("could not read memory at %#x: %v", addr, err)
		return nil, errcodeMemory.reply(), nil
	}
	return data, nil, nil
}

func (c *connection) readMemory(args []byte) ([]byte, error) {
	addr, size, err := parseReadMemory(args, c.server.config.MaxPacketSize/2)
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	if size == 0 {
		return []byte{}, nil
	}
	data, errReply, err := c.readStopMemory(addr, size)
	if data == nil {
		return errReply, err
	}
	return packet.AppendHex(nil, data), nil
}

// readMemoryBinary answers x packets with the raw bytes, they are escaped
// when the reply is encoded.
func (c *connection) readMemoryBinary(args []byte) ([]byte, error) {
	addr, size, err := parseReadMemory(args, c.server.config.MaxPacketSize)
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	if size == 0 {
		return replyOK, nil
	}
	data, errReply, err := c.readStopMemory(addr, size)
	if data == nil {
		return errReply, err
	}
	return data, nil
}

func (c *connection) writeMemory(args []byte) ([]byte, error) {
	colon := bytes.IndexByte(args, ':')
	if colon < 0 {
		return errcodeBadArgs.reply(), nil
	}
	addr, length, err := packet.ParseAddrLen(string(args[:colon]))
	if err != nil {
		return errcodeBadArgs.reply(), nil
	}
	data, err := packet.ParseHexBytes(string(args[colon+1:]))
	if err != nil || uint64(len(data)) != length {
		return errcodeBadArgs.reply(), nil
	}
	c.mem.purge()
	if _, err := c.target.WriteMemory(addr, data); err != nil {
		c.log.Debugf("could not write memory at %#x: %v", addr, err)
		return errcodeMemory.reply(), nil
	}
	return replyOK, nil
}

// parseBreakpoint parses the arguments of Z and z packets, only software
// breakpoints (type 0) are supported.
func parseBreakpoint(args []byte) (addr uint64, supported bool, err error) {
	fields := bytes.Split(args, []byte{','})
	if len(fields) < 2 {
		return 0, true, errors.New("malformed breakpoint packet")
	}
	if string(fields[0]) != "0" {
		return 0, false, nil
	}
	addr, err = packet.ParseHexUint(string(fields[1]))
	return addr, true, err
}

func (c *connection) insertBreakpoint(args []byte) ([]byte, error) {
	addr, supported, err := parseBreakpoint(args)
	switch {
	case !supported:
		return nil, nil
	case err != nil:
		return errcodeBadArgs.reply(), nil
	}
	if err := c.target.SetBreakpoint(addr); err != nil {
		c.log.Debugf("could not set breakpoint at %#x: %v", addr, err)
		return errcodeMemory.reply(), nil
	}
	return replyOK, nil
}

func (c *connection) removeBreakpoint(args []byte) ([]byte, error) {
	addr, supported, err := parseBreakpoint(args)
	switch {
	case !supported:
		return nil, nil
	case err != nil:
		return errcodeBadArgs.reply(), nil
	}
	if err := c.target.ClearBreakpoint(addr); err != nil {
		c.log.Debugf("could not clear breakpoint at %#x: %v", addr, err)
		return errcodeMemory.reply(), nil
	}
	return replyOK, nil
}

// setPC moves the pc of thread th to addr before resuming.
func (c *connection) setPC(th *ThreadState, addr uint64) error {
	pc, err := c.target.Arch().FindPCRegister()
	if err != nil {
		return err
	}
	regs := append([]byte(nil), th.Regs...)
	pc.PutUint(regs, addr)
	return c.target.WriteRegisters(th.ID, regs)
}

// resumeAt handles the optional address argument of c and s.
func (c *connection) resumeAt(args []byte, step bool) ([]byte, error) {
	th, err := c.selectedThread(0, c.sess.cThread)
	if err != nil {
		return notFoundReply(errcodeNoThread, err)
	}
	if len(args) > 0 {
		addr, err := packet.ParseHexUint(string(args))
		if err != nil {
			return errcodeBadArgs.reply(), nil
		}
		if err := c.setPC(th, addr); err != nil {
			c.log.Errorf("could not set pc of thread %#x: %v", th.ID, err)
			return errcodeTarget.reply(), nil
		}
	}
	return c.resume(step, th.ID)
}

func (c *connection) cont(args []byte) ([]byte, error) {
	return c.resumeAt(args, false)
}

func (c *connection) step(args []byte) ([]byte, error) {
	return c.resumeAt(args, true)
}

func (c *connection) vContSupported(args []byte) ([]byte, error) {
	return []byte("vCont;c;s"), nil
}

// vCont supports continuing every thread and stepping one thread, the
// other threads stay stopped while a thread steps.
func (c *connection) vCont(args []byte) ([]byte, error) {
	var cont bool
	for _, action := range bytes.Split(args, []byte{';'}) {
		if len(action) == 0 {
			continue
		}
		var tid uint64
		if colon := bytes.IndexByte(action, ':'); colon >= 0 {
			var err error
			if tid, err = parseThreadID(string(action[colon+1:])); err != nil {
				return errcodeBadArgs.reply(), nil
			}
			action = action[:colon]
		}
		switch string(action) {
		case "s":
			th, err := c.selectedThread(tid, c.sess.cThread)
			if err != nil {
				return notFoundReply(errcodeNoThread, err)
			}
			return c.resume(true, th.ID)
		case "c":
			cont = true
		default:
			return errcodeBadArgs.reply(), nil
		}
	}
	if !cont {
		return errcodeBadArgs.reply(), nil
	}
	return c.resume(false, 0)
}

func (c *connection) kill(args []byte) ([]byte, error) {
	if err := c.target.Kill(); err != nil {
		c.log.Errorf("could not kill inferior: %v", err)
		return errcodeTarget.reply(), nil
	}
	ev, ok := c.target.LastStop()
	if !ok || !ev.Exited {
		ev = inferior.StopEvent{Exited: true, Signal: inferior.SignalKill}
	}
	snap, _ := c.agg.Capture(ev)
	c.sess.snapshot = snap
	reply, err := c.resp.StopReply(snap, 0, c.sess.StopReplyMode())
	if err != nil {
		return nil, err
	}
	if err := c.send(reply); err != nil {
		return nil, err
	}
	return nil, errSessionEnd
}

func (c *connection) detach(args []byte) ([]byte, error) {
	if err := c.target.Detach(); err != nil {
		c.log.Errorf("could not detach: %v", err)
		return errcodeTarget.reply(), nil
	}
	if err := c.send(replyOK); err != nil {
		return nil, err
	}
	return nil, errSessionEnd
}
