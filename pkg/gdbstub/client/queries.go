package client

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-delve/gdbstub/pkg/gdbstub/packet"
)

// QSupported returns the features announced by the stub and records its
// packet size.
func (c *Conn) QSupported() (map[string]bool, error) {
	resp, err := c.Exec([]byte("qSupported:swbreak+;hwbreak+;no-resumed+"), "init/qSupported")
	if err != nil {
		return nil, err
	}
	features := make(map[string]bool)
	for _, stubfeature := range strings.Split(string(resp), ";") {
		if len(stubfeature) <= 0 {
			continue
		} else if equal := strings.Index(stubfeature, "="); equal >= 0 {
			if stubfeature[:equal] == "PacketSize" {
				if n, err := strconv.ParseInt(stubfeature[equal+1:], 16, 64); err == nil {
					c.packetSize = int(n)
				}
			}
		} else if stubfeature[len(stubfeature)-1] == '+' {
			features[stubfeature[:len(stubfeature)-1]] = true
		}
	}
	return features, nil
}

// EnableThreadsInStopReply asks the stub to list every thread in stop
// replies.
func (c *Conn) EnableThreadsInStopReply() error {
	_, err := c.Exec([]byte("QListThreadsInStopReply"), "init")
	return err
}

// StopReply is a parsed T, W or X packet.
type StopReply struct {
	Kind       byte // 'T', 'W' or 'X'
	Signal     uint8
	ExitStatus int
	ThreadID   uint64
	Name       string
	Reason     string
	// Threads and ThreadPCs are nil if the stop reply did not list threads.
	Threads   []uint64
	ThreadPCs []uint64
	// Registers holds the expedited registers in target byte order.
	Registers map[int][]byte
	// Fields are all the key:value pairs of a T packet, in order.
	Fields packet.KeyValues
}

// Exited returns true if the inferior has exited.
func (sr *StopReply) Exited() bool {
	return sr.Kind == 'W' || sr.Kind == 'X'
}

func parseHexList(s string) ([]uint64, error) {
	if s == "" {
		return []uint64{}, nil
	}
	fields := strings.Split(s, ",")
	r := make([]uint64, 0, len(fields))
	for _, field := range fields {
		n, err := packet.ParseHexUint(field)
		if err != nil {
			return nil, err
		}
		r = append(r, n)
	}
	return r, nil
}

// ParseStopReply parses the payload of a stop reply.
func ParseStopReply(resp []byte) (*StopReply, error) {
	if len(resp) < 3 {
		return nil, fmt.Errorf("malformed stop packet: %q", resp)
	}
	sr := &StopReply{Kind: resp[0]}
	switch resp[0] {
	case 'T':
		sig, err := strconv.ParseUint(string(resp[1:3]), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("malformed stop packet: %s", resp)
		}
		sr.Signal = uint8(sig)
	case 'W', 'X':
		// process exited, next two character are exit code or signal
		semicolon := bytes.IndexByte(resp, ';')
		if semicolon < 0 {
			semicolon = len(resp)
		}
		status, err := strconv.ParseUint(string(resp[1:semicolon]), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("malformed exit packet: %s", resp)
		}
		if resp[0] == 'W' {
			sr.ExitStatus = int(status)
		} else {
			sr.Signal = uint8(status)
		}
		return sr, nil
	default:
		return nil, fmt.Errorf("unexpected stop packet %c", resp[0])
	}

	sr.Fields = packet.ParseKeyValues(string(resp[3:]))
	sr.Registers = make(map[int][]byte)
	for _, kv := range sr.Fields {
		var err error
		switch kv.Key {
		case "thread":
			sr.ThreadID, err = packet.ParseHexUint(kv.Value)
		case "name":
			sr.Name = kv.Value
		case "hexname":
			var name []byte
			name, err = packet.ParseHexBytes(kv.Value)
			sr.Name = string(name)
		case "threads":
			sr.Threads, err = parseHexList(kv.Value)
		case "thread-pcs":
			sr.ThreadPCs, err = parseHexList(kv.Value)
		case "reason":
			sr.Reason = kv.Value
		default:
			if regnum, perr := strconv.ParseUint(kv.Key, 16, 32); perr == nil && len(kv.Key) == 2 {
				sr.Registers[int(regnum)], err = packet.ParseHexBytes(kv.Value)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("malformed stop packet field %s: %w", kv.Key, err)
		}
	}
	return sr, nil
}

func (c *Conn) stopReply(payload []byte, context string) (*StopReply, error) {
	resp, err := c.Exec(payload, context)
	if err != nil {
		return nil, err
	}
	return ParseStopReply(resp)
}

// HaltReason sends ? and returns the stop reply of the current stop.
func (c *Conn) HaltReason() (*StopReply, error) {
	return c.stopReply([]byte("?"), "halt reason")
}

// ThreadStopInfo returns the stop reply for thread tid.
func (c *Conn) ThreadStopInfo(tid uint64) (*StopReply, error) {
	return c.stopReply([]byte(fmt.Sprintf("qThreadStopInfo%x", tid)), "thread stop info")
}

// Continue resumes the inferior and waits for it to stop.
func (c *Conn) Continue() (*StopReply, error) {
	return c.stopReply([]byte("vCont;c"), "continue")
}

// Resume resumes the inferior without waiting, WaitStop must be called
// to read the stop reply.
func (c *Conn) Resume() error {
	return c.Send([]byte("vCont;c"))
}

// WaitStop waits for the stop reply following Resume.
func (c *Conn) WaitStop() (*StopReply, error) {
	resp, err := c.Recv("resume", false)
	if err != nil {
		return nil, err
	}
	return ParseStopReply(resp)
}

// Step steps thread tid.
func (c *Conn) Step(tid uint64) (*StopReply, error) {
	return c.stopReply([]byte(fmt.Sprintf("vCont;s:%x", tid)), "step")
}

// Kill kills the inferior, the stub ends the session.
func (c *Conn) Kill() (*StopReply, error) {
	return c.stopReply([]byte("k"), "kill")
}

// Detach detaches from the inferior, the stub ends the session.
func (c *Conn) Detach() error {
	_, err := c.Exec([]byte("D"), "detach")
	return err
}

// QueryThreads lists the live threads with qfThreadInfo/qsThreadInfo.
func (c *Conn) QueryThreads() ([]uint64, error) {
	var threads []uint64
	cmd := "qfThreadInfo"
	for {
		resp, err := c.Exec([]byte(cmd), "thread info")
		if err != nil {
			return nil, err
		}
		switch resp[0] {
		case 'l':
			return threads, nil
		case 'm':
			tids, err := parseHexList(string(resp[1:]))
			if err != nil {
				return nil, &GdbMalformedThreadIDError{string(resp[1:])}
			}
			threads = append(threads, tids...)
		default:
			return nil, errors.New("malformed qfThreadInfo response")
		}
		cmd = "qsThreadInfo"
	}
}

// GdbMalformedThreadIDError is returned when the stub responds with a
// thread ID that is not a valid hex thread ID.
type GdbMalformedThreadIDError struct {
	tid string
}

func (err *GdbMalformedThreadIDError) Error() string {
	return fmt.Sprintf("malformed thread ID %q", err.tid)
}

// ThreadsInfo executes jThreadsInfo.
func (c *Conn) ThreadsInfo() ([]packet.ThreadInfo, error) {
	resp, err := c.Exec([]byte("jThreadsInfo"), "threads info")
	if err != nil {
		return nil, err
	}
	return packet.UnmarshalThreadsInfo(resp)
}

// RegisterInfo is a register as described by qRegisterInfo.
type RegisterInfo struct {
	Regnum  int
	Name    string
	AltName string
	Generic string
	Bitsize int
	Offset  int
	Fields  packet.KeyValues
}

// RegisterInfo reads the description of every register.
func (c *Conn) RegisterInfo() ([]RegisterInfo, error) {
	var regs []RegisterInfo
	for regnum := 0; ; regnum++ {
		resp, err := c.Exec([]byte(fmt.Sprintf("qRegisterInfo%x", regnum)), "register info")
		if err != nil {
			var gdberr *ProtocolError
			if regnum > 0 && errors.As(err, &gdberr) && gdberr.Code != "" {
				return regs, nil
			}
			return nil, err
		}
		ri := RegisterInfo{Regnum: regnum, Fields: packet.ParseKeyValues(string(resp))}
		ri.Name, _ = ri.Fields.Get("name")
		ri.AltName, _ = ri.Fields.Get("alt-name")
		ri.Generic, _ = ri.Fields.Get("generic")
		if v, ok := ri.Fields.Get("bitsize"); ok {
			ri.Bitsize, _ = strconv.Atoi(v)
		}
		if v, ok := ri.Fields.Get("offset"); ok {
			ri.Offset, _ = strconv.Atoi(v)
		}
		regs = append(regs, ri)
	}
}

// ProcessInfo executes qProcessInfo, hex encoded values are decoded.
func (c *Conn) ProcessInfo() (map[string]string, error) {
	resp, err := c.Exec([]byte("qProcessInfo"), "process info")
	if err != nil {
		return nil, err
	}
	pi := make(map[string]string)
	for _, kv := range packet.ParseKeyValues(string(resp)) {
		switch kv.Key {
		case "name", "triple":
			v, err := packet.ParseHexBytes(kv.Value)
			if err != nil {
				return nil, fmt.Errorf("malformed %s in process info: %w", kv.Key, err)
			}
			pi[kv.Key] = string(v)
		default:
			pi[kv.Key] = kv.Value
		}
	}
	return pi, nil
}

// ReadMemory reads memory with m packets.
func (c *Conn) ReadMemory(addr uint64, size int) ([]byte, error) {
	data := make([]byte, 0, size)
	for size > 0 {
		sz := size
		if dataSize := (c.packetSize - 4) / 2; sz > dataSize {
			sz = dataSize
		}
		resp, err := c.Exec([]byte(fmt.Sprintf("m%x,%x", addr+uint64(len(data)), sz)), "memory read")
		if err != nil {
			return nil, err
		}
		chunk, err := packet.ParseHexBytes(string(resp))
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, fmt.Errorf("short memory read at %#x", addr+uint64(len(data)))
		}
		data = append(data, chunk...)
		size -= len(chunk)
	}
	return data, nil
}

// ReadMemoryBinary reads size bytes at addr with a single x packet.
func (c *Conn) ReadMemoryBinary(addr uint64, size int) ([]byte, error) {
	payload := []byte(fmt.Sprintf("x%x,%x", addr, size))
	if err := c.Send(payload); err != nil {
		return nil, err
	}
	resp, err := c.recv(payload, "binary memory read", true)
	if err != nil {
		return nil, err
	}
	if size == 0 && string(resp) == "OK" {
		return []byte{}, nil
	}
	return resp, nil
}

// WriteMemory writes data at addr with an M packet.
func (c *Conn) WriteMemory(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := c.Exec([]byte(fmt.Sprintf("M%x,%x:%s", addr, len(data), packet.HexBytes(data))), "memory write")
	return err
}

func (c *Conn) appendThreadSelector(buf []byte, tid uint64) []byte {
	if !c.threadSuffixSupported {
		return buf
	}
	return append(buf, fmt.Sprintf(";thread:%x;", tid)...)
}

func (c *Conn) selectThread(tid uint64, context string) error {
	if c.threadSuffixSupported {
		return nil
	}
	_, err := c.Exec([]byte(fmt.Sprintf("Hg%x", tid)), context)
	return err
}

// ReadRegister reads register regnum of thread tid.
func (c *Conn) ReadRegister(tid uint64, regnum int) ([]byte, error) {
	if err := c.selectThread(tid, "register read"); err != nil {
		return nil, err
	}
	resp, err := c.Exec(c.appendThreadSelector([]byte(fmt.Sprintf("p%x", regnum)), tid), "register read")
	if err != nil {
		return nil, err
	}
	return packet.ParseHexBytes(string(resp))
}

// ReadRegisters reads every register of thread tid.
func (c *Conn) ReadRegisters(tid uint64) ([]byte, error) {
	if err := c.selectThread(tid, "registers read"); err != nil {
		return nil, err
	}
	resp, err := c.Exec(c.appendThreadSelector([]byte("g"), tid), "registers read")
	if err != nil {
		return nil, err
	}
	return packet.ParseHexBytes(string(resp))
}

// WriteRegister writes register regnum of thread tid.
func (c *Conn) WriteRegister(tid uint64, regnum int, data []byte) error {
	if err := c.selectThread(tid, "register write"); err != nil {
		return err
	}
	_, err := c.Exec(c.appendThreadSelector([]byte(fmt.Sprintf("P%x=%s", regnum, packet.HexBytes(data))), tid), "register write")
	return err
}

// SetBreakpoint inserts a software breakpoint at addr.
func (c *Conn) SetBreakpoint(addr uint64) error {
	_, err := c.Exec([]byte(fmt.Sprintf("Z0,%x,1", addr)), "set breakpoint")
	return err
}

// ClearBreakpoint removes the software breakpoint at addr.
func (c *Conn) ClearBreakpoint(addr uint64) error {
	_, err := c.Exec([]byte(fmt.Sprintf("z0,%x,1", addr)), "clear breakpoint")
	return err
}
