package gdbstub

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-delve/gdbstub/pkg/gdbstub/packet"
	"github.com/go-delve/gdbstub/pkg/inferior"
)

// Responder encodes snapshots as stop replies and jThreadsInfo responses.
type Responder struct {
	arch *inferior.Arch
	mem  *memoryCache

	sp, fp *inferior.RegisterInfo // fp is nil if the arch has no frame pointer
	// expedited registers are sent in every stop reply
	expedited []*inferior.RegisterInfo

	stackChunkSize int
	frameWalkDepth int
}

func newResponder(arch *inferior.Arch, mem *memoryCache, stackChunkSize, frameWalkDepth int) (*Responder, error) {
	r := &Responder{arch: arch, mem: mem, stackChunkSize: stackChunkSize, frameWalkDepth: frameWalkDepth}
	pc, err := arch.FindPCRegister()
	if err != nil {
		return nil, err
	}
	r.sp, err = arch.FindGeneric(inferior.GenericSP)
	if err != nil {
		return nil, err
	}
	r.fp, _ = arch.FindGeneric(inferior.GenericFP)
	r.expedited = []*inferior.RegisterInfo{pc, r.sp}
	if r.fp != nil {
		r.expedited = append(r.expedited, r.fp)
	}
	return r, nil
}

// StopReply returns the stop reply for thread tid of snap, tid zero means
// the thread that caused the stop.
// The threads and thread-pcs fields are only included in the
// ExtendedStopReply mode.
func (r *Responder) StopReply(snap *StopSnapshot, tid uint64, mode StopReplyMode) ([]byte, error) {
	ev := snap.Event
	if ev.Exited {
		if ev.Signal != 0 {
			return []byte(fmt.Sprintf("X%02x", ev.Signal)), nil
		}
		return []byte(fmt.Sprintf("W%02x", uint8(ev.ExitStatus))), nil
	}

	var th *ThreadState
	var ok bool
	if tid == 0 {
		th, ok = snap.StoppingThread()
	} else {
		th, ok = snap.Thread(tid)
		if !ok {
			return nil, &inferior.NotFoundError{What: "thread", Key: strconv.FormatUint(tid, 16)}
		}
	}
	if !ok {
		// no live thread, nothing but the signal can be reported
		return []byte(fmt.Sprintf("T%02x", ev.Signal)), nil
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "T%02xthread:%x;", th.Signal, th.ID)
	writeThreadName(&buf, th.Name)
	if mode == ExtendedStopReply {
		buf.WriteString("threads:")
		for i := range snap.Threads {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(&buf, "%x", snap.Threads[i].ID)
		}
		buf.WriteString(";thread-pcs:")
		for i := range snap.Threads {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(&buf, "%x", snap.Threads[i].PC)
		}
		buf.WriteByte(';')
	}
	for _, ri := range r.expedited {
		fmt.Fprintf(&buf, "%02x:%s;", ri.Regnum, packet.HexBytes(ri.Value(th.Regs)))
	}
	if th.Reason != "" {
		fmt.Fprintf(&buf, "reason:%s;", th.Reason)
	}
	return buf.Bytes(), nil
}

// ThreadsInfo returns the jThreadsInfo text for snap: every thread in the
// order of snap, its general purpose registers and the memory around its
// stack pointer and frame pointer chain.
func (r *Responder) ThreadsInfo(snap *StopSnapshot) ([]byte, error) {
	infos := make([]packet.ThreadInfo, 0, len(snap.Threads))
	for i := range snap.Threads {
		th := &snap.Threads[i]
		ti := packet.ThreadInfo{
			TID:       th.ID,
			Name:      th.Name,
			Reason:    th.Reason,
			Signal:    int(th.Signal),
			Registers: make(map[int][]byte),
			Memory:    r.threadMemory(snap.Generation, th),
		}
		for j := range r.arch.Registers {
			ri := &r.arch.Registers[j]
			if ri.Set == inferior.GeneralPurposeSet || ri.Generic != "" {
				ti.Registers[ri.Regnum] = ri.Value(th.Regs)
			}
		}
		infos = append(infos, ti)
	}
	return packet.MarshalThreadsInfo(infos)
}

// threadMemory reads a chunk of the stack of th and the frame records
// reachable from its frame pointer. Ranges that can not be read are left
// out.
func (r *Responder) threadMemory(generation uint64, th *ThreadState) []packet.MemoryChunk {
	var chunks []packet.MemoryChunk
	sp := r.sp.Uint(th.Regs)
	if r.stackChunkSize > 0 {
		if data, err := r.mem.read(generation, sp, r.stackChunkSize); err == nil {
			chunks = append(chunks, packet.MemoryChunk{Address: sp, Bytes: data})
		}
	}
	if r.fp == nil {
		return chunks
	}
	recordSize := 2 * r.arch.PtrSize
	fp := r.fp.Uint(th.Regs)
	for depth := 0; depth < r.frameWalkDepth && fp != 0; depth++ {
		data, err := r.mem.read(generation, fp, recordSize)
		if err != nil {
			break
		}
		chunks = append(chunks, packet.MemoryChunk{Address: fp, Bytes: data})
		next := r.arch.PtrUint(data)
		if next <= fp {
			break
		}
		fp = next
	}
	return chunks
}

// writeThreadName appends the name field of a stop reply. Names that can
// not be sent as they are use the hex encoded hexname key.
func writeThreadName(buf *bytes.Buffer, name string) {
	if name == "" {
		return
	}
	for i := 0; i < len(name); i++ {
		if ch := name[i]; ch < 0x20 || ch > 0x7e || strings.IndexByte("$#+-;:", ch) >= 0 {
			fmt.Fprintf(buf, "hexname:%s;", packet.HexBytes([]byte(name)))
			return
		}
	}
	fmt.Fprintf(buf, "name:%s;", name)
}
