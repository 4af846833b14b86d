// Package sim implements a simulated multi-threaded inferior.
//
// Every thread of a simulated process runs on its own goroutine while the
// process is resumed. A thread loops over a small range of the code region,
// advancing its program counter by one instruction per step and storing its
// step counter at the top of its stack. The process has all-stop semantics:
// when any thread hits a breakpoint, or the process is interrupted, every
// thread halts before the stop is reported.
package sim

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/go-delve/gdbstub/pkg/inferior"
	"github.com/go-delve/gdbstub/pkg/logflags"
)

type thread struct {
	id        uint64
	name      string
	regs      []byte
	loopStart uint64
	loopEnd   uint64
	steps     uint64
}

type region struct {
	addr uint64
	data []byte
}

func (r *region) contains(addr uint64, size int) bool {
	return addr >= r.addr && addr+uint64(size) <= r.addr+uint64(len(r.data)) && addr+uint64(size) >= addr
}

// Process is a simulated inferior, it implements inferior.Target.
type Process struct {
	desc Description
	arch *inferior.Arch
	pc   *inferior.RegisterInfo
	sp   *inferior.RegisterInfo
	fp   *inferior.RegisterInfo
	log  logflags.Logger

	mu          sync.Mutex
	threads     map[uint64]*thread
	nextTID     uint64
	stacks      int
	mem         []*region
	breakpoints map[uint64]bool

	running bool
	halt    chan struct{} // closed to stop the thread goroutines of the current resume
	wg      sync.WaitGroup
	stopc   chan inferior.StopEvent
	last    inferior.StopEvent
	hasLast bool
	exited  bool
}

// New creates a stopped process shaped as desc.
func New(desc Description) (*Process, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	arch, err := inferior.ArchByName(desc.Arch)
	if err != nil {
		return nil, err
	}
	p := &Process{
		desc:        desc,
		arch:        arch,
		log:         logflags.InferiorLogger(),
		threads:     make(map[uint64]*thread),
		nextTID:     desc.FirstTID,
		breakpoints: make(map[uint64]bool),
		stopc:       make(chan inferior.StopEvent, 1),
	}
	if p.pc, err = arch.FindPCRegister(); err != nil {
		return nil, err
	}
	if p.sp, err = arch.FindGeneric(inferior.GenericSP); err != nil {
		return nil, err
	}
	if p.fp, err = arch.FindGeneric(inferior.GenericFP); err != nil {
		return nil, err
	}

	code := make([]byte, uint64(desc.Threads)*desc.LoopSize)
	for i := range code {
		code[i] = byte(i)
	}
	p.mem = append(p.mem, &region{addr: desc.Code, data: code})

	for i := 0; i < desc.Threads; i++ {
		p.spawnLocked(i)
	}
	for _, addr := range desc.Breakpoints {
		p.breakpoints[addr] = true
	}
	p.log.Debugf("created process %d (%s) with %d threads", desc.Pid, arch.Name, desc.Threads)
	return p, nil
}

// spawnLocked creates a thread looping over the loop-th loop of the code
// region, with a fresh stack holding a frame pointer chain.
func (p *Process) spawnLocked(loop int) *thread {
	th := &thread{
		id:        p.nextTID,
		name:      p.desc.Name,
		regs:      make([]byte, p.arch.RegistersSize()),
		loopStart: p.desc.Code + uint64(loop)*p.desc.LoopSize,
	}
	th.loopEnd = th.loopStart + p.desc.LoopSize
	if th.id != p.desc.FirstTID {
		th.name = "worker-" + strconv.Itoa(int(th.id-p.desc.FirstTID))
	}
	p.nextTID++

	for i := range p.arch.Registers {
		p.arch.Registers[i].PutUint(th.regs, th.id<<16|uint64(i))
	}

	base := p.desc.Stack + uint64(p.stacks)*p.desc.StackSize
	p.stacks++
	stack := &region{addr: base, data: make([]byte, p.desc.StackSize)}
	for i := range stack.data {
		stack.data[i] = byte(th.id) ^ byte(i)
	}
	p.mem = append(p.mem, stack)

	top := base + p.desc.StackSize
	sp := top - stackSlack - uint64(p.desc.Frames+1)*frameRecordSize
	fp := uint64(0)
	if p.desc.Frames > 0 {
		fp = sp + stackSlack
	}
	ptr := uint64(p.arch.PtrSize)
	for k := 0; k < p.desc.Frames; k++ {
		rec := fp + uint64(k)*frameRecordSize
		next := rec + frameRecordSize
		if k == p.desc.Frames-1 {
			next = 0
		}
		p.arch.PutPtr(stack.data[rec-base:], next)
		p.arch.PutPtr(stack.data[rec-base+ptr:], th.loopStart+uint64(k)*instructionSize)
	}
	p.arch.PutPtr(stack.data[sp-base:], 0)

	p.pc.PutUint(th.regs, th.loopStart)
	p.sp.PutUint(th.regs, sp)
	p.fp.PutUint(th.regs, fp)
	p.threads[th.id] = th
	return th
}

// step executes one instruction of th.
func (p *Process) stepLocked(th *thread) uint64 {
	pc := p.pc.Uint(th.regs) + instructionSize
	if pc < th.loopStart || pc >= th.loopEnd {
		pc = th.loopStart
	}
	p.pc.PutUint(th.regs, pc)
	th.steps++
	sp := p.sp.Uint(th.regs)
	buf := make([]byte, p.arch.PtrSize)
	p.arch.PutPtr(buf, th.steps)
	p.writeLocked(sp, buf)
	return pc
}

func (p *Process) run(th *thread, halt chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-halt:
			return
		default:
		}
		p.mu.Lock()
		if p.halt != halt || p.threads[th.id] != th {
			p.mu.Unlock()
			return
		}
		pc := p.stepLocked(th)
		if p.breakpoints[pc] {
			p.log.Debugf("thread %#x hit breakpoint at %#x", th.id, pc)
			p.stopLocked(inferior.StopEvent{ThreadID: th.id, Signal: inferior.SignalTrap, Reason: inferior.ReasonBreakpoint})
		}
		p.mu.Unlock()
		runtime.Gosched()
	}
}

// stopLocked halts every thread and reports ev to WaitForStop.
func (p *Process) stopLocked(ev inferior.StopEvent) {
	if p.halt != nil {
		close(p.halt)
		p.halt = nil
	}
	p.running = false
	p.last, p.hasLast = ev, true
	for {
		select {
		case p.stopc <- ev:
			return
		default:
		}
		// a stop nobody waited for is superseded
		select {
		case <-p.stopc:
		default:
		}
	}
}

func (p *Process) Arch() *inferior.Arch { return p.arch }
func (p *Process) Pid() int             { return p.desc.Pid }
func (p *Process) Name() string         { return p.desc.Name }

func (p *Process) ThreadIDs() ([]uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return nil, inferior.ErrProcessExited{Pid: p.desc.Pid}
	}
	tids := make([]uint64, 0, len(p.threads))
	for tid := range p.threads {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids, nil
}

func (p *Process) ThreadName(tid uint64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if th, ok := p.threads[tid]; ok {
		return th.name
	}
	return ""
}

func (p *Process) stoppedThreadLocked(tid uint64) (*thread, error) {
	if p.running {
		return nil, inferior.ErrProcessRunning
	}
	th, ok := p.threads[tid]
	if !ok {
		return nil, &inferior.NotFoundError{What: "thread", Key: strconv.FormatUint(tid, 16)}
	}
	return th, nil
}

func (p *Process) ReadRegisters(tid uint64, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	th, err := p.stoppedThreadLocked(tid)
	if err != nil {
		return err
	}
	copy(buf, th.regs)
	return nil
}

func (p *Process) WriteRegisters(tid uint64, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	th, err := p.stoppedThreadLocked(tid)
	if err != nil {
		return err
	}
	if len(buf) != len(th.regs) {
		return fmt.Errorf("wrong register buffer size %d, expected %d", len(buf), len(th.regs))
	}
	copy(th.regs, buf)
	return nil
}

func (p *Process) findRegionLocked(addr uint64, size int) *region {
	for _, r := range p.mem {
		if r.contains(addr, size) {
			return r
		}
	}
	return nil
}

func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return 0, inferior.ErrProcessRunning
	}
	r := p.findRegionLocked(addr, len(buf))
	if r == nil {
		return 0, fmt.Errorf("could not read %#x bytes at %#x: address not mapped", len(buf), addr)
	}
	return copy(buf, r.data[addr-r.addr:]), nil
}

func (p *Process) writeLocked(addr uint64, data []byte) (int, error) {
	r := p.findRegionLocked(addr, len(data))
	if r == nil {
		return 0, fmt.Errorf("could not write %#x bytes at %#x: address not mapped", len(data), addr)
	}
	return copy(r.data[addr-r.addr:], data), nil
}

func (p *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return 0, inferior.ErrProcessRunning
	}
	return p.writeLocked(addr, data)
}

func (p *Process) SetBreakpoint(addr uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.findRegionLocked(addr, instructionSize) == nil {
		return fmt.Errorf("could not set breakpoint at %#x: address not mapped", addr)
	}
	p.breakpoints[addr] = true
	return nil
}

func (p *Process) ClearBreakpoint(addr uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.breakpoints[addr] {
		return &inferior.NotFoundError{What: "breakpoint", Key: fmt.Sprintf("%#x", addr)}
	}
	delete(p.breakpoints, addr)
	return nil
}

func (p *Process) LastStop() (inferior.StopEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.hasLast
}

// Resume lets every thread run until a breakpoint is hit or Interrupt is
// called.
func (p *Process) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return inferior.ErrProcessExited{Pid: p.desc.Pid, Status: p.last.ExitStatus}
	}
	if p.running {
		return inferior.ErrProcessRunning
	}
	p.running = true
	p.halt = make(chan struct{})
	for _, th := range p.threads {
		p.wg.Add(1)
		go p.run(th, p.halt)
	}
	return nil
}

// Step executes one instruction of thread tid, the other threads do not
// move.
func (p *Process) Step(tid uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return inferior.ErrProcessExited{Pid: p.desc.Pid, Status: p.last.ExitStatus}
	}
	th, err := p.stoppedThreadLocked(tid)
	if err != nil {
		return err
	}
	pc := p.stepLocked(th)
	ev := inferior.StopEvent{ThreadID: tid, Signal: inferior.SignalTrap, Reason: inferior.ReasonTrace}
	if p.breakpoints[pc] {
		ev.Reason = inferior.ReasonBreakpoint
	}
	p.stopLocked(ev)
	return nil
}

// Interrupt stops a running process, the lowest thread is reported as the
// stopping one. It does nothing if the process is already stopped.
func (p *Process) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	ev := inferior.StopEvent{Signal: inferior.SignalStop, Reason: inferior.ReasonSignal}
	for tid := range p.threads {
		if ev.ThreadID == 0 || tid < ev.ThreadID {
			ev.ThreadID = tid
		}
	}
	p.log.Debugf("process %d interrupted", p.desc.Pid)
	p.stopLocked(ev)
	return nil
}

// WaitForStop waits for the process to stop, once it returns every thread
// goroutine has terminated.
func (p *Process) WaitForStop(ctx context.Context) (inferior.StopEvent, error) {
	select {
	case ev := <-p.stopc:
		p.wg.Wait()
		return ev, nil
	case <-ctx.Done():
		return inferior.StopEvent{}, ctx.Err()
	}
}

// SpawnThread creates a new thread and returns its id.
// The thread starts running immediately if the process is running.
func (p *Process) SpawnThread() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return 0, inferior.ErrProcessExited{Pid: p.desc.Pid, Status: p.last.ExitStatus}
	}
	th := p.spawnLocked(int(p.nextTID-p.desc.FirstTID) % p.desc.Threads)
	if p.running {
		p.wg.Add(1)
		go p.run(th, p.halt)
	}
	p.log.Debugf("thread %#x created", th.id)
	return th.id, nil
}

// ExitThread terminates thread tid. When the last thread exits the process
// exits with status.
func (p *Process) ExitThread(tid uint64, status int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.threads[tid]; !ok {
		return &inferior.NotFoundError{What: "thread", Key: strconv.FormatUint(tid, 16)}
	}
	delete(p.threads, tid)
	p.log.Debugf("thread %#x exited", tid)
	if len(p.threads) == 0 {
		p.exitLocked(inferior.StopEvent{Exited: true, ExitStatus: status})
	}
	return nil
}

func (p *Process) exitLocked(ev inferior.StopEvent) {
	p.exited = true
	p.threads = map[uint64]*thread{}
	if p.running {
		p.stopLocked(ev)
		return
	}
	p.last, p.hasLast = ev, true
}

// Kill terminates the process.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return nil
	}
	p.log.Debugf("process %d killed", p.desc.Pid)
	p.exitLocked(inferior.StopEvent{Exited: true, Signal: inferior.SignalKill})
	return nil
}

// Detach releases the process, it keeps running on its own and can not be
// controlled anymore.
func (p *Process) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakpoints = map[uint64]bool{}
	if p.halt != nil {
		close(p.halt)
		p.halt = nil
	}
	p.running = false
	p.exited = true
	p.log.Debugf("detached from process %d", p.desc.Pid)
	return nil
}
