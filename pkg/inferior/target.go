// Package inferior describes the process being debugged: its register
// layout, its live threads and the operations the stub needs to control it.
package inferior

import (
	"context"
	"errors"
	"fmt"
)

// Signal numbers, in the target independent numbering used on the wire.
const (
	SignalNone  uint8 = 0x0
	SignalInt   uint8 = 0x2
	SignalTrap  uint8 = 0x5
	SignalKill  uint8 = 0x9
	SignalSegv  uint8 = 0xb
	SignalChild uint8 = 0x11
	SignalStop  uint8 = 0x13
)

// Stop reasons reported in stop replies.
const (
	ReasonNone       = ""
	ReasonBreakpoint = "breakpoint"
	ReasonTrace      = "trace"
	ReasonSignal     = "signal"
	ReasonException  = "exception"
)

// StopEvent is what the target reports when it halts.
type StopEvent struct {
	ThreadID   uint64 // thread that caused the stop, zero if none
	Signal     uint8
	Reason     string
	Exited     bool // the process is gone, ExitStatus (or Signal if non zero) says how
	ExitStatus int
}

// Target is the debugged process as seen by the stub.
//
// The whole process is stopped whenever WaitForStop returns, every other
// method except Interrupt may only be called while the process is stopped.
type Target interface {
	Arch() *Arch
	Pid() int
	Name() string

	// ThreadIDs returns the identifiers of the live threads.
	ThreadIDs() ([]uint64, error)
	ThreadName(tid uint64) string
	// ReadRegisters fills buf, Arch().RegistersSize() bytes long, with the
	// registers of thread tid in target byte order.
	ReadRegisters(tid uint64, buf []byte) error
	WriteRegisters(tid uint64, buf []byte) error

	ReadMemory(buf []byte, addr uint64) (int, error)
	WriteMemory(addr uint64, data []byte) (int, error)

	SetBreakpoint(addr uint64) error
	ClearBreakpoint(addr uint64) error

	// LastStop returns the event that caused the current stop.
	LastStop() (StopEvent, bool)
	Resume() error
	Step(tid uint64) error
	Interrupt() error
	// WaitForStop blocks until the process stops after Resume or Step.
	WaitForStop(ctx context.Context) (StopEvent, error)

	Kill() error
	Detach() error
}

// ErrNotFound is matched, through errors.Is, by every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError is returned when a register, thread or architecture does
// not exist.
type NotFoundError struct {
	What string
	Key  string
}

func (err *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", err.What, err.Key)
}

func (err *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ErrProcessExited indicates that the process has exited and contains both
// process id and exit status.
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// DuplicateThreadError is returned when the target reports the same thread
// twice in its thread list.
type DuplicateThreadError struct {
	TID uint64
}

func (err *DuplicateThreadError) Error() string {
	return fmt.Sprintf("thread %#x reported more than once", err.TID)
}

// ErrProcessRunning is returned by operations that need a stopped process.
var ErrProcessRunning = errors.New("process is running")
