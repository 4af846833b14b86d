package gdbstub

import (
	"errors"
	"fmt"

	"github.com/go-delve/gdbstub/pkg/inferior"
)

// ThreadState is the state of one thread at a stop.
type ThreadState struct {
	ID     uint64
	Name   string
	PC     uint64
	Regs   []byte // every register, in target byte order
	Signal uint8
	Reason string
}

// StopSnapshot is the consistent view of the inferior at one stop.
// It is never modified once built: the stop reply, jThreadsInfo and
// qThreadStopInfo answers of the same stop are all built from it.
type StopSnapshot struct {
	Generation uint64
	Event      inferior.StopEvent
	// Threads is sorted by ascending ID.
	Threads []ThreadState
}

// Thread returns the state of thread tid.
func (snap *StopSnapshot) Thread(tid uint64) (*ThreadState, bool) {
	for i := range snap.Threads {
		if snap.Threads[i].ID == tid {
			return &snap.Threads[i], true
		}
	}
	return nil, false
}

// StoppingThread returns the thread that caused the stop, if it is still
// alive, or the first thread.
func (snap *StopSnapshot) StoppingThread() (*ThreadState, bool) {
	if th, ok := snap.Thread(snap.Event.ThreadID); ok {
		return th, true
	}
	if len(snap.Threads) > 0 {
		return &snap.Threads[0], true
	}
	return nil, false
}

// Aggregator turns stop events of the target into snapshots.
type Aggregator struct {
	target     inferior.Target
	registry   *inferior.Registry
	pc         *inferior.RegisterInfo
	generation uint64
}

// NewAggregator returns an aggregator for tgt whose threads are tracked by
// registry.
func NewAggregator(tgt inferior.Target, registry *inferior.Registry) (*Aggregator, error) {
	pc, err := registry.FindPCRegister()
	if err != nil {
		return nil, err
	}
	return &Aggregator{target: tgt, registry: registry, pc: pc}, nil
}

// Generation returns the generation of the last snapshot.
func (a *Aggregator) Generation() uint64 {
	return a.generation
}

// Capture builds the snapshot for the stop described by ev. It must be
// called while the whole process is stopped.
//
// When the process has exited, or has no threads, Capture returns
// ErrNoLiveThreads along with a snapshot holding only the event.
func (a *Aggregator) Capture(ev inferior.StopEvent) (*StopSnapshot, error) {
	a.generation++
	snap := &StopSnapshot{Generation: a.generation, Event: ev}
	if ev.Exited {
		a.registry.Update(nil)
		return snap, ErrNoLiveThreads
	}

	threads, err := a.registry.Capture(a.target)
	if err != nil {
		var dup *inferior.DuplicateThreadError
		if errors.As(err, &dup) {
			return nil, &InvariantError{Reason: err.Error()}
		}
		return nil, fmt.Errorf("could not capture threads: %w", err)
	}
	if len(threads) == 0 {
		return snap, ErrNoLiveThreads
	}

	// the event is attributed to the first thread if its thread is gone
	stopping := threads[0].ID
	for i := range threads {
		if threads[i].ID == ev.ThreadID {
			stopping = ev.ThreadID
		}
	}

	snap.Threads = make([]ThreadState, len(threads))
	for i := range threads {
		th := &threads[i]
		if i > 0 && th.ID <= threads[i-1].ID {
			return nil, &InvariantError{Reason: fmt.Sprintf("thread %#x listed twice", th.ID)}
		}
		ts := ThreadState{
			ID:   th.ID,
			Name: th.Name,
			PC:   a.pc.Uint(th.Regs),
			Regs: th.Regs,
		}
		if th.ID == stopping {
			ts.Signal = ev.Signal
			ts.Reason = ev.Reason
		}
		snap.Threads[i] = ts
	}
	return snap, nil
}
