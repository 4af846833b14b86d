package inferior

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// fakeTarget is the minimal Target used to exercise the Registry.
type fakeTarget struct {
	arch    *Arch
	tids    []uint64
	regs    map[uint64][]byte
	readErr error
}

func newFakeTarget(arch *Arch, tids ...uint64) *fakeTarget {
	ft := &fakeTarget{arch: arch, regs: map[uint64][]byte{}}
	ft.setThreads(tids...)
	return ft
}

func (ft *fakeTarget) setThreads(tids ...uint64) {
	ft.tids = tids
	pc, _ := ft.arch.FindPCRegister()
	for _, tid := range tids {
		if _, ok := ft.regs[tid]; !ok {
			buf := make([]byte, ft.arch.RegistersSize())
			pc.PutUint(buf, 0x400000+tid)
			ft.regs[tid] = buf
		}
	}
}

func (ft *fakeTarget) Arch() *Arch                  { return ft.arch }
func (ft *fakeTarget) Pid() int                     { return 1 }
func (ft *fakeTarget) Name() string                 { return "fake" }
func (ft *fakeTarget) ThreadIDs() ([]uint64, error) { return ft.tids, nil }
func (ft *fakeTarget) ThreadName(tid uint64) string { return "fake" }
func (ft *fakeTarget) ReadRegisters(tid uint64, buf []byte) error {
	if ft.readErr != nil {
		return ft.readErr
	}
	copy(buf, ft.regs[tid])
	return nil
}
func (ft *fakeTarget) WriteRegisters(tid uint64, buf []byte) error {
	copy(ft.regs[tid], buf)
	return nil
}
func (ft *fakeTarget) ReadMemory(buf []byte, addr uint64) (int, error)   { return 0, errors.New("no memory") }
func (ft *fakeTarget) WriteMemory(addr uint64, data []byte) (int, error) { return 0, errors.New("no memory") }
func (ft *fakeTarget) SetBreakpoint(addr uint64) error                   { return nil }
func (ft *fakeTarget) ClearBreakpoint(addr uint64) error                 { return nil }
func (ft *fakeTarget) LastStop() (StopEvent, bool)                       { return StopEvent{}, false }
func (ft *fakeTarget) Resume() error                                     { return nil }
func (ft *fakeTarget) Step(tid uint64) error                             { return nil }
func (ft *fakeTarget) Interrupt() error                                  { return nil }
func (ft *fakeTarget) WaitForStop(ctx context.Context) (StopEvent, error) {
	<-ctx.Done()
	return StopEvent{}, ctx.Err()
}
func (ft *fakeTarget) Kill() error   { return nil }
func (ft *fakeTarget) Detach() error { return nil }

func TestRegistryCaptureTracksThreads(t *testing.T) {
	ft := newFakeTarget(AMD64(), 3, 1, 2)
	r := NewRegistry(ft.arch)

	threads, err := r.Capture(ft)
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 3 || threads[0].ID != 1 || threads[1].ID != 2 || threads[2].ID != 3 {
		t.Fatalf("wrong threads %v", threads)
	}

	// thread 2 exits, thread 7 is created
	ft.setThreads(1, 3, 7)
	threads, err = r.Capture(ft)
	if err != nil {
		t.Fatal(err)
	}
	var ids []uint64
	for _, th := range threads {
		ids = append(ids, th.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 3 || ids[2] != 7 {
		t.Fatalf("wrong thread list after update: %v", ids)
	}
	if _, err := r.Thread(2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("exited thread still present: %v", err)
	}
}

func TestRegistryCaptureReturnsCopies(t *testing.T) {
	ft := newFakeTarget(AMD64(), 1)
	r := NewRegistry(ft.arch)
	threads, err := r.Capture(ft)
	if err != nil {
		t.Fatal(err)
	}
	threads[0].Regs[0] = 0xff
	th, _ := r.Thread(1)
	if th.Regs[0] == 0xff {
		t.Fatal("snapshot aliases registry storage")
	}
}

func TestRegistryCaptureError(t *testing.T) {
	ft := newFakeTarget(AMD64(), 1, 2)
	r := NewRegistry(ft.arch)
	if _, err := r.Capture(ft); err != nil {
		t.Fatal(err)
	}

	// a failed capture leaves the previous stop in place
	ft.setThreads(2, 3)
	pc, _ := ft.arch.FindPCRegister()
	pc.PutUint(ft.regs[2], 0x500000)
	ft.readErr = errors.New("boom")
	if _, err := r.Capture(ft); err == nil {
		t.Fatal("expected error")
	}
	threads := r.Threads()
	if len(threads) != 2 || threads[0].ID != 1 || threads[1].ID != 2 {
		t.Fatalf("thread list changed by failed capture: %v", threads)
	}
	if got := pc.Uint(threads[1].Regs); got != 0x400002 {
		t.Fatalf("registers changed by failed capture: %#x", got)
	}
}

func TestRegistryRegister(t *testing.T) {
	ft := newFakeTarget(AMD64(), 0x10)
	r := NewRegistry(ft.arch)
	if _, err := r.Capture(ft); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"rip", "pc", "16", "0x10"} {
		val, ri, err := r.Register(0x10, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if ri.Name != "rip" {
			t.Errorf("%s: found %s", name, ri.Name)
		}
		if !bytes.Equal(val, []byte{0x10, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00}) {
			t.Errorf("%s: wrong value %x", name, val)
		}
	}
	if _, _, err := r.Register(0x10, "xmm0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, _, err := r.Register(0x11, "rip"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRegistryUpdate(t *testing.T) {
	r := NewRegistry(ARM64())
	r.Update([]uint64{5, 6})
	r.Update([]uint64{6, 8})
	threads := r.Threads()
	if len(threads) != 2 || threads[0].ID != 6 || threads[1].ID != 8 {
		t.Fatalf("wrong threads %v", threads)
	}
	if len(threads[0].Regs) != ARM64().RegistersSize() {
		t.Fatalf("wrong register buffer size %d", len(threads[0].Regs))
	}
}

func TestRegistryCaptureDuplicateThread(t *testing.T) {
	ft := newFakeTarget(AMD64(), 1, 2)
	ft.tids = []uint64{1, 2, 1}
	_, err := NewRegistry(ft.arch).Capture(ft)
	var dup *DuplicateThreadError
	if !errors.As(err, &dup) || dup.TID != 1 {
		t.Fatalf("expected duplicate thread error, got %v", err)
	}
}
