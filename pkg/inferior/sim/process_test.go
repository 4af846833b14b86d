package sim

import (
	"context"
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/gdbstub/pkg/inferior"
)

func waitForStop(t *testing.T, p *Process) inferior.StopEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ev, err := p.WaitForStop(ctx)
	require.NoError(t, err)
	return ev
}

func readReg(t *testing.T, p *Process, tid uint64, ri *inferior.RegisterInfo) uint64 {
	t.Helper()
	regs := make([]byte, p.Arch().RegistersSize())
	require.NoError(t, p.ReadRegisters(tid, regs))
	return ri.Uint(regs)
}

func TestNewProcess(t *testing.T) {
	p, err := New(DefaultDescription())
	require.NoError(t, err)
	tids, err := p.ThreadIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint64{4242, 4243, 4244, 4245, 4246}, tids)
	assert.Equal(t, "a.out", p.ThreadName(4242))
	assert.Equal(t, "worker-2", p.ThreadName(4244))

	_, hasLast := p.LastStop()
	assert.False(t, hasLast)

	// every thread starts at the beginning of its own loop
	for i, tid := range tids {
		assert.Equal(t, uint64(0x400000+i*0x40), readReg(t, p, tid, p.pc))
	}
}

func TestBreakpointStopsAllThreads(t *testing.T) {
	p, err := New(DefaultDescription())
	require.NoError(t, err)
	bp := uint64(0x400000 + 2*0x40 + 8)
	require.NoError(t, p.SetBreakpoint(bp))
	require.NoError(t, p.Resume())

	ev := waitForStop(t, p)
	assert.Equal(t, uint64(4244), ev.ThreadID)
	assert.Equal(t, inferior.SignalTrap, ev.Signal)
	assert.Equal(t, inferior.ReasonBreakpoint, ev.Reason)
	assert.Equal(t, bp, readReg(t, p, 4244, p.pc))

	last, ok := p.LastStop()
	require.True(t, ok)
	assert.Equal(t, ev, last)

	// the process is stopped: registers do not change anymore
	before := readReg(t, p, 4242, p.pc)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, before, readReg(t, p, 4242, p.pc))

	// the step counter of the stopping thread is stored at its sp
	sp := readReg(t, p, 4244, p.sp)
	buf := make([]byte, 8)
	_, err = p.ReadMemory(buf, sp)
	require.NoError(t, err)
	assert.True(t, p.arch.PtrUint(buf) >= 2)

	require.NoError(t, p.ClearBreakpoint(bp))
	assert.True(t, errors.Is(p.ClearBreakpoint(bp), inferior.ErrNotFound))
}

func TestInterrupt(t *testing.T) {
	p, err := New(DefaultDescription())
	require.NoError(t, err)
	require.NoError(t, p.Resume())
	assert.Equal(t, inferior.ErrProcessRunning, p.Resume())

	require.NoError(t, p.Interrupt())
	ev := waitForStop(t, p)
	assert.Equal(t, inferior.SignalStop, ev.Signal)
	assert.Equal(t, uint64(4242), ev.ThreadID)

	// interrupting a stopped process does nothing
	require.NoError(t, p.Interrupt())
	require.NoError(t, p.Resume())
	require.NoError(t, p.Interrupt())
	waitForStop(t, p)
}

func TestStep(t *testing.T) {
	p, err := New(DefaultDescription())
	require.NoError(t, err)
	require.NoError(t, p.Step(4243))
	ev := waitForStop(t, p)
	assert.Equal(t, uint64(4243), ev.ThreadID)
	assert.Equal(t, inferior.ReasonTrace, ev.Reason)
	assert.Equal(t, uint64(0x400044), readReg(t, p, 4243, p.pc))
	assert.Equal(t, uint64(0x400000), readReg(t, p, 4242, p.pc))

	// the loop wraps around
	for i := 0; i < 15; i++ {
		require.NoError(t, p.Step(4243))
		waitForStop(t, p)
	}
	assert.Equal(t, uint64(0x400040), readReg(t, p, 4243, p.pc))
}

func TestFrameChain(t *testing.T) {
	desc := DefaultDescription()
	for _, arch := range []string{"amd64", "arm64", "ppc64"} {
		desc.Arch = arch
		p, err := New(desc)
		require.NoError(t, err)

		fp := readReg(t, p, 4242, p.fp)
		sp := readReg(t, p, 4242, p.sp)
		require.True(t, fp > sp, arch)
		frames := 0
		for fp != 0 {
			buf := make([]byte, 2*p.arch.PtrSize)
			_, err := p.ReadMemory(buf, fp)
			require.NoError(t, err, arch)
			next := p.arch.PtrUint(buf)
			assert.Equal(t, uint64(0x400000+frames*4), p.arch.PtrUint(buf[p.arch.PtrSize:]), arch)
			require.True(t, next == 0 || next > fp, arch)
			fp = next
			frames++
		}
		assert.Equal(t, desc.Frames, frames, arch)
	}
}

func TestMemory(t *testing.T) {
	p, err := New(DefaultDescription())
	require.NoError(t, err)

	n, err := p.WriteMemory(0x400010, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	buf := make([]byte, 5)
	_, err = p.ReadMemory(buf, 0x40000f)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0f, 1, 2, 3, 0x13}, buf)

	_, err = p.ReadMemory(buf, 0x10)
	assert.Error(t, err)
	// ranges crossing the end of a region are not readable
	_, err = p.ReadMemory(buf, 0x400000+5*0x40-2)
	assert.Error(t, err)
}

func TestThreadLifecycle(t *testing.T) {
	desc := DefaultDescription()
	desc.Threads = 2
	p, err := New(desc)
	require.NoError(t, err)

	tid, err := p.SpawnThread()
	require.NoError(t, err)
	assert.Equal(t, uint64(4244), tid)
	tids, _ := p.ThreadIDs()
	assert.Equal(t, []uint64{4242, 4243, 4244}, tids)

	require.NoError(t, p.ExitThread(4243, 0))
	tids, _ = p.ThreadIDs()
	assert.Equal(t, []uint64{4242, 4244}, tids)
	assert.True(t, errors.Is(p.ExitThread(4243, 0), inferior.ErrNotFound))

	require.NoError(t, p.ExitThread(4242, 0))
	require.NoError(t, p.ExitThread(4244, 3))
	ev, ok := p.LastStop()
	require.True(t, ok)
	assert.True(t, ev.Exited)
	assert.Equal(t, 3, ev.ExitStatus)

	_, err = p.ThreadIDs()
	var exited inferior.ErrProcessExited
	assert.True(t, errors.As(err, &exited))
	assert.Error(t, p.Resume())
}

func TestExitWhileRunning(t *testing.T) {
	p, err := New(DefaultDescription())
	require.NoError(t, err)
	require.NoError(t, p.Resume())
	require.NoError(t, p.Kill())
	ev := waitForStop(t, p)
	assert.True(t, ev.Exited)
	assert.Equal(t, inferior.SignalKill, ev.Signal)
}

func TestLoadDescription(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inferior.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte("arch: ppc64\nthreads: 3\nbreakpoints: [0x400048]\n"), 0644))
	desc, err := LoadDescription(path)
	require.NoError(t, err)
	assert.Equal(t, "ppc64", desc.Arch)
	assert.Equal(t, 3, desc.Threads)
	assert.Equal(t, []uint64{0x400048}, desc.Breakpoints)
	assert.Equal(t, "a.out", desc.Name)

	require.NoError(t, ioutil.WriteFile(path, []byte("threads: 0\n"), 0644))
	_, err = LoadDescription(path)
	assert.Error(t, err)

	_, err = LoadDescription(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
