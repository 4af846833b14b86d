package inferior

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Thread is a live thread of the inferior as known by the Registry.
type Thread struct {
	ID   uint64
	Name string
	// Regs holds every register of the thread, laid out as described by
	// the RegisterInfo of the Arch, in target byte order.
	Regs []byte
}

func (t *Thread) clone() Thread {
	r := *t
	r.Regs = append([]byte(nil), t.Regs...)
	return r
}

// Registry tracks the live threads of the inferior and their registers.
// It is only mutated by the session that owns it, when the target reports
// a change in its thread list; protocol components only read it.
type Registry struct {
	mu      sync.RWMutex
	arch    *Arch
	threads map[uint64]*Thread
}

// NewRegistry returns an empty registry for threads of the given arch.
func NewRegistry(arch *Arch) *Registry {
	return &Registry{arch: arch, threads: make(map[uint64]*Thread)}
}

// Arch returns the register layout of the threads.
func (r *Registry) Arch() *Arch {
	return r.arch
}

// Len returns the number of live threads.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}

// threadUpdater reconciles the set of known threads with a thread list
// reported by the target: threads not seen are removed, new ones added.
type threadUpdater struct {
	r    *Registry
	seen map[uint64]bool
	done bool
}

func (tu *threadUpdater) Add(tids []uint64) {
	if tu.done {
		panic("threadUpdater: Add after Finish")
	}
	if tu.seen == nil {
		tu.seen = map[uint64]bool{}
	}
	for _, tid := range tids {
		tu.seen[tid] = true
		if _, found := tu.r.threads[tid]; !found {
			tu.r.threads[tid] = &Thread{ID: tid, Regs: make([]byte, tu.r.arch.RegistersSize())}
		}
	}
}

func (tu *threadUpdater) Finish() {
	tu.done = true
	for tid := range tu.r.threads {
		if !tu.seen[tid] {
			delete(tu.r.threads, tid)
		}
	}
}

// Update replaces the set of live threads with tids.
func (r *Registry) Update(tids []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tu := threadUpdater{r: r}
	tu.Add(tids)
	tu.Finish()
}

// Capture refreshes the thread list and the registers of every thread from
// tgt and returns a copy of all threads, sorted by ID.
// The registry is locked for the whole operation so that no reader can
// observe a partially reloaded state, and it is left unchanged when any
// read fails.
func (r *Registry) Capture(tgt Target) ([]Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tids, err := tgt.ThreadIDs()
	if err != nil {
		return nil, err
	}
	threads := make([]Thread, 0, len(tids))
	seen := make(map[uint64]bool, len(tids))
	for _, tid := range tids {
		if seen[tid] {
			return nil, &DuplicateThreadError{TID: tid}
		}
		seen[tid] = true
		th := Thread{ID: tid, Regs: make([]byte, r.arch.RegistersSize())}
		if err := tgt.ReadRegisters(tid, th.Regs); err != nil {
			return nil, fmt.Errorf("could not read registers of thread %#x: %w", tid, err)
		}
		th.Name = tgt.ThreadName(tid)
		threads = append(threads, th)
	}

	tu := threadUpdater{r: r}
	tu.Add(tids)
	tu.Finish()
	for i := range threads {
		th := r.threads[threads[i].ID]
		th.Name = threads[i].Name
		copy(th.Regs, threads[i].Regs)
	}

	sort.Slice(threads, func(i, j int) bool { return threads[i].ID < threads[j].ID })
	return threads, nil
}

// Reload reads again the registers of thread tid, after they were written.
func (r *Registry) Reload(tgt Target, tid uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.threads[tid]
	if !ok {
		return &NotFoundError{What: "thread", Key: strconv.FormatUint(tid, 16)}
	}
	regs := make([]byte, len(th.Regs))
	if err := tgt.ReadRegisters(tid, regs); err != nil {
		return err
	}
	th.Regs = regs
	return nil
}

// Threads returns a copy of the live threads sorted by ID.
func (r *Registry) Threads() []Thread {
	r.mu.RLock()
	defer r.mu.RUnlock()
	threads := make([]Thread, 0, len(r.threads))
	for _, th := range r.threads {
		threads = append(threads, th.clone())
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].ID < threads[j].ID })
	return threads
}

// Thread returns a copy of thread tid.
func (r *Registry) Thread(tid uint64) (Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	th, ok := r.threads[tid]
	if !ok {
		return Thread{}, &NotFoundError{What: "thread", Key: strconv.FormatUint(tid, 16)}
	}
	return th.clone(), nil
}

// Register returns the value, in target byte order, of register
// nameOrIndex of thread tid.
func (r *Registry) Register(tid uint64, nameOrIndex string) ([]byte, *RegisterInfo, error) {
	ri, err := r.arch.FindRegister(nameOrIndex)
	if err != nil {
		return nil, nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	th, ok := r.threads[tid]
	if !ok {
		return nil, nil, &NotFoundError{What: "thread", Key: strconv.FormatUint(tid, 16)}
	}
	return append([]byte(nil), ri.Value(th.Regs)...), ri, nil
}

// FindPCRegister returns the program counter register of the arch.
func (r *Registry) FindPCRegister() (*RegisterInfo, error) {
	return r.arch.FindPCRegister()
}
