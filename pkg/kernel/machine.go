package kernel

import (
	"github.com/hashicorp/go-hclog"

	"tinyos/pkg/mm"
	"tinyos/pkg/task"
	"tinyos/pkg/trap"
)

// pageFaultExitCode is the exit code of a task killed by a bad access.
const pageFaultExitCode = -2

// machine is the processor as seen by one task's user code.
type machine struct {
	k   *Kernel
	t   *task.TaskControlBlock
	log hclog.Logger
}

var _ trap.Machine = (*machine)(nil)

// RunUser implements task.Executor: it returns to user mode at the task's
// saved program counter.
func (k *Kernel) RunUser(t *task.TaskControlBlock) int32 {
	m := &machine{k: k, t: t, log: k.log.Named("trap").With("pid", t.Pid())}
	return m.Context().Sepc(m)
}

func (m *machine) Context() *trap.Context {
	var cx *trap.Context
	m.t.With(func(in *task.TaskInner) { cx = in.TrapCx })
	return cx
}

func (m *machine) pageTable() *mm.PageTable {
	var pt *mm.PageTable
	m.t.With(func(in *task.TaskInner) { pt = in.MemorySet.PageTable() })
	return pt
}

// Ecall handles a user environment call. A successful exec swaps the trap
// context, and the new program runs in place of the caller, which never
// resumes.
func (m *machine) Ecall() {
	cx := m.Context()
	id, args := cx.Syscall()
	ret := m.k.syscalls.Dispatch(m.t, id, args)

	next := m.Context()
	next.SetReturn(ret)
	if next != cx {
		m.k.sys.ExitCurrentAndRunNext(next.Sepc(m))
	}
	m.tick()
}

func (m *machine) Load(va uint64, dst []byte) {
	if err := mm.CopyIn(m.pageTable(), va, dst); err != nil {
		m.fault("load", va, err)
	}
	m.tick()
}

func (m *machine) Store(va uint64, src []byte) {
	if err := mm.CopyOut(m.pageTable(), va, src); err != nil {
		m.fault("store", va, err)
	}
	m.tick()
}

// tick is the timer interrupt check between user instructions.
func (m *machine) tick() {
	if m.k.sys.SliceExpired() {
		m.log.Trace("time slice expired")
		m.k.sys.SuspendCurrentAndRunNext()
	}
}

func (m *machine) fault(op string, va uint64, err error) {
	m.log.Warn("page fault, kernel killed it", "op", op, "addr", mm.VirtAddr(va), "error", err)
	m.k.sys.ExitCurrentAndRunNext(pageFaultExitCode)
}
