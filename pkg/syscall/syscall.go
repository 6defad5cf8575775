// Package syscall decodes user traps into task and memory operations and
// maps their errors onto the small set of negative return values user code
// sees.
package syscall

import (
	"io"

	"github.com/hashicorp/go-hclog"

	"tinyos/pkg/task"
)

// Syscall ids.
const (
	SysWrite       = 64
	SysExit        = 93
	SysYield       = 124
	SysSetPriority = 140
	SysGetTime     = 169
	SysGetpid      = 172
	SysSbrk        = 214
	SysMunmap      = 215
	SysFork        = 220
	SysExec        = 221
	SysMmap        = 222
	SysWaitpid     = 260
	SysSpawn       = 400
	SysTaskInfo    = 410
)

// Args are the raw argument registers a0..a2.
type Args [3]uint64

type handler func(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, args Args) int64

var handlers = [task.MaxSyscallNum]handler{
	SysWrite:       sysWrite,
	SysExit:        sysExit,
	SysYield:       sysYield,
	SysSetPriority: sysSetPriority,
	SysGetTime:     sysGetTime,
	SysGetpid:      sysGetpid,
	SysSbrk:        sysSbrk,
	SysMunmap:      sysMunmap,
	SysFork:        sysFork,
	SysExec:        sysExec,
	SysMmap:        sysMmap,
	SysWaitpid:     sysWaitpid,
	SysSpawn:       sysSpawn,
	SysTaskInfo:    sysTaskInfo,
}

var names = map[uint64]string{
	SysWrite:       "write",
	SysExit:        "exit",
	SysYield:       "yield",
	SysSetPriority: "set_priority",
	SysGetTime:     "get_time",
	SysGetpid:      "getpid",
	SysSbrk:        "sbrk",
	SysMunmap:      "munmap",
	SysFork:        "fork",
	SysExec:        "exec",
	SysMmap:        "mmap",
	SysWaitpid:     "waitpid",
	SysSpawn:       "spawn",
	SysTaskInfo:    "task_info",
}

// Name returns the name of syscall id, or "" if it is unknown.
func Name(id uint64) string { return names[id] }

// Dispatcher routes syscalls from the running task.
type Dispatcher struct {
	sys     *task.System
	console io.Writer
	log     hclog.Logger
}

// NewDispatcher returns a dispatcher. Output written to fd 1 goes to
// console.
func NewDispatcher(sys *task.System, console io.Writer, logger hclog.Logger) *Dispatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if console == nil {
		console = io.Discard
	}
	return &Dispatcher{sys: sys, console: console, log: logger}
}

// Dispatch runs syscall id on behalf of t, the running task, and returns
// the value for a0. Every call is counted, including unknown ones within
// the counter range. exit never returns, and yield returns only once t
// runs again.
func (d *Dispatcher) Dispatch(t *task.TaskControlBlock, id uint64, args Args) int64 {
	d.sys.CountSyscall(t, id)

	log := d.log.With("pid", t.Pid())
	if id >= task.MaxSyscallNum || handlers[id] == nil {
		log.Warn("unsupported syscall", "id", id)
		return -1
	}
	if log.IsTrace() {
		log.Trace(names[id], "args", args)
	}
	return handlers[id](d, log, t, args)
}
