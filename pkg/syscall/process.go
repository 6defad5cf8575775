package syscall

import (
	"encoding/binary"
	"errors"

	"github.com/hashicorp/go-hclog"

	"tinyos/pkg/mm"
	"tinyos/pkg/task"
	"tinyos/pkg/timer"
)

// maxPathLen bounds application names read from user memory.
const maxPathLen = 256

func pageTable(t *task.TaskControlBlock) *mm.PageTable {
	var pt *mm.PageTable
	t.With(func(in *task.TaskInner) { pt = in.MemorySet.PageTable() })
	return pt
}

func sysExit(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	d.sys.ExitCurrentAndRunNext(int32(a[0]))
	panic("unreachable in sys_exit")
}

func sysYield(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	d.sys.SuspendCurrentAndRunNext()
	return 0
}

func sysGetpid(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	return int64(t.Pid())
}

func sysFork(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	child, err := d.sys.Fork(t)
	if err != nil {
		log.Warn("fork failed", "error", err)
		return -1
	}
	return int64(child.Pid())
}

func sysExec(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	path, err := mm.ReadCString(pageTable(t), a[0], maxPathLen)
	if err != nil {
		log.Debug("exec path unreadable", "error", err)
		return -1
	}
	if err := d.sys.Exec(t, path); err != nil {
		log.Debug("exec failed", "path", path, "error", err)
		return -1
	}
	return 0
}

func sysSpawn(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	path, err := mm.ReadCString(pageTable(t), a[0], maxPathLen)
	if err != nil {
		log.Debug("spawn path unreadable", "error", err)
		return -1
	}
	child, err := d.sys.Spawn(t, path)
	if err != nil {
		log.Debug("spawn failed", "path", path, "error", err)
		return -1
	}
	return int64(child.Pid())
}

// sysWaitpid returns the reaped pid, -1 if no child matches (or the exit
// code cannot be stored), -2 if the matching children are still running.
func sysWaitpid(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	pid, ptr := int(int64(a[0])), a[1]

	var writeback func(ms *mm.MemorySet, code int32) error
	if ptr != 0 {
		writeback = func(ms *mm.MemorySet, code int32) error {
			return mm.CopyOut(ms.PageTable(), ptr, binary.LittleEndian.AppendUint32(nil, uint32(code)))
		}
	}

	got, err := d.sys.Waitpid(t, pid, writeback)
	switch {
	case err == nil:
		return int64(got)
	case errors.Is(err, task.ErrChildRunning):
		return -2
	default:
		if !errors.Is(err, task.ErrNoChild) {
			log.Debug("waitpid failed", "error", err)
		}
		return -1
	}
}

func sysSetPriority(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	p := int64(a[0])
	if err := d.sys.SetPriority(t, p); err != nil {
		return -1
	}
	return p
}

func sysSbrk(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	old, err := d.sys.ChangeProgramBrk(t, int64(int32(a[0])))
	if err != nil {
		log.Debug("sbrk failed", "error", err)
		return -1
	}
	return int64(old)
}

func sysMmap(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	if err := d.sys.Mmap(t, a[0], a[1], a[2]); err != nil {
		log.Debug("mmap rejected", "error", err)
		return -1
	}
	return 0
}

func sysMunmap(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	if err := d.sys.Munmap(t, a[0], a[1]); err != nil {
		log.Debug("munmap rejected", "error", err)
		return -1
	}
	return 0
}

func sysGetTime(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	sec, usec := timer.Split(d.sys.Clock().NowMicros())
	return copyOut(log, t, a[0], TimeVal{Sec: sec, Usec: usec})
}

func sysTaskInfo(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	info := d.sys.Info(t)
	return copyOut(log, t, a[0], TaskInfo{
		Status:       uint32(info.Status),
		SyscallTimes: info.SyscallTimes,
		Time:         info.Time,
	})
}

// copyOut writes v's user layout to ptr, split across however many pages
// the destination spans.
func copyOut(log hclog.Logger, t *task.TaskControlBlock, ptr uint64, v any) int64 {
	b, err := Encode(v)
	if err != nil {
		log.Error("encoding result", "error", err)
		return -1
	}
	if err := mm.CopyOut(pageTable(t), ptr, b); err != nil {
		log.Debug("result destination unwritable", "error", err)
		return -1
	}
	return 0
}
