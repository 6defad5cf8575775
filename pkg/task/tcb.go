package task

import (
	"fmt"
	"sync/atomic"
	"weak"

	"tinyos/pkg/mm"
	"tinyos/pkg/trap"
	"tinyos/pkg/upcell"
)

// MaxSyscallNum bounds syscall ids counted per task.
const MaxSyscallNum = 500

// MinPriority is the smallest priority a task may have.
const MinPriority = 2

// TaskControlBlock is the kernel's record of one task.
type TaskControlBlock struct {
	pid        *PidHandle
	createTime uint64
	inner      *upcell.Cell[TaskInner]
	// owners counts the containers holding the task: a parent's children,
	// the ready queue, the processor's current slot, the kernel's initproc.
	owners   atomic.Int32
	released atomic.Bool
}

// TaskInner is the mutable part of a TCB, reached through its guard.
type TaskInner struct {
	Status       Status
	Priority     uint64
	Stride       uint64
	SyscallTimes [MaxSyscallNum]uint32
	MemorySet    *mm.MemorySet
	TrapCx       *trap.Context
	TaskCx       *TaskContext
	Parent       weak.Pointer[TaskControlBlock]
	Children     []*TaskControlBlock
	ExitCode     int32
	HeapBottom   uint64
	ProgramBrk   uint64
}

// Pid returns the task's id.
func (t *TaskControlBlock) Pid() int { return t.pid.Pid() }

// CreateTime returns the clock reading taken when the task was created.
func (t *TaskControlBlock) CreateTime() uint64 { return t.createTime }

// Inner grants exclusive access to the mutable state until release is
// called. Never hold it across a context switch.
func (t *TaskControlBlock) Inner() (in *TaskInner, release func()) {
	return t.inner.Exclusive()
}

// With runs fn with exclusive access to the mutable state.
func (t *TaskControlBlock) With(fn func(in *TaskInner)) {
	t.inner.With(fn)
}

// Owners returns how many containers currently hold the task.
func (t *TaskControlBlock) Owners() int32 { return t.owners.Load() }

// Released reports whether the task's resources have been freed.
func (t *TaskControlBlock) Released() bool { return t.released.Load() }

func (t *TaskControlBlock) String() string {
	return fmt.Sprintf("task(%d)", t.Pid())
}

func (t *TaskControlBlock) retain() {
	t.owners.Add(1)
}

// drop gives up one owner; the last one frees the task.
func (t *TaskControlBlock) drop() {
	n := t.owners.Add(-1)
	switch {
	case n < 0:
		panic(fmt.Sprintf("%v dropped more often than retained", t))
	case n == 0:
		t.destroy()
	}
}

func (t *TaskControlBlock) destroy() {
	if !t.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("%v destroyed twice", t))
	}
	var children []*TaskControlBlock
	t.With(func(in *TaskInner) {
		in.MemorySet.Release()
		children, in.Children = in.Children, nil
	})
	t.pid.Release()
	for _, c := range children {
		c.drop()
	}
}

// IsZombie reports whether the task has exited.
func (in *TaskInner) IsZombie() bool { return in.Status == StatusZombie }

// ParentTask returns the parent if it is still alive.
func (in *TaskInner) ParentTask() *TaskControlBlock { return in.Parent.Value() }

// UserToken returns the page table token of the address space.
func (in *TaskInner) UserToken() uint64 { return in.MemorySet.Token() }
