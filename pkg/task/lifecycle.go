package task

import (
	"fmt"
	"slices"
	"weak"

	"tinyos/pkg/mm"
	"tinyos/pkg/timer"
	"tinyos/pkg/trap"
	"tinyos/pkg/upcell"
)

// Info is a snapshot of a task's telemetry.
type Info struct {
	Status       Status
	SyscallTimes [MaxSyscallNum]uint32
	// Time is the task's age in milliseconds.
	Time uint64
}

// newTask builds a ready TCB around an address space. The task's kernel
// flow enters user code through the executor on its first dispatch.
func (s *System) newTask(ms *mm.MemorySet, cx *trap.Context, heapBottom, brk, priority, stride uint64) *TaskControlBlock {
	t := &TaskControlBlock{
		pid:        s.pids.Alloc(),
		createTime: s.clock.NowMicros(),
	}
	t.inner = upcell.New(TaskInner{
		Status:     StatusReady,
		Priority:   priority,
		Stride:     stride,
		MemorySet:  ms,
		TrapCx:     cx,
		TaskCx:     NewTaskContext(func() { s.enterUser(t) }),
		HeapBottom: heapBottom,
		ProgramBrk: brk,
	})
	return t
}

func (s *System) enterUser(t *TaskControlBlock) {
	if s.exec == nil {
		panic(fmt.Sprintf("%v dispatched without an executor", t))
	}
	s.ExitCurrentAndRunNext(s.exec.RunUser(t))
}

// NewTaskFromImage loads an application into a fresh address space. The
// task has no parent and is not queued.
func (s *System) NewTaskFromImage(name string) (*TaskControlBlock, error) {
	img, ok := s.loader.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrImageNotFound, name)
	}
	ms, layout, err := mm.FromImage(s.mem, img, s.stackSize)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", name, err)
	}
	cx := trap.AppInitContext(img.Entry, layout.StackTop)
	return s.newTask(ms, cx, layout.HeapBottom, layout.HeapBottom, s.priority, 0), nil
}

// AddInitProc creates the root task and queues it. The kernel keeps its own
// reference to it for reparenting orphans.
func (s *System) AddInitProc(name string) (*TaskControlBlock, error) {
	if s.initproc.Load() != nil {
		return nil, ErrInitProcExists
	}
	t, err := s.NewTaskFromImage(name)
	if err != nil {
		return nil, err
	}
	t.retain()
	s.initproc.Store(t)
	s.AddTask(t)
	s.log.Info("initproc created", "name", name, "pid", t.Pid())
	return t, nil
}

// adopt links child under parent and queues it.
func (s *System) adopt(parent, child *TaskControlBlock) {
	child.With(func(in *TaskInner) { in.Parent = weak.Make(parent) })
	child.retain()
	parent.With(func(in *TaskInner) { in.Children = append(in.Children, child) })
	s.AddTask(child)
}

// Spawn creates a child of parent running a fresh copy of the named
// application.
func (s *System) Spawn(parent *TaskControlBlock, name string) (*TaskControlBlock, error) {
	child, err := s.NewTaskFromImage(name)
	if err != nil {
		return nil, err
	}
	stride := upcell.Get(parent.inner, func(in *TaskInner) uint64 { return in.Stride })
	child.With(func(in *TaskInner) { in.Stride = stride })
	s.adopt(parent, child)
	s.log.Debug("spawned", "parent", parent.Pid(), "child", child.Pid(), "name", name)
	return child, nil
}

// Fork duplicates parent. The child resumes at the parent's saved trap
// context with a0 cleared, so it sees fork return 0.
func (s *System) Fork(parent *TaskControlBlock) (*TaskControlBlock, error) {
	in, release := parent.Inner()
	ms, err := in.MemorySet.Fork()
	if err != nil {
		release()
		return nil, fmt.Errorf("forking %v: %w", parent, err)
	}
	cx := in.TrapCx.Clone()
	cx.SetReturn(0)
	child := s.newTask(ms, cx, in.HeapBottom, in.ProgramBrk, in.Priority, in.Stride)
	release()

	s.adopt(parent, child)
	s.log.Debug("forked", "parent", parent.Pid(), "child", child.Pid())
	return child, nil
}

// Exec replaces t's program in place. Pid, parent, children and counters
// are kept. On error t is unchanged.
func (s *System) Exec(t *TaskControlBlock, name string) error {
	img, ok := s.loader.Resolve(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrImageNotFound, name)
	}
	ms, layout, err := mm.FromImage(s.mem, img, s.stackSize)
	if err != nil {
		return fmt.Errorf("loading %q: %w", name, err)
	}

	var old *mm.MemorySet
	t.With(func(in *TaskInner) {
		old = in.MemorySet
		in.MemorySet = ms
		in.TrapCx = trap.AppInitContext(img.Entry, layout.StackTop)
		in.HeapBottom = layout.HeapBottom
		in.ProgramBrk = layout.HeapBottom
	})
	old.Release()
	s.log.Debug("exec", "pid", t.Pid(), "name", name)
	return nil
}

// SuspendCurrentAndRunNext puts the running task back in the ready queue and
// runs the dispatch loop. It returns when the task is dispatched again.
func (s *System) SuspendCurrentAndRunNext() {
	t := s.TakeCurrentTask()
	if t == nil {
		panic("suspend with no running task")
	}

	in, release := t.Inner()
	in.mustTransition(StatusReady)
	cx := in.TaskCx
	release()

	s.AddTask(t)
	t.drop()
	s.Schedule(cx)
}

// ExitCurrentAndRunNext turns the running task into a zombie with the given
// exit code and never returns. Its children are handed to initproc and its
// user pages are freed now; the TCB itself stays until the parent reaps it.
func (s *System) ExitCurrentAndRunNext(code int32) {
	t := s.TakeCurrentTask()
	if t == nil {
		panic("exit with no running task")
	}
	initproc := s.initproc.Load()
	reparent := initproc != nil && t != initproc

	in, release := t.Inner()
	in.mustTransition(StatusZombie)
	in.ExitCode = code
	orphans := in.Children
	if reparent {
		in.Children = nil
	}
	in.MemorySet.RecycleDataPages()
	release()

	if t == initproc {
		s.log.Info("initproc exited, halting", "exit_code", code)
		s.halt(code)
	} else if reparent && len(orphans) > 0 {
		for _, c := range orphans {
			c.With(func(ci *TaskInner) { ci.Parent = weak.Make(initproc) })
		}
		initproc.With(func(ii *TaskInner) { ii.Children = append(ii.Children, orphans...) })
	}

	s.log.Debug("exited", "pid", t.Pid(), "exit_code", code)
	t.drop()
	s.scheduleExit()
}

// Waitpid reaps an exited child of t. pid -1 matches any child. writeback,
// if not nil, receives the exit code before anything is changed; an error
// from it aborts the reap.
func (s *System) Waitpid(t *TaskControlBlock, pid int, writeback func(ms *mm.MemorySet, code int32) error) (int, error) {
	in, release := t.Inner()
	defer release()

	found := false
	idx := -1
	for i, c := range in.Children {
		if pid != -1 && c.Pid() != pid {
			continue
		}
		found = true
		if upcell.Get(c.inner, func(ci *TaskInner) bool { return ci.IsZombie() }) {
			idx = i
			break
		}
	}
	if !found {
		return 0, ErrNoChild
	}
	if idx < 0 {
		return 0, ErrChildRunning
	}

	child := in.Children[idx]
	code := upcell.Get(child.inner, func(ci *TaskInner) int32 { return ci.ExitCode })
	if writeback != nil {
		if err := writeback(in.MemorySet, code); err != nil {
			return 0, err
		}
	}

	in.Children = slices.Delete(in.Children, idx, idx+1)
	if n := child.Owners(); n != 1 {
		panic(fmt.Sprintf("reaping %v with %d owners", child, n))
	}
	childPid := child.Pid()
	child.drop()
	return childPid, nil
}

// SetPriority changes the weight used from t's next dispatch on.
func (s *System) SetPriority(t *TaskControlBlock, p int64) error {
	if p < MinPriority {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}
	t.With(func(in *TaskInner) { in.Priority = uint64(p) })
	return nil
}

// ChangeProgramBrk moves t's program break by delta and returns the old
// break. The heap cannot shrink below its bottom.
func (s *System) ChangeProgramBrk(t *TaskControlBlock, delta int64) (uint64, error) {
	in, release := t.Inner()
	defer release()

	old := in.ProgramBrk
	next := int64(old) + delta
	if next < int64(in.HeapBottom) {
		return 0, fmt.Errorf("%w: %#x below heap bottom %#x", ErrInvalidBrk, next, in.HeapBottom)
	}

	var err error
	if delta < 0 {
		err = in.MemorySet.ShrinkHeap(mm.VirtAddr(next))
	} else {
		err = in.MemorySet.GrowHeap(mm.VirtAddr(next))
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidBrk, err)
	}
	in.ProgramBrk = uint64(next)
	return old, nil
}

// CountSyscall records one invocation of syscall id by t.
func (s *System) CountSyscall(t *TaskControlBlock, id uint64) {
	if id >= MaxSyscallNum {
		return
	}
	t.With(func(in *TaskInner) { in.SyscallTimes[id]++ })
}

// Info snapshots t's telemetry.
func (s *System) Info(t *TaskControlBlock) Info {
	var info Info
	t.With(func(in *TaskInner) {
		info.Status = in.Status
		info.SyscallTimes = in.SyscallTimes
	})
	info.Time = (s.clock.NowMicros() - t.CreateTime()) / timer.MicrosPerMsec
	return info
}
