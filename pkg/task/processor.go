package task

import (
	"context"
	"errors"
)

// Processor is the single logical CPU: the task it runs and the context of
// the dispatch loop it returns to.
type Processor struct {
	current    *TaskControlBlock
	idleCx     *TaskContext
	sliceStart uint64
}

// NewProcessor returns an idle processor.
func NewProcessor() *Processor {
	return &Processor{idleCx: newIdleContext()}
}

// TakeCurrent removes the running task, leaving the processor idle. The
// caller inherits the processor's ownership of the task.
func (p *Processor) TakeCurrent() *TaskControlBlock {
	t := p.current
	p.current = nil
	return t
}

// Current returns the running task without removing it.
func (p *Processor) Current() *TaskControlBlock {
	return p.current
}

// CurrentTask returns the running task, or nil while idle.
func (s *System) CurrentTask() *TaskControlBlock {
	proc, release := s.processor.Exclusive()
	defer release()
	return proc.Current()
}

// TakeCurrentTask removes the running task; the caller inherits its
// ownership.
func (s *System) TakeCurrentTask() *TaskControlBlock {
	proc, release := s.processor.Exclusive()
	defer release()
	return proc.TakeCurrent()
}

// RunTasks is the dispatch loop. It runs on the caller's goroutine, which
// becomes the idle flow, and returns when the kernel halts, the idle policy
// gives up, or ctx is done.
func (s *System) RunTasks(ctx context.Context) error {
	defer s.abortReady()

	for {
		if s.Halted() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		m, release := s.manager.Exclusive()
		t, ok := m.Fetch()
		wake := m.Wake()
		release()

		if !ok {
			s.log.Trace("no tasks available")
			if err := s.idle.Idle(ctx, wake); err != nil {
				if errors.Is(err, ErrIdle) {
					s.log.Debug("dispatch loop idle, stopping")
				}
				return err
			}
			continue
		}

		proc, releaseProc := s.processor.Exclusive()
		in, releaseTask := t.Inner()
		in.mustTransition(StatusRunning)
		next := in.TaskCx
		releaseTask()
		t.retain()
		proc.current = t
		proc.sliceStart = s.clock.NowMicros()
		idle := proc.idleCx
		releaseProc()

		Switch(idle, next)
	}
}

// Schedule switches from the outgoing task's saved context back to the
// dispatch loop. The caller has already settled the task's status and
// ownership. It returns when the task is dispatched again.
func (s *System) Schedule(cx *TaskContext) {
	proc, release := s.processor.Exclusive()
	idle := proc.idleCx
	release()
	Switch(cx, idle)
}

// scheduleExit leaves the processor for good.
func (s *System) scheduleExit() {
	proc, release := s.processor.Exclusive()
	idle := proc.idleCx
	release()
	switchAway(idle)
}

// SliceExpired reports whether the running task has used up its time slice.
func (s *System) SliceExpired() bool {
	if s.timeSlice == 0 {
		return false
	}
	proc, release := s.processor.Exclusive()
	start := proc.sliceStart
	release()
	return s.clock.NowMicros()-start >= s.timeSlice
}

// abortReady ends the suspended flows of tasks still in the ready queue so
// no goroutine outlives the dispatch loop.
func (s *System) abortReady() {
	m, release := s.manager.Exclusive()
	defer release()
	for {
		t, ok := m.Fetch()
		if !ok {
			return
		}
		var cx *TaskContext
		t.With(func(in *TaskInner) { cx = in.TaskCx })
		if cx.abort() {
			s.log.Debug("aborted suspended task", "pid", t.Pid())
		}
	}
}
