/*
Package task provides process management for tinyos: task control blocks,
the stride-scheduled ready queue, the processor's dispatch loop and the
lifecycle operations behind the process syscalls.

# Task States

A task is always in one of three states:

  - Ready: waiting in the ready queue for the processor
  - Running: owning the processor
  - Zombie: exited, waiting for its parent to collect the exit code

# Scheduling

The Manager keeps ready tasks in a heap ordered by stride. Dispatching a
task adds BigStride / priority to its stride, so a task with twice the
priority runs twice as often:

	s := task.NewSystem(task.Options{Config: cfg, Loader: reg, Executor: exec})
	if _, err := s.AddInitProc("initproc"); err != nil {
		// Handle error
	}
	err := s.RunTasks(ctx)

# Context Switching

Every task runs its kernel flow on its own goroutine, but flows pass the
processor to each other explicitly through Switch, so exactly one runs at a
time. Shared kernel state is reached through upcell cells, which must never
be held across a switch.

# Ownership

A TCB counts the containers holding it: its parent's children list, the
ready queue, the processor and, for initproc, the kernel. When the count
drops to zero the address space and pid are released. Reaping a zombie
requires the parent to be its only owner.
*/
package task
