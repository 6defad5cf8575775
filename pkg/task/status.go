package task

import (
	"errors"
	"fmt"
)

// State transition errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Status is a task's position in its life cycle. The numeric values are
// part of the task_info ABI.
type Status uint32

const (
	// StatusReady indicates the task can run and waits in the ready queue.
	StatusReady Status = iota
	// StatusRunning indicates the task owns the processor.
	StatusRunning
	// StatusZombie indicates the task exited and waits to be reaped.
	StatusZombie
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusZombie:
		return "zombie"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// StateTransition represents a valid state transition.
type StateTransition struct {
	From Status
	To   Status
}

// ValidTransitions defines all valid state transitions.
var ValidTransitions = []StateTransition{
	// Dispatch: Ready -> Running
	{From: StatusReady, To: StatusRunning},
	// Yield or preemption: Running -> Ready
	{From: StatusRunning, To: StatusReady},
	// Exit: Running -> Zombie
	{From: StatusRunning, To: StatusZombie},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to Status) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the task to a new status. The caller holds the inner
// guard.
func (in *TaskInner) TransitionTo(to Status) error {
	if !IsValidTransition(in.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, in.Status, to)
	}
	in.Status = to
	return nil
}

// mustTransition is TransitionTo for paths where a bad transition is a
// kernel bug.
func (in *TaskInner) mustTransition(to Status) {
	if err := in.TransitionTo(to); err != nil {
		panic(err)
	}
}
