package task

import (
	"context"
	"errors"

	"tinyos/pkg/config"
)

// ErrIdle is returned by RunTasks when the idle policy gives up because no
// task is ready.
var ErrIdle = errors.New("no ready tasks")

// IdlePolicy decides what the processor does when the ready queue is empty.
// It must not spin: it either blocks until wake fires (new work) or stops the
// dispatch loop by returning an error.
type IdlePolicy interface {
	Idle(ctx context.Context, wake <-chan struct{}) error
}

// WaitForInterrupt blocks until a task is added or ctx is done.
type WaitForInterrupt struct{}

// Idle implements IdlePolicy.
func (WaitForInterrupt) Idle(ctx context.Context, wake <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	}
}

// HaltWhenIdle stops the dispatch loop as soon as nothing is ready.
type HaltWhenIdle struct{}

// Idle implements IdlePolicy.
func (HaltWhenIdle) Idle(context.Context, <-chan struct{}) error {
	return ErrIdle
}

// IdlePolicyFor returns the policy named by a config value.
func IdlePolicyFor(name string) IdlePolicy {
	if name == config.IdleWaitForInterrupt {
		return WaitForInterrupt{}
	}
	return HaltWhenIdle{}
}
