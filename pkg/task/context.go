package task

import "runtime"

// TaskContext is a suspended kernel control flow. Each task's flow lives on
// its own goroutine, but flows hand the processor to each other explicitly,
// so exactly one of them runs at any time.
type TaskContext struct {
	entry   func()
	started bool
	wake    chan bool
}

// NewTaskContext returns a context that starts running entry the first time
// it is switched to.
func NewTaskContext(entry func()) *TaskContext {
	return &TaskContext{entry: entry, wake: make(chan bool, 1)}
}

// newIdleContext returns the context of the dispatch loop. It is already
// running on the caller's goroutine.
func newIdleContext() *TaskContext {
	return &TaskContext{started: true, wake: make(chan bool, 1)}
}

// Switch suspends the flow saved in current and resumes next. It returns
// when some flow switches back to current.
func Switch(current, next *TaskContext) {
	next.resume()
	if abort := <-current.wake; abort {
		runtime.Goexit()
	}
}

// switchAway resumes next and ends the calling flow for good.
func switchAway(next *TaskContext) {
	next.resume()
	runtime.Goexit()
}

func (c *TaskContext) resume() {
	if !c.started {
		c.started = true
		go c.entry()
		return
	}
	c.wake <- false
}

// abort ends a suspended flow without running any more of it. It reports
// whether there was a flow to end.
func (c *TaskContext) abort() bool {
	if !c.started {
		return false
	}
	c.wake <- true
	return true
}
