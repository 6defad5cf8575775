package task

import (
	"fmt"
	"sync"
)

// PidAllocator hands out process ids, reusing released ones.
type PidAllocator struct {
	mu       sync.Mutex
	current  int
	recycled []int
	live     map[int]struct{}
}

// NewPidAllocator returns an allocator whose first pid is 0.
func NewPidAllocator() *PidAllocator {
	return &PidAllocator{live: make(map[int]struct{})}
}

// PidHandle owns a pid until Release is called.
type PidHandle struct {
	pid   int
	alloc *PidAllocator
}

// Alloc returns a free pid.
func (a *PidAllocator) Alloc() *PidHandle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var pid int
	if n := len(a.recycled); n > 0 {
		pid = a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
	} else {
		pid = a.current
		a.current++
	}
	a.live[pid] = struct{}{}
	return &PidHandle{pid: pid, alloc: a}
}

// Live returns the number of allocated pids.
func (a *PidAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Pid returns the id.
func (h *PidHandle) Pid() int { return h.pid }

// Release returns the pid to the allocator.
func (h *PidHandle) Release() {
	a := h.alloc
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.live[h.pid]; !ok {
		panic(fmt.Sprintf("pid %d has not been allocated", h.pid))
	}
	delete(a.live, h.pid)
	a.recycled = append(a.recycled, h.pid)
}
