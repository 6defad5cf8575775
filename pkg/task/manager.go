package task

import "container/heap"

// Manager owns the ready tasks and picks the next one by stride scheduling:
// the task with the smallest stride runs next, and every dispatch advances
// its stride by BigStride / priority. Strides are compared with a wrapping
// signed difference; every queued stride stays within BigStride/2 of the
// minimum, so the comparison survives overflow of the accumulator. Equal
// strides go to the higher priority, then to the earlier arrival.
type Manager struct {
	queue     readyQueue
	seq       uint64
	bigStride uint64
	wake      chan struct{}
}

// readyEntry snapshots the scheduling keys of a queued task. Queued tasks
// are not running, so their priority and stride cannot change underneath.
type readyEntry struct {
	task     *TaskControlBlock
	stride   uint64
	priority uint64
	seq      uint64
}

// NewManager returns an empty manager.
func NewManager(bigStride uint64) *Manager {
	return &Manager{
		bigStride: bigStride,
		wake:      make(chan struct{}, 1),
	}
}

// Pass returns the stride increment of a task with the given priority.
func (m *Manager) Pass(priority uint64) uint64 {
	return max(m.bigStride/max(priority, 1), 1)
}

// Add inserts a ready task.
func (m *Manager) Add(t *TaskControlBlock) {
	e := &readyEntry{task: t, seq: m.seq}
	m.seq++
	t.With(func(in *TaskInner) {
		e.stride = in.Stride
		e.priority = in.Priority
	})
	t.retain()
	heap.Push(&m.queue, e)

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Fetch removes and returns the task that should run next, charging it one
// pass. It reports false when no task is ready.
func (m *Manager) Fetch() (*TaskControlBlock, bool) {
	if m.queue.Len() == 0 {
		return nil, false
	}
	e := heap.Pop(&m.queue).(*readyEntry)
	e.task.With(func(in *TaskInner) {
		in.Stride += m.Pass(in.Priority)
	})
	e.task.drop()
	return e.task, true
}

// Remove takes a task out of the queue without dispatching it.
func (m *Manager) Remove(pid int) (*TaskControlBlock, bool) {
	for i, e := range m.queue {
		if e.task.Pid() == pid {
			heap.Remove(&m.queue, i)
			e.task.drop()
			return e.task, true
		}
	}
	return nil, false
}

// Len returns the number of ready tasks.
func (m *Manager) Len() int { return m.queue.Len() }

// Wake is signalled whenever a task is added.
func (m *Manager) Wake() <-chan struct{} { return m.wake }

// strideLess compares strides that may have wrapped around.
func strideLess(a, b uint64) bool {
	return int64(a-b) < 0
}

type readyQueue []*readyEntry

// Len returns the number of items in the queue.
func (q readyQueue) Len() int { return len(q) }

// Less implements heap.Interface - smaller stride runs first.
func (q readyQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.stride != b.stride {
		return strideLess(a.stride, b.stride)
	}
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

// Swap swaps two items in the queue.
func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

// Push adds an item to the queue.
func (q *readyQueue) Push(x any) { *q = append(*q, x.(*readyEntry)) }

// Pop removes and returns the last item of the queue.
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

var _ heap.Interface = (*readyQueue)(nil)
