package task

import (
	"math"
	"testing"

	"tinyos/pkg/upcell"
)

// queuedTask returns a bare TCB whose parent holds one reference, so the
// ready queue can take and give up ownership freely.
func queuedTask(pids *PidAllocator, priority, stride uint64) *TaskControlBlock {
	t := &TaskControlBlock{pid: pids.Alloc()}
	t.inner = upcell.New(TaskInner{Priority: priority, Stride: stride})
	t.retain()
	return t
}

// TestStatusTransitions tests the task life cycle table.
func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"Ready to Running", StatusReady, StatusRunning, false},
		{"Running to Ready", StatusRunning, StatusReady, false},
		{"Running to Zombie", StatusRunning, StatusZombie, false},
		{"Ready to Zombie", StatusReady, StatusZombie, true},
		{"Zombie to Ready", StatusZombie, StatusReady, true},
		{"Zombie to Running", StatusZombie, StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &TaskInner{Status: tt.from}
			err := in.TransitionTo(tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("TransitionTo() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && in.Status != tt.from {
				t.Errorf("Status = %v after failed transition, want %v", in.Status, tt.from)
			}
		})
	}

	if got := StatusZombie.String(); got != "zombie" {
		t.Errorf("String() = %q, want zombie", got)
	}
}

// TestPidAllocator tests pid allocation and recycling.
func TestPidAllocator(t *testing.T) {
	a := NewPidAllocator()
	h0, h1, h2 := a.Alloc(), a.Alloc(), a.Alloc()
	if h0.Pid() != 0 || h1.Pid() != 1 || h2.Pid() != 2 {
		t.Fatalf("pids = %d %d %d, want 0 1 2", h0.Pid(), h1.Pid(), h2.Pid())
	}

	h1.Release()
	if got := a.Live(); got != 2 {
		t.Errorf("Live() = %d, want 2", got)
	}
	if h := a.Alloc(); h.Pid() != 1 {
		t.Errorf("Alloc() after release = %d, want 1", h.Pid())
	}
	if h := a.Alloc(); h.Pid() != 3 {
		t.Errorf("Alloc() = %d, want 3", h.Pid())
	}
}

// TestPidDoubleRelease tests that releasing a pid twice panics.
func TestPidDoubleRelease(t *testing.T) {
	a := NewPidAllocator()
	h := a.Alloc()
	h.Release()

	defer func() {
		if recover() == nil {
			t.Error("second Release() did not panic")
		}
	}()
	h.Release()
}

// TestManagerPass tests the stride increment.
func TestManagerPass(t *testing.T) {
	m := NewManager(1 << 32)
	tests := []struct {
		priority uint64
		want     uint64
	}{
		{2, 1 << 31},
		{4, 1 << 30},
		{16, 1 << 28},
		{0, 1 << 32},
		{math.MaxUint64, 1},
	}
	for _, tt := range tests {
		if got := m.Pass(tt.priority); got != tt.want {
			t.Errorf("Pass(%d) = %d, want %d", tt.priority, got, tt.want)
		}
	}
}

// TestManagerFetchEmpty tests that an empty manager reports no work.
func TestManagerFetchEmpty(t *testing.T) {
	m := NewManager(1 << 32)
	if task, ok := m.Fetch(); ok || task != nil {
		t.Errorf("Fetch() = %v, %v, want nil, false", task, ok)
	}
}

// TestManagerFairness tests that dispatch counts follow priority ratios.
func TestManagerFairness(t *testing.T) {
	pids := NewPidAllocator()
	m := NewManager(1 << 32)
	high := queuedTask(pids, 4, 0)
	low := queuedTask(pids, 2, 0)
	m.Add(low)
	m.Add(high)

	counts := make(map[int]int)
	const rounds = 3000
	for range rounds {
		task, ok := m.Fetch()
		if !ok {
			t.Fatal("Fetch() = false with tasks queued")
		}
		counts[task.Pid()]++
		m.Add(task)
	}

	if got := counts[high.Pid()]; got < 1998 || got > 2002 {
		t.Errorf("priority 4 dispatched %d times, want about 2000", got)
	}
	if got := counts[low.Pid()]; got < 998 || got > 1002 {
		t.Errorf("priority 2 dispatched %d times, want about 1000", got)
	}
	if got := high.Owners(); got != 2 {
		t.Errorf("Owners() = %d, want 2", got)
	}
}

// TestManagerTieBreak tests ordering among equal strides.
func TestManagerTieBreak(t *testing.T) {
	pids := NewPidAllocator()
	m := NewManager(1 << 32)
	first := queuedTask(pids, 8, 100)
	second := queuedTask(pids, 8, 100)
	higher := queuedTask(pids, 16, 100)
	m.Add(first)
	m.Add(second)
	m.Add(higher)

	want := []*TaskControlBlock{higher, first, second}
	for i, w := range want {
		got, _ := m.Fetch()
		if got != w {
			t.Errorf("Fetch() #%d = %v, want %v", i, got, w)
		}
	}
}

// TestManagerStrideWraps tests ordering across accumulator overflow.
func TestManagerStrideWraps(t *testing.T) {
	pids := NewPidAllocator()
	m := NewManager(1 << 32)
	start := uint64(math.MaxUint64 - 10)
	behind := queuedTask(pids, 2, start)
	wrapped := queuedTask(pids, 2, 5)
	m.Add(wrapped)
	m.Add(behind)

	got, _ := m.Fetch()
	if got != behind {
		t.Errorf("Fetch() = %v, want %v", got, behind)
	}
	var stride uint64
	behind.With(func(in *TaskInner) { stride = in.Stride })
	if want := start + 1<<31; stride != want {
		t.Errorf("Stride = %d, want %d", stride, want)
	}
	if got, _ := m.Fetch(); got != wrapped {
		t.Errorf("Fetch() = %v, want %v", got, wrapped)
	}
}

// TestManagerRemove tests removing a queued task.
func TestManagerRemove(t *testing.T) {
	pids := NewPidAllocator()
	m := NewManager(1 << 32)
	a := queuedTask(pids, 2, 0)
	b := queuedTask(pids, 2, 1)
	m.Add(a)
	m.Add(b)

	if got, ok := m.Remove(a.Pid()); !ok || got != a {
		t.Errorf("Remove(%d) = %v, %v, want %v, true", a.Pid(), got, ok, a)
	}
	if _, ok := m.Remove(a.Pid()); ok {
		t.Error("Remove() of absent task = true, want false")
	}
	if got := m.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
	if got := a.Owners(); got != 1 {
		t.Errorf("Owners() = %d, want 1", got)
	}
}

// TestManagerWake tests that Add signals the idle processor.
func TestManagerWake(t *testing.T) {
	pids := NewPidAllocator()
	m := NewManager(1 << 32)
	m.Add(queuedTask(pids, 2, 0))
	m.Add(queuedTask(pids, 2, 0))

	select {
	case <-m.Wake():
	default:
		t.Fatal("Wake() not signalled after Add()")
	}
	select {
	case <-m.Wake():
		t.Error("Wake() signalled twice, want coalesced")
	default:
	}
}
