package syscall

import (
	"bytes"
	"testing"

	"tinyos/pkg/config"
	"tinyos/pkg/loader"
	"tinyos/pkg/mm"
	"tinyos/pkg/task"
	"tinyos/pkg/timer"
	"tinyos/pkg/trap"
)

const scratch = 0x10000

func entry(trap.Machine) int32 { return 0 }

type fixture struct {
	sys     *task.System
	d       *Dispatcher
	t       *task.TaskControlBlock
	console *bytes.Buffer
	clock   *timer.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	seg := []loader.Segment{{VirtAddr: 0x400000, MemSize: mm.PageSize, Perm: loader.PermRead | loader.PermExec}}
	reg, err := loader.NewRegistry(
		&loader.Image{Name: "app", Entry: entry, Segments: seg},
		&loader.Image{Name: "other", Entry: entry, Segments: seg},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	cfg := config.Default()
	cfg.Memory.Frames = 128

	f := &fixture{console: &bytes.Buffer{}, clock: timer.NewManual(1_250_000)}
	f.sys = task.NewSystem(task.Options{Config: cfg, Loader: reg, Clock: f.clock})
	f.d = NewDispatcher(f.sys, f.console, nil)
	f.t, err = f.sys.NewTaskFromImage("app")
	if err != nil {
		t.Fatalf("NewTaskFromImage() error = %v", err)
	}
	if ret := f.call(SysMmap, scratch, 2*mm.PageSize, 3); ret != 0 {
		t.Fatalf("mmap(scratch) = %d, want 0", ret)
	}
	return f
}

func (f *fixture) call(id uint64, args ...uint64) int64 {
	var a Args
	copy(a[:], args)
	return f.d.Dispatch(f.t, id, a)
}

func (f *fixture) pageTable() *mm.PageTable {
	var pt *mm.PageTable
	f.t.With(func(in *task.TaskInner) { pt = in.MemorySet.PageTable() })
	return pt
}

func (f *fixture) store(t *testing.T, va uint64, b []byte) {
	t.Helper()
	if err := mm.CopyOut(f.pageTable(), va, b); err != nil {
		t.Fatalf("CopyOut(%#x) error = %v", va, err)
	}
}

func (f *fixture) load(t *testing.T, va uint64, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if err := mm.CopyIn(f.pageTable(), va, b); err != nil {
		t.Fatalf("CopyIn(%#x) error = %v", va, err)
	}
	return b
}

// TestABISizes tests the user layouts of the result structs.
func TestABISizes(t *testing.T) {
	if TimeValSize != 16 {
		t.Errorf("TimeValSize = %d, want 16", TimeValSize)
	}
	if TaskInfoSize != 4+4*task.MaxSyscallNum+4+8 {
		t.Errorf("TaskInfoSize = %d, want %d", TaskInfoSize, 4+4*task.MaxSyscallNum+4+8)
	}
}

// TestWrite tests console output, including a buffer split across pages.
func TestWrite(t *testing.T) {
	f := newFixture(t)
	msg := []byte("split across pages\n")
	va := uint64(scratch + mm.PageSize - 5)
	f.store(t, va, msg)

	if got := f.call(SysWrite, FdStdout, va, uint64(len(msg))); got != int64(len(msg)) {
		t.Errorf("write() = %d, want %d", got, len(msg))
	}
	if got := f.console.String(); got != string(msg) {
		t.Errorf("console = %q, want %q", got, msg)
	}

	tests := []struct {
		name       string
		fd, buf, n uint64
	}{
		{"bad fd", 2, va, 4},
		{"unmapped", FdStdout, scratch + 2*mm.PageSize - 2, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.console.Reset()
			if got := f.call(SysWrite, tt.fd, tt.buf, tt.n); got != -1 {
				t.Errorf("write() = %d, want -1", got)
			}
			if f.console.Len() != 0 {
				t.Errorf("console = %q, want empty", f.console)
			}
		})
	}
}

// TestGetTime tests a TimeVal written across a page boundary.
func TestGetTime(t *testing.T) {
	f := newFixture(t)
	va := uint64(scratch + mm.PageSize - 4)
	if got := f.call(SysGetTime, va, 0); got != 0 {
		t.Fatalf("get_time() = %d, want 0", got)
	}

	var tv TimeVal
	if err := Decode(f.load(t, va, TimeValSize), &tv); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if tv != (TimeVal{Sec: 1, Usec: 250_000}) {
		t.Errorf("get_time = %+v, want {Sec:1 Usec:250000}", tv)
	}

	if got := f.call(SysGetTime, 0x400000, 0); got != -1 {
		t.Errorf("get_time(read-only) = %d, want -1", got)
	}
}

// TestTaskInfo tests syscall counting and the task_info layout.
func TestTaskInfo(t *testing.T) {
	f := newFixture(t)
	f.call(SysGetpid)
	f.call(SysGetpid)
	f.call(7)
	f.clock.Advance(12_000)

	va := uint64(scratch + mm.PageSize - 1000)
	if got := f.call(SysTaskInfo, va); got != 0 {
		t.Fatalf("task_info() = %d, want 0", got)
	}
	var info TaskInfo
	if err := Decode(f.load(t, va, TaskInfoSize), &info); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	want := map[int]uint32{SysGetpid: 2, SysMmap: 1, SysTaskInfo: 1, 7: 1, SysWrite: 0}
	for id, n := range want {
		if info.SyscallTimes[id] != n {
			t.Errorf("syscall_times[%d] = %d, want %d", id, info.SyscallTimes[id], n)
		}
	}
	if info.Time != 12 {
		t.Errorf("time = %d, want 12", info.Time)
	}
	if info.Status != uint32(task.StatusReady) {
		t.Errorf("status = %d, want %d", info.Status, task.StatusReady)
	}
}

// TestMemorySyscalls tests mmap, munmap and sbrk results.
func TestMemorySyscalls(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		id   uint64
		args []uint64
		want int64
	}{
		{"mmap bad port", SysMmap, []uint64{0x20000, mm.PageSize, 0x10}, -1},
		{"mmap no access", SysMmap, []uint64{0x20000, mm.PageSize, 0}, -1},
		{"mmap unaligned", SysMmap, []uint64{0x20004, mm.PageSize, 1}, -1},
		{"mmap overlap", SysMmap, []uint64{scratch + mm.PageSize, mm.PageSize, 1}, -1},
		{"mmap", SysMmap, []uint64{0x20000, 3 * mm.PageSize, 7}, 0},
		{"munmap middle", SysMunmap, []uint64{0x21000, mm.PageSize}, 0},
		{"munmap hole", SysMunmap, []uint64{0x20000, 2 * mm.PageSize}, -1},
		{"munmap unaligned", SysMunmap, []uint64{0x20001, mm.PageSize}, -1},
		{"munmap tail", SysMunmap, []uint64{0x22000, mm.PageSize}, 0},
		{"set_priority low", SysSetPriority, []uint64{1}, -1},
		{"set_priority", SysSetPriority, []uint64{5}, 5},
		{"getpid", SysGetpid, nil, int64(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.call(tt.id, tt.args...); got != tt.want {
				t.Errorf("%s%v = %d, want %d", Name(tt.id), tt.args, got, tt.want)
			}
		})
	}

	var bottom uint64
	f.t.With(func(in *task.TaskInner) { bottom = in.HeapBottom })
	if got := f.call(SysSbrk, mm.PageSize); got != int64(bottom) {
		t.Errorf("sbrk(page) = %#x, want %#x", got, bottom)
	}
	neg := int32(-2 * mm.PageSize)
	if got := f.call(SysSbrk, uint64(uint32(neg))); got != -1 {
		t.Errorf("sbrk(-2 pages) = %d, want -1", got)
	}
	neg = -mm.PageSize
	if got := f.call(SysSbrk, uint64(uint32(neg))); got != int64(bottom+mm.PageSize) {
		t.Errorf("sbrk(-page) = %#x, want %#x", got, bottom+mm.PageSize)
	}
}

// TestSpawnExecWaitpid tests the path-taking syscalls and waitpid results.
func TestSpawnExecWaitpid(t *testing.T) {
	f := newFixture(t)
	f.store(t, scratch, []byte("other\x00missing\x00"))

	if got := f.call(SysWaitpid, ^uint64(0), 0); got != -1 {
		t.Errorf("waitpid(-1) with no children = %d, want -1", got)
	}
	pid := f.call(SysSpawn, scratch)
	if pid <= 0 {
		t.Fatalf("spawn(other) = %d, want a pid", pid)
	}
	if got := f.call(SysSpawn, scratch+6); got != -1 {
		t.Errorf("spawn(missing) = %d, want -1", got)
	}
	if got := f.call(SysWaitpid, uint64(pid), scratch+64); got != -2 {
		t.Errorf("waitpid(running child) = %d, want -2", got)
	}
	if got := f.sys.ReadyLen(); got != 1 {
		t.Errorf("ReadyLen() = %d, want 1", got)
	}

	if got := f.call(SysExec, scratch+6); got != -1 {
		t.Errorf("exec(missing) = %d, want -1", got)
	}
	if got := f.call(SysExec, 0x90000); got != -1 {
		t.Errorf("exec(unmapped path) = %d, want -1", got)
	}
	if got := f.call(SysExec, scratch); got != 0 {
		t.Errorf("exec(other) = %d, want 0", got)
	}
	f.t.With(func(in *task.TaskInner) {
		if in.MemorySet.IsMapped(mm.VirtAddr(scratch).Floor()) {
			t.Error("mmap area survived exec")
		}
	})
}
