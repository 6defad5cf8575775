package kernel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"

	"tinyos/pkg/apps"
	"tinyos/pkg/config"
	"tinyos/pkg/loader"
	"tinyos/pkg/mm"
	"tinyos/pkg/syscall"
	"tinyos/pkg/task"
	"tinyos/pkg/timer"
	"tinyos/pkg/trap"
	"tinyos/pkg/ulib"
)

func userImage(name string, entry trap.Entry) *loader.Image {
	return &loader.Image{
		Name:  name,
		Entry: entry,
		Segments: []loader.Segment{
			{VirtAddr: apps.Base, MemSize: mm.PageSize, Perm: loader.PermRead | loader.PermExec},
		},
	}
}

type testKernel struct {
	*Kernel
	console *bytes.Buffer
	clock   *timer.Manual
}

func boot(t *testing.T, initproc string, images ...*loader.Image) *testKernel {
	t.Helper()
	reg, err := loader.NewRegistry(images...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	cfg := config.Default()
	cfg.InitProc = initproc
	cfg.Memory.Frames = 512

	tk := &testKernel{console: &bytes.Buffer{}, clock: timer.NewManual(0)}
	tk.Kernel, err = New(Options{
		Config:  cfg,
		Loader:  reg,
		Console: tk.console,
		Logger:  hclog.NewNullLogger(),
		Clock:   tk.clock,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tk
}

func (tk *testKernel) run(t *testing.T) int32 {
	t.Helper()
	code, err := tk.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return code
}

// TestBuiltinApplications tests the built-in initproc and usertests.
func TestBuiltinApplications(t *testing.T) {
	tk := boot(t, apps.InitProc, apps.Images()...)
	if code := tk.run(t); code != 0 {
		t.Errorf("Run() = %d, want 0\nconsole:\n%s", code, tk.console)
	}

	out := tk.console.String()
	for _, want := range []string{"Hello, world!\n", "usertests: page_fault ok\n", "usertests passed\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("console missing %q:\n%s", want, out)
		}
	}
	if got := tk.Tasks().Pids().Live(); got != 1 {
		t.Errorf("Live() = %d, want 1", got)
	}
	if got := tk.Memory().InUse(); got != 1 {
		t.Errorf("InUse() = %d, want 1", got)
	}
}

// TestMapAndExitScenario tests a priority 2 task that grows its heap, maps,
// uses and unmaps a page and exits with 42 while its parent polls waitpid.
func TestMapAndExitScenario(t *testing.T) {
	var (
		childPid int64
		reaped   int64
		code     int32
		value    uint64
	)
	tk := boot(t, "parent",
		userImage("parent", func(m trap.Machine) int32 {
			childPid = ulib.Spawn(m, "child")
			for {
				reaped, code = ulib.Waitpid(m, -1)
				if reaped != -2 {
					return 0
				}
				ulib.Yield(m)
			}
		}),
		userImage("child", func(m trap.Machine) int32 {
			if ulib.SetPriority(m, 2) != 2 {
				return 1
			}
			if ulib.Sbrk(m, 4096) < 0 {
				return 2
			}
			if ulib.Mmap(m, 0x10000, 4096, 3) != 0 {
				return 3
			}
			ulib.StoreUint64(m, 0x10000, 0x1122334455667788)
			value = ulib.LoadUint64(m, 0x10000)
			if ulib.Munmap(m, 0x10000, 4096) != 0 {
				return 4
			}
			ulib.Exit(m, 42)
			return 5
		}),
	)
	tk.run(t)

	if childPid < 0 || reaped != childPid {
		t.Errorf("waitpid() = %d, want %d", reaped, childPid)
	}
	if code != 42 {
		t.Errorf("exit code = %d, want 42", code)
	}
	if value != 0x1122334455667788 {
		t.Errorf("read back %#x, want %#x", value, uint64(0x1122334455667788))
	}
}

// TestTelemetryAcrossPages tests get_time and task_info with destinations
// that straddle a page boundary.
func TestTelemetryAcrossPages(t *testing.T) {
	const start = 0x10000
	var (
		tv       syscall.TimeVal
		info     syscall.TaskInfo
		rets     []int64
		leftover uint64
	)
	var tk *testKernel
	tk = boot(t, "probe", userImage("probe", func(m trap.Machine) int32 {
		rets = append(rets, ulib.Mmap(m, start, 2*mm.PageSize, 3))

		tvAddr := uint64(start + mm.PageSize - 8)
		rets = append(rets, ulib.GetTimeAt(m, tvAddr))
		b := make([]byte, syscall.TimeValSize)
		m.Load(tvAddr, b)
		if err := syscall.Decode(b, &tv); err != nil {
			t.Errorf("Decode(TimeVal) error = %v", err)
		}

		tk.clock.Advance(7_000)
		infoAddr := uint64(start + mm.PageSize - 100)
		rets = append(rets, ulib.TaskInfoAt(m, infoAddr))
		b = make([]byte, syscall.TaskInfoSize)
		m.Load(infoAddr, b)
		if err := syscall.Decode(b, &info); err != nil {
			t.Errorf("Decode(TaskInfo) error = %v", err)
		}

		// The second half of this destination is unmapped.
		ulib.StoreUint64(m, start+2*mm.PageSize-8, 0xabcd)
		rets = append(rets, ulib.GetTimeAt(m, start+2*mm.PageSize-8))
		leftover = ulib.LoadUint64(m, start+2*mm.PageSize-8)
		// Text is not writable.
		rets = append(rets, ulib.TaskInfoAt(m, apps.Base))
		return 0
	}))
	tk.clock.Advance(3_500_000)
	tk.run(t)

	if want := []int64{0, 0, 0, -1, -1}; !equal(rets, want) {
		t.Errorf("syscall results = %v, want %v", rets, want)
	}
	if tv.Sec != 3 || tv.Usec != 500_000 {
		t.Errorf("get_time = %+v, want {Sec:3 Usec:500000}", tv)
	}
	if leftover != 0xabcd {
		t.Errorf("partially mapped destination = %#x, want untouched %#x", leftover, 0xabcd)
	}
	if info.Status != uint32(task.StatusRunning) {
		t.Errorf("task_info status = %d, want %d", info.Status, task.StatusRunning)
	}
	if info.Time != 7 {
		t.Errorf("task_info time = %d, want 7", info.Time)
	}
	for id, want := range map[int]uint32{syscall.SysMmap: 1, syscall.SysGetTime: 1, syscall.SysTaskInfo: 1, syscall.SysWrite: 0} {
		if got := info.SyscallTimes[id]; got != want {
			t.Errorf("syscall_times[%d] = %d, want %d", id, got, want)
		}
	}
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestExecReplacesCaller tests that exec keeps the pid and never returns on
// success.
func TestExecReplacesCaller(t *testing.T) {
	var (
		missing  int64
		before   int64
		after    int64
		reaped   int64
		exitCode int32
	)
	tk := boot(t, "parent",
		userImage("parent", func(m trap.Machine) int32 {
			pid := ulib.Spawn(m, "execer")
			reaped, exitCode = ulib.Wait(m, pid)
			return 0
		}),
		userImage("execer", func(m trap.Machine) int32 {
			before = ulib.Getpid(m)
			missing = ulib.Exec(m, "missing")
			ulib.Exec(m, "target")
			return 1
		}),
		userImage("target", func(m trap.Machine) int32 {
			after = ulib.Getpid(m)
			return 9
		}),
	)
	tk.run(t)

	if missing != -1 {
		t.Errorf("exec(missing) = %d, want -1", missing)
	}
	if after != before || reaped != before {
		t.Errorf("pids before/after exec, reaped = %d/%d, %d, want all equal", before, after, reaped)
	}
	if exitCode != 9 {
		t.Errorf("exit code = %d, want 9", exitCode)
	}
}

// TestTimeSlicePreemption tests that a task is suspended at a trap once its
// slice has elapsed.
func TestTimeSlicePreemption(t *testing.T) {
	var (
		order []string
		tk    *testKernel
	)
	tk = boot(t, "parent",
		userImage("parent", func(m trap.Machine) int32 {
			a := ulib.Spawn(m, "long")
			b := ulib.Spawn(m, "short")
			ulib.Wait(m, a)
			ulib.Wait(m, b)
			return 0
		}),
		userImage("long", func(m trap.Machine) int32 {
			for range 3 {
				order = append(order, "long")
				tk.clock.Advance(20_000)
				ulib.Getpid(m)
			}
			return 0
		}),
		userImage("short", func(m trap.Machine) int32 {
			order = append(order, "short")
			return 0
		}),
	)
	tk.run(t)

	if len(order) != 4 || order[1] != "short" {
		t.Errorf("run order = %v, want short to run between slices of long", order)
	}
}

// TestUnknownSyscall tests that an unsupported id fails without killing the
// caller and is still counted.
func TestUnknownSyscall(t *testing.T) {
	var ret int64
	tk := boot(t, "probe", userImage("probe", func(m trap.Machine) int32 {
		cx := m.Context()
		cx.X[trap.RegA7] = 3
		m.Ecall()
		ret = m.Context().Return()
		return 0
	}))
	tk.run(t)

	if ret != -1 {
		t.Errorf("unknown syscall = %d, want -1", ret)
	}
}

// TestRunMissingInitProc tests booting without a loadable initproc.
func TestRunMissingInitProc(t *testing.T) {
	tk := boot(t, "absent")
	if _, err := tk.Run(context.Background()); !errors.Is(err, task.ErrImageNotFound) {
		t.Errorf("Run() error = %v, want %v", err, task.ErrImageNotFound)
	}
}

// TestNewRejectsBadConfig tests configuration validation at boot.
func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Memory.Frames = 0
	if _, err := New(Options{Config: cfg, Loader: &loader.Registry{}}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want %v", err, config.ErrInvalidConfig)
	}
	if _, err := New(Options{}); err == nil {
		t.Error("New() without loader error = nil, want error")
	}
}
