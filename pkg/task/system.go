package task

import (
	"errors"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"tinyos/pkg/config"
	"tinyos/pkg/loader"
	"tinyos/pkg/mm"
	"tinyos/pkg/timer"
	"tinyos/pkg/upcell"
)

// Task errors. The syscall layer turns them into sentinel return values.
var (
	ErrImageNotFound   = errors.New("application image not found")
	ErrNoChild         = errors.New("no such child")
	ErrChildRunning    = errors.New("child has not exited")
	ErrInvalidPriority = errors.New("priority below minimum")
	ErrInvalidBrk      = errors.New("invalid program break")
	ErrInitProcExists  = errors.New("initproc already created")
)

// Executor runs a task's user code on the calling goroutine, starting from
// its trap context, and returns the program's exit code. It is the trap
// return path of a freshly created task.
type Executor interface {
	RunUser(t *TaskControlBlock) int32
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(t *TaskControlBlock) int32

// RunUser implements Executor.
func (f ExecutorFunc) RunUser(t *TaskControlBlock) int32 { return f(t) }

// Options configure a System.
type Options struct {
	Config   *config.Config
	Memory   *mm.PhysMemory
	Loader   loader.Resolver
	Clock    timer.Clock
	Logger   hclog.Logger
	Executor Executor
	// Idle overrides the idle policy named in Config.
	Idle IdlePolicy
}

// System is the task subsystem: the ready queue, the processor, and the
// collaborators tasks are built from. The manager and processor are
// kernel-wide singletons reached only through their exclusive-access cells.
type System struct {
	manager   *upcell.Cell[Manager]
	processor *upcell.Cell[Processor]
	pids      *PidAllocator

	mem       *mm.PhysMemory
	loader    loader.Resolver
	clock     timer.Clock
	exec      Executor
	idle      IdlePolicy
	log       hclog.Logger
	stackSize uint64
	maxAddr   uint64
	priority  uint64
	timeSlice uint64

	initproc atomic.Pointer[TaskControlBlock]
	halted   atomic.Bool
	exitCode atomic.Int32
}

// NewSystem initializes the task subsystem. No task runs until RunTasks.
func NewSystem(opts Options) *System {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timer.NewMonotonic()
	}
	mem := opts.Memory
	if mem == nil {
		mem = mm.NewPhysMemory(cfg.Memory.Frames, logger.Named("mm"))
	}
	idle := opts.Idle
	if idle == nil {
		idle = IdlePolicyFor(cfg.Sched.Idle)
	}

	return &System{
		manager:   upcell.New(*NewManager(cfg.Sched.BigStride)),
		processor: upcell.New(*NewProcessor()),
		pids:      NewPidAllocator(),
		mem:       mem,
		loader:    opts.Loader,
		clock:     clock,
		exec:      opts.Executor,
		idle:      idle,
		log:       logger,
		stackSize: cfg.Memory.UserStackSize,
		maxAddr:   cfg.Memory.MaxUserAddress,
		priority:  cfg.Sched.DefaultPriority,
		timeSlice: cfg.Sched.TimeSliceMicros,
	}
}

// Memory returns the physical memory tasks allocate from.
func (s *System) Memory() *mm.PhysMemory { return s.mem }

// Clock returns the kernel clock.
func (s *System) Clock() timer.Clock { return s.clock }

// MaxUserAddress returns the exclusive upper bound of user addresses.
func (s *System) MaxUserAddress() uint64 { return s.maxAddr }

// Pids returns the pid allocator.
func (s *System) Pids() *PidAllocator { return s.pids }

// InitProc returns the root task, if created.
func (s *System) InitProc() *TaskControlBlock { return s.initproc.Load() }

// ReadyLen returns the number of tasks in the ready queue.
func (s *System) ReadyLen() int {
	return upcell.Get(s.manager, func(m *Manager) int { return m.Len() })
}

// AddTask puts a ready task in the ready queue.
func (s *System) AddTask(t *TaskControlBlock) {
	s.manager.With(func(m *Manager) { m.Add(t) })
}

// Halted reports whether initproc has exited.
func (s *System) Halted() bool { return s.halted.Load() }

// ExitCode returns initproc's exit code once the kernel has halted.
func (s *System) ExitCode() (int32, bool) {
	return s.exitCode.Load(), s.halted.Load()
}

func (s *System) halt(code int32) {
	s.exitCode.Store(code)
	s.halted.Store(true)
}
