// Package kernel boots the process-management core: it builds physical
// memory, the task system and the syscall dispatcher from configuration,
// creates initproc and runs the dispatch loop until initproc exits.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"tinyos/pkg/config"
	"tinyos/pkg/loader"
	"tinyos/pkg/mm"
	"tinyos/pkg/syscall"
	"tinyos/pkg/task"
	"tinyos/pkg/timer"
)

// Options configure a Kernel.
type Options struct {
	Config *config.Config
	// Loader resolves application names. Required.
	Loader loader.Resolver
	// Console receives user output; defaults to os.Stdout.
	Console io.Writer
	// Logger defaults to a logger built from Config.Log.
	Logger hclog.Logger
	// Clock defaults to the monotonic wall clock.
	Clock timer.Clock
}

// Kernel is one booted instance.
type Kernel struct {
	cfg      *config.Config
	id       uuid.UUID
	log      hclog.Logger
	mem      *mm.PhysMemory
	sys      *task.System
	syscalls *syscall.Dispatcher
}

// New boots a kernel. No task exists until Run.
func New(opts Options) (*Kernel, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Loader == nil {
		return nil, errors.New("kernel: no application loader")
	}
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	k := &Kernel{cfg: cfg, id: uuid.New()}
	k.log = opts.Logger
	if k.log == nil {
		k.log = hclog.New(&hclog.LoggerOptions{
			Name:       "tinyos",
			Level:      hclog.LevelFromString(cfg.Log.Level),
			JSONFormat: cfg.Log.JSON,
			Output:     os.Stderr,
		})
	}
	k.log = k.log.With("boot", k.id.String())

	k.mem = mm.NewPhysMemory(cfg.Memory.Frames, k.log.Named("mm"))
	k.sys = task.NewSystem(task.Options{
		Config:   cfg,
		Memory:   k.mem,
		Loader:   opts.Loader,
		Clock:    opts.Clock,
		Logger:   k.log.Named("task"),
		Executor: k,
	})
	k.syscalls = syscall.NewDispatcher(k.sys, console, k.log.Named("syscall"))

	k.log.Info("kernel booted",
		"frames", cfg.Memory.Frames,
		"big_stride", cfg.Sched.BigStride,
		"time_slice_us", cfg.Sched.TimeSliceMicros,
		"idle", cfg.Sched.Idle,
	)
	return k, nil
}

// ID identifies this boot in logs.
func (k *Kernel) ID() uuid.UUID { return k.id }

// Tasks returns the task system.
func (k *Kernel) Tasks() *task.System { return k.sys }

// Memory returns physical memory.
func (k *Kernel) Memory() *mm.PhysMemory { return k.mem }

// Run creates initproc and dispatches tasks until initproc exits, in which
// case its exit code is returned. Otherwise the dispatch loop's error is
// returned.
func (k *Kernel) Run(ctx context.Context) (int32, error) {
	if _, err := k.sys.AddInitProc(k.cfg.InitProc); err != nil {
		return 0, fmt.Errorf("starting initproc: %w", err)
	}

	err := k.sys.RunTasks(ctx)
	if code, halted := k.sys.ExitCode(); halted {
		k.log.Info("kernel halted", "exit_code", code, "frames_in_use", k.mem.InUse())
		return code, nil
	}
	k.log.Warn("dispatch loop stopped before initproc exited", "error", err)
	return 0, err
}
