package config

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Idle policies understood by the dispatch loop.
const (
	// IdleWaitForInterrupt blocks the dispatch loop until new work arrives.
	IdleWaitForInterrupt = "wfi"
	// IdleHalt stops the dispatch loop as soon as the ready queue is empty.
	IdleHalt = "halt"
)

// pageSize mirrors mm.PageSize; config is imported by mm's callers, not the
// other way around.
const pageSize = 4096

// Config is the complete kernel configuration.
type Config struct {
	// InitProc is the application started as the root task.
	InitProc string `toml:"init_proc"`
	// Memory configures the simulated physical and virtual memory.
	Memory MemoryConfig `toml:"memory"`
	// Sched configures the stride scheduler and the dispatch loop.
	Sched SchedConfig `toml:"sched"`
	// Log configures kernel logging.
	Log LogConfig `toml:"log"`
}

// MemoryConfig configures the memory subsystem.
type MemoryConfig struct {
	// Frames is the number of physical page frames available to users.
	Frames uint64 `toml:"frames"`
	// UserStackSize is the size in bytes of every user stack.
	UserStackSize uint64 `toml:"user_stack_size"`
	// MaxUserAddress is the exclusive upper bound of user virtual addresses.
	MaxUserAddress uint64 `toml:"max_user_address"`
}

// SchedConfig configures scheduling.
type SchedConfig struct {
	// BigStride is divided by a task's priority to get its pass.
	BigStride uint64 `toml:"big_stride"`
	// DefaultPriority is assigned to tasks that never call set_priority.
	DefaultPriority uint64 `toml:"default_priority"`
	// TimeSliceMicros is the preemption quantum; zero disables preemption.
	TimeSliceMicros uint64 `toml:"time_slice_us"`
	// Idle selects the idle policy ("wfi" or "halt").
	Idle string `toml:"idle"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is an hclog level name (trace, debug, info, warn, error, off).
	Level string `toml:"level"`
	// JSON switches the log output to JSON lines.
	JSON bool `toml:"json"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		InitProc: "initproc",
		Memory: MemoryConfig{
			Frames:         8192, // 32 MiB
			UserStackSize:  2 * pageSize,
			MaxUserAddress: 1 << 38, // Sv39 user half
		},
		Sched: SchedConfig{
			BigStride:       1 << 32,
			DefaultPriority: 16,
			TimeSliceMicros: 10_000,
			Idle:            IdleHalt,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for values the kernel cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.InitProc == "" {
		problems = append(problems, "init_proc must not be empty")
	}
	if c.Memory.Frames == 0 {
		problems = append(problems, "memory.frames must be positive")
	}
	if c.Memory.UserStackSize == 0 || c.Memory.UserStackSize%pageSize != 0 {
		problems = append(problems, "memory.user_stack_size must be a positive multiple of the page size")
	}
	if c.Memory.MaxUserAddress == 0 || c.Memory.MaxUserAddress%pageSize != 0 {
		problems = append(problems, "memory.max_user_address must be a positive multiple of the page size")
	}
	if c.Sched.DefaultPriority < 2 {
		problems = append(problems, "sched.default_priority must be at least 2")
	}
	if c.Sched.BigStride < 2 || c.Sched.BigStride > 1<<62 {
		problems = append(problems, "sched.big_stride must be in [2, 2^62]")
	}
	switch c.Sched.Idle {
	case IdleWaitForInterrupt, IdleHalt:
	default:
		problems = append(problems, fmt.Sprintf("sched.idle %q is not one of %q, %q", c.Sched.Idle, IdleWaitForInterrupt, IdleHalt))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
