// Package ulib is the user-side syscall library. Every call places its
// arguments in registers, traps with Ecall and reads the result from a0;
// strings and result buffers live on the caller's user stack.
//
// A call that ends the task, such as Exit, a successful Exec or a faulting
// access, never returns, and deferred calls on its flow run only after
// another task owns the processor. User programs and this package therefore
// do not defer; stack space is popped explicitly after the trap returns.
package ulib

import (
	"encoding/binary"

	"tinyos/pkg/syscall"
	"tinyos/pkg/trap"
)

func ecall(m trap.Machine, id uint64, a0, a1, a2 uint64) int64 {
	cx := m.Context()
	cx.X[trap.RegA7] = id
	cx.X[trap.RegA0] = a0
	cx.X[trap.RegA1] = a1
	cx.X[trap.RegA2] = a2
	m.Ecall()
	return m.Context().Return()
}

// push reserves n bytes on the user stack, 8-byte aligned. pop restores the
// stack pointer.
func push(m trap.Machine, n uint64) (va uint64, pop func()) {
	cx := m.Context()
	sp := cx.X[trap.RegSP]
	va = (sp - n) &^ 7
	cx.X[trap.RegSP] = va
	return va, func() { m.Context().X[trap.RegSP] = sp }
}

func withCString(m trap.Machine, s string, fn func(va uint64) int64) int64 {
	va, pop := push(m, uint64(len(s))+1)
	m.Store(va, append([]byte(s), 0))
	ret := fn(va)
	pop()
	return ret
}

// Write writes n bytes at user address buf to fd.
func Write(m trap.Machine, fd int, buf, n uint64) int64 {
	return ecall(m, syscall.SysWrite, uint64(fd), buf, n)
}

// Print writes s to standard output through the user stack.
func Print(m trap.Machine, s string) int64 {
	va, pop := push(m, uint64(len(s)))
	m.Store(va, []byte(s))
	n := Write(m, syscall.FdStdout, va, uint64(len(s)))
	pop()
	return n
}

// Exit terminates the calling task.
func Exit(m trap.Machine, code int32) {
	ecall(m, syscall.SysExit, uint64(int64(code)), 0, 0)
	panic("exit returned")
}

// Yield gives up the processor.
func Yield(m trap.Machine) int64 {
	return ecall(m, syscall.SysYield, 0, 0, 0)
}

// Getpid returns the caller's pid.
func Getpid(m trap.Machine) int64 {
	return ecall(m, syscall.SysGetpid, 0, 0, 0)
}

// SetPriority sets the caller's scheduling priority.
func SetPriority(m trap.Machine, p int64) int64 {
	return ecall(m, syscall.SysSetPriority, uint64(p), 0, 0)
}

// Sbrk moves the program break by delta and returns the old break.
func Sbrk(m trap.Machine, delta int32) int64 {
	return ecall(m, syscall.SysSbrk, uint64(int64(delta)), 0, 0)
}

// Mmap maps [start, start+length) with the access bits in port.
func Mmap(m trap.Machine, start, length, port uint64) int64 {
	return ecall(m, syscall.SysMmap, start, length, port)
}

// Munmap unmaps [start, start+length).
func Munmap(m trap.Machine, start, length uint64) int64 {
	return ecall(m, syscall.SysMunmap, start, length, 0)
}

// Fork duplicates the caller. Parent and child both continue in cont: the
// parent with the child's pid, the child with 0. Go variables captured by
// cont are shared by both; state that must be private belongs in user
// memory.
func Fork(m trap.Machine, cont func(m trap.Machine, pid int64) int32) int32 {
	resume := func(m trap.Machine) int32 {
		return cont(m, m.Context().Return())
	}
	m.Context().Sepc = resume
	ecall(m, syscall.SysFork, 0, 0, 0)
	return resume(m)
}

// Exec replaces the caller's program. It returns only on failure.
func Exec(m trap.Machine, path string) int64 {
	return withCString(m, path, func(va uint64) int64 {
		return ecall(m, syscall.SysExec, va, 0, 0)
	})
}

// Spawn starts path as a new child and returns its pid.
func Spawn(m trap.Machine, path string) int64 {
	return withCString(m, path, func(va uint64) int64 {
		return ecall(m, syscall.SysSpawn, va, 0, 0)
	})
}

// Waitpid reaps child pid (-1 for any) once. It returns -1 if there is no
// such child and -2 if it has not exited yet.
func Waitpid(m trap.Machine, pid int64) (int64, int32) {
	va, pop := push(m, 4)
	m.Store(va, make([]byte, 4))
	got := ecall(m, syscall.SysWaitpid, uint64(pid), va, 0)
	var b [4]byte
	if got >= 0 {
		m.Load(va, b[:])
	}
	pop()
	return got, int32(binary.LittleEndian.Uint32(b[:]))
}

// Wait reaps child pid (-1 for any), yielding until it exits.
func Wait(m trap.Machine, pid int64) (int64, int32) {
	for {
		got, code := Waitpid(m, pid)
		if got != -2 {
			return got, code
		}
		Yield(m)
	}
}

// GetTime returns the current time.
func GetTime(m trap.Machine) (syscall.TimeVal, int64) {
	va, pop := push(m, uint64(syscall.TimeValSize))
	var tv syscall.TimeVal
	ret := GetTimeAt(m, va)
	if ret != 0 {
		pop()
		return tv, ret
	}
	b := make([]byte, syscall.TimeValSize)
	m.Load(va, b)
	pop()
	if err := syscall.Decode(b, &tv); err != nil {
		return tv, -1
	}
	return tv, 0
}

// GetTimeAt stores the current time at user address va.
func GetTimeAt(m trap.Machine, va uint64) int64 {
	return ecall(m, syscall.SysGetTime, va, 0, 0)
}

// TaskInfoAt stores the caller's task info at user address va.
func TaskInfoAt(m trap.Machine, va uint64) int64 {
	return ecall(m, syscall.SysTaskInfo, va, 0, 0)
}

// LoadUint64 reads a little-endian word of user memory.
func LoadUint64(m trap.Machine, va uint64) uint64 {
	var b [8]byte
	m.Load(va, b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// StoreUint64 writes a little-endian word of user memory.
func StoreUint64(m trap.Machine, va, v uint64) {
	m.Store(va, binary.LittleEndian.AppendUint64(nil, v))
}
