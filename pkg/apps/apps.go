// Package apps holds the built-in user applications: initproc and a small
// set of test programs it runs.
package apps

import (
	"fmt"

	"tinyos/pkg/loader"
	"tinyos/pkg/mm"
	"tinyos/pkg/trap"
	"tinyos/pkg/ulib"
)

// Base is where every application image is linked.
const Base = 0x400000

// Application names.
const (
	InitProc  = "initproc"
	UserTests = "usertests"
	Hello     = "hello"
	MapRW     = "mmap_rw"
	Brk       = "sbrk"
	ForkWait  = "fork_wait"
	Fault     = "page_fault"
)

// Tests run by usertests, with their expected exit codes.
var Tests = []struct {
	Name string
	Code int32
}{
	{Hello, 0},
	{MapRW, 42},
	{Brk, 0},
	{ForkWait, 0},
	{Fault, -2},
}

const helloMessage = "Hello, world!\n"

// image links entry with a text page and a data page holding data.
func image(name string, entry trap.Entry, data []byte) *loader.Image {
	return &loader.Image{
		Name:  name,
		Entry: entry,
		Segments: []loader.Segment{
			{VirtAddr: Base, MemSize: mm.PageSize, Data: []byte(name), Perm: loader.PermRead | loader.PermExec},
			{VirtAddr: Base + mm.PageSize, MemSize: mm.PageSize, Data: data, Perm: loader.PermRead | loader.PermWrite},
		},
	}
}

// dataAddr is the start of every image's data segment.
const dataAddr = Base + mm.PageSize

// Images returns every built-in application.
func Images() []*loader.Image {
	return []*loader.Image{
		image(InitProc, initproc, nil),
		image(UserTests, usertests, nil),
		image(Hello, hello, []byte(helloMessage)),
		image(MapRW, mapRW, nil),
		image(Brk, brk, nil),
		image(ForkWait, forkWait, nil),
		image(Fault, fault, nil),
	}
}

// Registry returns a loader holding every built-in application.
func Registry() (*loader.Registry, error) {
	return loader.NewRegistry(Images()...)
}

// initproc runs usertests in a forked child and reaps every task handed to
// it until none is left.
func initproc(m trap.Machine) int32 {
	return ulib.Fork(m, func(m trap.Machine, pid int64) int32 {
		if pid == 0 {
			ulib.Exec(m, UserTests)
			ulib.Print(m, "initproc: exec usertests failed\n")
			return -1
		}
		var status int32
		for {
			got, code := ulib.Waitpid(m, -1)
			switch got {
			case -1:
				return status
			case -2:
				ulib.Yield(m)
			case pid:
				status = code
			}
		}
	})
}

func usertests(m trap.Machine) int32 {
	failed := int32(0)
	for _, tc := range Tests {
		pid := ulib.Spawn(m, tc.Name)
		if pid < 0 {
			ulib.Print(m, fmt.Sprintf("usertests: spawn %s failed\n", tc.Name))
			failed++
			continue
		}
		_, code := ulib.Wait(m, pid)
		result := "ok"
		if code != tc.Code {
			result = fmt.Sprintf("FAILED: exit code %d, want %d", code, tc.Code)
			failed++
		}
		ulib.Print(m, fmt.Sprintf("usertests: %s %s\n", tc.Name, result))
	}
	if failed == 0 {
		ulib.Print(m, "usertests passed\n")
	}
	return failed
}

func hello(m trap.Machine) int32 {
	if ulib.Write(m, 1, dataAddr, uint64(len(helloMessage))) != int64(len(helloMessage)) {
		return 1
	}
	return 0
}

// mapRW maps a page, writes and reads it back, unmaps it and exits with 42.
func mapRW(m trap.Machine) int32 {
	const start = 0x10000
	if ulib.SetPriority(m, 2) != 2 {
		return 1
	}
	if ulib.Sbrk(m, mm.PageSize) < 0 {
		return 2
	}
	if ulib.Mmap(m, start, mm.PageSize, 3) != 0 {
		return 3
	}
	ulib.StoreUint64(m, start+8, 0xdeadbeef)
	if ulib.LoadUint64(m, start+8) != 0xdeadbeef {
		return 4
	}
	if ulib.Munmap(m, start, mm.PageSize) != 0 {
		return 5
	}
	if ulib.Mmap(m, start, mm.PageSize, 3) != 0 || ulib.Mmap(m, start, mm.PageSize, 1) != -1 {
		return 6
	}
	return 42
}

// brk grows the heap, uses it and shrinks it back.
func brk(m trap.Machine) int32 {
	bottom := ulib.Sbrk(m, 0)
	if bottom < 0 {
		return 1
	}
	if ulib.Sbrk(m, 2*mm.PageSize) != bottom {
		return 2
	}
	top := uint64(bottom) + 2*mm.PageSize - 8
	ulib.StoreUint64(m, top, 7)
	if ulib.LoadUint64(m, top) != 7 {
		return 3
	}
	if ulib.Sbrk(m, -2*mm.PageSize) != bottom+2*mm.PageSize {
		return 4
	}
	if ulib.Sbrk(m, -1) != -1 {
		return 5
	}
	return 0
}

// forkWait forks children that exit with their index and checks every code
// comes back.
func forkWait(m trap.Machine) int32 {
	const children = 4
	// The child index lives in user memory so that each child sees its own.
	slot := uint64(dataAddr)
	seen := 0
	for i := range children {
		ulib.StoreUint64(m, slot, uint64(i))
		if ulib.Fork(m, func(m trap.Machine, pid int64) int32 {
			if pid == 0 {
				ulib.Yield(m)
				ulib.Exit(m, int32(ulib.LoadUint64(m, slot))+10)
			}
			if pid < 0 {
				return 1
			}
			return 0
		}) != 0 {
			return 1
		}
	}
	for range children {
		_, code := ulib.Wait(m, -1)
		if code < 10 || code >= 10+children {
			return 2
		}
		seen |= 1 << (code - 10)
	}
	if seen != 1<<children-1 {
		return 3
	}
	if got, _ := ulib.Waitpid(m, -1); got != -1 {
		return 4
	}
	return 0
}

// fault touches an unmapped page and is killed.
func fault(m trap.Machine) int32 {
	ulib.StoreUint64(m, 0x20000, 1)
	return 0
}
