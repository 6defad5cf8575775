package mm

import (
	"fmt"
	"iter"
)

// PTEFlags are the Sv39 page table entry flag bits.
type PTEFlags uint8

// Page table entry flags.
const (
	PTEValid PTEFlags = 1 << iota
	PTERead
	PTEWrite
	PTEExec
	PTEUser
	PTEGlobal
	PTEAccessed
	PTEDirty
)

// PageTableEntry packs a physical page number and flags the way Sv39 does:
// flags in the low ten bits, the PPN above them.
type PageTableEntry uint64

// NewPTE builds an entry.
func NewPTE(ppn PhysPageNum, flags PTEFlags) PageTableEntry {
	return PageTableEntry(uint64(ppn)<<10 | uint64(flags))
}

// PPN returns the mapped frame.
func (e PageTableEntry) PPN() PhysPageNum { return PhysPageNum(uint64(e) >> 10 & (1<<44 - 1)) }

// Flags returns the flag bits.
func (e PageTableEntry) Flags() PTEFlags { return PTEFlags(e) }

// IsValid reports whether the entry maps a frame.
func (e PageTableEntry) IsValid() bool { return e.Flags()&PTEValid != 0 }

// Readable reports the R bit.
func (e PageTableEntry) Readable() bool { return e.Flags()&PTERead != 0 }

// Writable reports the W bit.
func (e PageTableEntry) Writable() bool { return e.Flags()&PTEWrite != 0 }

// Executable reports the X bit.
func (e PageTableEntry) Executable() bool { return e.Flags()&PTEExec != 0 }

// UserAccessible reports the U bit.
func (e PageTableEntry) UserAccessible() bool { return e.Flags()&PTEUser != 0 }

// PageTable maps the virtual pages of one address space. The root frame is
// allocated so that every table has a distinct token, as satp would.
type PageTable struct {
	mem     *PhysMemory
	root    *FrameTracker
	entries map[VirtPageNum]PageTableEntry
}

// NewPageTable allocates an empty page table.
func NewPageTable(mem *PhysMemory) (*PageTable, error) {
	root, err := mem.Alloc()
	if err != nil {
		return nil, err
	}
	return &PageTable{
		mem:     mem,
		root:    root,
		entries: make(map[VirtPageNum]PageTableEntry),
	}, nil
}

// Token returns the satp value selecting this table in Sv39 mode.
func (pt *PageTable) Token() uint64 {
	return 8<<60 | uint64(pt.root.PPN)
}

// Map installs vpn -> ppn. Mapping a page twice is a kernel bug.
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags PTEFlags) {
	if e, ok := pt.entries[vpn]; ok && e.IsValid() {
		panic(fmt.Sprintf("vpn %#x is mapped before mapping", uint64(vpn)))
	}
	pt.entries[vpn] = NewPTE(ppn, flags|PTEValid)
}

// Unmap removes the mapping of vpn. Unmapping a free page is a kernel bug.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	if e, ok := pt.entries[vpn]; !ok || !e.IsValid() {
		panic(fmt.Sprintf("vpn %#x is invalid before unmapping", uint64(vpn)))
	}
	delete(pt.entries, vpn)
}

// Translate returns the entry for vpn, if any.
func (pt *PageTable) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	e, ok := pt.entries[vpn]
	return e, ok
}

// TranslateVA returns the physical address backing va.
func (pt *PageTable) TranslateVA(va VirtAddr) (PhysAddr, bool) {
	e, ok := pt.Translate(va.Floor())
	if !ok || !e.IsValid() {
		return 0, false
	}
	return e.PPN().Addr() + PhysAddr(va.PageOffset()), true
}

// Mapped returns the number of valid entries.
func (pt *PageTable) Mapped() int { return len(pt.entries) }

// ByteBuffer returns the physically contiguous views covering
// [ptr, ptr+length), one per page touched, in address order. Every page must
// be valid and carry all of the need flags; otherwise the sequence ends with
// an error wrapping ErrBadAddress. The sequence is computed lazily.
func (pt *PageTable) ByteBuffer(ptr, length uint64, need PTEFlags) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		start, end := ptr, ptr+length
		if end < start {
			yield(nil, fmt.Errorf("%w: range %#x+%#x overflows", ErrBadAddress, ptr, length))
			return
		}
		for start < end {
			va := VirtAddr(start)
			e, ok := pt.Translate(va.Floor())
			if !ok || !e.IsValid() || e.Flags()&need != need {
				yield(nil, fmt.Errorf("%w: %v", ErrBadAddress, va))
				return
			}
			pageEnd := min(uint64((va.Floor() + 1).Addr()), end)
			off := va.PageOffset()
			view := pt.mem.Frame(e.PPN())[off : off+(pageEnd-start)]
			if !yield(view, nil) {
				return
			}
			start = pageEnd
		}
	}
}

// release frees the root frame. Data frames belong to map areas.
func (pt *PageTable) release() {
	pt.root.Release()
	clear(pt.entries)
}
