package mm

import (
	"cmp"
	"fmt"
	"slices"

	"tinyos/pkg/loader"
)

// MemorySet is a user address space: a page table plus the areas whose
// frames it maps. Areas never overlap. The heap area is one of them; it can
// shrink to nothing but stays in place for sbrk.
type MemorySet struct {
	mem       *PhysMemory
	pageTable *PageTable
	areas     []*MapArea
	heap      *MapArea
	released  bool
}

// Layout reports where FromImage placed the stack and heap.
type Layout struct {
	// StackTop is the initial user stack pointer.
	StackTop uint64
	// HeapBottom is the start of the (initially empty) heap area.
	HeapBottom uint64
}

// NewBare returns an address space with nothing mapped.
func NewBare(mem *PhysMemory) (*MemorySet, error) {
	pt, err := NewPageTable(mem)
	if err != nil {
		return nil, err
	}
	return &MemorySet{mem: mem, pageTable: pt}, nil
}

// FromImage builds the address space of a fresh program: the image's
// segments, a guard page, the user stack, and an empty heap area on top of
// the stack.
func FromImage(mem *PhysMemory, img *loader.Image, stackSize uint64) (*MemorySet, Layout, error) {
	ms, err := NewBare(mem)
	if err != nil {
		return nil, Layout{}, err
	}

	var maxEnd VirtPageNum
	for i, seg := range img.Segments {
		start := VirtAddr(seg.VirtAddr)
		end := start + VirtAddr(seg.MemSize)
		perm := MapPermission(seg.Perm)<<1 | MapUser
		if err := ms.InsertFramedArea(start, end, perm); err != nil {
			ms.Release()
			return nil, Layout{}, fmt.Errorf("loading %s segment %d: %w", img.Name, i, err)
		}
		ms.writeKernel(start, seg.Data)
		maxEnd = max(maxEnd, end.Ceil())
	}

	stackBottom := maxEnd.Addr() + PageSize
	stackTop := stackBottom + VirtAddr(stackSize)
	if err := ms.InsertFramedArea(stackBottom, stackTop, MapRead|MapWrite|MapUser); err != nil {
		ms.Release()
		return nil, Layout{}, fmt.Errorf("mapping %s user stack: %w", img.Name, err)
	}
	// The heap starts empty; sbrk grows it page by page.
	ms.heap = newMapArea(VPNRange{Start: stackTop.Floor(), End: stackTop.Floor()}, MapRead|MapWrite|MapUser)
	ms.pushArea(ms.heap)

	return ms, Layout{StackTop: uint64(stackTop), HeapBottom: uint64(stackTop)}, nil
}

// Token returns the page table token.
func (ms *MemorySet) Token() uint64 { return ms.pageTable.Token() }

// PageTable returns the page table.
func (ms *MemorySet) PageTable() *PageTable { return ms.pageTable }

// Translate returns the page table entry of vpn.
func (ms *MemorySet) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	return ms.pageTable.Translate(vpn)
}

// IsMapped reports whether vpn has a valid entry.
func (ms *MemorySet) IsMapped(vpn VirtPageNum) bool {
	e, ok := ms.pageTable.Translate(vpn)
	return ok && e.IsValid()
}

// AnyMapped reports whether some page of r is mapped.
func (ms *MemorySet) AnyMapped(r VPNRange) bool {
	found := false
	r.Each(func(vpn VirtPageNum) bool {
		found = ms.IsMapped(vpn)
		return !found
	})
	return found
}

// AllMapped reports whether every page of r is mapped.
func (ms *MemorySet) AllMapped(r VPNRange) bool {
	all := true
	r.Each(func(vpn VirtPageNum) bool {
		all = ms.IsMapped(vpn)
		return all
	})
	return all
}

// InsertFramedArea maps fresh zeroed frames over the pages touched by
// [start, end). It fails without side effects if any page is mapped or
// memory runs out.
func (ms *MemorySet) InsertFramedArea(start, end VirtAddr, perm MapPermission) error {
	r := NewVPNRange(start, end)
	if ms.AnyMapped(r) {
		return fmt.Errorf("%w: inside %v", ErrAlreadyMapped, r)
	}
	a := newMapArea(r, perm)
	if err := a.mapRange(ms.pageTable, r); err != nil {
		return err
	}
	ms.pushArea(a)
	return nil
}

func (ms *MemorySet) pushArea(a *MapArea) {
	i, _ := slices.BinarySearchFunc(ms.areas, a.vpns.Start, func(x *MapArea, start VirtPageNum) int {
		return cmp.Compare(x.vpns.Start, start)
	})
	ms.areas = slices.Insert(ms.areas, i, a)
}

// RemoveRange unmaps exactly the pages of r, shrinking or splitting the
// areas that hold them. Pages split off above a hole in the heap become an
// ordinary area. It fails without side effects unless every page of r is
// mapped.
func (ms *MemorySet) RemoveRange(r VPNRange) error {
	if !ms.AllMapped(r) {
		return fmt.Errorf("%w: inside %v", ErrNotMapped, r)
	}

	var kept []*MapArea
	for _, a := range ms.areas {
		cut := a.vpns.Intersect(r)
		if cut.Empty() {
			kept = append(kept, a)
			continue
		}
		a.unmapRange(ms.pageTable, cut)

		var right *MapArea
		if cut.End < a.vpns.End {
			right = a.split(cut.End)
		}
		a.vpns.End = cut.Start
		if !a.vpns.Empty() || a == ms.heap {
			kept = append(kept, a)
		}
		if right != nil {
			kept = append(kept, right)
		}
	}
	ms.areas = kept
	return nil
}

// Heap returns the pages currently held by the heap area.
func (ms *MemorySet) Heap() (VPNRange, bool) {
	if ms.heap == nil {
		return VPNRange{}, false
	}
	return ms.heap.vpns, true
}

// ShrinkHeap unmaps the heap pages at and above newEnd.
func (ms *MemorySet) ShrinkHeap(newEnd VirtAddr) error {
	a := ms.heap
	if a == nil {
		return fmt.Errorf("%w: no heap", ErrNoSuchArea)
	}
	cut := VPNRange{Start: max(newEnd.Ceil(), a.vpns.Start), End: a.vpns.End}
	if cut.Empty() {
		return nil
	}
	a.unmapRange(ms.pageTable, cut)
	a.vpns.End = cut.Start
	return nil
}

// GrowHeap maps the pages between the end of the heap and newEnd. It fails
// without side effects if one of them is already mapped or memory runs out.
func (ms *MemorySet) GrowHeap(newEnd VirtAddr) error {
	a := ms.heap
	if a == nil {
		return fmt.Errorf("%w: no heap", ErrNoSuchArea)
	}
	grow := VPNRange{Start: a.vpns.End, End: newEnd.Ceil()}
	if grow.Empty() {
		return nil
	}
	if ms.AnyMapped(grow) {
		return fmt.Errorf("%w: inside %v", ErrAlreadyMapped, grow)
	}
	if err := a.mapRange(ms.pageTable, grow); err != nil {
		return err
	}
	a.vpns.End = grow.End
	return nil
}

// Fork returns a deep copy: same areas, fresh frames, identical bytes.
func (ms *MemorySet) Fork() (*MemorySet, error) {
	child, err := NewBare(ms.mem)
	if err != nil {
		return nil, err
	}
	for _, a := range ms.areas {
		ca := newMapArea(a.vpns, a.perm)
		if err := ca.mapRange(child.pageTable, a.vpns); err != nil {
			child.Release()
			return nil, err
		}
		for vpn, f := range a.frames {
			copy(ms.mem.Frame(ca.frames[vpn].PPN), ms.mem.Frame(f.PPN))
		}
		if a == ms.heap {
			child.heap = ca
		}
		child.pushArea(ca)
	}
	return child, nil
}

// RecycleDataPages frees every user page but keeps the page table, so the
// set can still report its token.
func (ms *MemorySet) RecycleDataPages() {
	for _, a := range ms.areas {
		a.unmapRange(ms.pageTable, a.vpns)
	}
	ms.areas = nil
	ms.heap = nil
}

// Release frees all frames, including the page table's. It is idempotent.
func (ms *MemorySet) Release() {
	if ms.released {
		return
	}
	ms.released = true
	ms.RecycleDataPages()
	ms.pageTable.release()
}

// Areas describes the areas in address order.
func (ms *MemorySet) Areas() []AreaInfo {
	out := make([]AreaInfo, 0, len(ms.areas))
	for _, a := range ms.areas {
		out = append(out, a.info())
	}
	return out
}

// writeKernel copies data to va regardless of user permissions. The caller
// has just mapped the range.
func (ms *MemorySet) writeKernel(va VirtAddr, data []byte) {
	for v, err := range ms.pageTable.ByteBuffer(uint64(va), uint64(len(data)), PTEValid) {
		if err != nil {
			panic(fmt.Sprintf("writing freshly mapped range: %v", err))
		}
		n := copy(v, data)
		data = data[n:]
	}
}
