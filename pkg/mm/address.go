package mm

import "fmt"

// Page geometry.
const (
	PageSizeBits = 12
	PageSize     = 1 << PageSizeBits
)

// VirtAddr is a user virtual address.
type VirtAddr uint64

// PhysAddr is a simulated physical address.
type PhysAddr uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// PhysPageNum is a physical page number.
type PhysPageNum uint64

// Floor returns the page containing va.
func (va VirtAddr) Floor() VirtPageNum { return VirtPageNum(va >> PageSizeBits) }

// Ceil returns the first page at or after va.
func (va VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((uint64(va) + PageSize - 1) >> PageSizeBits)
}

// PageOffset returns the offset of va within its page.
func (va VirtAddr) PageOffset() uint64 { return uint64(va) & (PageSize - 1) }

// Aligned reports whether va is page aligned.
func (va VirtAddr) Aligned() bool { return va.PageOffset() == 0 }

func (va VirtAddr) String() string { return fmt.Sprintf("%#x", uint64(va)) }

// Addr returns the first address of the page.
func (vpn VirtPageNum) Addr() VirtAddr { return VirtAddr(vpn << PageSizeBits) }

// Addr returns the first address of the frame.
func (ppn PhysPageNum) Addr() PhysAddr { return PhysAddr(ppn << PageSizeBits) }

// VPNRange is the half-open page range [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

// NewVPNRange returns the range of pages touched by [start, end).
func NewVPNRange(start, end VirtAddr) VPNRange {
	return VPNRange{Start: start.Floor(), End: end.Ceil()}
}

// Len returns the number of pages in the range.
func (r VPNRange) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Empty reports whether the range holds no pages.
func (r VPNRange) Empty() bool { return r.Len() == 0 }

// Contains reports whether vpn lies in the range.
func (r VPNRange) Contains(vpn VirtPageNum) bool { return vpn >= r.Start && vpn < r.End }

// Intersect returns the overlap of two ranges, possibly empty.
func (r VPNRange) Intersect(o VPNRange) VPNRange {
	out := VPNRange{Start: max(r.Start, o.Start), End: min(r.End, o.End)}
	if out.End < out.Start {
		out.End = out.Start
	}
	return out
}

// Each calls fn for every page in the range until fn returns false.
func (r VPNRange) Each(fn func(vpn VirtPageNum) bool) {
	for vpn := r.Start; vpn < r.End; vpn++ {
		if !fn(vpn) {
			return
		}
	}
}

func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start.Addr()), uint64(r.End.Addr()))
}
