/*
Package mm simulates the user side of an Sv39 memory system: a physical
frame allocator, per-task page tables, and address spaces made of framed
map areas.

Kernel code never dereferences user pointers directly. ByteBuffer walks a
user range page by page and yields the physical view of each piece, so
syscall results can be copied into destinations that straddle page
boundaries:

	if err := mm.CopyOut(ms.PageTable(), ptr, buf); err != nil {
		return -1
	}

CopyOut and CopyIn check the whole range before touching any byte.
*/
package mm
