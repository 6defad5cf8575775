package mm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Workiva/go-datastructures/bitarray"
	"github.com/hashicorp/go-hclog"
)

// Memory errors.
var (
	ErrOutOfMemory   = errors.New("out of physical frames")
	ErrBadAddress    = errors.New("bad user address")
	ErrAlreadyMapped = errors.New("page already mapped")
	ErrNotMapped     = errors.New("page not mapped")
	ErrNoSuchArea    = errors.New("no such map area")
)

// firstFrame is the page number of the first user frame, just past where a
// kernel image would end.
const firstFrame PhysPageNum = 0x80400

// PhysMemory is the simulated physical memory available to user address
// spaces together with its frame allocator. Frames are handed out from a
// never-used watermark or a recycled stack, and an allocation bitmap
// catches double frees.
type PhysMemory struct {
	mu       sync.Mutex
	frames   [][]byte
	used     bitarray.BitArray
	current  uint64
	recycled []uint64
	inUse    uint64
	log      hclog.Logger
}

// NewPhysMemory creates a memory of n frames.
func NewPhysMemory(n uint64, logger hclog.Logger) *PhysMemory {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &PhysMemory{
		frames: make([][]byte, n),
		used:   bitarray.NewBitArray(n),
		log:    logger,
	}
}

// FrameTracker owns one allocated frame until Release is called.
type FrameTracker struct {
	PPN PhysPageNum
	mem *PhysMemory
}

// Alloc returns a zero-filled frame.
func (m *PhysMemory) Alloc() (*FrameTracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idx uint64
	switch {
	case len(m.recycled) > 0:
		idx = m.recycled[len(m.recycled)-1]
		m.recycled = m.recycled[:len(m.recycled)-1]
	case m.current < uint64(len(m.frames)):
		idx = m.current
		m.current++
	default:
		m.log.Warn("frame allocation failed", "capacity", len(m.frames))
		return nil, ErrOutOfMemory
	}

	if err := m.used.SetBit(idx); err != nil {
		panic(fmt.Sprintf("frame bitmap: %v", err))
	}
	if m.frames[idx] == nil {
		m.frames[idx] = make([]byte, PageSize)
	} else {
		clear(m.frames[idx])
	}
	m.inUse++

	return &FrameTracker{PPN: firstFrame + PhysPageNum(idx), mem: m}, nil
}

// Release returns the frame to its memory.
func (f *FrameTracker) Release() {
	f.mem.dealloc(f.PPN)
}

func (m *PhysMemory) dealloc(ppn PhysPageNum) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.index(ppn)
	if ok, _ := m.used.GetBit(idx); !ok {
		panic(fmt.Sprintf("frame ppn=%#x has not been allocated", uint64(ppn)))
	}
	if err := m.used.ClearBit(idx); err != nil {
		panic(fmt.Sprintf("frame bitmap: %v", err))
	}
	m.recycled = append(m.recycled, idx)
	m.inUse--
}

// Frame returns the bytes of an allocated frame.
func (m *PhysMemory) Frame(ppn PhysPageNum) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.index(ppn)
	if ok, _ := m.used.GetBit(idx); !ok {
		panic(fmt.Sprintf("access to free frame ppn=%#x", uint64(ppn)))
	}
	return m.frames[idx]
}

func (m *PhysMemory) index(ppn PhysPageNum) uint64 {
	if ppn < firstFrame || uint64(ppn-firstFrame) >= uint64(len(m.frames)) {
		panic(fmt.Sprintf("frame ppn=%#x out of range", uint64(ppn)))
	}
	return uint64(ppn - firstFrame)
}

// InUse returns the number of allocated frames.
func (m *PhysMemory) InUse() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse
}

// Capacity returns the total number of frames.
func (m *PhysMemory) Capacity() uint64 {
	return uint64(len(m.frames))
}
