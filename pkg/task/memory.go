package task

import (
	"errors"
	"fmt"

	"tinyos/pkg/mm"
)

// ErrInvalidMapping reports an mmap or munmap request rejected before any
// page was touched.
var ErrInvalidMapping = errors.New("invalid mapping request")

// portMask holds the access bits mmap accepts: read, write, execute.
const portMask = 0x7

// checkRange validates the page-aligned user range [start, start+length).
func (s *System) checkRange(start, length uint64) (mm.VirtAddr, mm.VirtAddr, error) {
	if !mm.VirtAddr(start).Aligned() {
		return 0, 0, fmt.Errorf("%w: start %#x not page aligned", ErrInvalidMapping, start)
	}
	if length == 0 {
		return 0, 0, fmt.Errorf("%w: empty range", ErrInvalidMapping)
	}
	end := start + length
	if end < start || start >= s.maxAddr || end > s.maxAddr {
		return 0, 0, fmt.Errorf("%w: [%#x, %#x) outside user space", ErrInvalidMapping, start, end)
	}
	return mm.VirtAddr(start), mm.VirtAddr(end), nil
}

// Mmap maps zeroed pages over [start, start+length) in t's address space
// with the access bits in port. Nothing changes unless the whole request
// succeeds.
func (s *System) Mmap(t *TaskControlBlock, start, length, port uint64) error {
	if port&^portMask != 0 {
		return fmt.Errorf("%w: unknown port bits %#x", ErrInvalidMapping, port)
	}
	if port&portMask == 0 {
		return fmt.Errorf("%w: no access bits", ErrInvalidMapping)
	}
	lo, hi, err := s.checkRange(start, length)
	if err != nil {
		return err
	}

	in, release := t.Inner()
	defer release()
	return in.MemorySet.InsertFramedArea(lo, hi, mm.PermissionFromPort(port))
}

// Munmap unmaps [start, start+length) from t's address space. Every page
// in the range must be mapped; otherwise nothing changes.
func (s *System) Munmap(t *TaskControlBlock, start, length uint64) error {
	lo, hi, err := s.checkRange(start, length)
	if err != nil {
		return err
	}

	in, release := t.Inner()
	defer release()
	return in.MemorySet.RemoveRange(mm.NewVPNRange(lo, hi))
}
