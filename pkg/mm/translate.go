package mm

import (
	"bytes"
	"fmt"
)

// Access flag sets required of user pages.
const (
	UserRead  = PTEUser | PTERead
	UserWrite = PTEUser | PTEWrite
)

// views collects every view of a range first, so a bad page anywhere in the
// range is reported before any byte is touched.
func views(pt *PageTable, ptr, length uint64, need PTEFlags) ([][]byte, error) {
	var out [][]byte
	for v, err := range pt.ByteBuffer(ptr, length, need) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// CopyOut writes src into user memory at ptr. Nothing is written unless the
// whole destination is writable user memory.
func CopyOut(pt *PageTable, ptr uint64, src []byte) error {
	vs, err := views(pt, ptr, uint64(len(src)), UserWrite)
	if err != nil {
		return err
	}
	for _, v := range vs {
		n := copy(v, src)
		src = src[n:]
	}
	return nil
}

// CopyIn reads len(dst) bytes of readable user memory at ptr.
func CopyIn(pt *PageTable, ptr uint64, dst []byte) error {
	vs, err := views(pt, ptr, uint64(len(dst)), UserRead)
	if err != nil {
		return err
	}
	for _, v := range vs {
		n := copy(dst, v)
		dst = dst[n:]
	}
	return nil
}

// ReadCString reads a NUL terminated string of at most limit bytes from user
// memory at ptr.
func ReadCString(pt *PageTable, ptr uint64, limit int) (string, error) {
	var buf []byte
	for len(buf) < limit {
		va := VirtAddr(ptr + uint64(len(buf)))
		chunk := min(PageSize-va.PageOffset(), uint64(limit-len(buf)))
		for v, err := range pt.ByteBuffer(uint64(va), chunk, UserRead) {
			if err != nil {
				return "", err
			}
			if i := bytes.IndexByte(v, 0); i >= 0 {
				return string(append(buf, v[:i]...)), nil
			}
			buf = append(buf, v...)
		}
	}
	return "", fmt.Errorf("%w: string at %#x longer than %d bytes", ErrBadAddress, ptr, limit)
}
