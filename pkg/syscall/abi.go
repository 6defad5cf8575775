package syscall

import (
	"encoding/binary"

	"tinyos/pkg/task"
)

// TimeVal is the get_time result layout.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// TaskInfo is the task_info result layout, with the C padding that aligns
// Time to eight bytes.
type TaskInfo struct {
	Status       uint32
	SyscallTimes [task.MaxSyscallNum]uint32
	_            uint32
	Time         uint64
}

// Encoded sizes of the ABI structs.
var (
	TimeValSize  = binary.Size(TimeVal{})
	TaskInfoSize = binary.Size(TaskInfo{})
)

// Encode returns the little-endian user layout of v.
func Encode(v any) ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, v)
}

// Decode fills v from its little-endian user layout.
func Decode(b []byte, v any) error {
	_, err := binary.Decode(b, binary.LittleEndian, v)
	return err
}
