package syscall

import (
	"github.com/hashicorp/go-hclog"

	"tinyos/pkg/mm"
	"tinyos/pkg/task"
)

// FdStdout is the only file descriptor write accepts.
const FdStdout = 1

func sysWrite(d *Dispatcher, log hclog.Logger, t *task.TaskControlBlock, a Args) int64 {
	fd, buf, n := a[0], a[1], a[2]
	if fd != FdStdout {
		log.Debug("write to unsupported fd", "fd", fd)
		return -1
	}

	var out []byte
	for view, err := range pageTable(t).ByteBuffer(buf, n, mm.UserRead) {
		if err != nil {
			log.Debug("write buffer unreadable", "error", err)
			return -1
		}
		out = append(out, view...)
	}
	if _, err := d.console.Write(out); err != nil {
		log.Warn("console write failed", "error", err)
		return -1
	}
	return int64(n)
}
