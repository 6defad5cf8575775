// Package trap defines the user-mode register state saved on kernel entry
// and the machine interface through which simulated user code runs.
package trap

// RISC-V integer register indices used by the kernel.
const (
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

// Entry is simulated user code. It plays the role of the program counter:
// a trap context resumes by calling its Sepc with the machine it runs on.
// The returned value is passed to exit.
type Entry func(m Machine) int32

// Machine is the view user code has of the processor it runs on.
type Machine interface {
	// Context returns the trap context of the running task.
	Context() *Context
	// Ecall traps into the kernel with the syscall id in a7 and arguments in
	// a0..a2; the result is left in a0.
	Ecall()
	// Load reads user memory. A fault kills the task and does not return.
	Load(va uint64, dst []byte)
	// Store writes user memory. A fault kills the task and does not return.
	Store(va uint64, src []byte)
}

// Context is the user register file saved on kernel entry.
type Context struct {
	X    [32]uint64
	Sepc Entry
}

// AppInitContext returns the context a fresh program starts with.
func AppInitContext(entry Entry, sp uint64) *Context {
	cx := &Context{Sepc: entry}
	cx.X[RegSP] = sp
	return cx
}

// Clone returns a copy of the context.
func (cx *Context) Clone() *Context {
	c := *cx
	return &c
}

// Syscall returns the syscall id and arguments held in the registers.
func (cx *Context) Syscall() (id uint64, args [3]uint64) {
	return cx.X[RegA7], [3]uint64{cx.X[RegA0], cx.X[RegA1], cx.X[RegA2]}
}

// SetReturn stores a syscall result in a0.
func (cx *Context) SetReturn(v int64) {
	cx.X[RegA0] = uint64(v)
}

// Return reads a0 as a signed syscall result.
func (cx *Context) Return() int64 {
	return int64(cx.X[RegA0])
}
