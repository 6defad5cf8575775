// Package timer provides the kernel clock.
package timer

import (
	"sync/atomic"
	"time"
)

// Time units.
const (
	MicrosPerSec  = 1_000_000
	MicrosPerMsec = 1_000
)

// Clock reports a monotonically increasing time in microseconds.
type Clock interface {
	NowMicros() uint64
}

// Monotonic is a Clock backed by the Go monotonic clock, counting from the
// moment it was created.
type Monotonic struct {
	boot time.Time
}

// NewMonotonic returns a clock that reads zero now.
func NewMonotonic() *Monotonic {
	return &Monotonic{boot: time.Now()}
}

// NowMicros returns the microseconds elapsed since boot.
func (m *Monotonic) NowMicros() uint64 {
	return uint64(time.Since(m.boot).Microseconds())
}

// Manual is a Clock that only moves when told to. It is safe for concurrent
// use.
type Manual struct {
	now atomic.Uint64
}

// NewManual returns a clock reading start.
func NewManual(start uint64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

// NowMicros returns the current reading.
func (m *Manual) NowMicros() uint64 {
	return m.now.Load()
}

// Advance moves the clock forward by d microseconds.
func (m *Manual) Advance(d uint64) {
	m.now.Add(d)
}

// Split divides a microsecond reading into whole seconds and the remainder.
func Split(us uint64) (sec, usec uint64) {
	return us / MicrosPerSec, us % MicrosPerSec
}
