// counters.go - named saturating 64-bit profiling counters

// Package counters implements the named counters of spec.md S3/S6:
// native-instructions, interpreted-instructions, and cycle-count. They are
// mutated only by the dispatcher or the pipeline model, grounded on
// cpu_ie64.go's documented use of atomic.Uint64 fields ("timerCount
// atomic.Uint64") for lock-free cross-thread counter access.
package counters

import "sync/atomic"

// Names of the well-known counters registered in the IoC context
// (spec.md S6).
const (
	NativeInstructionCount64      = "native-instructions"
	InterpretedInstructionCount64 = "interpreted-instructions"
	CycleCount64                  = "cycle-count"
)

// Counter is a saturating 64-bit counter safe for concurrent use.
type Counter struct {
	v atomic.Uint64
}

// Add increments the counter by delta, saturating at ^uint64(0) rather
// than wrapping.
func (c *Counter) Add(delta uint64) {
	for {
		old := c.v.Load()
		next := old + delta
		if next < old { // overflow
			next = ^uint64(0)
		}
		if c.v.CompareAndSwap(old, next) {
			return
		}
	}
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 { return c.v.Load() }

// Reset zeroes the counter.
func (c *Counter) Reset() { c.v.Store(0) }

// Set is a registry of named counters, one per CPU.
type Set struct {
	native      Counter
	interpreted Counter
	cycles      Counter
}

// NewSet creates a Set with the three well-known counters pre-registered.
func NewSet() *Set { return &Set{} }

// Native returns the native-instructions counter.
func (s *Set) Native() *Counter { return &s.native }

// Interpreted returns the interpreted-instructions counter.
func (s *Set) Interpreted() *Counter { return &s.interpreted }

// Cycles returns the cycle-count counter.
func (s *Set) Cycles() *Counter { return &s.cycles }

// Get implements the profCounter64GetValue lookup of spec.md S6 by name.
func (s *Set) Get(name string) (uint64, bool) {
	switch name {
	case NativeInstructionCount64:
		return s.native.Value(), true
	case InterpretedInstructionCount64:
		return s.interpreted.Value(), true
	case CycleCount64:
		return s.cycles.Value(), true
	default:
		return 0, false
	}
}
