// snapshot.go - point-in-time dispatcher state for tooling

package dispatch

// Snapshot is a point-in-time view of dispatcher state for a monitor or
// debugger front end (SPEC_FULL.md S18), grounded on debug_snapshot.go's
// MonitorSnapshot (register table plus a disassembly window). It is not
// part of the IPT contract and no spec.md S8 invariant depends on it.
type Snapshot struct {
	PC             uint32
	NativeCount    uint64
	Interpreted    uint64
	Cycles         uint64
	Stopped        bool
	ObservedEpoch  uint64
	RecentRetired  []BacktraceEntry
}

// Snapshot captures the dispatcher's current counters, stop state, and
// recent retirement history without pausing execution (counters are
// read with their own atomics, so the result can be torn across a
// concurrently running Run call by design -- it is a diagnostic view,
// not a consistency point).
func (d *Dispatcher) Snapshot(pc uint32) Snapshot {
	return Snapshot{
		PC:            pc,
		NativeCount:   d.counters.Native().Value(),
		Interpreted:   d.counters.Interpreted().Value(),
		Cycles:        d.counters.Cycles().Value(),
		Stopped:       d.stop.Load(),
		ObservedEpoch: d.observedEpoch.Load(),
		RecentRetired: d.ring.snapshot(),
	}
}
