// dispatcher.go - the native/interpret/decode step loop

// Package dispatch implements the dispatcher of spec.md S4.4: the loop
// that, for each guest PC, chooses between a published native entry, the
// instrumentation-checking interpret path, or a plain interpret step, and
// the coherence actions of S4.6 that keep the DcodeCache, PhysicalProfile,
// and TranslationCache honest when the guest or the embedder changes
// something underneath them. Grounded on cpu_ie64.go's documented
// lock-free stop/epoch fields and on debug_interface.go's breakpoint
// dispatch for the instrumentation checks.
package dispatch

import (
	"sync/atomic"

	"github.com/arcsim/arcsim/internal/counters"
	"github.com/arcsim/arcsim/internal/dcode"
	"github.com/arcsim/arcsim/internal/ipt"
	"github.com/arcsim/arcsim/internal/profile"
)

// Executor performs the guest-visible side effects of one decoded
// instruction. Guest ISA semantics are out of scope for this module
// (spec.md Non-goals); embedders supply an Executor the same way they
// supply arcsim.Memory and arcsim.Decoder.
type Executor interface {
	Execute(cpuState interface{}, d dcode.Dcode, pc uint32) (nextPC uint32, faulted bool)
}

// PipelineModel is consulted once per retired instruction in cycle-accurate
// mode (spec.md S4.4 step 4).
type PipelineModel interface {
	Retire(pc uint32, dispatchIndex uint16) (cycles uint64)
}

// Options configures a Dispatcher's optional behaviors.
type Options struct {
	CycleAccurate bool
	Quantum       uint64 // instructions per Run call when non-zero; 0 means unbounded
}

// Dispatcher is the dispatch loop of spec.md S4.4. Its stop/epoch fields
// are atomics rather than mutex-guarded because they are read from the
// hot step loop on the dispatcher's own goroutine and written from any
// goroutine calling Stop or observing a new arena epoch (cpu_ie64.go's
// documented convention for exactly this situation).
type Dispatcher struct {
	exec     Executor
	dcode    *dcode.Cache
	profile  *profile.Physical
	ipt      *ipt.Manager
	counters *counters.Set
	pipeline PipelineModel

	opts Options

	stop          atomic.Bool
	observedEpoch atomic.Uint64

	ring backtraceRing

	// atBlockStart tracks whether the next dispatched instruction begins a
	// new basic block: either this is the first Step since construction,
	// the previous Step returned from a native module, or the previously
	// retired instruction was a branch, so guest control flow could have
	// come from anywhere. Resume does not set it. Single-goroutine state,
	// unlike stop/observedEpoch, since only the dispatcher's own Run/Step
	// caller touches it.
	atBlockStart bool
}

// New creates a Dispatcher. dc must already be wired to mem via its own
// constructor; it is passed separately so Dispatcher never needs to know
// dcode.Cache's internals.
func New(dc *dcode.Cache, prof *profile.Physical, iptMgr *ipt.Manager, cnt *counters.Set, exec Executor, pipeline PipelineModel, opts Options) *Dispatcher {
	d := &Dispatcher{
		dcode:        dc,
		profile:      prof,
		ipt:          iptMgr,
		counters:     cnt,
		exec:         exec,
		pipeline:     pipeline,
		opts:         opts,
		ring:         newBacktraceRing(64),
		atBlockStart: true,
	}
	return d
}

// Stop requests that Run return at the next instruction boundary.
// Safe to call from any goroutine.
func (d *Dispatcher) Stop() { d.stop.Store(true) }

// Stopped reports whether Stop has been called since the last Resume.
func (d *Dispatcher) Stopped() bool { return d.stop.Load() }

// Resume clears a prior Stop so Run can be called again.
func (d *Dispatcher) Resume() { d.stop.Store(false) }

// ObserveEpoch records the translation arena epoch this dispatcher has
// seen, for Arena.Reclaim's minObservedEpoch computation (spec.md S9).
// The dispatcher never calls this itself; its caller reports the epoch
// (arcsim's CPU.Step and CPU.Run do so once per call).
func (d *Dispatcher) ObserveEpoch(epoch uint64) { d.observedEpoch.Store(epoch) }

// ObservedEpoch returns the last epoch this dispatcher reported.
func (d *Dispatcher) ObservedEpoch() uint64 { return d.observedEpoch.Load() }

// Run executes guest instructions starting at pc, cpuState opaque to the
// dispatcher, until Stop is called, the quantum is exhausted, or a fault
// occurs. It returns the PC execution stopped at.
func (d *Dispatcher) Run(cpuState interface{}, pc uint32) uint32 {
	var executed uint64
	for !d.stop.Load() {
		if d.opts.Quantum != 0 && executed >= d.opts.Quantum {
			return pc
		}
		next, stop := d.Step(cpuState, pc)
		pc = next
		executed++
		if stop {
			return pc
		}
	}
	return pc
}

// Step executes one dispatch at pc -- a single interpreted instruction, or
// one call into a published native entry -- and returns the next PC plus
// whether the dispatcher should stop. stop is true when fetching or
// executing the instruction faults, or when a native entry returns
// StopTrap. An AboutToExecute subscriber that consumes the instruction
// does not stop dispatch.
func (d *Dispatcher) Step(cpuState interface{}, pc uint32) (nextPC uint32, stop bool) {
	d.checkBlockStart(pc)

	kind, native, known := d.profile.Touch(pc)

	if known && kind == profile.EntryCompiledNative && native != nil {
		stopPC, reason := native(cpuState)
		d.counters.Native().Add(1)
		// Control returns from a native module at an arbitrary guest PC;
		// the next step always begins a new basic block.
		d.atBlockStart = true
		if reason == profile.StopInstrumentationDemand {
			d.checkBlockStart(stopPC)
			return d.stepInterpret(cpuState, stopPC)
		}
		return stopPC, reason == profile.StopTrap
	}

	return d.stepInterpret(cpuState, pc)
}

// checkBlockStart fires the global BeginBasicBlock subscribers and drains
// any IPT mutations deferred from within a subscriber callback when pc
// begins a new basic block (spec.md S4.5 defers callback-registry changes
// to block boundaries to stay re-entrant-safe).
func (d *Dispatcher) checkBlockStart(pc uint32) {
	if !d.atBlockStart {
		return
	}
	for _, sub := range d.ipt.BeginBlockSubscribers() {
		sub(pc)
	}
	d.ipt.Drain()
	d.atBlockStart = false
}

func (d *Dispatcher) stepInterpret(cpuState interface{}, pc uint32) (nextPC uint32, stop bool) {
	dc, ok := d.dcode.Get(pc)
	if !ok {
		return pc, true // memory fault fetching the instruction
	}

	for _, sub := range d.ipt.BeginInstructionSubscribers() {
		sub(pc, dc.LengthBytes)
	}

	for _, sub := range d.ipt.AboutToExecuteSubscribers(pc) {
		if sub(pc) {
			d.profile.Observe(pc)
			d.recordRetire(pc, dc)
			d.atBlockStart = dc.IsBranch
			return pc + uint32(dc.LengthBytes), false
		}
	}

	next, faulted := d.exec.Execute(cpuState, dc, pc)
	d.counters.Interpreted().Add(1)
	d.profile.Observe(pc)
	d.recordRetire(pc, dc)
	d.atBlockStart = dc.IsBranch
	if faulted {
		return next, true
	}
	return next, false
}

func (d *Dispatcher) recordRetire(pc uint32, dc dcode.Dcode) {
	d.ring.push(pc, dc.DispatchIndex)
	if d.opts.CycleAccurate && d.pipeline != nil {
		cycles := d.pipeline.Retire(pc, dc.DispatchIndex)
		d.counters.Cycles().Add(cycles)
	}
}
