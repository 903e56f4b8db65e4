// invalidator.go - coherence actions of spec.md S4.6

package dispatch

import (
	"io"
	"log/slog"
	"math/bits"

	"github.com/arcsim/arcsim/internal/dcode"
	"github.com/arcsim/arcsim/internal/profile"
	"github.com/arcsim/arcsim/internal/translate"
)

// Invalidator is the coherence path of spec.md S4.6: it reconciles the
// DcodeCache, PhysicalProfile, and TranslationCache whenever the guest
// writes to code, an instrumentation point is installed or removed, an
// ISA option changes, or the code arena runs out of memory. Grounded on
// runtime_status.go's RWMutex-guarded snapshot-swap pattern generalized
// from "one consistent status struct" to "three caches kept in lockstep".
type Invalidator struct {
	dc      *dcode.Cache
	prof    *profile.Physical
	tc      *translate.Cache
	arena   *translate.Arena
	pageLog2 uint32
	log     *slog.Logger
}

// NewInvalidator creates an Invalidator bound to one dispatcher's caches. pageSize
// must match the PhysicalProfile's page size.
func NewInvalidator(dc *dcode.Cache, prof *profile.Physical, tc *translate.Cache, arena *translate.Arena, pageSize uint32, log *slog.Logger) *Invalidator {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if pageSize == 0 {
		pageSize = profile.DefaultPageSize
	}
	return &Invalidator{dc: dc, prof: prof, tc: tc, arena: arena, pageLog2: uint32(bits.TrailingZeros32(pageSize)), log: log}
}

func (inv *Invalidator) frameOf(pc uint32) uint32 { return pc >> inv.pageLog2 }

func (inv *Invalidator) retireHandle(h translate.Handle) {
	if !h.Valid() {
		return
	}
	if m, ok := inv.arena.Deref(h); ok {
		inv.arena.Retire(m)
	}
}

// OnGuestWrite handles a guest store that lands in code space (spec.md
// S4.6: "a write overlapping a block currently EntryCompiledNative or
// EntryInterpret drops the page"). knownPCs lists the block start PCs the
// caller already knows lie on the affected page, normally gathered from
// PhysicalProfile before calling DropPage; the cache has no reverse index
// from address to PC so it cannot discover them itself.
func (inv *Invalidator) OnGuestWrite(addr uint32, knownPCs []uint32) {
	frame := inv.frameOf(addr)
	for _, h := range inv.tc.RetirePage(knownPCs) {
		inv.retireHandle(h)
	}
	inv.prof.DropPage(frame)
	pageSize := uint32(1) << inv.pageLog2
	lo := frame << inv.pageLog2
	inv.dc.InvalidateRange(lo, lo+pageSize)
	inv.log.Debug("guest write invalidated page", "frame", frame, "addr", addr)
}

// OnIPTInstalled reacts to the first AboutToExecuteInstruction subscriber
// landing at pc (spec.md S4.5/S4.6): the pc is marked do-not-compile, the
// published native entry whose start PC is exactly pc (if any) is retired,
// and the BlockEntry starting at pc reverts to the instrumentation-checking
// interpret path. A compiled block that starts before pc and spans it is
// not retired: its native entry stays published.
func (inv *Invalidator) OnIPTInstalled(pc uint32) {
	inv.tc.SetDoNotCompile(pc, true)
	if h, ok := inv.tc.RetirePC(pc); ok {
		inv.retireHandle(h)
	}
	if be, ok := inv.prof.Lookup(pc); ok {
		be.SetInstrumentedInterpret()
	}
	inv.log.Debug("ipt installed", "pc", pc)
}

// OnIPTRemoved reacts to the last AboutToExecuteInstruction subscriber
// leaving pc: the do-not-compile marker clears so the block is eligible
// for recompilation the next time it goes hot. It does not itself restore
// a native entry -- that only happens through the ordinary publish path.
func (inv *Invalidator) OnIPTRemoved(pc uint32) {
	inv.tc.SetDoNotCompile(pc, false)
	if be, ok := inv.prof.Lookup(pc); ok {
		be.SetInterpret()
	}
	inv.log.Debug("ipt removed", "pc", pc)
}

// OnGlobalInstrumentationChange reacts to a new BeginInstructionExecution
// or BeginBasicBlock subscriber (spec.md S4.5: "demands invalidation of all
// native code"). ipt.Manager calls it on every such insert; removing a
// global subscriber does not call it.
func (inv *Invalidator) OnGlobalInstrumentationChange() {
	inv.flushTranslations()
	inv.log.Debug("global instrumentation change invalidated all native code")
}

// OnISAOptionChange reacts to an ISA option change (spec.md S4.6): the
// DcodeCache's fingerprint and contents are flushed, every block reverts
// to interpretation with counts preserved, and all compiled native code
// is retired.
func (inv *Invalidator) OnISAOptionChange(newOpts uint64) {
	inv.dc.SetISAOptions(newOpts)
	inv.dc.InvalidateAll()
	inv.prof.RevertAllToInterpret()
	inv.flushTranslations()
	inv.log.Info("isa option change invalidated all native code", "options", newOpts)
}

// OnOutOfCodeMemory reacts to the translation arena exhausting its code
// memory budget (spec.md S7: OutOfCodeMemory) by flushing every compiled
// module, exactly as a full ISA option change does to the translation
// cache, without touching the DcodeCache or profile counts.
func (inv *Invalidator) OnOutOfCodeMemory() {
	inv.flushTranslations()
	inv.log.Warn("out of code memory, flushed translation cache")
}

func (inv *Invalidator) flushTranslations() {
	handles, pcs := inv.tc.FlushAll()
	for _, h := range handles {
		inv.retireHandle(h)
	}
	for _, pc := range pcs {
		if be, ok := inv.prof.Lookup(pc); ok {
			be.SetInterpret()
		}
	}
}
