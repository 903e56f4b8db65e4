// unit.go - immutable snapshot of blocks to compile

// Package translate implements the translation pipeline of spec.md S4.3:
// the TranslationWorkUnit snapshot, a worker pool that compiles units into
// TranslationModules, and the TranslationCache that publishes native
// entry points for the dispatcher. Grounded on coprocessor_manager.go /
// coproc_worker_ie32.go's ticket + done-channel worker lifecycle and on
// wazero's wazevo engine (compiledModules map + sync.RWMutex) for the
// cache.
package translate

import "github.com/arcsim/arcsim/internal/dcode"

// BlockSnapshot is one block's immutable, already-cloned instruction
// sequence inside a TWU.
type BlockSnapshot struct {
	StartPC      uint32
	Instructions []dcode.Dcode
}

// WorkUnit is the TWU of spec.md S3/S4.3: an ordered sequence of blocks
// plus the ISA-option fingerprint observed at snapshot time. It never
// holds a pointer into a live DcodeCache or PhysicalProfile — every
// instruction is copied in.
type WorkUnit struct {
	Frame      uint32
	Blocks     []BlockSnapshot
	ISAOptions uint64
}

// NewWorkUnit builds a WorkUnit by cloning each block's decoded
// instruction slice, so the unit can safely cross to a worker goroutine
// (spec.md S4.3: "Snapshot... never follows pointers into live caches").
func NewWorkUnit(frame uint32, isaOptions uint64, blocks []BlockSnapshot) WorkUnit {
	cloned := make([]BlockSnapshot, len(blocks))
	for i, b := range blocks {
		instrs := make([]dcode.Dcode, len(b.Instructions))
		copy(instrs, b.Instructions)
		cloned[i] = BlockSnapshot{StartPC: b.StartPC, Instructions: instrs}
	}
	return WorkUnit{Frame: frame, Blocks: cloned, ISAOptions: isaOptions}
}

// Key identifies a unit for the in-flight idempotence check of spec.md
// S4.3: "the same page already has an in-flight unit (idempotence by
// page_frame + option fingerprint)".
type Key struct {
	Frame      uint32
	ISAOptions uint64
}

// Key returns this unit's idempotence key.
func (u WorkUnit) Key() Key { return Key{Frame: u.Frame, ISAOptions: u.ISAOptions} }
