// doc.go - package arcsim, a cycle-accurate ISA simulator core

// Package arcsim implements the hard core of a 32-bit RISC instruction-set
// simulator: a decoded-instruction cache, physical-profile block discovery,
// a dynamic-binary-translation pipeline, a dispatch loop that chooses
// between native, interpreted, and decode-only execution, and an
// instrumentation (IPT) subsystem that mediates between the four.
//
// Everything the core treats as an external collaborator - the guest ISA
// decoder tables, ELF/hex/binary loaders, the MMU, memory-mapped devices,
// micro-architectural models, and the EIA extension interface - is
// expressed as an interface in contracts.go. Embedders supply their own
// implementations; arcsim never assumes a concrete guest ISA.
package arcsim
