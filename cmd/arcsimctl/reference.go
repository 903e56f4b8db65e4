// reference.go - minimal Decoder/InstructionExecutor demo implementation

package main

import (
	"github.com/arcsim/arcsim"
	"github.com/arcsim/arcsim/internal/dcode"
)

// referenceDecoder adapts the bundled reference ISA (internal/dcode) to
// the arcsim.Decoder contract, for running arcsimctl against demo images
// with no embedder-supplied guest ISA.
type referenceDecoder struct{}

func (referenceDecoder) Decode(word []byte, pc uint32, isaOptions uint64) (arcsim.DcodeView, bool) {
	d := dcode.Predecode(word, pc, isaOptions)
	var ops [3]arcsim.Operand
	for i, o := range d.Operands {
		ops[i] = arcsim.Operand{Kind: arcsim.OperandKind(o.Kind), Value: o.Value}
	}
	return arcsim.DcodeView{
		OpcodeKind:    uint16(d.Kind),
		Operands:      ops,
		ReadsPC:       d.ReadsPC,
		WritesPC:      d.WritesPC,
		IsBranch:      d.IsBranch,
		IsDelaySlot:   d.IsDelaySlot,
		IsMemoryOp:    d.IsMemoryOp,
		HasLongImm:    d.HasLongImm,
		LengthBytes:   d.LengthBytes,
		DispatchIndex: d.DispatchIndex,
		EIAHandle:     d.EIAHandle,
		Illegal:       d.Illegal(),
	}, true
}

// referenceExecutor runs the reference ISA far enough to demonstrate
// dispatch: it advances pc past every legal instruction, including the
// system (opHalt) opcode, without modeling registers, and faults only on
// an illegal instruction. It does not stop at opHalt. A real embedder's
// InstructionExecutor updates guest register/memory state here.
type referenceExecutor struct {
	mem arcsim.Memory
}

func (e referenceExecutor) Execute(cpuState interface{}, d arcsim.DcodeView, pc uint32) (uint32, *arcsim.Fault) {
	if d.Illegal {
		return pc, &arcsim.Fault{Kind: arcsim.FaultIllegalInstruction, PC: pc}
	}
	next := pc + uint32(d.LengthBytes)
	if d.IsBranch {
		// Without register state the reference executor cannot compute a
		// taken branch target; it falls through, which is sufficient to
		// exercise the dispatch loop's bookkeeping in demos.
		return next, nil
	}
	return next, nil
}
