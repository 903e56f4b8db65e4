// dcode.go - predecoded guest instruction record

// Package dcode implements the predecode stage (spec.md S4.1): a pure
// function from (instruction word, pc, isa options) to an immutable Dcode
// record, plus the direct-mapped DcodeCache that memoizes it per guest PC.
package dcode

import "encoding/binary"

// OperandKind tags which field of Operand is meaningful.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandRegister
	OperandImmediate
	OperandAuxRegister
)

// Operand is one of up to three operand descriptors on a Dcode record.
type Operand struct {
	Kind  OperandKind
	Value uint32
}

// Kind tags the broad shape of a decoded instruction for the interpreter's
// dispatch table.
type Kind uint16

const (
	KindIllegal Kind = iota
	KindALU
	KindALUImmediate
	KindLoad
	KindStore
	KindBranch
	KindBranchAndLink
	KindSystem
	KindEIA
)

// Dcode is one decoded guest instruction. It is immutable once produced and
// is owned by whichever DcodeCache slot currently holds it (spec.md S3).
type Dcode struct {
	Kind        Kind
	Operands    [3]Operand
	ReadsPC     bool
	WritesPC    bool
	IsBranch    bool
	IsDelaySlot bool
	IsMemoryOp  bool
	HasLongImm  bool
	LengthBytes uint8 // 2, 4, or 8

	// DispatchIndex selects the interpreter's handler for Kind without a
	// type switch on the hot path.
	DispatchIndex uint16

	// EIAHandle is opaque to arcsim; it is forwarded verbatim to the
	// embedder's EIA (user-defined extension instruction) resolver when
	// Kind == KindEIA. Zero means "no extension".
	EIAHandle uintptr
}

// Illegal reports whether this record represents a known-bad PC, cached to
// avoid re-decoding it (spec.md S4.1).
func (d Dcode) Illegal() bool { return d.Kind == KindIllegal }

// reg extracts a 5-bit register index field.
func reg(word uint32, shift uint) Operand {
	return Operand{Kind: OperandRegister, Value: (word >> shift) & 0x1f}
}

// Predecode decodes one guest instruction word into a Dcode record. It is a
// pure function of its inputs (spec.md S4.1) and never touches memory
// itself: callers supply the already-fetched instruction bytes (4 for this
// reference ISA; a shorter slice decodes as KindIllegal).
//
// The encoding below is a deliberately small reference ISA (5-bit opcode,
// up to three 5-bit register fields or a 17-bit immediate, RISC-style
// load/store/branch/ALU groups) sufficient to exercise every Dcode
// semantic flag; it stands in for the guest ISA decoder tables that
// spec.md places out of scope. Production embedders implement
// arcsim.Decoder against their own ISA instead.
func Predecode(word []byte, pc uint32, isaOptions uint64) Dcode {
	if len(word) < 4 {
		return Dcode{Kind: KindIllegal, LengthBytes: 4}
	}
	raw := binary.LittleEndian.Uint32(word)
	opcode := raw >> 27

	switch opcode {
	case opHalt:
		return Dcode{Kind: KindSystem, LengthBytes: 4, DispatchIndex: dispatchHalt}
	case opAdd, opNand, opSub, opAnd, opOr, opXor:
		return Dcode{
			Kind:          KindALU,
			Operands:      [3]Operand{reg(raw, 22), reg(raw, 17), reg(raw, 0)},
			LengthBytes:   4,
			DispatchIndex: uint16(opcode),
		}
	case opAddI, opLui:
		imm := signExtend(raw&0x1ffff, 17)
		return Dcode{
			Kind:          KindALUImmediate,
			Operands:      [3]Operand{reg(raw, 22), reg(raw, 17), {Kind: OperandImmediate, Value: imm}},
			LengthBytes:   4,
			HasLongImm:    opcode == opLui,
			DispatchIndex: uint16(opcode),
		}
	case opSW:
		imm := signExtend(raw&0x1ffff, 17)
		return Dcode{
			Kind:          KindStore,
			Operands:      [3]Operand{reg(raw, 22), reg(raw, 17), {Kind: OperandImmediate, Value: imm}},
			LengthBytes:   4,
			IsMemoryOp:    true,
			DispatchIndex: dispatchStore,
		}
	case opLW:
		imm := signExtend(raw&0x1ffff, 17)
		return Dcode{
			Kind:          KindLoad,
			Operands:      [3]Operand{reg(raw, 22), reg(raw, 17), {Kind: OperandImmediate, Value: imm}},
			LengthBytes:   4,
			IsMemoryOp:    true,
			DispatchIndex: dispatchLoad,
		}
	case opBEQ, opBNE, opBLT:
		imm := signExtend(raw&0x1ffff, 17)
		return Dcode{
			Kind:          KindBranch,
			Operands:      [3]Operand{reg(raw, 22), reg(raw, 17), {Kind: OperandImmediate, Value: imm}},
			LengthBytes:   4,
			ReadsPC:       true,
			WritesPC:      true,
			IsBranch:      true,
			IsDelaySlot:   isaOptions&isaOptDelaySlots != 0,
			DispatchIndex: uint16(opcode),
		}
	case opJALR:
		return Dcode{
			Kind:          KindBranchAndLink,
			Operands:      [3]Operand{reg(raw, 22), reg(raw, 17)},
			LengthBytes:   4,
			ReadsPC:       true,
			WritesPC:      true,
			IsBranch:      true,
			IsDelaySlot:   isaOptions&isaOptDelaySlots != 0,
			DispatchIndex: dispatchJALR,
		}
	case opEIA:
		return Dcode{
			Kind:          KindEIA,
			Operands:      [3]Operand{reg(raw, 22), reg(raw, 17), reg(raw, 0)},
			LengthBytes:   4,
			EIAHandle:     uintptr(raw & 0x1ffff),
			DispatchIndex: dispatchEIA,
		}
	default:
		return Dcode{Kind: KindIllegal, LengthBytes: 4}
	}
}

func signExtend(v uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(v<<shift) >> shift)
}

const (
	opHalt = uint32(iota)
	opAdd
	opAddI
	opNand
	opLui
	opSW
	opLW
	opBEQ
	opJALR
	opSub
	opAnd
	opOr
	opXor
	opBNE
	opBLT
	opEIA
)

const (
	dispatchHalt uint16 = 0x100 + iota
	dispatchStore
	dispatchLoad
	dispatchJALR
	dispatchEIA
)

// isaOptDelaySlots is the one bit of the isaOptions fingerprint that Predecode
// itself consults; the remaining bits only affect the fingerprint's
// identity for cache invalidation purposes (spec.md S3).
const isaOptDelaySlots = uint64(1) << 0
