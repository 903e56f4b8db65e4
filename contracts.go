// contracts.go - external collaborator interfaces

package arcsim

import "fmt"

// FaultKind classifies a guest-originated fault reported by Memory or the
// decoder. Guest faults never cross the API boundary as Go errors: the
// dispatcher converts them into a trap record handled by the embedder's
// trap subsystem.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultMemory
	FaultIllegalInstruction
	FaultPrivilegeViolation
)

func (k FaultKind) String() string {
	switch k {
	case FaultMemory:
		return "memory-fault"
	case FaultIllegalInstruction:
		return "illegal-instruction"
	case FaultPrivilegeViolation:
		return "privilege-violation"
	default:
		return "none"
	}
}

// Fault describes a guest trap condition. It is data, not an error: it is
// handed to the embedder's trap subsystem rather than returned up a Go
// call stack.
type Fault struct {
	Kind FaultKind
	PC   uint32
	Addr uint32
}

func (f Fault) String() string {
	return fmt.Sprintf("%s at pc=%#x addr=%#x", f.Kind, f.PC, f.Addr)
}

// Memory is the guest address space, owned by the embedder. Writes must be
// reported to the dispatcher's Invalidator so that code-modifying stores
// are observed by the coherence path (spec.md S4.6, S6).
type Memory interface {
	Read(addr uint32, width int) ([]byte, *Fault)
	Write(addr uint32, width int, data []byte) *Fault
}

// Decoder predecodes one guest instruction word into a Dcode-shaped record.
// It is the guest ISA decoder table (out of scope for this module): arcsim
// ships a minimal reference implementation in internal/dcode for tests and
// demos, but production embedders plug in their own.
type Decoder interface {
	Decode(word []byte, pc uint32, isaOptions uint64) (DcodeView, bool)
}

// DcodeView is the decoder-facing projection of a decoded instruction; it
// mirrors internal/dcode.Dcode's public fields without creating an import
// cycle between the decoder contract and its default implementation.
type DcodeView struct {
	OpcodeKind     uint16
	Operands       [3]Operand
	ReadsPC        bool
	WritesPC       bool
	IsBranch       bool
	IsDelaySlot    bool
	IsMemoryOp     bool
	HasLongImm     bool
	LengthBytes    uint8
	DispatchIndex  uint16
	EIAHandle      uintptr
	Illegal        bool
}

// OperandKind tags which field of Operand is meaningful.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandRegister
	OperandImmediate
	OperandAuxRegister
)

// Operand is one of up to three operand descriptors on a decoded
// instruction (spec.md S3).
type Operand struct {
	Kind  OperandKind
	Value uint32
}

// PipelineModel is consulted once per retired instruction when cycle-
// accurate mode is enabled (spec.md S4.4 step 4). Out of scope for this
// module beyond the contract.
type PipelineModel interface {
	Retire(pc uint32, dispatchIndex uint16) (cycles uint64)
}

// InstructionExecutor performs the guest-visible side effects of one
// decoded instruction: register and memory updates, and branch target
// computation. Guest ISA semantics are out of scope for this module
// (spec.md Non-goals); embedders supply one the same way they supply
// Memory and Decoder. cpuState is opaque to arcsim, passed through
// verbatim from the call that started dispatch.
type InstructionExecutor interface {
	Execute(cpuState interface{}, d DcodeView, pc uint32) (nextPC uint32, fault *Fault)
}
