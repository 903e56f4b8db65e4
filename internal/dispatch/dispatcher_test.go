package dispatch

import (
	"encoding/binary"
	"testing"

	"github.com/arcsim/arcsim/internal/counters"
	"github.com/arcsim/arcsim/internal/dcode"
	"github.com/arcsim/arcsim/internal/ipt"
	"github.com/arcsim/arcsim/internal/profile"
)

// haltMemory always reports a 4-byte halt-opcode word, regardless of pc.
type haltMemory struct{}

func (haltMemory) ReadInstructionBytes(pc uint32, n int) ([]byte, bool) {
	buf := make([]byte, n)
	binary.LittleEndian.PutUint32(buf, 0) // opcode 0 == opHalt
	return buf, true
}

// advancingExecutor never faults and always advances pc by the decoded
// instruction's length.
type advancingExecutor struct {
	calls int
}

func (e *advancingExecutor) Execute(_ interface{}, d dcode.Dcode, pc uint32) (uint32, bool) {
	e.calls++
	return pc + uint32(d.LengthBytes), false
}

func newTestDispatcher(t *testing.T, exec Executor) (*Dispatcher, *profile.Physical, *ipt.Manager, *counters.Set) {
	t.Helper()
	dc := dcode.New(haltMemory{}, 64)
	prof := profile.New(4096)
	iptMgr := ipt.New(nil, nil)
	cnt := counters.NewSet()
	d := New(dc, prof, iptMgr, cnt, exec, nil, Options{})
	return d, prof, iptMgr, cnt
}

func TestStepInterpretsUnknownBlock(t *testing.T) {
	exec := &advancingExecutor{}
	d, _, _, cnt := newTestDispatcher(t, exec)

	next, stop := d.Step(nil, 0x1000)
	if stop {
		t.Fatalf("did not expect stop")
	}
	if next != 0x1004 {
		t.Fatalf("expected pc advance by 4, got %#x", next)
	}
	if exec.calls != 1 {
		t.Fatalf("expected executor called once, got %d", exec.calls)
	}
	if v, _ := cnt.Get(counters.InterpretedInstructionCount64); v != 1 {
		t.Fatalf("expected interpreted counter == 1, got %d", v)
	}
}

func TestStepUsesCompiledNativeEntry(t *testing.T) {
	exec := &advancingExecutor{}
	d, prof, _, cnt := newTestDispatcher(t, exec)

	be := prof.GetOrCreateBlock(0x2000)
	be.SetCompiledNative(func(_ interface{}) (uint32, profile.StopReason) {
		return 0x2004, profile.StopBranchUncompiled
	})

	next, stop := d.Step(nil, 0x2000)
	if stop {
		t.Fatalf("did not expect stop")
	}
	if next != 0x2004 {
		t.Fatalf("expected native stop pc, got %#x", next)
	}
	if exec.calls != 0 {
		t.Fatalf("expected executor not called for native path")
	}
	if v, _ := cnt.Get(counters.NativeInstructionCount64); v != 1 {
		t.Fatalf("expected native counter == 1, got %d", v)
	}
}

func TestStepInstrumentationDemandFallsBackToInterpret(t *testing.T) {
	exec := &advancingExecutor{}
	d, prof, _, _ := newTestDispatcher(t, exec)

	be := prof.GetOrCreateBlock(0x3000)
	be.SetCompiledNative(func(_ interface{}) (uint32, profile.StopReason) {
		return 0x3000, profile.StopInstrumentationDemand
	})

	next, stop := d.Step(nil, 0x3000)
	if stop {
		t.Fatalf("did not expect stop")
	}
	if next != 0x3004 {
		t.Fatalf("expected interpret fallback to advance pc, got %#x", next)
	}
	if exec.calls != 1 {
		t.Fatalf("expected fallback interpret to call executor")
	}
}

func TestStepAboutToExecuteDemandConsumesInstruction(t *testing.T) {
	exec := &advancingExecutor{}
	d, _, iptMgr, _ := newTestDispatcher(t, exec)

	if err := iptMgr.InsertAboutToExecute(0x4000, func(uint32) bool { return true }, nil); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}

	next, stop := d.Step(nil, 0x4000)
	if stop {
		t.Fatalf("did not expect stop")
	}
	if next != 0x4004 {
		t.Fatalf("expected pc advance despite consumed instruction, got %#x", next)
	}
	if exec.calls != 0 {
		t.Fatalf("expected executor skipped when subscriber demands consumption")
	}
}

func TestRunRespectsQuantum(t *testing.T) {
	exec := &advancingExecutor{}
	dc := dcode.New(haltMemory{}, 64)
	prof := profile.New(4096)
	iptMgr := ipt.New(nil, nil)
	cnt := counters.NewSet()
	d := New(dc, prof, iptMgr, cnt, exec, nil, Options{Quantum: 3})

	final := d.Run(nil, 0x5000)
	if final != 0x5000+3*4 {
		t.Fatalf("expected exactly 3 instructions executed, stopped at %#x", final)
	}
	if exec.calls != 3 {
		t.Fatalf("expected 3 executor calls, got %d", exec.calls)
	}
}

func TestStopHaltsRun(t *testing.T) {
	exec := &advancingExecutor{}
	d, _, _, _ := newTestDispatcher(t, exec)
	d.Stop()

	final := d.Run(nil, 0x6000)
	if final != 0x6000 {
		t.Fatalf("expected Run to return immediately at starting pc, got %#x", final)
	}
	if exec.calls != 0 {
		t.Fatalf("expected no instructions executed once stopped")
	}
}

func TestStepFiresBeginBasicBlockOnlyAtBlockStart(t *testing.T) {
	exec := &advancingExecutor{}
	d, _, iptMgr, _ := newTestDispatcher(t, exec)

	var seen []uint32
	iptMgr.InsertBeginBasicBlock(func(pc uint32) { seen = append(seen, pc) })

	d.Step(nil, 0x8000) // first step is always a block start
	d.Step(nil, 0x8004) // halt opcode never sets IsBranch, so this is not

	if len(seen) != 1 || seen[0] != 0x8000 {
		t.Fatalf("expected exactly one BeginBasicBlock callback at 0x8000, got %+v", seen)
	}
}

func TestStepDoesNotAdvanceCycleCounterWithoutCycleAccurate(t *testing.T) {
	exec := &advancingExecutor{}
	d, _, _, cnt := newTestDispatcher(t, exec)

	d.Step(nil, 0x9000)
	d.Step(nil, 0x9004)

	if v, _ := cnt.Get(counters.CycleCount64); v != 0 {
		t.Fatalf("expected cycle counter to stay 0 outside cycle-accurate mode, got %d", v)
	}
}

func TestBacktraceRecordsRetiredInstructions(t *testing.T) {
	exec := &advancingExecutor{}
	d, _, _, _ := newTestDispatcher(t, exec)

	d.Step(nil, 0x7000)
	d.Step(nil, 0x7004)

	bt := d.Backtrace()
	if len(bt) != 2 {
		t.Fatalf("expected 2 backtrace entries, got %d", len(bt))
	}
	if bt[0].PC != 0x7000 || bt[1].PC != 0x7004 {
		t.Fatalf("expected retirement order preserved, got %+v", bt)
	}
}
