package translate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arcsim/arcsim/internal/profile"
)

type fakeCompiler struct {
	artifact string
	err      error
}

func (f fakeCompiler) Compile(_ context.Context, unit WorkUnit) (string, []uint32, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	pcs := make([]uint32, len(unit.Blocks))
	for i, b := range unit.Blocks {
		pcs[i] = b.StartPC
	}
	return f.artifact, pcs, nil
}

func unitFor(frame uint32, pcs ...uint32) WorkUnit {
	blocks := make([]BlockSnapshot, len(pcs))
	for i, pc := range pcs {
		blocks[i] = BlockSnapshot{StartPC: pc}
	}
	return NewWorkUnit(frame, 0, blocks)
}

func TestPoolCompilesAndLoads(t *testing.T) {
	pool := NewPool(2, 8, fakeCompiler{artifact: "out.so"}, NewFakeLoader(), nil)
	defer pool.Close()

	done, ok := pool.Submit(unitFor(0, 0x100, 0x110))
	if !ok {
		t.Fatalf("expected submit to succeed")
	}

	select {
	case res := <-done:
		if res.Err != nil {
			t.Fatalf("unexpected compile error: %v", res.Err)
		}
		if res.Module == nil || len(res.Module.Entries) != 2 {
			t.Fatalf("expected module with 2 entries, got %+v", res.Module)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for compile result")
	}
}

func TestPoolRejectsDuplicateInFlight(t *testing.T) {
	pool := NewPool(1, 1, fakeCompiler{artifact: "out.so"}, NewFakeLoader(), nil)
	defer pool.Close()

	unit := unitFor(5, 0x200)

	done1, ok1 := pool.Submit(unit)
	if !ok1 {
		t.Fatalf("expected first submit to succeed")
	}
	_, ok2 := pool.Submit(unit)
	if ok2 {
		t.Fatalf("expected duplicate in-flight unit to be rejected")
	}

	<-done1
}

func TestPoolPropagatesCompileError(t *testing.T) {
	pool := NewPool(1, 1, fakeCompiler{err: errors.New("boom")}, NewFakeLoader(), nil)
	defer pool.Close()

	done, ok := pool.Submit(unitFor(0, 0x300))
	if !ok {
		t.Fatalf("expected submit to succeed")
	}

	select {
	case res := <-done:
		if res.Err == nil {
			t.Fatalf("expected compile error to propagate")
		}
		if res.Module != nil {
			t.Fatalf("expected no module on error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for compile result")
	}
}

// TestFakeLoaderEntriesTrapRatherThanSpin guards against the fake loader's
// stub entries resolving to a StopReason a dispatcher would treat as
// "keep running at this same pc", which would spin forever once a real
// dispatcher stepped into a compiled block published through it.
func TestFakeLoaderEntriesTrapRatherThanSpin(t *testing.T) {
	entries, closer, err := NewFakeLoader().Load("unused", []uint32{0x500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	fn, ok := entries[0x500]
	if !ok {
		t.Fatalf("expected an entry for 0x500")
	}
	pc, reason := fn(nil)
	if pc != 0x500 {
		t.Fatalf("expected stub to report its own pc, got %#x", pc)
	}
	if reason != profile.StopTrap {
		t.Fatalf("expected StopTrap so Run halts instead of spinning, got %v", reason)
	}
}

func TestPoolSubmitAllowsResubmitAfterCompletion(t *testing.T) {
	pool := NewPool(1, 1, fakeCompiler{artifact: "out.so"}, NewFakeLoader(), nil)
	defer pool.Close()

	unit := unitFor(9, 0x400)
	done1, ok1 := pool.Submit(unit)
	if !ok1 {
		t.Fatalf("expected first submit to succeed")
	}
	<-done1

	if _, ok2 := pool.Submit(unit); !ok2 {
		t.Fatalf("expected resubmission after completion to succeed")
	}
}
