package dispatch

import (
	"io"
	"testing"

	"github.com/arcsim/arcsim/internal/dcode"
	"github.com/arcsim/arcsim/internal/profile"
	"github.com/arcsim/arcsim/internal/translate"
)

func nopCloserT() io.Closer { return closerForTest{} }

type closerForTest struct{}

func (closerForTest) Close() error { return nil }

func nativeNoop(pc uint32) profile.NativeFunc {
	return func(_ interface{}) (uint32, profile.StopReason) { return pc, profile.StopBranchUncompiled }
}

func newTestInvalidator(t *testing.T) (*Invalidator, *dcode.Cache, *profile.Physical, *translate.Cache, *translate.Arena) {
	t.Helper()
	dc := dcode.New(haltMemory{}, 64)
	prof := profile.New(4096)
	tc := translate.NewCache()
	arena := translate.NewArena()
	inv := NewInvalidator(dc, prof, tc, arena, 4096, nil)
	return inv, dc, prof, tc, arena
}

func TestInvalidatorOnIPTInstalledMarksDoNotCompile(t *testing.T) {
	inv, _, prof, tc, _ := newTestInvalidator(t)
	be := prof.GetOrCreateBlock(0x1000)
	be.SetCompiledNative(nativeNoop(0x1000))

	inv.OnIPTInstalled(0x1000)

	if !tc.DoNotCompile(0x1000) {
		t.Fatalf("expected do-not-compile marker set")
	}
	kind, _ := be.Touch()
	if kind != profile.EntryInstrumentedInterpret {
		t.Fatalf("expected block reverted to instrumented interpret, got %v", kind)
	}
}

func TestInvalidatorOnIPTRemovedClearsMarker(t *testing.T) {
	inv, _, prof, tc, _ := newTestInvalidator(t)
	prof.GetOrCreateBlock(0x2000)
	tc.SetDoNotCompile(0x2000, true)

	inv.OnIPTRemoved(0x2000)

	if tc.DoNotCompile(0x2000) {
		t.Fatalf("expected do-not-compile marker cleared")
	}
}

func TestInvalidatorOnGuestWriteDropsPageAndInvalidatesDcode(t *testing.T) {
	inv, dc, prof, tc, arena := newTestInvalidator(t)
	be := prof.GetOrCreateBlock(0x3000)
	be.Observe()

	m := translate.NewModule(0, map[uint32]profile.NativeFunc{0x3000: nativeNoop(0x3000)}, nopCloserT())
	tc.Publish(arena, m)

	// prime the dcode cache so we can observe the invalidation.
	dc.Get(0x3000)

	inv.OnGuestWrite(0x3000, []uint32{0x3000})

	if _, ok := prof.Lookup(0x3000); ok {
		t.Fatalf("expected page dropped from profile")
	}
	if _, _, ok := tc.Lookup(0x3000); ok {
		t.Fatalf("expected native entry retired")
	}
}

func TestInvalidatorOnISAOptionChangeRevertsEverything(t *testing.T) {
	inv, _, prof, tc, arena := newTestInvalidator(t)
	be := prof.GetOrCreateBlock(0x4000)
	be.Observe()
	be.Observe()

	m := translate.NewModule(0, map[uint32]profile.NativeFunc{0x4000: nativeNoop(0x4000)}, nopCloserT())
	tc.Publish(arena, m)
	be.SetCompiledNative(nativeNoop(0x4000))

	inv.OnISAOptionChange(0xff)

	kind, _ := be.Touch()
	if kind != profile.EntryInterpret {
		t.Fatalf("expected block reverted to interpret, got %v", kind)
	}
	if be.Count() != 2 {
		t.Fatalf("expected count preserved across isa option change, got %d", be.Count())
	}
	if _, _, ok := tc.Lookup(0x4000); ok {
		t.Fatalf("expected translation cache flushed")
	}
}

func TestInvalidatorOnOutOfCodeMemoryFlushesTranslations(t *testing.T) {
	inv, _, prof, tc, arena := newTestInvalidator(t)
	be := prof.GetOrCreateBlock(0x5000)
	m := translate.NewModule(0, map[uint32]profile.NativeFunc{0x5000: nativeNoop(0x5000)}, nopCloserT())
	tc.Publish(arena, m)
	be.SetCompiledNative(nativeNoop(0x5000))

	inv.OnOutOfCodeMemory()

	if _, _, ok := tc.Lookup(0x5000); ok {
		t.Fatalf("expected translation cache flushed")
	}
	kind, _ := be.Touch()
	if kind != profile.EntryInterpret {
		t.Fatalf("expected block reverted to interpret, got %v", kind)
	}
}
