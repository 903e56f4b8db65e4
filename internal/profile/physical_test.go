package profile

import "testing"

func TestObserveReturnsIncrementingCount(t *testing.T) {
	p := New(8192)
	if n := p.Observe(0x1000); n != 1 {
		t.Fatalf("want 1, got %d", n)
	}
	if n := p.Observe(0x1000); n != 2 {
		t.Fatalf("want 2, got %d", n)
	}
}

func TestTwoLookupReachability(t *testing.T) {
	p := New(8192)
	p.GetOrCreateBlock(0x2004)
	be, ok := p.Lookup(0x2004)
	if !ok || be.StartPC != 0x2004 {
		t.Fatalf("block not reachable via two lookups")
	}
	if _, ok := p.Lookup(0x3004); ok {
		t.Fatalf("expected no block on an untouched page")
	}
}

func TestHotCallbackFiresExactlyOnceAtThreshold(t *testing.T) {
	var fires int
	p := New(8192, WithHotThreshold(4))
	p.onHot = func(HotBlockNotice) { fires++ }
	for i := 0; i < 10; i++ {
		p.Observe(0x10)
	}
	if fires != 1 {
		t.Fatalf("want exactly 1 hot callback, got %d", fires)
	}
}

func TestPageReadyFiresWithSortedBlocks(t *testing.T) {
	var notice PageReadyNotice
	var fires int
	p := New(8192, WithHotThreshold(2), WithPageTranslateThreshold(4))
	p.onPageReady = func(n PageReadyNotice) { notice = n; fires++ }

	for i := 0; i < 2; i++ {
		p.Observe(0x30) // second block, reaches hot first due to order below
	}
	for i := 0; i < 2; i++ {
		p.Observe(0x10)
	}
	if fires == 0 {
		t.Fatalf("expected page-ready callback to fire")
	}
	for i := 1; i < len(notice.Blocks); i++ {
		if notice.Blocks[i].StartPC < notice.Blocks[i-1].StartPC {
			t.Fatalf("hot blocks not sorted by PC: %+v", notice.Blocks)
		}
	}
}

func TestDropPageForgetsBlocks(t *testing.T) {
	p := New(8192)
	p.Observe(0x40)
	p.DropPage(p.frameOf(0x40))
	if _, ok := p.Lookup(0x40); ok {
		t.Fatalf("expected block to be forgotten after DropPage")
	}
}

func TestRevertPageToInterpretPreservesCount(t *testing.T) {
	p := New(8192)
	be := p.GetOrCreateBlock(0x40)
	be.Observe()
	be.Observe()
	be.SetCompiledNative(func(interface{}) (uint32, StopReason) { return 0, StopQuantumExpired })

	p.RevertPageToInterpret(p.frameOf(0x40))

	kind, _, ok := p.Touch(0x40)
	if !ok || kind != EntryInterpret {
		t.Fatalf("expected block reverted to EntryInterpret, got kind=%v ok=%v", kind, ok)
	}
	if be.Count() != 2 {
		t.Fatalf("expected count preserved across revert, got %d", be.Count())
	}
}
