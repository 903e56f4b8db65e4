package dcode

import (
	"encoding/binary"
	"testing"
)

func encode(opcode, ra, rb, rc uint32) []byte {
	var out uint32
	out |= (opcode & 0x1f) << 27
	out |= (ra & 0x1f) << 22
	out |= (rb & 0x1f) << 17
	out |= rc & 0x1f
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, out)
	return buf
}

func TestPredecodeALU(t *testing.T) {
	word := encode(opAdd, 1, 2, 3)
	d := Predecode(word, 0x1000, 0)
	if d.Kind != KindALU {
		t.Fatalf("want KindALU, got %v", d.Kind)
	}
	if d.Operands[0].Value != 1 || d.Operands[1].Value != 2 || d.Operands[2].Value != 3 {
		t.Fatalf("unexpected operands: %+v", d.Operands)
	}
	if d.LengthBytes != 4 {
		t.Fatalf("want length 4, got %d", d.LengthBytes)
	}
}

func TestPredecodeBranchFlagsAndDelaySlot(t *testing.T) {
	word := encode(opBEQ, 1, 2, 0)
	without := Predecode(word, 0, 0)
	if !without.IsBranch || !without.ReadsPC || !without.WritesPC {
		t.Fatalf("branch flags not set: %+v", without)
	}
	if without.IsDelaySlot {
		t.Fatalf("delay slot flag set without the option bit")
	}
	with := Predecode(word, 0, isaOptDelaySlots)
	if !with.IsDelaySlot {
		t.Fatalf("delay slot flag not set with the option bit")
	}
}

func TestPredecodeIllegalOpcode(t *testing.T) {
	word := []byte{0xff, 0xff, 0xff, 0xff}
	d := Predecode(word, 0, 0)
	if !d.Illegal() {
		t.Fatalf("expected an illegal opcode to decode as KindIllegal")
	}
}

func TestPredecodeTruncatedWord(t *testing.T) {
	d := Predecode([]byte{0x00}, 0, 0)
	if !d.Illegal() {
		t.Fatalf("expected a short word to decode as illegal, got %+v", d)
	}
}

type fakeMem struct {
	bytes map[uint32][]byte
	fault map[uint32]bool
	reads int
}

func (m *fakeMem) ReadInstructionBytes(pc uint32, n int) ([]byte, bool) {
	m.reads++
	if m.fault[pc] {
		return nil, false
	}
	b, ok := m.bytes[pc]
	return b, ok
}

func TestCacheGetPopulatesOnMiss(t *testing.T) {
	mem := &fakeMem{bytes: map[uint32][]byte{0x40: encode(opAdd, 1, 1, 1)}}
	c := New(mem, 64)

	d1, ok := c.Get(0x40)
	if !ok || d1.Kind != KindALU {
		t.Fatalf("unexpected first Get result: %+v ok=%v", d1, ok)
	}
	if mem.reads != 1 {
		t.Fatalf("expected exactly one memory read, got %d", mem.reads)
	}

	d2, ok := c.Get(0x40)
	if !ok || d2 != d1 {
		t.Fatalf("second Get should hit cache and return identical record")
	}
	if mem.reads != 1 {
		t.Fatalf("second Get should not re-read memory, reads=%d", mem.reads)
	}
}

func TestCacheGetFaultPropagates(t *testing.T) {
	mem := &fakeMem{fault: map[uint32]bool{0x40: true}}
	c := New(mem, 64)
	if _, ok := c.Get(0x40); ok {
		t.Fatalf("expected fault to propagate as ok=false")
	}
}

func TestCacheInvalidateRoundTrip(t *testing.T) {
	mem := &fakeMem{bytes: map[uint32][]byte{0x40: encode(opAdd, 0, 0, 0)}}
	c := New(mem, 64)
	c.Get(0x40)

	mem.bytes[0x40] = encode(opSub, 0, 0, 0)
	d, _ := c.Get(0x40)
	if d.DispatchIndex != uint16(opAdd) {
		t.Fatalf("expected stale cached decode before invalidation")
	}

	c.Invalidate(0x40)
	d, _ = c.Get(0x40)
	if d.DispatchIndex != uint16(opSub) {
		t.Fatalf("expected fresh decode of new bytes after invalidation, got dispatch=%d", d.DispatchIndex)
	}
}

func TestCacheInvalidateRangeAndAll(t *testing.T) {
	mem := &fakeMem{bytes: map[uint32][]byte{
		0x40: encode(opAdd, 0, 0, 0),
		0x44: encode(opAdd, 0, 0, 0),
		0x80: encode(opAdd, 0, 0, 0),
	}}
	c := New(mem, 64)
	for pc := range mem.bytes {
		c.Get(pc)
	}
	c.InvalidateRange(0x40, 0x48)
	if c.slots[c.index(0x40)].valid || c.slots[c.index(0x44)].valid {
		t.Fatalf("expected range-invalidated slots to be cleared")
	}
	if !c.slots[c.index(0x80)].valid {
		t.Fatalf("expected slot outside the range to survive")
	}
	c.InvalidateAll()
	for _, s := range c.slots {
		if s.valid {
			t.Fatalf("expected InvalidateAll to clear every slot")
		}
	}
}
