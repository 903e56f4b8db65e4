// cache.go - direct-mapped PC -> Dcode memoization table

package dcode

import "sync"

// DefaultSlots is N in spec.md's "(pc >> 1) mod N, N a power of two
// (default 8192)".
const DefaultSlots = 8192

// MemoryReader fetches 2-8 raw guest bytes for a predecode miss. It is the
// narrow slice of arcsim.Memory that DcodeCache needs, kept separate so
// this package has no dependency on the root package (avoids an import
// cycle: arcsim imports dcode, not the reverse).
type MemoryReader interface {
	ReadInstructionBytes(pc uint32, n int) ([]byte, bool)
}

type slot struct {
	tag   uint32
	dcode Dcode
	valid bool
}

// Cache is the direct-mapped DcodeCache of spec.md S3/S4.1. It is owned by
// a single dispatcher; cross-thread invalidation is expected to be
// serialized through a command queue at block boundaries (spec.md S5), so
// the mutex here only protects against the rare case of an out-of-band
// invalidation call racing a lookup, not against steady-state contention.
type Cache struct {
	mu       sync.Mutex
	slots    []slot
	mask     uint32
	mem      MemoryReader
	isaOpts  uint64
	decode   func(word []byte, pc uint32, isaOptions uint64) Dcode
}

// Option configures a new Cache.
type Option func(*Cache)

// WithDecodeFunc overrides the reference Predecode implementation with an
// embedder-supplied guest ISA decoder (spec.md S4.1: arcsim.Decoder).
func WithDecodeFunc(fn func(word []byte, pc uint32, isaOptions uint64) Dcode) Option {
	return func(c *Cache) { c.decode = fn }
}

// New creates a Cache with n slots (rounded up to the next power of two)
// backed by mem for decode misses. Without WithDecodeFunc it decodes with
// the bundled reference ISA (Predecode).
func New(mem MemoryReader, n int, opts ...Option) *Cache {
	if n <= 0 {
		n = DefaultSlots
	}
	sz := 1
	for sz < n {
		sz <<= 1
	}
	c := &Cache{
		slots:  make([]slot, sz),
		mask:   uint32(sz - 1),
		mem:    mem,
		decode: Predecode,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetISAOptions updates the fingerprint used to decode future misses.
// Callers must invalidate_all() around a change (spec.md S4.6) — Cache
// does not do this itself, since it can't distinguish "option changed,
// flush now" from "option changed, flush is the caller's job this block".
func (c *Cache) SetISAOptions(opts uint64) {
	c.mu.Lock()
	c.isaOpts = opts
	c.mu.Unlock()
}

func (c *Cache) index(pc uint32) uint32 {
	return (pc >> 1) & c.mask
}

// Get returns the Dcode for pc, decoding and populating the cache on a
// miss or a tag mismatch. ok is false only when the embedder's memory
// reports a fault fetching the instruction bytes; an illegal opcode is not
// a miss failure, it is cached as Kind == KindIllegal (spec.md S4.1).
func (c *Cache) Get(pc uint32) (d Dcode, ok bool) {
	idx := c.index(pc)

	c.mu.Lock()
	s := c.slots[idx]
	c.mu.Unlock()
	if s.valid && s.tag == pc {
		return s.dcode, true
	}

	// Speculative length: fetch the largest fixed instruction width (4
	// bytes for this reference ISA); a real decoder table would re-fetch
	// on a variable-length mismatch.
	bytes, got := c.mem.ReadInstructionBytes(pc, 4)
	if !got {
		return Dcode{}, false
	}

	c.mu.Lock()
	isaOpts := c.isaOpts
	c.mu.Unlock()

	d = c.decode(bytes, pc, isaOpts)

	c.mu.Lock()
	c.slots[idx] = slot{tag: pc, dcode: d, valid: true}
	c.mu.Unlock()
	return d, true
}

// Invalidate clears the slot tagged pc, if any.
func (c *Cache) Invalidate(pc uint32) {
	idx := c.index(pc)
	c.mu.Lock()
	if c.slots[idx].tag == pc {
		c.slots[idx] = slot{}
	}
	c.mu.Unlock()
}

// InvalidateRange clears every slot whose tag is in [lo, hi).
func (c *Cache) InvalidateRange(lo, hi uint32) {
	c.mu.Lock()
	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].tag >= lo && c.slots[i].tag < hi {
			c.slots[i] = slot{}
		}
	}
	c.mu.Unlock()
}

// InvalidateAll flushes every slot.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	for i := range c.slots {
		c.slots[i] = slot{}
	}
	c.mu.Unlock()
}
