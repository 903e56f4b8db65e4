// physical.go - page-frame -> PageProfile map and hotness policy

package profile

import (
	"math/bits"
	"sync"
)

// Default thresholds from spec.md S4.2.
const (
	DefaultPageSize               = 8192
	DefaultHotThreshold           = 4096
	DefaultPageTranslateThreshold = DefaultHotThreshold * 4
)

// HotBlockNotice is handed to the caller's OnHot callback when observe()
// returns a count equal to hotThreshold for the first time.
type HotBlockNotice struct {
	Frame uint32
	Block *BlockEntry
}

// PageReadyNotice is handed to the caller's OnPageReady callback when a
// page's cumulative hot-block count crosses pageTranslateThreshold.
type PageReadyNotice struct {
	Frame  uint32
	Blocks []*BlockEntry
}

// Physical is the PhysicalProfile of spec.md S3/S4.2: any guest PC that has
// ever begun a block is reachable from here via two lookups (frame, then
// offset).
type Physical struct {
	pageLog2 uint32
	pageMask uint32

	hotThreshold           uint64
	pageTranslateThreshold uint64

	mu    sync.Mutex
	pages map[uint32]*PageProfile

	onHot       func(HotBlockNotice)
	onPageReady func(PageReadyNotice)
}

// Option configures a new Physical profile.
type Option func(*Physical)

// WithHotThreshold overrides DefaultHotThreshold.
func WithHotThreshold(n uint64) Option { return func(p *Physical) { p.hotThreshold = n } }

// WithPageTranslateThreshold overrides DefaultPageTranslateThreshold.
func WithPageTranslateThreshold(n uint64) Option {
	return func(p *Physical) { p.pageTranslateThreshold = n }
}

// WithOnHot registers the callback invoked once per block the instant its
// count first reaches hotThreshold (spec.md S4.2: "published to the
// translation front-queue").
func WithOnHot(fn func(HotBlockNotice)) Option { return func(p *Physical) { p.onHot = fn } }

// WithOnPageReady registers the callback invoked once a page's cumulative
// hot-block count reaches pageTranslateThreshold; fn receives all hot
// blocks on that page, sorted by PC (spec.md S4.2).
func WithOnPageReady(fn func(PageReadyNotice)) Option {
	return func(p *Physical) { p.onPageReady = fn }
}

// New creates a Physical profile for a guest address space with the given
// page size (must be a power of two; defaults to DefaultPageSize).
func New(pageSize uint32, opts ...Option) *Physical {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	p := &Physical{
		pageLog2:               uint32(bits.TrailingZeros32(pageSize)),
		pageMask:                pageSize - 1,
		hotThreshold:           DefaultHotThreshold,
		pageTranslateThreshold: DefaultPageTranslateThreshold,
		pages:                  make(map[uint32]*PageProfile),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Physical) frameOf(pc uint32) uint32 { return pc >> p.pageLog2 }

// GetOrCreateBlock returns the BlockEntry for pc, allocating a PageProfile
// for a new page frame if needed.
func (p *Physical) GetOrCreateBlock(pc uint32) *BlockEntry {
	frame := p.frameOf(pc)
	p.mu.Lock()
	pg, ok := p.pages[frame]
	if !ok {
		pg = newPageProfile(frame, p.pageLog2)
		p.pages[frame] = pg
	}
	p.mu.Unlock()
	return pg.GetOrCreateBlock(pc)
}

// Observe increments the block's execution count and reacts to the
// hotness policy (spec.md S4.2). It returns the new count.
func (p *Physical) Observe(pc uint32) uint64 {
	be := p.GetOrCreateBlock(pc)
	n := be.Observe()
	if n == p.hotThreshold {
		if p.onHot != nil {
			p.onHot(HotBlockNotice{Frame: p.frameOf(pc), Block: be})
		}
		p.maybeFormWorkUnit(p.frameOf(pc))
	}
	return n
}

func (p *Physical) maybeFormWorkUnit(frame uint32) {
	p.mu.Lock()
	pg, ok := p.pages[frame]
	p.mu.Unlock()
	if !ok {
		return
	}
	hot := pg.HotBlocks(p.hotThreshold)
	var total uint64
	for _, be := range hot {
		total += be.Count()
	}
	if total >= p.pageTranslateThreshold && p.onPageReady != nil {
		p.onPageReady(PageReadyNotice{Frame: frame, Blocks: hot})
	}
}

// Touch reads the entry function for pc without incrementing its count.
// ok is false if the block has never been discovered.
func (p *Physical) Touch(pc uint32) (kind EntryKind, fn NativeFunc, ok bool) {
	frame := p.frameOf(pc)
	p.mu.Lock()
	pg, exists := p.pages[frame]
	p.mu.Unlock()
	if !exists {
		return 0, nil, false
	}
	be, exists := pg.Lookup(pc)
	if !exists {
		return 0, nil, false
	}
	kind, fn = be.Touch()
	return kind, fn, true
}

// Lookup returns the BlockEntry for pc if the page and block are known.
func (p *Physical) Lookup(pc uint32) (*BlockEntry, bool) {
	frame := p.frameOf(pc)
	p.mu.Lock()
	pg, exists := p.pages[frame]
	p.mu.Unlock()
	if !exists {
		return nil, false
	}
	return pg.Lookup(pc)
}

// DropPage discards an entire page's profile (spec.md S4.6: a guest write
// to code drops the page so the next discovery starts cold). Counts are
// not "preserved" across a drop-page; that preservation only applies to an
// ISA option change (spec.md S4.6), which this method does not implement.
func (p *Physical) DropPage(frame uint32) {
	p.mu.Lock()
	delete(p.pages, frame)
	p.mu.Unlock()
}

// RevertPageToInterpret walks every BlockEntry on frame and reverts it to
// EntryInterpret, preserving counts (spec.md S4.6: ISA option change).
func (p *Physical) RevertPageToInterpret(frame uint32) {
	p.mu.Lock()
	pg, ok := p.pages[frame]
	p.mu.Unlock()
	if !ok {
		return
	}
	for _, be := range pg.HotBlocks(0) {
		be.SetInterpret()
	}
}

// RevertAllToInterpret reverts every known block to EntryInterpret while
// preserving counts, for a global ISA option change (spec.md S4.6).
func (p *Physical) RevertAllToInterpret() {
	p.mu.Lock()
	frames := make([]uint32, 0, len(p.pages))
	for f := range p.pages {
		frames = append(frames, f)
	}
	p.mu.Unlock()
	for _, f := range frames {
		p.RevertPageToInterpret(f)
	}
}
