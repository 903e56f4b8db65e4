// page.go - per-page sparse map of BlockEntry records

package profile

import (
	"sort"
	"sync"
)

// PageProfile owns every BlockEntry whose start PC falls within one guest
// page (spec.md S3). Keys are page-relative offsets, not full addresses.
type PageProfile struct {
	frame   uint32
	pageLog2 uint32

	mu      sync.Mutex
	entries map[uint32]*BlockEntry
}

func newPageProfile(frame, pageLog2 uint32) *PageProfile {
	return &PageProfile{frame: frame, pageLog2: pageLog2, entries: make(map[uint32]*BlockEntry)}
}

// Frame returns the page-frame number this profile covers.
func (p *PageProfile) Frame() uint32 { return p.frame }

func (p *PageProfile) offset(pc uint32) uint32 {
	return pc & ((1 << p.pageLog2) - 1)
}

// GetOrCreateBlock returns the BlockEntry for pc, allocating one if this is
// the first time the block has been discovered on this page.
func (p *PageProfile) GetOrCreateBlock(pc uint32) *BlockEntry {
	off := p.offset(pc)
	p.mu.Lock()
	defer p.mu.Unlock()
	if be, ok := p.entries[off]; ok {
		return be
	}
	be := &BlockEntry{StartPC: pc}
	p.entries[off] = be
	return be
}

// Lookup returns the BlockEntry for pc without creating one.
func (p *PageProfile) Lookup(pc uint32) (*BlockEntry, bool) {
	off := p.offset(pc)
	p.mu.Lock()
	defer p.mu.Unlock()
	be, ok := p.entries[off]
	return be, ok
}

// HotBlocks returns every BlockEntry on this page whose count has reached
// at least threshold, sorted by start PC (spec.md S4.2: "all hot blocks in
// that page, sorted by PC").
func (p *PageProfile) HotBlocks(threshold uint64) []*BlockEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var hot []*BlockEntry
	for _, be := range p.entries {
		if be.Count() >= threshold {
			hot = append(hot, be)
		}
	}
	sort.Slice(hot, func(i, j int) bool { return hot[i].StartPC < hot[j].StartPC })
	return hot
}
