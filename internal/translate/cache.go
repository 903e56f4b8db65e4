// cache.go - guest_pc -> native_entry_fn with owning-TM handle

package translate

import (
	"sync"
	"sync/atomic"

	"github.com/arcsim/arcsim/internal/profile"
)

// entry pairs a native function with the handle of the module that owns
// it, so retirement can walk back to the right Module.
type entry struct {
	fn     profile.NativeFunc
	module Handle
}

// snapshot is the versioned, atomically-swapped view the dispatcher's
// lock-free fast path reads (spec.md S5: "lock-free fast path using a
// versioned pointer is permitted"), grounded on runtime_status.go's
// sync.RWMutex-guarded snapshot-struct idiom generalized to an
// atomic.Pointer swap.
type snapshot struct {
	entries     map[uint32]entry
	doNotCompile map[uint32]bool
}

// Cache is the TranslationCache of spec.md S3/S4.3/S5: multi-reader /
// single-writer, with per-PC do-not-compile markers set while an IPT
// subscriber is registered there.
type Cache struct {
	mu   sync.Mutex // serializes writers; readers use the atomic snapshot
	view atomic.Pointer[snapshot]
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	c := &Cache{}
	c.view.Store(&snapshot{entries: map[uint32]entry{}, doNotCompile: map[uint32]bool{}})
	return c
}

// Lookup returns the native entry for pc without taking a lock (spec.md
// S4.4's fast path / S5's lock-free read).
func (c *Cache) Lookup(pc uint32) (profile.NativeFunc, Handle, bool) {
	s := c.view.Load()
	e, ok := s.entries[pc]
	if !ok {
		return nil, Handle{idx: -1}, false
	}
	return e.fn, e.module, true
}

// DoNotCompile reports whether pc is currently marked do-not-compile
// (spec.md S3, S4.5).
func (c *Cache) DoNotCompile(pc uint32) bool {
	return c.view.Load().doNotCompile[pc]
}

func (c *Cache) cloneLocked() *snapshot {
	old := c.view.Load()
	next := &snapshot{
		entries:      make(map[uint32]entry, len(old.entries)),
		doNotCompile: make(map[uint32]bool, len(old.doNotCompile)),
	}
	for k, v := range old.entries {
		next.entries[k] = v
	}
	for k, v := range old.doNotCompile {
		next.doNotCompile[k] = v
	}
	return next
}

// SetDoNotCompile marks or clears the do-not-compile marker at pc
// (spec.md S4.5).
func (c *Cache) SetDoNotCompile(pc uint32, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.cloneLocked()
	if active {
		next.doNotCompile[pc] = true
	} else {
		delete(next.doNotCompile, pc)
	}
	c.view.Store(next)
}

// Publisher is satisfied by *Arena; kept as an interface so Cache's
// publish protocol doesn't need the concrete Arena type for tests.
type Publisher interface {
	Store(m *Module) Handle
	Retire(m *Module)
	BumpEpoch() uint64
}

// RetiredEntry describes a TC entry that was replaced during a Publish
// call, for the caller's bookkeeping (e.g. retiring the module that owned
// it). PCs skipped as do-not-compile are not reported.
type RetiredEntry struct {
	PC     uint32
	Module Handle
}

// Publish installs m's entries into the cache following the publish
// protocol of spec.md S4.3:
//  1. an existing native entry at pc is replaced and its owning module is
//     pushed onto the retired list;
//  2. a pc marked do-not-compile is skipped;
//  3. otherwise the entry is installed.
// It returns the handle m was stored under and the set of PCs that were
// actually installed, so the caller can flip the corresponding
// BlockEntry to EntryCompiledNative.
func (c *Cache) Publish(arena Publisher, m *Module) (Handle, []uint32, []RetiredEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle := arena.Store(m)
	next := c.cloneLocked()

	var installed []uint32
	var retired []RetiredEntry
	for pc, fn := range m.Entries {
		if next.doNotCompile[pc] {
			continue
		}
		if old, ok := next.entries[pc]; ok {
			retired = append(retired, RetiredEntry{PC: pc, Module: old.module})
		}
		next.entries[pc] = entry{fn: fn, module: handle}
		installed = append(installed, pc)
	}

	c.view.Store(next)
	arena.BumpEpoch()
	return handle, installed, retired
}

// RetirePC removes any native entry at pc (spec.md S4.6: "IPT installed at
// pc... TC.retire_entry(pc)"). It returns the owning handle if one was
// present so the caller can hand it to the arena for retirement.
func (c *Cache) RetirePC(pc uint32) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.cloneLocked()
	e, ok := next.entries[pc]
	if !ok {
		return Handle{idx: -1}, false
	}
	delete(next.entries, pc)
	c.view.Store(next)
	return e.module, true
}

// RetirePage removes the native entries at pcs and returns the distinct
// handles of the modules that owned them (spec.md S4.6: "TC.retire_page").
// Because the cache only tracks pc->module, the caller supplies the PCs
// known to lie on the page (normally from PhysicalProfile).
func (c *Cache) RetirePage(pcs []uint32) []Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.cloneLocked()
	seen := map[Handle]bool{}
	var handles []Handle
	for _, pc := range pcs {
		e, ok := next.entries[pc]
		if !ok {
			continue
		}
		delete(next.entries, pc)
		if !seen[e.module] {
			seen[e.module] = true
			handles = append(handles, e.module)
		}
	}
	c.view.Store(next)
	return handles
}

// FlushAll removes every native entry (spec.md S4.6/S7: OutOfCodeMemory
// triggers a full flush) and returns every module handle that was
// installed plus the PCs that pointed at them, so the caller can both
// retire the modules and revert the corresponding BlockEntries to
// interpretation.
func (c *Cache) FlushAll() ([]Handle, []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.view.Load()
	seen := map[Handle]bool{}
	var handles []Handle
	pcs := make([]uint32, 0, len(old.entries))
	for pc, e := range old.entries {
		pcs = append(pcs, pc)
		if !seen[e.module] {
			seen[e.module] = true
			handles = append(handles, e.module)
		}
	}
	c.view.Store(&snapshot{entries: map[uint32]entry{}, doNotCompile: old.doNotCompile})
	return handles, pcs
}
