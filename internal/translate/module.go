// module.go - loaded native code module and the epoch-reclamation arena

package translate

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/arcsim/arcsim/internal/profile"
)

// Loader turns a compiled artifact on disk into a block_start_pc -> native
// entry function table. The returned io.Closer releases the artifact's
// code memory when the module is reclaimed. Production builds back this
// with plugin.Open; tests and headless builds substitute an in-memory
// fake, mirroring the teacher's audio/video *_backend_headless.go pattern
// of a test-friendly stand-in for an OS-specific backend.
type Loader interface {
	Load(artifactPath string, blockPCs []uint32) (map[uint32]profile.NativeFunc, io.Closer, error)
}

// Module is the TranslationModule of spec.md S3: loaded native code plus
// its block_start_pc -> native_entry_fn table. It owns its code memory via
// closer and lives until Arena.Reclaim determines no dispatcher can still
// reference it.
type Module struct {
	Frame   uint32
	Entries map[uint32]profile.NativeFunc

	closer io.Closer

	retiredAtEpoch atomic.Int64 // -1 while live
	closed         atomic.Bool
}

func newModule(frame uint32, entries map[uint32]profile.NativeFunc, closer io.Closer) *Module {
	m := &Module{Frame: frame, Entries: entries, closer: closer}
	m.retiredAtEpoch.Store(-1)
	return m
}

// NewModule constructs a Module directly, for callers that already hold a
// compiled entry table outside the worker Pool -- e.g. a test, or an
// embedder publishing a statically linked fallback implementation.
func NewModule(frame uint32, entries map[uint32]profile.NativeFunc, closer io.Closer) *Module {
	return newModule(frame, entries, closer)
}

func (m *Module) retire(epoch uint64) {
	m.retiredAtEpoch.CompareAndSwap(-1, int64(epoch))
}

func (m *Module) retired() (epoch uint64, yes bool) {
	v := m.retiredAtEpoch.Load()
	if v < 0 {
		return 0, false
	}
	return uint64(v), true
}

func (m *Module) close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// Handle is a typed reference into the Arena (spec.md S9: "TMHandle{epoch,
// idx}"). A handle from a reclaimed epoch is refused rather than
// dereferenced, which is what makes the arena safe against stale
// BlockEntry/TranslationCache references.
type Handle struct {
	epoch uint64
	idx   int
}

// Valid reports whether h was ever issued by an Arena.
func (h Handle) Valid() bool { return h.idx >= 0 }

// Arena is an append-only, per-epoch store of Modules (spec.md S9). A new
// epoch begins each time the publish protocol bumps the global counter;
// Deref succeeds for a handle until Reclaim deletes its epoch's bucket.
type Arena struct {
	mu      sync.Mutex
	epoch   atomic.Uint64
	modules map[uint64][]*Module // epoch -> modules stored during that epoch
	reclaimed map[uint64]bool
}

// NewArena creates an Arena starting at epoch 0.
func NewArena() *Arena {
	return &Arena{modules: make(map[uint64][]*Module), reclaimed: make(map[uint64]bool)}
}

// Epoch returns the current global epoch.
func (a *Arena) Epoch() uint64 { return a.epoch.Load() }

// BumpEpoch advances the global epoch and returns the new value (spec.md
// S4.3: "the publish epoch is bumped").
func (a *Arena) BumpEpoch() uint64 { return a.epoch.Add(1) }

// Store appends m to the current epoch's bucket and returns its handle.
func (a *Arena) Store(m *Module) Handle {
	epoch := a.epoch.Load()
	a.mu.Lock()
	defer a.mu.Unlock()
	bucket := a.modules[epoch]
	idx := len(bucket)
	a.modules[epoch] = append(bucket, m)
	return Handle{epoch: epoch, idx: idx}
}

// Deref resolves h to its Module. ok is false if h's epoch has already
// been reclaimed.
func (a *Arena) Deref(h Handle) (*Module, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reclaimed[h.epoch] {
		return nil, false
	}
	bucket, ok := a.modules[h.epoch]
	if !ok || h.idx < 0 || h.idx >= len(bucket) {
		return nil, false
	}
	return bucket[h.idx], true
}

// Retire marks m for reclamation, recording the arena's current epoch;
// Reclaim closes m once the minimum epoch observed by any dispatcher has
// reached that epoch (spec.md S3, S4.6, S9).
func (a *Arena) Retire(m *Module) { m.retire(a.epoch.Load()) }

// Reclaim frees every module retired at or before minObservedEpoch -- the
// minimum epoch any live dispatcher currently reports observing -- and
// deletes an epoch bucket (at or before minObservedEpoch) once every module
// in it has been retired at or before minObservedEpoch. A bucket holding a
// live module is kept however old it is. It returns the number of modules
// actually closed.
func (a *Arena) Reclaim(minObservedEpoch uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	closed := 0
	for epoch, bucket := range a.modules {
		if epoch > minObservedEpoch {
			continue
		}
		allRetired := true
		for _, m := range bucket {
			if retiredEpoch, yes := m.retired(); !yes || retiredEpoch > minObservedEpoch {
				allRetired = false
				continue
			}
			if !m.closed.Load() {
				m.close()
				closed++
			}
		}
		if allRetired {
			delete(a.modules, epoch)
			a.reclaimed[epoch] = true
		}
	}
	return closed
}
