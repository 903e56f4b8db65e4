// worker.go - bounded compile queue serviced by a fixed goroutine pool

package translate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"plugin"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arcsim/arcsim/internal/profile"
)

// discardLogger is used when NewPool is called without a logger.
var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Compiler turns a WorkUnit into an on-disk artifact. The production
// implementation shells out to a toolchain binary via os/exec (no example
// repo wraps an external compiler invocation, so this is the one
// justified stdlib-only seam -- see DESIGN.md); tests substitute a fake.
type Compiler interface {
	Compile(ctx context.Context, unit WorkUnit) (artifactPath string, blockPCs []uint32, err error)
}

// ExecCompiler invokes an external toolchain binary with the unit's frame
// as its only input (`--frame <hex>`); the blocks' decoded instructions are
// not passed to the toolchain and no source is generated. The toolchain's
// stdout is used verbatim as the path of the compiled artifact, and the
// unit's block start PCs are reported as the entries to load. It exists to give
// arcsimctl's --toolchain flag something concrete to select.
type ExecCompiler struct {
	Path string // toolchain binary, e.g. from Options.Toolchain
}

func (c ExecCompiler) Compile(ctx context.Context, unit WorkUnit) (string, []uint32, error) {
	cmd := exec.CommandContext(ctx, c.Path, "--frame", fmt.Sprintf("%#x", unit.Frame))
	out, err := cmd.Output()
	if err != nil {
		return "", nil, fmt.Errorf("translate: toolchain invocation failed: %w", err)
	}
	pcs := make([]uint32, 0, len(unit.Blocks))
	for _, b := range unit.Blocks {
		pcs = append(pcs, b.StartPC)
	}
	return string(out), pcs, nil
}

// job is one queued compile request.
type job struct {
	unit WorkUnit
	done chan<- Result
}

// Result is delivered on a WorkUnit's done channel once its worker
// finishes (spec.md S4.3: "compiled asynchronously... publishes via TC").
type Result struct {
	Unit   WorkUnit
	Module *Module
	Err    error
}

// Pool is the TranslationWorker pool of spec.md S3/S4.3: N goroutines
// draining a bounded queue, each compiling one WorkUnit at a time and
// loading the result through a Loader. Grounded on
// coprocessor_manager.go's worker registry plus coproc_worker_ie32.go's
// ticket/done-channel request lifecycle; worker lifetime is tracked with
// errgroup rather than a bare WaitGroup so a future version can surface a
// worker panic/error through Close without adding its own plumbing.
type Pool struct {
	compiler Compiler
	loader   Loader
	log      *slog.Logger

	queue chan job

	mu       sync.Mutex
	inFlight map[Key]bool

	workers errgroup.Group
}

// NewPool starts workers goroutines pulling from a queue of depth
// queueDepth. Submissions once the queue is full are dropped rather than
// blocking the profiler thread that noticed a page went hot (spec.md
// S4.3: "if the queue is full, the unit is dropped").
func NewPool(workers, queueDepth int, compiler Compiler, loader Loader, log *slog.Logger) *Pool {
	if log == nil {
		log = discardLogger
	}
	p := &Pool{
		compiler: compiler,
		loader:   loader,
		log:      log,
		queue:    make(chan job, queueDepth),
		inFlight: make(map[Key]bool),
	}
	for i := 0; i < workers; i++ {
		id := i
		p.workers.Go(func() error {
			p.loop(id)
			return nil
		})
	}
	return p
}

// Submit enqueues unit for compilation. ok is false if an equivalent unit
// (same Key) is already in flight, or the queue is full; in both cases
// the unit is not queued and no Result will be delivered for it.
func (p *Pool) Submit(unit WorkUnit) (<-chan Result, bool) {
	key := unit.Key()

	p.mu.Lock()
	if p.inFlight[key] {
		p.mu.Unlock()
		return nil, false
	}
	p.inFlight[key] = true
	p.mu.Unlock()

	done := make(chan Result, 1)
	select {
	case p.queue <- job{unit: unit, done: done}:
		return done, true
	default:
		p.mu.Lock()
		delete(p.inFlight, key)
		p.mu.Unlock()
		return nil, false
	}
}

func (p *Pool) loop(id int) {
	for j := range p.queue {
		m, err := p.compile(j.unit)
		p.mu.Lock()
		delete(p.inFlight, j.unit.Key())
		p.mu.Unlock()

		if err != nil {
			p.log.Warn("translation unit failed", "worker", id, "frame", j.unit.Frame, "error", err)
		} else {
			p.log.Info("translation unit compiled", "worker", id, "frame", j.unit.Frame, "blocks", len(j.unit.Blocks))
		}
		j.done <- Result{Unit: j.unit, Module: m, Err: err}
		close(j.done)
	}
}

func (p *Pool) compile(unit WorkUnit) (*Module, error) {
	ctx := context.Background()
	artifact, pcs, err := p.compiler.Compile(ctx, unit)
	if err != nil {
		return nil, err
	}
	entries, closer, err := p.loader.Load(artifact, pcs)
	if err != nil {
		return nil, fmt.Errorf("translate: load failed: %w", err)
	}
	return newModule(unit.Frame, entries, closer), nil
}

// Close closes the queue and waits for the workers to exit. Workers finish
// every job already queued, including ones not yet started, and deliver
// each one's Result before exiting. Submit must not be called after Close:
// sending on the closed queue panics.
func (p *Pool) Close() {
	close(p.queue)
	_ = p.workers.Wait()
}

// pluginLoader is the production Loader: it opens a compiled artifact
// with the stdlib plugin package and reads back the entry table the
// external toolchain built for exactly this WorkUnit's blocks. No example
// repo wraps plugin.Open, and the ecosystem has no third-party
// alternative to it either, so this is a second justified stdlib-only
// seam alongside ExecCompiler -- see DESIGN.md.
type pluginLoader struct{}

// NewPluginLoader returns the Loader production builds wire: artifacts
// are Go plugins (built with `go build -buildmode=plugin`) exporting a
// symbol named EntryTable of type map[uint32]profile.NativeFunc, one
// entry per pc in blockPCs.
func NewPluginLoader() Loader { return pluginLoader{} }

func (pluginLoader) Load(artifactPath string, blockPCs []uint32) (map[uint32]profile.NativeFunc, io.Closer, error) {
	p, err := plugin.Open(artifactPath)
	if err != nil {
		return nil, nil, fmt.Errorf("translate: plugin open failed: %w", err)
	}
	sym, err := p.Lookup("EntryTable")
	if err != nil {
		return nil, nil, fmt.Errorf("translate: plugin missing EntryTable symbol: %w", err)
	}
	table, ok := sym.(*map[uint32]profile.NativeFunc)
	if !ok {
		return nil, nil, fmt.Errorf("translate: plugin EntryTable has unexpected type %T", sym)
	}
	entries := make(map[uint32]profile.NativeFunc, len(blockPCs))
	for _, pc := range blockPCs {
		fn, ok := (*table)[pc]
		if !ok {
			return nil, nil, fmt.Errorf("translate: plugin artifact has no entry for pc %#x", pc)
		}
		entries[pc] = fn
	}
	// The plugin package provides no unload hook; a loaded plugin's code
	// stays mapped for the process lifetime, so Close only drops the
	// table reference rather than releasing memory.
	return entries, closerFunc(func() error { return nil }), nil
}

// fakeLoader lets translate be exercised without an external toolchain,
// mirroring the teacher's *_backend_headless.go test doubles for
// OS-specific backends.
type fakeLoader struct{}

// NewFakeLoader returns a Loader that synthesizes a trivial native
// function per block. The stub immediately traps back to the dispatcher
// rather than reporting StopBranchUncompiled, since a compiled entry that
// is re-entered forever with the same pc and never traps would spin the
// dispatcher's Run loop; use this only where no real toolchain is
// configured.
func NewFakeLoader() Loader { return fakeLoader{} }

func (fakeLoader) Load(_ string, blockPCs []uint32) (map[uint32]profile.NativeFunc, io.Closer, error) {
	entries := make(map[uint32]profile.NativeFunc, len(blockPCs))
	for _, pc := range blockPCs {
		pc := pc
		entries[pc] = func(_ interface{}) (uint32, profile.StopReason) {
			return pc, profile.StopTrap
		}
	}
	return entries, closerFunc(func() error { return nil }), nil
}

// closerFunc adapts a func() error to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }
