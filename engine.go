// engine.go - wires the internal pipeline packages into a runnable CPU

package arcsim

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/arcsim/arcsim/internal/counters"
	"github.com/arcsim/arcsim/internal/dcode"
	"github.com/arcsim/arcsim/internal/dispatch"
	"github.com/arcsim/arcsim/internal/ioc"
	"github.com/arcsim/arcsim/internal/ipt"
	"github.com/arcsim/arcsim/internal/obslog"
	"github.com/arcsim/arcsim/internal/profile"
	"github.com/arcsim/arcsim/internal/translate"
)

// Engine is a simulator instance: one IoC context plus zero or more CPUs
// (spec.md S6: simCreateContext / simGetCPUcontext, one Context per CPU).
// There is no process-wide singleton; every embedder-visible piece of
// state hangs off an Engine value.
type Engine struct {
	opts Options
	log  *slog.Logger
	ioc  *ioc.Context

	mu   sync.Mutex
	cpus map[string]*CPU
}

// CreateContext allocates a simulator instance. Toolkit/CLI concerns
// (argv parsing, interactive front ends) live entirely in cmd/arcsimctl;
// CreateContext itself only ever sees a populated Options value.
func CreateContext(opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Workers == 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.Logger == nil {
		level := slog.LevelWarn
		if opts.Verbose {
			level = slog.LevelInfo
		}
		if opts.Trace {
			level = slog.LevelDebug
		}
		// obslog.Handler mirrors records at or above its threshold to
		// stderr; with a discarding sink that threshold is the log level.
		opts.Logger = slog.New(obslog.New(io.Discard, level))
	}
	e := &Engine{
		opts: opts,
		log:  opts.Logger,
		ioc:  ioc.New("root"),
		cpus: make(map[string]*CPU),
	}
	e.ioc.SetItem("options", opts)
	return e, nil
}

// IoC returns the engine's root inversion-of-control context (spec.md S6:
// iocGlobal, generalized from a process singleton to a per-Engine root).
func (e *Engine) IoC() *ioc.Context { return e.ioc }

// CPU returns the named CPU, creating it on first use. mem, decoder, and
// exec are the embedder's guest-specific collaborators (spec.md S4's
// external interfaces); pipeline may be nil when cycle-accurate mode is
// never enabled for this CPU.
func (e *Engine) CPU(id string, mem Memory, decoder Decoder, exec InstructionExecutor, pipeline PipelineModel) *CPU {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.cpus[id]; ok {
		return c
	}
	c := newCPU(id, e, mem, decoder, exec, pipeline)
	e.cpus[id] = c
	e.ioc.Child(id).SetItem("counters", c.counters)
	e.ioc.Child(id).SetItem("ipt", c.ipt)
	e.ioc.Child(id).SetItem("translation-cache", c.tc)
	return c
}

// GetCPU retrieves a previously created CPU.
func (e *Engine) GetCPU(id string) (*CPU, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cpus[id]
	return c, ok
}

// Close shuts down every CPU's translation worker pool.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.cpus {
		c.pool.Close()
	}
}

// CPU is one guest processor context: its own DcodeCache, PhysicalProfile,
// IPTManager, counters, translation pipeline, and dispatcher.
type CPU struct {
	id  string
	mem Memory
	log *slog.Logger

	dcode    *dcode.Cache
	profile  *profile.Physical
	ipt      *ipt.Manager
	counters *counters.Set
	tc       *translate.Cache
	arena    *translate.Arena
	pool     *translate.Pool

	dispatcher  *dispatch.Dispatcher
	invalidator *dispatch.Invalidator

	debug        atomic.Bool
	debugTraceFn func(pc uint32, length uint8)
	lastFault    atomic.Pointer[Fault]
}

func newCPU(id string, e *Engine, mem Memory, decoder Decoder, exec InstructionExecutor, pipeline PipelineModel) *CPU {
	log := e.log.With("cpu", id)

	dc := dcode.New(memoryReaderAdapter{mem}, e.opts.DcodeCacheSlots, dcode.WithDecodeFunc(decodeFuncFrom(decoder)))
	cnt := counters.NewSet()
	tc := translate.NewCache()
	arena := translate.NewArena()

	c := &CPU{id: id, mem: mem, log: log, dcode: dc, counters: cnt, tc: tc, arena: arena}

	prof := profile.New(e.opts.PageSize,
		profile.WithHotThreshold(e.opts.HotThreshold),
		profile.WithPageTranslateThreshold(e.opts.PageTranslateThreshold),
		profile.WithOnHot(func(n profile.HotBlockNotice) {
			log.Debug("block hot", "pc", n.Block.StartPC, "count", n.Block.Count())
		}),
		profile.WithOnPageReady(func(n profile.PageReadyNotice) {
			c.submitWorkUnit(n)
		}),
	)
	c.profile = prof

	inv := dispatch.NewInvalidator(dc, prof, tc, arena, e.opts.PageSize, log)
	c.invalidator = inv

	iptMgr := ipt.New(
		func(pc uint32, active bool) {
			if active {
				inv.OnIPTInstalled(pc)
			} else {
				inv.OnIPTRemoved(pc)
			}
		},
		func() { inv.OnGlobalInstrumentationChange() },
	)
	c.ipt = iptMgr

	compiler := translate.ExecCompiler{Path: e.opts.Toolchain}
	var loader translate.Loader = translate.NewFakeLoader()
	if e.opts.PluginLoader {
		loader = translate.NewPluginLoader()
	}
	pool := translate.NewPool(e.opts.Workers, e.opts.QueueDepth, compiler, loader, log)
	c.pool = pool

	execAdapter := instructionExecutorAdapter{exec: exec, cpu: c}
	dopts := dispatch.Options{CycleAccurate: e.opts.CycleAccurate && !e.opts.Fast}
	c.dispatcher = dispatch.New(dc, prof, iptMgr, cnt, execAdapter, pipeline, dopts)

	c.debugTraceFn = func(pc uint32, length uint8) {
		log.Debug("instruction retired", "pc", pc, "length", length)
	}
	if e.opts.Debug {
		c.DebugOn()
	}
	return c
}

func (c *CPU) submitWorkUnit(n profile.PageReadyNotice) {
	blocks := make([]translate.BlockSnapshot, 0, len(n.Blocks))
	for _, be := range n.Blocks {
		instrs := c.collectBlockInstructions(be.StartPC, be.EndPC)
		blocks = append(blocks, translate.BlockSnapshot{StartPC: be.StartPC, Instructions: instrs})
	}
	unit := translate.NewWorkUnit(n.Frame, 0, blocks)
	done, ok := c.pool.Submit(unit)
	if !ok {
		c.log.Debug("translation unit dropped", "frame", n.Frame)
		return
	}
	go c.awaitCompile(done)
}

func (c *CPU) collectBlockInstructions(start, end uint32) []dcode.Dcode {
	if end <= start {
		end = start + 4
	}
	var out []dcode.Dcode
	for pc := start; pc < end; {
		d, ok := c.dcode.Get(pc)
		if !ok {
			break
		}
		out = append(out, d)
		if d.LengthBytes == 0 {
			break
		}
		pc += uint32(d.LengthBytes)
	}
	return out
}

func (c *CPU) awaitCompile(done <-chan translate.Result) {
	res := <-done
	if res.Err != nil {
		c.log.Warn("translation failed", "frame", res.Unit.Frame, "error", res.Err)
		return
	}
	_, installed, retired := c.tc.Publish(c.arena, res.Module)
	for _, pc := range installed {
		if be, ok := c.profile.Lookup(pc); ok {
			if fn, _, ok := c.tc.Lookup(pc); ok {
				be.SetCompiledNative(fn)
			}
		}
	}
	for _, r := range retired {
		if m, ok := c.arena.Deref(r.Module); ok {
			c.arena.Retire(m)
		}
	}
}

// Step executes exactly one guest instruction.
func (c *CPU) Step(cpuState interface{}, pc uint32) (nextPC uint32, stop bool) {
	c.dispatcher.ObserveEpoch(c.arena.Epoch())
	return c.dispatcher.Step(cpuState, pc)
}

// Run executes guest instructions until Stop is called or a fault occurs.
func (c *CPU) Run(cpuState interface{}, pc uint32) uint32 {
	c.dispatcher.ObserveEpoch(c.arena.Epoch())
	return c.dispatcher.Run(cpuState, pc)
}

// Stop requests that Run return at the next instruction boundary.
func (c *CPU) Stop() { c.dispatcher.Stop() }

// Resume clears a prior Stop.
func (c *CPU) Resume() { c.dispatcher.Resume() }

// DebugOn installs a global BeginInstructionExecution subscriber that logs
// every retired instruction at Debug level (spec.md S6). Per spec.md
// S4.5, installing a global subscriber demands invalidation of all
// compiled native code, so enabling debug mode on a running CPU forces
// every block back through the interpreter.
func (c *CPU) DebugOn() {
	if !c.debug.CompareAndSwap(false, true) {
		return
	}
	c.ipt.InsertBeginInstructionExecution(c.debugTraceFn)
}

// DebugOff removes the subscriber installed by DebugOn.
func (c *CPU) DebugOff() {
	if !c.debug.CompareAndSwap(true, false) {
		return
	}
	_ = c.ipt.RemoveBeginInstructionExecutionSubscriber(c.debugTraceFn)
}

// LastFault returns the most recent guest fault reported by the
// InstructionExecutor, if any.
func (c *CPU) LastFault() (Fault, bool) {
	f := c.lastFault.Load()
	if f == nil {
		return Fault{}, false
	}
	return *f, true
}

// Counters returns this CPU's counter set (spec.md S6).
func (c *CPU) Counters() *counters.Set { return c.counters }

// IPT returns this CPU's instrumentation-point manager (spec.md S6).
func (c *CPU) IPT() *ipt.Manager { return c.ipt }

// Snapshot returns a point-in-time view of dispatcher state
// (SPEC_FULL.md S18).
func (c *CPU) Snapshot(pc uint32) dispatch.Snapshot { return c.dispatcher.Snapshot(pc) }

// Backtrace returns the dispatcher's recently retired instructions
// (SPEC_FULL.md S19).
func (c *CPU) Backtrace() []dispatch.BacktraceEntry { return c.dispatcher.Backtrace() }

// NotifyGuestWrite tells the coherence path that the guest stored to
// code space; the caller supplies the block start PCs it already knows
// lie on the affected page (spec.md S4.6).
func (c *CPU) NotifyGuestWrite(addr uint32, knownPCs []uint32) {
	c.invalidator.OnGuestWrite(addr, knownPCs)
}

// SetISAOptions changes the ISA option fingerprint, flushing every cache
// that fingerprint affects (spec.md S4.6).
func (c *CPU) SetISAOptions(opts uint64) {
	c.invalidator.OnISAOptionChange(opts)
}

type memoryReaderAdapter struct{ mem Memory }

func (a memoryReaderAdapter) ReadInstructionBytes(pc uint32, n int) ([]byte, bool) {
	b, f := a.mem.Read(pc, n)
	return b, f == nil
}

func decodeFuncFrom(d Decoder) func([]byte, uint32, uint64) dcode.Dcode {
	return func(word []byte, pc uint32, isaOptions uint64) dcode.Dcode {
		view, ok := d.Decode(word, pc, isaOptions)
		if !ok || view.Illegal {
			return dcode.Dcode{Kind: dcode.KindIllegal, LengthBytes: 4}
		}
		return dcode.Dcode{
			Kind:          dcode.Kind(view.OpcodeKind),
			Operands:      convertOperands(view.Operands),
			ReadsPC:       view.ReadsPC,
			WritesPC:      view.WritesPC,
			IsBranch:      view.IsBranch,
			IsDelaySlot:   view.IsDelaySlot,
			IsMemoryOp:    view.IsMemoryOp,
			HasLongImm:    view.HasLongImm,
			LengthBytes:   view.LengthBytes,
			DispatchIndex: view.DispatchIndex,
			EIAHandle:     view.EIAHandle,
		}
	}
}

func convertOperands(in [3]Operand) [3]dcode.Operand {
	var out [3]dcode.Operand
	for i, o := range in {
		out[i] = dcode.Operand{Kind: dcode.OperandKind(o.Kind), Value: o.Value}
	}
	return out
}

func viewFromDcode(d dcode.Dcode) DcodeView {
	var ops [3]Operand
	for i, o := range d.Operands {
		ops[i] = Operand{Kind: OperandKind(o.Kind), Value: o.Value}
	}
	return DcodeView{
		OpcodeKind:    uint16(d.Kind),
		Operands:      ops,
		ReadsPC:       d.ReadsPC,
		WritesPC:      d.WritesPC,
		IsBranch:      d.IsBranch,
		IsDelaySlot:   d.IsDelaySlot,
		IsMemoryOp:    d.IsMemoryOp,
		HasLongImm:    d.HasLongImm,
		LengthBytes:   d.LengthBytes,
		DispatchIndex: d.DispatchIndex,
		EIAHandle:     d.EIAHandle,
		Illegal:       d.Illegal(),
	}
}

type instructionExecutorAdapter struct {
	exec InstructionExecutor
	cpu  *CPU
}

func (a instructionExecutorAdapter) Execute(cpuState interface{}, d dcode.Dcode, pc uint32) (uint32, bool) {
	next, fault := a.exec.Execute(cpuState, viewFromDcode(d), pc)
	if fault != nil {
		f := *fault
		a.cpu.lastFault.Store(&f)
		return next, true
	}
	return next, false
}
