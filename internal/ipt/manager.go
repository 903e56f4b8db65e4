// manager.go - instrumentation point (IPT) subscriber registries

// Package ipt implements the three instrumentation-point families of
// spec.md S4.5: AboutToExecuteInstruction (per-PC), BeginInstructionExecution
// (global), and BeginBasicBlock (global). It is grounded on
// IntuitionEngine's debug_interface.go / debug_conditions.go breakpoint and
// watchpoint design, generalized from "one breakpoint address with one
// channel" to "N named instrumentation-point families with ordered
// subscriber lists".
package ipt

import (
	"errors"
	"sync"
)

// ErrDuplicateSubscriber is returned when the same (pc, callback) pair is
// registered twice for AboutToExecuteInstruction (spec.md S4.5, S8 #3).
var ErrDuplicateSubscriber = errors.New("ipt: subscriber already registered")

// ErrNotRegistered is returned by a removal call that finds nothing to
// remove (spec.md S4.5, S8 #5).
var ErrNotRegistered = errors.New("ipt: subscriber not registered")

// AboutToExecuteFunc returns true ("consume") to cause the dispatcher to
// skip the instruction (PC still advances) without updating guest state,
// or false ("non-consume") to proceed with interpretation (spec.md S4.4).
type AboutToExecuteFunc func(pc uint32) (demand bool)

// BeginInstructionFunc observes the start of interpretation of one
// instruction.
type BeginInstructionFunc func(pc uint32, length uint8)

// BeginBlockFunc observes the start of a new basic block.
type BeginBlockFunc func(pc uint32)

type aboutToExecuteSub struct {
	cb     AboutToExecuteFunc
	opaque interface{}
}

// DoNotCompileHook is called when a PC transitions into or out of "do not
// compile" state so the caller (normally the Invalidator) can retire any
// published native entry covering it (spec.md S4.5).
type DoNotCompileHook func(pc uint32, active bool)

// GlobalInvalidateHook is called every time a subscriber is inserted into a
// global family (BeginBasicBlock or BeginInstructionExecution), demanding
// invalidation of all native code (spec.md S4.5). Removals do not call it.
type GlobalInvalidateHook func()

// Manager owns the three subscriber registries and the deferred-mutation
// queue that lets a callback safely insert/remove while it is itself being
// dispatched to (spec.md S4.5, S5).
type Manager struct {
	mu sync.Mutex

	aboutToExecute map[uint32][]aboutToExecuteSub
	beginInstr     []BeginInstructionFunc
	beginBlock     []BeginBlockFunc

	onDoNotCompile      DoNotCompileHook
	onGlobalInvalidate  GlobalInvalidateHook

	// pending holds mutations requested while a dispatch is in flight;
	// Drain applies them at the next block boundary (spec.md S4.5, S5).
	pending []func(*Manager)
}

// New creates an empty Manager. hooks may be nil.
func New(onDoNotCompile DoNotCompileHook, onGlobalInvalidate GlobalInvalidateHook) *Manager {
	return &Manager{
		aboutToExecute:     make(map[uint32][]aboutToExecuteSub),
		onDoNotCompile:     onDoNotCompile,
		onGlobalInvalidate: onGlobalInvalidate,
	}
}

// Defer enqueues fn to run at the next Drain call instead of immediately.
// Drain releases the Manager's lock before running fn, so fn may call
// Insert/Remove itself. Callbacks that want to mutate subscriber state
// while they are being invoked must use this instead of calling
// Insert/Remove directly (spec.md S4.5's re-entrant mutation rule).
func (m *Manager) Defer(fn func(*Manager)) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// Drain applies every deferred mutation queued since the last Drain. The
// dispatcher calls this once per block boundary (spec.md S4.5, S5).
func (m *Manager) Drain() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range pending {
		fn(m)
	}
}

// InsertAboutToExecute registers cb at pc. It fails with
// ErrDuplicateSubscriber if (pc, cb) is already registered (functions are
// compared by pointer identity via reflect, the only way to compare Go
// func values for this purpose).
func (m *Manager) InsertAboutToExecute(pc uint32, cb AboutToExecuteFunc, opaque interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.aboutToExecute[pc]
	for _, s := range subs {
		if funcsEqual(s.cb, cb) {
			return ErrDuplicateSubscriber
		}
	}
	first := len(subs) == 0
	m.aboutToExecute[pc] = append(subs, aboutToExecuteSub{cb: cb, opaque: opaque})
	if first && m.onDoNotCompile != nil {
		m.onDoNotCompile(pc, true)
	}
	return nil
}

// RemoveAboutToExecuteSubscriber removes the single subscriber matching
// (pc, cb). It fails with ErrNotRegistered if absent.
func (m *Manager) RemoveAboutToExecuteSubscriber(pc uint32, cb AboutToExecuteFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.aboutToExecute[pc]
	for i, s := range subs {
		if funcsEqual(s.cb, cb) {
			subs = append(subs[:i], subs[i+1:]...)
			if len(subs) == 0 {
				delete(m.aboutToExecute, pc)
				if m.onDoNotCompile != nil {
					m.onDoNotCompile(pc, false)
				}
			} else {
				m.aboutToExecute[pc] = subs
			}
			return nil
		}
	}
	return ErrNotRegistered
}

// RemoveAboutToExecute removes every subscriber at pc. It fails with
// ErrNotRegistered if none are registered.
func (m *Manager) RemoveAboutToExecute(pc uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.aboutToExecute[pc]; !ok {
		return ErrNotRegistered
	}
	delete(m.aboutToExecute, pc)
	if m.onDoNotCompile != nil {
		m.onDoNotCompile(pc, false)
	}
	return nil
}

// AboutToExecuteSubscribers returns a snapshot of the callbacks registered
// at pc, in registration order. The slice is freshly allocated so the
// caller may iterate it without holding any lock.
func (m *Manager) AboutToExecuteSubscribers(pc uint32) []AboutToExecuteFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.aboutToExecute[pc]
	if len(subs) == 0 {
		return nil
	}
	out := make([]AboutToExecuteFunc, len(subs))
	for i, s := range subs {
		out[i] = s.cb
	}
	return out
}

// HasAboutToExecute reports whether pc currently has any subscriber
// (spec.md S4.5's do-not-compile invariant).
func (m *Manager) HasAboutToExecute(pc uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.aboutToExecute[pc]) > 0
}

// InsertBeginInstructionExecution appends cb to the global list and
// demands invalidation of all native code.
func (m *Manager) InsertBeginInstructionExecution(cb BeginInstructionFunc) {
	m.mu.Lock()
	m.beginInstr = append(m.beginInstr, cb)
	m.mu.Unlock()
	if m.onGlobalInvalidate != nil {
		m.onGlobalInvalidate()
	}
}

// RemoveBeginInstructionExecutionSubscriber removes the first occurrence of
// cb. It fails with ErrNotRegistered if absent.
func (m *Manager) RemoveBeginInstructionExecutionSubscriber(cb BeginInstructionFunc) error {
	m.mu.Lock()
	for i, s := range m.beginInstr {
		if funcsEqual(s, cb) {
			m.beginInstr = append(m.beginInstr[:i], m.beginInstr[i+1:]...)
			m.mu.Unlock()
			return nil
		}
	}
	m.mu.Unlock()
	return ErrNotRegistered
}

// BeginInstructionSubscribers returns a snapshot of the global
// BeginInstructionExecution list.
func (m *Manager) BeginInstructionSubscribers() []BeginInstructionFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BeginInstructionFunc, len(m.beginInstr))
	copy(out, m.beginInstr)
	return out
}

// InsertBeginBasicBlock appends cb to the global list and demands
// invalidation of all native code.
func (m *Manager) InsertBeginBasicBlock(cb BeginBlockFunc) {
	m.mu.Lock()
	m.beginBlock = append(m.beginBlock, cb)
	m.mu.Unlock()
	if m.onGlobalInvalidate != nil {
		m.onGlobalInvalidate()
	}
}

// RemoveBeginBasicBlockSubscriber removes the first occurrence of cb. It
// fails with ErrNotRegistered if absent. Per spec.md S8 #6, removing a
// subscriber while its callback is currently executing must not affect
// the in-flight call: BeginBlockSubscribers snapshots the slice before
// iterating, so a removal only takes effect from the next block onward.
func (m *Manager) RemoveBeginBasicBlockSubscriber(cb BeginBlockFunc) error {
	m.mu.Lock()
	for i, s := range m.beginBlock {
		if funcsEqual(s, cb) {
			m.beginBlock = append(m.beginBlock[:i], m.beginBlock[i+1:]...)
			m.mu.Unlock()
			return nil
		}
	}
	m.mu.Unlock()
	return ErrNotRegistered
}

// BeginBlockSubscribers returns a snapshot of the global BeginBasicBlock
// list.
func (m *Manager) BeginBlockSubscribers() []BeginBlockFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BeginBlockFunc, len(m.beginBlock))
	copy(out, m.beginBlock)
	return out
}
