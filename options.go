// options.go - toolkit-agnostic simulator configuration

package arcsim

import (
	"fmt"
	"log/slog"

	"github.com/arcsim/arcsim/internal/dcode"
	"github.com/arcsim/arcsim/internal/profile"
)

// Options configures a simulator instance created by CreateContext.
// CreateContext itself stays toolkit-agnostic: it accepts a pre-populated
// Options value, the way bassosimone-risc32's toolkit-agnostic vm.VM is
// driven by a plain-flag-parsed main rather than parsing flags itself.
// cmd/arcsimctl is the one place that builds one of these from argv.
type Options struct {
	// Debug calls DebugOn on every new CPU: a global
	// BeginInstructionExecution subscriber logs each interpreted
	// instruction at Debug level.
	Debug bool
	// Fast disables cycle-accurate pipeline modeling even if a
	// PipelineModel was supplied.
	Fast bool
	// Cosim runs alongside an external reference model; out of scope for
	// this module beyond the toggle itself (spec.md Non-goals).
	Cosim bool
	// CycleAccurate consults the embedder's PipelineModel once per
	// retired instruction.
	CycleAccurate bool
	// Trace lowers the default logger's level to Debug. The dispatcher
	// itself logs nothing per instruction; per-instruction records come
	// only from the Debug subscriber.
	Trace bool
	// Verbose raises the logger's baseline level to Info.
	Verbose bool
	// EmulateTraps is carried in Options but not consulted by any
	// component: a guest fault always stops the dispatcher and is
	// reported through CPU.LastFault.
	EmulateTraps bool

	// Workers is the translation worker pool size; CreateContext replaces
	// zero with the default of 4.
	Workers int
	// QueueDepth bounds the translation work queue.
	QueueDepth int
	// PageSize is the PhysicalProfile's page size in bytes; must be a
	// power of two.
	PageSize uint32
	// HotThreshold is the per-block execution count that triggers
	// compilation interest (spec.md S4.2).
	HotThreshold uint64
	// PageTranslateThreshold is the cumulative hot-block count on a page
	// that triggers forming a TranslationWorkUnit (spec.md S4.2).
	PageTranslateThreshold uint64
	// DcodeCacheSlots sizes the direct-mapped DcodeCache (spec.md S3,
	// default 8192).
	DcodeCacheSlots int

	// Toolchain names the external compiler binary the translation
	// worker pool invokes (SPEC_FULL.md S14).
	Toolchain string
	// PluginLoader selects the production Loader that opens compiled
	// artifacts with plugin.Open (SPEC_FULL.md S14). False uses the
	// no-op fake loader, for environments with no real toolchain.
	PluginLoader bool

	// Logger receives structured diagnostics from every component. A nil
	// Logger defaults to one backed by internal/obslog writing to
	// stderr (SPEC_FULL.md S9).
	Logger *slog.Logger
}

// DefaultOptions returns the Options CreateContext uses when none is
// supplied.
func DefaultOptions() Options {
	return Options{
		Workers:                4,
		QueueDepth:             64,
		PageSize:               profile.DefaultPageSize,
		HotThreshold:           profile.DefaultHotThreshold,
		PageTranslateThreshold: profile.DefaultPageTranslateThreshold,
		DcodeCacheSlots:        dcode.DefaultSlots,
		Toolchain:              "arcsim-cc",
	}
}

// validate reports ErrInvalidOption for a setting that cannot be honored
// (spec.md S7: InvalidOption).
func (o Options) validate() error {
	if o.PageSize != 0 && (o.PageSize&(o.PageSize-1)) != 0 {
		return fmt.Errorf("%w: page size %d is not a power of two", ErrInvalidOption, o.PageSize)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalidOption)
	}
	if o.QueueDepth < 0 {
		return fmt.Errorf("%w: queue depth must be >= 0", ErrInvalidOption)
	}
	return nil
}
