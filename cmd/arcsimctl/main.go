// main.go - arcsimctl command-line front end

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"
	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/arcsim/arcsim"
	"github.com/arcsim/arcsim/internal/obslog"
)

func main() {
	optDebug := getopt.BoolLong("debug", 'd', "Log every interpreted instruction through a BeginInstructionExecution subscriber")
	optFast := getopt.BoolLong("fast", 'f', "Disable cycle-accurate pipeline modeling")
	optCosim := getopt.BoolLong("cosim", 0, "Run alongside an external reference model")
	optCycleAccurate := getopt.BoolLong("cycle-accurate", 0, "Consult the pipeline model on every retired instruction")
	optTrace := getopt.BoolLong("trace", 0, "Lower the log level to debug")
	optVerbose := getopt.BoolLong("verbose", 'v', "Raise the log level to info")
	optEmulateTraps := getopt.BoolLong("emulate-traps", 0, "Record the emulate-traps toggle (guest faults still stop dispatch)")
	optInteractive := getopt.BoolLong("interactive", 'i', "Start the interactive monitor instead of free-running")
	optHelp := getopt.BoolLong("help", 'h', "Help")

	optWorkers := getopt.IntLong("workers", 0, 4, "Translation worker pool size")
	optQueueDepth := getopt.IntLong("queue-depth", 0, 64, "Translation work queue depth")
	optPageSize := getopt.IntLong("page-size", 0, int(arcsimDefaultPageSize()), "PhysicalProfile page size in bytes")
	optHotThreshold := getopt.IntLong("hot-threshold", 0, int(arcsimDefaultHotThreshold()), "Per-block execution count that triggers compilation interest")
	optPageTranslateThreshold := getopt.IntLong("page-translate-threshold", 0, int(arcsimDefaultPageTranslateThreshold()), "Cumulative hot-block count that forms a translation unit")
	optToolchain := getopt.StringLong("toolchain", 0, "arcsim-cc", "External compiler binary invoked by the translation worker pool")
	optPluginLoader := getopt.BoolLong("plugin-loader", 0, "Load compiled artifacts via plugin.Open instead of the no-op fake loader")
	optMemoryModel := getopt.StringLong("memory-model", 0, "flat", "Guest memory model identifier (embedder-interpreted)")
	optLoadAddress := getopt.StringLong("load-address", 0, "0x0", "Address raw binary images load at")

	getopt.Parse()
	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	args := getopt.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "arcsimctl: no guest image specified")
		os.Exit(1)
	}

	opts := arcsim.DefaultOptions()
	opts.Debug = *optDebug
	opts.Fast = *optFast
	opts.Cosim = *optCosim
	opts.CycleAccurate = *optCycleAccurate
	opts.Trace = *optTrace
	opts.Verbose = *optVerbose
	opts.EmulateTraps = *optEmulateTraps
	opts.Workers = *optWorkers
	opts.QueueDepth = *optQueueDepth
	opts.PageSize = uint32(*optPageSize)
	opts.HotThreshold = uint64(*optHotThreshold)
	opts.PageTranslateThreshold = uint64(*optPageTranslateThreshold)
	opts.Toolchain = *optToolchain
	opts.PluginLoader = *optPluginLoader

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelInfo
	}
	if opts.Trace {
		level = slog.LevelDebug
	}
	// obslog.Handler mirrors records at or above its threshold to stderr;
	// with a discarding sink that threshold is the log level.
	opts.Logger = slog.New(obslog.New(io.Discard, level))

	loadAddr, err := arcsim.ParseAddress(*optLoadAddress)
	if err != nil {
		opts.Logger.Error("invalid load address", "error", err)
		os.Exit(1)
	}

	_ = *optMemoryModel // embedder-interpreted; arcsim itself is memory-model-agnostic

	engine, err := arcsim.CreateContext(opts)
	if err != nil {
		opts.Logger.Error("failed to create simulator context", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	mem := newFlatMemory(1 << 24)
	if err := loadGuestImage(args[0], mem, loadAddr); err != nil {
		opts.Logger.Error("failed to load guest image", "error", err)
		os.Exit(1)
	}

	cpu := engine.CPU("cpu0", mem, referenceDecoder{}, referenceExecutor{mem: mem}, nil)
	if opts.Debug {
		cpu.DebugOn()
	}

	if *optInteractive {
		runInteractive(engine, cpu, loadAddr)
		return
	}

	final := cpu.Run(nil, loadAddr)
	opts.Logger.Info("run stopped", "pc", final)
}

func runInteractive(engine *arcsim.Engine, cpu *arcsim.CPU, pc uint32) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	isTTY := term.IsTerminal(int(os.Stdin.Fd()))
	for {
		prompt := "arcsim> "
		if !isTTY {
			prompt = ""
		}
		input, err := line.Prompt(prompt)
		if err != nil {
			return
		}
		line.AppendHistory(input)

		switch input {
		case "step", "s":
			next, stop := cpu.Step(nil, pc)
			pc = next
			fmt.Printf("pc=%#x stop=%v\n", pc, stop)
		case "run", "r":
			pc = cpu.Run(nil, pc)
			fmt.Printf("stopped at pc=%#x\n", pc)
		case "snapshot", "i":
			snap := cpu.Snapshot(pc)
			fmt.Printf("%+v\n", snap)
		case "backtrace", "bt":
			for _, e := range cpu.Backtrace() {
				fmt.Printf("  pc=%#x dispatch=%d\n", e.PC, e.DispatchIndex)
			}
		case "quit", "q":
			return
		default:
			fmt.Println("commands: step|s, run|r, snapshot|i, backtrace|bt, quit|q")
		}
	}
}

func arcsimDefaultPageSize() uint32             { return arcsim.DefaultOptions().PageSize }
func arcsimDefaultHotThreshold() uint64         { return arcsim.DefaultOptions().HotThreshold }
func arcsimDefaultPageTranslateThreshold() uint64 { return arcsim.DefaultOptions().PageTranslateThreshold }
