// Package main provides the entry point for rvdiag.
// rvdiag runs a RISC-V program on the reference machine, finds the cycle at
// which execution leaves the valid address ranges and reports the
// instruction responsible.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"

	"github.com/sarchlab/rvdiag/analyze"
	"github.com/sarchlab/rvdiag/loader"
	"github.com/sarchlab/rvdiag/localize"
	"github.com/sarchlab/rvdiag/timing/bpred"
	"github.com/sarchlab/rvdiag/timing/cache"
	"github.com/sarchlab/rvdiag/timing/latency"
)

// Exit statuses.
const (
	exitFound    = 0
	exitError    = 1
	exitNotFound = 2
)

// options holds the parsed command line.
type options struct {
	configPath       string
	timingConfigPath string
	dumpConfigPath   string
	outputPath       string

	fastForward uint64
	chunk       uint64
	margin      uint64
	maxSteps    uint64
	depth       int
	poisonReg   string
	poisonValue uint64

	dcache       bool
	bpred        bool
	crossPageBug bool
	guestOutput  bool
	verbose      bool

	set     map[string]bool
	program string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: map[string]bool{}}

	fs := flag.NewFlagSet("rvdiag", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to localizer configuration file (JSON or YAML)")
	fs.StringVar(&o.timingConfigPath, "timing-config", "", "Path to timing configuration JSON file")
	fs.StringVar(&o.dumpConfigPath, "dump-config", "", "Write the effective localizer configuration to this file and exit")
	fs.StringVar(&o.outputPath, "o", "", "Write the report to this file (zstd-compressed if it ends in .zst)")
	fs.Uint64Var(&o.fastForward, "ff", 0, "Cycles to run before the chunked search")
	fs.Uint64Var(&o.chunk, "chunk", 0, "Cycles per search chunk")
	fs.Uint64Var(&o.margin, "margin", 0, "Cycles replayed ahead of the bracket before single-stepping")
	fs.Uint64Var(&o.maxSteps, "max-steps", 0, "Single-step budget (0: chunk + 2*margin)")
	fs.IntVar(&o.depth, "depth", 0, "Single steps kept for the report")
	fs.StringVar(&o.poisonReg, "poison-reg", "", "Register to watch for -poison-value")
	fs.Uint64Var(&o.poisonValue, "poison-value", 0, "Known-bad register value")
	fs.BoolVar(&o.dcache, "dcache", false, "Model an L1 data cache")
	fs.BoolVar(&o.bpred, "bpred", false, "Model a bimodal branch predictor")
	fs.BoolVar(&o.crossPageBug, "inject-crosspage-bug", false, "Fetch the upper half of page-straddling instructions from the next physical address")
	fs.BoolVar(&o.guestOutput, "guest-output", false, "Forward guest stdout and stderr to stderr")
	fs.BoolVar(&o.verbose, "v", false, "Verbose output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: rvdiag [options] <program.elf>\n")
		fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	if o.dumpConfigPath == "" {
		if fs.NArg() < 1 {
			fs.Usage()
			return nil, fmt.Errorf("missing program path")
		}
		o.program = fs.Arg(0)
	}

	return o, nil
}

// localizerConfig loads the configuration file, if any, and applies the
// flags given on the command line.
func (o *options) localizerConfig() (*localize.Config, error) {
	config := localize.DefaultConfig()
	if o.configPath != "" {
		var err error
		config, err = localize.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
	}

	if o.set["ff"] {
		config.FastForward = o.fastForward
	}
	if o.set["chunk"] {
		config.Chunk = o.chunk
	}
	if o.set["margin"] {
		config.Margin = o.margin
	}
	if o.set["max-steps"] {
		config.MaxSteps = o.maxSteps
	}
	if o.set["depth"] {
		config.TraceDepth = o.depth
	}
	if o.set["poison-reg"] {
		config.PoisonReg = o.poisonReg
	}
	if o.set["poison-value"] {
		config.PoisonValue = o.poisonValue
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid localizer config: %w", err)
	}
	return config, nil
}

func (o *options) timingConfig() (*latency.TimingConfig, error) {
	if o.timingConfigPath == "" {
		return latency.DefaultTimingConfig(), nil
	}

	config, err := latency.LoadConfig(o.timingConfigPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timing config: %w", err)
	}
	return config, nil
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return &log.Logger{Handler: cli.New(w), Level: level}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitFound
	}
	if err != nil {
		return exitError
	}

	logger := newLogger(stderr, opts.verbose)

	config, err := opts.localizerConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if opts.dumpConfigPath != "" {
		if err := config.SaveConfig(opts.dumpConfigPath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		return exitFound
	}

	timing, err := opts.timingConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading timing config: %v\n", err)
		return exitError
	}

	prog, err := loader.Load(opts.program)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading program: %v\n", err)
		return exitError
	}

	logger.WithFields(log.Fields{
		"program":  opts.program,
		"entry":    fmt.Sprintf("0x%x", prog.EntryPoint),
		"segments": len(prog.Segments),
		"symbols":  len(prog.Symbols),
	}).Debug("program loaded")

	mc := machineConfig{
		timing:       timing,
		crossPageBug: opts.crossPageBug,
		committed:    config.TraceDepth,
		logger:       logger,
	}
	if opts.dcache {
		dc := cache.DefaultL1DConfig()
		mc.dcache = &dc
	}
	if opts.bpred {
		bc := bpred.DefaultConfig()
		mc.bpred = &bc
	}
	if opts.guestOutput {
		mc.guestOutput = stderr
	}

	l, err := localize.NewLocalizer(newFactory(prog, mc), config, localize.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	res, err := l.Localize()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if res != nil && res.Simulator != nil {
			if err := writeReport(res, config, prog, opts.outputPath, stdout, logger); err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
			}
		}
		return exitError
	}

	if res.Simulator == nil {
		fmt.Fprintf(stderr, "Run did not terminate within %d chunks of %d cycles\n",
			res.Bracket.Chunks, config.Chunk)
		return exitNotFound
	}

	if err := writeReport(res, config, prog, opts.outputPath, stdout, logger); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if res.Outcome != localize.OutcomeFound {
		return exitNotFound
	}
	return exitFound
}

func writeReport(res *localize.Result, config *localize.Config, prog *loader.Program,
	path string, stdout io.Writer, logger log.Interface) error {
	a, err := analyze.NewAnalyzer(
		analyze.WithValidRanges(config.ValidRanges),
		analyze.WithLogger(logger),
		analyze.WithSymbolizer(prog),
	)
	if err != nil {
		return err
	}
	rep := a.Analyze(analyze.InputFrom(res))

	if path == "" {
		return analyze.Render(stdout, rep)
	}

	out, err := openOutput(path)
	if err != nil {
		return err
	}

	if err := analyze.Render(out, rep); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
