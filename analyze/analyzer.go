// Package analyze explains a divergence found by the localizer. It
// re-derives the culprit instruction and its memory operands from raw
// simulated memory and correlates them with the trap state.
package analyze

import (
	"fmt"

	"github.com/apex/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/sarchlab/rvdiag/insts"
	"github.com/sarchlab/rvdiag/localize"
	"github.com/sarchlab/rvdiag/mmu"
	"github.com/sarchlab/rvdiag/sim"
	"github.com/sarchlab/rvdiag/trace"
)

// DefaultDecodeCacheSize is the number of decoded instructions kept.
const DefaultDecodeCacheSize = 4096

// Input is everything the analyzer looks at.
type Input struct {
	// Memory is the simulator's physical memory.
	Memory mmu.PhysReader

	CSRs       sim.CSRSnapshot
	Trace      []trace.Entry     // Rolling single-step trace
	Committed  []sim.Committed   // Simulator's committed-instruction trace
	Divergence *trace.Divergence // Nil when no sentinel fired
	Regs       [32]uint64        // Register state at the end of the search
	Stats      sim.Stats
	Privilege  sim.Privilege
}

// InputFrom builds an Input from a localization result, reading the CSRs,
// committed trace and registers from the stepped simulator.
func InputFrom(res *localize.Result) Input {
	s := res.Simulator
	snap := sim.Capture(s)

	return Input{
		Memory:     s,
		CSRs:       sim.CaptureCSRs(s),
		Trace:      res.Trace,
		Committed:  s.RecentCommitted(),
		Divergence: res.Divergence,
		Regs:       snap.Regs,
		Stats:      s.Stats(),
		Privilege:  snap.Privilege,
	}
}

// Symbolizer names code addresses, e.g. from an ELF symbol table.
type Symbolizer interface {
	Symbolize(addr uint64) (string, bool)
}

// Analyzer builds crash reports.
type Analyzer struct {
	decoder *insts.Decoder
	cache   *lru.Cache
	ranges  trace.Ranges
	logger  log.Interface
	symbols Symbolizer

	cacheSize int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithValidRanges sets the PC ranges used to find the culprit.
func WithValidRanges(ranges trace.Ranges) Option {
	return func(a *Analyzer) {
		a.ranges = ranges
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Interface) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithSymbolizer annotates trace and culprit PCs with symbol names.
func WithSymbolizer(s Symbolizer) Option {
	return func(a *Analyzer) {
		a.symbols = s
	}
}

// WithDecodeCacheSize sets how many decoded instructions are cached.
func WithDecodeCacheSize(n int) Option {
	return func(a *Analyzer) {
		a.cacheSize = n
	}
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(opts ...Option) (*Analyzer, error) {
	a := &Analyzer{
		decoder:   insts.NewDecoder(),
		ranges:    trace.DefaultValidRanges(),
		logger:    log.Log,
		cacheSize: DefaultDecodeCacheSize,
	}

	for _, opt := range opts {
		opt(a)
	}

	cache, err := lru.New(a.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decode cache: %w", err)
	}
	a.cache = cache

	return a, nil
}

type decodeKey struct {
	raw uint32
	pc  uint64
}

// decode decodes raw at pc through the cache.
func (a *Analyzer) decode(raw uint32, pc uint64) *insts.Instruction {
	if insts.Length(uint16(raw)) == 2 {
		raw &= 0xFFFF
	}

	key := decodeKey{raw: raw, pc: pc}
	if v, ok := a.cache.Get(key); ok {
		return v.(*insts.Instruction)
	}

	inst := a.decoder.Decode(raw, pc)
	a.cache.Add(key, inst)
	return inst
}

// symbol returns the name of pc, or "" without a symbolizer or match.
func (a *Analyzer) symbol(pc uint64) string {
	if a.symbols == nil {
		return ""
	}
	name, _ := a.symbols.Symbolize(pc)
	return name
}

// Report is the result of an analysis.
type Report struct {
	Divergence *trace.Divergence
	Stats      sim.Stats
	Privilege  sim.Privilege

	SCause *Cause
	MCause *Cause
	CSRs   []CSRLine

	Committed []CommittedLine
	Culprit   *Culprit
	Fault     *FaultSite
	Stval     *AddressProbe
	Listing   []ListingLine

	Regs [32]uint64
}

// Analyze builds a report. Failures to translate or read memory are
// recorded in the report rather than aborting it.
func (a *Analyzer) Analyze(in Input) *Report {
	r := &Report{
		Divergence: in.Divergence,
		Stats:      in.Stats,
		Privilege:  in.Privilege,
		CSRs:       csrTable(in.CSRs),
		Regs:       in.Regs,
	}

	if v, ok := in.CSRs.Get("scause"); ok {
		c := DecodeCause(v)
		r.SCause = &c
	}
	if v, ok := in.CSRs.Get("mcause"); ok {
		c := DecodeCause(v)
		r.MCause = &c
	}

	satp := mmu.Satp(in.CSRs.Value("satp"))

	r.Committed = a.committedLines(in.Committed)
	r.Culprit = a.findCulprit(in, satp)
	r.Fault = a.inspectFaultSite(in, satp, r.SCause)
	r.Stval = a.probeStval(in, satp)
	r.Listing = a.listing(in, satp)

	a.logger.WithFields(log.Fields{
		"committed": len(r.Committed),
		"listing":   len(r.Listing),
		"culprit":   r.Culprit != nil,
	}).Debug("analysis done")

	return r
}

// AddressProbe is a virtual address translated and read through the page
// tables.
type AddressProbe struct {
	VA          uint64
	Translation mmu.Translation
	Value       uint64 // Double-word at the translated address
	Err         error  // Translation failure
	ReadErr     error  // Read failure after a successful translation
}

// String renders the probe, or "cannot translate: <reason>".
func (p *AddressProbe) String() string {
	if p.Err != nil {
		return "cannot translate: " + p.Err.Error()
	}
	if p.ReadErr != nil {
		return fmt.Sprintf("PA=0x%x, cannot read: %v", p.Translation.PA, p.ReadErr)
	}
	return fmt.Sprintf("PA=0x%x, value=0x%016x [%s]", p.Translation.PA, p.Value, p.Translation)
}

func probe(mem mmu.PhysReader, va uint64, satp mmu.Satp) *AddressProbe {
	p := &AddressProbe{VA: va}

	p.Translation, p.Err = mmu.Resolve(mem, va, satp)
	if p.Err != nil {
		return p
	}

	p.Value, p.ReadErr = mem.ReadPhysical64(p.Translation.PA)
	return p
}

func (a *Analyzer) probeStval(in Input, satp mmu.Satp) *AddressProbe {
	stval := in.CSRs.Value("stval")
	if stval == 0 {
		return nil
	}
	return probe(in.Memory, stval, satp)
}
