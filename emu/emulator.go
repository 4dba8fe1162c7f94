package emu

import (
	"fmt"
	"io"
	"os"

	"github.com/apex/log"

	"github.com/sarchlab/rvdiag/insts"
	"github.com/sarchlab/rvdiag/mmu"
	"github.com/sarchlab/rvdiag/sim"
	"github.com/sarchlab/rvdiag/timing/bpred"
	"github.com/sarchlab/rvdiag/timing/cache"
	"github.com/sarchlab/rvdiag/timing/latency"
	"github.com/sarchlab/rvdiag/trace"
)

// DefaultCommittedDepth is the number of committed instructions kept.
const DefaultCommittedDepth = 32

// StepResult represents the result of committing a single instruction.
type StepResult struct {
	// Exited is true if the program terminated.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Trap is set if the instruction raised an exception.
	Trap *Trap
}

// inflight is the instruction occupying the core until it commits.
type inflight struct {
	pc        uint64
	inst      *insts.Instruction
	fault     *Exception // Fetch fault, raised at commit
	remaining uint64
}

// Emulator is a single-hart RV64IMAC machine. Each instruction occupies
// the core for its latency in cycles and changes architectural state when
// it commits, so PC() reports the instruction in flight.
type Emulator struct {
	regFile *RegFile
	csr     *CSRFile
	memory  *Memory
	decoder *insts.Decoder
	priv    sim.Privilege

	alu            *ALU
	lsu            *LoadStoreUnit
	branchUnit     *BranchUnit
	syscallHandler SyscallHandler

	latency *latency.Table
	dcache  *cache.Cache
	bpred   *bpred.Predictor

	committed *trace.Ring[sim.Committed]
	current   *inflight

	stdout io.Writer
	stderr io.Writer
	logger log.Interface

	crossPageBug bool

	cycle    uint64
	instret  uint64
	traps    uint64
	exited   bool
	exitCode int64
	lastTrap *Trap
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithMemory sets the physical memory.
func WithMemory(m *Memory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = m
	}
}

// WithLatencyTable sets the instruction latencies.
func WithLatencyTable(t *latency.Table) EmulatorOption {
	return func(e *Emulator) {
		e.latency = t
	}
}

// WithDataCache models an L1 data cache. Loads, stores and atomics then
// take the cache's hit or miss latency.
func WithDataCache(c *cache.Cache) EmulatorOption {
	return func(e *Emulator) {
		e.dcache = c
	}
}

// WithBranchPredictor charges the taken-branch penalty only when p
// mispredicts a control transfer. Without a predictor every taken
// transfer pays it.
func WithBranchPredictor(p *bpred.Predictor) EmulatorOption {
	return func(e *Emulator) {
		e.bpred = p
	}
}

// WithCommittedDepth sets how many committed instructions are kept.
func WithCommittedDepth(n int) EmulatorOption {
	return func(e *Emulator) {
		e.committed = trace.NewRing[sim.Committed](n)
	}
}

// WithPrivilege sets the privilege the machine starts in. Default: M.
func WithPrivilege(p sim.Privilege) EmulatorOption {
	return func(e *Emulator) {
		e.priv = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Interface) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithCrossPageFetchBug injects an instruction-fetch defect: the upper
// half of a 4-byte instruction that straddles a page boundary is read
// from the physically next address instead of the next virtual page.
func WithCrossPageFetchBug() EmulatorOption {
	return func(e *Emulator) {
		e.crossPageBug = true
	}
}

// NewEmulator creates a new machine in M-mode with PC 0.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile:   &RegFile{},
		decoder:   insts.NewDecoder(),
		priv:      sim.PrivMachine,
		latency:   latency.NewTable(),
		committed: trace.NewRing[sim.Committed](DefaultCommittedDepth),
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		logger:    log.Log,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.memory == nil {
		e.memory = NewMemory()
	}

	e.csr = newCSRFile(&e.cycle, &e.instret)
	e.alu = NewALU(e.regFile)
	e.lsu = NewLoadStoreUnit(e)
	e.branchUnit = NewBranchUnit(e.regFile)
	e.syscallHandler = NewDefaultSyscallHandler(e.regFile, e.lsu, e.stdout, e.stderr)

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's physical memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// LoadProgram writes program at entry and points the PC at it.
func (e *Emulator) LoadProgram(entry uint64, program []byte) error {
	if err := e.memory.WriteBytes(entry, program); err != nil {
		return fmt.Errorf("failed to load program at 0x%x: %w", entry, err)
	}
	e.SetPC(entry)
	return nil
}

// SetPC sets the address of the next instruction to fetch.
func (e *Emulator) SetPC(pc uint64) {
	e.regFile.PC = pc
	e.current = nil
}

// SetCSR writes a CSR by name, bypassing privilege checks.
func (e *Emulator) SetCSR(name string, v uint64) error {
	idx, ok := insts.CSRIndex(name)
	if !ok || !e.csr.Write(idx, v) {
		return fmt.Errorf("CSR %s is not writable", name)
	}
	return nil
}

// LastTrap returns the most recent trap, or nil.
func (e *Emulator) LastTrap() *Trap {
	return e.lastTrap
}

// Exited reports whether the run has terminated and with what code.
func (e *Emulator) Exited() (bool, int64) {
	return e.exited, e.exitCode
}

// Run advances up to limit cycles and stops early when the run
// terminates.
func (e *Emulator) Run(limit uint64) (sim.Exit, bool) {
	if e.exited {
		return sim.Exit{Code: e.exitCode}, true
	}

	for i := uint64(0); i < limit; i++ {
		if r, ok := e.tick(); ok {
			if r.Exited {
				return sim.Exit{Code: r.ExitCode}, true
			}
		}
	}

	return sim.Exit{}, false
}

// Step runs until the instruction in flight commits.
func (e *Emulator) Step() StepResult {
	for !e.exited {
		if r, ok := e.tick(); ok {
			return r
		}
	}
	return StepResult{Exited: true, ExitCode: e.exitCode}
}

// tick advances one cycle. The second result is true when an instruction
// committed or trapped in this cycle.
func (e *Emulator) tick() (StepResult, bool) {
	if e.current == nil {
		e.current = e.issue()
	}

	e.cycle++
	e.current.remaining--
	if e.current.remaining > 0 {
		return StepResult{}, false
	}

	in := e.current
	e.current = nil
	return e.commit(in), true
}

// issue fetches and decodes the instruction at PC and decides how many
// cycles it occupies.
func (e *Emulator) issue() *inflight {
	pc := e.regFile.PC
	in := &inflight{pc: pc, remaining: 1}

	word, ex := e.fetch(pc)
	if ex != nil {
		in.fault = ex
		return in
	}

	in.inst = e.decoder.Decode(word, pc)
	in.remaining = e.latencyOf(in.inst, pc)

	return in
}

// fetch reads the instruction at pc through address translation.
func (e *Emulator) fetch(pc uint64) (uint32, *Exception) {
	pa, ex := e.translate(pc, accessFetch)
	if ex != nil {
		return 0, ex
	}

	lo, err := e.memory.Read(pa, 2)
	if err != nil {
		return 0, &Exception{Cause: CauseInstAccess, Tval: pc}
	}
	if insts.Length(uint16(lo)) == 2 {
		return uint32(lo), nil
	}

	hiPA := pa + 2
	if mmu.NeedsCrossPage(pc) && !e.crossPageBug {
		hiPA, ex = e.translate(pc+2, accessFetch)
		if ex != nil {
			return 0, ex
		}
	}

	hi, err := e.memory.Read(hiPA, 2)
	if err != nil {
		return 0, &Exception{Cause: CauseInstAccess, Tval: pc + 2}
	}

	return uint32(hi)<<16 | uint32(lo), nil
}

// latencyOf returns the cycles inst occupies the core.
func (e *Emulator) latencyOf(inst *insts.Instruction, pc uint64) uint64 {
	lat := e.latency.GetLatency(inst)

	if inst.IsControlTransfer() && e.redirects(inst, pc) {
		lat += e.latency.TakenBranchPenalty()
	}

	if e.dcache != nil && e.latency.IsMemoryOp(inst) {
		store := e.latency.IsStoreOp(inst) || (inst.Class == insts.ClassAMO && inst.Op != insts.OpLR)
		acc := accessLoad
		if store {
			acc = accessStore
		}

		if pa, ex := e.translate(e.lsu.EffectiveAddress(inst), acc); ex == nil {
			lat = e.dcache.Access(pa, store).Latency
		}
	}

	if lat == 0 {
		lat = 1
	}
	return lat
}

// redirects reports whether the front end is redirected by the control
// transfer at pc. Operands cannot change before commit, so the outcome is
// known at issue.
func (e *Emulator) redirects(inst *insts.Instruction, pc uint64) bool {
	taken := inst.Class != insts.ClassBranch || e.branchUnit.Taken(inst)

	if e.bpred == nil {
		return taken
	}

	var target uint64
	if taken {
		target = e.branchUnit.Target(inst, pc)
	}
	return e.bpred.Resolve(pc, taken, target)
}

// commit executes the instruction in flight.
func (e *Emulator) commit(in *inflight) StepResult {
	var next uint64
	var exitResult SyscallResult

	ex := in.fault
	if ex == nil {
		next, exitResult, ex = e.execute(in.inst, in.pc)
	}

	if ex != nil {
		if !e.takeTrap(ex, in.pc) {
			e.exited = true
			e.exitCode = TrapExitCode
			return StepResult{Exited: true, ExitCode: e.exitCode, Trap: e.lastTrap}
		}
		return StepResult{Trap: e.lastTrap}
	}

	e.instret++
	e.committed.Push(sim.Committed{PC: in.pc, Raw: in.inst.Raw})
	e.regFile.PC = next

	if exitResult.Exited {
		e.exited = true
		e.exitCode = exitResult.ExitCode
		return StepResult{Exited: true, ExitCode: e.exitCode}
	}

	return StepResult{}
}

// execute applies inst and returns the next PC.
func (e *Emulator) execute(inst *insts.Instruction, pc uint64) (uint64, SyscallResult, *Exception) {
	next := pc + uint64(inst.Size)

	switch inst.Class {
	case insts.ClassOp, insts.ClassOp32, insts.ClassOpImm, insts.ClassOpImm32:
		if !e.alu.Execute(inst) {
			return 0, SyscallResult{}, illegal(inst.Raw)
		}
	case insts.ClassLUI:
		e.regFile.WriteReg(inst.Rd, uint64(inst.Imm))
	case insts.ClassAUIPC:
		e.regFile.WriteReg(inst.Rd, pc+uint64(inst.Imm))
	case insts.ClassJAL, insts.ClassJALR, insts.ClassBranch:
		next = e.branchUnit.Next(inst, pc)
	case insts.ClassLoad:
		if ex := e.lsu.Load(inst); ex != nil {
			return 0, SyscallResult{}, ex
		}
	case insts.ClassStore:
		if ex := e.lsu.Store(inst); ex != nil {
			return 0, SyscallResult{}, ex
		}
	case insts.ClassAMO:
		if ex := e.lsu.AMO(inst); ex != nil {
			return 0, SyscallResult{}, ex
		}
	case insts.ClassMiscMem:
		// Single hart with no instruction cache: fences are no-ops.
	case insts.ClassSystem:
		return e.executeSystem(inst, pc, next)
	default:
		return 0, SyscallResult{}, illegal(inst.Raw)
	}

	return next, SyscallResult{}, nil
}

func (e *Emulator) executeSystem(inst *insts.Instruction, pc, next uint64) (uint64, SyscallResult, *Exception) {
	switch inst.Op {
	case insts.OpECALL:
		cause := CauseEcallU + uint64(e.priv)
		if e.vectorFor(cause) != 0 {
			return 0, SyscallResult{}, &Exception{Cause: cause}
		}
		// No handler installed: serve it as a host syscall.
		return next, e.syscallHandler.Handle(), nil
	case insts.OpEBREAK:
		return 0, SyscallResult{}, &Exception{Cause: CauseBreakpoint, Tval: pc}
	case insts.OpWFI:
		return next, SyscallResult{}, nil
	case insts.OpSFENCEVMA:
		if e.priv < sim.PrivSupervisor {
			return 0, SyscallResult{}, illegal(inst.Raw)
		}
		return next, SyscallResult{}, nil
	case insts.OpSRET:
		if e.priv < sim.PrivSupervisor {
			return 0, SyscallResult{}, illegal(inst.Raw)
		}
		return e.sret(), SyscallResult{}, nil
	case insts.OpMRET:
		if e.priv < sim.PrivMachine {
			return 0, SyscallResult{}, illegal(inst.Raw)
		}
		return e.mret(), SyscallResult{}, nil
	case insts.OpCSRRW, insts.OpCSRRS, insts.OpCSRRC, insts.OpCSRRWI, insts.OpCSRRSI, insts.OpCSRRCI:
		if ex := e.executeCSR(inst); ex != nil {
			return 0, SyscallResult{}, ex
		}
		return next, SyscallResult{}, nil
	default:
		return 0, SyscallResult{}, illegal(inst.Raw)
	}
}

// executeCSR performs a Zicsr read-modify-write. CSRRS/CSRRC with a zero
// source do not write, so read-only CSRs can be read with them.
func (e *Emulator) executeCSR(inst *insts.Instruction) *Exception {
	if e.priv < minPrivilege(inst.CSR) {
		return illegal(inst.Raw)
	}

	old, ok := e.csr.Read(inst.CSR)
	if !ok {
		return illegal(inst.Raw)
	}

	src := uint64(inst.Imm)
	switch inst.Op {
	case insts.OpCSRRW, insts.OpCSRRS, insts.OpCSRRC:
		src = e.regFile.ReadReg(inst.Rs1)
	}

	var v uint64
	write := true
	switch inst.Op {
	case insts.OpCSRRW, insts.OpCSRRWI:
		v = src
	case insts.OpCSRRS:
		v, write = old|src, inst.Rs1 != 0
	case insts.OpCSRRSI:
		v, write = old|src, src != 0
	case insts.OpCSRRC:
		v, write = old&^src, inst.Rs1 != 0
	case insts.OpCSRRCI:
		v, write = old&^src, src != 0
	}

	if write && !e.csr.Write(inst.CSR, v) {
		return illegal(inst.Raw)
	}

	e.regFile.WriteReg(inst.Rd, old)
	return nil
}

// PC returns the address of the instruction in flight.
func (e *Emulator) PC() uint64 {
	return e.regFile.PC
}

// ReadRegister returns integer register idx.
func (e *Emulator) ReadRegister(idx uint8) uint64 {
	return e.regFile.ReadReg(idx)
}

// ReadCSR returns a CSR by name.
func (e *Emulator) ReadCSR(name string) (uint64, bool) {
	idx, ok := insts.CSRIndex(name)
	if !ok {
		return 0, false
	}
	return e.csr.Read(idx)
}

// ReadPhysical32 reads a word of physical memory.
func (e *Emulator) ReadPhysical32(addr uint64) (uint32, error) {
	return e.memory.ReadPhysical32(addr)
}

// ReadPhysical64 reads a double-word of physical memory.
func (e *Emulator) ReadPhysical64(addr uint64) (uint64, error) {
	return e.memory.ReadPhysical64(addr)
}

// Stats returns the cycle and retired-instruction counts plus trap and
// data-cache counters.
func (e *Emulator) Stats() sim.Stats {
	counters := map[string]uint64{"traps": e.traps}
	if e.dcache != nil {
		s := e.dcache.Stats()
		counters["dcache_hits"] = s.Hits
		counters["dcache_misses"] = s.Misses
		counters["dcache_writebacks"] = s.Writebacks
	}
	if e.bpred != nil {
		s := e.bpred.Stats()
		counters["bpred_predictions"] = s.Predictions
		counters["bpred_mispredictions"] = s.Mispredictions
	}

	return sim.Stats{
		Cycles:       e.cycle,
		Instructions: e.instret,
		Counters:     counters,
	}
}

// Cycle returns the current cycle.
func (e *Emulator) Cycle() uint64 {
	return e.cycle
}

// Privilege returns the current privilege level.
func (e *Emulator) Privilege() sim.Privilege {
	return e.priv
}

// RecentCommitted returns the committed-instruction trace, oldest first.
func (e *Emulator) RecentCommitted() []sim.Committed {
	return e.committed.Items()
}
