package analyze

import (
	"github.com/sarchlab/rvdiag/insts"
	"github.com/sarchlab/rvdiag/mmu"
)

// Verdict classifies a re-checked load.
type Verdict int

// Verdicts.
const (
	VerdictUnknown Verdict = iota

	// VerdictWrongAddress means memory at the recomputed address holds the
	// value the load returned: the load was faithful, so the address (or
	// the data written there) is what went wrong.
	VerdictWrongAddress

	// VerdictStaleData means memory now holds something other than what
	// the load returned: the load observed stale data.
	VerdictStaleData
)

// String describes the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictWrongAddress:
		return "memory matches the loaded value: wrong address or data never written"
	case VerdictStaleData:
		return "memory differs from the loaded value: load returned stale data (TLB/cache/store visibility)"
	default:
		return "undetermined"
	}
}

// LoadCheck recomputes a load's effective address and re-reads memory.
type LoadCheck struct {
	Base      uint8
	BaseValue uint64
	Offset    int64
	EA        uint64
	Probe     *AddressProbe

	// BaseClobbered is set when the load wrote its own base register, so
	// the effective address cannot be recomputed from current state.
	BaseClobbered bool

	Expected uint64 // Memory value extended as the load would
	Loaded   uint64 // Destination register value
	Verdict  Verdict

	// Trapped is set when scause reports a load exception, so the load
	// at sepc never wrote its destination and Loaded is unrelated.
	Trapped bool
}

// TrappedNote explains why a trapped load has no verdict.
const TrappedNote = "load trapped; destination not written"

// FaultSite is the instruction at sepc.
type FaultSite struct {
	PC    uint64
	Fetch *mmu.Fetch
	Inst  *insts.Instruction
	Err   error
	Load  *LoadCheck // Set when the faulting instruction is a load
}

func (a *Analyzer) inspectFaultSite(in Input, satp mmu.Satp, scause *Cause) *FaultSite {
	sepc := in.CSRs.Value("sepc")
	if sepc == 0 {
		return nil
	}

	site := &FaultSite{PC: sepc}
	f, err := mmu.FetchInstruction(in.Memory, sepc, satp)
	if err != nil {
		site.Err = err
		return site
	}
	site.Fetch = &f
	site.Inst = a.decode(f.Word, sepc)

	if site.Inst.IsLoad() {
		site.Load = checkLoad(in, site.Inst, satp, scause)
	}

	return site
}

// checkLoad recomputes the effective address of the load at sepc and
// compares memory with its destination register. A load that raised the
// exception in scause is shown but not judged.
func checkLoad(in Input, inst *insts.Instruction, satp mmu.Satp, scause *Cause) *LoadCheck {
	lc := &LoadCheck{
		Base:      inst.Rs1,
		BaseValue: in.Regs[inst.Rs1],
		Offset:    inst.Imm,
		Trapped:   scause != nil && scause.Access() == AccessLoad,
	}
	lc.EA = lc.BaseValue + uint64(lc.Offset)

	if !lc.Trapped && inst.Rd != 0 && inst.Rd == inst.Rs1 {
		lc.BaseClobbered = true
		return lc
	}

	lc.Probe = probe(in.Memory, lc.EA, satp)
	if lc.Probe.Err != nil || lc.Probe.ReadErr != nil {
		return lc
	}

	lc.Expected = extendLoad(inst.Op, lc.Probe.Value)
	lc.Loaded = in.Regs[inst.Rd]
	if lc.Trapped {
		return lc
	}
	if lc.Expected == lc.Loaded {
		lc.Verdict = VerdictWrongAddress
	} else {
		lc.Verdict = VerdictStaleData
	}

	return lc
}

// extendLoad narrows v to the load width and extends it as op does.
func extendLoad(op insts.Op, v uint64) uint64 {
	switch op {
	case insts.OpLB:
		return uint64(int64(int8(v)))
	case insts.OpLH:
		return uint64(int64(int16(v)))
	case insts.OpLW:
		return uint64(int64(int32(v)))
	case insts.OpLBU:
		return uint64(uint8(v))
	case insts.OpLHU:
		return uint64(uint16(v))
	case insts.OpLWU:
		return uint64(uint32(v))
	default:
		return v
	}
}
