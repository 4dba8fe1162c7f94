package analyze

import (
	"github.com/sarchlab/rvdiag/insts"
	"github.com/sarchlab/rvdiag/mmu"
	"github.com/sarchlab/rvdiag/sim"
)

// ListingLine is one unique PC of the single-step trace with the cycles
// spent on it and the registers it changed.
type ListingLine struct {
	PC      uint64
	Fetch   *mmu.Fetch
	Inst    *insts.Instruction // Nil when the PC cannot be read
	Err     error
	Cycles  int
	Changes []sim.RegChange
	Symbol  string
}

// listing decodes each distinct PC of the single-step trace, in first-seen
// order with consecutive repeats folded.
func (a *Analyzer) listing(in Input, satp mmu.Satp) []ListingLine {
	var pcs []uint64
	for _, e := range in.Trace {
		if len(pcs) == 0 || pcs[len(pcs)-1] != e.PC {
			pcs = append(pcs, e.PC)
		}
	}

	cycles := make(map[uint64]int)
	changes := make(map[uint64][]sim.RegChange)
	for _, e := range in.Trace {
		cycles[e.PC]++
		changes[e.PC] = append(changes[e.PC], e.Changes...)
	}

	lines := make([]ListingLine, 0, len(pcs))
	for _, pc := range pcs {
		line := ListingLine{PC: pc, Cycles: cycles[pc], Changes: changes[pc], Symbol: a.symbol(pc)}

		f, err := mmu.FetchInstruction(in.Memory, pc, satp)
		if err != nil {
			line.Err = err
		} else {
			line.Fetch = &f
			line.Inst = a.decode(f.Word, pc)
		}

		lines = append(lines, line)
	}
	return lines
}
