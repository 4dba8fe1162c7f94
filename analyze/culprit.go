package analyze

import (
	"github.com/sarchlab/rvdiag/insts"
	"github.com/sarchlab/rvdiag/mmu"
	"github.com/sarchlab/rvdiag/sim"
)

// CommittedLine is one decoded entry of the committed-instruction trace.
type CommittedLine struct {
	Index  int
	PC     uint64
	Raw    uint32
	Inst   *insts.Instruction
	Symbol string
}

func (a *Analyzer) committedLines(committed []sim.Committed) []CommittedLine {
	lines := make([]CommittedLine, 0, len(committed))
	for i, c := range committed {
		lines = append(lines, CommittedLine{
			Index:  i,
			PC:     c.PC,
			Raw:    c.Raw,
			Inst:   a.decode(c.Raw, c.PC),
			Symbol: a.symbol(c.PC),
		})
	}
	return lines
}

// Culprit is the instruction that transferred control to an invalid PC,
// decoded both as fetched by the simulator and as re-read through the
// page tables.
type Culprit struct {
	Index   int    // Position in the committed trace
	PC      uint64 // Address of the culprit
	BadPC   uint64 // First invalid PC
	Fetched uint32 // Encoding the simulator committed
	Inst    *insts.Instruction
	Symbol  string // Name of PC when a symbolizer is set

	// FirstEntryBad is set when the oldest committed entry is already
	// invalid, so no culprit can be named.
	FirstEntryBad bool

	Reread     *mmu.Fetch
	RereadInst *insts.Instruction
	CrossPage  *mmu.CrossPage // Set for a 4-byte instruction at a page boundary
	Err        error          // Re-read failure
}

// Match reports whether the re-read encoding equals the fetched one.
func (c *Culprit) Match() bool {
	if c.Reread == nil {
		return false
	}
	fetched := c.Fetched
	if c.Reread.Size == 2 {
		fetched &= 0xFFFF
	}
	return fetched == c.Reread.Word
}

func (a *Analyzer) findCulprit(in Input, satp mmu.Satp) *Culprit {
	if len(in.Committed) == 0 {
		return nil
	}

	c := &Culprit{Index: -1}
	for i, e := range in.Committed {
		if a.ranges.Contains(e.PC) {
			continue
		}
		if i == 0 {
			return &Culprit{Index: -1, BadPC: e.PC, FirstEntryBad: true}
		}
		c.Index = i - 1
		c.BadPC = e.PC
		break
	}

	// The invalid PC may never commit when its fetch faults; the last
	// committed instruction is then the one that jumped there.
	if c.Index < 0 {
		if in.Divergence == nil || a.ranges.Contains(in.Divergence.PC) {
			return nil
		}
		c.Index = len(in.Committed) - 1
		c.BadPC = in.Divergence.PC
	}

	entry := in.Committed[c.Index]
	c.PC = entry.PC
	c.Symbol = a.symbol(entry.PC)
	c.Fetched = entry.Raw
	c.Inst = a.decode(entry.Raw, entry.PC)

	f, err := mmu.FetchInstruction(in.Memory, c.PC, satp)
	if err != nil {
		c.Err = err
		return c
	}
	c.Reread = &f
	c.RereadInst = a.decode(f.Word, c.PC)

	if f.CrossPage != nil {
		cp := *f.CrossPage
		cp.Fetched = c.Fetched
		c.CrossPage = &cp
	}

	return c
}
