package trace

import (
	"fmt"

	"github.com/sarchlab/rvdiag/insts"
	"github.com/sarchlab/rvdiag/sim"
)

// Sentinel decides whether a step has diverged from expected behavior.
type Sentinel interface {
	// Check inspects the state after a step. It returns a description and
	// true on divergence.
	Check(snap sim.Snapshot) (string, bool)
}

// Range is an inclusive address range.
type Range struct {
	Name  string `json:"name" yaml:"name"`
	First uint64 `json:"first" yaml:"first"`
	Last  uint64 `json:"last" yaml:"last"`
}

// Contains reports whether addr lies in the range.
func (r Range) Contains(addr uint64) bool {
	return addr >= r.First && addr <= r.Last
}

// String renders the range, e.g. "ram [0x80000000, 0x8fffffff]".
func (r Range) String() string {
	return fmt.Sprintf("%s [0x%x, 0x%x]", r.Name, r.First, r.Last)
}

// Ranges is a set of valid address ranges.
type Ranges []Range

// Contains reports whether any range holds addr.
func (rs Ranges) Contains(addr uint64) bool {
	for _, r := range rs {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// DefaultValidRanges are the regions a healthy RV64 Linux system executes
// from. The user range is deliberately broad and does not check canonical
// sign extension.
func DefaultValidRanges() Ranges {
	return Ranges{
		{Name: "ram", First: 0x80000000, Last: 0x8FFFFFFF},
		{Name: "clint", First: 0x02000000, Last: 0x02FFFFFF},
		{Name: "kernel", First: 0xFFFFFFFF80000000, Last: 0xFFFFFFFFFFFFFFFF},
		{Name: "user", First: 0x1, Last: 0xFFFFFFFFFF},
	}
}

// RangeSentinel fires when the PC leaves every valid range.
type RangeSentinel struct {
	Ranges Ranges
}

// Check implements Sentinel.
func (s *RangeSentinel) Check(snap sim.Snapshot) (string, bool) {
	if s.Ranges.Contains(snap.PC) {
		return "", false
	}
	return fmt.Sprintf("PC 0x%016x outside valid ranges", snap.PC), true
}

// PoisonSentinel fires when a register holds a known-bad value that the PC
// has not yet jumped to. It catches a corrupted return address between
// the load and the return.
type PoisonSentinel struct {
	Reg   uint8
	Value uint64

	jumped bool
}

// Check implements Sentinel.
func (s *PoisonSentinel) Check(snap sim.Snapshot) (string, bool) {
	if snap.PC == s.Value {
		s.jumped = true
	}
	if s.jumped || int(s.Reg) >= len(snap.Regs) || snap.Regs[s.Reg] != s.Value {
		return "", false
	}
	return fmt.Sprintf("%s holds poison value 0x%016x, not yet jumped to",
		insts.RegName(s.Reg), s.Value), true
}
