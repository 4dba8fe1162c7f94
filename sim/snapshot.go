package sim

import (
	"fmt"

	"github.com/sarchlab/rvdiag/insts"
)

// Snapshot is the architectural state of a simulator at one cycle.
type Snapshot struct {
	Cycle     uint64
	PC        uint64
	Regs      [32]uint64
	Privilege Privilege
}

// Capture reads a snapshot from s.
func Capture(s Simulator) Snapshot {
	snap := Snapshot{
		Cycle:     CycleOf(s),
		PC:        s.PC(),
		Privilege: s.Privilege(),
	}
	for i := range snap.Regs {
		snap.Regs[i] = s.ReadRegister(uint8(i))
	}
	return snap
}

// RegChange is a register whose value differs between two snapshots.
type RegChange struct {
	Reg uint8
	Old uint64
	New uint64
}

// String renders the change, e.g. "a0: 0x0 -> 0x2a".
func (c RegChange) String() string {
	return fmt.Sprintf("%s: 0x%x -> 0x%x", insts.RegName(c.Reg), c.Old, c.New)
}

// Diff lists the registers that changed from prev to s.
func (s Snapshot) Diff(prev Snapshot) []RegChange {
	var changes []RegChange
	for i := range s.Regs {
		if s.Regs[i] != prev.Regs[i] {
			changes = append(changes, RegChange{Reg: uint8(i), Old: prev.Regs[i], New: s.Regs[i]})
		}
	}
	return changes
}

// AnalysisCSRs are the CSRs captured for a crash report.
var AnalysisCSRs = []string{
	"scause", "stval", "sepc", "stvec", "satp",
	"mcause", "mtval", "mepc", "mtvec",
	"mstatus", "sstatus", "medeleg", "mideleg",
}

// CSRSnapshot holds CSR values captured at one instant. CSRs the simulator
// does not implement are recorded as absent.
type CSRSnapshot struct {
	names  []string
	values map[string]uint64
}

// CaptureCSRs reads the named CSRs from s. With no names it reads
// AnalysisCSRs.
func CaptureCSRs(s Simulator, names ...string) CSRSnapshot {
	if len(names) == 0 {
		names = AnalysisCSRs
	}

	snap := CSRSnapshot{
		names:  append([]string(nil), names...),
		values: make(map[string]uint64, len(names)),
	}
	for _, name := range names {
		if v, ok := s.ReadCSR(name); ok {
			snap.values[name] = v
		}
	}
	return snap
}

// NewCSRSnapshot builds a snapshot from known values, in name order.
func NewCSRSnapshot(names []string, values map[string]uint64) CSRSnapshot {
	snap := CSRSnapshot{
		names:  append([]string(nil), names...),
		values: make(map[string]uint64, len(values)),
	}
	for k, v := range values {
		snap.values[k] = v
	}
	return snap
}

// Get returns the captured value of a CSR.
func (c CSRSnapshot) Get(name string) (uint64, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Value returns the captured value of a CSR, or zero when absent.
func (c CSRSnapshot) Value(name string) uint64 {
	return c.values[name]
}

// Names returns the CSR names in capture order.
func (c CSRSnapshot) Names() []string {
	return c.names
}
