// Package latency assigns cycle costs to decoded RV64 instructions.
package latency

import (
	"github.com/sarchlab/rvdiag/insts"
)

// Table maps instructions to the cycles they occupy an in-order core.
type Table struct {
	config *TimingConfig
}

// NewTable creates a table with DefaultTimingConfig.
func NewTable() *Table {
	return NewTableWithConfig(DefaultTimingConfig())
}

// NewTableWithConfig creates a table over config. The table keeps the
// pointer; later edits to config are visible.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{config: config}
}

// GetLatency returns the execution latency of inst, excluding the redirect
// penalty and data-cache effects. Unknown instructions cost one cycle.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}

	c := t.config
	switch inst.Op {
	case insts.OpMUL, insts.OpMULH, insts.OpMULHSU, insts.OpMULHU, insts.OpMULW:
		return c.MultiplyLatency
	case insts.OpDIV, insts.OpDIVU, insts.OpREM, insts.OpREMU:
		return c.DivideLatencyMax
	case insts.OpDIVW, insts.OpDIVUW, insts.OpREMW, insts.OpREMUW:
		return c.DivideLatencyMin
	}

	switch {
	case inst.IsControlTransfer():
		return c.BranchLatency
	case t.IsLoadOp(inst):
		return c.LoadLatency
	case t.IsStoreOp(inst):
		return c.StoreLatency
	}

	switch inst.Class {
	case insts.ClassAMO:
		return c.AtomicLatency
	case insts.ClassSystem, insts.ClassMiscMem:
		return c.SystemLatency
	case insts.ClassUnknown:
		return 1
	default:
		return c.ALULatency
	}
}

// TakenBranchPenalty returns the cycles added when the front end is
// redirected.
func (t *Table) TakenBranchPenalty() uint64 {
	return t.config.TakenBranchPenalty
}

// IsMemoryOp reports whether inst touches data memory.
func (t *Table) IsMemoryOp(inst *insts.Instruction) bool {
	return t.IsLoadOp(inst) || t.IsStoreOp(inst) || (inst != nil && inst.Class == insts.ClassAMO)
}

// IsLoadOp reports whether inst is an integer or FP load.
func (t *Table) IsLoadOp(inst *insts.Instruction) bool {
	return inst != nil && (inst.Class == insts.ClassLoad || inst.Class == insts.ClassFPLoad)
}

// IsStoreOp reports whether inst is an integer or FP store.
func (t *Table) IsStoreOp(inst *insts.Instruction) bool {
	return inst != nil && (inst.Class == insts.ClassStore || inst.Class == insts.ClassFPStore)
}
