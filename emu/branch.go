package emu

import (
	"github.com/sarchlab/rvdiag/insts"
)

// BranchUnit resolves control transfers.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit connected to the given register
// file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// Taken reports whether a conditional branch is taken.
func (b *BranchUnit) Taken(inst *insts.Instruction) bool {
	x := b.regFile.ReadReg(inst.Rs1)
	y := b.regFile.ReadReg(inst.Rs2)

	switch inst.Op {
	case insts.OpBEQ:
		return x == y
	case insts.OpBNE:
		return x != y
	case insts.OpBLT:
		return int64(x) < int64(y)
	case insts.OpBGE:
		return int64(x) >= int64(y)
	case insts.OpBLTU:
		return x < y
	case insts.OpBGEU:
		return x >= y
	default:
		return false
	}
}

// Target returns where the control transfer inst at pc goes when taken.
func (b *BranchUnit) Target(inst *insts.Instruction, pc uint64) uint64 {
	if inst.Op == insts.OpJALR {
		return (b.regFile.ReadReg(inst.Rs1) + uint64(inst.Imm)) &^ 1
	}
	return pc + uint64(inst.Imm)
}

// Next returns the address of the instruction after the control transfer
// inst at pc and links the return address. The target of JALR is read
// before the link register is written, so rd may equal rs1.
func (b *BranchUnit) Next(inst *insts.Instruction, pc uint64) uint64 {
	fallThrough := pc + uint64(inst.Size)

	switch inst.Op {
	case insts.OpJAL, insts.OpJALR:
		target := b.Target(inst, pc)
		b.regFile.WriteReg(inst.Rd, fallThrough)
		return target
	default:
		if b.Taken(inst) {
			return b.Target(inst, pc)
		}
		return fallThrough
	}
}
