package emu

import (
	"math"
	"math/bits"

	"github.com/sarchlab/rvdiag/insts"
)

// ALU evaluates the integer computational instructions.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// Execute writes the result of inst to its destination register. The
// second operand is rs2 for register forms and the immediate otherwise.
// It reports false for operations it does not implement.
func (a *ALU) Execute(inst *insts.Instruction) bool {
	op1 := a.regFile.ReadReg(inst.Rs1)
	op2 := uint64(inst.Imm)
	if inst.Class == insts.ClassOp || inst.Class == insts.ClassOp32 {
		op2 = a.regFile.ReadReg(inst.Rs2)
	}

	if v, ok := compute64(inst.Op, op1, op2); ok {
		a.regFile.WriteReg(inst.Rd, v)
		return true
	}
	if v, ok := compute32(inst.Op, uint32(op1), uint32(op2)); ok {
		a.regFile.WriteReg32(inst.Rd, v)
		return true
	}
	return false
}

func compute64(op insts.Op, a, b uint64) (uint64, bool) {
	switch op {
	case insts.OpADD, insts.OpADDI:
		return a + b, true
	case insts.OpSUB:
		return a - b, true
	case insts.OpSLL, insts.OpSLLI:
		return a << (b & 63), true
	case insts.OpSRL, insts.OpSRLI:
		return a >> (b & 63), true
	case insts.OpSRA, insts.OpSRAI:
		return uint64(int64(a) >> (b & 63)), true
	case insts.OpSLT, insts.OpSLTI:
		return boolValue(int64(a) < int64(b)), true
	case insts.OpSLTU, insts.OpSLTIU:
		return boolValue(a < b), true
	case insts.OpXOR, insts.OpXORI:
		return a ^ b, true
	case insts.OpOR, insts.OpORI:
		return a | b, true
	case insts.OpAND, insts.OpANDI:
		return a & b, true
	case insts.OpMUL:
		return a * b, true
	case insts.OpMULH:
		return mulh(int64(a), int64(b)), true
	case insts.OpMULHSU:
		return mulhsu(int64(a), b), true
	case insts.OpMULHU:
		hi, _ := bits.Mul64(a, b)
		return hi, true
	case insts.OpDIV:
		return uint64(div64(int64(a), int64(b))), true
	case insts.OpDIVU:
		if b == 0 {
			return math.MaxUint64, true
		}
		return a / b, true
	case insts.OpREM:
		return uint64(rem64(int64(a), int64(b))), true
	case insts.OpREMU:
		if b == 0 {
			return a, true
		}
		return a % b, true
	default:
		return 0, false
	}
}

func compute32(op insts.Op, a, b uint32) (uint32, bool) {
	switch op {
	case insts.OpADDW, insts.OpADDIW:
		return a + b, true
	case insts.OpSUBW:
		return a - b, true
	case insts.OpSLLW, insts.OpSLLIW:
		return a << (b & 31), true
	case insts.OpSRLW, insts.OpSRLIW:
		return a >> (b & 31), true
	case insts.OpSRAW, insts.OpSRAIW:
		return uint32(int32(a) >> (b & 31)), true
	case insts.OpMULW:
		return a * b, true
	case insts.OpDIVW:
		return uint32(div32(int32(a), int32(b))), true
	case insts.OpDIVUW:
		if b == 0 {
			return math.MaxUint32, true
		}
		return a / b, true
	case insts.OpREMW:
		return uint32(rem32(int32(a), int32(b))), true
	case insts.OpREMUW:
		if b == 0 {
			return a, true
		}
		return a % b, true
	default:
		return 0, false
	}
}

func boolValue(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// mulh returns the high 64 bits of the signed product.
func mulh(a, b int64) uint64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return hi
}

// mulhsu returns the high 64 bits of signed a times unsigned b.
func mulhsu(a int64, b uint64) uint64 {
	hi, _ := bits.Mul64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	return hi
}

// Division by zero and overflow follow the ISA: no trap, fixed results.
func div64(a, b int64) int64 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt64 && b == -1:
		return a
	default:
		return a / b
	}
}

func rem64(a, b int64) int64 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt64 && b == -1:
		return 0
	default:
		return a % b
	}
}

func div32(a, b int32) int32 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt32 && b == -1:
		return a
	default:
		return a / b
	}
}

func rem32(a, b int32) int32 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt32 && b == -1:
		return 0
	default:
		return a % b
	}
}
