package emu

import (
	"github.com/sarchlab/rvdiag/insts"
)

// LoadStoreUnit implements loads, stores and atomics through the
// machine's address translation.
type LoadStoreUnit struct {
	emu *Emulator

	reservation      uint64
	reservationValid bool
}

// NewLoadStoreUnit creates a new LoadStoreUnit for e.
func NewLoadStoreUnit(e *Emulator) *LoadStoreUnit {
	return &LoadStoreUnit{emu: e}
}

// EffectiveAddress returns rs1 + imm for a memory instruction.
func (lsu *LoadStoreUnit) EffectiveAddress(inst *insts.Instruction) uint64 {
	if inst.Class == insts.ClassAMO {
		return lsu.emu.regFile.ReadReg(inst.Rs1)
	}
	return lsu.emu.regFile.ReadReg(inst.Rs1) + uint64(inst.Imm)
}

// Read loads size bytes from virtual address va.
func (lsu *LoadStoreUnit) Read(va uint64, size int) (uint64, *Exception) {
	if va%uint64(size) != 0 {
		return 0, &Exception{Cause: CauseLoadMisaligned, Tval: va}
	}

	pa, ex := lsu.emu.translate(va, accessLoad)
	if ex != nil {
		return 0, ex
	}

	v, err := lsu.emu.memory.Read(pa, size)
	if err != nil {
		return 0, &Exception{Cause: CauseLoadAccess, Tval: va}
	}
	return v, nil
}

// Write stores the low size bytes of v at virtual address va.
func (lsu *LoadStoreUnit) Write(va uint64, v uint64, size int) *Exception {
	if va%uint64(size) != 0 {
		return &Exception{Cause: CauseStoreMisaligned, Tval: va}
	}

	pa, ex := lsu.emu.translate(va, accessStore)
	if ex != nil {
		return ex
	}

	if err := lsu.emu.memory.Write(pa, v, size); err != nil {
		return &Exception{Cause: CauseStoreAccess, Tval: va}
	}

	if lsu.reservationValid && lsu.reservation == pa&^7 {
		lsu.reservationValid = false
	}
	return nil
}

// Load executes a load instruction.
func (lsu *LoadStoreUnit) Load(inst *insts.Instruction) *Exception {
	v, ex := lsu.Read(lsu.EffectiveAddress(inst), inst.Width)
	if ex != nil {
		return ex
	}

	lsu.emu.regFile.WriteReg(inst.Rd, extend(inst.Op, v))
	return nil
}

// Store executes a store instruction.
func (lsu *LoadStoreUnit) Store(inst *insts.Instruction) *Exception {
	return lsu.Write(lsu.EffectiveAddress(inst), lsu.emu.regFile.ReadReg(inst.Rs2), inst.Width)
}

// extend sign- or zero-extends a loaded value as op requires.
func extend(op insts.Op, v uint64) uint64 {
	switch op {
	case insts.OpLB:
		return uint64(int64(int8(v)))
	case insts.OpLH:
		return uint64(int64(int16(v)))
	case insts.OpLW:
		return uint64(int64(int32(v)))
	default:
		return v
	}
}

// AMO executes an LR, SC or read-modify-write atomic.
func (lsu *LoadStoreUnit) AMO(inst *insts.Instruction) *Exception {
	va := lsu.EffectiveAddress(inst)
	size := inst.Width

	switch inst.Op {
	case insts.OpLR:
		v, ex := lsu.Read(va, size)
		if ex != nil {
			return ex
		}
		pa, _ := lsu.emu.translate(va, accessLoad)
		lsu.reservation = pa &^ 7
		lsu.reservationValid = true
		lsu.emu.regFile.WriteReg(inst.Rd, signWord(v, size))
		return nil

	case insts.OpSC:
		pa, ex := lsu.emu.translate(va, accessStore)
		if ex != nil {
			return ex
		}
		if !lsu.reservationValid || lsu.reservation != pa&^7 {
			lsu.emu.regFile.WriteReg(inst.Rd, 1)
			return nil
		}
		if ex := lsu.Write(va, lsu.emu.regFile.ReadReg(inst.Rs2), size); ex != nil {
			return ex
		}
		lsu.reservationValid = false
		lsu.emu.regFile.WriteReg(inst.Rd, 0)
		return nil
	}

	// Read-modify-write atomics need store permission for the read too.
	if va%uint64(size) != 0 {
		return &Exception{Cause: CauseStoreMisaligned, Tval: va}
	}
	if _, ex := lsu.emu.translate(va, accessStore); ex != nil {
		return ex
	}

	old, ex := lsu.Read(va, size)
	if ex != nil {
		ex.Cause = CauseStoreAccess
		return ex
	}

	src := lsu.emu.regFile.ReadReg(inst.Rs2)
	if ex := lsu.Write(va, amoResult(inst.Op, old, src, size), size); ex != nil {
		return ex
	}

	lsu.emu.regFile.WriteReg(inst.Rd, signWord(old, size))
	return nil
}

func signWord(v uint64, size int) uint64 {
	if size == 4 {
		return uint64(int64(int32(v)))
	}
	return v
}

func amoResult(op insts.Op, old, src uint64, size int) uint64 {
	a, b := old, src
	sa, sb := int64(a), int64(b)
	if size == 4 {
		a, b = uint64(uint32(a)), uint64(uint32(b))
		sa, sb = int64(int32(old)), int64(int32(src))
	}

	switch op {
	case insts.OpAMOSWAP:
		return b
	case insts.OpAMOADD:
		return a + b
	case insts.OpAMOXOR:
		return a ^ b
	case insts.OpAMOAND:
		return a & b
	case insts.OpAMOOR:
		return a | b
	case insts.OpAMOMIN:
		if sa < sb {
			return a
		}
		return b
	case insts.OpAMOMAX:
		if sa > sb {
			return a
		}
		return b
	case insts.OpAMOMINU:
		if a < b {
			return a
		}
		return b
	default: // OpAMOMAXU
		if a > b {
			return a
		}
		return b
	}
}
