// Package emu provides a functional RV64IMAC reference machine.
package emu

// RegFile represents the RV64 integer register file and program counter.
type RegFile struct {
	// X holds registers x0-x31. X[0] is never written.
	X [32]uint64

	// PC is the address of the instruction in flight.
	PC uint64
}

// ReadReg reads a register value. x0 and out-of-range indices read as 0.
func (r *RegFile) ReadReg(reg uint8) uint64 {
	if reg == 0 || reg >= 32 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes a register value. Writes to x0 are discarded.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	if reg == 0 || reg >= 32 {
		return
	}
	r.X[reg] = value
}

// WriteReg32 writes a 32-bit result sign-extended to 64 bits, as the
// RV64 word instructions do.
func (r *RegFile) WriteReg32(reg uint8, value uint32) {
	r.WriteReg(reg, uint64(int64(int32(value))))
}
