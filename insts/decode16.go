package insts

import "fmt"

// compressedFunc fills inst from a 16-bit encoding.
type compressedFunc func(d *Decoder, h uint16, pc uint64, inst *Instruction)

// compressedHandlers is indexed by quadrant (bits [1:0]) and funct3
// (bits [15:13]). Quadrant 3 is the 32-bit space and never reaches here.
var compressedHandlers = [3][8]compressedFunc{
	0: {
		0: (*Decoder).decodeCADDI4SPN,
		1: (*Decoder).decodeCFLD,
		2: (*Decoder).decodeCLW,
		3: (*Decoder).decodeCLD,
		4: (*Decoder).decodeCReserved,
		5: (*Decoder).decodeCFSD,
		6: (*Decoder).decodeCSW,
		7: (*Decoder).decodeCSD,
	},
	1: {
		0: (*Decoder).decodeCADDI,
		1: (*Decoder).decodeCADDIW,
		2: (*Decoder).decodeCLI,
		3: (*Decoder).decodeCLUI,
		4: (*Decoder).decodeCMiscALU,
		5: (*Decoder).decodeCJ,
		6: (*Decoder).decodeCBranch,
		7: (*Decoder).decodeCBranch,
	},
	2: {
		0: (*Decoder).decodeCSLLI,
		1: (*Decoder).decodeCFLDSP,
		2: (*Decoder).decodeCLWSP,
		3: (*Decoder).decodeCLDSP,
		4: (*Decoder).decodeCJumpMoveAdd,
		5: (*Decoder).decodeCFSDSP,
		6: (*Decoder).decodeCSWSP,
		7: (*Decoder).decodeCSDSP,
	},
}

// CompressedHandlersComplete reports whether every quadrant/funct3 slot
// has a handler.
func CompressedHandlersComplete() bool {
	for _, row := range compressedHandlers {
		for _, h := range row {
			if h == nil {
				return false
			}
		}
	}
	return true
}

func (d *Decoder) decodeCompressed(h uint16, pc uint64) *Instruction {
	inst := &Instruction{Raw: uint32(h), Size: 2}

	quadrant := h & 0x3
	funct3 := (h >> 13) & 0x7
	compressedHandlers[quadrant][funct3](d, h, pc, inst)

	return inst
}

// creg maps a 3-bit compact register field to x8..x15.
func creg(field uint16) uint8 {
	return uint8(field&0x7) + 8
}

// bit returns bit n of h shifted to position 0.
func bit(h uint16, n uint) uint64 {
	return uint64(h>>n) & 0x1
}

// bits returns the field h[hi:lo] shifted to position 0.
func bits(h uint16, hi, lo uint) uint64 {
	return uint64(h>>lo) & (1<<(hi-lo+1) - 1)
}

// ciImm is the 6-bit signed immediate imm[5] = h[12], imm[4:0] = h[6:2].
func ciImm(h uint16) int64 {
	return signExtend(bit(h, 12)<<5|bits(h, 6, 2), 6)
}

// ciShamt is the 6-bit unsigned shift amount of c.slli/c.srli/c.srai.
func ciShamt(h uint16) int64 {
	return int64(bit(h, 12)<<5 | bits(h, 6, 2))
}

// clWordOffset is the c.lw/c.sw offset: uimm[5:3] = h[12:10],
// uimm[2] = h[6], uimm[6] = h[5].
func clWordOffset(h uint16) int64 {
	return int64(bits(h, 12, 10)<<3 | bit(h, 6)<<2 | bit(h, 5)<<6)
}

// clDoubleOffset is the c.ld/c.sd/c.fld/c.fsd offset: uimm[5:3] = h[12:10],
// uimm[7:6] = h[6:5].
func clDoubleOffset(h uint16) int64 {
	return int64(bits(h, 12, 10)<<3 | bits(h, 6, 5)<<6)
}

func (d *Decoder) compressedUnknown(inst *Instruction) {
	setUnknown(inst)
}

func (d *Decoder) setC(inst *Instruction, mnemonic string, op Op, class Class, operands ...string) {
	inst.Op = op
	inst.Class = class
	inst.Mnemonic = mnemonic
	inst.Operands = operands
}

// Quadrant 0: stack-pointer-scaled add and register-based loads/stores.

func (d *Decoder) decodeCADDI4SPN(h uint16, _ uint64, inst *Instruction) {
	// nzuimm[5:4|9:6|2|3] = h[12:5]
	imm := bits(h, 12, 11)<<4 | bits(h, 10, 7)<<6 | bit(h, 6)<<2 | bit(h, 5)<<3
	if imm == 0 {
		d.compressedUnknown(inst)
		return
	}
	inst.Rd = creg(h >> 2)
	inst.Rs1 = RegSP
	inst.Imm = int64(imm)
	d.setC(inst, "c.addi4spn", OpADDI, ClassOpImm,
		RegName(inst.Rd), "sp", fmt.Sprintf("%d", inst.Imm))
}

func (d *Decoder) decodeCFLD(h uint16, _ uint64, inst *Instruction) {
	inst.Rd = creg(h >> 2)
	inst.Rs1 = creg(h >> 7)
	inst.Imm = clDoubleOffset(h)
	inst.Width = 8
	d.setC(inst, "c.fld", OpFLD, ClassFPLoad,
		FPRegName(inst.Rd), memOperand(inst.Imm, inst.Rs1))
}

func (d *Decoder) decodeCLW(h uint16, _ uint64, inst *Instruction) {
	inst.Rd = creg(h >> 2)
	inst.Rs1 = creg(h >> 7)
	inst.Imm = clWordOffset(h)
	inst.Width = 4
	d.setC(inst, "c.lw", OpLW, ClassLoad,
		RegName(inst.Rd), memOperand(inst.Imm, inst.Rs1))
}

func (d *Decoder) decodeCLD(h uint16, _ uint64, inst *Instruction) {
	inst.Rd = creg(h >> 2)
	inst.Rs1 = creg(h >> 7)
	inst.Imm = clDoubleOffset(h)
	inst.Width = 8
	d.setC(inst, "c.ld", OpLD, ClassLoad,
		RegName(inst.Rd), memOperand(inst.Imm, inst.Rs1))
}

func (d *Decoder) decodeCReserved(_ uint16, _ uint64, inst *Instruction) {
	d.compressedUnknown(inst)
}

func (d *Decoder) decodeCFSD(h uint16, _ uint64, inst *Instruction) {
	inst.Rs2 = creg(h >> 2)
	inst.Rs1 = creg(h >> 7)
	inst.Imm = clDoubleOffset(h)
	inst.Width = 8
	d.setC(inst, "c.fsd", OpFSD, ClassFPStore,
		FPRegName(inst.Rs2), memOperand(inst.Imm, inst.Rs1))
}

func (d *Decoder) decodeCSW(h uint16, _ uint64, inst *Instruction) {
	inst.Rs2 = creg(h >> 2)
	inst.Rs1 = creg(h >> 7)
	inst.Imm = clWordOffset(h)
	inst.Width = 4
	d.setC(inst, "c.sw", OpSW, ClassStore,
		RegName(inst.Rs2), memOperand(inst.Imm, inst.Rs1))
}

func (d *Decoder) decodeCSD(h uint16, _ uint64, inst *Instruction) {
	inst.Rs2 = creg(h >> 2)
	inst.Rs1 = creg(h >> 7)
	inst.Imm = clDoubleOffset(h)
	inst.Width = 8
	d.setC(inst, "c.sd", OpSD, ClassStore,
		RegName(inst.Rs2), memOperand(inst.Imm, inst.Rs1))
}

// Quadrant 1: register-immediate forms, compact ALU ops and control flow.

func (d *Decoder) decodeCADDI(h uint16, _ uint64, inst *Instruction) {
	rd := uint8(bits(h, 11, 7))
	inst.Rd, inst.Rs1 = rd, rd
	inst.Imm = ciImm(h)
	if rd == 0 {
		// rd = 0 is c.nop; a nonzero immediate there is a hint.
		d.setC(inst, "c.nop", OpADDI, ClassOpImm)
		return
	}
	d.setC(inst, "c.addi", OpADDI, ClassOpImm,
		RegName(rd), fmt.Sprintf("%d", inst.Imm))
}

func (d *Decoder) decodeCADDIW(h uint16, _ uint64, inst *Instruction) {
	rd := uint8(bits(h, 11, 7))
	if rd == 0 {
		d.compressedUnknown(inst)
		return
	}
	inst.Rd, inst.Rs1 = rd, rd
	inst.Imm = ciImm(h)
	d.setC(inst, "c.addiw", OpADDIW, ClassOpImm32,
		RegName(rd), fmt.Sprintf("%d", inst.Imm))
}

func (d *Decoder) decodeCLI(h uint16, _ uint64, inst *Instruction) {
	inst.Rd = uint8(bits(h, 11, 7))
	inst.Rs1 = RegZero
	inst.Imm = ciImm(h)
	d.setC(inst, "c.li", OpADDI, ClassOpImm,
		RegName(inst.Rd), fmt.Sprintf("%d", inst.Imm))
}

// decodeCLUI handles funct3 = 3, which is c.addi16sp when rd = sp and
// c.lui otherwise.
func (d *Decoder) decodeCLUI(h uint16, _ uint64, inst *Instruction) {
	rd := uint8(bits(h, 11, 7))

	if rd == RegSP {
		// nzimm[9] = h[12], nzimm[4|6|8:7|5] = h[6:2]
		v := bit(h, 12)<<9 | bit(h, 6)<<4 | bit(h, 5)<<6 | bits(h, 4, 3)<<7 | bit(h, 2)<<5
		imm := signExtend(v, 10)
		if imm == 0 {
			d.compressedUnknown(inst)
			return
		}
		inst.Rd, inst.Rs1 = RegSP, RegSP
		inst.Imm = imm
		d.setC(inst, "c.addi16sp", OpADDI, ClassOpImm, "sp", fmt.Sprintf("%d", imm))
		return
	}

	// nzimm[17] = h[12], nzimm[16:12] = h[6:2]
	imm := signExtend(bit(h, 12)<<17|bits(h, 6, 2)<<12, 18)
	if imm == 0 {
		d.compressedUnknown(inst)
		return
	}
	inst.Rd = rd
	inst.Imm = imm
	d.setC(inst, "c.lui", OpLUI, ClassLUI,
		RegName(rd), hex(uint64(imm>>12)&0xFFFFF))
}

var cALUOps = [2][4]struct {
	mnemonic string
	op       Op
	class    Class
}{
	0: {
		{"c.sub", OpSUB, ClassOp},
		{"c.xor", OpXOR, ClassOp},
		{"c.or", OpOR, ClassOp},
		{"c.and", OpAND, ClassOp},
	},
	1: {
		{"c.subw", OpSUBW, ClassOp32},
		{"c.addw", OpADDW, ClassOp32},
	},
}

// decodeCMiscALU handles funct3 = 4: shifts, andi and register-register
// operations on the compact register set.
func (d *Decoder) decodeCMiscALU(h uint16, _ uint64, inst *Instruction) {
	rd := creg(h >> 7)
	inst.Rd, inst.Rs1 = rd, rd

	switch bits(h, 11, 10) {
	case 0:
		inst.Imm = ciShamt(h)
		d.setC(inst, "c.srli", OpSRLI, ClassOpImm, RegName(rd), fmt.Sprintf("%d", inst.Imm))
	case 1:
		inst.Imm = ciShamt(h)
		d.setC(inst, "c.srai", OpSRAI, ClassOpImm, RegName(rd), fmt.Sprintf("%d", inst.Imm))
	case 2:
		inst.Imm = ciImm(h)
		d.setC(inst, "c.andi", OpANDI, ClassOpImm, RegName(rd), fmt.Sprintf("%d", inst.Imm))
	case 3:
		entry := cALUOps[bit(h, 12)][bits(h, 6, 5)]
		if entry.op == OpUnknown {
			d.compressedUnknown(inst)
			return
		}
		inst.Rs2 = creg(h >> 2)
		d.setC(inst, entry.mnemonic, entry.op, entry.class, RegName(rd), RegName(inst.Rs2))
	}
}

// decodeCJ decodes c.j; offset[11|4|9:8|10|6|7|3:1|5] = h[12:2].
func (d *Decoder) decodeCJ(h uint16, pc uint64, inst *Instruction) {
	v := bit(h, 12)<<11 | bit(h, 11)<<4 | bits(h, 10, 9)<<8 | bit(h, 8)<<10 |
		bit(h, 7)<<6 | bit(h, 6)<<7 | bits(h, 5, 3)<<1 | bit(h, 2)<<5
	inst.Rd = RegZero
	inst.Imm = signExtend(v, 12)
	inst.Target = pc + uint64(inst.Imm)
	inst.HasTarget = true
	d.setC(inst, "c.j", OpJAL, ClassJAL, hex(inst.Target))
}

// decodeCBranch decodes c.beqz/c.bnez; offset[8|4:3] = h[12:10],
// offset[7:6|2:1|5] = h[6:2].
func (d *Decoder) decodeCBranch(h uint16, pc uint64, inst *Instruction) {
	v := bit(h, 12)<<8 | bits(h, 11, 10)<<3 | bits(h, 6, 5)<<6 | bits(h, 4, 3)<<1 | bit(h, 2)<<5
	inst.Rs1 = creg(h >> 7)
	inst.Rs2 = RegZero
	inst.Imm = signExtend(v, 9)
	inst.Target = pc + uint64(inst.Imm)
	inst.HasTarget = true

	if (h>>13)&0x7 == 6 {
		d.setC(inst, "c.beqz", OpBEQ, ClassBranch, RegName(inst.Rs1), hex(inst.Target))
		return
	}
	d.setC(inst, "c.bnez", OpBNE, ClassBranch, RegName(inst.Rs1), hex(inst.Target))
}

// Quadrant 2: SP-relative spills and fills, shifts, jumps through
// registers, moves and adds.

func (d *Decoder) decodeCSLLI(h uint16, _ uint64, inst *Instruction) {
	rd := uint8(bits(h, 11, 7))
	if rd == 0 {
		d.compressedUnknown(inst)
		return
	}
	inst.Rd, inst.Rs1 = rd, rd
	inst.Imm = ciShamt(h)
	d.setC(inst, "c.slli", OpSLLI, ClassOpImm, RegName(rd), fmt.Sprintf("%d", inst.Imm))
}

// spDoubleOffset is the c.ldsp/c.fldsp offset: uimm[5] = h[12],
// uimm[4:3|8:6] = h[6:2].
func spDoubleOffset(h uint16) int64 {
	return int64(bit(h, 12)<<5 | bits(h, 6, 5)<<3 | bits(h, 4, 2)<<6)
}

func (d *Decoder) decodeCFLDSP(h uint16, _ uint64, inst *Instruction) {
	inst.Rd = uint8(bits(h, 11, 7))
	inst.Rs1 = RegSP
	inst.Imm = spDoubleOffset(h)
	inst.Width = 8
	d.setC(inst, "c.fldsp", OpFLD, ClassFPLoad,
		FPRegName(inst.Rd), memOperand(inst.Imm, RegSP))
}

func (d *Decoder) decodeCLWSP(h uint16, _ uint64, inst *Instruction) {
	rd := uint8(bits(h, 11, 7))
	if rd == 0 {
		d.compressedUnknown(inst)
		return
	}
	inst.Rd = rd
	inst.Rs1 = RegSP
	// uimm[5] = h[12], uimm[4:2|7:6] = h[6:2]
	inst.Imm = int64(bit(h, 12)<<5 | bits(h, 6, 4)<<2 | bits(h, 3, 2)<<6)
	inst.Width = 4
	d.setC(inst, "c.lwsp", OpLW, ClassLoad, RegName(rd), memOperand(inst.Imm, RegSP))
}

func (d *Decoder) decodeCLDSP(h uint16, _ uint64, inst *Instruction) {
	rd := uint8(bits(h, 11, 7))
	if rd == 0 {
		d.compressedUnknown(inst)
		return
	}
	inst.Rd = rd
	inst.Rs1 = RegSP
	inst.Imm = spDoubleOffset(h)
	inst.Width = 8
	d.setC(inst, "c.ldsp", OpLD, ClassLoad, RegName(rd), memOperand(inst.Imm, RegSP))
}

// decodeCJumpMoveAdd handles funct3 = 4: c.jr, c.mv, c.ebreak, c.jalr and
// c.add, told apart by h[12] and whether rs1/rs2 are zero.
func (d *Decoder) decodeCJumpMoveAdd(h uint16, _ uint64, inst *Instruction) {
	rs1 := uint8(bits(h, 11, 7))
	rs2 := uint8(bits(h, 6, 2))

	switch {
	case bit(h, 12) == 0 && rs2 == 0:
		if rs1 == 0 {
			d.compressedUnknown(inst)
			return
		}
		inst.Rd, inst.Rs1 = RegZero, rs1
		d.setC(inst, "c.jr", OpJALR, ClassJALR, RegName(rs1))
	case bit(h, 12) == 0:
		inst.Rd, inst.Rs1, inst.Rs2 = rs1, RegZero, rs2
		d.setC(inst, "c.mv", OpADD, ClassOp, RegName(rs1), RegName(rs2))
	case rs1 == 0 && rs2 == 0:
		d.setC(inst, "c.ebreak", OpEBREAK, ClassSystem)
	case rs2 == 0:
		inst.Rd, inst.Rs1 = RegRA, rs1
		d.setC(inst, "c.jalr", OpJALR, ClassJALR, RegName(rs1))
	default:
		inst.Rd, inst.Rs1, inst.Rs2 = rs1, rs1, rs2
		d.setC(inst, "c.add", OpADD, ClassOp, RegName(rs1), RegName(rs2))
	}
}

// spStoreDoubleOffset is the c.sdsp/c.fsdsp offset: uimm[5:3|8:6] = h[12:7].
func spStoreDoubleOffset(h uint16) int64 {
	return int64(bits(h, 12, 10)<<3 | bits(h, 9, 7)<<6)
}

func (d *Decoder) decodeCFSDSP(h uint16, _ uint64, inst *Instruction) {
	inst.Rs2 = uint8(bits(h, 6, 2))
	inst.Rs1 = RegSP
	inst.Imm = spStoreDoubleOffset(h)
	inst.Width = 8
	d.setC(inst, "c.fsdsp", OpFSD, ClassFPStore,
		FPRegName(inst.Rs2), memOperand(inst.Imm, RegSP))
}

func (d *Decoder) decodeCSWSP(h uint16, _ uint64, inst *Instruction) {
	inst.Rs2 = uint8(bits(h, 6, 2))
	inst.Rs1 = RegSP
	// uimm[5:2|7:6] = h[12:7]
	inst.Imm = int64(bits(h, 12, 9)<<2 | bits(h, 8, 7)<<6)
	inst.Width = 4
	d.setC(inst, "c.swsp", OpSW, ClassStore, RegName(inst.Rs2), memOperand(inst.Imm, RegSP))
}

func (d *Decoder) decodeCSDSP(h uint16, _ uint64, inst *Instruction) {
	inst.Rs2 = uint8(bits(h, 6, 2))
	inst.Rs1 = RegSP
	inst.Imm = spStoreDoubleOffset(h)
	inst.Width = 8
	d.setC(inst, "c.sdsp", OpSD, ClassStore, RegName(inst.Rs2), memOperand(inst.Imm, RegSP))
}
