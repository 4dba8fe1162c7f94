package insts

import "fmt"

// Immediate layouts of the 32-bit encoding.

// immI extracts the I-type immediate: imm[11:0] = bits [31:20].
func immI(w uint32) int64 {
	return int64(int32(w) >> 20)
}

// immS extracts the S-type immediate: imm[11:5] = bits [31:25],
// imm[4:0] = bits [11:7].
func immS(w uint32) int64 {
	return int64(int32(w)>>25)<<5 | int64((w>>7)&0x1F)
}

// immB extracts the B-type offset: imm[12|10:5] = bits [31:25],
// imm[4:1|11] = bits [11:7].
func immB(w uint32) int64 {
	v := uint64((w>>31)&0x1)<<12 |
		uint64((w>>7)&0x1)<<11 |
		uint64((w>>25)&0x3F)<<5 |
		uint64((w>>8)&0xF)<<1
	return signExtend(v, 13)
}

// immU extracts the U-type immediate: imm[31:12] = bits [31:12].
func immU(w uint32) int64 {
	return int64(int32(w & 0xFFFFF000))
}

// immJ extracts the J-type offset: imm[20|10:1|11|19:12] = bits [31:12].
func immJ(w uint32) int64 {
	v := uint64((w>>31)&0x1)<<20 |
		uint64((w>>12)&0xFF)<<12 |
		uint64((w>>20)&0x1)<<11 |
		uint64((w>>21)&0x3FF)<<1
	return signExtend(v, 21)
}

var loadOps = [8]struct {
	op    Op
	width int
}{
	0: {OpLB, 1}, 1: {OpLH, 2}, 2: {OpLW, 4}, 3: {OpLD, 8},
	4: {OpLBU, 1}, 5: {OpLHU, 2}, 6: {OpLWU, 4},
}

// decodeLoad decodes LOAD: lb/lh/lw/ld/lbu/lhu/lwu rd, imm(rs1).
func (d *Decoder) decodeLoad(f fields, inst *Instruction) {
	entry := loadOps[f.funct3]
	if entry.op == OpUnknown {
		setUnknown(inst)
		return
	}

	inst.Op = entry.op
	inst.Width = entry.width
	inst.Imm = immI(f.word)
	inst.Rs2 = 0
	inst.Mnemonic = entry.op.String()
	inst.Operands = []string{RegName(inst.Rd), memOperand(inst.Imm, inst.Rs1)}
}

var storeOps = [8]Op{0: OpSB, 1: OpSH, 2: OpSW, 3: OpSD}

// decodeStore decodes STORE: sb/sh/sw/sd rs2, imm(rs1).
func (d *Decoder) decodeStore(f fields, inst *Instruction) {
	op := storeOps[f.funct3]
	if op == OpUnknown {
		setUnknown(inst)
		return
	}

	inst.Op = op
	inst.Width = 1 << f.funct3
	inst.Imm = immS(f.word)
	inst.Rd = 0
	inst.Mnemonic = op.String()
	inst.Operands = []string{RegName(inst.Rs2), memOperand(inst.Imm, inst.Rs1)}
}

var opImmOps = [8]Op{
	0: OpADDI, 2: OpSLTI, 3: OpSLTIU, 4: OpXORI, 6: OpORI, 7: OpANDI,
}

// decodeOpImm decodes OP-IMM. Shifts on RV64 take a 6-bit shamt and use
// funct6 (bits [31:26]) to tell logical from arithmetic right shifts.
func (d *Decoder) decodeOpImm(f fields, inst *Instruction) {
	inst.Rs2 = 0

	switch f.funct3 {
	case 1, 5:
		funct6 := f.word >> 26
		shamt := int64((f.word >> 20) & 0x3F)
		switch {
		case f.funct3 == 1 && funct6 == 0x00:
			inst.Op = OpSLLI
		case f.funct3 == 5 && funct6 == 0x00:
			inst.Op = OpSRLI
		case f.funct3 == 5 && funct6 == 0x10:
			inst.Op = OpSRAI
		default:
			setUnknown(inst)
			return
		}
		inst.Imm = shamt
	default:
		inst.Op = opImmOps[f.funct3]
		inst.Imm = immI(f.word)
	}

	inst.Mnemonic = inst.Op.String()
	inst.Operands = []string{RegName(inst.Rd), RegName(inst.Rs1), fmt.Sprintf("%d", inst.Imm)}
}

// decodeOpImm32 decodes OP-IMM-32: addiw and the 5-bit-shamt word shifts.
func (d *Decoder) decodeOpImm32(f fields, inst *Instruction) {
	inst.Rs2 = 0

	switch {
	case f.funct3 == 0:
		inst.Op = OpADDIW
		inst.Imm = immI(f.word)
	case f.funct3 == 1 && f.funct7 == 0x00:
		inst.Op = OpSLLIW
		inst.Imm = int64(f.rs2)
	case f.funct3 == 5 && f.funct7 == 0x00:
		inst.Op = OpSRLIW
		inst.Imm = int64(f.rs2)
	case f.funct3 == 5 && f.funct7 == 0x20:
		inst.Op = OpSRAIW
		inst.Imm = int64(f.rs2)
	default:
		setUnknown(inst)
		return
	}

	inst.Mnemonic = inst.Op.String()
	inst.Operands = []string{RegName(inst.Rd), RegName(inst.Rs1), fmt.Sprintf("%d", inst.Imm)}
}

// funct7 values selecting the register ALU variant.
const (
	funct7Base   = 0x00
	funct7MulDiv = 0x01
	funct7Alt    = 0x20
)

var opBaseOps = [8]Op{OpADD, OpSLL, OpSLT, OpSLTU, OpXOR, OpSRL, OpOR, OpAND}
var opAltOps = [8]Op{0: OpSUB, 5: OpSRA}
var opMulOps = [8]Op{OpMUL, OpMULH, OpMULHSU, OpMULHU, OpDIV, OpDIVU, OpREM, OpREMU}

// decodeOp decodes OP, including the M extension selected by funct7 = 1.
func (d *Decoder) decodeOp(f fields, inst *Instruction) {
	var op Op
	switch f.funct7 {
	case funct7Base:
		op = opBaseOps[f.funct3]
	case funct7Alt:
		op = opAltOps[f.funct3]
	case funct7MulDiv:
		op = opMulOps[f.funct3]
	}
	d.finishRType(op, inst)
}

var op32BaseOps = [8]Op{0: OpADDW, 1: OpSLLW, 5: OpSRLW}
var op32AltOps = [8]Op{0: OpSUBW, 5: OpSRAW}
var op32MulOps = [8]Op{0: OpMULW, 4: OpDIVW, 5: OpDIVUW, 6: OpREMW, 7: OpREMUW}

// decodeOp32 decodes OP-32, the 32-bit word register operations.
func (d *Decoder) decodeOp32(f fields, inst *Instruction) {
	var op Op
	switch f.funct7 {
	case funct7Base:
		op = op32BaseOps[f.funct3]
	case funct7Alt:
		op = op32AltOps[f.funct3]
	case funct7MulDiv:
		op = op32MulOps[f.funct3]
	}
	d.finishRType(op, inst)
}

func (d *Decoder) finishRType(op Op, inst *Instruction) {
	if op == OpUnknown {
		setUnknown(inst)
		return
	}
	inst.Op = op
	inst.Mnemonic = op.String()
	inst.Operands = []string{RegName(inst.Rd), RegName(inst.Rs1), RegName(inst.Rs2)}
}

// decodeLUI decodes LUI rd, imm20.
func (d *Decoder) decodeLUI(f fields, inst *Instruction) {
	inst.Op = OpLUI
	inst.Rs1, inst.Rs2 = 0, 0
	inst.Imm = immU(f.word)
	inst.Mnemonic = "lui"
	inst.Operands = []string{RegName(inst.Rd), hex(uint64(f.word >> 12))}
}

// decodeAUIPC decodes AUIPC rd, imm20 and resolves the absolute result.
func (d *Decoder) decodeAUIPC(f fields, inst *Instruction) {
	inst.Op = OpAUIPC
	inst.Rs1, inst.Rs2 = 0, 0
	inst.Imm = immU(f.word)
	inst.Target = f.pc + uint64(inst.Imm)
	inst.HasTarget = true
	inst.Mnemonic = "auipc"
	inst.Operands = []string{RegName(inst.Rd), hex(uint64(f.word >> 12))}
	inst.Comment = "=" + hex(inst.Target)
}

// decodeJAL decodes JAL rd, target.
func (d *Decoder) decodeJAL(f fields, inst *Instruction) {
	inst.Op = OpJAL
	inst.Rs1, inst.Rs2 = 0, 0
	inst.Imm = immJ(f.word)
	inst.Target = f.pc + uint64(inst.Imm)
	inst.HasTarget = true
	inst.Mnemonic = "jal"
	inst.Operands = []string{RegName(inst.Rd), hex(inst.Target)}
}

// decodeJALR decodes JALR rd, imm(rs1).
func (d *Decoder) decodeJALR(f fields, inst *Instruction) {
	if f.funct3 != 0 {
		setUnknown(inst)
		return
	}
	inst.Op = OpJALR
	inst.Rs2 = 0
	inst.Imm = immI(f.word)
	inst.Mnemonic = "jalr"
	inst.Operands = []string{RegName(inst.Rd), memOperand(inst.Imm, inst.Rs1)}
}

var branchOps = [8]Op{0: OpBEQ, 1: OpBNE, 4: OpBLT, 5: OpBGE, 6: OpBLTU, 7: OpBGEU}

// decodeBranch decodes conditional branches with an absolute target.
func (d *Decoder) decodeBranch(f fields, inst *Instruction) {
	op := branchOps[f.funct3]
	if op == OpUnknown {
		setUnknown(inst)
		return
	}
	inst.Op = op
	inst.Rd = 0
	inst.Imm = immB(f.word)
	inst.Target = f.pc + uint64(inst.Imm)
	inst.HasTarget = true
	inst.Mnemonic = op.String()
	inst.Operands = []string{RegName(inst.Rs1), RegName(inst.Rs2), hex(inst.Target)}
}

// Fixed SYSTEM encodings.
const (
	encECALL  = 0x00000073
	encEBREAK = 0x00100073
	encSRET   = 0x10200073
	encMRET   = 0x30200073
	encWFI    = 0x10500073
)

var csrOps = [8]Op{1: OpCSRRW, 2: OpCSRRS, 3: OpCSRRC, 5: OpCSRRWI, 6: OpCSRRSI, 7: OpCSRRCI}

// decodeSystem decodes SYSTEM: privileged forms and Zicsr.
func (d *Decoder) decodeSystem(f fields, inst *Instruction) {
	if f.funct3 == 0 {
		d.decodePrivileged(f, inst)
		return
	}

	op := csrOps[f.funct3]
	if op == OpUnknown {
		setUnknown(inst)
		return
	}

	inst.Op = op
	inst.Rs2 = 0
	inst.CSR = uint16(f.word >> 20)
	inst.Mnemonic = op.String()

	csr := fmt.Sprintf("0x%03x", inst.CSR)
	var src string
	if f.funct3 >= 5 {
		// Immediate forms carry a 5-bit zero-extended value in the rs1 field.
		inst.Imm = int64(f.rs1)
		inst.Rs1 = 0
		src = fmt.Sprintf("%d", inst.Imm)
	} else {
		src = RegName(inst.Rs1)
	}
	inst.Operands = []string{RegName(inst.Rd), csr, src}
	if name, ok := CSRName(inst.CSR); ok {
		inst.Comment = name
	}
}

func (d *Decoder) decodePrivileged(f fields, inst *Instruction) {
	switch f.word {
	case encECALL:
		inst.Op = OpECALL
	case encEBREAK:
		inst.Op = OpEBREAK
	case encSRET:
		inst.Op = OpSRET
	case encMRET:
		inst.Op = OpMRET
	case encWFI:
		inst.Op = OpWFI
	default:
		if f.funct7 == 0x09 && f.rd == 0 {
			inst.Op = OpSFENCEVMA
			inst.Mnemonic = "sfence.vma"
			inst.Operands = []string{RegName(inst.Rs1), RegName(inst.Rs2)}
			return
		}
		setUnknown(inst)
		return
	}

	inst.Rd, inst.Rs1, inst.Rs2 = 0, 0, 0
	inst.Mnemonic = inst.Op.String()
}

// decodeMiscMem decodes fence and fence.i.
func (d *Decoder) decodeMiscMem(f fields, inst *Instruction) {
	inst.Rd, inst.Rs1, inst.Rs2 = 0, 0, 0

	switch f.funct3 {
	case 0:
		inst.Op = OpFENCE
		inst.Mnemonic = "fence"
		pred := (f.word >> 24) & 0xF
		succ := (f.word >> 20) & 0xF
		if pred != 0xF || succ != 0xF {
			inst.Operands = []string{fenceSet(pred), fenceSet(succ)}
		}
	case 1:
		inst.Op = OpFENCEI
		inst.Mnemonic = "fence.i"
	default:
		setUnknown(inst)
	}
}

// fenceSet renders a fence predecessor/successor set such as "rw".
func fenceSet(bits uint32) string {
	s := ""
	for i, c := range "iorw" {
		if bits&(0x8>>i) != 0 {
			s += string(c)
		}
	}
	if s == "" {
		return "0"
	}
	return s
}

var amoOps = map[uint32]Op{
	0x00: OpAMOADD,
	0x01: OpAMOSWAP,
	0x02: OpLR,
	0x03: OpSC,
	0x04: OpAMOXOR,
	0x08: OpAMOOR,
	0x0C: OpAMOAND,
	0x10: OpAMOMIN,
	0x14: OpAMOMAX,
	0x18: OpAMOMINU,
	0x1C: OpAMOMAXU,
}

// decodeAMO decodes the A extension. funct7[6:2] selects the operation,
// funct7[1:0] carries aq/rl and funct3 the data width.
func (d *Decoder) decodeAMO(f fields, inst *Instruction) {
	var suffix string
	switch f.funct3 {
	case 2:
		inst.Width = 4
		suffix = ".w"
	case 3:
		inst.Width = 8
		suffix = ".d"
	default:
		setUnknown(inst)
		return
	}

	op, ok := amoOps[f.funct7>>2]
	if !ok || (op == OpLR && f.rs2 != 0) {
		setUnknown(inst)
		return
	}

	inst.Op = op
	inst.Aq = (f.funct7>>1)&0x1 == 1
	inst.Rl = f.funct7&0x1 == 1

	switch {
	case inst.Aq && inst.Rl:
		suffix += ".aqrl"
	case inst.Aq:
		suffix += ".aq"
	case inst.Rl:
		suffix += ".rl"
	}
	inst.Mnemonic = op.String() + suffix

	base := "(" + RegName(inst.Rs1) + ")"
	if op == OpLR {
		inst.Operands = []string{RegName(inst.Rd), base}
		return
	}
	inst.Operands = []string{RegName(inst.Rd), RegName(inst.Rs2), base}
}
