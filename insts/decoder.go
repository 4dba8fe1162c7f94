// Package insts provides RV64 instruction definitions and decoding.
package insts

import (
	"fmt"
	"strings"
)

// Op represents a RISC-V operation. Compressed instructions decode to the
// Op of their expanded form.
type Op uint16

// RISC-V operations.
const (
	OpUnknown Op = iota

	// Loads and stores
	OpLB
	OpLH
	OpLW
	OpLD
	OpLBU
	OpLHU
	OpLWU
	OpSB
	OpSH
	OpSW
	OpSD
	OpFLD
	OpFSD

	// Immediate ALU
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpADDIW
	OpSLLIW
	OpSRLIW
	OpSRAIW

	// Register ALU
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND
	OpADDW
	OpSUBW
	OpSLLW
	OpSRLW
	OpSRAW

	// M extension
	OpMUL
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU
	OpMULW
	OpDIVW
	OpDIVUW
	OpREMW
	OpREMUW

	// Upper immediates and control transfer
	OpLUI
	OpAUIPC
	OpJAL
	OpJALR
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU

	// System
	OpECALL
	OpEBREAK
	OpSRET
	OpMRET
	OpWFI
	OpSFENCEVMA
	OpCSRRW
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI

	// Memory ordering
	OpFENCE
	OpFENCEI

	// A extension
	OpLR
	OpSC
	OpAMOSWAP
	OpAMOADD
	OpAMOXOR
	OpAMOAND
	OpAMOOR
	OpAMOMIN
	OpAMOMAX
	OpAMOMINU
	OpAMOMAXU
)

// Class identifies the major opcode group an instruction belongs to. The
// standard decoder dispatches through a table indexed by Class.
type Class uint8

// Instruction classes.
const (
	ClassUnknown Class = iota
	ClassLoad          // LOAD (0x03)
	ClassStore         // STORE (0x23)
	ClassOpImm         // OP-IMM (0x13)
	ClassOpImm32       // OP-IMM-32 (0x1B)
	ClassOp            // OP (0x33)
	ClassOp32          // OP-32 (0x3B)
	ClassLUI           // LUI (0x37)
	ClassAUIPC         // AUIPC (0x17)
	ClassJAL           // JAL (0x6F)
	ClassJALR          // JALR (0x67)
	ClassBranch        // BRANCH (0x63)
	ClassSystem        // SYSTEM (0x73)
	ClassMiscMem       // MISC-MEM (0x0F)
	ClassAMO           // AMO (0x2F)
	ClassFPLoad        // LOAD-FP (only reachable through compressed forms)
	ClassFPStore       // STORE-FP (only reachable through compressed forms)

	numClasses
)

var classNames = [numClasses]string{
	ClassUnknown: "unknown",
	ClassLoad:    "load",
	ClassStore:   "store",
	ClassOpImm:   "op-imm",
	ClassOpImm32: "op-imm-32",
	ClassOp:      "op",
	ClassOp32:    "op-32",
	ClassLUI:     "lui",
	ClassAUIPC:   "auipc",
	ClassJAL:     "jal",
	ClassJALR:    "jalr",
	ClassBranch:  "branch",
	ClassSystem:  "system",
	ClassMiscMem: "misc-mem",
	ClassAMO:     "amo",
	ClassFPLoad:  "load-fp",
	ClassFPStore: "store-fp",
}

// String returns the class name.
func (c Class) String() string {
	if c < numClasses {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Major opcodes of the 32-bit encoding.
const (
	opcodeLoad    = 0x03
	opcodeLoadFP  = 0x07
	opcodeMiscMem = 0x0F
	opcodeOpImm   = 0x13
	opcodeAUIPC   = 0x17
	opcodeOpImm32 = 0x1B
	opcodeStore   = 0x23
	opcodeStoreFP = 0x27
	opcodeAMO     = 0x2F
	opcodeOp      = 0x33
	opcodeLUI     = 0x37
	opcodeOp32    = 0x3B
	opcodeBranch  = 0x63
	opcodeJALR    = 0x67
	opcodeJAL     = 0x6F
	opcodeSystem  = 0x73
)

// Instruction represents a decoded RISC-V instruction.
type Instruction struct {
	Op    Op    // Operation (expanded form for compressed instructions)
	Class Class // Major opcode group

	Mnemonic string   // Printed mnemonic, e.g. "c.ldsp" or "amoadd.w.aq"
	Operands []string // Printed operands in assembler order
	Comment  string   // Optional annotation, e.g. the absolute AUIPC target

	Raw  uint32 // Raw encoding (low 16 bits only for compressed)
	Size int    // Encoding width in bytes: 2 or 4

	Rd  uint8 // Destination register
	Rs1 uint8 // First source register
	Rs2 uint8 // Second source register

	Imm int64  // Sign-extended immediate, offset or shift amount
	CSR uint16 // CSR index for Zicsr instructions

	// Target is the absolute destination of a PC-relative transfer
	// (JAL, branches) or the AUIPC result. Valid when HasTarget is set.
	Target    uint64
	HasTarget bool

	Width int  // Memory access width in bytes for loads, stores and AMOs
	Aq    bool // Acquire bit for AMOs
	Rl    bool // Release bit for AMOs
}

// String renders the instruction as assembler text.
func (i *Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(i.Mnemonic)
	if len(i.Operands) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(i.Operands, ", "))
	}
	if i.Comment != "" {
		sb.WriteString(" (")
		sb.WriteString(i.Comment)
		sb.WriteByte(')')
	}
	return sb.String()
}

// Encoding renders the raw encoding with its natural width.
func (i *Instruction) Encoding() string {
	if i.Size == 2 {
		return fmt.Sprintf("%04x", i.Raw&0xFFFF)
	}
	return fmt.Sprintf("%08x", i.Raw)
}

// IsCompressed returns true for 16-bit encodings.
func (i *Instruction) IsCompressed() bool {
	return i.Size == 2
}

// IsUnknown returns true if the encoding was not recognized.
func (i *Instruction) IsUnknown() bool {
	return i.Op == OpUnknown
}

// IsLoad returns true for integer loads, including compressed forms.
func (i *Instruction) IsLoad() bool {
	return i.Class == ClassLoad
}

// IsStore returns true for integer stores, including compressed forms.
func (i *Instruction) IsStore() bool {
	return i.Class == ClassStore
}

// IsControlTransfer returns true for jumps and branches.
func (i *Instruction) IsControlTransfer() bool {
	switch i.Class {
	case ClassJAL, ClassJALR, ClassBranch:
		return true
	default:
		return false
	}
}

// Length returns the byte length of the instruction whose first half-word
// is hw: 4 when the low two bits are 0b11, 2 otherwise.
func Length(hw uint16) int {
	if hw&0x3 == 0x3 {
		return 4
	}
	return 2
}

// decodeFunc fills inst from a 32-bit encoding of the class it handles.
type decodeFunc func(d *Decoder, f fields, inst *Instruction)

// standardHandlers maps every Class to its decoder. The array is sized by
// numClasses so a class added without a handler is caught by the
// completeness check in the tests.
var standardHandlers = [numClasses]decodeFunc{
	ClassUnknown: (*Decoder).decodeUnknown,
	ClassLoad:    (*Decoder).decodeLoad,
	ClassStore:   (*Decoder).decodeStore,
	ClassOpImm:   (*Decoder).decodeOpImm,
	ClassOpImm32: (*Decoder).decodeOpImm32,
	ClassOp:      (*Decoder).decodeOp,
	ClassOp32:    (*Decoder).decodeOp32,
	ClassLUI:     (*Decoder).decodeLUI,
	ClassAUIPC:   (*Decoder).decodeAUIPC,
	ClassJAL:     (*Decoder).decodeJAL,
	ClassJALR:    (*Decoder).decodeJALR,
	ClassBranch:  (*Decoder).decodeBranch,
	ClassSystem:  (*Decoder).decodeSystem,
	ClassMiscMem: (*Decoder).decodeMiscMem,
	ClassAMO:     (*Decoder).decodeAMO,
	ClassFPLoad:  (*Decoder).decodeUnknown,
	ClassFPStore: (*Decoder).decodeUnknown,
}

// HandlersComplete reports whether every class has a standard handler.
func HandlersComplete() bool {
	for _, h := range standardHandlers {
		if h == nil {
			return false
		}
	}
	return true
}

// classify maps a 7-bit major opcode to its Class.
func classify(opcode uint32) Class {
	switch opcode {
	case opcodeLoad:
		return ClassLoad
	case opcodeStore:
		return ClassStore
	case opcodeOpImm:
		return ClassOpImm
	case opcodeOpImm32:
		return ClassOpImm32
	case opcodeOp:
		return ClassOp
	case opcodeOp32:
		return ClassOp32
	case opcodeLUI:
		return ClassLUI
	case opcodeAUIPC:
		return ClassAUIPC
	case opcodeJAL:
		return ClassJAL
	case opcodeJALR:
		return ClassJALR
	case opcodeBranch:
		return ClassBranch
	case opcodeSystem:
		return ClassSystem
	case opcodeMiscMem:
		return ClassMiscMem
	case opcodeAMO:
		return ClassAMO
	case opcodeLoadFP:
		return ClassFPLoad
	case opcodeStoreFP:
		return ClassFPStore
	default:
		return ClassUnknown
	}
}

// Decoder decodes RISC-V machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new RISC-V instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes the instruction whose encoding starts in the low bits of
// word and which sits at address pc. Only the low 16 bits are consumed
// when they denote a compressed instruction.
func (d *Decoder) Decode(word uint32, pc uint64) *Instruction {
	if Length(uint16(word)) == 2 {
		return d.decodeCompressed(uint16(word), pc)
	}

	f := extractFields(word, pc)
	inst := &Instruction{
		Raw:   word,
		Size:  4,
		Class: classify(f.opcode),
		Rd:    uint8(f.rd),
		Rs1:   uint8(f.rs1),
		Rs2:   uint8(f.rs2),
	}

	standardHandlers[inst.Class](d, f, inst)

	return inst
}

// fields holds the fixed-position fields of a 32-bit encoding.
type fields struct {
	word   uint32
	pc     uint64
	opcode uint32
	rd     uint32
	funct3 uint32
	rs1    uint32
	rs2    uint32
	funct7 uint32
}

func extractFields(word uint32, pc uint64) fields {
	return fields{
		word:   word,
		pc:     pc,
		opcode: word & 0x7F,         // bits [6:0]
		rd:     (word >> 7) & 0x1F,  // bits [11:7]
		funct3: (word >> 12) & 0x7,  // bits [14:12]
		rs1:    (word >> 15) & 0x1F, // bits [19:15]
		rs2:    (word >> 20) & 0x1F, // bits [24:20]
		funct7: word >> 25,          // bits [31:25]
	}
}

// signExtend sign-extends the low bits of v to 64 bits.
func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// setUnknown turns inst into a placeholder for an unrecognized encoding.
func setUnknown(inst *Instruction) {
	inst.Op = OpUnknown
	inst.Class = ClassUnknown
	inst.Operands = nil
	inst.Comment = ""
	inst.HasTarget = false
	inst.Width = 0
	if inst.Size == 2 {
		inst.Mnemonic = fmt.Sprintf("c.??? (0x%04x)", inst.Raw&0xFFFF)
	} else {
		inst.Mnemonic = fmt.Sprintf("??? (0x%08x)", inst.Raw)
	}
}

// decodeUnknown handles major opcodes outside the supported set.
func (d *Decoder) decodeUnknown(_ fields, inst *Instruction) {
	setUnknown(inst)
}

func hex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func memOperand(imm int64, base uint8) string {
	return fmt.Sprintf("%d(%s)", imm, RegName(base))
}
