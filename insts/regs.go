package insts

import "fmt"

// abiNames holds the integer register ABI names indexed by register number.
var abiNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// fpABINames holds the floating-point register ABI names.
var fpABINames = [32]string{
	"ft0", "ft1", "ft2", "ft3", "ft4", "ft5", "ft6", "ft7",
	"fs0", "fs1", "fa0", "fa1", "fa2", "fa3", "fa4", "fa5",
	"fa6", "fa7", "fs2", "fs3", "fs4", "fs5", "fs6", "fs7",
	"fs8", "fs9", "fs10", "fs11", "ft8", "ft9", "ft10", "ft11",
}

// Register numbers with a fixed role in the calling convention.
const (
	RegZero uint8 = 0
	RegRA   uint8 = 1
	RegSP   uint8 = 2
	RegA0   uint8 = 10
	RegA7   uint8 = 17
)

// RegName returns the ABI name of integer register idx.
func RegName(idx uint8) string {
	if int(idx) < len(abiNames) {
		return abiNames[idx]
	}
	return fmt.Sprintf("x%d", idx)
}

// FPRegName returns the ABI name of floating-point register idx.
func FPRegName(idx uint8) string {
	if int(idx) < len(fpABINames) {
		return fpABINames[idx]
	}
	return fmt.Sprintf("f%d", idx)
}

// RegIndex looks up an integer register by ABI name ("a5") or by
// architectural name ("x15").
func RegIndex(name string) (uint8, bool) {
	for i, n := range abiNames {
		if n == name {
			return uint8(i), true
		}
	}
	if name == "fp" {
		return 8, true
	}

	var idx int
	if _, err := fmt.Sscanf(name, "x%d", &idx); err == nil && idx >= 0 && idx < 32 {
		return uint8(idx), true
	}
	return 0, false
}

// csrNames maps the CSR indices seen in kernel trap paths to their names.
var csrNames = map[uint16]string{
	0x100: "sstatus",
	0x104: "sie",
	0x105: "stvec",
	0x140: "sscratch",
	0x141: "sepc",
	0x142: "scause",
	0x143: "stval",
	0x144: "sip",
	0x180: "satp",
	0x300: "mstatus",
	0x301: "misa",
	0x302: "medeleg",
	0x303: "mideleg",
	0x304: "mie",
	0x305: "mtvec",
	0x340: "mscratch",
	0x341: "mepc",
	0x342: "mcause",
	0x343: "mtval",
	0x344: "mip",
	0xC00: "cycle",
	0xC01: "time",
	0xC02: "instret",
	0xF14: "mhartid",
}

// CSRName returns the name of a CSR index, if it is a well-known one.
func CSRName(csr uint16) (string, bool) {
	name, ok := csrNames[csr]
	return name, ok
}

// CSRIndex returns the index of a well-known CSR by name.
func CSRIndex(name string) (uint16, bool) {
	for idx, n := range csrNames {
		if n == name {
			return idx, true
		}
	}
	return 0, false
}
