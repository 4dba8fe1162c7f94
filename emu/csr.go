package emu

import (
	"github.com/sarchlab/rvdiag/sim"
)

// CSR indices.
const (
	CSRSstatus  uint16 = 0x100
	CSRSie      uint16 = 0x104
	CSRStvec    uint16 = 0x105
	CSRSscratch uint16 = 0x140
	CSRSepc     uint16 = 0x141
	CSRScause   uint16 = 0x142
	CSRStval    uint16 = 0x143
	CSRSip      uint16 = 0x144
	CSRSatp     uint16 = 0x180
	CSRMstatus  uint16 = 0x300
	CSRMisa     uint16 = 0x301
	CSRMedeleg  uint16 = 0x302
	CSRMideleg  uint16 = 0x303
	CSRMie      uint16 = 0x304
	CSRMtvec    uint16 = 0x305
	CSRMscratch uint16 = 0x340
	CSRMepc     uint16 = 0x341
	CSRMcause   uint16 = 0x342
	CSRMtval    uint16 = 0x343
	CSRMip      uint16 = 0x344
	CSRCycle    uint16 = 0xC00
	CSRTime     uint16 = 0xC01
	CSRInstret  uint16 = 0xC02
	CSRMhartid  uint16 = 0xF14
)

// mstatus fields.
const (
	statusSIE  = 1 << 1
	statusMIE  = 1 << 3
	statusSPIE = 1 << 5
	statusMPIE = 1 << 7
	statusSPP  = 1 << 8
	statusSUM  = 1 << 18
	statusMXR  = 1 << 19

	statusMPPShift = 11
	statusMPPMask  = 3 << statusMPPShift

	// UXL = SXL = 64 bits.
	statusXLen = 0xA << 32

	sstatusMask = statusSIE | statusSPIE | statusSPP | 3<<13 | statusSUM | statusMXR | 3<<32 | 1<<63
)

// misaValue advertises RV64 with the A, C, I, M, S and U extensions.
const misaValue = 2<<62 | 1<<0 | 1<<2 | 1<<8 | 1<<12 | 1<<18 | 1<<20

// Writable delegation bits: exceptions 0-15 except ecall from M.
const medelegMask = 0xB3FF

// CSRFile holds the machine's control and status registers.
type CSRFile struct {
	mstatus  uint64
	medeleg  uint64
	mideleg  uint64
	mie      uint64
	mip      uint64
	mtvec    uint64
	mscratch uint64
	mepc     uint64
	mcause   uint64
	mtval    uint64
	stvec    uint64
	sscratch uint64
	sepc     uint64
	scause   uint64
	stval    uint64
	satp     uint64

	// Counters reported by the cycle, time and instret CSRs.
	cycle   *uint64
	instret *uint64
}

func newCSRFile(cycle, instret *uint64) *CSRFile {
	return &CSRFile{mstatus: statusXLen, cycle: cycle, instret: instret}
}

// minPrivilege returns the lowest privilege allowed to access csr.
func minPrivilege(csr uint16) sim.Privilege {
	return sim.Privilege((csr >> 8) & 3)
}

// readOnly reports whether csr is in a read-only range.
func readOnly(csr uint16) bool {
	return csr>>10 == 3
}

// Read returns the value of a CSR. The second result is false for CSRs
// the machine does not implement.
func (c *CSRFile) Read(csr uint16) (uint64, bool) {
	switch csr {
	case CSRSstatus:
		return c.mstatus & sstatusMask, true
	case CSRSie:
		return c.mie & c.mideleg, true
	case CSRStvec:
		return c.stvec, true
	case CSRSscratch:
		return c.sscratch, true
	case CSRSepc:
		return c.sepc, true
	case CSRScause:
		return c.scause, true
	case CSRStval:
		return c.stval, true
	case CSRSip:
		return c.mip & c.mideleg, true
	case CSRSatp:
		return c.satp, true
	case CSRMstatus:
		return c.mstatus, true
	case CSRMisa:
		return misaValue, true
	case CSRMedeleg:
		return c.medeleg, true
	case CSRMideleg:
		return c.mideleg, true
	case CSRMie:
		return c.mie, true
	case CSRMtvec:
		return c.mtvec, true
	case CSRMscratch:
		return c.mscratch, true
	case CSRMepc:
		return c.mepc, true
	case CSRMcause:
		return c.mcause, true
	case CSRMtval:
		return c.mtval, true
	case CSRMip:
		return c.mip, true
	case CSRCycle, CSRTime:
		return *c.cycle, true
	case CSRInstret:
		return *c.instret, true
	case CSRMhartid:
		return 0, true
	default:
		return 0, false
	}
}

// Write sets a CSR, applying its write mask. The result is false for CSRs
// the machine does not implement or that are read-only.
func (c *CSRFile) Write(csr uint16, v uint64) bool {
	if readOnly(csr) {
		return false
	}

	switch csr {
	case CSRSstatus:
		c.mstatus = c.mstatus&^sstatusMask | v&sstatusMask&^(3<<32|1<<63)
	case CSRSie:
		c.mie = c.mie&^c.mideleg | v&c.mideleg
	case CSRStvec:
		c.stvec = v &^ 3
	case CSRSscratch:
		c.sscratch = v
	case CSRSepc:
		c.sepc = v &^ 1
	case CSRScause:
		c.scause = v
	case CSRStval:
		c.stval = v
	case CSRSip:
		c.mip = c.mip&^(c.mideleg&0x2) | v&c.mideleg&0x2
	case CSRSatp:
		// Bare and Sv39 only; other modes leave satp unchanged.
		if mode := v >> 60; mode == 0 || mode == 8 {
			c.satp = v
		}
	case CSRMstatus:
		c.mstatus = v&^(0xF<<32|1<<63) | statusXLen
	case CSRMisa:
		// Fixed.
	case CSRMedeleg:
		c.medeleg = v & medelegMask
	case CSRMideleg:
		c.mideleg = v & 0x222
	case CSRMie:
		c.mie = v & 0xAAA
	case CSRMtvec:
		c.mtvec = v &^ 3
	case CSRMscratch:
		c.mscratch = v
	case CSRMepc:
		c.mepc = v &^ 1
	case CSRMcause:
		c.mcause = v
	case CSRMtval:
		c.mtval = v
	case CSRMip:
		c.mip = c.mip&^0x222 | v&0x222
	default:
		return false
	}

	return true
}
