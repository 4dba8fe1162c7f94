package emu

import (
	"fmt"

	"github.com/apex/log"

	"github.com/sarchlab/rvdiag/sim"
)

// Exception causes raised by the machine.
const (
	CauseInstMisaligned  uint64 = 0
	CauseInstAccess      uint64 = 1
	CauseIllegalInst     uint64 = 2
	CauseBreakpoint      uint64 = 3
	CauseLoadMisaligned  uint64 = 4
	CauseLoadAccess      uint64 = 5
	CauseStoreMisaligned uint64 = 6
	CauseStoreAccess     uint64 = 7
	CauseEcallU          uint64 = 8
	CauseEcallS          uint64 = 9
	CauseEcallM          uint64 = 11
	CauseInstPageFault   uint64 = 12
	CauseLoadPageFault   uint64 = 13
	CauseStorePageFault  uint64 = 15
)

// TrapExitCode is the exit code reported when a trap finds no handler.
const TrapExitCode int64 = -1

// Exception is a synchronous trap raised by an instruction.
type Exception struct {
	Cause uint64
	Tval  uint64
}

func (e *Exception) Error() string {
	return fmt.Sprintf("exception %d (tval=0x%x)", e.Cause, e.Tval)
}

func illegal(raw uint32) *Exception {
	return &Exception{Cause: CauseIllegalInst, Tval: uint64(raw)}
}

// Trap records the most recent trap taken by the machine.
type Trap struct {
	Cycle     uint64
	PC        uint64
	Cause     uint64
	Tval      uint64
	From      sim.Privilege
	To        sim.Privilege
	Vector    uint64
	Unhandled bool // No vector was installed; the run terminated
}

// delegated reports whether an exception raised at the current privilege
// is handled in S-mode.
func (e *Emulator) delegated(cause uint64) bool {
	return e.priv <= sim.PrivSupervisor && (e.csr.medeleg>>cause)&1 == 1
}

// vectorFor returns the trap vector an exception would be taken to.
func (e *Emulator) vectorFor(cause uint64) uint64 {
	if e.delegated(cause) {
		return e.csr.stvec
	}
	return e.csr.mtvec
}

// takeTrap delivers an exception raised by the instruction at pc. The
// trap CSRs are always written; the result is false when no vector is
// installed and the run must terminate.
func (e *Emulator) takeTrap(ex *Exception, pc uint64) bool {
	t := Trap{Cycle: e.cycle, PC: pc, Cause: ex.Cause, Tval: ex.Tval, From: e.priv}
	c := e.csr

	if e.delegated(ex.Cause) {
		c.sepc = pc
		c.scause = ex.Cause
		c.stval = ex.Tval

		status := c.mstatus &^ (statusSPP | statusSPIE | statusSIE)
		if e.priv == sim.PrivSupervisor {
			status |= statusSPP
		}
		if c.mstatus&statusSIE != 0 {
			status |= statusSPIE
		}
		c.mstatus = status

		t.To = sim.PrivSupervisor
		t.Vector = c.stvec
	} else {
		c.mepc = pc
		c.mcause = ex.Cause
		c.mtval = ex.Tval

		status := c.mstatus &^ (statusMPPMask | statusMPIE | statusMIE)
		status |= uint64(e.priv) << statusMPPShift
		if c.mstatus&statusMIE != 0 {
			status |= statusMPIE
		}
		c.mstatus = status

		t.To = sim.PrivMachine
		t.Vector = c.mtvec
	}

	e.traps++
	t.Unhandled = t.Vector == 0
	e.lastTrap = &t

	e.logger.WithFields(log.Fields{
		"cycle": e.cycle,
		"pc":    fmt.Sprintf("0x%x", pc),
		"cause": ex.Cause,
		"tval":  fmt.Sprintf("0x%x", ex.Tval),
	}).Debug("trap")

	if t.Unhandled {
		return false
	}

	e.priv = t.To
	e.regFile.PC = t.Vector
	return true
}

// sret returns from an S-mode trap handler.
func (e *Emulator) sret() uint64 {
	c := e.csr
	if c.mstatus&statusSPP != 0 {
		e.priv = sim.PrivSupervisor
	} else {
		e.priv = sim.PrivUser
	}

	status := c.mstatus &^ (statusSPP | statusSIE)
	if c.mstatus&statusSPIE != 0 {
		status |= statusSIE
	}
	c.mstatus = status | statusSPIE

	return c.sepc
}

// mret returns from an M-mode trap handler.
func (e *Emulator) mret() uint64 {
	c := e.csr
	e.priv = sim.Privilege((c.mstatus & statusMPPMask) >> statusMPPShift)

	status := c.mstatus &^ (statusMPPMask | statusMIE)
	if c.mstatus&statusMPIE != 0 {
		status |= statusMIE
	}
	c.mstatus = status | statusMPIE

	return c.mepc
}
