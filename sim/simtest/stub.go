// Package simtest provides a scripted sim.Simulator for tests.
package simtest

import (
	"fmt"

	"github.com/sarchlab/rvdiag/sim"
)

// Stub is a scripted simulator. The PC and registers at each cycle come
// from callbacks, and the run terminates once ExitCycle is reached.
type Stub struct {
	ExitCycle uint64 // 0 means the run never terminates
	ExitCode  int64

	// PCAt returns the PC at a cycle. Defaults to a loop over 4KB of RAM.
	PCAt func(cycle uint64) uint64

	// RegAt returns register idx at a cycle. Defaults to zero.
	RegAt func(cycle uint64, idx uint8) uint64

	CSRs      map[string]uint64
	Priv      sim.Privilege
	Memory    map[uint64]byte
	Committed []sim.Committed

	cycle uint64
	runs  int
}

// NewStub creates a stub that terminates at exitCycle.
func NewStub(exitCycle uint64) *Stub {
	return &Stub{
		ExitCycle: exitCycle,
		CSRs:      make(map[string]uint64),
		Priv:      sim.PrivSupervisor,
		Memory:    make(map[uint64]byte),
	}
}

// Factory returns a sim.Factory that builds a fresh stub per call and
// counts the instances in *count when count is not nil.
func Factory(build func() *Stub, count *int) sim.Factory {
	return func() (sim.Simulator, error) {
		if count != nil {
			*count++
		}
		return build(), nil
	}
}

// Cycle returns the current cycle.
func (s *Stub) Cycle() uint64 {
	return s.cycle
}

// Runs returns the number of Run calls made so far.
func (s *Stub) Runs() int {
	return s.runs
}

// Run advances up to limit cycles.
func (s *Stub) Run(limit uint64) (sim.Exit, bool) {
	s.runs++
	if s.ExitCycle != 0 && s.cycle+limit >= s.ExitCycle {
		s.cycle = s.ExitCycle
		return sim.Exit{Code: s.ExitCode}, true
	}
	s.cycle += limit
	return sim.Exit{}, false
}

// PC returns the scripted PC of the current cycle.
func (s *Stub) PC() uint64 {
	if s.PCAt != nil {
		return s.PCAt(s.cycle)
	}
	return 0x80000000 + (s.cycle%1024)*4
}

// ReadRegister returns the scripted value of a register.
func (s *Stub) ReadRegister(idx uint8) uint64 {
	if idx == 0 || s.RegAt == nil {
		return 0
	}
	return s.RegAt(s.cycle, idx)
}

// ReadCSR returns a CSR from the CSRs map.
func (s *Stub) ReadCSR(name string) (uint64, bool) {
	v, ok := s.CSRs[name]
	return v, ok
}

// Write stores n little-endian bytes of v at addr.
func (s *Stub) Write(addr uint64, v uint64, n int) {
	for i := 0; i < n; i++ {
		s.Memory[addr+uint64(i)] = byte(v >> (8 * i))
	}
}

func (s *Stub) read(addr uint64, n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, ok := s.Memory[addr+uint64(i)]
		if !ok {
			return 0, fmt.Errorf("unmapped physical address 0x%x", addr+uint64(i))
		}
		v |= uint64(b) << (8 * i)
	}
	return v, nil
}

// ReadPhysical32 reads a word from Memory. Unwritten bytes fail.
func (s *Stub) ReadPhysical32(addr uint64) (uint32, error) {
	v, err := s.read(addr, 4)
	return uint32(v), err
}

// ReadPhysical64 reads a double-word from Memory. Unwritten bytes fail.
func (s *Stub) ReadPhysical64(addr uint64) (uint64, error) {
	return s.read(addr, 8)
}

// Stats reports the current cycle; one instruction retires per cycle.
func (s *Stub) Stats() sim.Stats {
	return sim.Stats{Cycles: s.cycle, Instructions: s.cycle}
}

// Privilege returns Priv.
func (s *Stub) Privilege() sim.Privilege {
	return s.Priv
}

// RecentCommitted returns Committed.
func (s *Stub) RecentCommitted() []sim.Committed {
	return s.Committed
}
