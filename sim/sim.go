// Package sim defines the surface a cycle-accurate simulator exposes to the
// diagnostic tools: stepping, architectural state and raw physical memory.
package sim

import "fmt"

// Privilege is a RISC-V privilege mode.
type Privilege uint8

// Privilege modes.
const (
	PrivUser       Privilege = 0
	PrivSupervisor Privilege = 1
	PrivMachine    Privilege = 3
)

// String returns "U", "S" or "M".
func (p Privilege) String() string {
	switch p {
	case PrivUser:
		return "U"
	case PrivSupervisor:
		return "S"
	case PrivMachine:
		return "M"
	default:
		return fmt.Sprintf("priv(%d)", uint8(p))
	}
}

// Exit carries the exit code of a terminated run.
type Exit struct {
	Code int64
}

// Stats holds the performance counters of a run.
type Stats struct {
	Cycles       uint64
	Instructions uint64
	Counters     map[string]uint64
}

// Committed is one entry of the simulator's committed-instruction trace.
type Committed struct {
	PC  uint64
	Raw uint32
}

// Simulator is a cycle-accurate RV64 simulator instance.
type Simulator interface {
	// Run advances up to limit cycles. It returns true and the exit
	// information when the run terminates within the limit.
	Run(limit uint64) (Exit, bool)

	// PC returns the program counter of the instruction in flight.
	PC() uint64

	// ReadRegister returns integer register idx.
	ReadRegister(idx uint8) uint64

	// ReadCSR returns the named CSR, or false if the simulator does not
	// implement it.
	ReadCSR(name string) (uint64, bool)

	ReadPhysical32(addr uint64) (uint32, error)
	ReadPhysical64(addr uint64) (uint64, error)

	Stats() Stats
	Privilege() Privilege

	// RecentCommitted returns the most recently committed instructions,
	// oldest first. The depth is fixed by the simulator.
	RecentCommitted() []Committed
}

// CycleCounter is implemented by simulators that can report the current
// cycle without assembling full Stats. Tracers read the cycle after every
// step.
type CycleCounter interface {
	Cycle() uint64
}

// CycleOf returns the current cycle of s, preferring CycleCounter.
func CycleOf(s Simulator) uint64 {
	if c, ok := s.(CycleCounter); ok {
		return c.Cycle()
	}
	return s.Stats().Cycles
}

// Factory builds a fresh simulator instance.
//
// Instances from the same Factory must replay identically: running one for
// N cycles leaves it in the same architectural state as any other instance
// run for N cycles. The localizer depends on this to revisit a bracketed
// region, since simulators cannot seek backwards.
type Factory func() (Simulator, error)
