package analyze

import "fmt"

// Cause is a decoded scause or mcause value.
type Cause struct {
	Interrupt bool
	Code      uint64
}

// DecodeCause splits a cause register into the interrupt bit and code.
func DecodeCause(v uint64) Cause {
	return Cause{Interrupt: v>>63 == 1, Code: v & 0x7FFFFFFFFFFFFFFF}
}

// Exception codes.
const (
	ExcInstMisaligned  = 0
	ExcInstAccess      = 1
	ExcIllegalInst     = 2
	ExcBreakpoint      = 3
	ExcLoadMisaligned  = 4
	ExcLoadAccess      = 5
	ExcStoreMisaligned = 6
	ExcStoreAccess     = 7
	ExcEcallU          = 8
	ExcEcallS          = 9
	ExcEcallM          = 11
	ExcInstPageFault   = 12
	ExcLoadPageFault   = 13
	ExcStorePageFault  = 15
)

var exceptionNames = map[uint64]string{
	ExcInstMisaligned:  "Instruction address misaligned",
	ExcInstAccess:      "Instruction access fault",
	ExcIllegalInst:     "Illegal instruction",
	ExcBreakpoint:      "Breakpoint",
	ExcLoadMisaligned:  "Load address misaligned",
	ExcLoadAccess:      "Load access fault",
	ExcStoreMisaligned: "Store/AMO address misaligned",
	ExcStoreAccess:     "Store/AMO access fault",
	ExcEcallU:          "Environment call from U-mode",
	ExcEcallS:          "Environment call from S-mode",
	ExcEcallM:          "Environment call from M-mode",
	ExcInstPageFault:   "Instruction page fault",
	ExcLoadPageFault:   "Load page fault",
	ExcStorePageFault:  "Store/AMO page fault",
}

var interruptNames = map[uint64]string{
	1:  "Supervisor software interrupt",
	3:  "Machine software interrupt",
	5:  "Supervisor timer interrupt",
	7:  "Machine timer interrupt",
	9:  "Supervisor external interrupt",
	11: "Machine external interrupt",
}

// Name returns the architectural name of the cause.
func (c Cause) Name() string {
	names := exceptionNames
	if c.Interrupt {
		names = interruptNames
	}
	if name, ok := names[c.Code]; ok {
		return name
	}
	return fmt.Sprintf("code %d", c.Code)
}

// String renders the cause, e.g. "EXC: Load page fault".
func (c Cause) String() string {
	kind := "EXC"
	if c.Interrupt {
		kind = "IRQ"
	}
	return kind + ": " + c.Name()
}

// Access is the kind of access an exception was raised for.
type Access int

// Access kinds.
const (
	AccessNone Access = iota
	AccessFetch
	AccessLoad
	AccessStore
)

// String returns the access name.
func (a Access) String() string {
	switch a {
	case AccessFetch:
		return "instruction"
	case AccessLoad:
		return "load"
	case AccessStore:
		return "store"
	default:
		return "none"
	}
}

// Access returns the access an address-related exception was raised for.
func (c Cause) Access() Access {
	if c.Interrupt {
		return AccessNone
	}
	switch c.Code {
	case ExcInstMisaligned, ExcInstAccess, ExcInstPageFault:
		return AccessFetch
	case ExcLoadMisaligned, ExcLoadAccess, ExcLoadPageFault:
		return AccessLoad
	case ExcStoreMisaligned, ExcStoreAccess, ExcStorePageFault:
		return AccessStore
	default:
		return AccessNone
	}
}

// IsPageFault reports whether the cause is one of the page faults.
func (c Cause) IsPageFault() bool {
	return !c.Interrupt &&
		(c.Code == ExcInstPageFault || c.Code == ExcLoadPageFault || c.Code == ExcStorePageFault)
}
