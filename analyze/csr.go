package analyze

import (
	"fmt"

	"github.com/sarchlab/rvdiag/mmu"
	"github.com/sarchlab/rvdiag/sim"
)

// CSRLine is one row of the CSR table.
type CSRLine struct {
	Name    string
	Value   uint64
	Present bool
	Note    string
}

// Annotate explains a CSR value: trap causes, satp fields and the
// supervisor status bits.
func Annotate(name string, v uint64) string {
	switch name {
	case "scause", "mcause":
		return DecodeCause(v).String()
	case "satp":
		s := mmu.Satp(v)
		return fmt.Sprintf("mode=%d asid=%d ppn=0x%x", s.Mode(), s.ASID(), s.PPN())
	case "mstatus", "sstatus":
		return fmt.Sprintf("SPP=%d SPIE=%d SIE=%d", v>>8&1, v>>5&1, v>>1&1)
	default:
		return ""
	}
}

func csrTable(csrs sim.CSRSnapshot) []CSRLine {
	lines := make([]CSRLine, 0, len(csrs.Names()))
	for _, name := range csrs.Names() {
		line := CSRLine{Name: name}
		if v, ok := csrs.Get(name); ok {
			line.Value = v
			line.Present = true
			line.Note = Annotate(name, v)
		}
		lines = append(lines, line)
	}
	return lines
}
