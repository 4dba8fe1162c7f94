package emu

import (
	"github.com/sarchlab/rvdiag/mmu"
	"github.com/sarchlab/rvdiag/sim"
)

type accessType int

const (
	accessFetch accessType = iota
	accessLoad
	accessStore
)

var pageFaults = [...]uint64{
	accessFetch: CauseInstPageFault,
	accessLoad:  CauseLoadPageFault,
	accessStore: CauseStorePageFault,
}

var accessFaults = [...]uint64{
	accessFetch: CauseInstAccess,
	accessLoad:  CauseLoadAccess,
	accessStore: CauseStoreAccess,
}

// canonical reports whether va sign-extends bit 38, as Sv39 requires.
func canonical(va uint64) bool {
	top := int64(va) >> 38
	return top == 0 || top == -1
}

// translate maps va to a physical address for the given access at the
// current privilege. M-mode and Bare mode use physical addresses.
func (e *Emulator) translate(va uint64, acc accessType) (uint64, *Exception) {
	satp := mmu.Satp(e.csr.satp)
	if e.priv == sim.PrivMachine || satp.Mode() == mmu.ModeBare {
		return va, nil
	}

	fault := &Exception{Cause: pageFaults[acc], Tval: va}
	if !canonical(va) {
		return 0, fault
	}

	tr, err := mmu.Translate(e.memory, va, satp)
	if err != nil {
		return 0, fault
	}

	if !e.permitted(tr.Perm, acc) {
		return 0, fault
	}

	return tr.PA, nil
}

// permitted checks leaf permissions. Accessed and dirty bits are not
// updated by hardware, so a clear A (or D for stores) faults.
func (e *Emulator) permitted(p mmu.Perm, acc accessType) bool {
	if !p.Has(mmu.PermA) {
		return false
	}

	if p.Has(mmu.PermU) {
		if e.priv == sim.PrivSupervisor && (acc == accessFetch || e.csr.mstatus&statusSUM == 0) {
			return false
		}
	} else if e.priv == sim.PrivUser {
		return false
	}

	switch acc {
	case accessFetch:
		return p.Has(mmu.PermX)
	case accessLoad:
		return p.Has(mmu.PermR) || (p.Has(mmu.PermX) && e.csr.mstatus&statusMXR != 0)
	default:
		return p.Has(mmu.PermW) && p.Has(mmu.PermD)
	}
}
