package mmu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/rvdiag/insts"
)

// pageBoundaryOffset is the lowest page offset at which a 4-byte
// instruction spills into the next page.
const pageBoundaryOffset = 1<<PageShift - 2

// ErrMisaligned is returned for half-word reads that are not 2-byte aligned.
var ErrMisaligned = errors.New("misaligned half-word")

// NeedsCrossPage reports whether a 4-byte instruction at va straddles a
// page boundary.
func NeedsCrossPage(va uint64) bool {
	return va&(1<<PageShift-1) >= pageBoundaryOffset
}

// Identity returns the translation used when paging is off.
func Identity(va uint64) Translation {
	return Translation{VA: va, PA: va, PageSize: Page4K, Perm: PermR | PermW | PermX}
}

// Resolve translates va under satp, treating Bare mode as the identity
// mapping. Every other non-Sv39 mode is still rejected.
func Resolve(mem PhysReader, va uint64, satp Satp) (Translation, error) {
	if satp.Mode() == ModeBare {
		return Identity(va), nil
	}
	return Translate(mem, va, satp)
}

// ReadHalf reads the little-endian half-word at physical address pa.
func ReadHalf(mem PhysReader, pa uint64) (uint16, error) {
	if pa&1 != 0 {
		return 0, fmt.Errorf("%w at 0x%x", ErrMisaligned, pa)
	}

	word, err := mem.ReadPhysical32(pa &^ 3)
	if err != nil {
		return 0, err
	}
	return uint16(word >> ((pa & 2) * 8)), nil
}

// CrossPage is an instruction rebuilt from the two pages it straddles.
type CrossPage struct {
	VA      uint64
	Low     Translation // Page holding bits [15:0]
	High    Translation // Next virtual page, holding bits [31:16]
	Word    uint32      // Reconstructed encoding
	Fetched uint32      // Encoding the simulator fetched
}

// Mismatch reports whether the simulator fetched something other than
// what the page tables say is there.
func (c CrossPage) Mismatch() bool {
	return c.Word != c.Fetched
}

// String describes the reconstruction and, on mismatch, the defect.
func (c CrossPage) String() string {
	s := fmt.Sprintf("cross-page instruction at 0x%x: low half PA=0x%x, high half PA=0x%x, walk gives 0x%08x",
		c.VA, c.Low.PA, c.High.PA, c.Word)
	if c.Mismatch() {
		s += fmt.Sprintf("; ENCODING MISMATCH: fetched 0x%08x (page-boundary instruction-fetch defect)", c.Fetched)
	}
	return s
}

// ReconstructCrossPage translates the page of va and the next virtual
// page independently, reads each half from its own physical address and
// joins them. fetched is the encoding the simulator executed.
func ReconstructCrossPage(mem PhysReader, va uint64, satp Satp, fetched uint32) (CrossPage, error) {
	cp := CrossPage{VA: va, Fetched: fetched}

	if !NeedsCrossPage(va) {
		return cp, fmt.Errorf("address 0x%x does not straddle a page boundary", va)
	}

	var err error
	cp.Low, err = Resolve(mem, va, satp)
	if err != nil {
		return cp, fmt.Errorf("failed to translate low half: %w", err)
	}

	highVA := va + 2
	cp.High, err = Resolve(mem, highVA, satp)
	if err != nil {
		return cp, fmt.Errorf("failed to translate high half at 0x%x: %w", highVA, err)
	}

	lo, err := ReadHalf(mem, cp.Low.PA)
	if err != nil {
		return cp, fmt.Errorf("failed to read low half: %w", err)
	}
	hi, err := ReadHalf(mem, cp.High.PA)
	if err != nil {
		return cp, fmt.Errorf("failed to read high half: %w", err)
	}

	cp.Word = uint32(hi)<<16 | uint32(lo)
	return cp, nil
}

// Fetch is an instruction read through the page tables.
type Fetch struct {
	Word        uint32
	Size        int
	Translation Translation
	CrossPage   *CrossPage // Set when the instruction straddles a page
}

// FetchInstruction reads the instruction at va through the page tables.
// The first half-word decides the length; a 4-byte instruction at a page
// boundary is rebuilt half by half.
func FetchInstruction(mem PhysReader, va uint64, satp Satp) (Fetch, error) {
	tr, err := Resolve(mem, va, satp)
	if err != nil {
		return Fetch{}, err
	}

	lo, err := ReadHalf(mem, tr.PA)
	if err != nil {
		return Fetch{}, fmt.Errorf("failed to read instruction at PA 0x%x: %w", tr.PA, err)
	}

	f := Fetch{Word: uint32(lo), Size: insts.Length(lo), Translation: tr}
	if f.Size == 2 {
		return f, nil
	}

	if NeedsCrossPage(va) {
		cp, err := ReconstructCrossPage(mem, va, satp, 0)
		if err != nil {
			return Fetch{}, err
		}
		cp.Fetched = cp.Word
		f.Word = cp.Word
		f.CrossPage = &cp
		return f, nil
	}

	hi, err := ReadHalf(mem, tr.PA+2)
	if err != nil {
		return Fetch{}, fmt.Errorf("failed to read instruction at PA 0x%x: %w", tr.PA+2, err)
	}
	f.Word |= uint32(hi) << 16
	return f, nil
}
