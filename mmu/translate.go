// Package mmu re-derives Sv39 virtual-to-physical translations from raw
// simulated memory, independently of the simulator's own TLB and walker.
package mmu

import (
	"errors"
	"fmt"
	"strings"
)

// PhysReader reads simulated physical memory.
type PhysReader interface {
	ReadPhysical32(addr uint64) (uint32, error)
	ReadPhysical64(addr uint64) (uint64, error)
}

// Translation modes held in satp[63:60].
const (
	ModeBare uint8 = 0
	ModeSv39 uint8 = 8
)

// PageShift is the log2 of the base page size.
const PageShift = 12

// Satp is a raw satp CSR value.
type Satp uint64

// Mode returns the translation mode field.
func (s Satp) Mode() uint8 {
	return uint8(uint64(s) >> 60 & 0xF)
}

// ASID returns the address-space identifier.
func (s Satp) ASID() uint16 {
	return uint16(uint64(s) >> 44 & 0xFFFF)
}

// PPN returns the physical page number of the root page table.
func (s Satp) PPN() uint64 {
	return uint64(s) & ppnMask
}

// RootTable returns the physical address of the root page table.
func (s Satp) RootTable() uint64 {
	return s.PPN() << PageShift
}

// String renders the satp fields, e.g. "mode=8 asid=0x0 ppn=0x80123".
func (s Satp) String() string {
	return fmt.Sprintf("mode=%d asid=0x%x ppn=0x%x", s.Mode(), s.ASID(), s.PPN())
}

// NewSatp builds a satp value from its fields.
func NewSatp(mode uint8, asid uint16, ppn uint64) Satp {
	return Satp(uint64(mode&0xF)<<60 | uint64(asid)<<44 | ppn&ppnMask)
}

const ppnMask = 0x00000FFFFFFFFFFF

// Perm is the flag byte of a page-table entry.
type Perm uint8

// PTE flag bits.
const (
	PermV Perm = 1 << iota
	PermR
	PermW
	PermX
	PermU
	PermG
	PermA
	PermD
)

// Has reports whether all bits of p2 are set in p.
func (p Perm) Has(p2 Perm) bool {
	return p&p2 == p2
}

// String lists the set flags other than V, e.g. "RWXAD".
func (p Perm) String() string {
	var sb strings.Builder
	for i, c := range "RWXUGAD" {
		if p&(PermR<<i) != 0 {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

// PTE is a raw 8-byte Sv39 page-table entry.
type PTE uint64

// Flags returns the low eight flag bits.
func (e PTE) Flags() Perm {
	return Perm(e & 0xFF)
}

// Valid reports whether V is set.
func (e PTE) Valid() bool {
	return e.Flags().Has(PermV)
}

// IsLeaf reports whether any of R, W or X is set. An entry with none of
// them points to the next level table.
func (e PTE) IsLeaf() bool {
	return e.Flags()&(PermR|PermW|PermX) != 0
}

// PPN returns the physical page number field, bits [53:10].
func (e PTE) PPN() uint64 {
	return uint64(e) >> 10 & ppnMask
}

// NewPTE builds a page-table entry from a physical page number and flags.
func NewPTE(ppn uint64, flags Perm) PTE {
	return PTE((ppn&ppnMask)<<10 | uint64(flags))
}

// PageSize is the size of the region a leaf entry maps.
type PageSize uint64

// Page sizes reachable under Sv39.
const (
	Page4K PageSize = 1 << 12
	Page2M PageSize = 1 << 21
	Page1G PageSize = 1 << 30
)

// String returns "4KB", "2MB" or "1GB".
func (s PageSize) String() string {
	switch s {
	case Page4K:
		return "4KB"
	case Page2M:
		return "2MB"
	case Page1G:
		return "1GB"
	default:
		return fmt.Sprintf("%dB", uint64(s))
	}
}

var levelPageSizes = [3]PageSize{Page4K, Page2M, Page1G}

// Translation is the result of a successful walk.
type Translation struct {
	VA       uint64
	PA       uint64
	PageSize PageSize
	Perm     Perm
	Level    int    // Level at which the leaf was found: 2, 1 or 0
	Entry    PTE    // Leaf entry
	EntryPA  uint64 // Physical address of the leaf entry
}

// String renders the translation, e.g. "PA=0x80001000 (1GB RWXAD) pte=0x...".
func (t Translation) String() string {
	return fmt.Sprintf("PA=0x%x (%s %s) pte=0x%016x",
		t.PA, t.PageSize, t.Perm, uint64(t.Entry))
}

// ErrUnsupportedMode is returned when satp selects a mode other than Sv39.
var ErrUnsupportedMode = errors.New("unsupported translation mode")

// ErrWalkExhausted is returned when all levels are pointers.
var ErrWalkExhausted = errors.New("walk exhausted without finding a leaf")

// PageFaultError reports an invalid entry met during a walk.
type PageFaultError struct {
	Level   int
	Address uint64 // Physical address of the offending entry
	Entry   PTE
}

func (e *PageFaultError) Error() string {
	return fmt.Sprintf("PTE invalid at level %d, addr 0x%x, pte=0x%016x",
		e.Level, e.Address, uint64(e.Entry))
}

// VPN returns the virtual page number index of va for the given level.
func VPN(va uint64, level int) uint64 {
	return va >> (PageShift + 9*uint(level)) & 0x1FF
}

// Translate walks the Sv39 page tables rooted at satp for va. Entries are
// read fresh on every call.
func Translate(mem PhysReader, va uint64, satp Satp) (Translation, error) {
	if mode := satp.Mode(); mode != ModeSv39 {
		return Translation{}, fmt.Errorf("%w: satp mode %d", ErrUnsupportedMode, mode)
	}

	base := satp.RootTable()
	for level := 2; level >= 0; level-- {
		entryPA := base + VPN(va, level)*8
		raw, err := mem.ReadPhysical64(entryPA)
		if err != nil {
			return Translation{}, fmt.Errorf("failed to read PTE at 0x%x: %w", entryPA, err)
		}

		pte := PTE(raw)
		if !pte.Valid() {
			return Translation{}, &PageFaultError{Level: level, Address: entryPA, Entry: pte}
		}

		if !pte.IsLeaf() {
			base = pte.PPN() << PageShift
			continue
		}

		size := levelPageSizes[level]
		return Translation{
			VA:       va,
			PA:       pte.PPN()<<PageShift | va&(uint64(size)-1),
			PageSize: size,
			Perm:     pte.Flags(),
			Level:    level,
			Entry:    pte,
			EntryPA:  entryPA,
		}, nil
	}

	return Translation{}, ErrWalkExhausted
}
