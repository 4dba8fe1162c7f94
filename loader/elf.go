// Package loader reads RV64 ELF executables into a form the reference
// machine can place in physical memory.
package loader

import (
	"debug/elf"
	"fmt"
	"io"
)

// SegmentFlags are the protection bits of a loadable segment.
type SegmentFlags uint32

// Segment protection bits.
const (
	SegmentFlagExecute SegmentFlags = 1 << iota
	SegmentFlagWrite
	SegmentFlagRead
)

// DefaultStackTop is the initial stack pointer: the top of the first
// 128 MiB of RAM at 0x80000000.
const DefaultStackTop = 0x88000000

// Segment is one PT_LOAD program header with its file contents.
type Segment struct {
	VirtAddr uint64
	// PhysAddr is where the segment is placed. Bare-metal and kernel
	// images usually link it equal to VirtAddr.
	PhysAddr uint64
	Data     []byte
	MemSize  uint64 // At least len(Data); the rest is zero-filled
	Flags    SegmentFlags
}

// Program is a parsed executable.
type Program struct {
	EntryPoint uint64
	InitialSP  uint64
	Segments   []Segment
	Symbols    []Symbol // Ordered by address; empty for stripped files
}

// SegmentWriter places segment contents in physical memory, zero-filling
// up to memSize.
type SegmentWriter interface {
	LoadSegment(addr uint64, data []byte, memSize uint64) error
}

// Load opens and parses the ELF file at path.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parse(f)
}

// Parse parses an ELF image held in r.
func Parse(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF image: %w", err)
	}
	return parse(f)
}

func parse(f *elf.File) (*Program, error) {
	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("not a 64-bit ELF file")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("not a RISC-V ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{
		EntryPoint: f.Entry,
		InitialSP:  DefaultStackTop,
	}

	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}

		seg, err := readSegment(ph)
		if err != nil {
			return nil, err
		}
		prog.Segments = append(prog.Segments, seg)
	}

	syms, err := readSymbols(f)
	if err != nil {
		return nil, err
	}
	prog.Symbols = syms

	return prog, nil
}

func readSegment(ph *elf.Prog) (Segment, error) {
	if ph.Memsz < ph.Filesz {
		return Segment{}, fmt.Errorf("segment at 0x%x is larger in the file (%d) than in memory (%d)",
			ph.Vaddr, ph.Filesz, ph.Memsz)
	}

	data := make([]byte, ph.Filesz)
	if _, err := io.ReadFull(ph.Open(), data); err != nil {
		return Segment{}, fmt.Errorf("failed to read segment at 0x%x: %w", ph.Vaddr, err)
	}

	var flags SegmentFlags
	for pf, sf := range map[elf.ProgFlag]SegmentFlags{
		elf.PF_X: SegmentFlagExecute,
		elf.PF_W: SegmentFlagWrite,
		elf.PF_R: SegmentFlagRead,
	} {
		if ph.Flags&pf != 0 {
			flags |= sf
		}
	}

	return Segment{
		VirtAddr: ph.Vaddr,
		PhysAddr: ph.Paddr,
		Data:     data,
		MemSize:  ph.Memsz,
		Flags:    flags,
	}, nil
}

// LoadInto writes every segment at its physical address.
func (p *Program) LoadInto(w SegmentWriter) error {
	for _, seg := range p.Segments {
		if err := w.LoadSegment(seg.PhysAddr, seg.Data, seg.MemSize); err != nil {
			return fmt.Errorf("failed to load segment at 0x%x: %w", seg.PhysAddr, err)
		}
	}
	return nil
}

// MemSize returns the total in-memory size of all segments.
func (p *Program) MemSize() uint64 {
	var total uint64
	for _, seg := range p.Segments {
		total += seg.MemSize
	}
	return total
}
