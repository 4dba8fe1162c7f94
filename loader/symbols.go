package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"sort"
)

// Symbol is a named code or data address from the ELF symbol table.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// readSymbols returns the function and object symbols of f ordered by
// address. A stripped file yields none.
func readSymbols(f *elf.File) ([]Symbol, error) {
	syms, err := f.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol table: %w", err)
	}

	var out []Symbol
	for _, s := range syms {
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
		default:
			continue
		}
		if s.Name == "" || s.Value == 0 || s.Section == elf.SHN_UNDEF {
			continue
		}
		out = append(out, Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out, nil
}

// Lookup returns the symbol covering addr. A sized symbol covers
// [Addr, Addr+Size); an unsized one covers addresses up to the next symbol.
func (p *Program) Lookup(addr uint64) (Symbol, bool) {
	i := sort.Search(len(p.Symbols), func(i int) bool { return p.Symbols[i].Addr > addr }) - 1
	if i < 0 {
		return Symbol{}, false
	}

	s := p.Symbols[i]
	if s.Size != 0 && addr >= s.Addr+s.Size {
		return Symbol{}, false
	}
	return s, true
}

// Symbolize renders addr as "name" or "name+0xoff".
func (p *Program) Symbolize(addr uint64) (string, bool) {
	s, ok := p.Lookup(addr)
	if !ok {
		return "", false
	}
	if addr == s.Addr {
		return s.Name, true
	}
	return fmt.Sprintf("%s+0x%x", s.Name, addr-s.Addr), true
}
