package emu

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// DefaultMemoryCapacity is the size of the physical address space. Storage
// is allocated lazily, so only touched pages cost memory.
const DefaultMemoryCapacity = 1 << 36

// Memory is the machine's physical memory.
type Memory struct {
	storage *mem.Storage
}

// NewMemory creates a memory of DefaultMemoryCapacity bytes.
func NewMemory() *Memory {
	return NewMemoryWithCapacity(DefaultMemoryCapacity)
}

// NewMemoryWithCapacity creates a memory of the given size in bytes.
// Accesses at or beyond the capacity fail.
func NewMemoryWithCapacity(capacity uint64) *Memory {
	return &Memory{storage: mem.NewStorage(capacity)}
}

// ReadBytes reads n bytes starting at addr.
func (m *Memory) ReadBytes(addr uint64, n int) ([]byte, error) {
	data, err := m.storage.Read(addr, uint64(n))
	if err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at PA 0x%x: %w", n, addr, err)
	}
	return data, nil
}

// WriteBytes writes data starting at addr.
func (m *Memory) WriteBytes(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := m.storage.Write(addr, data); err != nil {
		return fmt.Errorf("failed to write %d bytes at PA 0x%x: %w", len(data), addr, err)
	}
	return nil
}

// Read reads a little-endian value of size 1, 2, 4 or 8 bytes.
func (m *Memory) Read(addr uint64, size int) (uint64, error) {
	data, err := m.ReadBytes(addr, size)
	if err != nil {
		return 0, err
	}

	var buf [8]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Write writes the low size bytes of value in little-endian order.
func (m *Memory) Write(addr uint64, value uint64, size int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	return m.WriteBytes(addr, buf[:size])
}

// ReadPhysical32 reads a word.
func (m *Memory) ReadPhysical32(addr uint64) (uint32, error) {
	v, err := m.Read(addr, 4)
	return uint32(v), err
}

// ReadPhysical64 reads a double-word.
func (m *Memory) ReadPhysical64(addr uint64) (uint64, error) {
	return m.Read(addr, 8)
}

// LoadSegment copies data to addr and zero-fills up to memSize bytes.
func (m *Memory) LoadSegment(addr uint64, data []byte, memSize uint64) error {
	if err := m.WriteBytes(addr, data); err != nil {
		return err
	}

	if memSize > uint64(len(data)) {
		zeros := make([]byte, memSize-uint64(len(data)))
		if err := m.WriteBytes(addr+uint64(len(data)), zeros); err != nil {
			return err
		}
	}

	return nil
}
