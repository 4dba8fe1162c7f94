// Package insts provides RV64 instruction definitions and decoding.
//
// This package decodes RISC-V machine code into structured instruction
// representations that carry both the disassembled text and the semantic
// fields needed to re-derive operands. It supports:
//   - RV64I loads, stores, immediate and register ALU operations
//   - The M extension (multiply/divide, including 32-bit word variants)
//   - LUI/AUIPC, JAL/JALR and conditional branches
//   - SYSTEM (ecall, ebreak, sret, mret, wfi, sfence.vma, Zicsr)
//   - MISC-MEM fences and the A extension (lr/sc and AMOs)
//   - The C extension in all three quadrants
//
// Decoding never fails. Encodings the decoder does not recognize come back
// as OpUnknown with a placeholder mnemonic carrying the raw value.
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0x00a58533, 0x80000000) // add a0, a1, a0
//	fmt.Println(inst) // "add a0, a1, a0"
package insts
