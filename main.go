// Package main provides the entry point for rvdiag.
// rvdiag localizes the cycle at which a RISC-V simulation crashes and
// explains the instruction that caused it.
//
// For the full CLI, use: go run ./cmd/rvdiag
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("rvdiag - RISC-V crash localization")
	fmt.Println("")
	fmt.Println("Usage: rvdiag [options] <program.elf>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config         Path to localizer configuration (JSON or YAML)")
	fmt.Println("  -timing-config  Path to timing configuration JSON file")
	fmt.Println("  -o              Report file (zstd-compressed if it ends in .zst)")
	fmt.Println("  -v              Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/rvdiag -h' for all options.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/rvdiag' instead.")
	}
}
