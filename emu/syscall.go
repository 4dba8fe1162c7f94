package emu

import (
	"io"

	"github.com/sarchlab/rvdiag/insts"
)

// Host syscall numbers from the RISC-V Linux ABI.
const (
	SyscallRead      uint64 = 63
	SyscallWrite     uint64 = 64
	SyscallExit      uint64 = 93
	SyscallExitGroup uint64 = 94
)

// Errno values returned in a0 as their negation.
const (
	EIO    = 5
	EBADF  = 9
	EFAULT = 14
	ENOSYS = 38
)

// SyscallResult is the outcome of a host-handled ecall.
type SyscallResult struct {
	Exited   bool
	ExitCode int64
}

// SyscallHandler services an ecall that no trap vector will see.
// The number is in a7, arguments in a0..a5 and the result goes to a0.
type SyscallHandler interface {
	Handle() SyscallResult
}

// GuestMemory is memory as seen by the running program.
type GuestMemory interface {
	Read(va uint64, size int) (uint64, *Exception)
	Write(va uint64, v uint64, size int) *Exception
}

// DefaultSyscallHandler implements the read, write and exit calls a
// bare-metal test program needs.
type DefaultSyscallHandler struct {
	regFile *RegFile
	memory  GuestMemory
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewDefaultSyscallHandler creates a handler bound to the machine's
// registers and address space.
func NewDefaultSyscallHandler(regFile *RegFile, memory GuestMemory, stdout, stderr io.Writer) *DefaultSyscallHandler {
	return &DefaultSyscallHandler{
		regFile: regFile,
		memory:  memory,
		stdout:  stdout,
		stderr:  stderr,
	}
}

// SetStdin sets the source for reads from descriptor 0. Without one, reads
// return end of file.
func (h *DefaultSyscallHandler) SetStdin(stdin io.Reader) {
	h.stdin = stdin
}

var syscalls = map[uint64]func(h *DefaultSyscallHandler, a0, a1, a2 uint64) SyscallResult{
	SyscallRead:      (*DefaultSyscallHandler).read,
	SyscallWrite:     (*DefaultSyscallHandler).write,
	SyscallExit:      (*DefaultSyscallHandler).exit,
	SyscallExitGroup: (*DefaultSyscallHandler).exit,
}

// Handle dispatches on a7.
func (h *DefaultSyscallHandler) Handle() SyscallResult {
	fn, ok := syscalls[h.regFile.ReadReg(insts.RegA7)]
	if !ok {
		return h.fail(ENOSYS)
	}

	a0 := h.regFile.ReadReg(insts.RegA0)
	a1 := h.regFile.ReadReg(insts.RegA0 + 1)
	a2 := h.regFile.ReadReg(insts.RegA0 + 2)
	return fn(h, a0, a1, a2)
}

func (h *DefaultSyscallHandler) exit(status, _, _ uint64) SyscallResult {
	return SyscallResult{Exited: true, ExitCode: int64(status)}
}

func (h *DefaultSyscallHandler) read(fd, buf, count uint64) SyscallResult {
	if fd != 0 {
		return h.fail(EBADF)
	}
	if h.stdin == nil {
		return h.ok(0)
	}

	data := make([]byte, count)
	n, err := h.stdin.Read(data)
	if n == 0 && err != nil {
		return h.ok(0)
	}

	if !h.copyOut(buf, data[:n]) {
		return h.fail(EFAULT)
	}
	return h.ok(uint64(n))
}

func (h *DefaultSyscallHandler) write(fd, buf, count uint64) SyscallResult {
	w := h.stdout
	switch fd {
	case 1:
	case 2:
		w = h.stderr
	default:
		return h.fail(EBADF)
	}

	data, ok := h.copyIn(buf, count)
	if !ok {
		return h.fail(EFAULT)
	}

	n, err := w.Write(data)
	if err != nil {
		return h.fail(EIO)
	}
	return h.ok(uint64(n))
}

// copyIn reads count guest bytes starting at va.
func (h *DefaultSyscallHandler) copyIn(va, count uint64) ([]byte, bool) {
	data := make([]byte, count)
	for i := range data {
		v, ex := h.memory.Read(va+uint64(i), 1)
		if ex != nil {
			return nil, false
		}
		data[i] = byte(v)
	}
	return data, true
}

// copyOut writes data to guest memory starting at va.
func (h *DefaultSyscallHandler) copyOut(va uint64, data []byte) bool {
	for i, b := range data {
		if ex := h.memory.Write(va+uint64(i), uint64(b), 1); ex != nil {
			return false
		}
	}
	return true
}

func (h *DefaultSyscallHandler) ok(v uint64) SyscallResult {
	h.regFile.WriteReg(insts.RegA0, v)
	return SyscallResult{}
}

func (h *DefaultSyscallHandler) fail(errno int) SyscallResult {
	h.regFile.WriteReg(insts.RegA0, uint64(-int64(errno)))
	return SyscallResult{}
}
