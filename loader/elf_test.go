package loader_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvdiag/loader"
)

const (
	emRISCV = 243
	emX8664 = 62

	pfX = 1
	pfW = 2
	pfR = 4
)

// testSegment describes one program header of a generated ELF.
type testSegment struct {
	ptype   uint32
	flags   uint32
	vaddr   uint64
	paddr   uint64
	data    []byte
	memSize uint64
}

// writeELF writes a little-endian ELF64 executable with the given program
// headers and no sections.
func writeELF(path string, machine uint16, entry uint64, segs ...testSegment) {
	const ehsize, phentsize = 64, 56

	hdr := make([]byte, ehsize)
	copy(hdr, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	binary.LittleEndian.PutUint16(hdr[16:], 2) // ET_EXEC
	binary.LittleEndian.PutUint16(hdr[18:], machine)
	binary.LittleEndian.PutUint32(hdr[20:], 1)
	binary.LittleEndian.PutUint64(hdr[24:], entry)
	binary.LittleEndian.PutUint64(hdr[32:], ehsize)
	binary.LittleEndian.PutUint16(hdr[52:], ehsize)
	binary.LittleEndian.PutUint16(hdr[54:], phentsize)
	binary.LittleEndian.PutUint16(hdr[56:], uint16(len(segs)))

	out := append([]byte(nil), hdr...)
	offset := uint64(ehsize + phentsize*len(segs))
	var payload []byte
	for _, s := range segs {
		ph := make([]byte, phentsize)
		binary.LittleEndian.PutUint32(ph[0:], s.ptype)
		binary.LittleEndian.PutUint32(ph[4:], s.flags)
		binary.LittleEndian.PutUint64(ph[8:], offset)
		binary.LittleEndian.PutUint64(ph[16:], s.vaddr)
		binary.LittleEndian.PutUint64(ph[24:], s.paddr)
		binary.LittleEndian.PutUint64(ph[32:], uint64(len(s.data)))
		binary.LittleEndian.PutUint64(ph[40:], s.memSize)
		binary.LittleEndian.PutUint64(ph[48:], 0x1000)
		out = append(out, ph...)

		payload = append(payload, s.data...)
		offset += uint64(len(s.data))
	}
	out = append(out, payload...)

	ExpectWithOffset(1, os.WriteFile(path, out, 0644)).To(Succeed())
}

func loadSeg(flags uint32, addr uint64, data []byte, memSize uint64) testSegment {
	return testSegment{ptype: 1, flags: flags, vaddr: addr, paddr: addr, data: data, memSize: memSize}
}

// recordingWriter records LoadSegment calls.
type recordingWriter struct {
	addrs []uint64
	sizes []uint64
	err   error
}

func (w *recordingWriter) LoadSegment(addr uint64, data []byte, memSize uint64) error {
	if w.err != nil {
		return w.err
	}
	w.addrs = append(w.addrs, addr)
	w.sizes = append(w.sizes, memSize)
	return nil
}

var _ = Describe("ELF Loader", func() {
	var (
		tempDir string
		elfPath string
	)

	code := []byte{
		0x13, 0x05, 0xa0, 0x02, // addi a0, zero, 42
		0x67, 0x80, 0x00, 0x00, // ret
	}

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "elf-loader-test")
		Expect(err).NotTo(HaveOccurred())
		elfPath = filepath.Join(tempDir, "test.elf")
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("with a valid RV64 ELF binary", func() {
			BeforeEach(func() {
				writeELF(elfPath, emRISCV, 0x80000000,
					loadSeg(pfR|pfX, 0x80000000, code, uint64(len(code))))
			})

			It("should extract the entry point", func() {
				prog, err := loader.Load(elfPath)

				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint64(0x80000000)))
			})

			It("should read segment contents and permissions", func() {
				prog, err := loader.Load(elfPath)

				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))
				seg := prog.Segments[0]
				Expect(seg.Data).To(Equal(code))
				Expect(seg.Flags & loader.SegmentFlagExecute).NotTo(BeZero())
				Expect(seg.Flags & loader.SegmentFlagWrite).To(BeZero())
			})

			It("should start the stack at the top of RAM", func() {
				prog, err := loader.Load(elfPath)

				Expect(err).NotTo(HaveOccurred())
				Expect(prog.InitialSP).To(Equal(uint64(loader.DefaultStackTop)))
			})
		})

		It("should keep the physical load address", func() {
			seg := loadSeg(pfR|pfX, 0xffffffff80000000, code, uint64(len(code)))
			seg.paddr = 0x80200000
			writeELF(elfPath, emRISCV, 0xffffffff80000000, seg)

			prog, err := loader.Load(elfPath)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments[0].VirtAddr).To(Equal(uint64(0xffffffff80000000)))
			Expect(prog.Segments[0].PhysAddr).To(Equal(uint64(0x80200000)))
		})

		It("should load multiple segments and skip non-loadable ones", func() {
			data := []byte{1, 2, 3, 4}
			writeELF(elfPath, emRISCV, 0x80000000,
				loadSeg(pfR|pfX, 0x80000000, code, uint64(len(code))),
				testSegment{ptype: 4, vaddr: 0x80000100}, // PT_NOTE
				loadSeg(pfR|pfW, 0x80001000, data, 1024),
			)

			prog, err := loader.Load(elfPath)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(HaveLen(2))
			Expect(prog.Segments[1].Data).To(Equal(data))
			Expect(prog.Segments[1].MemSize).To(Equal(uint64(1024)))
			Expect(prog.Segments[1].Flags & loader.SegmentFlagWrite).NotTo(BeZero())
			Expect(prog.MemSize()).To(Equal(uint64(len(code)) + 1024))
		})

		It("should handle segments with zero file size", func() {
			writeELF(elfPath, emRISCV, 0x80000000, loadSeg(pfR|pfW, 0x80010000, nil, 4096))

			prog, err := loader.Load(elfPath)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments[0].Data).To(BeEmpty())
			Expect(prog.Segments[0].MemSize).To(Equal(uint64(4096)))
		})

		It("should reject a segment larger on disk than in memory", func() {
			writeELF(elfPath, emRISCV, 0x80000000, loadSeg(pfR, 0x80000000, code, 4))

			_, err := loader.Load(elfPath)

			Expect(err).To(MatchError(ContainSubstring("larger in the file")))
		})

		It("should parse an in-memory image", func() {
			writeELF(elfPath, emRISCV, 0x80000000,
				loadSeg(pfR|pfX, 0x80000000, code, uint64(len(code))))
			image, err := os.ReadFile(elfPath)
			Expect(err).NotTo(HaveOccurred())

			prog, err := loader.Parse(bytes.NewReader(image))

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments[0].Data).To(Equal(code))
			Expect(prog.Symbols).To(BeEmpty())
		})

		It("should return an empty segment list without PT_LOAD", func() {
			writeELF(elfPath, emRISCV, 0x80000000)

			prog, err := loader.Load(elfPath)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(BeEmpty())
		})

		Context("with an invalid file", func() {
			It("should return error for non-existent file", func() {
				_, err := loader.Load("/nonexistent/path/to/file.elf")

				Expect(err).To(MatchError(ContainSubstring("failed to open")))
			})

			It("should return error for non-ELF file", func() {
				Expect(os.WriteFile(elfPath, []byte("not an elf file"), 0644)).To(Succeed())

				_, err := loader.Load(elfPath)

				Expect(err).To(MatchError(ContainSubstring("ELF")))
			})

			It("should return error for another architecture", func() {
				writeELF(elfPath, emX8664, 0)

				_, err := loader.Load(elfPath)

				Expect(err).To(MatchError(ContainSubstring("not a RISC-V")))
			})

			It("should return error for 32-bit ELF", func() {
				hdr := make([]byte, 52)
				copy(hdr, []byte{0x7f, 'E', 'L', 'F', 1, 1, 1})
				binary.LittleEndian.PutUint16(hdr[16:], 2)
				binary.LittleEndian.PutUint16(hdr[18:], emRISCV)
				binary.LittleEndian.PutUint32(hdr[20:], 1)
				Expect(os.WriteFile(elfPath, hdr, 0644)).To(Succeed())

				_, err := loader.Load(elfPath)

				Expect(err).To(MatchError(ContainSubstring("not a 64-bit")))
			})
		})
	})

	Describe("LoadInto", func() {
		It("should write every segment at its physical address", func() {
			prog := &loader.Program{Segments: []loader.Segment{
				{PhysAddr: 0x80000000, Data: code, MemSize: 8},
				{PhysAddr: 0x80001000, MemSize: 4096},
			}}
			w := &recordingWriter{}

			Expect(prog.LoadInto(w)).To(Succeed())
			Expect(w.addrs).To(Equal([]uint64{0x80000000, 0x80001000}))
			Expect(w.sizes).To(Equal([]uint64{8, 4096}))
		})

		It("should wrap writer errors", func() {
			prog := &loader.Program{Segments: []loader.Segment{{PhysAddr: 0x1000}}}
			boom := errors.New("boom")

			err := prog.LoadInto(&recordingWriter{err: boom})

			Expect(err).To(MatchError(boom))
			Expect(err.Error()).To(ContainSubstring("0x1000"))
		})
	})

	Describe("Symbols", func() {
		prog := &loader.Program{Symbols: []loader.Symbol{
			{Name: "_start", Addr: 0x80000000},
			{Name: "memcpy", Addr: 0x80000100, Size: 0x40},
			{Name: "panic", Addr: 0x80000200},
		}}

		DescribeTable("Symbolize",
			func(addr uint64, expected string, found bool) {
				name, ok := prog.Symbolize(addr)
				Expect(ok).To(Equal(found))
				Expect(name).To(Equal(expected))
			},
			Entry("symbol start", uint64(0x80000000), "_start", true),
			Entry("inside an unsized symbol", uint64(0x80000010), "_start+0x10", true),
			Entry("inside a sized symbol", uint64(0x8000013e), "memcpy+0x3e", true),
			Entry("past a sized symbol", uint64(0x80000140), "", false),
			Entry("before every symbol", uint64(0x7ffffffe), "", false),
			Entry("after the last symbol", uint64(0x80001000), "panic+0xe00", true),
		)
	})
})
