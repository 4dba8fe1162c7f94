package emu_test

import (
	"bytes"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvdiag/analyze"
	"github.com/sarchlab/rvdiag/emu"
	"github.com/sarchlab/rvdiag/localize"
	"github.com/sarchlab/rvdiag/mmu"
	"github.com/sarchlab/rvdiag/sim"
)

// diagnose localizes a crash of the machines build returns and analyzes
// the result.
func diagnose(build func() *emu.Emulator) (*localize.Result, *analyze.Report) {
	logger := &log.Logger{Handler: memory.New(), Level: log.DebugLevel}

	config := localize.DefaultConfig()
	config.FastForward = 0
	config.Chunk = 10
	config.Margin = 5
	config.MaxSteps = 100
	config.TraceDepth = 8
	config.ProgressInterval = 0

	factory := func() (sim.Simulator, error) { return build(), nil }
	l, err := localize.NewLocalizer(factory, config, localize.WithLogger(logger))
	Expect(err).NotTo(HaveOccurred())

	res, err := l.Localize()
	Expect(err).NotTo(HaveOccurred())

	a, err := analyze.NewAnalyzer(analyze.WithLogger(logger))
	Expect(err).NotTo(HaveOccurred())

	return res, a.Analyze(analyze.InputFrom(res))
}

var _ = Describe("Crash diagnosis", func() {
	It("should name the jump that left the valid ranges", func() {
		build := func() *emu.Emulator {
			e := emu.NewEmulator()
			Expect(e.LoadProgram(base, words(
				0x01400313, // addi t1, zero, 20
				0x00128293, // addi t0, t0, 1
				0xfe62cee3, // blt t0, t1, -4
				0x00078067, // jalr zero, 0(a5)
			))).To(Succeed())
			return e
		}

		res, rep := diagnose(build)

		Expect(res.Outcome).To(Equal(localize.OutcomeFound))
		Expect(res.Bracket.ExitCode).To(Equal(emu.TrapExitCode))
		Expect(res.Divergence.PC).To(BeZero())
		Expect(res.Divergence.PrevPC).To(Equal(base + 12))

		Expect(rep.Culprit).NotTo(BeNil())
		Expect(rep.Culprit.PC).To(Equal(base + 12))
		Expect(rep.Culprit.Inst.Mnemonic).To(Equal("jalr"))
		Expect(rep.Culprit.Match()).To(BeTrue())

		var buf bytes.Buffer
		Expect(analyze.Render(&buf, rep, analyze.WithColor(false))).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("Jump to invalid PC 0x0000000000000000 originated from:"))
		Expect(buf.String()).To(ContainSubstring("Encoding matches memory."))
	})

	Context("with an instruction straddling a page boundary", func() {
		const (
			straddle = uint64(0x40000FFE)
			lowPA    = uint64(0x80010000)
			highPA   = uint64(0x80020000)
		)

		// jalr zero, 16(sp) is split across the pages. Read from the
		// physically next half-word instead, it becomes jalr zero, 0(zero).
		build := func(opts ...emu.EmulatorOption) *emu.Emulator {
			m := emu.NewMemory()
			rx := mmu.PermV | mmu.PermR | mmu.PermX | mmu.PermA
			mapPage(m, 0x40000000, lowPA, rx)
			mapPage(m, 0x40001000, highPA, rx)
			Expect(m.Write(lowPA+0xFFE, 0x0067, 2)).To(Succeed())
			Expect(m.Write(highPA, 0x0101, 2)).To(Succeed())
			Expect(m.Write(lowPA+0x10, 0x0000006f, 4)).To(Succeed()) // jal zero, 0

			opts = append(opts, emu.WithMemory(m), emu.WithPrivilege(sim.PrivSupervisor))
			e := emu.NewEmulator(opts...)
			Expect(e.SetCSR("satp", sv39)).To(Succeed())
			e.RegFile().WriteReg(2, 0x40000000)
			e.SetPC(straddle)
			return e
		}

		It("should fetch the upper half from the next virtual page", func() {
			e := build()

			e.Step()

			Expect(e.PC()).To(Equal(uint64(0x40000010)))
			Expect(e.RecentCommitted()[0].Raw).To(Equal(uint32(0x01010067)))

			_, done := e.Run(50)
			Expect(done).To(BeFalse())
		})

		It("should fetch the wrong upper half with the fetch defect", func() {
			e := build(emu.WithCrossPageFetchBug())

			e.Step()
			Expect(e.PC()).To(BeZero())
			Expect(e.RecentCommitted()[0].Raw).To(Equal(uint32(0x00000067)))

			r := e.Step()
			Expect(r.Exited).To(BeTrue())
			Expect(r.Trap.Cause).To(Equal(emu.CauseInstPageFault))
		})

		It("should report the cross-page encoding mismatch", func() {
			res, rep := diagnose(func() *emu.Emulator {
				return build(emu.WithCrossPageFetchBug())
			})

			Expect(res.Outcome).To(Equal(localize.OutcomeFound))
			Expect(res.Divergence.PrevPC).To(Equal(straddle))

			c := rep.Culprit
			Expect(c).NotTo(BeNil())
			Expect(c.PC).To(Equal(straddle))
			Expect(c.Fetched).To(Equal(uint32(0x00000067)))
			Expect(c.Match()).To(BeFalse())
			Expect(c.CrossPage).NotTo(BeNil())
			Expect(c.CrossPage.Word).To(Equal(uint32(0x01010067)))
			Expect(c.CrossPage.Mismatch()).To(BeTrue())

			var buf bytes.Buffer
			Expect(analyze.Render(&buf, rep, analyze.WithColor(false))).To(Succeed())
			Expect(buf.String()).To(ContainSubstring("CROSS-PAGE INSTRUCTION (offset 0xffe)"))
			Expect(buf.String()).To(ContainSubstring("ENCODING MISMATCH! Fetched 0x00000067 vs memory 0x01010067"))
		})
	})
})
