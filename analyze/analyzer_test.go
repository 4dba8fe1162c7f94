package analyze_test

import (
	"errors"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvdiag/analyze"
	"github.com/sarchlab/rvdiag/insts"
	"github.com/sarchlab/rvdiag/loader"
	"github.com/sarchlab/rvdiag/localize"
	"github.com/sarchlab/rvdiag/mmu"
	"github.com/sarchlab/rvdiag/sim"
	"github.com/sarchlab/rvdiag/sim/simtest"
	"github.com/sarchlab/rvdiag/trace"
)

var _ = Describe("Analyzer", func() {
	var (
		machine  *simtest.Stub
		analyzer *analyze.Analyzer
		handler  *memory.Handler
	)

	BeforeEach(func() {
		machine = newMachine()
		handler = memory.New()

		var err error
		analyzer, err = analyze.NewAnalyzer(
			analyze.WithLogger(&log.Logger{Handler: handler, Level: log.DebugLevel}),
			analyze.WithDecodeCacheSize(16),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	input := func() analyze.Input {
		return analyze.Input{
			Memory:    machine,
			CSRs:      csrsOf(machine),
			Committed: machine.Committed,
			Privilege: sim.PrivSupervisor,
		}
	}

	It("should reject a non-positive cache size", func() {
		_, err := analyze.NewAnalyzer(analyze.WithDecodeCacheSize(0))
		Expect(err).To(HaveOccurred())
	})

	It("should log a summary", func() {
		analyzer.Analyze(input())

		Expect(handler.Entries).To(HaveLen(1))
		Expect(handler.Entries[0].Message).To(Equal("analysis done"))
	})

	Context("CSR table", func() {
		It("should list every analysis CSR and mark missing ones", func() {
			machine.CSRs["scause"] = 13

			r := analyzer.Analyze(input())

			Expect(r.CSRs).To(HaveLen(len(sim.AnalysisCSRs)))
			Expect(r.CSRs[0]).To(Equal(analyze.CSRLine{
				Name: "scause", Value: 13, Present: true, Note: "EXC: Load page fault",
			}))
			Expect(r.CSRs[1].Name).To(Equal("stval"))
			Expect(r.CSRs[1].Present).To(BeFalse())
		})

		It("should decode both causes when present", func() {
			machine.CSRs["scause"] = 12
			machine.CSRs["mcause"] = 1<<63 | 7

			r := analyzer.Analyze(input())

			Expect(r.SCause.Code).To(Equal(uint64(12)))
			Expect(r.MCause.Interrupt).To(BeTrue())
		})

		It("should leave absent causes nil", func() {
			r := analyzer.Analyze(input())

			Expect(r.SCause).To(BeNil())
			Expect(r.MCause).To(BeNil())
		})
	})

	Context("committed trace", func() {
		It("should decode compressed entries from the low half-word", func() {
			machine.Committed = []sim.Committed{
				{PC: addiPC, Raw: encAddi},
				{PC: addiPC + 4, Raw: 0xdead0505}, // c.addi a0, 1
			}

			r := analyzer.Analyze(input())

			Expect(r.Committed).To(HaveLen(2))
			Expect(r.Committed[0].Inst.String()).To(Equal("addi a0, a0, 1"))
			Expect(r.Committed[1].Index).To(Equal(1))
			Expect(r.Committed[1].Inst.Size).To(Equal(2))
			Expect(r.Committed[1].Inst.String()).To(Equal("c.addi a0, 1"))
		})
	})

	Context("culprit", func() {
		It("should name the instruction before the first invalid PC", func() {
			machine.Committed = []sim.Committed{
				{PC: addiPC, Raw: encAddi},
				{PC: jalrPC, Raw: encJalr},
				{PC: 0, Raw: 0},
			}

			c := analyzer.Analyze(input()).Culprit

			Expect(c).NotTo(BeNil())
			Expect(c.Index).To(Equal(1))
			Expect(c.PC).To(Equal(uint64(jalrPC)))
			Expect(c.BadPC).To(Equal(uint64(0)))
			Expect(c.Inst.Op).To(Equal(insts.OpJALR))
			Expect(c.Err).NotTo(HaveOccurred())
			Expect(c.RereadInst.Op).To(Equal(insts.OpJALR))
			Expect(c.Reread.Translation.Level).To(Equal(2))
			Expect(c.Match()).To(BeTrue())
			Expect(c.CrossPage).To(BeNil())
		})

		It("should flag an encoding that differs from memory", func() {
			machine.Committed = []sim.Committed{
				{PC: jalrPC, Raw: 0x00008067},
				{PC: 0, Raw: 0},
			}

			c := analyzer.Analyze(input()).Culprit

			Expect(c.Match()).To(BeFalse())
			Expect(c.Inst.String()).To(Equal("jalr zero, 0(ra)"))
			Expect(c.RereadInst.String()).To(Equal("jalr zero, 0(a5)"))
		})

		It("should rebuild a page-straddling culprit and report the defect", func() {
			machine.Committed = []sim.Committed{
				{PC: boundaryPC, Raw: 0x12348533},
				{PC: 0, Raw: 0},
			}

			c := analyzer.Analyze(input()).Culprit

			Expect(c.CrossPage).NotTo(BeNil())
			Expect(c.CrossPage.Word).To(Equal(uint32(encAdd)))
			Expect(c.CrossPage.Fetched).To(Equal(uint32(0x12348533)))
			Expect(c.CrossPage.Mismatch()).To(BeTrue())
			Expect(c.CrossPage.Low.PA).To(Equal(uint64(boundaryPC)))
			Expect(c.CrossPage.High.PA).To(Equal(uint64(boundaryPC + 2)))
			Expect(c.Match()).To(BeFalse())
		})

		It("should mark a trace that starts out of range", func() {
			machine.Committed = []sim.Committed{{PC: 0, Raw: 0}, {PC: addiPC, Raw: encAddi}}

			c := analyzer.Analyze(input()).Culprit

			Expect(c.FirstEntryBad).To(BeTrue())
			Expect(c.BadPC).To(Equal(uint64(0)))
		})

		It("should fall back to the divergence PC when the bad PC never committed", func() {
			machine.Committed = []sim.Committed{
				{PC: addiPC, Raw: encAddi},
				{PC: jalrPC, Raw: encJalr},
			}
			in := input()
			in.Divergence = &trace.Divergence{Cycle: 10, PC: 0, PrevPC: jalrPC, Reason: "bad"}

			c := analyzer.Analyze(in).Culprit

			Expect(c.PC).To(Equal(uint64(jalrPC)))
			Expect(c.BadPC).To(Equal(uint64(0)))
		})

		It("should report no culprit when every PC is valid", func() {
			machine.Committed = []sim.Committed{{PC: addiPC, Raw: encAddi}}

			Expect(analyzer.Analyze(input()).Culprit).To(BeNil())
		})

		It("should keep the re-read error", func() {
			machine.Committed = []sim.Committed{
				{PC: 0x40000000, Raw: encAddi},
				{PC: 0, Raw: 0},
			}
			analyzer, _ = analyze.NewAnalyzer(analyze.WithValidRanges(trace.Ranges{
				{Name: "all-but-zero", First: 1, Last: ^uint64(0)},
			}))

			c := analyzer.Analyze(input()).Culprit

			var pf *mmu.PageFaultError
			Expect(errors.As(c.Err, &pf)).To(BeTrue())
			Expect(c.Match()).To(BeFalse())
		})
	})

	Context("fault site", func() {
		BeforeEach(func() {
			machine.CSRs["sepc"] = ldPC
			machine.Write(dataVA+8, 0xdeadbeef, 8)
		})

		inputWith := func(a0, a1 uint64) analyze.Input {
			in := input()
			in.Regs[10] = a0
			in.Regs[11] = a1
			return in
		}

		It("should be skipped without sepc", func() {
			delete(machine.CSRs, "sepc")

			Expect(analyzer.Analyze(input()).Fault).To(BeNil())
		})

		It("should find a faithful load from the wrong place", func() {
			f := analyzer.Analyze(inputWith(0xdeadbeef, dataVA)).Fault

			Expect(f.Inst.String()).To(Equal("ld a0, 8(a1)"))
			Expect(f.Load).NotTo(BeNil())
			Expect(f.Load.Base).To(Equal(uint8(11)))
			Expect(f.Load.EA).To(Equal(uint64(dataVA + 8)))
			Expect(f.Load.Expected).To(Equal(uint64(0xdeadbeef)))
			Expect(f.Load.Verdict).To(Equal(analyze.VerdictWrongAddress))
		})

		It("should find a stale load", func() {
			f := analyzer.Analyze(inputWith(0, dataVA)).Fault

			Expect(f.Load.Loaded).To(Equal(uint64(0)))
			Expect(f.Load.Verdict).To(Equal(analyze.VerdictStaleData))
		})

		It("should sign-extend narrow loads", func() {
			machine.Write(ldPC, 0x0085a503, 4) // lw a0, 8(a1)
			machine.Write(dataVA+8, 0x80000000, 8)

			f := analyzer.Analyze(inputWith(0xffffffff80000000, dataVA)).Fault

			Expect(f.Load.Expected).To(Equal(uint64(0xffffffff80000000)))
			Expect(f.Load.Verdict).To(Equal(analyze.VerdictWrongAddress))
		})

		It("should not recompute an address whose base was overwritten", func() {
			machine.Write(ldPC, 0x0085b583, 4) // ld a1, 8(a1)

			f := analyzer.Analyze(inputWith(0, 0xdeadbeef)).Fault

			Expect(f.Load.BaseClobbered).To(BeTrue())
			Expect(f.Load.Probe).To(BeNil())
			Expect(f.Load.Verdict).To(Equal(analyze.VerdictUnknown))
		})

		It("should not judge a load that raised the exception", func() {
			machine.CSRs["scause"] = analyze.ExcLoadAccess

			f := analyzer.Analyze(inputWith(0x1234, dataVA)).Fault

			Expect(f.Load.Trapped).To(BeTrue())
			Expect(f.Load.EA).To(Equal(uint64(dataVA + 8)))
			Expect(f.Load.Probe.Value).To(Equal(uint64(0xdeadbeef)))
			Expect(f.Load.Expected).To(Equal(uint64(0xdeadbeef)))
			Expect(f.Load.Verdict).To(Equal(analyze.VerdictUnknown))
		})

		It("should recompute the address of a trapped load into its base", func() {
			machine.CSRs["scause"] = analyze.ExcLoadPageFault
			machine.Write(ldPC, 0x0085b583, 4) // ld a1, 8(a1)

			f := analyzer.Analyze(inputWith(0, dataVA)).Fault

			Expect(f.Load.Trapped).To(BeTrue())
			Expect(f.Load.BaseClobbered).To(BeFalse())
			Expect(f.Load.EA).To(Equal(uint64(dataVA + 8)))
			Expect(f.Load.Verdict).To(Equal(analyze.VerdictUnknown))
		})

		DescribeTable("should judge loads interrupted by other causes",
			func(scause uint64) {
				machine.CSRs["scause"] = scause

				f := analyzer.Analyze(inputWith(0x1234, dataVA)).Fault

				Expect(f.Load.Trapped).To(BeFalse())
				Expect(f.Load.Verdict).To(Equal(analyze.VerdictStaleData))
			},
			Entry("supervisor timer interrupt", uint64(1<<63|5)),
			Entry("store page fault", uint64(analyze.ExcStorePageFault)),
			Entry("illegal instruction", uint64(analyze.ExcIllegalInst)),
		)

		It("should report an untranslatable effective address", func() {
			f := analyzer.Analyze(inputWith(0, 0x40000000)).Fault

			Expect(f.Load.Probe.Err).To(HaveOccurred())
			Expect(f.Load.Verdict).To(Equal(analyze.VerdictUnknown))
		})

		It("should not check loads for other instructions", func() {
			machine.CSRs["sepc"] = addiPC

			f := analyzer.Analyze(input()).Fault

			Expect(f.Inst.Op).To(Equal(insts.OpADDI))
			Expect(f.Load).To(BeNil())
		})

		It("should report an unreadable sepc", func() {
			machine.CSRs["sepc"] = 0x40000000

			f := analyzer.Analyze(input()).Fault

			Expect(f.Err).To(HaveOccurred())
			Expect(f.Inst).To(BeNil())
		})
	})

	Context("stval probe", func() {
		It("should read through the page tables", func() {
			machine.CSRs["stval"] = dataVA + 8
			machine.Write(dataVA+8, 0x1122334455667788, 8)

			p := analyzer.Analyze(input()).Stval

			Expect(p.Err).NotTo(HaveOccurred())
			Expect(p.Translation.PA).To(Equal(uint64(dataVA + 8)))
			Expect(p.Value).To(Equal(uint64(0x1122334455667788)))
			Expect(p.String()).To(HavePrefix("PA=0x80002008, value=0x1122334455667788 [PA=0x80002008 (1GB"))
		})

		It("should explain a failed translation", func() {
			machine.CSRs["stval"] = 0x40000000

			p := analyzer.Analyze(input()).Stval

			Expect(p.String()).To(HavePrefix("cannot translate: PTE invalid at level 2"))
		})

		It("should explain a failed read", func() {
			machine.CSRs["stval"] = 0x90000000

			p := analyzer.Analyze(input()).Stval

			Expect(p.ReadErr).To(HaveOccurred())
			Expect(p.String()).To(HavePrefix("PA=0x90000000, cannot read:"))
		})

		It("should be skipped when stval is zero", func() {
			Expect(analyzer.Analyze(input()).Stval).To(BeNil())
		})
	})

	Context("listing", func() {
		It("should fold repeated PCs and aggregate their changes", func() {
			in := input()
			in.Trace = []trace.Entry{
				{Cycle: 1, PC: addiPC, Changes: []sim.RegChange{{Reg: 10, Old: 0, New: 1}}},
				{Cycle: 2, PC: addiPC},
				{Cycle: 3, PC: jalrPC},
				{Cycle: 4, PC: 0},
			}

			lines := analyzer.Analyze(in).Listing

			Expect(lines).To(HaveLen(3))
			Expect(lines[0].PC).To(Equal(uint64(addiPC)))
			Expect(lines[0].Cycles).To(Equal(2))
			Expect(lines[0].Changes).To(ConsistOf(sim.RegChange{Reg: 10, Old: 0, New: 1}))
			Expect(lines[0].Inst.String()).To(Equal("addi a0, a0, 1"))
			Expect(lines[1].Inst.Op).To(Equal(insts.OpJALR))
			Expect(lines[2].Err).To(HaveOccurred())
			Expect(lines[2].Inst).To(BeNil())
		})

		It("should mark page-straddling instructions", func() {
			in := input()
			in.Trace = []trace.Entry{{Cycle: 1, PC: boundaryPC}}

			lines := analyzer.Analyze(in).Listing

			Expect(lines[0].Fetch.CrossPage).NotTo(BeNil())
			Expect(lines[0].Inst.String()).To(Equal("add a0, a1, a0"))
		})
	})

	Context("symbols", func() {
		BeforeEach(func() {
			prog := &loader.Program{Symbols: []loader.Symbol{
				{Name: "init", Addr: addiPC, Size: 8},
				{Name: "load_word", Addr: ldPC, Size: 4},
			}}

			var err error
			analyzer, err = analyze.NewAnalyzer(analyze.WithSymbolizer(prog))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should name committed, culprit and listing PCs", func() {
			machine.Committed = []sim.Committed{
				{PC: addiPC, Raw: encAddi},
				{PC: jalrPC, Raw: encJalr},
				{PC: 0, Raw: 0},
			}
			in := input()
			in.Trace = []trace.Entry{{Cycle: 1, PC: ldPC}, {Cycle: 2, PC: boundaryPC}}

			r := analyzer.Analyze(in)

			Expect(r.Committed[0].Symbol).To(Equal("init"))
			Expect(r.Committed[2].Symbol).To(BeEmpty())
			Expect(r.Culprit.Symbol).To(Equal("init+0x4"))
			Expect(r.Listing[0].Symbol).To(Equal("load_word"))
			Expect(r.Listing[1].Symbol).To(BeEmpty())
		})
	})

	Context("InputFrom", func() {
		It("should read the stepped simulator", func() {
			machine.Committed = []sim.Committed{{PC: addiPC, Raw: encAddi}}
			machine.RegAt = func(_ uint64, idx uint8) uint64 { return uint64(idx) * 2 }
			machine.Run(42)

			in := analyze.InputFrom(&localize.Result{
				Simulator: machine,
				Trace:     []trace.Entry{{Cycle: 42, PC: addiPC}},
			})

			Expect(in.Memory).To(BeIdenticalTo(machine))
			Expect(in.Committed).To(HaveLen(1))
			Expect(in.Regs[10]).To(Equal(uint64(20)))
			Expect(in.Stats.Cycles).To(Equal(uint64(42)))
			Expect(in.CSRs.Value("satp")).To(Equal(uint64(satp)))
			Expect(in.Trace).To(HaveLen(1))
			Expect(in.Privilege).To(Equal(sim.PrivSupervisor))
		})
	})
})
