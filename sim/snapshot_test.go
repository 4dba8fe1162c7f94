package sim_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvdiag/sim"
	"github.com/sarchlab/rvdiag/sim/simtest"
)

var _ = Describe("Snapshot", func() {
	var stub *simtest.Stub

	BeforeEach(func() {
		stub = simtest.NewStub(0)
		stub.RegAt = func(cycle uint64, idx uint8) uint64 {
			if idx == 10 {
				return cycle
			}
			return uint64(idx)
		}
	})

	It("should capture PC, registers, privilege and cycle", func() {
		stub.Run(7)

		snap := sim.Capture(stub)

		Expect(snap.Cycle).To(Equal(uint64(7)))
		Expect(snap.PC).To(Equal(uint64(0x8000001c)))
		Expect(snap.Privilege).To(Equal(sim.PrivSupervisor))
		Expect(snap.Regs[0]).To(BeZero())
		Expect(snap.Regs[2]).To(Equal(uint64(2)))
		Expect(snap.Regs[10]).To(Equal(uint64(7)))
	})

	It("should list changed registers", func() {
		before := sim.Capture(stub)
		stub.Run(3)
		after := sim.Capture(stub)

		changes := after.Diff(before)

		Expect(changes).To(HaveLen(1))
		Expect(changes[0].Reg).To(Equal(uint8(10)))
		Expect(changes[0].String()).To(Equal("a0: 0x0 -> 0x3"))
	})

	It("should not report changes between identical snapshots", func() {
		snap := sim.Capture(stub)
		Expect(snap.Diff(snap)).To(BeEmpty())
	})

	It("should read the cycle without building stats when it can", func() {
		counting := &statsCounting{Stub: stub}
		counting.Run(5)

		Expect(sim.Capture(counting).Cycle).To(Equal(uint64(5)))
		Expect(sim.CycleOf(counting)).To(Equal(uint64(5)))
		Expect(counting.stats).To(BeZero())
	})

	It("should fall back to stats without a cycle counter", func() {
		counting := &statsCounting{Stub: stub}
		plain := statsOnly{counting}
		plain.Run(4)

		Expect(sim.Capture(plain).Cycle).To(Equal(uint64(4)))
		Expect(counting.stats).To(Equal(1))
	})
})

type statsCounting struct {
	*simtest.Stub
	stats int
}

func (c *statsCounting) Stats() sim.Stats {
	c.stats++
	return c.Stub.Stats()
}

// statsOnly hides every method beyond sim.Simulator.
type statsOnly struct {
	sim.Simulator
}

var _ = Describe("CSRSnapshot", func() {
	It("should record implemented CSRs and mark the rest absent", func() {
		stub := simtest.NewStub(0)
		stub.CSRs["scause"] = 0xd
		stub.CSRs["satp"] = 0x8000000000080200

		csrs := sim.CaptureCSRs(stub)

		v, ok := csrs.Get("scause")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(uint64(0xd)))

		_, ok = csrs.Get("mtvec")
		Expect(ok).To(BeFalse())
		Expect(csrs.Value("mtvec")).To(BeZero())
		Expect(csrs.Names()).To(Equal(sim.AnalysisCSRs))
	})

	It("should capture only the requested CSRs", func() {
		stub := simtest.NewStub(0)
		stub.CSRs["sepc"] = 0x1000

		csrs := sim.CaptureCSRs(stub, "sepc", "stval")

		Expect(csrs.Names()).To(Equal([]string{"sepc", "stval"}))
		Expect(csrs.Value("sepc")).To(Equal(uint64(0x1000)))
	})
})

var _ = Describe("Privilege", func() {
	It("should print the mode letter", func() {
		Expect(sim.PrivUser.String()).To(Equal("U"))
		Expect(sim.PrivSupervisor.String()).To(Equal("S"))
		Expect(sim.PrivMachine.String()).To(Equal("M"))
		Expect(sim.Privilege(2).String()).To(Equal("priv(2)"))
	})
})
