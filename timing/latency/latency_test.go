package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvdiag/insts"
	"github.com/sarchlab/rvdiag/timing/latency"
)

const pc = 0x80000000

var _ = Describe("Table", func() {
	var (
		table   *latency.Table
		decoder *insts.Decoder
	)

	BeforeEach(func() {
		table = latency.NewTable()
		decoder = insts.NewDecoder()
	})

	decode := func(word uint32) *insts.Instruction {
		return decoder.Decode(word, pc)
	}

	DescribeTable("default latencies",
		func(word uint32, expected uint64) {
			Expect(table.GetLatency(decode(word))).To(Equal(expected))
		},
		Entry("addi a0, a0, 1", uint32(0x00150513), uint64(1)),
		Entry("c.addi a0, 1", uint32(0x0505), uint64(1)),
		Entry("lui a0, 0x12345", uint32(0x12345537), uint64(1)),
		Entry("mul a0, a1, a2", uint32(0x02c58533), uint64(3)),
		Entry("div a0, a1, a2", uint32(0x02c5c533), uint64(20)),
		Entry("divw a0, a1, a2", uint32(0x02c5c53b), uint64(10)),
		Entry("beq a0, a1, +8", uint32(0x00b50463), uint64(1)),
		Entry("jal ra, +16", uint32(0x010000ef), uint64(1)),
		Entry("ld a5, 8(sp)", uint32(0x00813783), uint64(3)),
		Entry("sd a0, 8(sp)", uint32(0x00a13423), uint64(1)),
		Entry("amoadd.w a0, a1, (a2)", uint32(0x00b6252f), uint64(5)),
		Entry("csrr a0, sstatus", uint32(0x10002573), uint64(1)),
		Entry("illegal", uint32(0x00000000), uint64(1)),
	)

	It("should expose the redirect penalty", func() {
		Expect(table.TakenBranchPenalty()).To(Equal(uint64(2)))
	})

	It("should classify data-memory accesses", func() {
		ld, sd, amo := decode(0x00813783), decode(0x00a13423), decode(0x00b6252f)

		Expect(table.IsMemoryOp(ld)).To(BeTrue())
		Expect(table.IsMemoryOp(sd)).To(BeTrue())
		Expect(table.IsMemoryOp(amo)).To(BeTrue())
		Expect(table.IsMemoryOp(decode(0x00150513))).To(BeFalse())

		Expect(table.IsLoadOp(ld)).To(BeTrue())
		Expect(table.IsStoreOp(ld)).To(BeFalse())
		Expect(table.IsStoreOp(sd)).To(BeTrue())
		Expect(table.IsLoadOp(amo)).To(BeFalse())
	})

	It("should treat a missing instruction as a one-cycle non-memory op", func() {
		Expect(table.GetLatency(nil)).To(Equal(uint64(1)))
		Expect(table.IsMemoryOp(nil)).To(BeFalse())
	})

	It("should read latencies from its config", func() {
		config := latency.DefaultTimingConfig()
		config.LoadLatency = 7
		config.MultiplyLatency = 4
		table = latency.NewTableWithConfig(config)

		Expect(table.GetLatency(decode(0x00813783))).To(Equal(uint64(7)))
		Expect(table.GetLatency(decode(0x02c58533))).To(Equal(uint64(4)))
	})
})

var _ = Describe("TimingConfig", func() {
	It("should be valid by default", func() {
		Expect(latency.DefaultTimingConfig().Validate()).To(Succeed())
	})

	DescribeTable("Validate",
		func(mutate func(*latency.TimingConfig), message string) {
			config := latency.DefaultTimingConfig()
			mutate(config)
			Expect(config.Validate()).To(MatchError(ContainSubstring(message)))
		},
		Entry("zero ALU latency", func(c *latency.TimingConfig) { c.ALULatency = 0 }, "alu_latency"),
		Entry("zero load latency", func(c *latency.TimingConfig) { c.LoadLatency = 0 }, "load_latency"),
		Entry("zero atomic latency", func(c *latency.TimingConfig) { c.AtomicLatency = 0 }, "atomic_latency"),
		Entry("zero multiply latency", func(c *latency.TimingConfig) { c.MultiplyLatency = 0 }, "multiply_latency"),
		Entry("inverted divide range", func(c *latency.TimingConfig) {
			c.DivideLatencyMin = 30
		}, "divide_latency_min must be <="),
	)

	It("should allow a zero redirect penalty", func() {
		config := latency.DefaultTimingConfig()
		config.TakenBranchPenalty = 0
		Expect(config.Validate()).To(Succeed())
	})

	It("should clone independently", func() {
		original := latency.DefaultTimingConfig()
		clone := original.Clone()
		clone.ALULatency = 100

		Expect(original.ALULatency).To(Equal(uint64(1)))
	})

	Describe("files", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		DescribeTable("should round-trip",
			func(name string) {
				original := latency.DefaultTimingConfig()
				original.ALULatency = 5
				original.DivideLatencyMax = 40

				path := filepath.Join(dir, name)
				Expect(original.SaveConfig(path)).To(Succeed())

				loaded, err := latency.LoadConfig(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(loaded).To(Equal(original))
			},
			Entry("as JSON", "timing.json"),
			Entry("as YAML", "timing.yaml"),
		)

		It("should keep defaults for missing fields", func() {
			path := filepath.Join(dir, "partial.yml")
			Expect(os.WriteFile(path, []byte("load_latency: 9\n"), 0644)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.LoadLatency).To(Equal(uint64(9)))
			Expect(loaded.DivideLatencyMax).To(Equal(uint64(20)))
		})

		It("should fail on a missing file", func() {
			_, err := latency.LoadConfig(filepath.Join(dir, "absent.json"))
			Expect(err).To(MatchError(ContainSubstring("failed to read")))
		})

		It("should fail on malformed JSON", func() {
			path := filepath.Join(dir, "bad.json")
			Expect(os.WriteFile(path, []byte("not valid json"), 0644)).To(Succeed())

			_, err := latency.LoadConfig(path)
			Expect(err).To(MatchError(ContainSubstring("failed to parse")))
		})
	})
})
