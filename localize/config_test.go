package localize_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvdiag/localize"
	"github.com/sarchlab/rvdiag/trace"
)

var _ = Describe("Config", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("should default to the boot-crash search parameters", func() {
		c := localize.DefaultConfig()

		Expect(c.FastForward).To(Equal(uint64(160_000_000)))
		Expect(c.Chunk).To(Equal(uint64(500_000)))
		Expect(c.Margin).To(Equal(uint64(5_000)))
		Expect(c.MaxSteps).To(BeZero())
		Expect(c.StepBudget()).To(Equal(uint64(510_000)))
		Expect(c.ValidRanges).To(Equal(trace.DefaultValidRanges()))
		Expect(c.Validate()).To(Succeed())
	})

	It("should load JSON and keep defaults for missing fields", func() {
		path := filepath.Join(dir, "search.json")
		Expect(os.WriteFile(path, []byte(`{"chunk": 1000, "poison_reg": "ra"}`), 0644)).To(Succeed())

		c, err := localize.LoadConfig(path)

		Expect(err).ToNot(HaveOccurred())
		Expect(c.Chunk).To(Equal(uint64(1000)))
		Expect(c.PoisonReg).To(Equal("ra"))
		Expect(c.Margin).To(Equal(uint64(5_000)))
	})

	It("should load YAML by extension", func() {
		path := filepath.Join(dir, "search.yaml")
		data := []byte(`
fast_forward: 2000
valid_ranges:
  - name: ram
    first: 0x80000000
    last: 0x8fffffff
poison_reg: x1
poison_value: 0xdead
`)
		Expect(os.WriteFile(path, data, 0644)).To(Succeed())

		c, err := localize.LoadConfig(path)

		Expect(err).ToNot(HaveOccurred())
		Expect(c.FastForward).To(Equal(uint64(2000)))
		Expect(c.ValidRanges).To(HaveLen(1))
		Expect(c.ValidRanges[0].Last).To(Equal(uint64(0x8fffffff)))
		Expect(c.PoisonValue).To(Equal(uint64(0xdead)))
		Expect(c.Validate()).To(Succeed())
	})

	It("should round-trip through SaveConfig", func() {
		for _, name := range []string{"out.json", "out.yml"} {
			path := filepath.Join(dir, name)
			c := localize.DefaultConfig()
			c.Chunk = 1234
			c.PoisonReg = "a0"
			c.PoisonValue = 0xF70AD87C52FED200

			Expect(c.SaveConfig(path)).To(Succeed())

			loaded, err := localize.LoadConfig(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded).To(Equal(c))
		}
	})

	It("should fail on unreadable or malformed files", func() {
		_, err := localize.LoadConfig(filepath.Join(dir, "missing.json"))
		Expect(err).To(MatchError(ContainSubstring("failed to read localizer config file")))

		path := filepath.Join(dir, "bad.json")
		Expect(os.WriteFile(path, []byte("{"), 0644)).To(Succeed())
		_, err = localize.LoadConfig(path)
		Expect(err).To(MatchError(ContainSubstring("failed to parse localizer config")))
	})

	Describe("step budget", func() {
		It("should follow chunk and margin loaded from a file", func() {
			path := filepath.Join(dir, "wide.yaml")
			Expect(os.WriteFile(path, []byte("fast_forward: 0\nchunk: 2000000\n"), 0644)).To(Succeed())

			c, err := localize.LoadConfig(path)

			Expect(err).ToNot(HaveOccurred())
			Expect(c.StepBudget()).To(Equal(uint64(2_010_000)))
		})

		It("should prefer an explicit max_steps", func() {
			c := localize.DefaultConfig()
			c.MaxSteps = 42
			c.Chunk = 1_000_000

			Expect(c.StepBudget()).To(Equal(uint64(42)))
		})

		It("should not write a derived budget", func() {
			path := filepath.Join(dir, "derived.yaml")
			Expect(localize.DefaultConfig().SaveConfig(path)).To(Succeed())

			data, err := os.ReadFile(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).ToNot(ContainSubstring("max_steps"))
		})
	})

	DescribeTable("validation",
		func(mutate func(c *localize.Config), msg string) {
			c := localize.DefaultConfig()
			mutate(c)
			Expect(c.Validate()).To(MatchError(ContainSubstring(msg)))
		},
		Entry("zero chunk", func(c *localize.Config) { c.Chunk = 0 }, "chunk must be > 0"),
		Entry("zero chunk budget", func(c *localize.Config) { c.MaxChunks = 0 }, "max_chunks"),
		Entry("zero depth", func(c *localize.Config) { c.TraceDepth = 0 }, "trace_depth"),
		Entry("no ranges", func(c *localize.Config) { c.ValidRanges = nil }, "valid_ranges"),
		Entry("inverted range", func(c *localize.Config) {
			c.ValidRanges = trace.Ranges{{Name: "bad", First: 2, Last: 1}}
		}, `valid range "bad" is empty`),
		Entry("unknown poison register", func(c *localize.Config) { c.PoisonReg = "x99" }, "unknown poison register"),
	)

	It("should clone deeply", func() {
		c := localize.DefaultConfig()
		clone := c.Clone()

		clone.ValidRanges[0].First = 0
		clone.Chunk = 1

		Expect(c.ValidRanges[0].First).To(Equal(uint64(0x80000000)))
		Expect(c.Chunk).To(Equal(uint64(500_000)))
	})
})
