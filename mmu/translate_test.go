package mmu_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvdiag/mmu"
)

var _ = Describe("Translate", func() {
	var mem *sparseMemory

	BeforeEach(func() {
		mem = newPageTableFixture()
	})

	Describe("satp fields", func() {
		It("should split mode, ASID and PPN", func() {
			s := mmu.Satp(0x8123_4000_0008_0200)

			Expect(s.Mode()).To(Equal(mmu.ModeSv39))
			Expect(s.ASID()).To(Equal(uint16(0x1234)))
			Expect(s.PPN()).To(Equal(uint64(0x80200)))
			Expect(s.RootTable()).To(Equal(uint64(0x80200000)))
			Expect(s.String()).To(Equal("mode=8 asid=0x1234 ppn=0x80200"))
		})

		It("should round-trip through NewSatp", func() {
			s := mmu.NewSatp(mmu.ModeSv39, 0x1234, 0x80200)
			Expect(s).To(Equal(mmu.Satp(0x8123_4000_0008_0200)))
		})
	})

	Describe("leaf entries", func() {
		It("should map through a 1GB leaf at level 2", func() {
			tr, err := mmu.Translate(mem, 0x1000, satp)

			Expect(err).ToNot(HaveOccurred())
			Expect(tr.PA).To(Equal(uint64(0x80001000)))
			Expect(tr.PageSize).To(Equal(mmu.Page1G))
			Expect(tr.Level).To(Equal(2))
			Expect(tr.EntryPA).To(Equal(uint64(rootTable)))
			Expect(tr.Perm.String()).To(Equal("RWXAD"))
		})

		It("should map through a 2MB leaf at level 1", func() {
			tr, err := mmu.Translate(mem, 0x40123456, satp)

			Expect(err).ToNot(HaveOccurred())
			Expect(tr.PA).To(Equal(uint64(0x80523456)))
			Expect(tr.PageSize).To(Equal(mmu.Page2M))
			Expect(tr.Level).To(Equal(1))
			Expect(tr.Perm.Has(mmu.PermX)).To(BeFalse())
			Expect(tr.Perm.String()).To(Equal("RWAD"))
		})

		It("should map through a 4KB leaf at level 0", func() {
			tr, err := mmu.Translate(mem, 0x40201ABC, satp)

			Expect(err).ToNot(HaveOccurred())
			Expect(tr.PA).To(Equal(uint64(0x80555ABC)))
			Expect(tr.PageSize).To(Equal(mmu.Page4K))
			Expect(tr.Level).To(Equal(0))
			Expect(tr.EntryPA).To(Equal(uint64(l0Table + 8)))
			Expect(tr.Perm.Has(mmu.PermU)).To(BeTrue())
			Expect(tr.String()).To(HavePrefix("PA=0x80555abc (4KB RWXUAD) pte=0x"))
		})

		It("should index sign-extended kernel addresses by VPN[2]", func() {
			tr, err := mmu.Translate(mem, 0xFFFFFFC000000010, satp)

			Expect(err).ToNot(HaveOccurred())
			Expect(tr.PA).To(Equal(uint64(0x80000010)))
			Expect(tr.Perm.Has(mmu.PermG)).To(BeTrue())
		})
	})

	Describe("failures", func() {
		It("should reject non-Sv39 modes", func() {
			_, err := mmu.Translate(mem, 0x1000, mmu.NewSatp(9, 0, rootTable>>12))
			Expect(errors.Is(err, mmu.ErrUnsupportedMode)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("satp mode 9"))

			_, err = mmu.Translate(mem, 0x1000, 0)
			Expect(errors.Is(err, mmu.ErrUnsupportedMode)).To(BeTrue())
		})

		It("should report an invalid root entry at level 2", func() {
			_, err := mmu.Translate(mem, 0xC0000000, satp)

			var pf *mmu.PageFaultError
			Expect(errors.As(err, &pf)).To(BeTrue())
			Expect(pf.Level).To(Equal(2))
			Expect(pf.Address).To(Equal(uint64(rootTable + 3*8)))
			Expect(pf.Entry).To(Equal(mmu.PTE(0)))
		})

		It("should report an invalid entry at level 0", func() {
			_, err := mmu.Translate(mem, 0x40204000, satp)

			var pf *mmu.PageFaultError
			Expect(errors.As(err, &pf)).To(BeTrue())
			Expect(pf.Level).To(Equal(0))
			Expect(pf.Address).To(Equal(uint64(l0Table + 4*8)))
			Expect(pf.Error()).To(Equal("PTE invalid at level 0, addr 0x80202020, pte=0x0000000000000000"))
		})

		It("should fail explicitly when every level is a pointer", func() {
			_, err := mmu.Translate(mem, 0x40203000, satp)
			Expect(err).To(MatchError(mmu.ErrWalkExhausted))
		})

		It("should wrap memory read failures", func() {
			mem.limit = rootTable

			_, err := mmu.Translate(mem, 0x1000, satp)
			Expect(errors.Is(err, errOutOfRange)).To(BeTrue())
		})
	})

	Describe("page-table entries", func() {
		It("should decode flags and PPN", func() {
			pte := mmu.NewPTE(0x80555, mmu.PermV|mmu.PermR|mmu.PermX)

			Expect(pte.Valid()).To(BeTrue())
			Expect(pte.IsLeaf()).To(BeTrue())
			Expect(pte.PPN()).To(Equal(uint64(0x80555)))
			Expect(uint64(pte)).To(Equal(uint64(0x80555)<<10 | 0xB))
		})

		It("should treat an entry without R, W or X as a pointer", func() {
			Expect(mmu.NewPTE(0x80201, mmu.PermV).IsLeaf()).To(BeFalse())
		})

		It("should extract VPN indices", func() {
			va := uint64(0x40201ABC)
			Expect(mmu.VPN(va, 2)).To(Equal(uint64(1)))
			Expect(mmu.VPN(va, 1)).To(Equal(uint64(1)))
			Expect(mmu.VPN(va, 0)).To(Equal(uint64(1)))
		})
	})
})
