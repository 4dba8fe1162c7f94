package analyze

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/sarchlab/rvdiag/insts"
)

const rule = "========================================================================"

// Renderer writes reports as investigative text.
type Renderer struct {
	w io.Writer

	heading *color.Color
	warn    *color.Color
	good    *color.Color
	dim     *color.Color
}

// RenderOption configures a Renderer.
type RenderOption func(*Renderer)

// WithColor forces colored output on or off.
func WithColor(enabled bool) RenderOption {
	return func(r *Renderer) {
		r.setColor(enabled)
	}
}

// NewRenderer creates a Renderer writing to w. Output is colored when w is
// a terminal.
func NewRenderer(w io.Writer, opts ...RenderOption) *Renderer {
	r := &Renderer{
		w:       w,
		heading: color.New(color.FgCyan, color.Bold),
		warn:    color.New(color.FgRed, color.Bold),
		good:    color.New(color.FgGreen),
		dim:     color.New(color.Faint),
	}
	r.setColor(isTerminal(w))

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *Renderer) setColor(enabled bool) {
	for _, c := range []*color.Color{r.heading, r.warn, r.good, r.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Render writes the report.
func (r *Renderer) Render(rep *Report) error {
	var sb strings.Builder

	r.renderDivergence(&sb, rep)
	r.renderCSRs(&sb, rep)
	r.renderCommitted(&sb, rep)
	r.renderCulprit(&sb, rep)
	r.renderFault(&sb, rep)
	r.renderListing(&sb, rep)
	r.renderRegisters(&sb, rep)

	if _, err := io.WriteString(r.w, sb.String()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *Renderer) section(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(rule + "\n")
	sb.WriteString(r.heading.Sprint("  "+title) + "\n")
	sb.WriteString(rule + "\n")
}

func (r *Renderer) renderDivergence(sb *strings.Builder, rep *Report) {
	r.section(sb, "DIVERGENCE")

	d := rep.Divergence
	if d == nil {
		sb.WriteString("  No divergence detected; state is from the end of the search.\n")
	} else {
		fmt.Fprintf(sb, "  %s\n", r.warn.Sprintf("*** %s at cycle %d ***", d.Reason, d.Cycle))
		fmt.Fprintf(sb, "  PC:          0x%016x\n", d.PC)
		fmt.Fprintf(sb, "  Previous PC: 0x%016x\n", d.PrevPC)

		if changes := d.After.Diff(d.Before); len(changes) > 0 {
			sb.WriteString("  Register changes:\n")
			for _, c := range changes {
				fmt.Fprintf(sb, "    %s: 0x%016x -> 0x%016x\n", insts.RegName(c.Reg), c.Old, c.New)
			}
		}
	}

	fmt.Fprintf(sb, "  Privilege:   %s\n", rep.Privilege)
	fmt.Fprintf(sb, "  Cycles:      %d\n", rep.Stats.Cycles)
	fmt.Fprintf(sb, "  Retired:     %d\n", rep.Stats.Instructions)
}

func (r *Renderer) renderCSRs(sb *strings.Builder, rep *Report) {
	r.section(sb, "CSR STATE")

	for _, line := range rep.CSRs {
		if !line.Present {
			fmt.Fprintf(sb, "  %10s = %s\n", line.Name, r.dim.Sprint("(absent)"))
			continue
		}
		fmt.Fprintf(sb, "  %10s = 0x%016x", line.Name, line.Value)
		if line.Note != "" {
			fmt.Fprintf(sb, "  (%s)", line.Note)
		}
		sb.WriteString("\n")
	}
}

func (r *Renderer) renderCommitted(sb *strings.Builder, rep *Report) {
	r.section(sb, fmt.Sprintf("PC TRACE (last %d committed instructions)", len(rep.Committed)))

	for i, line := range rep.Committed {
		marker := ""
		if i == len(rep.Committed)-1 {
			marker = " <<<"
		}
		fmt.Fprintf(sb, "  [%2d] 0x%016x%s: %-8s  %s%s\n",
			line.Index, line.PC, symbolSuffix(line.Symbol), line.Inst.Encoding(), line.Inst, marker)
	}
}

func (r *Renderer) renderCulprit(sb *strings.Builder, rep *Report) {
	r.section(sb, "ANALYSIS")

	c := rep.Culprit
	switch {
	case c == nil:
		sb.WriteString("  No invalid PC in the committed trace.\n")
		fmt.Fprintf(sb, "  scause=0x%x sepc=0x%016x stval=0x%016x\n",
			csrValue(rep, "scause"), csrValue(rep, "sepc"), csrValue(rep, "stval"))
		return
	case c.FirstEntryBad:
		fmt.Fprintf(sb, "  First committed entry is already invalid: 0x%016x\n", c.BadPC)
		return
	}

	fmt.Fprintf(sb, "  Jump to invalid PC 0x%016x originated from:\n", c.BadPC)
	fmt.Fprintf(sb, "    PC   = 0x%016x%s\n", c.PC, symbolSuffix(c.Symbol))
	fmt.Fprintf(sb, "    Inst = %s  (0x%s)\n", c.Inst, c.Inst.Encoding())

	if c.Err != nil {
		fmt.Fprintf(sb, "    Cannot re-read: %v\n", c.Err)
		return
	}

	fmt.Fprintf(sb, "    Re-read from memory: %s  (0x%s)\n", c.RereadInst, c.RereadInst.Encoding())
	fmt.Fprintf(sb, "    Page: %s\n", c.Reread.Translation)

	if c.Match() {
		sb.WriteString("    " + r.good.Sprint("Encoding matches memory.") + "\n")
	} else {
		fmt.Fprintf(sb, "    %s\n", r.warn.Sprintf("*** ENCODING MISMATCH! Fetched 0x%s vs memory 0x%s ***",
			c.Inst.Encoding(), c.RereadInst.Encoding()))
	}

	if c.CrossPage != nil {
		fmt.Fprintf(sb, "    *** CROSS-PAGE INSTRUCTION (offset 0x%03x) ***\n", c.PC&0xFFF)
		fmt.Fprintf(sb, "    Lower half PA: 0x%x (%s)\n", c.CrossPage.Low.PA, c.CrossPage.Low)
		fmt.Fprintf(sb, "    Upper half PA: 0x%x (%s)\n", c.CrossPage.High.PA, c.CrossPage.High)
		if c.CrossPage.Mismatch() {
			sb.WriteString("    " + r.warn.Sprint(c.CrossPage.String()) + "\n")
		}
	}
}

func csrValue(rep *Report, name string) uint64 {
	for _, line := range rep.CSRs {
		if line.Name == name {
			return line.Value
		}
	}
	return 0
}

func (r *Renderer) renderFault(sb *strings.Builder, rep *Report) {
	if rep.Fault == nil && rep.Stval == nil {
		return
	}

	r.section(sb, "MEMORY INSPECTION")

	if rep.SCause != nil {
		fmt.Fprintf(sb, "  Supervisor cause: %s\n", rep.SCause)
	}
	if rep.MCause != nil {
		fmt.Fprintf(sb, "  Machine cause:    %s\n", rep.MCause)
	}

	if f := rep.Fault; f != nil {
		fmt.Fprintf(sb, "\n  Faulting instruction (sepc=0x%016x):\n", f.PC)
		if f.Err != nil {
			fmt.Fprintf(sb, "    Cannot read: %v\n", f.Err)
		} else {
			fmt.Fprintf(sb, "    %s (0x%s)\n", f.Inst, f.Inst.Encoding())
			fmt.Fprintf(sb, "    Page: %s\n", f.Fetch.Translation)
			if f.Load != nil {
				r.renderLoad(sb, f.Load)
			}
		}
	}

	if p := rep.Stval; p != nil {
		kind := ""
		if c := rep.SCause; c != nil && c.IsPageFault() {
			kind = fmt.Sprintf(", %s page fault", c.Access())
		}
		fmt.Fprintf(sb, "\n  Faulting address (stval=0x%016x%s):\n", p.VA, kind)
		fmt.Fprintf(sb, "    %s\n", p)
	}
}

func (r *Renderer) renderLoad(sb *strings.Builder, lc *LoadCheck) {
	fmt.Fprintf(sb, "    Effective address: %s(0x%x) + %d = 0x%016x\n",
		insts.RegName(lc.Base), lc.BaseValue, lc.Offset, lc.EA)

	if lc.BaseClobbered {
		sb.WriteString("    Base register was overwritten by the load; address not recomputable.\n")
		return
	}

	p := lc.Probe
	if p.Err != nil || p.ReadErr != nil {
		fmt.Fprintf(sb, "    %s\n", p)
		return
	}

	fmt.Fprintf(sb, "    Memory at PA 0x%x: 0x%016x\n", p.Translation.PA, p.Value)
	if lc.Trapped {
		fmt.Fprintf(sb, "    Load would return 0x%016x\n", lc.Expected)
		fmt.Fprintf(sb, "    *** %s ***\n", TrappedNote)
		return
	}
	fmt.Fprintf(sb, "    Expected load result 0x%016x, register holds 0x%016x\n", lc.Expected, lc.Loaded)

	text := fmt.Sprintf("*** %s ***", lc.Verdict)
	if lc.Verdict == VerdictStaleData {
		text = r.warn.Sprint(text)
	}
	fmt.Fprintf(sb, "    %s\n", text)
}

func (r *Renderer) renderListing(sb *strings.Builder, rep *Report) {
	if len(rep.Listing) == 0 {
		return
	}

	r.section(sb, fmt.Sprintf("INSTRUCTION TRACE (%d unique PCs)", len(rep.Listing)))

	for _, line := range rep.Listing {
		if line.Err != nil {
			fmt.Fprintf(sb, "  0x%016x: %s\n", line.PC, r.dim.Sprintf("UNMAPPED (%v)", line.Err))
			continue
		}

		fmt.Fprintf(sb, "  0x%016x%s: %-8s  %s", line.PC, symbolSuffix(line.Symbol), line.Inst.Encoding(), line.Inst)
		if line.Cycles > 1 {
			fmt.Fprintf(sb, " (%d cyc)", line.Cycles)
		}
		if line.Fetch.CrossPage != nil {
			sb.WriteString(" [cross-page]")
		}
		if len(line.Changes) > 0 {
			parts := make([]string, 0, len(line.Changes))
			for _, c := range line.Changes {
				parts = append(parts, fmt.Sprintf("%s:0x%x->0x%x", insts.RegName(c.Reg), c.Old, c.New))
			}
			sb.WriteString(" | " + strings.Join(parts, ", "))
		}
		sb.WriteString("\n")
	}
}

func (r *Renderer) renderRegisters(sb *strings.Builder, rep *Report) {
	r.section(sb, "REGISTER STATE")

	for i := 0; i < 32; i += 2 {
		fmt.Fprintf(sb, "    %s  %s\n", formatReg(uint8(i), rep.Regs[i]), formatReg(uint8(i+1), rep.Regs[i+1]))
	}
}

// symbolSuffix renders " <name+0x10>", or "" for an unknown address.
func symbolSuffix(name string) string {
	if name == "" {
		return ""
	}
	return " <" + name + ">"
}

// formatReg renders one register, e.g. "x10 (  a0) = 0x000000000000002a".
func formatReg(idx uint8, v uint64) string {
	return fmt.Sprintf("x%-2d (%4s) = 0x%016x", idx, insts.RegName(idx), v)
}

// Render is a shorthand for NewRenderer(w, opts...).Render(rep).
func Render(w io.Writer, rep *Report, opts ...RenderOption) error {
	return NewRenderer(w, opts...).Render(rep)
}
