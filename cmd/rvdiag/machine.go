package main

import (
	"fmt"
	"io"

	"github.com/apex/log"

	"github.com/sarchlab/rvdiag/emu"
	"github.com/sarchlab/rvdiag/insts"
	"github.com/sarchlab/rvdiag/loader"
	"github.com/sarchlab/rvdiag/sim"
	"github.com/sarchlab/rvdiag/timing/bpred"
	"github.com/sarchlab/rvdiag/timing/cache"
	"github.com/sarchlab/rvdiag/timing/latency"
)

// machineConfig describes how each replay instance is built.
type machineConfig struct {
	timing       *latency.TimingConfig
	dcache       *cache.Config // Nil disables the data-cache model
	bpred        *bpred.Config // Nil charges every taken transfer
	crossPageBug bool
	committed    int
	logger       log.Interface
	guestOutput  io.Writer // Guest stdout and stderr; nil discards
}

// newFactory returns a replay factory: every call builds a fresh machine
// with prog loaded, so all instances run the same cycle sequence.
func newFactory(prog *loader.Program, mc machineConfig) sim.Factory {
	table := latency.NewTableWithConfig(mc.timing)

	return func() (sim.Simulator, error) {
		opts := []emu.EmulatorOption{
			emu.WithLatencyTable(table),
			emu.WithCommittedDepth(mc.committed),
		}

		if mc.logger != nil {
			opts = append(opts, emu.WithLogger(mc.logger))
		}

		if mc.dcache != nil {
			c, err := cache.New(*mc.dcache)
			if err != nil {
				return nil, fmt.Errorf("failed to create data cache: %w", err)
			}
			opts = append(opts, emu.WithDataCache(c))
		}
		if mc.bpred != nil {
			p, err := bpred.New(*mc.bpred)
			if err != nil {
				return nil, fmt.Errorf("failed to create branch predictor: %w", err)
			}
			opts = append(opts, emu.WithBranchPredictor(p))
		}
		if mc.crossPageBug {
			opts = append(opts, emu.WithCrossPageFetchBug())
		}
		out := mc.guestOutput
		if out == nil {
			out = io.Discard
		}
		opts = append(opts, emu.WithStdout(out), emu.WithStderr(out))

		e := emu.NewEmulator(opts...)
		if err := prog.LoadInto(e.Memory()); err != nil {
			return nil, err
		}
		e.SetPC(prog.EntryPoint)
		e.RegFile().WriteReg(insts.RegSP, prog.InitialSP)

		return e, nil
	}
}
