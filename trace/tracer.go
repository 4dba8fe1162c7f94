package trace

import (
	"fmt"

	"github.com/apex/log"

	"github.com/sarchlab/rvdiag/sim"
)

// Entry is one single-step record.
type Entry struct {
	Cycle     uint64
	PC        uint64
	Privilege sim.Privilege
	RA        uint64
	SP        uint64
	Changes   []sim.RegChange // Registers changed by this step
}

// String renders the entry as one trace line.
func (e Entry) String() string {
	return fmt.Sprintf("cycle=%d pc=0x%016x ra=0x%016x sp=0x%016x [%s]",
		e.Cycle, e.PC, e.RA, e.SP, e.Privilege)
}

// Divergence describes the first step a sentinel fired on.
type Divergence struct {
	Cycle  uint64
	PC     uint64
	PrevPC uint64
	Reason string
	Before sim.Snapshot // State before the diverging step
	After  sim.Snapshot // State after the diverging step
}

// StepResult is the outcome of one step.
type StepResult struct {
	Entry      Entry
	Exited     bool
	ExitCode   int64
	Divergence *Divergence
}

// Tracer single-steps a simulator and records every step in a ring.
type Tracer struct {
	sim       sim.Simulator
	ring      *Ring[Entry]
	sentinels []Sentinel
	logger    log.Interface

	progressInterval uint64
	steps            uint64
	prev             sim.Snapshot
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithSentinels adds divergence sentinels, evaluated in order.
func WithSentinels(sentinels ...Sentinel) Option {
	return func(t *Tracer) {
		t.sentinels = append(t.sentinels, sentinels...)
	}
}

// WithLogger sets the logger used for progress messages.
func WithLogger(logger log.Interface) Option {
	return func(t *Tracer) {
		t.logger = logger
	}
}

// WithProgressInterval logs progress every n steps. Zero disables it.
func WithProgressInterval(n uint64) Option {
	return func(t *Tracer) {
		t.progressInterval = n
	}
}

// NewTracer creates a tracer over s keeping the last depth steps. The
// current state of s is the baseline for the first step's register diff.
func NewTracer(s sim.Simulator, depth int, opts ...Option) *Tracer {
	t := &Tracer{
		sim:    s,
		ring:   NewRing[Entry](depth),
		logger: log.Log,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.prev = sim.Capture(s)

	return t
}

// Step advances the simulator one cycle, records the step and evaluates
// the sentinels.
func (t *Tracer) Step() StepResult {
	before := t.prev
	exit, exited := t.sim.Run(1)
	after := sim.Capture(t.sim)
	t.prev = after
	t.steps++

	entry := Entry{
		Cycle:     after.Cycle,
		PC:        after.PC,
		Privilege: after.Privilege,
		RA:        after.Regs[1],
		SP:        after.Regs[2],
		Changes:   after.Diff(before),
	}
	t.ring.Push(entry)

	result := StepResult{Entry: entry, Exited: exited, ExitCode: exit.Code}

	for _, s := range t.sentinels {
		if reason, hit := s.Check(after); hit {
			result.Divergence = &Divergence{
				Cycle:  after.Cycle,
				PC:     after.PC,
				PrevPC: before.PC,
				Reason: reason,
				Before: before,
				After:  after,
			}
			break
		}
	}

	if t.progressInterval > 0 && t.steps%t.progressInterval == 0 {
		t.logger.WithFields(log.Fields{
			"step":  t.steps,
			"cycle": after.Cycle,
			"pc":    fmt.Sprintf("0x%016x", after.PC),
		}).Info("single-stepping")
	}

	return result
}

// Trace returns the recorded steps, oldest first.
func (t *Tracer) Trace() []Entry {
	return t.ring.Items()
}

// Steps returns the number of steps taken.
func (t *Tracer) Steps() uint64 {
	return t.steps
}

// Current returns the state after the latest step.
func (t *Tracer) Current() sim.Snapshot {
	return t.prev
}
