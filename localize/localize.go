// Package localize finds the cycle at which a long simulation diverges.
//
// The search runs in two phases. Bracket fast-forwards a fresh instance to
// a safe point and then runs fixed-size chunks until the run terminates;
// the terminating chunk brackets the crash. Pinpoint replays a second
// instance up to just before the bracket and single-steps it, checking a
// divergence sentinel after every cycle.
package localize

import (
	"errors"
	"fmt"

	"github.com/apex/log"

	"github.com/sarchlab/rvdiag/sim"
	"github.com/sarchlab/rvdiag/trace"
)

// Outcome is the result class of a localization.
type Outcome int

// Outcomes.
const (
	// OutcomeFound means a sentinel fired; the divergence is known.
	OutcomeFound Outcome = iota

	// OutcomeNotFound means a search budget ran out.
	OutcomeNotFound

	// OutcomeExited means the run terminated without any sentinel
	// firing, either while single-stepping or, alongside an
	// ErrExitedDuringFastForward error, during a fast-forward.
	OutcomeExited
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not found"
	case OutcomeExited:
		return "exited"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

var (
	// ErrExitedDuringFastForward is returned when a run terminates inside
	// a region that was assumed to be safe.
	ErrExitedDuringFastForward = errors.New("run terminated during fast-forward")

	// ErrNotBracketed is returned by Bracket when the run did not
	// terminate within MaxChunks chunks.
	ErrNotBracketed = errors.New("run did not terminate within the chunk budget")
)

// Bracket is the chunk in which the run terminated.
type Bracket struct {
	Start    uint64 // Cycle at which the terminating chunk started
	End      uint64 // Cycle at which the run terminated
	Chunks   uint64 // Chunks run, including the terminating one
	ExitCode int64
	ExitPC   uint64
}

// Result is the outcome of a localization.
type Result struct {
	Outcome    Outcome
	Bracket    Bracket
	Divergence *trace.Divergence // Set for OutcomeFound
	Trace      []trace.Entry     // Trailing single-step window
	Steps      uint64            // Single steps taken
	ExitCode   int64             // Set for OutcomeExited

	// Simulator is the last instance run, left at the point the search
	// stopped so it can be inspected.
	Simulator sim.Simulator
}

// Localizer runs the two-phase search over instances from a replay
// factory.
type Localizer struct {
	factory sim.Factory
	config  *Config
	logger  log.Interface
}

// Option configures a Localizer.
type Option func(*Localizer)

// WithLogger sets the logger used for phase and progress messages.
func WithLogger(logger log.Interface) Option {
	return func(l *Localizer) {
		l.logger = logger
	}
}

// NewLocalizer creates a Localizer. The config is validated and copied.
func NewLocalizer(factory sim.Factory, config *Config, opts ...Option) (*Localizer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid localizer config: %w", err)
	}

	l := &Localizer{
		factory: factory,
		config:  config.Clone(),
		logger:  log.Log,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Config returns the localizer configuration.
func (l *Localizer) Config() *Config {
	return l.config
}

// Localize brackets the crash and then pinpoints it. Exhausting either
// search budget yields OutcomeNotFound, not an error.
//
// When a run terminates during a fast-forward, the error wraps
// ErrExitedDuringFastForward and the returned Result still carries the
// stopped instance with OutcomeExited, so its committed trace can be
// inspected.
func (l *Localizer) Localize() (*Result, error) {
	b, s, err := l.bracket()
	if errors.Is(err, ErrNotBracketed) {
		return &Result{Outcome: OutcomeNotFound, Bracket: b}, nil
	}
	if err != nil {
		return exitedEarly(b, s, err), err
	}

	return l.Pinpoint(b)
}

// exitedEarly builds the Result for an instance that terminated during a
// fast-forward, or returns nil for any other failure.
func exitedEarly(b Bracket, s sim.Simulator, err error) *Result {
	var ff *fastForwardExit
	if s == nil || !errors.As(err, &ff) {
		return nil
	}
	return &Result{
		Outcome:   OutcomeExited,
		Bracket:   b,
		ExitCode:  ff.code,
		Simulator: s,
	}
}

// Bracket runs phase 1 on a fresh instance.
func (l *Localizer) Bracket() (Bracket, error) {
	b, _, err := l.bracket()
	return b, err
}

func (l *Localizer) bracket() (b Bracket, s sim.Simulator, err error) {
	defer l.logger.Trace("bracketing").Stop(&err)

	s, err = l.factory()
	if err != nil {
		return b, nil, fmt.Errorf("failed to create simulator: %w", err)
	}

	if err := l.fastForward(s, l.config.FastForward); err != nil {
		return b, s, err
	}

	for b.Chunks < l.config.MaxChunks {
		b.Start = sim.CycleOf(s)
		exit, done := s.Run(l.config.Chunk)
		b.Chunks++

		l.logger.WithFields(log.Fields{
			"chunk": b.Chunks,
			"cycle": sim.CycleOf(s),
		}).Debug("chunk done")

		if done {
			b.End = sim.CycleOf(s)
			b.ExitCode = exit.Code
			b.ExitPC = s.PC()

			l.logger.WithFields(log.Fields{
				"start": b.Start,
				"end":   b.End,
				"code":  b.ExitCode,
				"pc":    fmt.Sprintf("0x%016x", b.ExitPC),
			}).Info("exit bracketed")

			return b, s, nil
		}
	}

	return b, s, fmt.Errorf("%w (%d chunks of %d cycles)", ErrNotBracketed, b.Chunks, l.config.Chunk)
}

// Pinpoint runs phase 2: it replays a fresh instance to Margin cycles
// before the bracket and single-steps until a sentinel fires, the run
// terminates or the step budget is exhausted. A replay that terminates
// before the single-step window returns the stopped instance along with
// an error wrapping ErrExitedDuringFastForward.
func (l *Localizer) Pinpoint(b Bracket) (res *Result, err error) {
	defer l.logger.Trace("pinpointing").Stop(&err)

	s, err := l.factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator: %w", err)
	}

	target := uint64(0)
	if b.Start > l.config.Margin {
		target = b.Start - l.config.Margin
	}
	if err := l.fastForward(s, target); err != nil {
		return exitedEarly(b, s, err), err
	}

	tracer := trace.NewTracer(s, l.config.TraceDepth,
		trace.WithSentinels(l.config.sentinels()...),
		trace.WithLogger(l.logger),
		trace.WithProgressInterval(l.config.ProgressInterval),
	)

	res = &Result{Outcome: OutcomeNotFound, Bracket: b, Simulator: s}
	budget := l.config.StepBudget()
	for tracer.Steps() < budget {
		step := tracer.Step()

		if step.Divergence != nil {
			res.Outcome = OutcomeFound
			res.Divergence = step.Divergence

			l.logger.WithFields(log.Fields{
				"cycle":  step.Divergence.Cycle,
				"pc":     fmt.Sprintf("0x%016x", step.Divergence.PC),
				"reason": step.Divergence.Reason,
			}).Info("divergence found")
			break
		}

		if step.Exited {
			res.Outcome = OutcomeExited
			res.ExitCode = step.ExitCode

			l.logger.WithFields(log.Fields{
				"cycle": step.Entry.Cycle,
				"code":  step.ExitCode,
			}).Warn("run terminated without divergence")
			break
		}
	}

	res.Trace = tracer.Trace()
	res.Steps = tracer.Steps()
	if res.Outcome == OutcomeNotFound {
		l.logger.WithField("steps", res.Steps).Warn("single-step budget exhausted")
	}

	return res, nil
}

// fastForwardExit is the error for a run that terminated while being
// fast-forwarded.
type fastForwardExit struct {
	code  int64
	cycle uint64
}

func (e *fastForwardExit) Error() string {
	return fmt.Sprintf("%v: exit code %d at cycle %d", ErrExitedDuringFastForward, e.code, e.cycle)
}

func (e *fastForwardExit) Unwrap() error {
	return ErrExitedDuringFastForward
}

func (l *Localizer) fastForward(s sim.Simulator, cycles uint64) error {
	if cycles == 0 {
		return nil
	}

	l.logger.WithField("cycles", cycles).Info("fast-forwarding")
	if exit, done := s.Run(cycles); done {
		return &fastForwardExit{code: exit.Code, cycle: sim.CycleOf(s)}
	}
	return nil
}
