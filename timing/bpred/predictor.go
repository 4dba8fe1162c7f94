// Package bpred models a front-end branch predictor: a bimodal table of
// 2-bit saturating counters plus a direct-mapped branch target buffer.
package bpred

import "fmt"

// Config holds the predictor table sizes.
type Config struct {
	// BHTSize is the number of 2-bit counters. Must be a power of 2.
	// Default: 1024.
	BHTSize uint32 `json:"bht_size"`

	// BTBSize is the number of target buffer entries. Must be a power
	// of 2. Default: 256.
	BTBSize uint32 `json:"btb_size"`
}

// DefaultConfig returns the default predictor sizes.
func DefaultConfig() Config {
	return Config{
		BHTSize: 1024,
		BTBSize: 256,
	}
}

// Validate checks that both tables are non-empty powers of two.
func (c Config) Validate() error {
	if c.BHTSize == 0 || c.BHTSize&(c.BHTSize-1) != 0 {
		return fmt.Errorf("bht_size must be a power of 2, got %d", c.BHTSize)
	}
	if c.BTBSize == 0 || c.BTBSize&(c.BTBSize-1) != 0 {
		return fmt.Errorf("btb_size must be a power of 2, got %d", c.BTBSize)
	}
	return nil
}

// Statistics counts predictor outcomes.
type Statistics struct {
	Predictions    uint64
	Mispredictions uint64
	BTBHits        uint64
	BTBMisses      uint64
}

// Accuracy returns the fraction of correct predictions in percent.
func (s Statistics) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Predictions-s.Mispredictions) / float64(s.Predictions) * 100
}

// Prediction is the front end's guess for one control transfer.
type Prediction struct {
	Taken       bool
	Target      uint64
	TargetKnown bool
}

type btbEntry struct {
	valid  bool
	pc     uint64
	target uint64
}

// Predictor is a bimodal direction predictor with a target buffer.
// Counter states: 0 strongly not taken, 1 weakly not taken, 2 weakly
// taken, 3 strongly taken.
type Predictor struct {
	bht   []uint8
	btb   []btbEntry
	stats Statistics
}

// New creates a predictor with every counter weakly taken.
func New(config Config) (*Predictor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid branch predictor config: %w", err)
	}

	p := &Predictor{
		bht: make([]uint8, config.BHTSize),
		btb: make([]btbEntry, config.BTBSize),
	}
	p.Reset()
	return p, nil
}

// index drops bit 0 only: compressed instructions are 2-byte aligned.
func index(pc uint64, size int) int {
	return int((pc >> 1) & uint64(size-1))
}

// Predict looks up pc without changing predictor state.
func (p *Predictor) Predict(pc uint64) Prediction {
	pred := Prediction{Taken: p.bht[index(pc, len(p.bht))] >= 2}

	if e := p.btb[index(pc, len(p.btb))]; e.valid && e.pc == pc {
		pred.Target = e.target
		pred.TargetKnown = true
	}
	return pred
}

// Resolve predicts the transfer at pc, trains the tables with the actual
// outcome and reports whether the front end would have been redirected:
// the direction was wrong, or a taken transfer had no correct target.
func (p *Predictor) Resolve(pc uint64, taken bool, target uint64) bool {
	pred := p.Predict(pc)
	p.stats.Predictions++

	if pred.TargetKnown {
		p.stats.BTBHits++
	} else {
		p.stats.BTBMisses++
	}

	mispredicted := pred.Taken != taken ||
		(taken && (!pred.TargetKnown || pred.Target != target))
	if mispredicted {
		p.stats.Mispredictions++
	}

	i := index(pc, len(p.bht))
	switch {
	case taken && p.bht[i] < 3:
		p.bht[i]++
	case !taken && p.bht[i] > 0:
		p.bht[i]--
	}

	if taken {
		p.btb[index(pc, len(p.btb))] = btbEntry{valid: true, pc: pc, target: target}
	}

	return mispredicted
}

// Stats returns the predictor statistics.
func (p *Predictor) Stats() Statistics {
	return p.stats
}

// Reset clears the target buffer and statistics and sets every counter
// to weakly taken.
func (p *Predictor) Reset() {
	for i := range p.bht {
		p.bht[i] = 2
	}
	for i := range p.btb {
		p.btb[i] = btbEntry{}
	}
	p.stats = Statistics{}
}
