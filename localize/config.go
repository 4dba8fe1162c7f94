package localize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/rvdiag/insts"
	"github.com/sarchlab/rvdiag/trace"
)

// Config holds the search parameters of the two localization phases.
type Config struct {
	// FastForward is the number of cycles run before the chunked search
	// starts. The run must not terminate within it. Default: 160,000,000.
	FastForward uint64 `json:"fast_forward" yaml:"fast_forward"`

	// Chunk is the number of cycles per coarse search step.
	// Default: 500,000.
	Chunk uint64 `json:"chunk" yaml:"chunk"`

	// Margin is the number of extra cycles replayed ahead of the bracket
	// before single-stepping. Default: 5,000.
	Margin uint64 `json:"margin" yaml:"margin"`

	// MaxChunks bounds the coarse search. Default: 10,000.
	MaxChunks uint64 `json:"max_chunks" yaml:"max_chunks"`

	// MaxSteps bounds the single-step search. Zero derives the budget
	// from the current Chunk and Margin, see StepBudget.
	MaxSteps uint64 `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`

	// TraceDepth is the number of single steps kept for the report.
	// Default: 64.
	TraceDepth int `json:"trace_depth" yaml:"trace_depth"`

	// ProgressInterval logs progress every this many single steps. Zero
	// disables progress logging. Default: 10,000.
	ProgressInterval uint64 `json:"progress_interval" yaml:"progress_interval"`

	// ValidRanges are the address ranges the PC may legitimately be in.
	ValidRanges trace.Ranges `json:"valid_ranges" yaml:"valid_ranges"`

	// PoisonReg is the ABI or architectural name of a register to watch
	// for PoisonValue. Empty disables the poison sentinel.
	PoisonReg string `json:"poison_reg,omitempty" yaml:"poison_reg,omitempty"`

	// PoisonValue is the known-bad value PoisonReg is watched for.
	PoisonValue uint64 `json:"poison_value,omitempty" yaml:"poison_value,omitempty"`
}

// DefaultConfig returns a Config sized for a Linux boot that crashes in
// early user space.
func DefaultConfig() *Config {
	return &Config{
		FastForward:      160_000_000,
		Chunk:            500_000,
		Margin:           5_000,
		MaxChunks:        10_000,
		TraceDepth:       64,
		ProgressInterval: 10_000,
		ValidRanges:      trace.DefaultValidRanges(),
	}
}

// LoadConfig loads a Config from a JSON or YAML file. Files ending in
// .yaml or .yml are parsed as YAML, everything else as JSON. Fields
// missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read localizer config file: %w", err)
	}

	config := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse localizer config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a file, as YAML or JSON by extension.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize localizer config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write localizer config file: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Validate checks that the search parameters are usable.
func (c *Config) Validate() error {
	if c.Chunk == 0 {
		return fmt.Errorf("chunk must be > 0")
	}
	if c.MaxChunks == 0 {
		return fmt.Errorf("max_chunks must be > 0")
	}
	if c.TraceDepth <= 0 {
		return fmt.Errorf("trace_depth must be > 0")
	}
	if len(c.ValidRanges) == 0 {
		return fmt.Errorf("valid_ranges must not be empty")
	}
	for _, r := range c.ValidRanges {
		if r.First > r.Last {
			return fmt.Errorf("valid range %q is empty: first 0x%x > last 0x%x", r.Name, r.First, r.Last)
		}
	}
	if c.PoisonReg != "" {
		if _, ok := insts.RegIndex(c.PoisonReg); !ok {
			return fmt.Errorf("unknown poison register %q", c.PoisonReg)
		}
	}
	return nil
}

// StepBudget returns MaxSteps, or Chunk + 2*Margin when MaxSteps is
// zero: enough to single-step from Margin cycles before a bracket to
// Margin cycles past its end.
func (c *Config) StepBudget() uint64 {
	if c.MaxSteps != 0 {
		return c.MaxSteps
	}
	return c.Chunk + 2*c.Margin
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.ValidRanges = append(trace.Ranges(nil), c.ValidRanges...)
	return &clone
}

// sentinels builds the divergence sentinels the Config describes.
func (c *Config) sentinels() []trace.Sentinel {
	sentinels := []trace.Sentinel{
		&trace.RangeSentinel{Ranges: c.ValidRanges},
	}
	if c.PoisonReg != "" {
		reg, _ := insts.RegIndex(c.PoisonReg)
		sentinels = append(sentinels, &trace.PoisonSentinel{Reg: reg, Value: c.PoisonValue})
	}
	return sentinels
}
