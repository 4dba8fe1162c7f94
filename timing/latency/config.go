package latency

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TimingConfig holds per-class latencies of a simple in-order RV64 core.
// All values are in cycles.
type TimingConfig struct {
	// ALULatency covers integer arithmetic, logic, shifts and upper
	// immediates. Default: 1.
	ALULatency uint64 `json:"alu_latency" yaml:"alu_latency"`

	// BranchLatency covers branches and jumps. Default: 1.
	BranchLatency uint64 `json:"branch_latency" yaml:"branch_latency"`

	// TakenBranchPenalty is added when the front end is redirected.
	// Default: 2.
	TakenBranchPenalty uint64 `json:"taken_branch_penalty" yaml:"taken_branch_penalty"`

	// LoadLatency applies when no data cache is modeled. Default: 3.
	LoadLatency uint64 `json:"load_latency" yaml:"load_latency"`

	// StoreLatency applies when no data cache is modeled. Default: 1.
	StoreLatency uint64 `json:"store_latency" yaml:"store_latency"`

	// AtomicLatency covers LR, SC and AMOs. Default: 5.
	AtomicLatency uint64 `json:"atomic_latency" yaml:"atomic_latency"`

	MultiplyLatency  uint64 `json:"multiply_latency" yaml:"multiply_latency"`     // Default: 3.
	DivideLatencyMin uint64 `json:"divide_latency_min" yaml:"divide_latency_min"` // 32-bit forms. Default: 10.
	DivideLatencyMax uint64 `json:"divide_latency_max" yaml:"divide_latency_max"` // 64-bit forms. Default: 20.

	// SystemLatency covers CSR accesses, fences, ecall and trap returns.
	// Default: 1.
	SystemLatency uint64 `json:"system_latency" yaml:"system_latency"`
}

// DefaultTimingConfig returns the default latencies.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:         1,
		BranchLatency:      1,
		TakenBranchPenalty: 2,
		LoadLatency:        3,
		StoreLatency:       1,
		AtomicLatency:      5,
		MultiplyLatency:    3,
		DivideLatencyMin:   10,
		DivideLatencyMax:   20,
		SystemLatency:      1,
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadConfig reads a TimingConfig from a JSON or YAML file, chosen by
// extension. Fields missing from the file keep their defaults.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the TimingConfig as JSON, or YAML by extension.
func (c *TimingConfig) SaveConfig(path string) error {
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
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}
	return nil
}

// Validate checks that every latency except the penalty is positive and
// the divide range is ordered.
func (c *TimingConfig) Validate() error {
	required := []struct {
		name  string
		value uint64
	}{
		{"alu_latency", c.ALULatency},
		{"branch_latency", c.BranchLatency},
		{"load_latency", c.LoadLatency},
		{"store_latency", c.StoreLatency},
		{"atomic_latency", c.AtomicLatency},
		{"multiply_latency", c.MultiplyLatency},
		{"divide_latency_min", c.DivideLatencyMin},
		{"system_latency", c.SystemLatency},
	}
	for _, f := range required {
		if f.value == 0 {
			return fmt.Errorf("%s must be > 0", f.name)
		}
	}

	if c.DivideLatencyMin > c.DivideLatencyMax {
		return fmt.Errorf("divide_latency_min must be <= divide_latency_max")
	}
	return nil
}

// Clone returns a copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
