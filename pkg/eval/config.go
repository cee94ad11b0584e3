package eval

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/repltools/goeval/pkg/discover"
)

// Config controls an evaluation context.
type Config struct {
	// GoBinary is the compiler driver, resolved via PATH when bare.
	GoBinary string `yaml:"go_binary"`
	// GoVersion is the go directive written into synthesized go.mod files.
	GoVersion string `yaml:"go_version"`
	// BuildFlags are appended to every compiler invocation.
	BuildFlags []string `yaml:"build_flags"`
	// Env entries are appended to the compiler's environment.
	Env []string `yaml:"env"`
	// WorkDir hosts synthesized modules, artifacts, the build cache and the
	// dependency lockfile. Empty means an ephemeral temp directory that is
	// removed on Close.
	WorkDir string `yaml:"work_dir"`
	// MaxTypeCycles caps the type-discovery loop.
	MaxTypeCycles int `yaml:"max_type_cycles"`
	// DiagnosticPolicy selects the message-extraction flavor ("gc").
	DiagnosticPolicy string `yaml:"diagnostic_policy"`
	// KeepWorkDir retains an ephemeral work dir after Close, for debugging.
	KeepWorkDir bool `yaml:"keep_work_dir"`
}

// DefaultConfig returns a config with every field defaulted.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.normalize()
	return cfg
}

// LoadConfig reads a YAML config file. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("eval: empty config path")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &Config{}
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("eval: parse %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.GoBinary == "" {
		c.GoBinary = "go"
	}
	if c.GoVersion == "" {
		c.GoVersion = "1.25"
	}
	if c.MaxTypeCycles <= 0 {
		c.MaxTypeCycles = discover.DefaultMaxCycles
	}
	if c.DiagnosticPolicy == "" {
		c.DiagnosticPolicy = "gc"
	}
}
