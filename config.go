package rtscene

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gekko3d/rtscene/rt/gpu"
)

// ErrInvalidConfig means that a configuration value is out of range.
var ErrInvalidConfig = errors.New("rtscene: invalid config")

// Config is the loader configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Loader  LoaderConfig  `yaml:"loader"`
	GPU     GPUConfig     `yaml:"gpu"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`    // debug, info, warn, error
	LogFile string `yaml:"log_file"` // empty disables file output
}

type LoaderConfig struct {
	// Scene overrides the document's default scene when set.
	Scene       *int   `yaml:"scene"`
	LabelPrefix string `yaml:"label_prefix"`
}

type GPUConfig struct {
	Backend         string `yaml:"backend"`          // soft or wgpu
	PowerPreference string `yaml:"power_preference"` // low or high
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Loader: LoaderConfig{
			LabelPrefix: "rtscene",
		},
		GPU: GPUConfig{
			Backend:         "soft",
			PowerPreference: "high",
		},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q: %w", c.Logging.Level, ErrInvalidConfig)
	}
	switch c.GPU.Backend {
	case "soft", "wgpu":
	default:
		return fmt.Errorf("gpu.backend %q: %w", c.GPU.Backend, ErrInvalidConfig)
	}
	switch c.GPU.PowerPreference {
	case "low", "high":
	default:
		return fmt.Errorf("gpu.power_preference %q: %w", c.GPU.PowerPreference, ErrInvalidConfig)
	}
	if c.Loader.Scene != nil && *c.Loader.Scene < 0 {
		return fmt.Errorf("loader.scene %d: %w", *c.Loader.Scene, ErrInvalidConfig)
	}
	return nil
}

// NewProvider opens the configured GPU backend. The returned function
// releases the backend itself; resources created from it must be released
// first.
func NewProvider(cfg GPUConfig) (gpu.Provider, func(), error) {
	switch cfg.Backend {
	case "soft", "":
		return gpu.NewSoft(), func() {}, nil
	case "wgpu":
		p, err := gpu.NewWGPU(cfg.PowerPreference)
		if err != nil {
			return nil, nil, fmt.Errorf("opening wgpu device: %w", err)
		}
		return p, p.Release, nil
	default:
		return nil, nil, fmt.Errorf("gpu.backend %q: %w", cfg.Backend, ErrInvalidConfig)
	}
}
