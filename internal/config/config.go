// Package config loads the agora daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/agora/internal/bidding"
	"github.com/fentz26/agora/internal/connectors"
	"github.com/fentz26/agora/internal/connectors/llmexec"
	"github.com/fentz26/agora/internal/connectors/localexec"
	"github.com/fentz26/agora/internal/controlplane"
	"github.com/fentz26/agora/internal/learning"
	"github.com/fentz26/agora/internal/scheduler"
	"github.com/fentz26/agora/internal/team"
	"github.com/fentz26/agora/internal/utility"
)

// Executor kinds.
const (
	ExecutorNone  = "none"
	ExecutorLocal = "local"
	ExecutorLLM   = "llm"
)

// Config holds the full daemon configuration.
type Config struct {
	Server controlplane.ServerConfig `yaml:"server"`
	Store  StoreConfig               `yaml:"store"`
	// Seed fixes the exploration random source. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`

	Service   *controlplane.Options `yaml:"service"`
	Utility   *utility.Config       `yaml:"utility"`
	Bidding   *bidding.Config       `yaml:"bidding"`
	Learning  *learning.Config      `yaml:"learning"`
	Team      *team.Config          `yaml:"team"`
	Scheduler *scheduler.Config     `yaml:"scheduler"`
	Executor  ExecutorConfig        `yaml:"executor"`
}

// StoreConfig locates the SQLite database and the LevelDB ledger journal.
type StoreConfig struct {
	Path string `yaml:"path"`
	// JournalPath is optional; an empty path disables the journal.
	JournalPath string `yaml:"journal_path"`
}

// ExecutorConfig selects and configures the execution oracle.
type ExecutorConfig struct {
	Kind  string           `yaml:"kind"`
	Local localexec.Config `yaml:"local"`
	LLM   llmexec.Config   `yaml:"llm"`
}

// Dir returns the agora state directory, ~/.agora.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agora"
	}
	return filepath.Join(home, ".agora")
}

// DefaultConfig returns a configuration that runs a local daemon with no
// executor.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		Server: controlplane.DefaultServerConfig(),
		Store: StoreConfig{
			Path:        filepath.Join(dir, "agora.db"),
			JournalPath: filepath.Join(dir, "journal"),
		},
		Service:   controlplane.DefaultOptions(),
		Utility:   utility.DefaultConfig(),
		Bidding:   bidding.DefaultConfig(),
		Learning:  learning.DefaultConfig(),
		Team:      team.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Executor: ExecutorConfig{
			Kind: ExecutorNone,
			Local: localexec.Config{
				Allow: map[string][]string{},
			},
			LLM: llmexec.DefaultConfig(),
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// HomePath returns ~/.agora/config.yaml.
func HomePath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// LoadFromHome loads configuration from ~/.agora/config.yaml.
func LoadFromHome() (*Config, error) {
	return Load(HomePath())
}

// Save writes cfg to path, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// SaveToHome writes cfg to ~/.agora/config.yaml.
func SaveToHome(cfg *Config) error {
	return Save(HomePath(), cfg)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server rate limit must not be negative")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if c.Service != nil {
		if c.Service.ExecTimeout <= 0 {
			return fmt.Errorf("service.exec_timeout must be positive")
		}
		if c.Service.MaxTeamSize < 1 {
			return fmt.Errorf("service.max_team_size must be at least 1")
		}
		if c.Service.BidConcurrency < 1 {
			return fmt.Errorf("service.bid_concurrency must be at least 1")
		}
	}
	if c.Learning != nil {
		if c.Learning.Alpha < 0 || c.Learning.Alpha > 100 {
			return fmt.Errorf("learning.alpha %d outside [0,100]", c.Learning.Alpha)
		}
		if c.Learning.ScoreWindow < 1 {
			return fmt.Errorf("learning.score_window must be at least 1")
		}
	}
	if c.Utility != nil && c.Utility.NoiseMin > c.Utility.NoiseMax {
		return fmt.Errorf("utility.noise_min exceeds noise_max")
	}
	if c.Team != nil && c.Team.MaxTeamSize < 1 {
		return fmt.Errorf("team.max_team_size must be at least 1")
	}
	if c.Scheduler != nil {
		if c.Scheduler.GlobalMax < 1 {
			return fmt.Errorf("scheduler.global_max must be at least 1")
		}
		if c.Scheduler.PollInterval < 10*time.Millisecond {
			return fmt.Errorf("scheduler.poll_interval %s is too short", c.Scheduler.PollInterval)
		}
	}

	switch c.Executor.Kind {
	case "", ExecutorNone, ExecutorLLM:
	case ExecutorLocal:
		if c.Executor.Local.Command == "" {
			return fmt.Errorf("executor.local.command is required")
		}
	default:
		return fmt.Errorf("invalid executor kind %q, must be: none, local, or llm", c.Executor.Kind)
	}
	return nil
}

// Engines builds the decision engines from the configured sections.
func (c *Config) Engines() controlplane.Engines {
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return controlplane.Engines{
		Utility:  utility.NewEngine(c.Utility, utility.NewRand(seed)),
		Policy:   bidding.NewPolicy(c.Bidding, utility.NewRand(seed+1)),
		Selector: team.NewSelector(c.Team),
		Learning: learning.NewEngine(c.Learning),
	}
}

// BuildExecutor returns the configured execution oracle, or nil when none
// is configured.
func (c *Config) BuildExecutor() (connectors.Executor, error) {
	switch c.Executor.Kind {
	case "", ExecutorNone:
		return nil, nil
	case ExecutorLocal:
		return localexec.New(c.Executor.Local), nil
	case ExecutorLLM:
		exec, err := llmexec.New(c.Executor.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm executor: %w", err)
		}
		return exec, nil
	default:
		return nil, fmt.Errorf("unknown executor kind %q", c.Executor.Kind)
	}
}
