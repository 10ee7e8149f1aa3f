// Package bidding decides whether an agent bids on a task and at what price.
package bidding

import (
	"fmt"

	"github.com/fentz26/agora/internal/models"
	"github.com/fentz26/agora/internal/utility"
)

// Reasons returned by ShouldBid on acceptance.
const (
	ReasonCriteriaMet = "criteria met"
	ReasonExploration = "exploration triggered"
)

// Config defines the bid policy thresholds.
type Config struct {
	// DefaultMaxWorkload applies when an agent has no MaxWorkload of its own.
	DefaultMaxWorkload int `yaml:"default_max_workload"`
	// LowPreference is the preference score below which a task type is
	// skipped unless exploration kicks in.
	LowPreference float64 `yaml:"low_preference"`
}

// DefaultConfig returns the default bid policy configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultMaxWorkload: 5,
		LowPreference:      40,
	}
}

// Policy evaluates the ordered bid gates.
type Policy struct {
	cfg *Config
	rng utility.Random
}

// NewPolicy creates a policy. A nil cfg uses DefaultConfig.
func NewPolicy(cfg *Config, rng utility.Random) *Policy {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if rng == nil {
		rng = utility.NewRand(1)
	}
	return &Policy{cfg: cfg, rng: rng}
}

// MaxWorkload returns the capacity limit that applies to agent.
func (p *Policy) MaxWorkload(agent models.Agent) int {
	if agent.MaxWorkload > 0 {
		return agent.MaxWorkload
	}
	return p.cfg.DefaultMaxWorkload
}

// ShouldBid runs the hard gates in order, then the two exploration draws.
// The reputation, utility and capacity gates consume no randomness.
func (p *Policy) ShouldBid(agent models.Agent, task models.Task, u float64) (bool, string) {
	if agent.Reputation < task.MinReputation {
		return false, fmt.Sprintf("reputation %d below required %d", agent.Reputation, task.MinReputation)
	}
	if u < agent.MinUtilityThreshold {
		return false, fmt.Sprintf("utility %.1f below threshold %.1f", u, agent.MinUtilityThreshold)
	}
	if limit := p.MaxWorkload(agent); agent.Workload >= limit {
		return false, fmt.Sprintf("workload %d at capacity %d", agent.Workload, limit)
	}

	key := utility.TaskTypeKey(task.RequiredCapabilities)
	lowPreference := false
	if pref, ok := agent.Preference(key); ok && pref < p.cfg.LowPreference {
		lowPreference = p.rng.Float64() > agent.ExplorationRate
	}

	if p.rng.Float64() < agent.ExplorationRate {
		return true, ReasonExploration
	}
	if lowPreference {
		pref, _ := agent.Preference(key)
		return false, fmt.Sprintf("low preference %.1f for %q", pref, key)
	}
	return true, ReasonCriteriaMet
}
