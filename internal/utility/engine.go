// Package utility scores how well an agent fits an offered task.
package utility

import (
	"math"
	"strings"

	"github.com/fentz26/agora/internal/capability"
	"github.com/fentz26/agora/internal/models"
)

// Config defines the utility scoring constants.
type Config struct {
	// SoftCapacity is the workload past which the penalty turns exponential.
	SoftCapacity int `yaml:"soft_capacity"`
	// PenaltyScale multiplies workload*sensitivity for the linear penalty.
	PenaltyScale float64 `yaml:"penalty_scale"`
	// SurchargeBase is the exponent base applied past SoftCapacity.
	SurchargeBase float64 `yaml:"surcharge_base"`
	// SurchargeScale multiplies the exponential surcharge.
	SurchargeScale float64 `yaml:"surcharge_scale"`
	// PreferenceScale converts (preference-50) into a utility boost.
	PreferenceScale float64 `yaml:"preference_scale"`
	NoiseMin        float64 `yaml:"noise_min"`
	NoiseMax        float64 `yaml:"noise_max"`
}

// DefaultConfig returns the default utility configuration.
func DefaultConfig() *Config {
	return &Config{
		SoftCapacity:    5,
		PenaltyScale:    10,
		SurchargeBase:   1.5,
		SurchargeScale:  5,
		PreferenceScale: 0.2,
		NoiseMin:        -10,
		NoiseMax:        20,
	}
}

// Engine computes utility scores. It holds no agent state and is safe for
// concurrent use as long as its Random is.
type Engine struct {
	cfg *Config
	rng Random
}

// NewEngine creates an engine. A nil cfg uses DefaultConfig.
func NewEngine(cfg *Config, rng Random) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if rng == nil {
		rng = NewRand(1)
	}
	return &Engine{cfg: cfg, rng: rng}
}

// Utility returns the clamped [0,100] fit score of agent for task.
func (e *Engine) Utility(agent models.Agent, task models.Task) float64 {
	return e.Evaluate(agent, task).Utility
}

// Evaluate computes the utility along with each of its additive parts.
func (e *Engine) Evaluate(agent models.Agent, task models.Task) models.UtilityBreakdown {
	b := models.UtilityBreakdown{Reward: task.Reward}
	b.CapabilityMatch = CapabilityMatch(agent.Capabilities, task.RequiredCapabilities)
	b.WorkloadPenalty = e.WorkloadPenalty(agent.Workload, agent.WorkloadSensitivity)
	b.PreferenceBoost = e.PreferenceBoost(agent.TaskTypePreferences, task.RequiredCapabilities)

	score := b.CapabilityMatch*100 - b.WorkloadPenalty + b.PreferenceBoost
	b.ExplorationNoise, b.Explored = e.ExplorationNoise(agent.ExplorationRate)
	if b.Explored {
		score += b.ExplorationNoise
	}
	b.Utility = Clamp(score)
	return b
}

// CapabilityMatch returns the fraction of the maximum possible weight the
// profile holds across the required skills.
func CapabilityMatch(profile capability.Profile, required []string) float64 {
	skills := models.NormalizeSkills(required)
	totalPossible := capability.MaxWeight * len(skills)
	if totalPossible == 0 {
		return 0
	}
	matched := 0
	for _, skill := range skills {
		matched += profile.Get(skill)
	}
	return float64(matched) / float64(totalPossible)
}

// WorkloadPenalty is linear in workload up to the soft capacity and convex
// beyond it.
func (e *Engine) WorkloadPenalty(workload int, sensitivity float64) float64 {
	penalty := float64(workload) * sensitivity * e.cfg.PenaltyScale
	if over := workload - e.cfg.SoftCapacity; over > 0 {
		penalty += math.Pow(e.cfg.SurchargeBase, float64(over)) * sensitivity * e.cfg.SurchargeScale
	}
	return penalty
}

// PreferenceBoost returns the boost for the task's type key, or 0 when the
// agent has no recorded preference.
func (e *Engine) PreferenceBoost(prefs map[string]float64, required []string) float64 {
	pref, ok := prefs[TaskTypeKey(required)]
	if !ok {
		return 0
	}
	return (pref - models.NeutralPreference) * e.cfg.PreferenceScale
}

// ExplorationNoise draws once against rate and, on a hit, draws the noise
// value uniformly from [NoiseMin, NoiseMax].
func (e *Engine) ExplorationNoise(rate float64) (float64, bool) {
	if e.rng.Float64() >= rate {
		return 0, false
	}
	return e.cfg.NoiseMin + e.rng.Float64()*(e.cfg.NoiseMax-e.cfg.NoiseMin), true
}

// TaskTypeKey derives the stable preference key for a skill set.
func TaskTypeKey(required []string) string {
	return strings.Join(models.NormalizeSkills(required), ",")
}

// Clamp bounds a score to [0,100].
func Clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
