// Package learning adapts agent parameters from evaluated task outcomes.
package learning

import (
	"math"
	"strings"

	"github.com/fentz26/agora/internal/capability"
	"github.com/fentz26/agora/internal/models"
	"github.com/fentz26/agora/internal/utility"
)

// Config defines the learning rates and thresholds.
type Config struct {
	// Alpha is the EMA history weight in [0,100]; higher moves slower.
	Alpha              int     `yaml:"alpha"`
	LearningRate       float64 `yaml:"learning_rate"`
	DecayRate          float64 `yaml:"decay_rate"`
	MinExplorationRate float64 `yaml:"min_exploration_rate"`
	// ScoreWindow is how many recent scores feed the trailing average.
	ScoreWindow int `yaml:"score_window"`

	HighScore      float64 `yaml:"high_score"`
	LowScore       float64 `yaml:"low_score"`
	HighReputation int     `yaml:"high_reputation"`
	LowReputation  int     `yaml:"low_reputation"`
	HighWorkload   int     `yaml:"high_workload"`
	LowWorkload    int     `yaml:"low_workload"`

	// RecentEvents sizes the in-memory cache of applied event keys.
	RecentEvents int `yaml:"recent_events"`
}

// DefaultConfig returns the default learning configuration.
func DefaultConfig() *Config {
	return &Config{
		Alpha:              70,
		LearningRate:       0.05,
		DecayRate:          0.99,
		MinExplorationRate: 0.05,
		ScoreWindow:        10,
		HighScore:          70,
		LowScore:           50,
		HighReputation:     70,
		LowReputation:      40,
		HighWorkload:       5,
		LowWorkload:        2,
		RecentEvents:       4096,
	}
}

// Change is a before/after pair for one parameter.
type Change struct {
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// Delta describes what one learning event changed.
type Delta struct {
	Capabilities        map[string]Change `json:"capabilities"`
	TrailingAverage     float64           `json:"trailing_average"`
	Confidence          Change            `json:"confidence"`
	RiskTolerance       Change            `json:"risk_tolerance"`
	WorkloadSensitivity Change            `json:"workload_sensitivity"`
	ExplorationRate     Change            `json:"exploration_rate"`
	PreferenceKey       string            `json:"preference_key,omitempty"`
	Preference          Change            `json:"preference"`
}

// Engine applies learning events as a pure function of (Agent, Event).
type Engine struct {
	cfg *Config
}

// NewEngine creates an engine. A nil cfg uses DefaultConfig.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config { return e.cfg }

// Apply returns the updated agent. Every update reads only pre-event
// values, and the input agent is never modified.
func (e *Engine) Apply(agent models.Agent, ev models.LearningEvent) (models.Agent, Delta, error) {
	if err := ev.Validate(); err != nil {
		return agent, Delta{}, err
	}
	if ev.AgentID != agent.ID {
		return agent, Delta{}, models.Validationf("learning.apply", "event for %s applied to %s", ev.AgentID, agent.ID)
	}

	next := agent.Clone()
	if next.Capabilities == nil {
		next.Capabilities = capability.Profile{}
	}
	d := Delta{Capabilities: make(map[string]Change, len(ev.TagScores))}

	for tag, score := range ev.TagScores {
		skill := strings.ToLower(strings.TrimSpace(tag))
		if skill == "" {
			continue
		}
		old := agent.Capabilities.Get(skill)
		updated := EMA(e.cfg.Alpha, old, score)
		next.Capabilities.Set(skill, updated)
		d.Capabilities[skill] = Change{Before: float64(old), After: float64(next.Capabilities.Get(skill))}
	}

	next.RecentScores = appendWindow(agent.RecentScores, ev.Score, e.cfg.ScoreWindow)
	d.TrailingAverage = average(next.RecentScores)
	next.ConfidenceFactor = e.confidence(agent.ConfidenceFactor, d.TrailingAverage)
	d.Confidence = Change{Before: agent.ConfidenceFactor, After: next.ConfidenceFactor}

	next.RiskTolerance = e.riskTolerance(agent.RiskTolerance, agent.Reputation)
	d.RiskTolerance = Change{Before: agent.RiskTolerance, After: next.RiskTolerance}

	next.WorkloadSensitivity = e.workloadSensitivity(agent.WorkloadSensitivity, agent.Workload)
	d.WorkloadSensitivity = Change{Before: agent.WorkloadSensitivity, After: next.WorkloadSensitivity}

	next.ExplorationRate = e.decayExploration(agent.ExplorationRate)
	d.ExplorationRate = Change{Before: agent.ExplorationRate, After: next.ExplorationRate}

	if key := utility.TaskTypeKey(ev.RequiredCapabilities); key != "" {
		old, ok := agent.Preference(key)
		if !ok {
			old = models.NeutralPreference
		}
		pref := clamp(emaFloat(e.cfg.Alpha, old, float64(ev.Score)), models.MinPreference, models.MaxPreference)
		next.TaskTypePreferences[key] = pref
		d.PreferenceKey = key
		d.Preference = Change{Before: old, After: pref}
	}

	next.TasksCompleted++
	next.Version++
	if !ev.AppliedAt.IsZero() {
		next.UpdatedAt = ev.AppliedAt
	}
	return next, d, nil
}

// EMA blends an old weight with a new observation: (alpha*old + (100-alpha)*obs)/100,
// rounded and clamped to [0,100].
func EMA(alpha, old, obs int) int {
	return capability.Clamp(int(math.Round(emaFloat(alpha, float64(old), float64(obs)))))
}

func emaFloat(alpha int, old, obs float64) float64 {
	a := float64(capability.Clamp(alpha))
	return (a*old + (100-a)*obs) / 100
}

func (e *Engine) confidence(cur, avg float64) float64 {
	switch {
	case avg > e.cfg.HighScore:
		cur += e.cfg.LearningRate
	case avg < e.cfg.LowScore:
		cur -= e.cfg.LearningRate
	}
	return clamp(cur, models.MinConfidence, models.MaxConfidence)
}

func (e *Engine) riskTolerance(cur float64, reputation int) float64 {
	step := 0.5 * e.cfg.LearningRate
	switch {
	case reputation > e.cfg.HighReputation:
		cur += step
	case reputation < e.cfg.LowReputation:
		cur -= step
	}
	return clamp(cur, models.MinRiskTolerance, models.MaxRiskTolerance)
}

func (e *Engine) workloadSensitivity(cur float64, workload int) float64 {
	step := 0.5 * e.cfg.LearningRate
	switch {
	case workload > e.cfg.HighWorkload:
		cur += step
	case workload < e.cfg.LowWorkload:
		cur -= step
	}
	return clamp(cur, models.MinWorkloadSensitivity, models.MaxWorkloadSensitivity)
}

// decayExploration never raises the rate; agents already below the floor
// keep their value.
func (e *Engine) decayExploration(cur float64) float64 {
	next := math.Max(e.cfg.MinExplorationRate, cur*e.cfg.DecayRate)
	if next > cur {
		next = cur
	}
	return clamp(next, 0, models.MaxExplorationRate)
}

func appendWindow(scores []int, score, window int) []int {
	out := append(append([]int(nil), scores...), score)
	if window > 0 && len(out) > window {
		out = out[len(out)-window:]
	}
	return out
}

func average(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
