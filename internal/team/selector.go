// Package team selects a bounded, role-diverse set of agents that covers a
// task's required capabilities.
package team

import (
	"fmt"
	"sort"
	"time"

	"github.com/fentz26/agora/internal/models"
	"github.com/fentz26/agora/internal/utility"
)

// Config defines the selection weights and size policy.
type Config struct {
	MaxTeamSize      int     `yaml:"max_team_size"`
	MinTeamSize      int     `yaml:"min_team_size"`
	EvaluatorCutoff  int     `yaml:"evaluator_cutoff"`
	SingleAgentMax   int     `yaml:"single_agent_max"`
	MatchWeight      float64 `yaml:"match_weight"`
	ReputationWeight float64 `yaml:"reputation_weight"`
	CoordinatorBonus float64 `yaml:"coordinator_bonus"`
	EvaluatorBonus   float64 `yaml:"evaluator_bonus"`
	WorkerBonus      float64 `yaml:"worker_bonus"`
}

// DefaultConfig returns the default selection configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxTeamSize:      5,
		MinTeamSize:      2,
		EvaluatorCutoff:  4,
		SingleAgentMax:   2,
		MatchWeight:      0.6,
		ReputationWeight: 0.4,
		CoordinatorBonus: 1.2,
		EvaluatorBonus:   1.1,
		WorkerBonus:      1.0,
	}
}

// Selector builds team assignments. It is stateless and safe for concurrent use.
type Selector struct {
	cfg *Config
	now func() time.Time
}

// NewSelector creates a selector. A nil cfg uses DefaultConfig.
func NewSelector(cfg *Config) *Selector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Selector{cfg: cfg, now: time.Now}
}

type candidate struct {
	agent models.Agent
	score float64
}

// Score returns the selection score of agent for the required skills.
func (s *Selector) Score(agent models.Agent, required []string) float64 {
	match := utility.CapabilityMatch(agent.Capabilities, required)
	if match == 0 {
		return 0
	}
	base := match*s.cfg.MatchWeight + float64(agent.Reputation)/100*s.cfg.ReputationWeight
	return base * s.roleBonus(agent.Role)
}

func (s *Selector) roleBonus(r models.Role) float64 {
	switch r {
	case models.RoleCoordinator:
		return s.cfg.CoordinatorBonus
	case models.RoleEvaluator:
		return s.cfg.EvaluatorBonus
	default:
		return s.cfg.WorkerBonus
	}
}

// SelectTeam chooses an ordered team for task from candidates. When no
// candidate qualifies it returns an empty assignment with a capacity error.
func (s *Selector) SelectTeam(task models.Task, candidates []models.Agent, maxSize int) (models.TeamAssignment, error) {
	const op = "team.select"
	out := models.TeamAssignment{TaskID: task.ID, Mode: models.ModeTeam, Members: []models.TeamMember{}, CreatedAt: s.now().UTC()}

	required := models.NormalizeSkills(task.RequiredCapabilities)
	if len(required) == 0 {
		return out, models.Validationf(op, "task %s has no required capabilities", task.ID)
	}
	if maxSize <= 0 {
		return out, models.Validationf(op, "max team size %d must be positive", maxSize)
	}

	ranked := make([]candidate, 0, len(candidates))
	for _, a := range candidates {
		if !a.Active || a.Reputation < task.MinReputation {
			continue
		}
		if score := s.Score(a, required); score > 0 {
			ranked = append(ranked, candidate{agent: a, score: score})
		}
	}
	if len(ranked) == 0 {
		out.Reason = fmt.Sprintf("no active candidate with reputation >= %d covers any of %v", task.MinReputation, required)
		return out, models.Capacityf(op, "%s", out.Reason)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	covered := make(map[string]bool)
	selected := make(map[string]bool)
	add := func(c candidate, role models.Role) {
		out.Members = append(out.Members, models.TeamMember{AgentID: c.agent.ID, Role: role, Score: c.score})
		selected[c.agent.ID] = true
		for skill, w := range c.agent.Capabilities {
			if w > 0 {
				covered[skill] = true
			}
		}
	}

	if best := ranked[0]; len(required) <= s.cfg.SingleAgentMax && coversAll(best.agent, required) {
		add(best, roleOf(best.agent))
		out.Reason = "single agent covers all required capabilities"
		out.CoverageRatio = coverage(covered, required)
		return out, nil
	}

	for _, c := range ranked {
		if c.agent.Role == models.RoleCoordinator {
			add(c, models.RoleCoordinator)
			break
		}
	}

	for _, c := range ranked {
		if len(out.Members) >= maxSize {
			break
		}
		if selected[c.agent.ID] {
			continue
		}
		if contributes(c.agent, required, covered) || len(out.Members) < s.cfg.MinTeamSize {
			add(c, roleOf(c.agent))
		}
	}

	if len(out.Members) < s.cfg.EvaluatorCutoff && len(out.Members) < maxSize && !hasRole(out.Members, models.RoleEvaluator) {
		for _, c := range ranked {
			if c.agent.Role == models.RoleEvaluator && !selected[c.agent.ID] {
				add(c, models.RoleEvaluator)
				break
			}
		}
	}

	out.CoverageRatio = coverage(covered, required)
	out.Reason = fmt.Sprintf("greedy coverage with %d members", len(out.Members))
	return out, nil
}

func roleOf(a models.Agent) models.Role {
	if a.Role.Valid() {
		return a.Role
	}
	return models.RoleWorker
}

func hasRole(members []models.TeamMember, role models.Role) bool {
	for _, m := range members {
		if m.Role == role {
			return true
		}
	}
	return false
}

func coversAll(a models.Agent, required []string) bool {
	for _, skill := range required {
		if !a.Capabilities.Has(skill) {
			return false
		}
	}
	return true
}

func contributes(a models.Agent, required []string, covered map[string]bool) bool {
	for _, skill := range required {
		if !covered[skill] && a.Capabilities.Has(skill) {
			return true
		}
	}
	return false
}

func coverage(covered map[string]bool, required []string) float64 {
	n := 0
	for _, skill := range required {
		if covered[skill] {
			n++
		}
	}
	return float64(n) / float64(len(required))
}
