package learning

import (
	"math/rand"
	"testing"

	"github.com/fentz26/agora/internal/capability"
	"github.com/fentz26/agora/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func learnAgent() models.Agent {
	return models.Agent{
		ID:                  "a1",
		Role:                models.RoleWorker,
		Active:              true,
		Reputation:          55,
		Workload:            3,
		Capabilities:        capability.Profile{"go": 50},
		ConfidenceFactor:    0.7,
		RiskTolerance:       0.5,
		WorkloadSensitivity: 0.3,
		ExplorationRate:     0.2,
		TaskTypePreferences: map[string]float64{},
		MaxWorkload:         5,
	}
}

func TestEMAReference(t *testing.T) {
	assert.Equal(t, 65, EMA(50, 50, 80))
	assert.Equal(t, 80, EMA(0, 50, 80))
	assert.Equal(t, 50, EMA(100, 50, 80))
}

func TestApplyCapabilityEMA(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alpha = 50
	e := NewEngine(cfg)

	next, d, err := e.Apply(learnAgent(), models.LearningEvent{
		AgentID: "a1", TaskID: "t1", Score: 80,
		TagScores: map[string]int{"go": 80, "SQL": 60},
	})
	require.NoError(t, err)

	assert.Equal(t, 65, next.Capabilities.Get("go"))
	assert.Equal(t, 30, next.Capabilities.Get("sql"), "new skills start from 0")
	assert.Equal(t, Change{Before: 50, After: 65}, d.Capabilities["go"])
	assert.Equal(t, int64(1), next.Version)
	assert.Equal(t, 1, next.TasksCompleted)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	agent := learnAgent()
	_, _, err := NewEngine(nil).Apply(agent, models.LearningEvent{
		AgentID: "a1", TaskID: "t1", Score: 90,
		TagScores:            map[string]int{"go": 100},
		RequiredCapabilities: []string{"go"},
	})
	require.NoError(t, err)

	assert.Equal(t, 50, agent.Capabilities.Get("go"))
	assert.Empty(t, agent.TaskTypePreferences)
	assert.Empty(t, agent.RecentScores)
	assert.Equal(t, int64(0), agent.Version)
}

func TestConfidenceFollowsTrailingAverage(t *testing.T) {
	e := NewEngine(nil)
	lr := DefaultConfig().LearningRate

	high, _, err := e.Apply(learnAgent(), models.LearningEvent{AgentID: "a1", TaskID: "t1", Score: 90})
	require.NoError(t, err)
	assert.InDelta(t, 0.7+lr, high.ConfidenceFactor, 1e-9)

	low, _, err := e.Apply(learnAgent(), models.LearningEvent{AgentID: "a1", TaskID: "t1", Score: 10})
	require.NoError(t, err)
	assert.InDelta(t, 0.7-lr, low.ConfidenceFactor, 1e-9)

	agent := learnAgent()
	agent.RecentScores = []int{90, 90, 90}
	mid, d, err := e.Apply(agent, models.LearningEvent{AgentID: "a1", TaskID: "t1", Score: 10})
	require.NoError(t, err)
	assert.InDelta(t, 70.0, d.TrailingAverage, 1e-9)
	assert.InDelta(t, 0.7, mid.ConfidenceFactor, 1e-9, "average of exactly 70 is neutral")
}

func TestRiskAndWorkloadSensitivity(t *testing.T) {
	e := NewEngine(nil)
	step := 0.5 * DefaultConfig().LearningRate

	agent := learnAgent()
	agent.Reputation = 90
	agent.Workload = 8
	next, _, err := e.Apply(agent, models.LearningEvent{AgentID: "a1", TaskID: "t1", Score: 60})
	require.NoError(t, err)
	assert.InDelta(t, 0.5+step, next.RiskTolerance, 1e-9)
	assert.InDelta(t, 0.3+step, next.WorkloadSensitivity, 1e-9)

	agent.Reputation = 20
	agent.Workload = 0
	next, _, err = e.Apply(agent, models.LearningEvent{AgentID: "a1", TaskID: "t1", Score: 60})
	require.NoError(t, err)
	assert.InDelta(t, 0.5-step, next.RiskTolerance, 1e-9)
	assert.InDelta(t, 0.3-step, next.WorkloadSensitivity, 1e-9)

	agent.Reputation = 55
	agent.Workload = 3
	next, _, err = e.Apply(agent, models.LearningEvent{AgentID: "a1", TaskID: "t1", Score: 60})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, next.RiskTolerance, 1e-9)
	assert.InDelta(t, 0.3, next.WorkloadSensitivity, 1e-9)
}

func TestExplorationDecaysToFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecayRate = 0.5
	cfg.MinExplorationRate = 0.05
	e := NewEngine(cfg)

	agent := learnAgent()
	prev := agent.ExplorationRate
	for i := 0; i < 10; i++ {
		next, _, err := e.Apply(agent, models.LearningEvent{AgentID: "a1", TaskID: "t", Score: 50})
		require.NoError(t, err)
		assert.LessOrEqual(t, next.ExplorationRate, prev)
		prev = next.ExplorationRate
		agent = next
	}
	assert.InDelta(t, 0.05, agent.ExplorationRate, 1e-9)
}

func TestExplorationBelowFloorIsNotRaised(t *testing.T) {
	e := NewEngine(nil)
	agent := learnAgent()
	agent.ExplorationRate = 0.01

	next, d, err := e.Apply(agent, models.LearningEvent{AgentID: "a1", TaskID: "t", Score: 80})
	require.NoError(t, err)
	assert.InDelta(t, 0.01, next.ExplorationRate, 1e-9)
	assert.Equal(t, d.ExplorationRate.Before, d.ExplorationRate.After)
}

func TestPreferenceMovesTowardScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alpha = 50
	next, d, err := NewEngine(cfg).Apply(learnAgent(), models.LearningEvent{
		AgentID: "a1", TaskID: "t1", Score: 90, RequiredCapabilities: []string{"sql", "go"},
	})
	require.NoError(t, err)

	assert.Equal(t, "go,sql", d.PreferenceKey)
	assert.InDelta(t, 70.0, next.TaskTypePreferences["go,sql"], 1e-9)
}

func TestApplyRejectsInvalidEvents(t *testing.T) {
	e := NewEngine(nil)
	_, _, err := e.Apply(learnAgent(), models.LearningEvent{AgentID: "a1", TaskID: "t1", Score: 101})
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, _, err = e.Apply(learnAgent(), models.LearningEvent{AgentID: "a1", TaskID: "t1", TagScores: map[string]int{"go": -1}})
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, _, err = e.Apply(learnAgent(), models.LearningEvent{AgentID: "other", TaskID: "t1"})
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestBoundsHoldUnderRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	skills := []string{"go", "sql", "api", "ml"}

	for _, cfg := range []*Config{
		DefaultConfig(),
		{Alpha: 0, LearningRate: 0.5, DecayRate: 0.5, MinExplorationRate: 0.1, ScoreWindow: 3,
			HighScore: 70, LowScore: 50, HighReputation: 70, LowReputation: 40, HighWorkload: 5, LowWorkload: 2},
	} {
		e := NewEngine(cfg)
		agent := learnAgent()
		for i := 0; i < 2000; i++ {
			agent.Reputation = rng.Intn(101)
			agent.Workload = rng.Intn(12)
			tags := map[string]int{}
			for _, s := range skills {
				if rng.Intn(2) == 0 {
					tags[s] = rng.Intn(101)
				}
			}
			next, _, err := e.Apply(agent, models.LearningEvent{
				AgentID: "a1", TaskID: "t", Score: rng.Intn(101), TagScores: tags,
				RequiredCapabilities: skills[:1+rng.Intn(len(skills))],
			})
			require.NoError(t, err)
			require.NoError(t, next.Validate(), "iteration %d", i)
			require.GreaterOrEqual(t, next.ExplorationRate, cfg.MinExplorationRate)
			if cfg.ScoreWindow > 0 {
				require.LessOrEqual(t, len(next.RecentScores), cfg.ScoreWindow)
			}
			agent = next
		}
	}
}
