package utility

import (
	"testing"

	"github.com/fentz26/agora/internal/capability"
	"github.com/fentz26/agora/internal/models"
	"github.com/stretchr/testify/assert"
)

// scripted replays fixed draws.
type scripted struct {
	draws []float64
	i     int
}

func (s *scripted) Float64() float64 {
	v := s.draws[s.i%len(s.draws)]
	s.i++
	return v
}

func noExplore() *scripted { return &scripted{draws: []float64{0.99}} }

func baseAgent() models.Agent {
	return models.Agent{
		ID:                  "a1",
		Reputation:          80,
		Capabilities:        capability.Profile{"x": 80},
		WorkloadSensitivity: 0.3,
		TaskTypePreferences: map[string]float64{},
	}
}

func TestWorkloadPenalty(t *testing.T) {
	e := NewEngine(nil, noExplore())

	assert.InDelta(t, 24.375, e.WorkloadPenalty(7, 0.3), 1e-9)
	assert.InDelta(t, 15.0, e.WorkloadPenalty(5, 0.3), 1e-9)
	assert.Equal(t, 0.0, e.WorkloadPenalty(0, 0.5))
}

func TestCapabilityMatch(t *testing.T) {
	p := capability.Profile{"x": 80}

	assert.InDelta(t, 0.4, CapabilityMatch(p, []string{"x", "y"}), 1e-9)
	assert.InDelta(t, 0.8, CapabilityMatch(p, []string{"X", " x "}), 1e-9)
	assert.Equal(t, 0.0, CapabilityMatch(p, nil))
	_, created := p["y"]
	assert.False(t, created)
}

func TestPreferenceBoost(t *testing.T) {
	e := NewEngine(nil, noExplore())
	prefs := map[string]float64{"a,b": 100, "c": 0}

	assert.InDelta(t, 10.0, e.PreferenceBoost(prefs, []string{"b", "a"}), 1e-9)
	assert.InDelta(t, -10.0, e.PreferenceBoost(prefs, []string{"c"}), 1e-9)
	assert.Equal(t, 0.0, e.PreferenceBoost(prefs, []string{"d"}))
}

func TestTaskTypeKeyIsOrderInsensitive(t *testing.T) {
	assert.Equal(t, TaskTypeKey([]string{"sql", "go"}), TaskTypeKey([]string{"Go", "sql", "go"}))
	assert.Equal(t, "go,sql", TaskTypeKey([]string{"sql", "go"}))
}

func TestUtilityComposition(t *testing.T) {
	agent := baseAgent()
	agent.Workload = 1
	agent.TaskTypePreferences["x"] = 75
	task := models.Task{RequiredCapabilities: []string{"x"}, Reward: 50}

	b := NewEngine(nil, noExplore()).Evaluate(agent, task)

	// 80 - 1*0.3*10 + 25*0.2
	assert.InDelta(t, 82.0, b.Utility, 1e-9)
	assert.False(t, b.Explored)
	assert.Equal(t, 50.0, b.Reward)
}

func TestExplorationIsDeterministicWithScriptedSource(t *testing.T) {
	agent := baseAgent()
	agent.ExplorationRate = 0.5
	task := models.Task{RequiredCapabilities: []string{"x"}}

	// first draw 0.1 < 0.5 triggers; second draw 0.5 maps to -10 + 0.5*30 = 5
	e := NewEngine(nil, &scripted{draws: []float64{0.1, 0.5}})
	b := e.Evaluate(agent, task)
	assert.True(t, b.Explored)
	assert.InDelta(t, 5.0, b.ExplorationNoise, 1e-9)
	assert.InDelta(t, 85.0, b.Utility, 1e-9)

	// draw at the rate does not trigger
	e = NewEngine(nil, &scripted{draws: []float64{0.5}})
	assert.False(t, e.Evaluate(agent, task).Explored)
}

func TestUtilityIsClamped(t *testing.T) {
	agent := baseAgent()
	agent.Workload = 30
	agent.WorkloadSensitivity = 0.5
	task := models.Task{RequiredCapabilities: []string{"x"}}
	assert.Equal(t, 0.0, NewEngine(nil, noExplore()).Utility(agent, task))

	agent = baseAgent()
	agent.Capabilities = capability.Profile{"x": 100}
	agent.TaskTypePreferences["x"] = 100
	agent.ExplorationRate = 1
	e := NewEngine(nil, &scripted{draws: []float64{0, 1}})
	assert.Equal(t, 100.0, e.Utility(agent, task))
}

func TestUtilityNonIncreasingInWorkload(t *testing.T) {
	e := NewEngine(nil, noExplore())
	task := models.Task{RequiredCapabilities: []string{"x", "y"}}
	for _, sens := range []float64{0.1, 0.3, 0.5} {
		prev := 101.0
		for w := 0; w <= 20; w++ {
			agent := baseAgent()
			agent.Capabilities = capability.Profile{"x": 100, "y": 100}
			agent.WorkloadSensitivity = sens
			agent.Workload = w
			u := e.Utility(agent, task)
			assert.LessOrEqual(t, u, prev, "workload %d sensitivity %.1f", w, sens)
			prev = u
		}
	}
}

func TestUtilityNonDecreasingInMatch(t *testing.T) {
	e := NewEngine(nil, noExplore())
	task := models.Task{RequiredCapabilities: []string{"x", "y"}}
	prev := -1.0
	for weight := 0; weight <= 100; weight += 5 {
		agent := baseAgent()
		agent.Workload = 2
		agent.Capabilities = capability.Profile{"x": weight, "y": 50}
		u := e.Utility(agent, task)
		assert.GreaterOrEqual(t, u, prev, "weight %d", weight)
		prev = u
	}
}

func TestLockedRandIsSeedable(t *testing.T) {
	a, b := NewRand(42), NewRand(42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}
