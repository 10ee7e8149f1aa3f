package bidding

import (
	"testing"

	"github.com/fentz26/agora/internal/capability"
	"github.com/fentz26/agora/internal/models"
	"github.com/fentz26/agora/internal/utility"
	"github.com/stretchr/testify/assert"
)

// scripted replays fixed draws and counts how many were taken.
type scripted struct {
	draws []float64
	taken int
}

func (s *scripted) Float64() float64 {
	v := s.draws[s.taken%len(s.draws)]
	s.taken++
	return v
}

func bidAgent() models.Agent {
	return models.Agent{
		ID:                  "a1",
		Role:                models.RoleWorker,
		Reputation:          70,
		Workload:            1,
		Capabilities:        capability.Profile{"go": 90},
		RiskTolerance:       0.5,
		WorkloadSensitivity: 0.2,
		ExplorationRate:     0.3,
		MinUtilityThreshold: 30,
		TaskTypePreferences: map[string]float64{},
	}
}

func bidTask() models.Task {
	return models.Task{ID: "t1", RequiredCapabilities: []string{"go"}, MinReputation: 50, MinBid: 10, MaxBid: 100}
}

func TestReputationGateIsDeterministic(t *testing.T) {
	agent := bidAgent()
	agent.Reputation = 10
	agent.ExplorationRate = 1
	rng := &scripted{draws: []float64{0}}
	p := NewPolicy(nil, rng)

	for _, u := range []float64{0, 50, 100} {
		ok, reason := p.ShouldBid(agent, bidTask(), u)
		assert.False(t, ok)
		assert.Contains(t, reason, "reputation")
	}
	assert.Equal(t, 0, rng.taken, "reputation gate must not consume randomness")
}

func TestUtilityAndCapacityGates(t *testing.T) {
	rng := &scripted{draws: []float64{0}}
	p := NewPolicy(nil, rng)

	agent := bidAgent()
	agent.ExplorationRate = 1
	ok, reason := p.ShouldBid(agent, bidTask(), 29.9)
	assert.False(t, ok)
	assert.Contains(t, reason, "utility")

	agent.Workload = 5
	ok, reason = p.ShouldBid(agent, bidTask(), 90)
	assert.False(t, ok)
	assert.Contains(t, reason, "capacity")

	agent.MaxWorkload = 8
	ok, _ = p.ShouldBid(agent, bidTask(), 90)
	assert.True(t, ok)
}

func TestCriteriaMet(t *testing.T) {
	rng := &scripted{draws: []float64{0.9}}
	ok, reason := NewPolicy(nil, rng).ShouldBid(bidAgent(), bidTask(), 80)

	assert.True(t, ok)
	assert.Equal(t, ReasonCriteriaMet, reason)
	assert.Equal(t, 1, rng.taken, "only the override draw is taken without a low preference")
}

func TestLowPreferenceGate(t *testing.T) {
	agent := bidAgent()
	agent.TaskTypePreferences["go"] = 20

	tests := []struct {
		name   string
		draws  []float64
		ok     bool
		reason string
	}{
		{"escape draw under rate passes gate", []float64{0.1, 0.9}, true, ReasonCriteriaMet},
		{"escape fails and override fails", []float64{0.9, 0.9}, false, "low preference"},
		{"escape fails but override triggers", []float64{0.9, 0.1}, true, ReasonExploration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := &scripted{draws: tt.draws}
			ok, reason := NewPolicy(nil, rng).ShouldBid(agent, bidTask(), 80)
			assert.Equal(t, tt.ok, ok)
			assert.Contains(t, reason, tt.reason)
			assert.Equal(t, 2, rng.taken, "both draws are independent")
		})
	}
}

func TestBidderPricesAcceptedBids(t *testing.T) {
	agent := bidAgent()
	agent.Workload = 0
	agent.Capabilities = capability.Profile{"go": 80}
	never := &scripted{draws: []float64{0.99}}
	b := NewBidder(utility.NewEngine(nil, never), NewPolicy(nil, never))

	bid := b.Evaluate(agent, bidTask())
	assert.True(t, bid.Submit)
	assert.InDelta(t, 80.0, bid.Utility, 1e-9)
	assert.InDelta(t, 19.0, bid.Amount, 1e-9)
	assert.Equal(t, "a1", bid.AgentID)
	assert.Equal(t, "t1", bid.TaskID)

	agent.Reputation = 0
	bid = b.Evaluate(agent, bidTask())
	assert.False(t, bid.Submit)
	assert.Zero(t, bid.Amount)
}

func TestSelectWinner(t *testing.T) {
	bids := []models.Bid{
		{AgentID: "c", Submit: true, Amount: 20, Utility: 70},
		{AgentID: "b", Submit: true, Amount: 20, Utility: 90},
		{AgentID: "a", Submit: false, Amount: 5},
		{AgentID: "d", Submit: true, Amount: 20, Utility: 90},
	}
	w, ok := SelectWinner(bids)
	assert.True(t, ok)
	assert.Equal(t, "b", w.AgentID)

	_, ok = SelectWinner([]models.Bid{{AgentID: "x"}})
	assert.False(t, ok)
}
