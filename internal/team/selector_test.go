package team

import (
	"testing"

	"github.com/fentz26/agora/internal/capability"
	"github.com/fentz26/agora/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agent(id string, role models.Role, rep int, caps capability.Profile) models.Agent {
	return models.Agent{ID: id, Role: role, Active: true, Reputation: rep, Capabilities: caps}
}

func ids(ta models.TeamAssignment) []string { return ta.AgentIDs() }

func TestSingleCapabilityPicksBestCandidate(t *testing.T) {
	task := models.Task{ID: "t1", RequiredCapabilities: []string{"go"}}
	candidates := []models.Agent{
		agent("a", models.RoleWorker, 60, capability.Profile{"go": 70}),
		agent("b", models.RoleWorker, 90, capability.Profile{"go": 90}),
		agent("c", models.RoleWorker, 50, capability.Profile{"go": 40}),
	}

	ta, err := NewSelector(nil).SelectTeam(task, candidates, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(ta))
	assert.Equal(t, 1.0, ta.CoverageRatio)
}

func TestDisjointSpecialistsFormTeam(t *testing.T) {
	task := models.Task{ID: "t1", RequiredCapabilities: []string{"x", "y"}}
	candidates := []models.Agent{
		agent("A", models.RoleWorker, 90, capability.Profile{"x": 80}),
		agent("B", models.RoleWorker, 90, capability.Profile{"y": 80}),
	}

	ta, err := NewSelector(nil).SelectTeam(task, candidates, 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, ids(ta))
	assert.Equal(t, 1.0, ta.CoverageRatio)
	for _, m := range ta.Members {
		assert.Equal(t, models.RoleWorker, m.Role)
	}
}

func TestScoreWeightsAndRoleBonus(t *testing.T) {
	s := NewSelector(nil)
	req := []string{"go"}

	worker := agent("w", models.RoleWorker, 50, capability.Profile{"go": 100})
	assert.InDelta(t, 0.8, s.Score(worker, req), 1e-9)

	coord := agent("c", models.RoleCoordinator, 50, capability.Profile{"go": 100})
	assert.InDelta(t, 0.96, s.Score(coord, req), 1e-9)

	eval := agent("e", models.RoleEvaluator, 50, capability.Profile{"go": 100})
	assert.InDelta(t, 0.88, s.Score(eval, req), 1e-9)

	none := agent("n", models.RoleWorker, 100, capability.Profile{"rust": 100})
	assert.Equal(t, 0.0, s.Score(none, req))
}

func TestGreedyCoordinatorFirstAndEvaluatorLast(t *testing.T) {
	task := models.Task{ID: "t1", RequiredCapabilities: []string{"api", "db", "ui"}}
	candidates := []models.Agent{
		agent("w1", models.RoleWorker, 80, capability.Profile{"api": 90, "db": 90}),
		agent("w2", models.RoleWorker, 80, capability.Profile{"api": 90}),
		agent("w3", models.RoleWorker, 70, capability.Profile{"ui": 60}),
		agent("co", models.RoleCoordinator, 60, capability.Profile{"api": 40}),
		agent("ev", models.RoleEvaluator, 60, capability.Profile{"ui": 20}),
	}

	ta, err := NewSelector(nil).SelectTeam(task, candidates, 5)
	require.NoError(t, err)

	require.NotEmpty(t, ta.Members)
	assert.Equal(t, "co", ta.Members[0].AgentID)
	assert.Equal(t, models.RoleCoordinator, ta.Members[0].Role)
	assert.Equal(t, []string{"co", "w1", "w3", "ev"}, ids(ta))
	assert.Equal(t, models.RoleEvaluator, ta.Members[3].Role)
	assert.Equal(t, 1.0, ta.CoverageRatio)
}

func TestGreedyKeepsEvaluatorRole(t *testing.T) {
	task := models.Task{ID: "t1", RequiredCapabilities: []string{"a", "b", "c"}}
	candidates := []models.Agent{
		agent("ev", models.RoleEvaluator, 90, capability.Profile{"a": 90, "b": 90}),
		agent("w", models.RoleWorker, 80, capability.Profile{"c": 80}),
		agent("ev2", models.RoleEvaluator, 50, capability.Profile{"a": 20}),
	}

	ta, err := NewSelector(nil).SelectTeam(task, candidates, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev", "w"}, ids(ta))
	assert.Equal(t, models.RoleEvaluator, ta.Members[0].Role)
	assert.Equal(t, models.RoleWorker, ta.Members[1].Role)
	assert.Equal(t, 1.0, ta.CoverageRatio)
}

func TestGreedyRespectsMaxSize(t *testing.T) {
	task := models.Task{ID: "t1", RequiredCapabilities: []string{"a", "b", "c", "d"}}
	candidates := []models.Agent{
		agent("1", models.RoleWorker, 90, capability.Profile{"a": 90}),
		agent("2", models.RoleWorker, 90, capability.Profile{"b": 80}),
		agent("3", models.RoleWorker, 90, capability.Profile{"c": 70}),
		agent("4", models.RoleWorker, 90, capability.Profile{"d": 60}),
		agent("ev", models.RoleEvaluator, 10, capability.Profile{"a": 10}),
	}

	ta, err := NewSelector(nil).SelectTeam(task, candidates, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(ta))
	assert.InDelta(t, 0.5, ta.CoverageRatio, 1e-9)
}

func TestMinimumTeamSizePadding(t *testing.T) {
	task := models.Task{ID: "t1", RequiredCapabilities: []string{"a", "b", "c"}}
	candidates := []models.Agent{
		agent("all", models.RoleWorker, 90, capability.Profile{"a": 90, "b": 90, "c": 90}),
		agent("extra", models.RoleWorker, 50, capability.Profile{"a": 30}),
		agent("spare", models.RoleWorker, 40, capability.Profile{"a": 20}),
	}

	ta, err := NewSelector(nil).SelectTeam(task, candidates, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"all", "extra"}, ids(ta))
}

func TestTwoCapabilitiesPartialBestFallsBackToGreedy(t *testing.T) {
	task := models.Task{ID: "t1", RequiredCapabilities: []string{"x", "y"}}
	candidates := []models.Agent{
		agent("X", models.RoleWorker, 100, capability.Profile{"x": 100}),
		agent("XY", models.RoleWorker, 40, capability.Profile{"x": 30, "y": 30}),
	}

	ta, err := NewSelector(nil).SelectTeam(task, candidates, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "XY"}, ids(ta))
	assert.Equal(t, 1.0, ta.CoverageRatio)
}

func TestTiesKeepCandidateOrder(t *testing.T) {
	task := models.Task{ID: "t1", RequiredCapabilities: []string{"go"}}
	candidates := []models.Agent{
		agent("second", models.RoleWorker, 80, capability.Profile{"go": 80}),
		agent("first", models.RoleWorker, 80, capability.Profile{"go": 80}),
	}

	for i := 0; i < 20; i++ {
		ta, err := NewSelector(nil).SelectTeam(task, candidates, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"second"}, ids(ta))
	}
}

func TestFilterAndCapacityError(t *testing.T) {
	task := models.Task{ID: "t1", RequiredCapabilities: []string{"go"}, MinReputation: 50}
	inactive := agent("off", models.RoleWorker, 90, capability.Profile{"go": 90})
	inactive.Active = false
	candidates := []models.Agent{
		inactive,
		agent("low", models.RoleWorker, 10, capability.Profile{"go": 90}),
		agent("miss", models.RoleWorker, 90, capability.Profile{"rust": 90}),
	}

	ta, err := NewSelector(nil).SelectTeam(task, candidates, 3)
	require.Error(t, err)
	assert.Equal(t, models.KindCapacity, models.KindOf(err))
	assert.Empty(t, ta.Members)
	assert.NotEmpty(t, ta.Reason)
}

func TestSelectTeamValidation(t *testing.T) {
	s := NewSelector(nil)
	_, err := s.SelectTeam(models.Task{ID: "t1"}, nil, 3)
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, err = s.SelectTeam(models.Task{ID: "t1", RequiredCapabilities: []string{"go"}}, nil, 0)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}
