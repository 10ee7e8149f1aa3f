// Package controlplane provides the HTTP API and service layer for agora.
package controlplane

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/agora/internal/audit"
	"github.com/fentz26/agora/internal/bidding"
	"github.com/fentz26/agora/internal/capability"
	"github.com/fentz26/agora/internal/connectors"
	"github.com/fentz26/agora/internal/learning"
	"github.com/fentz26/agora/internal/metrics"
	"github.com/fentz26/agora/internal/models"
	"github.com/fentz26/agora/internal/store"
	"github.com/fentz26/agora/internal/team"
	"github.com/fentz26/agora/internal/utility"
	"github.com/google/uuid"
)

// Options tunes the service.
type Options struct {
	// ExecTimeout bounds one oracle call. A timeout fails the task.
	ExecTimeout time.Duration `yaml:"exec_timeout"`
	// SuccessReputation and FailureReputation are applied to every member
	// when a task completes or fails.
	SuccessReputation int `yaml:"success_reputation"`
	FailureReputation int `yaml:"failure_reputation"`
	// MaxTeamSize is used when a caller does not pass one.
	MaxTeamSize int `yaml:"max_team_size"`
	// AuctionMaxCapabilities is the largest requirement set AutoAssign
	// sends to auction; larger tasks get a team.
	AuctionMaxCapabilities int `yaml:"auction_max_capabilities"`
	// BidConcurrency bounds the goroutines used by EvaluateBids.
	BidConcurrency int           `yaml:"bid_concurrency"`
	AgentDefaults  AgentDefaults `yaml:"agent_defaults"`
}

// AgentDefaults fills parameters a registration leaves unset.
type AgentDefaults struct {
	Reputation          int     `yaml:"reputation"`
	ConfidenceFactor    float64 `yaml:"confidence_factor"`
	RiskTolerance       float64 `yaml:"risk_tolerance"`
	WorkloadSensitivity float64 `yaml:"workload_sensitivity"`
	ExplorationRate     float64 `yaml:"exploration_rate"`
	MinUtilityThreshold float64 `yaml:"min_utility_threshold"`
	MaxWorkload         int     `yaml:"max_workload"`
}

// DefaultOptions returns the default service options.
func DefaultOptions() *Options {
	return &Options{
		ExecTimeout:            2 * time.Minute,
		SuccessReputation:      2,
		FailureReputation:      -5,
		MaxTeamSize:            5,
		AuctionMaxCapabilities: 2,
		BidConcurrency:         8,
		AgentDefaults: AgentDefaults{
			Reputation:          50,
			ConfidenceFactor:    0.75,
			RiskTolerance:       0.5,
			WorkloadSensitivity: 0.3,
			ExplorationRate:     0.1,
			MinUtilityThreshold: 30,
			MaxWorkload:         5,
		},
	}
}

// Engines are the decision components the service drives. Nil fields are
// built from defaults.
type Engines struct {
	Utility  *utility.Engine
	Policy   *bidding.Policy
	Selector *team.Selector
	Learning *learning.Engine
}

// Service provides the control plane business logic.
type Service struct {
	store    *store.Store
	ledger   audit.Ledger
	executor connectors.Executor
	metrics  *metrics.Collector
	bidder   *bidding.Bidder
	selector *team.Selector
	learner  *learning.Learner
	opts     *Options

	// minExploration is the learning floor; registration rejects rates below it.
	minExploration float64

	// executing holds the ids of tasks whose oracle call is in flight.
	executing sync.Map
}

// NewService creates a new control plane service.
func NewService(s *store.Store, ledger audit.Ledger, exec connectors.Executor, opts *Options, eng Engines) (*Service, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if eng.Utility == nil {
		eng.Utility = utility.NewEngine(nil, utility.NewRand(time.Now().UnixNano()))
	}
	if eng.Policy == nil {
		eng.Policy = bidding.NewPolicy(nil, utility.NewRand(time.Now().UnixNano()))
	}
	if eng.Selector == nil {
		eng.Selector = team.NewSelector(nil)
	}
	if eng.Learning == nil {
		eng.Learning = learning.NewEngine(nil)
	}
	learner, err := learning.NewLearner(eng.Learning, s)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:    s,
		ledger:   ledger,
		executor: exec,
		bidder:   bidding.NewBidder(eng.Utility, eng.Policy),
		selector: eng.Selector,
		learner:  learner,
		opts:     opts,

		minExploration: eng.Learning.Config().MinExplorationRate,
	}, nil
}

// SetMetrics attaches a metrics collector.
func (s *Service) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

// Executor returns the configured execution oracle, or nil.
func (s *Service) Executor() connectors.Executor {
	return s.executor
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) record(ctx context.Context, typ, taskID, agentID string, payload any) {
	audit.Record(ctx, s.ledger, audit.Event{Type: typ, TaskID: taskID, AgentID: agentID, Payload: payload})
}

// --- Agent Operations ---

// AgentSpec is a registration request. Nil parameters take the configured
// defaults.
type AgentSpec struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Role                models.Role        `json:"role"`
	Capabilities        map[string]int     `json:"capabilities"`
	TaskTypePreferences map[string]float64 `json:"task_type_preferences"`
	Reputation          *int               `json:"reputation"`
	ConfidenceFactor    *float64           `json:"confidence_factor"`
	RiskTolerance       *float64           `json:"risk_tolerance"`
	WorkloadSensitivity *float64           `json:"workload_sensitivity"`
	ExplorationRate     *float64           `json:"exploration_rate"`
	MinUtilityThreshold *float64           `json:"min_utility_threshold"`
	MaxWorkload         *int               `json:"max_workload"`
}

func (spec AgentSpec) build(d AgentDefaults) models.Agent {
	a := models.Agent{
		ID:                  strings.TrimSpace(spec.ID),
		Name:                spec.Name,
		Role:                spec.Role,
		Active:              true,
		Capabilities:        capability.Profile{},
		TaskTypePreferences: map[string]float64{},
		Reputation:          d.Reputation,
		ConfidenceFactor:    d.ConfidenceFactor,
		RiskTolerance:       d.RiskTolerance,
		WorkloadSensitivity: d.WorkloadSensitivity,
		ExplorationRate:     d.ExplorationRate,
		MinUtilityThreshold: d.MinUtilityThreshold,
		MaxWorkload:         d.MaxWorkload,
	}
	if a.Role == "" {
		a.Role = models.RoleWorker
	}
	for skill, w := range spec.Capabilities {
		// Raw weights are kept so Validate can reject out-of-range input.
		a.Capabilities[strings.ToLower(strings.TrimSpace(skill))] = w
	}
	for key, v := range spec.TaskTypePreferences {
		a.TaskTypePreferences[utility.TaskTypeKey(strings.Split(key, ","))] = v
	}
	if spec.Reputation != nil {
		a.Reputation = *spec.Reputation
	}
	if spec.ConfidenceFactor != nil {
		a.ConfidenceFactor = *spec.ConfidenceFactor
	}
	if spec.RiskTolerance != nil {
		a.RiskTolerance = *spec.RiskTolerance
	}
	if spec.WorkloadSensitivity != nil {
		a.WorkloadSensitivity = *spec.WorkloadSensitivity
	}
	if spec.ExplorationRate != nil {
		a.ExplorationRate = *spec.ExplorationRate
	}
	if spec.MinUtilityThreshold != nil {
		a.MinUtilityThreshold = *spec.MinUtilityThreshold
	}
	if spec.MaxWorkload != nil {
		a.MaxWorkload = *spec.MaxWorkload
	}
	return a
}

// RegisterAgent validates and stores a new agent.
func (s *Service) RegisterAgent(ctx context.Context, spec AgentSpec) (*models.Agent, error) {
	const op = "agent.register"
	agent := spec.build(s.opts.AgentDefaults)
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if err := agent.Validate(); err != nil {
		return nil, err
	}
	if agent.ExplorationRate < s.minExploration {
		return nil, models.Validationf(op, "exploration rate %.3f below floor %.3f", agent.ExplorationRate, s.minExploration)
	}

	if err := s.store.CreateAgent(ctx, &agent); err != nil {
		if err == store.ErrAgentExists {
			return nil, models.Conflictf(op, "agent %s already registered", agent.ID)
		}
		return nil, err
	}

	s.record(ctx, audit.EventAgentRegistered, "", agent.ID, agent)
	return &agent, nil
}

// GetAgent retrieves an agent by ID.
func (s *Service) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, notFound("agent.get", ErrAgentNotFound, id)
	}
	return agent, nil
}

// ListAgents returns registered agents.
func (s *Service) ListAgents(ctx context.Context, activeOnly bool) ([]models.Agent, error) {
	return s.store.ListAgents(ctx, activeOnly)
}

// DeactivateAgent removes an agent from bidding and team selection. Its
// current assignments are unaffected.
func (s *Service) DeactivateAgent(ctx context.Context, id string) error {
	ok, err := s.store.SetAgentActive(ctx, id, false)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("agent.deactivate", ErrAgentNotFound, id)
	}
	s.record(ctx, audit.EventAgentDeactivated, "", id, map[string]string{"agent_id": id})
	return nil
}

// --- Task Operations ---

// CreateTask validates and opens a task.
func (s *Service) CreateTask(ctx context.Context, t models.Task) (*models.Task, error) {
	t.RequiredCapabilities = models.NormalizeSkills(t.RequiredCapabilities)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateTask(ctx, &t); err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(models.TaskStatusOpen)
	s.record(ctx, audit.EventTaskCreated, t.ID, "", map[string]any{
		"title":                 t.Title,
		"required_capabilities": t.RequiredCapabilities,
		"reward":                t.Reward,
		"min_reputation":        t.MinReputation,
	})
	return &t, nil
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, notFound("task.get", ErrTaskNotFound, id)
	}
	return task, nil
}

// ListTasks returns tasks, optionally filtered by status.
func (s *Service) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	if status != "" && !status.Valid() {
		return nil, models.Validationf("task.list", "unknown status %q", status)
	}
	return s.store.ListTasks(ctx, status)
}

// CancelTask withdraws an open task.
func (s *Service) CancelTask(ctx context.Context, id string) error {
	const op = "task.cancel"
	ok, err := s.store.TransitionTask(ctx, id, models.TaskStatusOpen, models.TaskStatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		task, err := s.GetTask(ctx, id)
		if err != nil {
			return err
		}
		return models.Conflictf(op, "task %s is %s", id, task.Status)
	}
	s.metrics.RecordTransition(models.TaskStatusCancelled)
	s.record(ctx, audit.EventTaskCancelled, id, "", map[string]string{"task_id": id})
	return nil
}

// GetRuns returns the execution attempts of a task, newest first.
func (s *Service) GetRuns(ctx context.Context, taskID string) ([]models.Run, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.GetRunsForTask(ctx, taskID)
}

// ListAudit returns recorded decisions, newest first.
func (s *Service) ListAudit(ctx context.Context, taskID string, limit int) ([]models.AuditEntry, error) {
	return s.store.ListAudit(ctx, taskID, limit)
}

func (s *Service) requireStatus(ctx context.Context, op, taskID string, want models.TaskStatus) (*models.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != want {
		return nil, models.Conflictf(op, "task %s is %s, want %s", taskID, task.Status, want)
	}
	return task, nil
}

func describeMembers(members []models.TeamMember) string {
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = fmt.Sprintf("%s(%s)", m.AgentID, m.Role)
	}
	return strings.Join(parts, ", ")
}
