package controlplane

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/fentz26/agora/internal/audit"
	"github.com/fentz26/agora/internal/bidding"
	"github.com/fentz26/agora/internal/models"
)

// --- Bidding ---

// EvaluateBid returns one agent's bid decision for an open task.
func (s *Service) EvaluateBid(ctx context.Context, taskID, agentID string) (models.Bid, error) {
	task, err := s.requireStatus(ctx, "bid.evaluate", taskID, models.TaskStatusOpen)
	if err != nil {
		return models.Bid{}, err
	}
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return models.Bid{}, err
	}
	bid := s.bidder.Evaluate(*agent, *task)
	s.metrics.RecordBid(bid)
	return bid, nil
}

// EvaluateBids collects the decision of every active agent for an open
// task, sorted by agent ID.
func (s *Service) EvaluateBids(ctx context.Context, taskID string) ([]models.Bid, error) {
	bids, _, err := s.collectBids(ctx, taskID)
	return bids, err
}

func (s *Service) collectBids(ctx context.Context, taskID string) ([]models.Bid, *models.Task, error) {
	task, err := s.requireStatus(ctx, "bid.evaluate", taskID, models.TaskStatusOpen)
	if err != nil {
		return nil, nil, err
	}
	agents, err := s.store.ListAgents(ctx, true)
	if err != nil {
		return nil, nil, err
	}

	bids := make([]models.Bid, len(agents))
	g, gctx := errgroup.WithContext(ctx)
	if s.opts.BidConcurrency > 0 {
		g.SetLimit(s.opts.BidConcurrency)
	}
	for i := range agents {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bids[i] = s.bidder.Evaluate(agents[i], *task)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].AgentID < bids[j].AgentID })

	submitted := 0
	for _, b := range bids {
		s.metrics.RecordBid(b)
		if b.Submit {
			submitted++
		}
	}
	s.record(ctx, audit.EventBidsEvaluated, task.ID, "", map[string]int{
		"evaluated": len(bids),
		"submitted": submitted,
	})
	return bids, task, nil
}

// Award runs an auction for an open task and assigns it to the winning
// bid: the lowest amount, then the higher utility, then the smaller ID.
func (s *Service) Award(ctx context.Context, taskID string) (*models.TeamAssignment, error) {
	const op = "task.award"
	bids, task, err := s.collectBids(ctx, taskID)
	if err != nil {
		return nil, err
	}
	winner, ok := bidding.SelectWinner(bids)
	if !ok {
		return nil, &models.Error{
			Kind:   models.KindCapacity,
			Op:     op,
			Reason: fmt.Sprintf("none of %d active agents bid on task %s", len(bids), taskID),
			Err:    ErrNoBids,
		}
	}
	agent, err := s.GetAgent(ctx, winner.AgentID)
	if err != nil {
		return nil, err
	}

	role := agent.Role
	if !role.Valid() {
		role = models.RoleWorker
	}
	ta := models.TeamAssignment{
		TaskID: task.ID,
		Members: []models.TeamMember{{
			AgentID:   winner.AgentID,
			Role:      role,
			Score:     winner.Utility,
			BidAmount: winner.Amount,
		}},
		CoverageRatio: coverageOf(*agent, task.RequiredCapabilities),
		Mode:          models.ModeAuction,
		Reason:        fmt.Sprintf("lowest bid %.2f (utility %.1f) among %d bids", winner.Amount, winner.Utility, countSubmitted(bids)),
	}
	if err := s.assign(ctx, ta); err != nil {
		return nil, err
	}
	return &ta, nil
}

// --- Team Selection ---

// DecideTeam selects a team for a task without assigning it. A maxSize of
// zero uses the configured default.
func (s *Service) DecideTeam(ctx context.Context, taskID string, maxSize int) (models.TeamAssignment, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return models.TeamAssignment{}, err
	}
	return s.decideTeam(ctx, *task, maxSize)
}

func (s *Service) decideTeam(ctx context.Context, task models.Task, maxSize int) (models.TeamAssignment, error) {
	if maxSize == 0 {
		maxSize = s.opts.MaxTeamSize
	}
	candidates, err := s.store.ListAgents(ctx, true)
	if err != nil {
		return models.TeamAssignment{}, err
	}
	return s.selector.SelectTeam(task, candidates, maxSize)
}

// AssignTeam selects a team for an open task and assigns it.
func (s *Service) AssignTeam(ctx context.Context, taskID string, maxSize int) (*models.TeamAssignment, error) {
	task, err := s.requireStatus(ctx, "task.assign_team", taskID, models.TaskStatusOpen)
	if err != nil {
		return nil, err
	}
	ta, err := s.decideTeam(ctx, *task, maxSize)
	if err != nil {
		return nil, err
	}
	if err := s.assign(ctx, ta); err != nil {
		return nil, err
	}
	return &ta, nil
}

// AutoAssign sends small tasks to auction and larger ones to team
// selection. An auction with no bids falls back to a team.
func (s *Service) AutoAssign(ctx context.Context, taskID string) (*models.TeamAssignment, error) {
	task, err := s.requireStatus(ctx, "task.auto_assign", taskID, models.TaskStatusOpen)
	if err != nil {
		return nil, err
	}
	if len(task.RequiredCapabilities) <= s.opts.AuctionMaxCapabilities {
		ta, err := s.Award(ctx, taskID)
		if !errors.Is(err, ErrNoBids) {
			return ta, err
		}
	}
	return s.AssignTeam(ctx, taskID, 0)
}

// GetAssignment returns the persisted assignment of a task.
func (s *Service) GetAssignment(ctx context.Context, taskID string) (*models.TeamAssignment, error) {
	ta, err := s.store.GetAssignment(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if ta == nil {
		return nil, notFound("assignment.get", ErrAssignmentNotFound, taskID)
	}
	return ta, nil
}

// assign persists ta with the open→assigned compare-and-swap. Exactly one
// concurrent caller wins; the rest get a conflict.
func (s *Service) assign(ctx context.Context, ta models.TeamAssignment) error {
	const op = "task.assign"
	if err := s.store.AssignTask(ctx, ta); err != nil {
		if errors.Is(err, models.ErrTaskConflict) {
			return models.Conflictf(op, "task %s is no longer open", ta.TaskID)
		}
		return err
	}
	s.metrics.RecordAssignment(ta)
	s.metrics.RecordTransition(models.TaskStatusAssigned)
	s.record(ctx, audit.EventTaskAssigned, ta.TaskID, "", ta)
	return nil
}

func coverageOf(a models.Agent, required []string) float64 {
	if len(required) == 0 {
		return 0
	}
	n := 0
	for _, skill := range required {
		if a.Capabilities.Has(skill) {
			n++
		}
	}
	return float64(n) / float64(len(required))
}

func countSubmitted(bids []models.Bid) int {
	n := 0
	for _, b := range bids {
		if b.Submit {
			n++
		}
	}
	return n
}
