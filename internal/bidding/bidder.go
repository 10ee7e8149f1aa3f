package bidding

import (
	"time"

	"github.com/fentz26/agora/internal/models"
	"github.com/fentz26/agora/internal/utility"
)

// Bidder produces a complete Bid from the utility engine, policy and pricer.
// It is pure with respect to agent and task state.
type Bidder struct {
	engine *utility.Engine
	policy *Policy
	now    func() time.Time
}

// NewBidder wires an engine and a policy into a Bidder.
func NewBidder(engine *utility.Engine, policy *Policy) *Bidder {
	return &Bidder{engine: engine, policy: policy, now: time.Now}
}

// Evaluate returns the agent's decision for task. Rejected bids carry a zero
// amount and the rejecting reason.
func (b *Bidder) Evaluate(agent models.Agent, task models.Task) models.Bid {
	breakdown := b.engine.Evaluate(agent, task)
	bid := models.Bid{
		AgentID:   agent.ID,
		TaskID:    task.ID,
		Utility:   breakdown.Utility,
		Breakdown: breakdown,
		CreatedAt: b.now().UTC(),
	}
	bid.Submit, bid.Reason = b.policy.ShouldBid(agent, task, breakdown.Utility)
	if bid.Submit {
		bid.Amount = Price(breakdown.Utility, agent.RiskTolerance, task.MinBid, task.MaxBid)
	}
	return bid
}
