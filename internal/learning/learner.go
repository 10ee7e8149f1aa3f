package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/fentz26/agora/internal/models"
)

// Store is the persistence the Learner needs.
type Store interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	HasLearningEvent(ctx context.Context, agentID, taskID string) (bool, error)
	// ApplyLearningEvent records the event key and saves updated in one
	// transaction, provided the stored version still equals expectedVersion.
	ApplyLearningEvent(ctx context.Context, ev models.LearningEvent, updated models.Agent, expectedVersion int64) error
}

// Learner applies learning events exactly once per (agent, task), serialized
// per agent.
type Learner struct {
	engine *Engine
	store  Store
	locks  *keyedMutex
	recent *lru.ARCCache
	now    func() time.Time
}

// NewLearner creates a Learner backed by store.
func NewLearner(engine *Engine, store Store) (*Learner, error) {
	size := engine.Config().RecentEvents
	if size <= 0 {
		size = 1024
	}
	recent, err := lru.NewARC(size)
	if err != nil {
		return nil, fmt.Errorf("create recent event cache: %w", err)
	}
	return &Learner{
		engine: engine,
		store:  store,
		locks:  newKeyedMutex(),
		recent: recent,
		now:    time.Now,
	}, nil
}

// Apply applies ev to its agent and returns the updated state. A duplicate
// event returns a conflict error and leaves the agent unchanged.
func (l *Learner) Apply(ctx context.Context, ev models.LearningEvent) (*models.Agent, Delta, error) {
	const op = "learning.apply"
	if err := ev.Validate(); err != nil {
		return nil, Delta{}, err
	}

	unlock := l.locks.Lock(ev.AgentID)
	defer unlock()

	if l.recent.Contains(ev.Key()) {
		return nil, Delta{}, models.Conflictf(op, "event %s already applied", ev.Key())
	}
	applied, err := l.store.HasLearningEvent(ctx, ev.AgentID, ev.TaskID)
	if err != nil {
		return nil, Delta{}, fmt.Errorf("check learning event: %w", err)
	}
	if applied {
		l.recent.Add(ev.Key(), struct{}{})
		return nil, Delta{}, models.Conflictf(op, "event %s already applied", ev.Key())
	}

	agent, err := l.store.GetAgent(ctx, ev.AgentID)
	if err != nil {
		return nil, Delta{}, fmt.Errorf("load agent: %w", err)
	}
	if agent == nil {
		return nil, Delta{}, models.NotFoundf(op, "agent %s not found", ev.AgentID)
	}

	if ev.AppliedAt.IsZero() {
		ev.AppliedAt = l.now().UTC()
	}
	updated, delta, err := l.engine.Apply(*agent, ev)
	if err != nil {
		return nil, Delta{}, err
	}

	switch err := l.store.ApplyLearningEvent(ctx, ev, updated, agent.Version); {
	case errors.Is(err, models.ErrDuplicateEvent):
		l.recent.Add(ev.Key(), struct{}{})
		return nil, Delta{}, models.Conflictf(op, "event %s already applied", ev.Key())
	case errors.Is(err, models.ErrVersionConflict):
		return nil, Delta{}, models.Conflictf(op, "agent %s modified concurrently", ev.AgentID)
	case err != nil:
		return nil, Delta{}, fmt.Errorf("persist learning event: %w", err)
	}

	l.recent.Add(ev.Key(), struct{}{})
	return &updated, delta, nil
}
