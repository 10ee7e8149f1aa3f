package controlplane

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/fentz26/agora/internal/audit"
	"github.com/fentz26/agora/internal/connectors"
	"github.com/fentz26/agora/internal/learning"
	"github.com/fentz26/agora/internal/models"
)

// Run outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeFailed    = "failed"
)

// LearningResult reports the learning update of one team member.
type LearningResult struct {
	AgentID string          `json:"agent_id"`
	Agent   *models.Agent   `json:"agent,omitempty"`
	Delta   *learning.Delta `json:"delta,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ExecutionResult is the outcome of a successful execution.
type ExecutionResult struct {
	Task     *models.Task     `json:"task"`
	Run      *models.Run      `json:"run"`
	Learning []LearningResult `json:"learning"`
}

// ExecuteTask runs the oracle for an assigned task. On success the task
// completes and every member learns from the scores. A transient error
// leaves the task assigned for a later retry. A permanent error or a
// timeout fails the task without any learning. Concurrent calls for one
// task conflict while the first is in flight.
func (s *Service) ExecuteTask(ctx context.Context, taskID string) (*ExecutionResult, error) {
	const op = "task.execute"
	if s.executor == nil {
		return nil, models.Permanent(op, errors.New("no executor configured"))
	}
	if _, busy := s.executing.LoadOrStore(taskID, struct{}{}); busy {
		return nil, models.Conflictf(op, "task %s is already executing", taskID)
	}
	defer s.executing.Delete(taskID)

	task, err := s.requireStatus(ctx, op, taskID, models.TaskStatusAssigned)
	if err != nil {
		return nil, err
	}
	ta, err := s.GetAssignment(ctx, taskID)
	if err != nil {
		return nil, err
	}

	run, err := s.store.CreateRun(ctx, taskID, s.executor.Name(), ta.AgentIDs())
	if err != nil {
		return nil, err
	}

	log.Printf("Executing task %s (%s) with %s", task.ID, task.Title, describeMembers(ta.Members))
	execCtx, cancel := context.WithTimeout(ctx, s.opts.ExecTimeout)
	start := time.Now()
	out, execErr := s.executor.Execute(execCtx, connectors.Request{Task: *task, Members: ta.Members})
	timedOut := errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	if execErr == nil && out == nil {
		execErr = models.Permanent(op, errors.New("executor returned no outcome"))
	}
	if execErr != nil {
		return nil, s.handleExecFailure(ctx, task, run, execErr, timedOut, time.Since(start))
	}
	s.metrics.ObserveExecution(s.executor.Name(), OutcomeSuccess, time.Since(start))

	out.Normalize()
	run.Outcome = OutcomeSuccess
	run.OverallScore = out.OverallScore
	run.TagScores = out.TagScores
	run.Result = out.Result
	if err := s.store.FinishRun(ctx, run); err != nil {
		return nil, err
	}

	if err := s.store.CompleteTask(ctx, taskID, models.TaskStatusCompleted, s.opts.SuccessReputation); err != nil {
		if errors.Is(err, models.ErrTaskConflict) {
			return nil, models.Conflictf(op, "task %s was completed concurrently", taskID)
		}
		return nil, err
	}
	s.metrics.RecordTransition(models.TaskStatusCompleted)
	s.record(ctx, audit.EventTaskCompleted, taskID, "", map[string]any{
		"run_id":        run.ID,
		"overall_score": out.OverallScore,
		"tag_scores":    out.TagScores,
	})

	result := &ExecutionResult{Run: run}
	for _, m := range ta.Members {
		ev := models.LearningEvent{
			AgentID:              m.AgentID,
			TaskID:               taskID,
			Score:                out.OverallScore,
			Reward:               task.Reward,
			TagScores:            out.TagScores,
			RequiredCapabilities: task.RequiredCapabilities,
		}
		lr := LearningResult{AgentID: m.AgentID}
		agent, delta, err := s.ApplyLearningEvent(ctx, ev)
		if err != nil {
			log.Printf("Learning for agent %s on task %s failed: %v", m.AgentID, taskID, err)
			lr.Error = err.Error()
		} else {
			lr.Agent, lr.Delta = agent, &delta
		}
		result.Learning = append(result.Learning, lr)
	}

	result.Task, err = s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) handleExecFailure(ctx context.Context, task *models.Task, run *models.Run, execErr error, timedOut bool, elapsed time.Duration) error {
	const op = "task.execute"
	kind := models.KindOf(execErr)
	switch {
	case timedOut:
		execErr = &models.Error{Kind: models.KindPermanent, Op: op, Reason: "execution timed out", Err: ErrExecutionTimeout}
	case kind == models.KindTransient:
	case kind != models.KindPermanent:
		execErr = models.Permanent(op, execErr)
	}
	kind = models.KindOf(execErr)

	run.ErrorKind = kind
	run.Error = execErr.Error()
	run.Outcome = OutcomeFailed
	if kind == models.KindTransient {
		run.Outcome = OutcomeTransient
	}
	s.metrics.ObserveExecution(s.executor.Name(), run.Outcome, elapsed)
	if err := s.store.FinishRun(ctx, run); err != nil {
		log.Printf("Error finishing run %s: %v", run.ID, err)
	}
	if kind == models.KindTransient {
		return execErr
	}

	if err := s.store.CompleteTask(ctx, task.ID, models.TaskStatusFailed, s.opts.FailureReputation); err != nil {
		if errors.Is(err, models.ErrTaskConflict) {
			return models.Conflictf(op, "task %s was completed concurrently", task.ID)
		}
		return err
	}
	s.metrics.RecordTransition(models.TaskStatusFailed)
	s.record(ctx, audit.EventTaskFailed, task.ID, "", map[string]string{
		"run_id": run.ID,
		"error":  run.Error,
	})
	return execErr
}

// ApplyLearningEvent applies one feedback event to its agent. Duplicate
// events are reported as conflicts and change nothing.
func (s *Service) ApplyLearningEvent(ctx context.Context, ev models.LearningEvent) (*models.Agent, learning.Delta, error) {
	agent, delta, err := s.learner.Apply(ctx, ev)
	switch {
	case err == nil:
		s.metrics.RecordLearning("applied")
	case models.KindOf(err) == models.KindConflict:
		s.metrics.RecordLearning("conflict")
		return nil, delta, err
	default:
		s.metrics.RecordLearning("error")
		return nil, delta, err
	}
	s.record(ctx, audit.EventLearningApplied, ev.TaskID, ev.AgentID, map[string]any{
		"score": ev.Score,
		"delta": delta,
	})
	return agent, delta, nil
}

// FailTask moves an assigned task to failed without running the oracle,
// for callers that have given up on retrying. No learning is applied.
func (s *Service) FailTask(ctx context.Context, taskID, reason string) error {
	const op = "task.fail"
	if err := s.store.CompleteTask(ctx, taskID, models.TaskStatusFailed, s.opts.FailureReputation); err != nil {
		if errors.Is(err, models.ErrTaskConflict) {
			return models.Conflictf(op, "task %s is not assigned", taskID)
		}
		return err
	}
	s.metrics.RecordTransition(models.TaskStatusFailed)
	s.record(ctx, audit.EventTaskFailed, taskID, "", map[string]string{"error": reason})
	return nil
}
