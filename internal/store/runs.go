package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fentz26/agora/internal/models"
	"github.com/google/uuid"
)

// --- Run Operations ---

// CreateRun inserts a new run record for an execution attempt.
func (s *Store) CreateRun(ctx context.Context, taskID, executor string, agentIDs []string) (*models.Run, error) {
	run := &models.Run{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Executor:  executor,
		AgentIDs:  agentIDs,
		StartedAt: time.Now().UTC(),
	}
	ids, err := encodeJSON(agentIDs)
	if err != nil {
		return nil, fmt.Errorf("encode agent ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, task_id, executor, agent_ids, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.TaskID, run.Executor, ids, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, run *models.Run) error {
	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now().UTC()
	}
	tags, err := encodeJSON(run.TagScores)
	if err != nil {
		return fmt.Errorf("encode tag scores: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET outcome = ?, overall_score = ?, tag_scores = ?, result = ?, error_kind = ?, error = ?, ended_at = ? WHERE id = ?`,
		run.Outcome, run.OverallScore, tags, run.Result, run.ErrorKind, run.Error, run.EndedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// GetRunsForTask returns all runs for a task, newest first.
func (s *Store) GetRunsForTask(ctx context.Context, taskID string) ([]models.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, executor, agent_ids, outcome, overall_score, tag_scores, result, error_kind, error, started_at, ended_at
		 FROM runs WHERE task_id = ? ORDER BY started_at DESC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		var ids, tags string
		var endedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.TaskID, &run.Executor, &ids, &run.Outcome, &run.OverallScore, &tags,
			&run.Result, &run.ErrorKind, &run.Error, &run.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := decodeJSON(ids, &run.AgentIDs); err != nil {
			return nil, fmt.Errorf("decode agent ids: %w", err)
		}
		if err := decodeJSON(tags, &run.TagScores); err != nil {
			return nil, fmt.Errorf("decode tag scores: %w", err)
		}
		if endedAt.Valid {
			run.EndedAt = endedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Audit Operations ---

// WriteAudit inserts an audit entry and returns it with its id and time set.
func (s *Store) WriteAudit(ctx context.Context, eventType, payloadHash, payload, taskID, agentID string) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{
		ID:          uuid.New().String(),
		EventType:   eventType,
		PayloadHash: payloadHash,
		Payload:     payload,
		TaskID:      taskID,
		AgentID:     agentID,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.InsertAudit(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// InsertAudit stores entry as given. Missing ids and times are filled in.
func (s *Store) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (id, event_type, payload_hash, payload, task_id, agent_id, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EventType, entry.PayloadHash, entry.Payload, entry.TaskID, entry.AgentID, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// ListAudit returns recent audit entries, optionally for a single task.
func (s *Store) ListAudit(ctx context.Context, taskID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, event_type, payload_hash, payload, task_id, agent_id, timestamp FROM audit`
	var args []any
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.PayloadHash, &e.Payload, &e.TaskID, &e.AgentID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
