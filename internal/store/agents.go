package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/agora/internal/capability"
	"github.com/fentz26/agora/internal/models"
	"github.com/google/uuid"
)

// ErrAgentExists indicates an agent with the same id is already registered.
var ErrAgentExists = errors.New("agent already exists")

const agentColumns = `id, name, role, active, reputation, workload, capabilities, confidence_factor,
	risk_tolerance, workload_sensitivity, exploration_rate, task_type_preferences, min_utility_threshold,
	max_workload, recent_scores, tasks_completed, version, created_at, updated_at`

// --- Agent Operations ---

// CreateAgent inserts a new agent. An empty ID is assigned a UUID.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt, a.UpdatedAt = now, now

	caps, prefs, scores, err := encodeAgentMaps(*a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Role, a.Active, a.Reputation, a.Workload, caps, a.ConfidenceFactor,
		a.RiskTolerance, a.WorkloadSensitivity, a.ExplorationRate, prefs, a.MinUtilityThreshold,
		a.MaxWorkload, scores, a.TasksCompleted, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAgentExists
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID. It returns nil, nil when absent.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}
	return a, nil
}

// ListAgents returns agents ordered by id, optionally only active ones.
func (s *Store) ListAgents(ctx context.Context, activeOnly bool) ([]models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// SaveAgent writes the configurable and learned fields of a, provided the
// stored version equals expectedVersion. Workload, reputation and the active
// flag have their own writers and are not touched here.
func (s *Store) SaveAgent(ctx context.Context, a models.Agent, expectedVersion int64) error {
	return saveAgentTx(ctx, s.db, a, expectedVersion)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveAgentTx(ctx context.Context, db execer, a models.Agent, expectedVersion int64) error {
	caps, prefs, scores, err := encodeAgentMaps(a)
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx,
		`UPDATE agents SET name = ?, role = ?, capabilities = ?, confidence_factor = ?,
		 risk_tolerance = ?, workload_sensitivity = ?, exploration_rate = ?, task_type_preferences = ?,
		 min_utility_threshold = ?, max_workload = ?, recent_scores = ?, tasks_completed = ?,
		 version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		a.Name, a.Role, caps, a.ConfidenceFactor,
		a.RiskTolerance, a.WorkloadSensitivity, a.ExplorationRate, prefs,
		a.MinUtilityThreshold, a.MaxWorkload, scores, a.TasksCompleted,
		a.Version, time.Now().UTC(),
		a.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// SetAgentActive activates or deactivates an agent. It reports false when
// the agent does not exist.
func (s *Store) SetAgentActive(ctx context.Context, id string, active bool) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("update agent active: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}

// --- Learning Event Operations ---

// HasLearningEvent reports whether the (agent, task) event was applied.
func (s *Store) HasLearningEvent(ctx context.Context, agentID, taskID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM learning_events WHERE agent_id = ? AND task_id = ?`,
		agentID, taskID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query learning event: %w", err)
	}
	return n > 0, nil
}

// ApplyLearningEvent records the event key and saves the updated agent in a
// single transaction. A replayed key returns models.ErrDuplicateEvent and a
// stale version returns models.ErrVersionConflict; neither persists anything.
func (s *Store) ApplyLearningEvent(ctx context.Context, ev models.LearningEvent, updated models.Agent, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	tags, err := encodeJSON(ev.TagScores)
	if err != nil {
		return fmt.Errorf("encode tag scores: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO learning_events (agent_id, task_id, score, reward, tag_scores, applied_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.AgentID, ev.TaskID, ev.Score, ev.Reward, tags, ev.AppliedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateEvent
		}
		return fmt.Errorf("insert learning event: %w", err)
	}

	if err := saveAgentTx(ctx, tx, updated, expectedVersion); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListLearningEvents returns the applied events for an agent, newest first.
func (s *Store) ListLearningEvents(ctx context.Context, agentID string) ([]models.LearningEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, task_id, score, reward, tag_scores, applied_at FROM learning_events WHERE agent_id = ? ORDER BY applied_at DESC`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query learning events: %w", err)
	}
	defer rows.Close()

	var events []models.LearningEvent
	for rows.Next() {
		var ev models.LearningEvent
		var tags string
		if err := rows.Scan(&ev.AgentID, &ev.TaskID, &ev.Score, &ev.Reward, &tags, &ev.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan learning event: %w", err)
		}
		if err := decodeJSON(tags, &ev.TagScores); err != nil {
			return nil, fmt.Errorf("decode tag scores: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var caps, prefs, scores string
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Active, &a.Reputation, &a.Workload, &caps, &a.ConfidenceFactor,
		&a.RiskTolerance, &a.WorkloadSensitivity, &a.ExplorationRate, &prefs, &a.MinUtilityThreshold,
		&a.MaxWorkload, &scores, &a.TasksCompleted, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Capabilities = capability.Profile{}
	a.TaskTypePreferences = map[string]float64{}
	if err := decodeJSON(caps, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if err := decodeJSON(prefs, &a.TaskTypePreferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	if err := decodeJSON(scores, &a.RecentScores); err != nil {
		return nil, fmt.Errorf("decode recent scores: %w", err)
	}
	return &a, nil
}

func encodeAgentMaps(a models.Agent) (caps, prefs, scores string, err error) {
	if a.Capabilities == nil {
		a.Capabilities = capability.Profile{}
	}
	if a.TaskTypePreferences == nil {
		a.TaskTypePreferences = map[string]float64{}
	}
	if a.RecentScores == nil {
		a.RecentScores = []int{}
	}
	if caps, err = encodeJSON(a.Capabilities); err != nil {
		return "", "", "", fmt.Errorf("encode capabilities: %w", err)
	}
	if prefs, err = encodeJSON(a.TaskTypePreferences); err != nil {
		return "", "", "", fmt.Errorf("encode preferences: %w", err)
	}
	if scores, err = encodeJSON(a.RecentScores); err != nil {
		return "", "", "", fmt.Errorf("encode recent scores: %w", err)
	}
	return caps, prefs, scores, nil
}
