package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fentz26/agora/internal/models"
	"github.com/google/uuid"
)

const taskColumns = `id, title, description, required_capabilities, reward, min_reputation, complexity,
	urgency, min_bid, max_bid, status, created_at, updated_at`

// --- Task Operations ---

// CreateTask inserts a new open task. An empty ID is assigned a UUID.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.RequiredCapabilities = models.NormalizeSkills(t.RequiredCapabilities)
	t.Status = models.TaskStatusOpen
	t.CreatedAt, t.UpdatedAt = now, now

	required, err := encodeJSON(t.RequiredCapabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, required, t.Reward, t.MinReputation, t.Complexity,
		t.Urgency, t.MinBid, t.MaxBid, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. It returns nil, nil when absent.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ListOpenTasks returns open tasks, oldest first.
func (s *Store) ListOpenTasks(ctx context.Context) ([]models.Task, error) {
	tasks, err := s.ListTasks(ctx, models.TaskStatusOpen)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(tasks)-1; i < j; i, j = i+1, j-1 {
		tasks[i], tasks[j] = tasks[j], tasks[i]
	}
	return tasks, nil
}

// TransitionTask moves a task from one status to another. It reports false
// when the task was not in the from status.
func (s *Store) TransitionTask(ctx context.Context, id string, from, to models.TaskStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}

// --- Assignment Operations ---

// AssignTask atomically moves the task from open to assigned, records the
// members and increments their workload. It returns models.ErrTaskConflict
// when the task is no longer open; nothing is persisted in that case.
func (s *Store) AssignTask(ctx context.Context, ta models.TeamAssignment) error {
	if len(ta.Members) == 0 {
		return fmt.Errorf("assign task %s: no members", ta.TaskID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TaskStatusAssigned, now, ta.TaskID, models.TaskStatusOpen,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrTaskConflict
	}

	if ta.CreatedAt.IsZero() {
		ta.CreatedAt = now
	}
	for i, m := range ta.Members {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO assignments (task_id, agent_id, position, role, score, bid_amount, mode, coverage_ratio, reason, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ta.TaskID, m.AgentID, i, m.Role, m.Score, m.BidAmount, ta.Mode, ta.CoverageRatio, ta.Reason, ta.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}

		result, err = tx.ExecContext(ctx,
			`UPDATE agents SET workload = workload + 1, updated_at = ? WHERE id = ?`,
			now, m.AgentID,
		)
		if err != nil {
			return fmt.Errorf("update workload: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil || n == 0 {
			return fmt.Errorf("update workload: agent %s not found", m.AgentID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetAssignment returns the persisted assignment for a task, or nil, nil.
func (s *Store) GetAssignment(ctx context.Context, taskID string) (*models.TeamAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, role, score, bid_amount, mode, coverage_ratio, reason, created_at
		 FROM assignments WHERE task_id = ? ORDER BY position`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query assignment: %w", err)
	}
	defer rows.Close()

	var ta *models.TeamAssignment
	for rows.Next() {
		var m models.TeamMember
		var mode models.AssignmentMode
		var coverage float64
		var reason string
		var createdAt time.Time
		if err := rows.Scan(&m.AgentID, &m.Role, &m.Score, &m.BidAmount, &mode, &coverage, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		if ta == nil {
			ta = &models.TeamAssignment{TaskID: taskID, Mode: mode, CoverageRatio: coverage, Reason: reason, CreatedAt: createdAt}
		}
		ta.Members = append(ta.Members, m)
	}
	return ta, rows.Err()
}

// CompleteTask atomically moves an assigned task to a terminal status,
// releases the members' workload and applies reputationDelta to each of
// them. It returns models.ErrTaskConflict when the task is not assigned.
func (s *Store) CompleteTask(ctx context.Context, taskID string, to models.TaskStatus, reputationDelta int) error {
	if to != models.TaskStatusCompleted && to != models.TaskStatusFailed {
		return fmt.Errorf("complete task %s: invalid status %s", taskID, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, now, taskID, models.TaskStatusAssigned,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrTaskConflict
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE agents SET
		   workload = MAX(0, workload - 1),
		   reputation = MIN(?, MAX(?, reputation + ?)),
		   updated_at = ?
		 WHERE id IN (SELECT agent_id FROM assignments WHERE task_id = ?)`,
		models.MaxReputation, models.MinReputation, reputationDelta, now, taskID,
	)
	if err != nil {
		return fmt.Errorf("release members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var required string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &required, &t.Reward, &t.MinReputation, &t.Complexity,
		&t.Urgency, &t.MinBid, &t.MaxBid, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(required, &t.RequiredCapabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	return &t, nil
}
