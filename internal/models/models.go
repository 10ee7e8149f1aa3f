// Package models defines the core domain types for agora.
package models

import (
	"sort"
	"strings"
	"time"

	"github.com/fentz26/agora/internal/capability"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusAssigned, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Role classifies an agent inside a team.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleWorker      Role = "worker"
	RoleEvaluator   Role = "evaluator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCoordinator, RoleWorker, RoleEvaluator:
		return true
	}
	return false
}

// Bounds for the adaptive agent parameters.
const (
	MinReputation = 0
	MaxReputation = 100

	MinConfidence = 0.5
	MaxConfidence = 1.0

	MinRiskTolerance = 0.2
	MaxRiskTolerance = 0.8

	MinWorkloadSensitivity = 0.1
	MaxWorkloadSensitivity = 0.5

	MaxExplorationRate = 1.0

	MinPreference     = 0.0
	MaxPreference     = 100.0
	NeutralPreference = 50.0
)

// Agent is the versioned state record of a marketplace participant.
type Agent struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Role                Role               `json:"role"`
	Active              bool               `json:"active"`
	Reputation          int                `json:"reputation"`
	Workload            int                `json:"workload"`
	Capabilities        capability.Profile `json:"capabilities"`
	ConfidenceFactor    float64            `json:"confidence_factor"`
	RiskTolerance       float64            `json:"risk_tolerance"`
	WorkloadSensitivity float64            `json:"workload_sensitivity"`
	ExplorationRate     float64            `json:"exploration_rate"`
	TaskTypePreferences map[string]float64 `json:"task_type_preferences"`
	MinUtilityThreshold float64            `json:"min_utility_threshold"`
	MaxWorkload         int                `json:"max_workload"`
	RecentScores        []int              `json:"recent_scores,omitempty"`
	TasksCompleted      int                `json:"tasks_completed"`
	Version             int64              `json:"version"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so pure updates never alias the caller's maps.
func (a Agent) Clone() Agent {
	out := a
	out.Capabilities = a.Capabilities.Clone()
	out.TaskTypePreferences = make(map[string]float64, len(a.TaskTypePreferences))
	for k, v := range a.TaskTypePreferences {
		out.TaskTypePreferences[k] = v
	}
	out.RecentScores = append([]int(nil), a.RecentScores...)
	return out
}

// Preference returns the stored preference for a task-type key.
func (a Agent) Preference(key string) (float64, bool) {
	v, ok := a.TaskTypePreferences[key]
	return v, ok
}

// Validate checks that every bounded field is within range.
func (a Agent) Validate() error {
	const op = "agent.validate"
	if strings.TrimSpace(a.ID) == "" {
		return Validationf(op, "agent id is required")
	}
	if a.Reputation < MinReputation || a.Reputation > MaxReputation {
		return Validationf(op, "reputation %d outside [0,100]", a.Reputation)
	}
	if a.Workload < 0 {
		return Validationf(op, "workload %d is negative", a.Workload)
	}
	if !a.Role.Valid() {
		return Validationf(op, "unknown role %q", a.Role)
	}
	if skill, ok := a.Capabilities.Validate(); !ok {
		return Validationf(op, "capability %q weight %d outside [0,100]", skill, a.Capabilities[skill])
	}
	if !inRange(a.ConfidenceFactor, MinConfidence, MaxConfidence) {
		return Validationf(op, "confidence factor %.3f outside [%.1f,%.1f]", a.ConfidenceFactor, MinConfidence, MaxConfidence)
	}
	if !inRange(a.RiskTolerance, MinRiskTolerance, MaxRiskTolerance) {
		return Validationf(op, "risk tolerance %.3f outside [%.1f,%.1f]", a.RiskTolerance, MinRiskTolerance, MaxRiskTolerance)
	}
	if !inRange(a.WorkloadSensitivity, MinWorkloadSensitivity, MaxWorkloadSensitivity) {
		return Validationf(op, "workload sensitivity %.3f outside [%.1f,%.1f]", a.WorkloadSensitivity, MinWorkloadSensitivity, MaxWorkloadSensitivity)
	}
	if !inRange(a.ExplorationRate, 0, MaxExplorationRate) {
		return Validationf(op, "exploration rate %.3f outside [0,1]", a.ExplorationRate)
	}
	if !inRange(a.MinUtilityThreshold, 0, 100) {
		return Validationf(op, "min utility threshold %.1f outside [0,100]", a.MinUtilityThreshold)
	}
	for key, v := range a.TaskTypePreferences {
		if !inRange(v, MinPreference, MaxPreference) {
			return Validationf(op, "preference %q %.1f outside [0,100]", key, v)
		}
	}
	return nil
}

// Task is a discrete unit of work offered on the marketplace.
type Task struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	RequiredCapabilities []string   `json:"required_capabilities"`
	Reward               float64    `json:"reward"`
	MinReputation        int        `json:"min_reputation"`
	Complexity           int        `json:"complexity"`
	Urgency              int        `json:"urgency"`
	MinBid               float64    `json:"min_bid"`
	MaxBid               float64    `json:"max_bid"`
	Status               TaskStatus `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Validate checks a task before it is accepted onto the marketplace.
func (t Task) Validate() error {
	const op = "task.validate"
	if strings.TrimSpace(t.Title) == "" {
		return Validationf(op, "title is required")
	}
	if len(NormalizeSkills(t.RequiredCapabilities)) == 0 {
		return Validationf(op, "required capabilities must not be empty")
	}
	if t.Reward < 0 {
		return Validationf(op, "reward %.2f is negative", t.Reward)
	}
	if t.MinReputation < MinReputation || t.MinReputation > MaxReputation {
		return Validationf(op, "min reputation %d outside [0,100]", t.MinReputation)
	}
	if t.Complexity < 0 || t.Complexity > 100 {
		return Validationf(op, "complexity %d outside [0,100]", t.Complexity)
	}
	if t.Urgency < 0 || t.Urgency > 100 {
		return Validationf(op, "urgency %d outside [0,100]", t.Urgency)
	}
	if t.MinBid < 0 || t.MaxBid < t.MinBid {
		return Validationf(op, "bid bounds [%.2f,%.2f] are invalid", t.MinBid, t.MaxBid)
	}
	return nil
}

// NormalizeSkills trims, lower-cases, de-duplicates and sorts skill tags so
// derived keys are stable.
func NormalizeSkills(skills []string) []string {
	seen := make(map[string]bool, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Bid is an agent's ephemeral decision about one task.
type Bid struct {
	AgentID   string           `json:"agent_id"`
	TaskID    string           `json:"task_id"`
	Submit    bool             `json:"submit"`
	Amount    float64          `json:"amount"`
	Utility   float64          `json:"utility"`
	Reason    string           `json:"reason"`
	Breakdown UtilityBreakdown `json:"breakdown"`
	CreatedAt time.Time        `json:"created_at"`
}

// UtilityBreakdown exposes the additive parts of a utility score.
type UtilityBreakdown struct {
	CapabilityMatch  float64 `json:"capability_match"`
	WorkloadPenalty  float64 `json:"workload_penalty"`
	PreferenceBoost  float64 `json:"preference_boost"`
	ExplorationNoise float64 `json:"exploration_noise"`
	Explored         bool    `json:"explored"`
	Reward           float64 `json:"reward"`
	Utility          float64 `json:"utility"`
}

// LearningEvent is the outcome of one evaluated task for one agent.
type LearningEvent struct {
	AgentID              string         `json:"agent_id"`
	TaskID               string         `json:"task_id"`
	Score                int            `json:"score"`
	Reward               float64        `json:"reward"`
	TagScores            map[string]int `json:"tag_scores"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	AppliedAt            time.Time      `json:"applied_at"`
}

// Key identifies the event for idempotence.
func (e LearningEvent) Key() string {
	return e.AgentID + "/" + e.TaskID
}

// Validate rejects malformed feedback before any state is touched.
func (e LearningEvent) Validate() error {
	const op = "learning.validate"
	if e.AgentID == "" || e.TaskID == "" {
		return Validationf(op, "agent id and task id are required")
	}
	if e.Score < 0 || e.Score > 100 {
		return Validationf(op, "score %d outside [0,100]", e.Score)
	}
	for tag, s := range e.TagScores {
		if s < 0 || s > 100 {
			return Validationf(op, "tag %q score %d outside [0,100]", tag, s)
		}
	}
	return nil
}

// AssignmentMode records how a task was assigned.
type AssignmentMode string

const (
	ModeAuction AssignmentMode = "auction"
	ModeTeam    AssignmentMode = "team"
)

// TeamMember is one selected agent and its role.
type TeamMember struct {
	AgentID   string  `json:"agent_id"`
	Role      Role    `json:"role"`
	Score     float64 `json:"score"`
	BidAmount float64 `json:"bid_amount,omitempty"`
}

// TeamAssignment is the immutable result of assigning a task.
type TeamAssignment struct {
	TaskID        string         `json:"task_id"`
	Members       []TeamMember   `json:"members"`
	CoverageRatio float64        `json:"coverage_ratio"`
	Mode          AssignmentMode `json:"mode"`
	Reason        string         `json:"reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AgentIDs returns member ids in team order.
func (t TeamAssignment) AgentIDs() []string {
	ids := make([]string, len(t.Members))
	for i, m := range t.Members {
		ids[i] = m.AgentID
	}
	return ids
}

// Run represents one execution attempt of an assigned task.
type Run struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	Executor     string         `json:"executor"`
	AgentIDs     []string       `json:"agent_ids"`
	Outcome      string         `json:"outcome"`
	OverallScore int            `json:"overall_score"`
	TagScores    map[string]int `json:"tag_scores,omitempty"`
	Result       string         `json:"result,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      time.Time      `json:"ended_at"`
}

// AuditEntry is one record in the audit trail.
type AuditEntry struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type"`
	PayloadHash string    `json:"payload_hash"`
	Payload     string    `json:"payload"`
	TaskID      string    `json:"task_id,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
