package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/agora/internal/audit"
	"github.com/fentz26/agora/internal/bidding"
	"github.com/fentz26/agora/internal/connectors"
	"github.com/fentz26/agora/internal/controlplane"
	"github.com/fentz26/agora/internal/learning"
	"github.com/fentz26/agora/internal/models"
	"github.com/fentz26/agora/internal/store"
	"github.com/fentz26/agora/internal/utility"
)

// mockExecutor returns a scripted outcome, or blocks until its context ends.
type mockExecutor struct {
	mu      sync.Mutex
	err     error
	block   bool
	calls   int
	running int
	peak    int
}

func (m *mockExecutor) Name() string { return "mock" }

func (m *mockExecutor) Execute(ctx context.Context, req connectors.Request) (*connectors.Outcome, error) {
	m.mu.Lock()
	m.calls++
	m.running++
	if m.running > m.peak {
		m.peak = m.running
	}
	err, block := m.err, m.block
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return nil, models.Transient("mock.execute", ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	return &connectors.Outcome{
		Result:       "done",
		OverallScore: 80,
		TagScores:    map[string]int{"go": 85},
	}, nil
}

func (m *mockExecutor) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var errUnavailable = models.Transient("mock.execute", errors.New("service unavailable"))

func newTestScheduler(t *testing.T, exec connectors.Executor, cfg *Config) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ledger := audit.NewSQLWriter(st)
	lcfg := learning.DefaultConfig()
	lcfg.MinExplorationRate = 0
	svc, err := controlplane.NewService(st, ledger, exec, nil, controlplane.Engines{
		Utility:  utility.NewEngine(nil, utility.NewRand(1)),
		Policy:   bidding.NewPolicy(nil, utility.NewRand(2)),
		Learning: learning.NewEngine(lcfg),
	})
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.BaseBackoff = 0
	}
	sch := New(svc, st, ledger, cfg)
	t.Cleanup(sch.cancel)

	zero, sensitivity, workload := 0.0, 0.1, 10
	if _, err := svc.RegisterAgent(context.Background(), controlplane.AgentSpec{
		ID:                  "a1",
		Capabilities:        map[string]int{"go": 90},
		ExplorationRate:     &zero,
		WorkloadSensitivity: &sensitivity,
		MaxWorkload:         &workload,
	}); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	return sch, st
}

func createTask(t *testing.T, sch *Scheduler, caps ...string) string {
	t.Helper()
	task, err := sch.service.CreateTask(context.Background(), models.Task{
		Title:                "Scheduled work",
		RequiredCapabilities: caps,
		Reward:               100,
		MinBid:               10,
		MaxBid:               110,
	})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	return task.ID
}

func taskStatus(t *testing.T, st *store.Store, id string) models.TaskStatus {
	t.Helper()
	task, err := st.GetTask(context.Background(), id)
	if err != nil || task == nil {
		t.Fatalf("GetTask(%s) failed: %v", id, err)
	}
	return task.Status
}

// tick runs one poll and waits for the workers it started.
func tick(sch *Scheduler) {
	sch.assignOpen()
	sch.pollAndDispatch()
	sch.wg.Wait()
}

func TestScheduler_AssignsAndExecutes(t *testing.T) {
	exec := &mockExecutor{}
	sch, st := newTestScheduler(t, exec, nil)
	id := createTask(t, sch, "go")

	sch.assignOpen()
	if got := taskStatus(t, st, id); got != models.TaskStatusAssigned {
		t.Fatalf("Expected task assigned after auto-assign, got %s", got)
	}

	sch.pollAndDispatch()
	sch.wg.Wait()

	if got := taskStatus(t, st, id); got != models.TaskStatusCompleted {
		t.Errorf("Expected task completed, got %s", got)
	}
	if exec.callCount() != 1 {
		t.Errorf("Expected 1 execution, got %d", exec.callCount())
	}

	a, err := st.GetAgent(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if a.TasksCompleted != 1 || a.Workload != 0 {
		t.Errorf("Expected agent to record the completion, got completed=%d workload=%d", a.TasksCompleted, a.Workload)
	}
}

func TestScheduler_UnassignableTaskStaysOpen(t *testing.T) {
	sch, st := newTestScheduler(t, &mockExecutor{}, nil)
	id := createTask(t, sch, "rust")

	tick(sch)
	tick(sch)

	if got := taskStatus(t, st, id); got != models.TaskStatusOpen {
		t.Errorf("Expected task to stay open, got %s", got)
	}
	if got := sch.GetStats()["unassignable"]; got != 1 {
		t.Errorf("Expected 1 unassignable task, got %v", got)
	}
}

func TestScheduler_RespectsExecutorLimit(t *testing.T) {
	exec := &mockExecutor{block: true}
	cfg := DefaultConfig()
	cfg.ByExecutor = map[string]int{"mock": 2}
	sch, st := newTestScheduler(t, exec, cfg)

	for i := 0; i < 4; i++ {
		createTask(t, sch, "go")
	}
	sch.assignOpen()
	sch.pollAndDispatch()

	deadline := time.Now().Add(2 * time.Second)
	for exec.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stats := sch.GetStats()
	if stats["active_workers"] != 2 {
		t.Errorf("Expected 2 active workers, got %v", stats["active_workers"])
	}
	if counts := stats["executor_counts"].(map[string]int); counts["mock"] != 2 {
		t.Errorf("Expected 2 mock workers, got %v", counts)
	}

	// A second poll must not exceed the limit.
	sch.pollAndDispatch()
	sch.cancel()
	sch.wg.Wait()

	if exec.peak > 2 {
		t.Errorf("Executor limit exceeded: peak %d", exec.peak)
	}
	if exec.callCount() != 2 {
		t.Errorf("Expected 2 executions, got %d", exec.callCount())
	}

	// Interrupted work stays assigned.
	tasks, err := st.ListTasks(context.Background(), models.TaskStatusAssigned)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 4 {
		t.Errorf("Expected 4 assigned tasks, got %d", len(tasks))
	}
}

func TestScheduler_RespectsGlobalMax(t *testing.T) {
	exec := &mockExecutor{block: true}
	cfg := DefaultConfig()
	cfg.GlobalMax = 1
	cfg.ByExecutor = map[string]int{"mock": 5}
	sch, _ := newTestScheduler(t, exec, cfg)

	createTask(t, sch, "go")
	createTask(t, sch, "go")
	sch.assignOpen()
	sch.pollAndDispatch()
	sch.pollAndDispatch()

	if got := sch.GetStats()["active_workers"]; got != 1 {
		t.Errorf("Expected 1 active worker, got %v", got)
	}
	sch.cancel()
	sch.wg.Wait()
}

func TestScheduler_RetriesTransientFailure(t *testing.T) {
	exec := &mockExecutor{err: errUnavailable}
	sch, st := newTestScheduler(t, exec, nil)
	id := createTask(t, sch, "go")

	tick(sch)
	if got := taskStatus(t, st, id); got != models.TaskStatusAssigned {
		t.Fatalf("Expected task to stay assigned after transient failure, got %s", got)
	}
	if got := sch.GetStats()["retrying"]; got != 1 {
		t.Errorf("Expected 1 retrying task, got %v", got)
	}

	exec.setErr(nil)
	tick(sch)

	if got := taskStatus(t, st, id); got != models.TaskStatusCompleted {
		t.Errorf("Expected task completed on retry, got %s", got)
	}
	if exec.callCount() != 2 {
		t.Errorf("Expected 2 executions, got %d", exec.callCount())
	}
	if got := sch.GetStats()["retrying"]; got != 0 {
		t.Errorf("Expected retry state cleared, got %v", got)
	}

	entries, err := st.ListAudit(context.Background(), id, 50)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	var retries int
	for _, e := range entries {
		if e.EventType == audit.EventExecutionRetry {
			retries++
		}
	}
	if retries != 1 {
		t.Errorf("Expected 1 retry audit entry, got %d", retries)
	}
}

func TestScheduler_WaitsForBackoff(t *testing.T) {
	exec := &mockExecutor{err: errUnavailable}
	cfg := DefaultConfig()
	cfg.BaseBackoff = time.Hour
	cfg.MaxBackoff = 2 * time.Hour
	sch, _ := newTestScheduler(t, exec, cfg)
	createTask(t, sch, "go")

	tick(sch)
	tick(sch)
	if exec.callCount() != 1 {
		t.Fatalf("Expected no dispatch during backoff, got %d calls", exec.callCount())
	}

	sch.now = func() time.Time { return time.Now().Add(90 * time.Minute) }
	tick(sch)
	if exec.callCount() != 2 {
		t.Errorf("Expected dispatch after backoff elapsed, got %d calls", exec.callCount())
	}
}

func TestScheduler_FailsAfterMaxAttempts(t *testing.T) {
	exec := &mockExecutor{err: errUnavailable}
	cfg := DefaultConfig()
	cfg.BaseBackoff = 0
	cfg.MaxAttempts = 3
	sch, st := newTestScheduler(t, exec, cfg)
	id := createTask(t, sch, "go")

	for i := 0; i < 5; i++ {
		tick(sch)
	}

	if got := taskStatus(t, st, id); got != models.TaskStatusFailed {
		t.Errorf("Expected task failed after retries, got %s", got)
	}
	if exec.callCount() != 3 {
		t.Errorf("Expected 3 executions, got %d", exec.callCount())
	}
	a, err := st.GetAgent(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if a.Workload != 0 {
		t.Errorf("Expected workload released, got %d", a.Workload)
	}
}

func TestScheduler_PermanentFailureIsNotRetried(t *testing.T) {
	exec := &mockExecutor{err: models.Permanent("mock.execute", errors.New("bad input"))}
	sch, st := newTestScheduler(t, exec, nil)
	id := createTask(t, sch, "go")

	tick(sch)
	tick(sch)

	if got := taskStatus(t, st, id); got != models.TaskStatusFailed {
		t.Errorf("Expected task failed, got %s", got)
	}
	if exec.callCount() != 1 {
		t.Errorf("Expected 1 execution, got %d", exec.callCount())
	}
}

func TestScheduler_StartStop(t *testing.T) {
	exec := &mockExecutor{}
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	sch, st := newTestScheduler(t, exec, cfg)
	id := createTask(t, sch, "go")

	sch.Start()
	deadline := time.Now().Add(3 * time.Second)
	for taskStatus(t, st, id) != models.TaskStatusCompleted && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sch.Stop()

	if got := taskStatus(t, st, id); got != models.TaskStatusCompleted {
		t.Errorf("Expected task completed by the running scheduler, got %s", got)
	}
}

func TestBackoff(t *testing.T) {
	cfg := &Config{BaseBackoff: 2 * time.Second, MaxBackoff: time.Minute}
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},
		{20, time.Minute},
	}
	for _, tt := range tests {
		if got := cfg.Backoff(tt.failures); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.failures, got, tt.want)
		}
	}
}

func TestGetExecutorLimit(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetExecutorLimit("localexec"); got != 5 {
		t.Errorf("Expected localexec limit 5, got %d", got)
	}
	if got := cfg.GetExecutorLimit("unknown"); got != 1 {
		t.Errorf("Expected default limit 1, got %d", got)
	}
}
