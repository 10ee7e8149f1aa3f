package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fentz26/agora/internal/audit"
	"github.com/fentz26/agora/internal/controlplane"
	"github.com/fentz26/agora/internal/metrics"
	"github.com/fentz26/agora/internal/models"
	"github.com/fentz26/agora/internal/store"
)

type retryState struct {
	failures int
	next     time.Time
}

// Scheduler manages task assignment and the execution worker pool.
type Scheduler struct {
	service *controlplane.Service
	store   *store.Store
	ledger  audit.Ledger
	metrics *metrics.Collector
	config  *Config

	// Worker pool state
	mu             sync.Mutex
	activeWorkers  int
	executorCounts map[string]int
	inFlight       map[string]bool
	retries        map[string]*retryState
	unassignable   map[string]bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New creates a new scheduler.
func New(svc *controlplane.Service, s *store.Store, ledger audit.Ledger, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		service:        svc,
		store:          s,
		ledger:         ledger,
		config:         cfg,
		executorCounts: make(map[string]int),
		inFlight:       make(map[string]bool),
		retries:        make(map[string]*retryState),
		unassignable:   make(map[string]bool),
		ctx:            ctx,
		cancel:         cancel,
		now:            time.Now,
	}
}

// SetMetrics attaches a metrics collector.
func (sch *Scheduler) SetMetrics(m *metrics.Collector) {
	sch.metrics = m
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.schedulerLoop()
	log.Println("Scheduler started")
}

// Stop gracefully stops the scheduler. In-flight executions are cancelled
// and their tasks stay assigned.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	log.Println("Scheduler stopped")
}

// schedulerLoop polls for open and assigned tasks.
func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			if sch.config.AutoAssign {
				sch.assignOpen()
			}
			sch.pollAndDispatch()
		}
	}
}

// assignOpen runs an auction or team selection for each open task, oldest
// first. Unassignable tasks stay open and are retried on the next poll.
func (sch *Scheduler) assignOpen() {
	tasks, err := sch.store.ListOpenTasks(sch.ctx)
	if err != nil {
		log.Printf("Error listing open tasks: %v", err)
		return
	}
	for _, task := range tasks {
		if sch.ctx.Err() != nil {
			return
		}
		ta, err := sch.service.AutoAssign(sch.ctx, task.ID)
		switch models.KindOf(err) {
		case "":
			if err != nil {
				log.Printf("Error assigning task %s: %v", task.ID, err)
				continue
			}
			sch.mu.Lock()
			delete(sch.unassignable, task.ID)
			sch.mu.Unlock()
			log.Printf("Assigned task %s (%s) by %s to %d agent(s)", task.ID, task.Title, ta.Mode, len(ta.Members))
		case models.KindCapacity:
			sch.mu.Lock()
			first := !sch.unassignable[task.ID]
			sch.unassignable[task.ID] = true
			sch.mu.Unlock()
			if first {
				log.Printf("Task %s is unassignable for now: %s", task.ID, models.ReasonOf(err))
			}
		case models.KindConflict:
			// Assigned or cancelled by another caller.
		default:
			log.Printf("Error assigning task %s: %v", task.ID, err)
		}
	}
}

// pollAndDispatch hands assigned tasks to workers while capacity allows.
func (sch *Scheduler) pollAndDispatch() {
	exec := sch.service.Executor()
	if exec == nil {
		return
	}
	name := exec.Name()

	tasks, err := sch.store.ListTasks(sch.ctx, models.TaskStatusAssigned)
	if err != nil {
		log.Printf("Error listing assigned tasks: %v", err)
		return
	}

	// ListTasks is newest first; dispatch oldest first.
	for i := len(tasks) - 1; i >= 0; i-- {
		task := tasks[i]
		if !sch.claim(task.ID, name) {
			continue
		}
		log.Printf("Dispatched task %s (%s) to %s", task.ID, task.Title, name)

		sch.wg.Add(1)
		go sch.runWorker(task, name)
	}
}

// claim reserves a worker slot for taskID if limits, backoff and in-flight
// state allow it.
func (sch *Scheduler) claim(taskID, executor string) bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if sch.activeWorkers >= sch.config.GlobalMax {
		return false
	}
	if sch.executorCounts[executor] >= sch.config.GetExecutorLimit(executor) {
		return false
	}
	if sch.inFlight[taskID] {
		return false
	}
	if r, ok := sch.retries[taskID]; ok && sch.now().Before(r.next) {
		return false
	}

	sch.inFlight[taskID] = true
	sch.activeWorkers++
	sch.executorCounts[executor]++
	sch.metrics.SetActiveWorkers(sch.activeWorkers)
	return true
}

// runWorker executes one attempt of a task.
func (sch *Scheduler) runWorker(task models.Task, executor string) {
	defer sch.wg.Done()
	defer func() {
		sch.mu.Lock()
		delete(sch.inFlight, task.ID)
		sch.activeWorkers--
		sch.executorCounts[executor]--
		sch.metrics.SetActiveWorkers(sch.activeWorkers)
		sch.mu.Unlock()
	}()

	result, err := sch.service.ExecuteTask(sch.ctx, task.ID)
	if err == nil {
		sch.clearRetry(task.ID)
		log.Printf("Task %s completed with score %d", task.ID, result.Run.OverallScore)
		return
	}

	switch models.KindOf(err) {
	case models.KindTransient:
		if sch.ctx.Err() != nil {
			log.Printf("Worker interrupted, task %s stays assigned", task.ID)
			return
		}
		sch.retry(task, executor, err)
	case models.KindConflict:
		sch.clearRetry(task.ID)
	default:
		sch.clearRetry(task.ID)
		log.Printf("Task %s failed: %v", task.ID, err)
	}
}

// retry schedules the next attempt with exponential backoff, or fails the
// task once MaxAttempts is reached.
func (sch *Scheduler) retry(task models.Task, executor string, cause error) {
	sch.mu.Lock()
	r, ok := sch.retries[task.ID]
	if !ok {
		r = &retryState{}
		sch.retries[task.ID] = r
	}
	r.failures++
	failures := r.failures
	wait := sch.config.Backoff(failures)
	r.next = sch.now().Add(wait)
	sch.mu.Unlock()

	if sch.config.MaxAttempts > 0 && failures >= sch.config.MaxAttempts {
		sch.clearRetry(task.ID)
		reason := fmt.Sprintf("gave up after %d attempts: %v", failures, cause)
		if err := sch.service.FailTask(sch.ctx, task.ID, reason); err != nil {
			log.Printf("Error failing task %s: %v", task.ID, err)
			return
		}
		log.Printf("Task %s failed: %s", task.ID, reason)
		return
	}

	sch.metrics.RecordRetry(executor)
	audit.Record(sch.ctx, sch.ledger, audit.Event{
		Type:   audit.EventExecutionRetry,
		TaskID: task.ID,
		Payload: map[string]any{
			"attempt": failures,
			"backoff": wait.String(),
			"error":   cause.Error(),
		},
	})
	log.Printf("Task %s attempt %d failed transiently, retrying in %s: %v", task.ID, failures, wait, cause)
}

func (sch *Scheduler) clearRetry(taskID string) {
	sch.mu.Lock()
	delete(sch.retries, taskID)
	sch.mu.Unlock()
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() map[string]interface{} {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	executorCounts := make(map[string]int)
	for k, v := range sch.executorCounts {
		executorCounts[k] = v
	}

	return map[string]interface{}{
		"active_workers":  sch.activeWorkers,
		"global_max":      sch.config.GlobalMax,
		"executor_counts": executorCounts,
		"retrying":        len(sch.retries),
		"unassignable":    len(sch.unassignable),
	}
}
