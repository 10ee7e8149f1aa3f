// Package audit records decision events to append-only ledgers.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/fentz26/agora/internal/models"
	"github.com/google/uuid"
)

// Event types written by the control plane.
const (
	EventAgentRegistered  = "agent.registered"
	EventAgentUpdated     = "agent.updated"
	EventAgentDeactivated = "agent.deactivated"
	EventTaskCreated      = "task.created"
	EventTaskCancelled    = "task.cancelled"
	EventBidsEvaluated    = "bids.evaluated"
	EventTaskAssigned     = "task.assigned"
	EventTaskCompleted    = "task.completed"
	EventTaskFailed       = "task.failed"
	EventExecutionRetry   = "execution.retry"
	EventLearningApplied  = "learning.applied"
)

// Event is one decision to be recorded.
type Event struct {
	Type    string
	TaskID  string
	AgentID string
	Payload any
}

// Ledger is an append-only audit sink.
type Ledger interface {
	RecordEvent(ctx context.Context, ev Event) (string, error)
}

// EntryWriter is a ledger that can store an entry built elsewhere, so
// several sinks share one id and timestamp.
type EntryWriter interface {
	RecordEntry(ctx context.Context, entry models.AuditEntry) (string, error)
}

// Record writes ev to l and only logs a failure. The caller's own state is
// authoritative, so a ledger error never propagates.
func Record(ctx context.Context, l Ledger, ev Event) string {
	if l == nil {
		return ""
	}
	id, err := l.RecordEvent(ctx, ev)
	if err != nil {
		log.Printf("audit: failed to record %s (task=%s agent=%s): %v", ev.Type, ev.TaskID, ev.AgentID, err)
		return ""
	}
	return id
}

// Entry builds the stored form of ev with a payload hash for reproducibility.
func Entry(ev Event) (models.AuditEntry, error) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return models.AuditEntry{}, err
	}
	hash := sha256.Sum256(data)
	return models.AuditEntry{
		ID:          uuid.New().String(),
		EventType:   ev.Type,
		PayloadHash: hex.EncodeToString(hash[:]),
		Payload:     string(data),
		TaskID:      ev.TaskID,
		AgentID:     ev.AgentID,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// Multi fans an event out to every ledger. The first successful id is
// returned; failures are joined.
func Multi(ledgers ...Ledger) Ledger {
	return multi(ledgers)
}

type multi []Ledger

func (m multi) RecordEvent(ctx context.Context, ev Event) (string, error) {
	entry, err := Entry(ev)
	if err != nil {
		return "", err
	}

	var (
		id   string
		errs []error
	)
	for _, l := range m {
		if l == nil {
			continue
		}
		var got string
		if w, ok := l.(EntryWriter); ok {
			got, err = w.RecordEntry(ctx, entry)
		} else {
			got, err = l.RecordEvent(ctx, ev)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if id == "" {
			id = got
		}
	}
	return id, errors.Join(errs...)
}
