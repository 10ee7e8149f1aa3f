package audit

import (
	"context"

	"github.com/fentz26/agora/internal/models"
	"github.com/fentz26/agora/internal/store"
)

// SQLWriter writes audit entries to the SQLite audit table.
type SQLWriter struct {
	store *store.Store
}

// NewSQLWriter creates a new SQL-backed ledger.
func NewSQLWriter(s *store.Store) *SQLWriter {
	return &SQLWriter{store: s}
}

// RecordEvent writes ev and returns the stored entry id.
func (w *SQLWriter) RecordEvent(ctx context.Context, ev Event) (string, error) {
	entry, err := Entry(ev)
	if err != nil {
		return "", err
	}
	return w.RecordEntry(ctx, entry)
}

// RecordEntry writes entry keeping its id and timestamp.
func (w *SQLWriter) RecordEntry(ctx context.Context, entry models.AuditEntry) (string, error) {
	if err := w.store.InsertAudit(ctx, &entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}
