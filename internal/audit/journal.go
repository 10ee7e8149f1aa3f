package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/fentz26/agora/internal/models"
)

var journalPrefix = []byte("ev/")

// Journal is an append-only LevelDB event log keyed by time.
type Journal struct {
	db *leveldb.DB
}

// OpenJournal opens or creates a journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// NewMemJournal returns a journal backed by memory storage.
func NewMemJournal() (*Journal, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordEvent appends ev to the journal.
func (j *Journal) RecordEvent(ctx context.Context, ev Event) (string, error) {
	entry, err := Entry(ev)
	if err != nil {
		return "", err
	}
	return j.RecordEntry(ctx, entry)
}

// RecordEntry appends a prepared entry.
func (j *Journal) RecordEntry(_ context.Context, entry models.AuditEntry) (string, error) {
	value, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	if err := j.db.Put(journalKey(entry), value, nil); err != nil {
		return "", fmt.Errorf("journal put: %w", err)
	}
	return entry.ID, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]models.AuditEntry, error) {
	it := j.db.NewIterator(util.BytesPrefix(journalPrefix), nil)
	defer it.Release()

	var entries []models.AuditEntry
	for ok := it.Last(); ok && (limit <= 0 || len(entries) < limit); ok = it.Prev() {
		var e models.AuditEntry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, it.Error()
}

func journalKey(e models.AuditEntry) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", journalPrefix, e.Timestamp.UnixNano(), e.ID))
}
