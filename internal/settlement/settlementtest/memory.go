// Package settlementtest provides an in-memory settlement repository for package tests
package settlementtest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Artifique/Agrilend-Backend/internal/settlement"
)

// ErrDuplicateTransaction mirrors the unique index on transaction_id
var ErrDuplicateTransaction = errors.New("duplicate transaction id")

// MemoryRepository implements settlement.Repository over a map
type MemoryRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*settlement.Record
	seq     time.Time
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[uuid.UUID]*settlement.Record)}
}

func (m *MemoryRepository) Create(ctx context.Context, rec *settlement.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.TransactionID != nil {
		for _, existing := range m.records {
			if existing.TransactionID != nil && *existing.TransactionID == *rec.TransactionID {
				return ErrDuplicateTransaction
			}
		}
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	// Strictly increasing timestamps keep ordering deterministic
	now := time.Now()
	if !now.After(m.seq) {
		now = m.seq.Add(time.Microsecond)
	}
	m.seq = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	copied := *rec
	m.records[rec.ID] = &copied
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*settlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, settlement.ErrRecordNotFound
	}
	copied := *rec
	return &copied, nil
}

func (m *MemoryRepository) FindBySchedule(ctx context.Context, scheduleID string, recType settlement.RecordType) (*settlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *settlement.Record
	for _, rec := range m.records {
		if rec.Type != recType || rec.ScheduleID == nil || *rec.ScheduleID != scheduleID {
			continue
		}
		if found == nil || rec.CreatedAt.After(found.CreatedAt) {
			found = rec
		}
	}
	if found == nil {
		return nil, settlement.ErrRecordNotFound
	}
	copied := *found
	return &copied, nil
}

func (m *MemoryRepository) List(ctx context.Context, filter settlement.Filter) ([]settlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []settlement.Record
	for _, rec := range m.records {
		if matches(rec, filter) {
			out = append(out, *rec)
		}
	}
	sortByCreated(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]settlement.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []settlement.Record
	for _, rec := range m.records {
		if rec.Status == settlement.StatusPending && rec.CreatedAt.Before(olderThan) {
			out = append(out, *rec)
		}
	}
	sortForReconcile(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) Close(ctx context.Context, id uuid.UUID, change settlement.Closure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || rec.Status != settlement.StatusPending {
		return settlement.ErrRecordClosed
	}
	rec.Status = change.Status
	at := change.At
	rec.SettledAt = &at
	if change.FinalTransactionID != "" {
		final := change.FinalTransactionID
		rec.FinalTransactionID = &final
	}
	if change.FailureReason != "" {
		reason := change.FailureReason
		rec.FailureReason = &reason
	}
	return nil
}

func (m *MemoryRepository) AttachSchedule(ctx context.Context, id uuid.UUID, scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || rec.Status != settlement.StatusPending {
		return settlement.ErrRecordClosed
	}
	rec.ScheduleID = &scheduleID
	return nil
}

func (m *MemoryRepository) MarkReconcileAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[id]; ok {
		rec.ReconcileAttempts++
		rec.LastReconciledAt = &at
	}
	return nil
}

// Backdate shifts a record's creation time, for reconciliation thresholds
func (m *MemoryRepository) Backdate(id uuid.UUID, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[id]; ok {
		rec.CreatedAt = rec.CreatedAt.Add(-by)
	}
}

// All returns every record, oldest first
func (m *MemoryRepository) All() []settlement.Record {
	out, _ := m.List(context.Background(), settlement.Filter{})
	return out
}

// ByType returns the records of one type, oldest first
func (m *MemoryRepository) ByType(recType settlement.RecordType) []settlement.Record {
	out, _ := m.List(context.Background(), settlement.Filter{Types: []settlement.RecordType{recType}})
	return out
}

func matches(rec *settlement.Record, filter settlement.Filter) bool {
	if len(filter.Types) > 0 {
		ok := false
		for _, t := range filter.Types {
			if rec.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.Status != nil && rec.Status != *filter.Status {
		return false
	}
	if filter.OrderID != nil && (rec.OrderID == nil || *rec.OrderID != *filter.OrderID) {
		return false
	}
	if filter.ReceiptID != nil && (rec.ReceiptID == nil || *rec.ReceiptID != *filter.ReceiptID) {
		return false
	}
	if filter.UserID != nil && (rec.UserID == nil || *rec.UserID != *filter.UserID) {
		return false
	}
	if filter.From != nil && rec.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !rec.CreatedAt.Before(*filter.To) {
		return false
	}
	return true
}

// sortForReconcile puts never-checked records first, then the least recently checked
func sortForReconcile(records []settlement.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].LastReconciledAt, records[j].LastReconciledAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

func sortByCreated(records []settlement.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
