package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/vanshika/ledgercore/internal/domain"
)

// HistoryFilter narrows History results. Zero values match everything.
type HistoryFilter struct {
	EntityID      string
	OperationType string
	Limit         int
}

// Matches reports whether rec passes the filter's predicates (Limit is ignored).
func (f HistoryFilter) Matches(rec domain.AuditRecord) bool {
	if f.EntityID != "" && rec.EntityID != f.EntityID {
		return false
	}
	if f.OperationType != "" && rec.OperationType != f.OperationType {
		return false
	}
	return true
}

// Store persists audit records. Implementations must be append-only.
type Store interface {
	Append(ctx context.Context, rec domain.AuditRecord) error
	History(ctx context.Context, filter HistoryFilter) ([]domain.AuditRecord, error)
	Counts(ctx context.Context) ([]domain.OperationCount, error)
}

// MemoryStore keeps audit records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []domain.AuditRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// History returns matching records, newest first.
func (s *MemoryStore) History(_ context.Context, filter HistoryFilter) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if filter.Matches(s.records[i]) {
			out = append(out, s.records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Counts groups records by operation type and status, largest group first.
func (s *MemoryStore) Counts(_ context.Context) ([]domain.OperationCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		op     string
		status domain.AuditStatus
	}
	grouped := make(map[key]int64)
	for _, rec := range s.records {
		grouped[key{rec.OperationType, rec.Status}]++
	}

	out := make([]domain.OperationCount, 0, len(grouped))
	for k, n := range grouped {
		out = append(out, domain.OperationCount{OperationType: k.op, Status: k.status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].OperationType != out[j].OperationType {
			return out[i].OperationType < out[j].OperationType
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
