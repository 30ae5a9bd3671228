package repository

import (
	"context"
	"sync"
	"time"

	"github.com/splax/rollout/internal/domain"
)

// MemoryHistory is the default in-memory HistoryRepository. Appends are
// serialized; reads return copies so callers cannot mutate stored records.
type MemoryHistory struct {
	mu      sync.RWMutex
	records []domain.DeploymentRecord
}

// NewMemoryHistory returns an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// AppendRecord appends a record to the log.
func (m *MemoryHistory) AppendRecord(_ context.Context, record *domain.DeploymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *record)
	return nil
}

// GetRecordByDeploymentID returns the record archived for a deployment.
func (m *MemoryHistory) GetRecordByDeploymentID(_ context.Context, deploymentID string) (*domain.DeploymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.records {
		if m.records[i].DeploymentID == deploymentID {
			record := m.records[i]
			return &record, nil
		}
	}
	return nil, ErrNotFound
}

// ListRecords returns every record in insertion order.
func (m *MemoryHistory) ListRecords(_ context.Context) ([]domain.DeploymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.DeploymentRecord(nil), m.records...), nil
}

// ListRecentRecords returns up to limit of the most recently appended
// records, newest first.
func (m *MemoryHistory) ListRecentRecords(_ context.Context, limit int) ([]domain.DeploymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]domain.DeploymentRecord, 0, limit)
	for i := len(m.records) - 1; i >= len(m.records)-limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

// ListRecordsByEvolution returns records for one evolution in insertion order.
func (m *MemoryHistory) ListRecordsByEvolution(_ context.Context, evolutionID string) ([]domain.DeploymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.DeploymentRecord
	for _, record := range m.records {
		if record.EvolutionID == evolutionID {
			out = append(out, record)
		}
	}
	return out, nil
}

// ListRecordsByStrategy returns records that used the given strategy.
func (m *MemoryHistory) ListRecordsByStrategy(_ context.Context, strategy domain.Strategy) ([]domain.DeploymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.DeploymentRecord
	for _, record := range m.records {
		if record.Strategy == strategy {
			out = append(out, record)
		}
	}
	return out, nil
}

// ListRecordsBetween returns records whose timestamp lies within [from, to].
func (m *MemoryHistory) ListRecordsBetween(_ context.Context, from, to time.Time) ([]domain.DeploymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.DeploymentRecord
	for _, record := range m.records {
		if record.Timestamp.Before(from) || record.Timestamp.After(to) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

var _ HistoryRepository = (*MemoryHistory)(nil)
