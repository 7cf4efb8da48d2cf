package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dharsanguruparan/settlementops/internal/model"
)

// Memory keeps cases in a map guarded by an RWMutex: many concurrent readers,
// one writer. It backs tests and the "memory" driver.
type Memory struct {
	mu     sync.RWMutex
	cases  map[int64]*model.Case
	nextID int64
	now    func() time.Time
}

// NewMemory constructs an empty store.
func NewMemory() *Memory {
	return &Memory{
		cases: make(map[int64]*model.Case),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Create(_ context.Context, c *model.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := m.now()
	c.ID = m.nextID
	c.CreatedAt = now
	c.UpdatedAt = now
	c.AnalysisStatus = model.StatusPending
	c.AnalysisJSON = nil
	c.AnalysisError = nil
	c.AnalysisIssues = nil
	c.AnalysisStartedAt = nil
	m.cases[c.ID] = cloneCase(c)
	return nil
}

func (m *Memory) Get(_ context.Context, id int64) (*model.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Callers get a copy so they cannot mutate stored state.
	return cloneCase(c), nil
}

func (m *Memory) List(_ context.Context) ([]model.CaseSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.CaseSummary, 0, len(m.cases))
	for _, c := range m.cases {
		out = append(out, c.Summary())
	}
	// IDs are assigned in creation order, so descending ID is newest first
	// even when two cases share a timestamp.
	slices.SortFunc(out, func(a, b model.CaseSummary) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *Memory) Claim(_ context.Context, id int64, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return false, ErrNotFound
	}
	switch c.AnalysisStatus {
	case model.StatusPending, model.StatusFailed:
	case model.StatusProcessing:
		if c.AnalysisStartedAt != nil && !c.AnalysisStartedAt.Before(staleBefore) {
			return false, nil
		}
	default:
		return false, nil
	}
	now := m.now()
	c.AnalysisStatus = model.StatusProcessing
	c.AnalysisStartedAt = &now
	c.UpdatedAt = now
	return true, nil
}

func (m *Memory) MarkCompleted(_ context.Context, id int64, result model.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return ErrNotFound
	}
	c.AnalysisStatus = model.StatusCompleted
	c.AnalysisJSON = slices.Clone(result.JSON)
	c.AnalysisIssues = slices.Clone(result.Issues)
	c.AnalysisError = nil
	c.CaseName = result.CaseName
	c.CaseNumber = result.CaseNumber
	c.Jurisdiction = result.Jurisdiction
	c.SettlementType = result.SettlementType
	c.UpdatedAt = m.now()
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return ErrNotFound
	}
	c.AnalysisStatus = model.StatusFailed
	c.AnalysisError = &message
	c.AnalysisJSON = nil
	c.AnalysisIssues = nil
	c.UpdatedAt = m.now()
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) (*model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.cases, id)
	return c, nil
}

func cloneCase(c *model.Case) *model.Case {
	cp := *c
	if c.Bid != nil {
		bid := *c.Bid
		cp.Bid = &bid
	}
	cp.AnalysisJSON = slices.Clone(c.AnalysisJSON)
	cp.AnalysisIssues = slices.Clone(c.AnalysisIssues)
	return &cp
}
