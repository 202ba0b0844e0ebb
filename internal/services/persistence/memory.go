package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
)

// MemoryGateway is an in-process IrrigationGateway for tests and dry runs.
// FailNext makes the next n calls fail with ErrUnavailable.
type MemoryGateway struct {
	mu       sync.Mutex
	plots    map[string]model.PlotContext
	records  map[string]*memRecord
	failNext int
	writes   int
}

type memRecord struct {
	requiredMM float64
	appliedMM  float64
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		plots:   make(map[string]model.PlotContext),
		records: make(map[string]*memRecord),
	}
}

// Put registers pc with its RequiredMM as the requirement on date.
func (m *MemoryGateway) Put(pc model.PlotContext, date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plots[pc.PlotID] = pc
	m.records[recKey(pc.PlotID, date)] = &memRecord{requiredMM: pc.RequiredMM}
}

// MarkApplied records depthMM directly, bypassing the conflict check.
func (m *MemoryGateway) MarkApplied(plotID string, date time.Time, depthMM float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[recKey(plotID, date)]; ok {
		r.appliedMM = depthMM
	}
}

func (m *MemoryGateway) FailNext(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

// Applied returns the recorded depth for (plotID, date).
func (m *MemoryGateway) Applied(plotID string, date time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[recKey(plotID, date)]; ok {
		return r.appliedMM
	}
	return 0
}

// Writes counts successful PersistApplied calls.
func (m *MemoryGateway) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryGateway) failLocked(op string) error {
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("%s: %w: injected failure", op, ErrUnavailable)
	}
	return nil
}

func (m *MemoryGateway) FetchRequirement(_ context.Context, plotID string, date time.Time) (model.PlotContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked("fetch requirement"); err != nil {
		return model.PlotContext{}, err
	}
	r, ok := m.records[recKey(plotID, date)]
	pc, okPlot := m.plots[plotID]
	if !ok || !okPlot {
		return model.PlotContext{}, fmt.Errorf("plot %s on %s: %w", plotID, DayKey(date), ErrNotFound)
	}
	pc.RequiredMM = r.requiredMM
	return pc, nil
}

func (m *MemoryGateway) AlreadyApplied(_ context.Context, plotID string, date time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked("already applied"); err != nil {
		return false, err
	}
	r, ok := m.records[recKey(plotID, date)]
	return ok && r.appliedMM > 0, nil
}

func (m *MemoryGateway) PersistApplied(_ context.Context, plotID string, date time.Time, depthMM float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked("persist applied"); err != nil {
		return err
	}
	if depthMM <= 0 {
		return fmt.Errorf("persist applied: depth must be positive, got %.3f", depthMM)
	}
	r, ok := m.records[recKey(plotID, date)]
	if !ok {
		return fmt.Errorf("plot %s on %s: %w", plotID, DayKey(date), ErrNotFound)
	}
	if r.appliedMM > 0 {
		return fmt.Errorf("plot %s on %s: %w", plotID, DayKey(date), ErrConflict)
	}
	r.appliedMM = depthMM
	m.writes++
	return nil
}

func (m *MemoryGateway) ListEligible(_ context.Context, date time.Time) ([]model.PlotContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked("list eligible"); err != nil {
		return nil, err
	}
	var out []model.PlotContext
	for id, pc := range m.plots {
		r, ok := m.records[recKey(id, date)]
		if !ok || r.appliedMM > 0 {
			continue
		}
		pc.RequiredMM = r.requiredMM
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlotID < out[j].PlotID })
	return out, nil
}

func recKey(plotID string, date time.Time) string { return plotID + "|" + DayKey(date) }
