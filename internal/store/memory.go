package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadscout/internal/lead"
)

// Memory is an in-process Gateway used by tests and the smoke tooling.
// It honors the same contract as Postgres, including upsert-by-key.
type Memory struct {
	mu       sync.Mutex
	leads    map[string]lead.Lead
	statuses map[string]string
	verdicts map[string]lead.Verdict // keyed leadID + "\x00" + configHash
	runs     map[string]Run
	logs     []LogEntry
}

func NewMemory() *Memory {
	return &Memory{
		leads:    make(map[string]lead.Lead),
		statuses: make(map[string]string),
		verdicts: make(map[string]lead.Verdict),
		runs:     make(map[string]Run),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) InsertLead(_ context.Context, ld lead.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[ld.ID]; ok {
		return nil
	}
	m.leads[ld.ID] = ld
	m.statuses[ld.ID] = LeadQueued
	return nil
}

func (m *Memory) GetLead(_ context.Context, id string) (lead.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ld, ok := m.leads[id]
	if !ok {
		return lead.Lead{}, ErrNotFound
	}
	return ld, nil
}

func (m *Memory) ReadPendingLeads(context.Context) ([]lead.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []lead.Lead
	for id, ld := range m.leads {
		if m.statuses[id] == LeadQueued {
			out = append(out, ld)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) MarkLeadStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[id]; !ok {
		return ErrNotFound
	}
	m.statuses[id] = status
	return nil
}

func (m *Memory) UpsertVerdict(_ context.Context, v lead.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts[v.LeadID+"\x00"+v.ConfigHash] = v
	return nil
}

func (m *Memory) GetVerdict(_ context.Context, leadID, configHash string) (lead.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verdicts[leadID+"\x00"+configHash]
	if !ok {
		return lead.Verdict{}, ErrNotFound
	}
	return v, nil
}

// VerdictCount reports how many verdict rows exist, for idempotence checks.
func (m *Memory) VerdictCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.verdicts)
}

func (m *Memory) CreateRun(_ context.Context, r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) SetRunTotal(_ context.Context, id string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Total = total
	m.runs[id] = r
	return nil
}

func (m *Memory) IncrementRunOutcome(_ context.Context, id, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	switch outcome {
	case OutcomeReconciled:
		r.Reconciled++
	case OutcomeInsufficient:
		r.Insufficient++
	case OutcomeFailed:
		r.Failed++
	}
	m.runs[id] = r
	return nil
}

func (m *Memory) FinishRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	r.FinishedAt = &now
	m.runs[id] = r
	return nil
}

func (m *Memory) AppendLog(_ context.Context, e LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	m.logs = append(m.logs, e)
	return nil
}

// Logs returns a copy of the append-only log.
func (m *Memory) Logs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEntry, len(m.logs))
	copy(out, m.logs)
	return out
}
