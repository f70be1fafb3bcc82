// Package store is the lead store gateway: candidate leads in, verdicts out.
// The scoring core only depends on the Gateway contract; transport is an
// implementation detail.
package store

import (
	"context"
	"errors"
	"time"

	"leadscout/internal/lead"
)

// Lead lifecycle states in the store.
const (
	LeadQueued = "queued"
	LeadScored = "scored"
	LeadFailed = "failed"
)

// Run outcome counters.
const (
	OutcomeReconciled   = "reconciled"
	OutcomeInsufficient = "insufficient"
	OutcomeFailed       = "failed"
)

var ErrNotFound = errors.New("store: not found")

// Run is the bookkeeping row for one scoring batch.
type Run struct {
	ID           string     `db:"id" json:"id"`
	ConfigHash   string     `db:"config_hash" json:"config_hash"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Total        int        `db:"total" json:"total"`
	Reconciled   int        `db:"reconciled" json:"reconciled"`
	Insufficient int        `db:"insufficient" json:"insufficient"`
	Failed       int        `db:"failed" json:"failed"`
}

// LogEntry is one row of the append-only scoring log.
type LogEntry struct {
	At        time.Time `db:"at" json:"at"`
	EventType string    `db:"event_type" json:"event_type"`
	Message   string    `db:"message" json:"message"`
	Status    string    `db:"status" json:"status"`
	Details   string    `db:"details" json:"details,omitempty"`
}

// Gateway is the full lead store surface. Verdict writes are idempotent
// upserts keyed by (lead id, config hash): rerunning a lead under the same
// profile replaces the row atomically, never appends a duplicate.
type Gateway interface {
	Ping(ctx context.Context) error

	InsertLead(ctx context.Context, ld lead.Lead) error
	GetLead(ctx context.Context, id string) (lead.Lead, error)
	ReadPendingLeads(ctx context.Context) ([]lead.Lead, error)
	MarkLeadStatus(ctx context.Context, id, status string) error

	UpsertVerdict(ctx context.Context, v lead.Verdict) error
	GetVerdict(ctx context.Context, leadID, configHash string) (lead.Verdict, error)

	CreateRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	SetRunTotal(ctx context.Context, id string, total int) error
	IncrementRunOutcome(ctx context.Context, id, outcome string) error
	FinishRun(ctx context.Context, id string) error

	AppendLog(ctx context.Context, e LogEntry) error
}
