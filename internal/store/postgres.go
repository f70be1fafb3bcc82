package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"leadscout/internal/lead"
)

// Postgres implements Gateway on sqlx over the pgx stdlib driver.
type Postgres struct {
	db *sqlx.DB
}

// MustOpen connects using DATABASE_URL and panics on failure, matching the
// fail-fast boot behavior of the services.
func MustOpen() *Postgres {
	dsn := os.Getenv("DATABASE_URL")
	db := sqlx.MustConnect("pgx", dsn)
	return &Postgres{db: db}
}

func NewPostgres(db *sqlx.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

type leadRow struct {
	ID            string    `db:"id"`
	CompanyName   string    `db:"company_name"`
	Domain        string    `db:"domain"`
	ContactTitle  string    `db:"contact_title"`
	RawAttributes []byte    `db:"raw_attributes"`
	DiscoveredAt  time.Time `db:"discovered_at"`
	Status        string    `db:"status"`
}

func (r leadRow) toLead() (lead.Lead, error) {
	ld := lead.Lead{
		ID:           r.ID,
		CompanyName:  r.CompanyName,
		Domain:       r.Domain,
		ContactTitle: r.ContactTitle,
		DiscoveredAt: r.DiscoveredAt,
	}
	if len(r.RawAttributes) > 0 {
		if err := json.Unmarshal(r.RawAttributes, &ld.RawAttributes); err != nil {
			return ld, fmt.Errorf("lead %s: decode raw_attributes: %w", r.ID, err)
		}
	}
	return ld, nil
}

func (p *Postgres) InsertLead(ctx context.Context, ld lead.Lead) error {
	attrs, err := json.Marshal(ld.RawAttributes)
	if err != nil {
		return fmt.Errorf("encode raw_attributes: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`insert into leads(id, company_name, domain, contact_title, raw_attributes, discovered_at, status)
		 values($1,$2,$3,$4,$5,$6,$7)
		 on conflict (id) do nothing`,
		ld.ID, ld.CompanyName, ld.Domain, ld.ContactTitle, attrs, ld.DiscoveredAt, LeadQueued)
	if err != nil {
		return fmt.Errorf("insert lead %s: %w", ld.ID, err)
	}
	return nil
}

func (p *Postgres) GetLead(ctx context.Context, id string) (lead.Lead, error) {
	var r leadRow
	if err := p.db.GetContext(ctx, &r, `select * from leads where id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lead.Lead{}, ErrNotFound
		}
		return lead.Lead{}, fmt.Errorf("get lead %s: %w", id, err)
	}
	return r.toLead()
}

func (p *Postgres) ReadPendingLeads(ctx context.Context) ([]lead.Lead, error) {
	var rows []leadRow
	if err := p.db.SelectContext(ctx, &rows, `select * from leads where status=$1 order by discovered_at`, LeadQueued); err != nil {
		return nil, fmt.Errorf("read pending leads: %w", err)
	}
	leads := make([]lead.Lead, 0, len(rows))
	for _, r := range rows {
		ld, err := r.toLead()
		if err != nil {
			return nil, err
		}
		leads = append(leads, ld)
	}
	return leads, nil
}

func (p *Postgres) MarkLeadStatus(ctx context.Context, id, status string) error {
	if _, err := p.db.ExecContext(ctx, `update leads set status=$1 where id=$2`, status, id); err != nil {
		return fmt.Errorf("mark lead %s %s: %w", id, status, err)
	}
	return nil
}

// UpsertVerdict replaces the verdict row for (lead, config hash) atomically.
// Transient write failures are retried with bounded backoff before the error
// is surfaced as a per-lead failure.
func (p *Postgres) UpsertVerdict(ctx context.Context, v lead.Verdict) error {
	results, err := json.Marshal(v.ContributingResults)
	if err != nil {
		return fmt.Errorf("encode contributing results: %w", err)
	}
	op := func() error {
		_, err := p.db.ExecContext(ctx,
			`insert into verdicts(lead_id, config_hash, run_id, final_score, confidence, agreement, results, note, audit_ref, decided_at)
			 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			 on conflict (lead_id, config_hash) do update set
			   run_id=excluded.run_id,
			   final_score=excluded.final_score,
			   confidence=excluded.confidence,
			   agreement=excluded.agreement,
			   results=excluded.results,
			   note=excluded.note,
			   audit_ref=excluded.audit_ref,
			   decided_at=excluded.decided_at`,
			v.LeadID, v.ConfigHash, v.RunID, v.FinalScore, v.Confidence, string(v.Agreement),
			results, v.ReconciliationNote, v.AuditRef, v.DecidedAt)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("upsert verdict for lead %s: %w", v.LeadID, err)
	}
	return nil
}

type verdictRow struct {
	LeadID     string    `db:"lead_id"`
	ConfigHash string    `db:"config_hash"`
	RunID      string    `db:"run_id"`
	FinalScore float64   `db:"final_score"`
	Confidence float64   `db:"confidence"`
	Agreement  string    `db:"agreement"`
	Results    []byte    `db:"results"`
	Note       string    `db:"note"`
	AuditRef   string    `db:"audit_ref"`
	DecidedAt  time.Time `db:"decided_at"`
}

func (p *Postgres) GetVerdict(ctx context.Context, leadID, configHash string) (lead.Verdict, error) {
	var r verdictRow
	err := p.db.GetContext(ctx, &r, `select * from verdicts where lead_id=$1 and config_hash=$2`, leadID, configHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lead.Verdict{}, ErrNotFound
		}
		return lead.Verdict{}, fmt.Errorf("get verdict %s/%s: %w", leadID, configHash, err)
	}
	v := lead.Verdict{
		LeadID:             r.LeadID,
		ConfigHash:         r.ConfigHash,
		RunID:              r.RunID,
		FinalScore:         r.FinalScore,
		Confidence:         r.Confidence,
		Agreement:          lead.Agreement(r.Agreement),
		ReconciliationNote: r.Note,
		AuditRef:           r.AuditRef,
		DecidedAt:          r.DecidedAt,
	}
	if len(r.Results) > 0 {
		if err := json.Unmarshal(r.Results, &v.ContributingResults); err != nil {
			return v, fmt.Errorf("decode contributing results: %w", err)
		}
	}
	return v, nil
}

func (p *Postgres) CreateRun(ctx context.Context, r Run) error {
	_, err := p.db.ExecContext(ctx,
		`insert into runs(id, config_hash, started_at) values($1,$2,$3)`,
		r.ID, r.ConfigHash, r.StartedAt)
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	if err := p.db.GetContext(ctx, &r, `select * from runs where id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

func (p *Postgres) SetRunTotal(ctx context.Context, id string, total int) error {
	if _, err := p.db.ExecContext(ctx, `update runs set total=$1 where id=$2`, total, id); err != nil {
		return fmt.Errorf("set run %s total: %w", id, err)
	}
	return nil
}

func (p *Postgres) IncrementRunOutcome(ctx context.Context, id, outcome string) error {
	var col string
	switch outcome {
	case OutcomeReconciled:
		col = "reconciled"
	case OutcomeInsufficient:
		col = "insufficient"
	case OutcomeFailed:
		col = "failed"
	default:
		return fmt.Errorf("unknown run outcome %q", outcome)
	}
	q := fmt.Sprintf(`update runs set %s = %s + 1 where id=$1`, col, col)
	if _, err := p.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("increment run %s %s: %w", id, outcome, err)
	}
	return nil
}

func (p *Postgres) FinishRun(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `update runs set finished_at=now() where id=$1`, id); err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) AppendLog(ctx context.Context, e LogEntry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`insert into score_log(at, event_type, message, status, details) values($1,$2,$3,$4,$5)`,
		at, e.EventType, e.Message, e.Status, e.Details)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}
