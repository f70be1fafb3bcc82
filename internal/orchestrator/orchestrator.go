// Package orchestrator drives one lead through every judge and hands the
// reconciled verdict to the store.
package orchestrator

import (
	"context"
	"fmt"
	"log"

	"leadscout/internal/consensus"
	"leadscout/internal/icp"
	"leadscout/internal/judge"
	"leadscout/internal/lead"
)

// VerdictStore is the slice of the gateway the orchestrator needs.
type VerdictStore interface {
	UpsertVerdict(ctx context.Context, v lead.Verdict) error
}

// Archiver persists the full audit record for a scored lead and returns an
// object reference. Optional; a nil Archiver skips archiving.
type Archiver interface {
	PutAudit(ctx context.Context, leadID, configHash string, record any) (string, error)
}

// AuditRecord is what gets archived per scored lead: everything needed to
// replay or dispute the verdict.
type AuditRecord struct {
	Lead    lead.Lead         `json:"lead"`
	Verdict lead.Verdict      `json:"verdict"`
	Policy  icp.ScoringPolicy `json:"policy"`
}

type Orchestrator struct {
	Judges  []judge.Judge
	Profile *icp.Profile
	Store   VerdictStore
	Archive Archiver
}

func New(judges []judge.Judge, profile *icp.Profile, st VerdictStore, archive Archiver) *Orchestrator {
	return &Orchestrator{Judges: judges, Profile: profile, Store: st, Archive: archive}
}

// ScoreLead fans out to every judge concurrently under the profile's
// per-lead deadline, reconciles whatever came back, and upserts exactly one
// verdict. Judges still pending when the deadline fires are recorded as
// timeouts rather than blocking the batch. If ctx is cancelled the lead is
// left untouched: no partial verdict is ever written.
func (o *Orchestrator) ScoreLead(ctx context.Context, runID string, ld lead.Lead) (lead.Verdict, error) {
	dctx, cancel := context.WithTimeout(ctx, o.Profile.Policy.LeadDeadline())
	defer cancel()

	ch := make(chan lead.JudgeResult, len(o.Judges))
	for _, j := range o.Judges {
		go func(j judge.Judge) {
			ch <- o.callJudge(dctx, j, ld)
		}(j)
	}

	results := make([]lead.JudgeResult, 0, len(o.Judges))
	settled := make(map[string]bool, len(o.Judges))
collect:
	for range o.Judges {
		select {
		case r := <-ch:
			results = append(results, r)
			settled[r.JudgeID] = true
		case <-dctx.Done():
			break collect
		}
	}
	// Judges that never settled before the deadline.
	for _, j := range o.Judges {
		if !settled[j.ID()] {
			results = append(results, lead.JudgeResult{
				JudgeID:   j.ID(),
				LeadID:    ld.ID,
				Status:    lead.StatusTimeout,
				Rationale: "judge did not settle before the per-lead deadline",
			})
		}
	}

	if err := ctx.Err(); err != nil {
		// Batch cancelled: abandon in-flight results, write nothing.
		return lead.Verdict{}, err
	}

	v := consensus.Reconcile(ld.ID, results, o.Profile.Policy)
	v.ConfigHash = o.Profile.ConfigHash()
	v.RunID = runID

	if o.Archive != nil {
		ref, err := o.Archive.PutAudit(ctx, ld.ID, v.ConfigHash, AuditRecord{Lead: ld, Verdict: v, Policy: o.Profile.Policy})
		if err != nil {
			// The verdict row is the system of record; a failed archive is
			// logged, not fatal.
			log.Printf("audit archive for lead %s failed: %v", ld.ID, err)
		} else {
			v.AuditRef = ref
		}
	}

	if err := ctx.Err(); err != nil {
		return lead.Verdict{}, err
	}
	if err := o.Store.UpsertVerdict(ctx, v); err != nil {
		return lead.Verdict{}, fmt.Errorf("persist verdict for lead %s: %w", ld.ID, err)
	}
	return v, nil
}

// callJudge converts an adapter panic into a ProviderError result so one
// misbehaving judge can never abort its siblings or the batch.
func (o *Orchestrator) callJudge(ctx context.Context, j judge.Judge, ld lead.Lead) (res lead.JudgeResult) {
	defer func() {
		if r := recover(); r != nil {
			res = lead.JudgeResult{
				JudgeID:   j.ID(),
				LeadID:    ld.ID,
				Status:    lead.StatusProviderError,
				Rationale: fmt.Sprintf("judge panicked: %v", r),
			}
		}
	}()
	return j.Score(ctx, ld, o.Profile)
}
