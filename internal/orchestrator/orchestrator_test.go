package orchestrator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscout/internal/icp"
	"leadscout/internal/judge"
	"leadscout/internal/lead"
	"leadscout/internal/orchestrator"
	"leadscout/internal/store"
)

// fakeJudge settles with a fixed result after an optional delay, or panics.
type fakeJudge struct {
	id     string
	score  float64
	status lead.JudgeStatus
	delay  time.Duration
	panics bool
}

func (f *fakeJudge) ID() string { return f.id }

func (f *fakeJudge) Score(ctx context.Context, ld lead.Lead, _ *icp.Profile) lead.JudgeResult {
	if f.panics {
		panic("judge exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return lead.JudgeResult{JudgeID: f.id, LeadID: ld.ID, Status: lead.StatusTimeout}
		}
	}
	return lead.JudgeResult{JudgeID: f.id, LeadID: ld.ID, Score: f.score, Status: f.status}
}

type fakeArchive struct {
	puts int
	fail bool
}

func (a *fakeArchive) PutAudit(_ context.Context, leadID, configHash string, _ any) (string, error) {
	a.puts++
	if a.fail {
		return "", fmt.Errorf("archive unavailable")
	}
	return fmt.Sprintf("s3://audits/%s/%s.json", leadID, configHash), nil
}

func profileWithDeadline(d time.Duration) *icp.Profile {
	p, err := icp.Parse([]byte(fmt.Sprintf(`{
		"industry": "logistics saas",
		"scoringWeights": {"industry_fit": 1},
		"scoringPolicy": {"agreementThreshold": 15, "leadDeadlineSeconds": %d}
	}`, int(d.Seconds()))))
	if err != nil {
		panic(err)
	}
	return p
}

func sampleLead() lead.Lead {
	return lead.Lead{ID: "lead-1", CompanyName: "Acme Freight", Domain: "acme.example", DiscoveredAt: time.Now().UTC()}
}

func TestScoreLeadReconcilesAndUpsertsOnce(t *testing.T) {
	mem := store.NewMemory()
	arc := &fakeArchive{}
	o := orchestrator.New([]judge.Judge{
		&fakeJudge{id: "a", score: 80, status: lead.StatusOk},
		&fakeJudge{id: "b", score: 85, status: lead.StatusOk},
	}, profileWithDeadline(5*time.Second), mem, arc)

	v, err := o.ScoreLead(context.Background(), "run-1", sampleLead())
	require.NoError(t, err)

	assert.Equal(t, lead.AgreementUnanimous, v.Agreement)
	assert.InDelta(t, 82.5, v.FinalScore, 1e-9)
	assert.NotEmpty(t, v.AuditRef)
	assert.Equal(t, 1, mem.VerdictCount())

	stored, err := mem.GetVerdict(context.Background(), "lead-1", v.ConfigHash)
	require.NoError(t, err)
	assert.Equal(t, v, stored)
}

func TestScoreLeadRerunOverwritesNotDuplicates(t *testing.T) {
	mem := store.NewMemory()
	o := orchestrator.New([]judge.Judge{
		&fakeJudge{id: "a", score: 70, status: lead.StatusOk},
		&fakeJudge{id: "b", score: 72, status: lead.StatusOk},
	}, profileWithDeadline(5*time.Second), mem, nil)

	_, err := o.ScoreLead(context.Background(), "run-1", sampleLead())
	require.NoError(t, err)
	_, err = o.ScoreLead(context.Background(), "run-2", sampleLead())
	require.NoError(t, err)

	assert.Equal(t, 1, mem.VerdictCount())
}

func TestScoreLeadSlowJudgeBecomesTimeout(t *testing.T) {
	mem := store.NewMemory()
	o := orchestrator.New([]judge.Judge{
		&fakeJudge{id: "fast", score: 75, status: lead.StatusOk},
		&fakeJudge{id: "slow", score: 90, status: lead.StatusOk, delay: 5 * time.Second},
	}, profileWithDeadline(1*time.Second), mem, nil)

	v, err := o.ScoreLead(context.Background(), "run-1", sampleLead())
	require.NoError(t, err)

	require.Len(t, v.ContributingResults, 2)
	byID := map[string]lead.JudgeResult{}
	for _, r := range v.ContributingResults {
		byID[r.JudgeID] = r
	}
	assert.Equal(t, lead.StatusOk, byID["fast"].Status)
	assert.Equal(t, lead.StatusTimeout, byID["slow"].Status)
	// One usable judge is never consensus.
	assert.Equal(t, lead.AgreementInsufficient, v.Agreement)
	assert.InDelta(t, 75, v.FinalScore, 1e-9)
}

func TestScoreLeadPanickingJudgeBecomesProviderError(t *testing.T) {
	mem := store.NewMemory()
	o := orchestrator.New([]judge.Judge{
		&fakeJudge{id: "a", score: 80, status: lead.StatusOk},
		&fakeJudge{id: "b", score: 84, status: lead.StatusOk},
		&fakeJudge{id: "boom", panics: true},
	}, profileWithDeadline(5*time.Second), mem, nil)

	v, err := o.ScoreLead(context.Background(), "run-1", sampleLead())
	require.NoError(t, err)

	require.Len(t, v.ContributingResults, 3)
	byID := map[string]lead.JudgeResult{}
	for _, r := range v.ContributingResults {
		byID[r.JudgeID] = r
	}
	assert.Equal(t, lead.StatusProviderError, byID["boom"].Status)
	assert.Contains(t, byID["boom"].Rationale, "panicked")
	assert.Equal(t, lead.AgreementUnanimous, v.Agreement)
}

func TestScoreLeadAllFailedStillWritesVerdict(t *testing.T) {
	mem := store.NewMemory()
	o := orchestrator.New([]judge.Judge{
		&fakeJudge{id: "a", status: lead.StatusProviderError},
		&fakeJudge{id: "b", status: lead.StatusInvalidOutput},
	}, profileWithDeadline(5*time.Second), mem, nil)

	v, err := o.ScoreLead(context.Background(), "run-1", sampleLead())
	require.NoError(t, err)

	assert.Equal(t, lead.AgreementInsufficient, v.Agreement)
	assert.Zero(t, v.FinalScore)
	assert.Zero(t, v.Confidence)
	assert.Equal(t, 1, mem.VerdictCount(), "insufficient leads are written, not dropped")
}

func TestScoreLeadCancelledBatchWritesNothing(t *testing.T) {
	mem := store.NewMemory()
	o := orchestrator.New([]judge.Judge{
		&fakeJudge{id: "a", score: 80, status: lead.StatusOk, delay: 2 * time.Second},
	}, profileWithDeadline(5*time.Second), mem, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := o.ScoreLead(ctx, "run-1", sampleLead())
	require.Error(t, err)
	assert.Equal(t, 0, mem.VerdictCount(), "cancelled leads are untouched, never half-written")
}

func TestScoreLeadArchiveFailureIsNotFatal(t *testing.T) {
	mem := store.NewMemory()
	arc := &fakeArchive{fail: true}
	o := orchestrator.New([]judge.Judge{
		&fakeJudge{id: "a", score: 60, status: lead.StatusOk},
		&fakeJudge{id: "b", score: 62, status: lead.StatusOk},
	}, profileWithDeadline(5*time.Second), mem, arc)

	v, err := o.ScoreLead(context.Background(), "run-1", sampleLead())
	require.NoError(t, err)
	assert.Empty(t, v.AuditRef)
	assert.Equal(t, 1, mem.VerdictCount())
}
