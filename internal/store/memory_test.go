package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscout/internal/lead"
	"leadscout/internal/store"
)

func TestUpsertVerdictIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	v := lead.Verdict{
		LeadID:     "l1",
		ConfigHash: "hash-a",
		FinalScore: 82.5,
		Confidence: 0.95,
		Agreement:  lead.AgreementUnanimous,
		DecidedAt:  time.Now().UTC(),
	}

	require.NoError(t, mem.UpsertVerdict(ctx, v))
	require.NoError(t, mem.UpsertVerdict(ctx, v))

	assert.Equal(t, 1, mem.VerdictCount())
	got, err := mem.GetVerdict(ctx, "l1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestUpsertVerdictReplacesByKey(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	v := lead.Verdict{LeadID: "l1", ConfigHash: "hash-a", FinalScore: 50, Agreement: lead.AgreementSplit}
	require.NoError(t, mem.UpsertVerdict(ctx, v))

	v.FinalScore = 75
	v.Agreement = lead.AgreementMajority
	require.NoError(t, mem.UpsertVerdict(ctx, v))

	got, err := mem.GetVerdict(ctx, "l1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, 75.0, got.FinalScore)
	assert.Equal(t, lead.AgreementMajority, got.Agreement)
	assert.Equal(t, 1, mem.VerdictCount())

	// A different config hash is a different row.
	v.ConfigHash = "hash-b"
	require.NoError(t, mem.UpsertVerdict(ctx, v))
	assert.Equal(t, 2, mem.VerdictCount())
}

func TestReadPendingLeadsTracksStatus(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.InsertLead(ctx, lead.Lead{ID: "l1", CompanyName: "A"}))
	require.NoError(t, mem.InsertLead(ctx, lead.Lead{ID: "l2", CompanyName: "B"}))

	pending, err := mem.ReadPendingLeads(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, mem.MarkLeadStatus(ctx, "l1", store.LeadScored))
	pending, err = mem.ReadPendingLeads(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "l2", pending[0].ID)
}

func TestInsertLeadIgnoresDuplicates(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.InsertLead(ctx, lead.Lead{ID: "l1", CompanyName: "A"}))
	require.NoError(t, mem.MarkLeadStatus(ctx, "l1", store.LeadScored))
	require.NoError(t, mem.InsertLead(ctx, lead.Lead{ID: "l1", CompanyName: "A again"}))

	got, err := mem.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "A", got.CompanyName)
	pending, err := mem.ReadPendingLeads(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "re-inserting must not reset a scored lead")
}

func TestRunBookkeeping(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.CreateRun(ctx, store.Run{ID: "r1", ConfigHash: "h", StartedAt: time.Now().UTC()}))
	require.NoError(t, mem.SetRunTotal(ctx, "r1", 2))
	require.NoError(t, mem.IncrementRunOutcome(ctx, "r1", store.OutcomeReconciled))
	require.NoError(t, mem.IncrementRunOutcome(ctx, "r1", store.OutcomeInsufficient))
	require.NoError(t, mem.FinishRun(ctx, "r1"))

	r, err := mem.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 1, r.Reconciled)
	assert.Equal(t, 1, r.Insufficient)
	assert.NotNil(t, r.FinishedAt)

	_, err = mem.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
