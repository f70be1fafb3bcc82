package consensus_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscout/internal/consensus"
	"leadscout/internal/icp"
	"leadscout/internal/lead"
)

func policy() icp.ScoringPolicy {
	return icp.ScoringPolicy{AgreementThreshold: 15}
}

func ok(judge string, score float64) lead.JudgeResult {
	return lead.JudgeResult{JudgeID: judge, LeadID: "lead-1", Score: score, Status: lead.StatusOk}
}

func failedWith(judge string, status lead.JudgeStatus) lead.JudgeResult {
	return lead.JudgeResult{JudgeID: judge, LeadID: "lead-1", Status: status}
}

func TestReconcileUnanimous(t *testing.T) {
	v := consensus.Reconcile("lead-1", []lead.JudgeResult{ok("a", 80), ok("b", 85)}, policy())

	assert.Equal(t, lead.AgreementUnanimous, v.Agreement)
	assert.InDelta(t, 82.5, v.FinalScore, 1e-9)
	assert.InDelta(t, 0.95, v.Confidence, 1e-9)
	assert.Len(t, v.ContributingResults, 2)
}

func TestReconcileUnanimousScoreWithinInputRange(t *testing.T) {
	cases := [][]float64{
		{50, 50},
		{10, 20, 15},
		{88, 90, 92, 95},
		{0, 14.9},
	}
	for _, scores := range cases {
		results := make([]lead.JudgeResult, len(scores))
		lo, hi := scores[0], scores[0]
		for i, s := range scores {
			results[i] = ok(string(rune('a'+i)), s)
			if s < lo {
				lo = s
			}
			if s > hi {
				hi = s
			}
		}
		v := consensus.Reconcile("lead-1", results, policy())
		require.Equal(t, lead.AgreementUnanimous, v.Agreement, "scores %v", scores)
		assert.GreaterOrEqual(t, v.FinalScore, lo)
		assert.LessOrEqual(t, v.FinalScore, hi)
	}
}

func TestReconcileMajorityExcludesOutlier(t *testing.T) {
	v := consensus.Reconcile("lead-1", []lead.JudgeResult{ok("a", 20), ok("b", 85), ok("c", 82)}, policy())

	assert.Equal(t, lead.AgreementMajority, v.Agreement)
	assert.InDelta(t, 83.5, v.FinalScore, 1e-9)
	assert.InDelta(t, 0.5+0.5*2.0/3.0, v.Confidence, 1e-9)
	assert.Contains(t, v.ReconciliationNote, "a=20.0")
}

func TestReconcileSplitKeepsBothSidesVisible(t *testing.T) {
	v := consensus.Reconcile("lead-1", []lead.JudgeResult{ok("a", 30), ok("b", 90)}, policy())

	assert.Equal(t, lead.AgreementSplit, v.Agreement)
	assert.InDelta(t, 60, v.FinalScore, 1e-9)
	assert.LessOrEqual(t, v.Confidence, 0.4)
}

func TestReconcileSingleUsableJudgeIsInsufficient(t *testing.T) {
	results := []lead.JudgeResult{
		failedWith("a", lead.StatusTimeout),
		failedWith("b", lead.StatusInvalidOutput),
		ok("c", 70),
	}
	v := consensus.Reconcile("lead-1", results, policy())

	assert.Equal(t, lead.AgreementInsufficient, v.Agreement)
	assert.InDelta(t, 70, v.FinalScore, 1e-9)
	assert.InDelta(t, 0.5, v.Confidence, 1e-9)
	assert.Len(t, v.ContributingResults, 3)
}

func TestReconcileAllFailedIsInsufficient(t *testing.T) {
	results := []lead.JudgeResult{
		failedWith("a", lead.StatusTimeout),
		failedWith("b", lead.StatusTimeout),
	}
	v := consensus.Reconcile("lead-1", results, policy())

	assert.Equal(t, lead.AgreementInsufficient, v.Agreement)
	assert.Zero(t, v.FinalScore)
	assert.Zero(t, v.Confidence)
	assert.Contains(t, v.ReconciliationNote, "a=timeout")
	assert.Contains(t, v.ReconciliationNote, "b=timeout")
}

func TestReconcileOrderIndependent(t *testing.T) {
	results := []lead.JudgeResult{
		ok("a", 20),
		ok("b", 85),
		ok("c", 82),
		failedWith("d", lead.StatusProviderError),
	}
	want := consensus.Reconcile("lead-1", results, policy())

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]lead.JudgeResult, len(results))
		copy(shuffled, results)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := consensus.Reconcile("lead-1", shuffled, policy())
		got.DecidedAt = want.DecidedAt
		assert.Equal(t, want, got)
	}
}

func TestReconcileTrustWeightedMean(t *testing.T) {
	pol := policy()
	pol.TrustWeights = map[string]float64{"a": 3, "b": 1}

	v := consensus.Reconcile("lead-1", []lead.JudgeResult{ok("a", 80), ok("b", 88)}, pol)

	require.Equal(t, lead.AgreementUnanimous, v.Agreement)
	assert.InDelta(t, 82, v.FinalScore, 1e-9) // (80*3 + 88*1) / 4
}

func TestReconcileClusterTieBreakPrefersTrustedJudge(t *testing.T) {
	// Two disjoint clusters of two judges each; neither holds a strict
	// majority of the four usable results, so this stays Split regardless
	// of weights.
	pol := policy()
	pol.TrustWeights = map[string]float64{"d": 5}
	results := []lead.JudgeResult{ok("a", 10), ok("b", 12), ok("c", 80), ok("d", 82)}

	v := consensus.Reconcile("lead-1", results, pol)
	assert.Equal(t, lead.AgreementSplit, v.Agreement)

	// Add a fifth judge near the trusted cluster: now 3/5 is a strict
	// majority and the cluster containing the trusted judge wins.
	results = append(results, ok("e", 90))
	v = consensus.Reconcile("lead-1", results, pol)
	require.Equal(t, lead.AgreementMajority, v.Agreement)
	assert.InDelta(t, 84, v.FinalScore, 1e-9) // mean of 80, 82, 90
}

func TestReconcileFailedResultsNeverCountTowardConsensus(t *testing.T) {
	results := []lead.JudgeResult{
		ok("a", 80),
		ok("b", 84),
		failedWith("c", lead.StatusProviderError),
	}
	v := consensus.Reconcile("lead-1", results, policy())

	assert.Equal(t, lead.AgreementUnanimous, v.Agreement)
	assert.InDelta(t, 82, v.FinalScore, 1e-9)
	assert.Contains(t, v.ReconciliationNote, "c=provider_error")
}
