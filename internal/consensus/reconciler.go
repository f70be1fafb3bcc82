// Package consensus reconciles independent judge results into one verdict.
package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"leadscout/internal/icp"
	"leadscout/internal/lead"
)

// Confidence assigned when exactly one judge produced a usable score.
const singleJudgeConfidence = 0.5

// Split verdicts are capped here so downstream consumers can filter them.
const splitConfidenceCap = 0.4

// Reconcile folds the judge results for one lead into a Verdict. It is a
// pure function: the same set of results yields the same verdict in any
// input order (results are sorted internally before cluster detection).
// Every result, usable or failed, lands in ContributingResults.
func Reconcile(leadID string, results []lead.JudgeResult, pol icp.ScoringPolicy) lead.Verdict {
	contributing := make([]lead.JudgeResult, len(results))
	copy(contributing, results)
	sort.Slice(contributing, func(i, j int) bool {
		return contributing[i].JudgeID < contributing[j].JudgeID
	})

	v := lead.Verdict{
		LeadID:              leadID,
		ContributingResults: contributing,
		DecidedAt:           time.Now().UTC(),
	}

	var usable, failed []lead.JudgeResult
	for _, r := range contributing {
		if r.Usable() {
			usable = append(usable, r)
		} else {
			failed = append(failed, r)
		}
	}

	switch len(usable) {
	case 0:
		v.Agreement = lead.AgreementInsufficient
		v.ReconciliationNote = "no usable judge results: " + failureSummary(failed)
		return v
	case 1:
		// A single judge is never treated as consensus, however plausible
		// the score looks.
		v.Agreement = lead.AgreementInsufficient
		v.FinalScore = usable[0].Score
		v.Confidence = singleJudgeConfidence
		v.ReconciliationNote = fmt.Sprintf("single usable judge %s; %s", usable[0].JudgeID, failureSummary(failed))
		return v
	}

	sort.Slice(usable, func(i, j int) bool {
		if usable[i].Score != usable[j].Score {
			return usable[i].Score < usable[j].Score
		}
		return usable[i].JudgeID < usable[j].JudgeID
	})
	spread := usable[len(usable)-1].Score - usable[0].Score

	if spread <= pol.AgreementThreshold {
		v.Agreement = lead.AgreementUnanimous
		v.FinalScore = weightedMean(usable, pol)
		v.Confidence = 1 - spread/100
		v.ReconciliationNote = fmt.Sprintf("all %d judges within %.1f points (spread %.1f)", len(usable), pol.AgreementThreshold, spread)
		if len(failed) > 0 {
			v.ReconciliationNote += "; " + failureSummary(failed)
		}
		return v
	}

	if cluster, ok := majorityCluster(usable, pol); ok {
		v.Agreement = lead.AgreementMajority
		v.FinalScore = mean(cluster)
		v.Confidence = 0.5 + 0.5*float64(len(cluster))/float64(len(usable))
		v.ReconciliationNote = fmt.Sprintf("majority cluster %d/%d within %.1f points; outliers excluded: %s",
			len(cluster), len(usable), pol.AgreementThreshold, outlierSummary(usable, cluster))
		if len(failed) > 0 {
			v.ReconciliationNote += "; " + failureSummary(failed)
		}
		return v
	}

	// No cluster: keep every judge visible in the average instead of
	// silently discarding one side of the disagreement.
	v.Agreement = lead.AgreementSplit
	v.FinalScore = mean(usable)
	v.Confidence = math.Min(splitConfidenceCap, math.Max(0, 1-spread/100))
	v.ReconciliationNote = fmt.Sprintf("judges split beyond threshold %.1f (spread %.1f)", pol.AgreementThreshold, spread)
	if len(failed) > 0 {
		v.ReconciliationNote += "; " + failureSummary(failed)
	}
	return v
}

// majorityCluster finds the largest window of score-sorted usable results
// whose spread stays within the agreement threshold and which holds a strict
// majority. Equal-size windows tie-break on the highest trust weight inside
// the window, then on the lower score window, so reruns are deterministic.
func majorityCluster(sorted []lead.JudgeResult, pol icp.ScoringPolicy) ([]lead.JudgeResult, bool) {
	bestStart, bestEnd := -1, -1
	bestSize := 0
	bestTrust := 0.0
	j := 0
	for i := range sorted {
		if j < i {
			j = i
		}
		for j+1 < len(sorted) && sorted[j+1].Score-sorted[i].Score <= pol.AgreementThreshold {
			j++
		}
		size := j - i + 1
		trust := maxTrust(sorted[i:j+1], pol)
		if size > bestSize || (size == bestSize && trust > bestTrust) {
			bestStart, bestEnd, bestSize, bestTrust = i, j, size, trust
		}
	}
	if bestSize*2 <= len(sorted) {
		return nil, false
	}
	return sorted[bestStart : bestEnd+1], true
}

func maxTrust(results []lead.JudgeResult, pol icp.ScoringPolicy) float64 {
	m := 0.0
	for _, r := range results {
		if w := pol.TrustWeight(r.JudgeID); w > m {
			m = w
		}
	}
	return m
}

func weightedMean(results []lead.JudgeResult, pol icp.ScoringPolicy) float64 {
	var sum, wsum float64
	for _, r := range results {
		w := pol.TrustWeight(r.JudgeID)
		sum += r.Score * w
		wsum += w
	}
	return sum / wsum
}

func mean(results []lead.JudgeResult) float64 {
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

func failureSummary(failed []lead.JudgeResult) string {
	if len(failed) == 0 {
		return "no failed judges"
	}
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("%s=%s", r.JudgeID, r.Status))
	}
	return "failed judges: " + strings.Join(parts, ", ")
}

func outlierSummary(usable, cluster []lead.JudgeResult) string {
	in := make(map[string]bool, len(cluster))
	for _, r := range cluster {
		in[r.JudgeID] = true
	}
	parts := make([]string, 0)
	for _, r := range usable {
		if !in[r.JudgeID] {
			parts = append(parts, fmt.Sprintf("%s=%.1f", r.JudgeID, r.Score))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
