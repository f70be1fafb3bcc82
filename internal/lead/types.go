package lead

import "time"

// Lead is a candidate produced by the discovery step. The scoring core
// never mutates it.
type Lead struct {
	ID            string            `json:"id"`
	CompanyName   string            `json:"company_name"`
	Domain        string            `json:"domain"`
	ContactTitle  string            `json:"contact_title,omitempty"`
	RawAttributes map[string]string `json:"raw_attributes,omitempty"`
	DiscoveredAt  time.Time         `json:"discovered_at"`
}

// JudgeStatus is the outcome of one judge invocation.
type JudgeStatus string

const (
	StatusOk            JudgeStatus = "ok"
	StatusTimeout       JudgeStatus = "timeout"
	StatusInvalidOutput JudgeStatus = "invalid_output"
	StatusProviderError JudgeStatus = "provider_error"
)

// JudgeResult is one judge's verdict on one lead. A result is written once;
// a retry inside an adapter produces a fresh result, never an edit.
type JudgeResult struct {
	JudgeID           string             `json:"judge_id"`
	LeadID            string             `json:"lead_id"`
	Score             float64            `json:"score"`
	Rationale         string             `json:"rationale,omitempty"`
	CriteriaBreakdown map[string]float64 `json:"criteria_breakdown,omitempty"`
	LatencyMS         int64              `json:"latency_ms"`
	Status            JudgeStatus        `json:"status"`
}

// Usable reports whether the result carries a trustworthy score.
func (r JudgeResult) Usable() bool { return r.Status == StatusOk }

// Agreement classifies how strongly the judges agreed.
type Agreement string

const (
	AgreementUnanimous    Agreement = "unanimous"
	AgreementMajority     Agreement = "majority"
	AgreementSplit        Agreement = "split"
	AgreementInsufficient Agreement = "insufficient"
)

// Verdict is the reconciled outcome for one lead under one ICP config.
// Exactly one verdict exists per (lead, config hash); reruns overwrite it.
type Verdict struct {
	LeadID              string        `json:"lead_id"`
	ConfigHash          string        `json:"config_hash"`
	RunID               string        `json:"run_id,omitempty"`
	FinalScore          float64       `json:"final_score"`
	Confidence          float64       `json:"confidence"`
	Agreement           Agreement     `json:"agreement"`
	ContributingResults []JudgeResult `json:"contributing_results"`
	ReconciliationNote  string        `json:"reconciliation_note,omitempty"`
	AuditRef            string        `json:"audit_ref,omitempty"`
	DecidedAt           time.Time     `json:"decided_at"`
}
