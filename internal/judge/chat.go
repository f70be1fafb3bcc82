package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"leadscout/internal/icp"
	"leadscout/internal/lead"
)

// ChatJudge scores leads via an OpenAI-compatible chat-completions endpoint.
type ChatJudge struct {
	cfg    Config
	apiKey string
	client *http.Client
}

func NewChatJudge(cfg Config) *ChatJudge {
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	return &ChatJudge{cfg: cfg, apiKey: key, client: &http.Client{}}
}

func (j *ChatJudge) ID() string { return j.cfg.ID }

// Score obtains one structured judgment. Transient provider errors (network
// failures, 429, 5xx) are retried up to the profile's retry bound with
// exponential backoff and jitter. Unparseable model output is never retried:
// it signals a prompting problem, not transience, and a missing score is
// never substituted with zero.
func (j *ChatJudge) Score(ctx context.Context, ld lead.Lead, profile *icp.Profile) lead.JudgeResult {
	start := time.Now()
	res := lead.JudgeResult{JudgeID: j.cfg.ID, LeadID: ld.ID}

	content, err := j.complete(ctx, ld, profile)
	res.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			res.Status = lead.StatusTimeout
			res.Rationale = "judge call exceeded the per-lead deadline"
			return res
		}
		res.Status = lead.StatusProviderError
		res.Rationale = err.Error()
		return res
	}

	parsed, err := parseJudgment(content, profile.ScoringWeights)
	if err != nil {
		res.Status = lead.StatusInvalidOutput
		res.Rationale = fmt.Sprintf("unparseable model output: %v", err)
		return res
	}
	res.Status = lead.StatusOk
	res.Score = parsed.Score
	res.Rationale = parsed.Rationale
	res.CriteriaBreakdown = parsed.Criteria
	return res
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (j *ChatJudge) complete(ctx context.Context, ld lead.Lead, profile *icp.Profile) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: j.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(profile)},
			{Role: "user", Content: leadPrompt(ld)},
		},
	})
	if err != nil {
		return "", err
	}

	var content string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if j.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+j.apiKey)
		}
		resp, err := j.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err // network-level, retryable
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("provider %s: status %d: %s", j.cfg.ID, resp.StatusCode, truncate(string(raw), 200))
		default:
			return backoff.Permanent(fmt.Errorf("provider %s: status %d: %s", j.cfg.ID, resp.StatusCode, truncate(string(raw), 200)))
		}
		var out chatResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("provider %s: decode response: %w", j.cfg.ID, err))
		}
		if len(out.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("provider %s: empty choices", j.cfg.ID))
		}
		content = out.Choices[0].Message.Content
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	retries := uint64(profile.Policy.JudgeRetries)
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx)); err != nil {
		return "", err
	}
	return content, nil
}

// judgment is the strict JSON shape the model must emit.
type judgment struct {
	Score     *float64           `json:"score"`
	Rationale string             `json:"rationale"`
	Criteria  map[string]float64 `json:"criteria,omitempty"`
}

type parsedJudgment struct {
	Score     float64
	Rationale string
	Criteria  map[string]float64
}

// parseJudgment enforces the parse-or-fail boundary around free-form model
// text. Anything that does not decode to the exact shape, carry a numeric
// score in [0,100] and stay within the profile's criteria fails outright.
func parseJudgment(content string, weights map[string]float64) (parsedJudgment, error) {
	text := stripFences(content)
	var jm judgment
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jm); err != nil {
		return parsedJudgment{}, fmt.Errorf("decode: %w", err)
	}
	if jm.Score == nil {
		return parsedJudgment{}, fmt.Errorf("score field missing")
	}
	if *jm.Score < 0 || *jm.Score > 100 {
		return parsedJudgment{}, fmt.Errorf("score %v outside [0,100]", *jm.Score)
	}
	for name := range jm.Criteria {
		if _, ok := weights[name]; !ok {
			return parsedJudgment{}, fmt.Errorf("unknown criterion %q", name)
		}
	}
	return parsedJudgment{Score: *jm.Score, Rationale: jm.Rationale, Criteria: jm.Criteria}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func systemPrompt(profile *icp.Profile) string {
	criteria := make([]string, 0, len(profile.ScoringWeights))
	for name := range profile.ScoringWeights {
		criteria = append(criteria, name)
	}
	sort.Strings(criteria)
	icpJSON, _ := json.Marshal(profile)
	return fmt.Sprintf(`You score B2B sales leads against an ideal customer profile.

Ideal customer profile:
%s

Respond with ONLY a JSON object, no prose and no markdown fences:
{"score": <number 0-100>, "rationale": "<one paragraph>", "criteria": {<criterion>: <number 0-100>}}

Valid criteria keys: %s`, icpJSON, strings.Join(criteria, ", "))
}

func leadPrompt(ld lead.Lead) string {
	b, _ := json.Marshal(ld)
	return "Score this lead:\n" + string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
