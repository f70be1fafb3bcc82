// Package judge wraps AI scoring backends behind a single capability:
// score one lead against one ICP profile.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"leadscout/internal/icp"
	"leadscout/internal/lead"
)

// Judge scores a lead against a profile. Implementations never panic into
// the caller and never return an error: every outcome, including timeouts
// and unparseable model output, is encoded in the JudgeResult status.
// Adapters are stateless across invocations.
type Judge interface {
	ID() string
	Score(ctx context.Context, ld lead.Lead, profile *icp.Profile) lead.JudgeResult
}

// Config describes one judge endpoint, normally supplied as a JSON array in
// the JUDGES env var.
type Config struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Model     string `json:"model"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
}

// FromEnv builds the judge set from the JUDGES env var. At least two judges
// are required for consensus to mean anything, but a single judge is allowed
// (its verdicts are flagged insufficient downstream).
func FromEnv() ([]Judge, error) {
	raw := os.Getenv("JUDGES")
	if raw == "" {
		return nil, fmt.Errorf("JUDGES is not set")
	}
	var cfgs []Config
	if err := json.Unmarshal([]byte(raw), &cfgs); err != nil {
		return nil, fmt.Errorf("parse JUDGES: %w", err)
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("JUDGES is empty")
	}
	judges := make([]Judge, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		if c.ID == "" || c.URL == "" || c.Model == "" {
			return nil, fmt.Errorf("judge config needs id, url and model: %+v", c)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate judge id %q", c.ID)
		}
		seen[c.ID] = true
		judges = append(judges, NewChatJudge(c))
	}
	return judges, nil
}
