package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type ingestResp struct {
	Ingested int      `json:"ingested"`
	LeadIDs  []string `json:"lead_ids"`
}

type createRunResp struct {
	RunID      string `json:"run_id"`
	ConfigHash string `json:"config_hash"`
}

type runResp struct {
	ID           string `json:"id"`
	Total        int    `json:"total"`
	Reconciled   int    `json:"reconciled"`
	Insufficient int    `json:"insufficient"`
	Failed       int    `json:"failed"`
	FinishedAt   any    `json:"finished_at"`
}

type verdictResp struct {
	LeadID     string  `json:"lead_id"`
	FinalScore float64 `json:"final_score"`
	Confidence float64 `json:"confidence"`
	Agreement  string  `json:"agreement"`
	Note       string  `json:"reconciliation_note"`
}

func main() {
	base := envOr("API_BASE_URL", "http://localhost:8000")
	apiToken := envOr("API_TOKEN", "dev-secret-token")
	ingestToken := envOr("INGEST_TOKEN", "dev-ingest-token")

	baseFlag := flag.String("base", base, "API base URL (e.g., http://localhost:8000)")
	tokenFlag := flag.String("token", apiToken, "API token for admin endpoints")
	ingestFlag := flag.String("ingest-token", ingestToken, "token for lead ingestion")
	wait := flag.Duration("wait", 90*time.Second, "How long to poll for the run to finish")
	flag.Parse()

	httpc := &http.Client{Timeout: 12 * time.Second}

	// 1) Ingest sample leads
	leads := map[string]any{
		"leads": []map[string]any{
			{
				"company_name":  "Acme Freight Systems",
				"domain":        "acmefreight.example",
				"contact_title": "VP Operations",
				"raw_attributes": map[string]string{
					"employee_count": "240",
					"tech_stack":     "SAP TM, Excel",
					"signal":         "hiring a Head of Logistics Automation",
				},
			},
			{
				"company_name":  "Bluewater Imports",
				"domain":        "bluewaterimports.example",
				"contact_title": "Director of Supply Chain",
				"raw_attributes": map[string]string{
					"employee_count": "85",
					"signal":         "opened a second distribution center",
				},
			},
			{
				"company_name":  "Pixel Bakery",
				"domain":        "pixelbakery.example",
				"contact_title": "Owner",
				"raw_attributes": map[string]string{
					"employee_count": "6",
				},
			},
		},
	}
	var ingested ingestResp
	if err := postJSON(httpc, *baseFlag+"/leads", *ingestFlag, leads, &ingested); err != nil {
		fatalf("ingest leads: %v", err)
	}
	fmt.Printf("✅ Ingested %d leads: %v\n", ingested.Ingested, ingested.LeadIDs)

	// 2) Start a scoring run
	var run createRunResp
	if err := postJSON(httpc, *baseFlag+"/runs", *tokenFlag, nil, &run); err != nil {
		fatalf("create run: %v", err)
	}
	fmt.Printf("✅ Started run %s under config %s\n", run.RunID, run.ConfigHash[:12])

	// 3) Poll the run until it finishes
	deadline := time.Now().Add(*wait)
	var r runResp
	for {
		if err := getJSON(httpc, fmt.Sprintf("%s/runs/%s", *baseFlag, run.RunID), *tokenFlag, &r); err != nil {
			fatalf("get run: %v", err)
		}
		done := r.Total > 0 && r.Reconciled+r.Insufficient+r.Failed >= r.Total
		fmt.Printf("   run %s: %d/%d scored (%d reconciled, %d insufficient, %d failed)\n",
			run.RunID, r.Reconciled+r.Insufficient+r.Failed, r.Total, r.Reconciled, r.Insufficient, r.Failed)
		if done {
			break
		}
		if time.Now().After(deadline) {
			fatalf("run did not finish within %s", *wait)
		}
		time.Sleep(3 * time.Second)
	}

	// 4) Read each verdict
	for _, id := range ingested.LeadIDs {
		var v verdictResp
		if err := getJSON(httpc, fmt.Sprintf("%s/leads/%s/verdict", *baseFlag, id), *tokenFlag, &v); err != nil {
			fmt.Printf("ℹ️  no verdict for lead %s: %v\n", id, err)
			continue
		}
		fmt.Printf("✅ Lead %s: score %.1f confidence %.2f (%s) — %s\n",
			id, v.FinalScore, v.Confidence, v.Agreement, v.Note)
	}

	fmt.Printf("🎉 Smoke run OK. RunID=%s\n", run.RunID)
}

// --- helpers ---

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func postJSON(c *http.Client, url, bearer string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, r)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := c.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("POST %s -> %d: %s", url, res.StatusCode, string(b))
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

func getJSON(c *http.Client, url, bearer string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := c.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("GET %s -> %d: %s", url, res.StatusCode, string(b))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func fatalf(format string, args ...any) {
	fmt.Printf("❌ "+format+"\n", args...)
	os.Exit(1)
}
