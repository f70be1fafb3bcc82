// Package worker consumes scoring tasks from Redis via asynq. A run:start
// task expands one run into per-lead lead:score tasks; each lead:score task
// drives the orchestrator for a single lead. Worker concurrency is the
// bounded in-flight lead limit.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/hibiken/asynq"

	"leadscout/internal/lead"
	"leadscout/internal/orchestrator"
	"leadscout/internal/store"
)

const (
	TaskRunStart  = "run:start"
	TaskLeadScore = "lead:score"
)

type RunStartPayload struct {
	RunID string `json:"run_id"`
}

type LeadScorePayload struct {
	RunID  string `json:"run_id"`
	LeadID string `json:"lead_id"`
}

// Enqueuer is the slice of asynq.Client the handlers use.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Server struct {
	Store store.Gateway
	Orch  *orchestrator.Orchestrator
	Asynq Enqueuer
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRunStart, s.handleRunStart)
	mux.HandleFunc(TaskLeadScore, s.handleLeadScore)
	return mux
}

// handleRunStart reads the pending leads and enqueues one scoring task per
// lead. Task ids are derived from (run, lead), so a re-delivered run:start
// task cannot double-enqueue a lead.
func (s *Server) handleRunStart(ctx context.Context, t *asynq.Task) error {
	var p RunStartPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode run:start payload: %w", err)
	}
	log.Printf("run %s: reading pending leads", p.RunID)

	leads, err := s.Store.ReadPendingLeads(ctx)
	if err != nil {
		return fmt.Errorf("run %s: read pending leads: %w", p.RunID, err)
	}
	if err := s.Store.SetRunTotal(ctx, p.RunID, len(leads)); err != nil {
		return err
	}
	_ = s.Store.AppendLog(ctx, store.LogEntry{
		EventType: "run_started",
		Message:   fmt.Sprintf("run %s: %d pending leads", p.RunID, len(leads)),
		Status:    "ok",
	})
	if len(leads) == 0 {
		return s.Store.FinishRun(ctx, p.RunID)
	}

	for _, ld := range leads {
		payload, err := json.Marshal(LeadScorePayload{RunID: p.RunID, LeadID: ld.ID})
		if err != nil {
			return err
		}
		task := asynq.NewTask(TaskLeadScore, payload)
		_, err = s.Asynq.EnqueueContext(ctx, task,
			asynq.TaskID(fmt.Sprintf("%s:%s:%s", TaskLeadScore, p.RunID, ld.ID)),
			asynq.MaxRetry(2))
		if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			return fmt.Errorf("run %s: enqueue lead %s: %w", p.RunID, ld.ID, err)
		}
	}
	log.Printf("run %s: enqueued %d leads", p.RunID, len(leads))
	return nil
}

// handleLeadScore scores one lead end to end. Per-lead failures are recorded
// on the run and in the score log; they never abort the batch. Only a
// cancelled context is returned as an error so asynq re-delivers after a
// worker shutdown.
func (s *Server) handleLeadScore(ctx context.Context, t *asynq.Task) error {
	var p LeadScorePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode lead:score payload: %w", err)
	}

	ld, err := s.Store.GetLead(ctx, p.LeadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("run %s: lead %s vanished from the store", p.RunID, p.LeadID)
			return nil
		}
		return err
	}

	v, err := s.Orch.ScoreLead(ctx, p.RunID, ld)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		log.Printf("run %s: lead %s failed: %v", p.RunID, p.LeadID, err)
		_ = s.Store.MarkLeadStatus(ctx, p.LeadID, store.LeadFailed)
		_ = s.Store.IncrementRunOutcome(ctx, p.RunID, store.OutcomeFailed)
		_ = s.Store.AppendLog(ctx, store.LogEntry{
			EventType: "lead_failed",
			Message:   fmt.Sprintf("run %s lead %s", p.RunID, p.LeadID),
			Status:    "error",
			Details:   err.Error(),
		})
		return s.maybeFinishRun(ctx, p.RunID)
	}

	outcome := store.OutcomeReconciled
	if v.Agreement == lead.AgreementInsufficient {
		outcome = store.OutcomeInsufficient
	}
	if err := s.Store.MarkLeadStatus(ctx, p.LeadID, store.LeadScored); err != nil {
		return err
	}
	if err := s.Store.IncrementRunOutcome(ctx, p.RunID, outcome); err != nil {
		return err
	}
	_ = s.Store.AppendLog(ctx, store.LogEntry{
		EventType: "lead_scored",
		Message:   fmt.Sprintf("run %s lead %s: %s score %.1f confidence %.2f", p.RunID, p.LeadID, v.Agreement, v.FinalScore, v.Confidence),
		Status:    "ok",
	})
	return s.maybeFinishRun(ctx, p.RunID)
}

func (s *Server) maybeFinishRun(ctx context.Context, runID string) error {
	r, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Total > 0 && r.Reconciled+r.Insufficient+r.Failed >= r.Total && r.FinishedAt == nil {
		log.Printf("run %s finished: %d reconciled, %d insufficient, %d failed",
			runID, r.Reconciled, r.Insufficient, r.Failed)
		return s.Store.FinishRun(ctx, runID)
	}
	return nil
}

// Concurrency reads WORKER_CONCURRENCY, defaulting to 5.
func Concurrency() int {
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 5
}

func Run(addr string, st store.Gateway, orch *orchestrator.Orchestrator) error {
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: addr}, asynq.Config{Concurrency: Concurrency()})
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: addr})
	defer client.Close()
	w := &Server{Store: st, Orch: orch, Asynq: client}
	return srv.Run(w.mux())
}
