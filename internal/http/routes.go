package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"leadscout/internal/icp"
	"leadscout/internal/lead"
	"leadscout/internal/store"
	"leadscout/internal/worker"
)

type Server struct {
	Store   store.Gateway
	Asynq   worker.Enqueuer
	Profile *icp.Profile
}

func NewServer(st store.Gateway, asq worker.Enqueuer, profile *icp.Profile) *http.Server {
	s := &Server{Store: st, Asynq: asq, Profile: profile}
	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, m.Logger, m.Recoverer)

	// Admin/API-token protected
	r.Group(func(r chi.Router) {
		r.Use(RequireAPIToken)
		r.Post("/runs", s.createRun)
		r.Get("/runs/{id}", s.getRun)
		r.Get("/leads/{id}/verdict", s.getVerdict)
	})

	// Ingest token (the discovery step pushes candidate leads here)
	r.Group(func(r chi.Router) {
		r.Use(RequireIngestToken)
		r.Post("/leads", s.ingestLeads)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"status":"db error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &http.Server{Addr: ":8000", Handler: r}
}

type ingestRequest struct {
	Leads []lead.Lead `json:"leads"`
}

type ingestResp struct {
	Ingested int      `json:"ingested"`
	LeadIDs  []string `json:"lead_ids"`
}

type createRunResp struct {
	RunID      string `json:"run_id"`
	ConfigHash string `json:"config_hash"`
}

type errResp struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) ingestLeads(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}
	if len(req.Leads) == 0 {
		writeJSON(w, 400, errResp{"no leads in request"})
		return
	}
	ids := make([]string, 0, len(req.Leads))
	for _, ld := range req.Leads {
		if ld.CompanyName == "" {
			writeJSON(w, 400, errResp{"lead is missing company_name"})
			return
		}
		if ld.ID == "" {
			ld.ID = uuid.NewString()
		}
		if ld.DiscoveredAt.IsZero() {
			ld.DiscoveredAt = time.Now().UTC()
		}
		if err := s.Store.InsertLead(r.Context(), ld); err != nil {
			writeJSON(w, 500, errResp{err.Error()})
			return
		}
		ids = append(ids, ld.ID)
	}
	writeJSON(w, 200, ingestResp{Ingested: len(ids), LeadIDs: ids})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	run := store.Run{ID: id, ConfigHash: s.Profile.ConfigHash(), StartedAt: time.Now().UTC()}
	if err := s.Store.CreateRun(r.Context(), run); err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	payload, _ := json.Marshal(worker.RunStartPayload{RunID: id})
	task := asynq.NewTask(worker.TaskRunStart, payload)
	if _, err := s.Asynq.EnqueueContext(r.Context(), task,
		asynq.TaskID(fmt.Sprintf("%s:%s", worker.TaskRunStart, id)),
		asynq.MaxRetry(1)); err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	writeJSON(w, 200, createRunResp{RunID: id, ConfigHash: s.Profile.ConfigHash()})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, 404, errResp{"not found"})
			return
		}
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	writeJSON(w, 200, run)
}

func (s *Server) getVerdict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := s.Store.GetVerdict(r.Context(), id, s.Profile.ConfigHash())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, 404, errResp{"no verdict for lead under current profile"})
			return
		}
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	writeJSON(w, 200, v)
}
