package main

import (
	"context"
	"log"
	"os"

	"leadscout/internal/icp"
	"leadscout/internal/judge"
	"leadscout/internal/orchestrator"
	"leadscout/internal/storage"
	"leadscout/internal/store"
	"leadscout/internal/worker"
)

func main() {
	profile, err := icp.Load(os.Getenv("ICP_PATH"))
	if err != nil {
		log.Fatal(err)
	}
	judges, err := judge.FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("scoring with %d judges, per-lead deadline %s", len(judges), profile.Policy.LeadDeadline())

	gateway := store.MustOpen()
	archive, err := storage.New(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	orch := orchestrator.New(judges, profile, gateway, archive)
	if err := worker.Run(os.Getenv("REDIS_ADDR"), gateway, orch); err != nil {
		log.Fatal(err)
	}
}
