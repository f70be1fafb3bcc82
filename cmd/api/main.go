package main

import (
	"log"
	"os"

	"github.com/hibiken/asynq"

	httpSrv "leadscout/internal/http"
	"leadscout/internal/icp"
	"leadscout/internal/migrations"
	"leadscout/internal/store"
)

func main() {
	// A malformed ICP document aborts the run before any scoring occurs.
	profile, err := icp.Load(os.Getenv("ICP_PATH"))
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("loaded ICP for %q (config %s)", profile.Industry, profile.ConfigHash()[:12])

	// Run embedded migrations (idempotent)
	migrations.Run()

	gateway := store.MustOpen()
	asq := asynq.NewClient(asynq.RedisClientOpt{Addr: os.Getenv("REDIS_ADDR")})
	srv := httpSrv.NewServer(gateway, asq, profile)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
