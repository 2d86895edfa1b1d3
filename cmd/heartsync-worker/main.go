package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"heartsync/internal/auth"
	"heartsync/internal/config"
	"heartsync/internal/provider"
	"heartsync/internal/reconcile"
	"heartsync/internal/store"
)

// heartsync-worker runs the reconciliation scheduler without the API, for
// deployments that keep the front door and the sync loop in separate
// processes.
func main() {
	cfg, err := config.Load(os.Getenv("HEARTSYNC_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	tokens := auth.NewManager(st, cfg.TokenURL, cfg.ClientID, cfg.ClientSecret)
	samples := provider.NewClient(cfg.ProviderURL)
	reconciler := reconcile.NewReconciler(st, tokens, samples, cfg.Buffer())
	scheduler := reconcile.NewScheduler(st, reconciler, cfg.Tick())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Run(ctx)
}
