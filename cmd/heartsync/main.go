package main

import (
	"context"
	"log"
	"os"

	"heartsync/internal/api"
	"heartsync/internal/api/handler"
	"heartsync/internal/auth"
	"heartsync/internal/config"
	"heartsync/internal/provider"
	"heartsync/internal/reconcile"
	"heartsync/internal/store"
	"heartsync/pkg/router"
)

// @title HeartSync API
// @version 1.0
// @description Heart-rate session tracking and reconciliation service
// @BasePath /api/v1
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

	// Background sync checks run alongside the API in this process.
	scheduler := reconcile.NewScheduler(st, reconciler, cfg.Tick())
	go scheduler.Run(context.Background())

	r := router.New()
	api.RegisterRoutes(r, &handler.Handler{
		Store:           st,
		Reconciler:      reconciler,
		SessionDuration: cfg.SessionDuration(),
	})

	log.Fatal(r.Start(cfg.ListenAddr))
}
