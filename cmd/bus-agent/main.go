package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schoolbus-backend/internal/agent"
	"schoolbus-backend/internal/localstore"
	"schoolbus-backend/internal/remote"
	"schoolbus-backend/internal/tracker"

	"github.com/joho/godotenv"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚌 BUS AGENT STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	}

	cfg, err := agent.LoadConfig()
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: invalid configuration: %v", err)
	}
	log.Printf("✅ Configuration loaded (school %s, server %s)", cfg.SchoolID, cfg.ServerURL)
	if cfg.DriverToken == "" {
		log.Println("⚠️  DRIVER_TOKEN not set - uploads will be rejected until it is configured")
	}

	store, err := localstore.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: local cache unavailable: %v", err)
	}
	defer store.Close()

	client := remote.NewClient(cfg.ServerURL, cfg.DriverToken, cfg.HTTPTimeout)
	positions := tracker.NewPositionTracker(cfg.PositionMaxAge, time.Now)
	a := agent.New(cfg, store, client, positions)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := a.Scheduler()
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("❌ FATAL ERROR: %v", err)
	}
	// Flush anything captured during the last session
	scheduler.Trigger(agent.ReasonManual)

	srv := &http.Server{
		Addr:              "127.0.0.1:" + cfg.Port,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("🚀 Agent API listening on http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("❌ Agent API failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutting down bus agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Agent API shutdown: %v", err)
	}
	scheduler.Stop()

	log.Println("✅ Bus agent stopped")
}
