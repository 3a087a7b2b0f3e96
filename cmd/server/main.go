package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scene-collab/internal/api"
	"scene-collab/internal/config"
	"scene-collab/internal/db"
	"scene-collab/internal/repository"
	"scene-collab/internal/services/relay"
	"scene-collab/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting scene collaboration relay...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing first so everything after it is observed.
	jaegerShutdown, err := telemetry.InitJaeger("scene-collab", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// The durable operation log is optional; without DB_HOST the relay
	// runs fully in-memory and room history dies with the process.
	var store relay.OperationStore
	if cfg.PersistenceEnabled() {
		database, err := db.NewGorm(cfg)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer database.Close()
		store = repository.NewOperationRepository(database.DB)
	} else {
		log.Println("  Operation log persistence disabled (DB_HOST not set)")
	}

	registry := relay.NewRegistry(relay.RegistryConfig{
		RateLimit:     cfg.RateLimit,
		MaxOperations: cfg.MaxOperations,
		ChatMaxLength: cfg.ChatMaxLength,
		RoomTimeout:   cfg.RoomTimeout,
	}, store)
	registry.StartMaintenance(cfg.MaintenanceInterval)

	wsHandler := relay.NewHandler(registry)
	handler := api.NewHandler(registry, wsHandler)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Relay listening on http://%s", addr)
		log.Printf("   WS     /room/{roomId}  - join a collaboration room")
		log.Printf("   GET    /api/rooms      - room stats")
		log.Printf("   GET    /api/health     - liveness probe")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	registry.Shutdown()

	log.Println("✓ Relay shutdown complete")
}
