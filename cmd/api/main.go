package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gorilla/sessions"

	"lms-chat-sync/core"
)

func main() {
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	if err := core.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("failed to prepare schema: %v", err)
	}

	// Gorilla cookie store for session management.
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))

	userRepo := core.NewPgAdminUserRepository(db)
	authService := core.NewRepositoryAuthService(userRepo)

	if err := core.BootstrapAdmin(ctx, userRepo, cfg); err != nil {
		log.Fatalf("bootstrap admin failed: %v", err)
	}

	svc, err := core.NewSyncService(ctx, cfg, db)
	if err != nil {
		log.Fatalf("failed to initialise chat sync: %v", err)
	}
	log.Printf("chat client mode=%s state=%s url=%s", svc.Chat.Mode(), svc.Chat.State(), svc.Chat.BaseURL())

	deps := core.RouterDeps{
		Config: cfg,
		Store:  store,
		Auth:   authService,
		Sync:   svc,
	}

	// Redis is optional for the API: without it sync runs only synchronously.
	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Printf("redis unavailable, queue endpoints disabled: %v", err)
	} else {
		defer redisClient.Close()
		deps.Queue = core.NewRedisQueue(redisClient)
		deps.Metrics = core.NewMetricsService(redisClient)
	}

	router := core.NewRouter(deps)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("starting api server on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
