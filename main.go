package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"quizrally/config"
	"quizrally/handlers"
	"quizrally/middleware"
	"quizrally/routes"
	"quizrally/services"
	"quizrally/store"
	"quizrally/tasks"
	"quizrally/worker"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func main() {
	cfg := config.Load()
	log := config.InitLogger(cfg)

	if cfg.CodeLength != 5 && cfg.CodeLength != 6 {
		log.Fatalf("unsupported CODE_LENGTH %d: shards serve 5- or 6-char codes", cfg.CodeLength)
	}

	// Storage backend is chosen once here, never toggled at runtime.
	var st store.Store
	switch cfg.StorageBackend {
	case "memory":
		st = store.NewMemoryStore()
	case "postgres":
		db, err := config.InitDB(cfg)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		gs := store.NewGormStore(db)
		if err := gs.Migrate(); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		st = gs
	default:
		log.Fatalf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	redisClient := config.InitRedis(cfg)
	snapshots := services.NewSnapshots(redisClient, log)

	redisOpt := asynq.RedisClientOpt{Addr: config.RedisAddr(cfg)}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	archiver := tasks.NewEnqueuer(asynqClient, log)

	registry := services.NewRegistry(services.RegistryConfig{
		ShardID:    cfg.ShardID,
		CodeLength: cfg.CodeLength,
		Timing: services.Timing{
			StartDelay:       cfg.StartDelay,
			RevealDelay:      cfg.RevealDelay,
			LeaderboardDelay: cfg.LeaderboardDelay,
		},
		IdleRoomTTL: cfg.IdleRoomTTL,
	}, st, snapshots, archiver, services.RealClock(), log)

	workerServer := worker.NewServer(redisOpt, st, snapshots, log)
	go workerServer.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go registry.RunSweeper(ctx, cfg.SweepInterval, cfg.HeartbeatThreshold)

	roomHandler := handlers.NewRoomHandler(registry, cfg.JWTSecret, services.RealClock())

	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, roomHandler, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.BindAddress + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.WithField("addr", server.Addr).WithField("shard", cfg.ShardID).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	registry.Close()
	workerServer.Shutdown()
}
