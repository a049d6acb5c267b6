package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/configs"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/adapters"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/events"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/postgres"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/rabbitmq"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/redis"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/scheduler"
)

var postgresIsReady, rabbitIsReady bool

func main() {
	cfg := configs.InitConfig()

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	postgresIsReady = true
	slog.Info("Postgres connection has been initialized successfully")

	bus := events.NewBus()
	bus.SubscribeFunc(func(ev domain.Event) {
		slog.Info("scheduler event", "event", ev.Name, "fields", ev.Fields)
	})

	eventPublisher, err := rabbitmq.NewEventPublisher(ctx, cfg.RabbitMQ.ToRabbitConnectionUri(), cfg.RabbitMQ.EventsQueueName)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = eventPublisher.Close()
		if err != nil {
			slog.Error("An error occurred while closing RabbitMQ connection", "error", err.Error())
		}
	}()
	bus.Subscribe(eventPublisher)
	rabbitIsReady = true
	slog.Info("RabbitMQ event publisher has been initialized successfully")

	registry := adapters.NewRegistry(storage)
	// Real platform adapters are registered by deployment-specific wiring;
	// dry-run adapters keep a bare worker honest about what it would do.
	for _, platformType := range []string{"onlyfans", "fansly", "instagram", "twitter"} {
		registry.Register(platformType, adapters.NewLogging(platformType))
	}

	opts := []scheduler.Option{scheduler.WithMaxConcurrent(cfg.Scheduler.MaxConcurrent)}

	if cfg.Scheduler.UseClaimLock {
		redisClient, err := redis.NewClient(ctx, cfg.RedisConfig.ToRedisConnectionUri())
		if err != nil {
			log.Fatal(err)
		}
		defer func() {
			err = redisClient.Close()
			if err != nil {
				slog.Error("An error occurred while closing Redis connection", "error", err.Error())
			}
		}()
		opts = append(opts, scheduler.WithDistributedLock(redisClient))
		slog.Info("Redis claim lock has been initialized successfully")
	}

	sched := scheduler.New(storage, registry, bus, opts...)
	sched.StartPolling(time.Duration(cfg.Scheduler.PollIntervalMs) * time.Millisecond)

	go setUpHealthCheckerAPIs(ctx, cfg, storage, eventPublisher, sched)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Worker is running. To exit press CTRL+C")
	<-sigChan
	slog.Info("Worker is shutting down...")

	graceCtx, graceCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Scheduler.ShutdownGraceSeconds)*time.Second)
	defer graceCancel()
	if err := sched.Shutdown(graceCtx); err != nil {
		slog.Error("Worker shut down with executions still in flight; run the recovery sweep before restarting", "error", err.Error())
		return
	}
	slog.Info("Worker shut down cleanly")
}

func setUpHealthCheckerAPIs(ctx context.Context, cfg *configs.Config, storage domain.TaskStore, eventPublisher *rabbitmq.EventPublisher, sched *scheduler.Scheduler) {
	r := gin.Default()
	r.GET("/readiness", func(c *gin.Context) {
		if postgresIsReady && rabbitIsReady {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		err := storage.Ping(ctx)
		if err != nil {
			slog.Error("Postgresql seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		if !eventPublisher.IsHealthy() {
			slog.Error("Rabbit is not healthy")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "up",
			"polling":   sched.IsPolling(),
			"in_flight": sched.CurrentExecutionCount(),
		})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Printf("Starting health server on port %s\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
