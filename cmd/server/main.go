package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/configs"
	db2 "github.com/KofiRusu/OFAuto-v1.2-sub005/db"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/adapters"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/dispatcher"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/errval"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/events"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/postgres"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/rabbitmq"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/ratelimit"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/scheduler"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/server"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var postgresIsReady, rabbitIsReady bool

func main() {
	cfg := configs.InitConfig()

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	d, err := iofs.New(db2.Migrations, "migrations")
	if err != nil {
		log.Fatal(err)
		return
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, cfg.Database.ToMigrationUri())
	if err != nil {
		log.Fatal(err)
		return
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal(err)
		}
	}
	slog.Info("Migrations ran successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	postgresIsReady = true
	slog.Info("Postgres connection has been initialized successfully")

	bus := events.NewBus()
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

	sched := scheduler.New(storage, registry, bus, scheduler.WithMaxConcurrent(cfg.Scheduler.MaxConcurrent))
	disp := dispatcher.New(storage, registry, ratelimit.New(), bus)

	// The API server only schedules and inspects; polling belongs to the
	// worker process.
	router := setupHTTPServer(storage, eventPublisher, sched, disp)
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("Starting server on port %s\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerTimeOutInSeconds)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

func setupHTTPServer(storage domain.TaskStore, eventPublisher *rabbitmq.EventPublisher, sched *scheduler.Scheduler, disp *dispatcher.Dispatcher) *gin.Engine {
	r := gin.Default()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("validate_task_type", validateTaskType)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_task_type")
		}

		err = v.RegisterValidation("validate_payload", validatePayload)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_payload")
		}
	}

	serverLogic := server.NewServerLogic(sched, disp)

	tasks := r.Group("/tasks")
	tasks.POST("", func(c *gin.Context) {
		req := domain.RouterRequestScheduleTask{}
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		taskID, err := serverLogic.ScheduleTask(c, req)
		if err != nil {
			if errors.Is(err, errval.ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"task_id": taskID})
	})

	tasks.GET("", func(c *gin.Context) {
		clientID := c.Query("client_id")
		status := c.Query("status")
		limit := intQuery(c, "limit", domain.DefaultListLimit)
		offset := intQuery(c, "offset", 0)

		list, err := serverLogic.ListTasks(c, clientID, status, limit, offset)
		if err != nil {
			if errors.Is(err, errval.ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"tasks": list})
	})

	tasks.POST("/:id/cancel", func(c *gin.Context) {
		err := serverLogic.CancelTask(c, c.Param("id"))
		if err != nil {
			respondOperationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	})

	tasks.POST("/:id/reschedule", func(c *gin.Context) {
		req := domain.RouterRequestRescheduleTask{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		err := serverLogic.RescheduleTask(c, c.Param("id"), req.ScheduledAt)
		if err != nil {
			respondOperationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rescheduled": true})
	})

	campaigns := r.Group("/campaigns")
	campaigns.POST("/:id/messages", func(c *gin.Context) {
		req := domain.RouterRequestScheduleDM{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		msg, err := serverLogic.ScheduleDM(c, c.Param("id"), req)
		if err != nil {
			respondOperationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": msg})
	})

	messages := r.Group("/messages")
	messages.POST("/:id/engagement/:kind", func(c *gin.Context) {
		kind := domain.EngagementKind(c.Param("kind"))
		switch kind {
		case domain.EngagementOpen, domain.EngagementResponse, domain.EngagementConversion:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown engagement kind"})
			return
		}

		if err := serverLogic.RecordEngagement(c, c.Param("id"), kind); err != nil {
			respondOperationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"recorded": true})
	})

	r.GET("/readiness", func(c *gin.Context) {
		if postgresIsReady && rabbitIsReady {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		err := storage.Ping(c)
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

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	return r
}

func respondOperationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errval.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{})
	case errors.Is(err, errval.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errval.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{})
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

var validateTaskType validator.Func = func(fl validator.FieldLevel) bool {
	taskType := fl.Field().String()
	switch taskType {
	case "post", "message", "pricingUpdate":
		return true
	default:
		return false
	}
}

var validatePayload validator.Func = func(fl validator.FieldLevel) bool {
	payload, ok := fl.Field().Interface().(map[string]any)
	if !ok {
		return false
	}
	return len(payload) > 0
}
