// The recovery command is the reconciliation pass for tasks left stuck
// IN_PROGRESS by an abrupt worker exit: tasks past their execution window
// become FAILED, the rest return to PENDING for the next poll. Run it before
// (re)starting workers, or on a cron.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/configs"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/postgres"
)

func main() {
	cfg := configs.InitConfig()
	args := os.Args

	// Optional argument: only touch tasks whose updated_at is at least this
	// many seconds old, so a live worker's executions are left alone.
	staleSeconds := int64(60)
	if len(args) >= 2 {
		parsed, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Fatal("Invalid input is given for the staleSeconds arg, it must be an integer")
			return
		}
		staleSeconds = parsed
	}

	ctx := context.Background()
	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	slog.Info("Postgres connection has been initialized successfully")

	cutoff := time.Now().UTC().Add(-time.Duration(staleSeconds) * time.Second)
	slog.Info("Sweeping stale in-progress tasks", "cutoff", cutoff, "stale_seconds", staleSeconds)

	touched, err := storage.ResetStaleInProgress(ctx, cutoff)
	if err != nil {
		slog.Error("Error occurred while sweeping stale tasks", "error", err.Error())
		return
	}

	slog.Info("Stale in-progress tasks have been reset", "touched_count", touched)
}
