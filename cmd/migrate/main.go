package main

import (
	"fmt"
	"log/slog"
	"os"

	"fintrack/internal/config"
	"fintrack/internal/db"
	"fintrack/internal/log"
)

func main() {
	cfg := config.Load()
	logger := log.New("migrate", slog.LevelInfo)

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	var err error
	switch direction {
	case "up":
		err = db.RunMigrations(cfg.DatabaseURL)
	case "down":
		err = db.RollbackMigration(cfg.DatabaseURL)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [up|down]\n", os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migration failed", "direction", direction, "error", err)
		os.Exit(1)
	}
	logger.Info("migration complete", "direction", direction)
}
