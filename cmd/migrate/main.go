// Package main is a CLI wrapper around the Postgres migration manager
// backing the event store, DLQ, and credential cache.
//
// Usage:
//
//	migrate up
//	migrate down [-steps N]
//	migrate steps -steps N
//	migrate force -version N
//	migrate status
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/sirupsen/logrus"

	"eventpipe/internal/config"
	"eventpipe/internal/infrastructure/database"
	"eventpipe/internal/migration"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	steps := fs.Int("steps", 1, "number of steps for down/steps commands")
	version := fs.Int("version", 0, "target version for the force command")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	pg, err := database.NewPostgresDB(cfg, bootstrapLogger)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pg.Close()

	manager, err := migration.New(pg, cfg.Database.MigrationsPath, newCLILogger())
	if err != nil {
		log.Fatalf("failed to initialize migration manager: %v", err)
	}
	defer manager.Close()

	switch command {
	case "up":
		if err := manager.Up(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		fmt.Println("migrations completed successfully")

	case "down":
		if err := manager.Steps(-*steps); err != nil {
			log.Fatalf("rollback failed: %v", err)
		}
		fmt.Printf("rolled back %d migration(s) successfully\n", *steps)

	case "steps":
		if err := manager.Steps(*steps); err != nil {
			log.Fatalf("migration step failed: %v", err)
		}
		fmt.Printf("ran %d migration step(s) successfully\n", *steps)

	case "force":
		if *version == 0 {
			log.Fatal("force requires -version")
		}
		if err := manager.Force(*version); err != nil {
			log.Fatalf("force failed: %v", err)
		}
		fmt.Printf("forced schema version to %d\n", *version)

	case "status":
		status := manager.GetStatus()
		fmt.Printf("version: %d\ndirty: %v\nstate: %s\n", status.CurrentVersion, status.IsDirty, status.State)
		if status.Error != "" {
			fmt.Printf("error: %s\n", status.Error)
		}

	default:
		fmt.Printf("unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// newCLILogger keeps migration CLI output terse regardless of LOG_LEVEL.
func newCLILogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func printUsage() {
	fmt.Println("usage: migrate <up|down|steps|force|status> [-steps N] [-version N]")
}
