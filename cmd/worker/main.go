// Package main runs the event-ingestion worker: reads batches off the
// event stream's consumer group, bulk-inserts them, and dead-letters
// whatever exhausts its retry budget.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventpipe/internal/app"
	"eventpipe/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	worker, err := app.NewWorker(cfg)
	if err != nil {
		log.Fatalf("failed to initialize worker: %v", err)
	}

	if err := worker.Start(); err != nil {
		log.Fatalf("failed to start worker: %v", err)
	}

	log.Println("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("shutting down worker...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := worker.Shutdown(ctx); err != nil {
		log.Printf("worker forced to shutdown: %v", err)
	}

	fmt.Println("worker stopped")
}
