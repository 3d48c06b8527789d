package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChiefMcGill/Attendance-Tracker-for-Kids-Ministry/internal/audit"
	"github.com/ChiefMcGill/Attendance-Tracker-for-Kids-Ministry/internal/config"
	"github.com/ChiefMcGill/Attendance-Tracker-for-Kids-Ministry/internal/store"
)

// Worker drains audit events from the queue into the audit_logs table.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q audit.Queue
	if cfg.QueueBackend == "memory" {
		q = audit.NewInMemory(64)
	} else {
		q = audit.NewRedisQueue(redisClient.Client, "checkin:audit")
	}

	repo := audit.NewRepository(db.Client)

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	heartbeat := time.NewTicker(cfg.WorkerPollInterval)
	defer heartbeat.Stop()

	log.Println("worker started, waiting for audit events...")
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				log.Println("worker stopped")
				return
			}
			if err := repo.Insert(ctx, evt); err != nil {
				log.Printf("persist audit event %s failed: %v", evt.ID, err)
				continue
			}
		case <-heartbeat.C:
			log.Println("worker heartbeat")
		case <-ctx.Done():
			log.Println("worker stopped")
			return
		}
	}
}
