package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/matchcore/internal/config"
	"github.com/suPer8Hu/matchcore/internal/db"
	"github.com/suPer8Hu/matchcore/internal/durable"
	"github.com/suPer8Hu/matchcore/internal/events"
	"github.com/suPer8Hu/matchcore/internal/store/rabbitmq"
)

// The worker drains domain events published by the server into the audit
// table. It shares the server's database but none of its in-memory state.
func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if gdb == nil {
		log.Fatalf("worker needs a database, DB_DRIVER=%s", cfg.DBDriver)
	}
	audit := durable.NewAuditLog(gdb)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("rabbit: %v", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, cfg.WorkerConcurrency)
	if err := consumer.Run(ctx, func(ctx context.Context, e events.Event) error {
		return handleEvent(ctx, audit, e)
	}); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

func handleEvent(ctx context.Context, audit *durable.AuditLog, e events.Event) error {
	start := time.Now()
	switch e.Type {
	case events.TypeProfileCompleted, events.TypeQuizCompleted, events.TypeUserDeactivated:
	default:
		log.Printf("event %s has unknown type=%s, recording anyway", e.ID, e.Type)
	}

	if err := audit.Append(ctx, durable.AuditEntry{
		ID:         e.ID,
		Type:       e.Type,
		UserID:     e.UserID,
		Payload:    e.Payload,
		OccurredAt: e.At,
	}); err != nil {
		return err
	}

	if cost := time.Since(start); cost > 500*time.Millisecond {
		log.Printf("event_timing event=%s type=%s total=%s", e.ID, e.Type, cost)
	}
	return nil
}
