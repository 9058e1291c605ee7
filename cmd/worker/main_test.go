package main

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/suPer8Hu/matchcore/internal/durable"
	"github.com/suPer8Hu/matchcore/internal/events"
	"gorm.io/gorm"
)

func TestHandleEvent_RecordsOnce(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := durable.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	audit := durable.NewAuditLog(gdb)
	ctx := context.Background()

	e := events.New(events.TypeQuizCompleted, 9, map[string]string{"category": "A3"})
	for i := 0; i < 2; i++ {
		if err := handleEvent(ctx, audit, e); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}
	bare := events.Event{ID: "no-payload", Type: events.TypeUserDeactivated, UserID: 9, At: time.Now().UTC().Add(time.Second)}
	if err := handleEvent(ctx, audit, bare); err != nil {
		t.Fatalf("handle bare: %v", err)
	}

	got, err := audit.ListByUser(ctx, 9, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries=%d, want 2", len(got))
	}
	if got[0].ID != "no-payload" || string(got[0].Payload) != "{}" {
		t.Fatalf("newest entry = %+v", got[0])
	}
	if got[1].Type != events.TypeQuizCompleted {
		t.Fatalf("type=%s", got[1].Type)
	}
}
