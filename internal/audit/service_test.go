/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestLogFillsDefaults(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())

	entry := &models.AuditLog{Action: models.AuditActionRunStart}
	if err := svc.Log(context.Background(), entry); err != nil {
		t.Fatalf("log: %v", err)
	}
	if entry.ID == "" {
		t.Error("expected generated id")
	}
	if entry.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}

	var count int64
	if err := db.Model(&models.AuditLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestEventsBecomeAuditEntries(t *testing.T) {
	db := testDB(t)
	bus := events.NewBus()
	svc := NewService(db, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	// Give Start time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventRunComplete, events.Payload{
		"run_id": "run-1",
		"events": int64(40),
	})
	bus.Publish(events.EventScheduleSwap, events.Payload{
		"schedule_id": "sched-1",
		"windows":     8,
	})

	deadline := time.Now().Add(2 * time.Second)
	var count int64
	for time.Now().Before(deadline) {
		if err := db.Model(&models.AuditLog{}).Count(&count).Error; err != nil {
			t.Fatalf("count: %v", err)
		}
		if count == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if count != 2 {
		t.Fatalf("audit entries = %d, want 2", count)
	}

	var entry models.AuditLog
	if err := db.First(&entry, "action = ?", models.AuditActionRunComplete).Error; err != nil {
		t.Fatalf("load run.complete entry: %v", err)
	}
	if entry.ResourceID != "run-1" {
		t.Errorf("resource id = %q", entry.ResourceID)
	}
	if entry.ResourceType != "run" {
		t.Errorf("resource type = %q", entry.ResourceType)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("audit loop did not stop")
	}
}

func TestQueryFilters(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	userA := "user-a"
	for i := 0; i < 3; i++ {
		if err := svc.Log(ctx, &models.AuditLog{Action: models.AuditActionRunStart, UserID: &userA}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	if err := svc.Log(ctx, &models.AuditLog{Action: models.AuditActionScheduleInstall}); err != nil {
		t.Fatalf("log: %v", err)
	}

	action := models.AuditActionRunStart
	logs, total, err := svc.Query(ctx, QueryFilters{Action: &action, Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(logs) != 2 {
		t.Errorf("page size = %d, want 2", len(logs))
	}

	logs, total, err = svc.Query(ctx, QueryFilters{UserID: &userA})
	if err != nil {
		t.Fatalf("query by user: %v", err)
	}
	if total != 3 || len(logs) != 3 {
		t.Errorf("user query = %d/%d, want 3/3", len(logs), total)
	}
}
