/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/heimdall_tsn/internal/events"
	"github.com/friendsincode/heimdall_tsn/internal/models"
)

type capturedDelivery struct {
	event     string
	signature string
	body      []byte
}

type receiver struct {
	mu         sync.Mutex
	deliveries []capturedDelivery
}

func (rc *receiver) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.deliveries = append(rc.deliveries, capturedDelivery{
			event:     r.Header.Get("X-Heimdall-Event"),
			signature: r.Header.Get("X-Heimdall-Signature"),
			body:      body,
		})
		rc.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (rc *receiver) count() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.deliveries)
}

func (rc *receiver) get(i int) capturedDelivery {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.deliveries[i]
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.WebhookTarget{}, &models.WebhookLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestEventDeliveryWithSignature(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler())
	defer srv.Close()

	db := testDB(t)
	bus := events.NewBus()
	svc := NewService(db, bus, zerolog.Nop())

	target := &models.WebhookTarget{
		ID:     uuid.NewString(),
		Name:   "test sink",
		URL:    srv.URL,
		Secret: "hook-secret",
		Active: true,
	}
	if err := db.Create(target).Error; err != nil {
		t.Fatalf("create target: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventRunComplete, events.Payload{"run_id": "run-1"})

	deadline := time.Now().Add(2 * time.Second)
	for rc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rc.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", rc.count())
	}

	d := rc.get(0)
	if d.event != string(events.EventRunComplete) {
		t.Errorf("event header = %q", d.event)
	}

	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(d.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if d.signature != want {
		t.Errorf("signature = %q, want %q", d.signature, want)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(d.body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Data["run_id"] != "run-1" {
		t.Errorf("data = %v", payload.Data)
	}

	// Delivery attempt is logged.
	var logCount int64
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err := db.Model(&models.WebhookLog{}).Where("status_code = ?", http.StatusOK).Count(&logCount).Error; err != nil {
			t.Fatalf("count logs: %v", err)
		}
		if logCount == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if logCount != 1 {
		t.Errorf("delivery logs = %d, want 1", logCount)
	}
}

func TestEventFilterSkipsUnsubscribed(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler())
	defer srv.Close()

	db := testDB(t)
	bus := events.NewBus()
	svc := NewService(db, bus, zerolog.Nop())

	target := &models.WebhookTarget{
		ID:     uuid.NewString(),
		URL:    srv.URL,
		Events: string(events.EventLatencyBreach),
		Active: true,
	}
	if err := db.Create(target).Error; err != nil {
		t.Fatalf("create target: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventRunComplete, events.Payload{"run_id": "run-1"})
	bus.Publish(events.EventLatencyBreach, events.Payload{"run_id": "run-1"})

	deadline := time.Now().Add(2 * time.Second)
	for rc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Allow any stray delivery for the filtered event to land.
	time.Sleep(50 * time.Millisecond)

	if rc.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", rc.count())
	}
	if got := rc.get(0).event; got != string(events.EventLatencyBreach) {
		t.Errorf("delivered event = %q", got)
	}
}

func TestInactiveTargetIgnored(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler())
	defer srv.Close()

	db := testDB(t)
	bus := events.NewBus()
	svc := NewService(db, bus, zerolog.Nop())

	target := &models.WebhookTarget{ID: uuid.NewString(), URL: srv.URL, Active: false}
	if err := db.Create(target).Error; err != nil {
		t.Fatalf("create target: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventRunComplete, events.Payload{"run_id": "run-1"})
	time.Sleep(100 * time.Millisecond)

	if rc.count() != 0 {
		t.Fatalf("deliveries = %d, want 0", rc.count())
	}
}

func TestTestWebhookReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := NewService(testDB(t), events.NewBus(), zerolog.Nop())
	target := &models.WebhookTarget{ID: uuid.NewString(), URL: srv.URL}

	if err := svc.TestWebhook(context.Background(), target); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
