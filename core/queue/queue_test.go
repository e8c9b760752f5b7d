package queue

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"synrelay/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// One named in-memory database per test, so row counts start from zero.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func TestEnqueueFlushesOnTicker(t *testing.T) {
	db := openTestDB(t)
	q := New(db, 20*time.Millisecond, 1000)
	q.Start()
	defer q.Shutdown()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(&model.Message{Payload: []byte("hello"), RulesetName: "main"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	var count int64
	for time.Now().Before(deadline) {
		db.Model(&model.StoredMessage{}).Count(&count)
		if count == 5 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if count != 5 {
		t.Fatalf("expected 5 rows persisted, got %d", count)
	}
}

func TestEnqueueFlushesOnFullBatch(t *testing.T) {
	db := openTestDB(t)
	q := New(db, time.Hour, 3)
	q.Start()
	defer q.Shutdown()

	for i := 0; i < 3; i++ {
		q.Enqueue(&model.Message{Payload: []byte("x"), RulesetName: "main"})
	}

	deadline := time.Now().Add(2 * time.Second)
	var count int64
	for time.Now().Before(deadline) {
		db.Model(&model.StoredMessage{}).Count(&count)
		if count == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if count != 3 {
		t.Fatalf("expected batch-full flush to persist 3 rows, got %d", count)
	}
}

func TestShutdownFlushesPending(t *testing.T) {
	db := openTestDB(t)
	q := New(db, time.Hour, 1000)
	q.Start()

	q.Enqueue(&model.Message{Payload: []byte("final"), RulesetName: "main"})
	q.Shutdown()

	var count int64
	db.Model(&model.StoredMessage{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected shutdown to flush pending message, got %d rows", count)
	}
}
