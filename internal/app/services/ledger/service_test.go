package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/storage/memory"
)

func testEvent(userID, key string, amount int64) reward.Event {
	return reward.Event{
		UserID:      userID,
		Category:    reward.CategoryPoints,
		Amount:      amount,
		Source:      reward.SourceHabit,
		ReferenceID: "habit-1",
		DedupKey:    key,
		OccurredAt:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestAppendDeduplicates(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	first, inserted, err := svc.Append(ctx, testEvent("user-1", "k1", 5))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !inserted {
		t.Fatal("first append not inserted")
	}

	second, inserted, err := svc.Append(ctx, testEvent("user-1", "k1", 5))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if inserted {
		t.Fatal("duplicate append inserted")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate returned id %d, want prior %d", second.ID, first.ID)
	}

	total, err := svc.TotalPoints(ctx, "user-1")
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
}

func TestDedupKeysAreUserScoped(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	if _, _, err := svc.Append(ctx, testEvent("user-1", "k1", 5)); err != nil {
		t.Fatalf("append: %v", err)
	}
	_, inserted, err := svc.Append(ctx, testEvent("user-2", "k1", 5))
	if err != nil {
		t.Fatalf("append other user: %v", err)
	}
	if !inserted {
		t.Fatal("same key for another user was treated as duplicate")
	}
}

func TestConcurrentAppendsSameKey(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	const racers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := svc.Append(ctx, testEvent("user-1", "k1", 5))
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Fatalf("inserted = %d, want exactly 1", inserted)
	}
	total, err := svc.TotalPoints(ctx, "user-1")
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
}

func TestReplayOrdersByOccurrence(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	late := testEvent("user-1", "late", 1)
	late.OccurredAt = time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	early := testEvent("user-1", "early", 2)
	early.OccurredAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, evt := range []reward.Event{late, early} {
		if _, _, err := svc.Append(ctx, evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := svc.Replay(ctx, "user-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].DedupKey != "early" || events[1].DedupKey != "late" {
		t.Fatalf("fold order wrong: %s then %s", events[0].DedupKey, events[1].DedupKey)
	}

	history, err := svc.History(ctx, "user-1", 0, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history[0].DedupKey != "late" {
		t.Fatalf("history newest-first wrong: %s first", history[0].DedupKey)
	}
}

func TestNegativeAmountsSumSigned(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	credit := testEvent("user-1", "credit", 100)
	debit := testEvent("user-1", "debit", -30)
	debit.Source = reward.SourceRedemption
	for _, evt := range []reward.Event{credit, debit} {
		if _, _, err := svc.Append(ctx, evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	total, err := svc.TotalPoints(ctx, "user-1")
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 70 {
		t.Fatalf("total = %d, want 70", total)
	}
}

func TestAppendValidates(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	evt := testEvent("user-1", "", 5)
	if _, _, err := svc.Append(ctx, evt); err == nil {
		t.Fatal("append without dedup key succeeded")
	}

	evt = testEvent("", "k1", 5)
	if _, _, err := svc.Append(ctx, evt); err == nil {
		t.Fatal("append without user succeeded")
	}

	evt = testEvent("user-1", "k1", 5)
	evt.Source = "mystery"
	if _, _, err := svc.Append(ctx, evt); err == nil {
		t.Fatal("append with unknown source succeeded")
	}
}
