package memory

import (
	"context"
	"testing"
	"time"

	"github.com/lifequest-app/progress-engine/internal/app/domain/level"
	"github.com/lifequest-app/progress-engine/internal/app/domain/quest"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
)

func TestSaveLevelStateInsertIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	applied, err := s.SaveLevelState(ctx, nil, level.State{UserID: "u1", Level: 1, XP: 10})
	if err != nil || !applied {
		t.Fatalf("insert: applied=%v err=%v", applied, err)
	}

	// A second blind insert loses.
	applied, err = s.SaveLevelState(ctx, nil, level.State{UserID: "u1", Level: 1, XP: 99})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if applied {
		t.Fatal("insert over existing row applied")
	}

	st, err := s.GetLevelState(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.XP != 10 {
		t.Fatalf("xp = %d, want 10", st.XP)
	}
}

func TestSaveLevelStateCompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.SaveLevelState(ctx, nil, level.State{UserID: "u1", Level: 1, XP: 10}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stale := level.State{UserID: "u1", Level: 1, XP: 5}
	applied, err := s.SaveLevelState(ctx, &stale, level.State{UserID: "u1", Level: 2, XP: 0})
	if err != nil {
		t.Fatalf("stale cas: %v", err)
	}
	if applied {
		t.Fatal("stale compare-and-swap applied")
	}

	fresh := level.State{UserID: "u1", Level: 1, XP: 10}
	applied, err = s.SaveLevelState(ctx, &fresh, level.State{UserID: "u1", Level: 2, XP: 0})
	if err != nil || !applied {
		t.Fatalf("fresh cas: applied=%v err=%v", applied, err)
	}
}

func TestExpireInstanceRespectsDeadline(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.PutTemplate(ctx, quest.Template{ID: "q1", Type: quest.TypeDaily}); err != nil {
		t.Fatalf("template: %v", err)
	}
	inst, err := s.CreateInstance(ctx, quest.Instance{
		ID: "i1", UserID: "u1", QuestID: "q1",
		StartedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Before the deadline nothing happens.
	got, applied, err := s.ExpireInstance(ctx, inst.ID, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("early expire: %v", err)
	}
	if applied || got.State != quest.StateActive {
		t.Fatalf("early expire applied=%v state=%s", applied, got.State)
	}

	got, applied, err = s.ExpireInstance(ctx, inst.ID, now.Add(25*time.Hour))
	if err != nil || !applied {
		t.Fatalf("expire: applied=%v err=%v", applied, err)
	}
	if got.State != quest.StateExpired {
		t.Fatalf("state = %s", got.State)
	}

	// Terminal: repeating reports applied=false with the current row.
	got, applied, err = s.ExpireInstance(ctx, inst.ID, now.Add(26*time.Hour))
	if err != nil || applied {
		t.Fatalf("re-expire: applied=%v err=%v", applied, err)
	}
	if got.State != quest.StateExpired {
		t.Fatalf("state = %s", got.State)
	}
}

func TestActiveIndexFreedOnTransition(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.PutTemplate(ctx, quest.Template{ID: "q1", Type: quest.TypeDaily}); err != nil {
		t.Fatalf("template: %v", err)
	}
	if _, err := s.CreateInstance(ctx, quest.Instance{
		ID: "i1", UserID: "u1", QuestID: "q1", StartedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateInstance(ctx, quest.Instance{
		ID: "i2", UserID: "u1", QuestID: "q1", StartedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != errs.ErrAlreadyActive {
		t.Fatalf("duplicate create err = %v, want ErrAlreadyActive", err)
	}

	if _, _, err := s.CompleteInstance(ctx, "i1", 100, now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Completed instances free the active slot.
	if _, err := s.CreateInstance(ctx, quest.Instance{
		ID: "i3", UserID: "u1", QuestID: "q1", StartedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("re-create after completion: %v", err)
	}
}

func TestDecrementStock(t *testing.T) {
	s := New()
	ctx := context.Background()

	item := reward.CatalogItem{ID: "mug", Title: "Mug", PointsCost: 10, Availability: reward.AvailabilityLimited, Stock: 2}
	if err := s.PutCatalogItem(ctx, item); err != nil {
		t.Fatalf("put: %v", err)
	}
	for i := 0; i < 2; i++ {
		applied, err := s.DecrementStock(ctx, "mug")
		if err != nil || !applied {
			t.Fatalf("decrement %d: applied=%v err=%v", i, applied, err)
		}
	}
	applied, err := s.DecrementStock(ctx, "mug")
	if err != nil {
		t.Fatalf("exhausted decrement: %v", err)
	}
	if applied {
		t.Fatal("decrement below zero applied")
	}
}
