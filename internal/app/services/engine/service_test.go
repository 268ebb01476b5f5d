package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifequest-app/progress-engine/internal/app/domain/achievement"
	"github.com/lifequest-app/progress-engine/internal/app/domain/quest"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
	"github.com/lifequest-app/progress-engine/internal/app/services/achievements"
	"github.com/lifequest-app/progress-engine/internal/app/services/ledger"
	"github.com/lifequest-app/progress-engine/internal/app/services/levels"
	"github.com/lifequest-app/progress-engine/internal/app/services/quests"
	"github.com/lifequest-app/progress-engine/internal/app/services/reconcile"
	"github.com/lifequest-app/progress-engine/internal/app/services/streaks"
	"github.com/lifequest-app/progress-engine/internal/app/storage/memory"
)

func newTestEngine(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	ledgerSvc := ledger.New(store, nil, nil)
	streakSvc := streaks.New(store, ledgerSvc, streaks.DefaultConfig, nil)
	achievementSvc := achievements.New(store, ledgerSvc, nil)
	levelSvc := levels.New(store, ledgerSvc, levels.DefaultConfig, nil)
	questSvc := quests.New(store, ledgerSvc, levelSvc, nil)
	reconciler := reconcile.New(ledgerSvc, store, nil, levelSvc.Curve(), nil)
	return New(ledgerSvc, streakSvc, achievementSvc, questSvc, levelSvc, reconciler, store, nil), store
}

func TestRecordActionRejectsUnknownSource(t *testing.T) {
	svc, _ := newTestEngine(t)

	_, err := svc.RecordAction(context.Background(), Action{
		UserID: "user-1",
		Source: "telepathy",
	})
	require.ErrorIs(t, err, errs.ErrUnknownSource)

	// Engine-internal sources are not accepted from collaborators either.
	_, err = svc.RecordAction(context.Background(), Action{
		UserID: "user-1",
		Source: string(reward.SourceRedemption),
	})
	require.ErrorIs(t, err, errs.ErrUnknownSource)
}

func TestRecordHabitAction(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	result, err := svc.RecordAction(ctx, Action{
		UserID:      "user-1",
		Source:      "habit",
		ReferenceID: "habit-1",
		OccurredAt:  at,
	})
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, int64(5), result.PointsAwarded)
	assert.Equal(t, 1, result.Streak)

	// The double submit is success-with-prior-result, not an error.
	result, err = svc.RecordAction(ctx, Action{
		UserID:      "user-1",
		Source:      "habit",
		ReferenceID: "habit-1",
		OccurredAt:  at.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	total, err := svc.TotalPoints(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestRecordQuizActionWithIdempotencyKey(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	action := Action{
		UserID:         "user-1",
		Source:         "quiz",
		ReferenceID:    "quiz-9",
		IdempotencyKey: "client-key-1",
		Points:         15,
		XP:             40,
	}
	result, err := svc.RecordAction(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, int64(15), result.PointsAwarded)

	// Same idempotency key: everything collapses.
	result, err = svc.RecordAction(ctx, action)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Zero(t, result.PointsAwarded)

	total, err := svc.TotalPoints(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)

	view, err := svc.LevelState(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), view.XP)
	assert.Equal(t, int64(100), view.RequiredXP)
}

func TestRecordQuestProgressAction(t *testing.T) {
	svc, store := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.PutTemplate(ctx, quest.Template{
		ID: "q1", Type: quest.TypeDaily, Title: "Quest", Rewards: quest.Rewards{Points: 10},
	}))
	inst, err := store.CreateInstance(ctx, quest.Instance{
		ID: "inst-1", UserID: "user-1", QuestID: "q1",
		StartedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	result, err := svc.RecordAction(ctx, Action{
		UserID:      "user-1",
		Source:      "quest",
		ReferenceID: inst.ID,
		Progress:    100,
	})
	require.NoError(t, err)
	assert.True(t, result.QuestCompleted)
	require.NotNil(t, result.Quest)
	assert.Equal(t, quest.StateCompleted, result.Quest.State)

	// Replays on the terminal instance are duplicates, not failures.
	result, err = svc.RecordAction(ctx, Action{
		UserID:      "user-1",
		Source:      "quest",
		ReferenceID: inst.ID,
		Progress:    100,
	})
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
}

func TestAchievementStateAndUpdate(t *testing.T) {
	svc, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutDefinition(ctx, achievement.Definition{
		ID: "ach-1", RequirementValue: 3, PointsReward: 30,
	}))

	p, err := svc.AchievementState(ctx, "user-1", "ach-1")
	require.NoError(t, err)
	assert.Zero(t, p.Progress)

	_, completedNow, err := svc.UpdateAchievement(ctx, "user-1", "ach-1", 3)
	require.NoError(t, err)
	assert.True(t, completedNow)

	total, err := svc.TotalPoints(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), total)
}

func TestRedeemLifecycle(t *testing.T) {
	svc, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCatalogItem(ctx, reward.CatalogItem{
		ID: "coffee", Title: "Coffee", PointsCost: 50, Availability: reward.AvailabilityUnlimited,
	}))

	// Broke user.
	_, err := svc.Redeem(ctx, "user-1", "coffee", "k1")
	require.ErrorIs(t, err, errs.ErrInsufficientBalance)

	// Fund via a quiz action.
	_, err = svc.RecordAction(ctx, Action{
		UserID: "user-1", Source: "quiz", ReferenceID: "quiz-1", Points: 120,
	})
	require.NoError(t, err)

	red, err := svc.Redeem(ctx, "user-1", "coffee", "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), red.Balance)
	assert.False(t, red.Duplicate)

	// Retried spend with the same key is idempotent.
	red, err = svc.Redeem(ctx, "user-1", "coffee", "k1")
	require.NoError(t, err)
	assert.True(t, red.Duplicate)
	assert.Equal(t, int64(70), red.Balance)

	// A new key spends again.
	red, err = svc.Redeem(ctx, "user-1", "coffee", "k2")
	require.NoError(t, err)
	assert.Equal(t, int64(20), red.Balance)
}

func TestRedeemWithoutKeySpendsEachTime(t *testing.T) {
	svc, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCatalogItem(ctx, reward.CatalogItem{
		ID: "coffee", Title: "Coffee", PointsCost: 10, Availability: reward.AvailabilityUnlimited,
	}))
	_, err := svc.RecordAction(ctx, Action{
		UserID: "user-1", Source: "goal", ReferenceID: "goal-1", Points: 100,
	})
	require.NoError(t, err)

	// No client key: each call is a distinct purchase, never a replay.
	red, err := svc.Redeem(ctx, "user-1", "coffee", "")
	require.NoError(t, err)
	assert.False(t, red.Duplicate)
	assert.Equal(t, int64(90), red.Balance)

	red, err = svc.Redeem(ctx, "user-1", "coffee", "")
	require.NoError(t, err)
	assert.False(t, red.Duplicate)
	assert.Equal(t, int64(80), red.Balance)
}

func TestRedeemOneTimeItem(t *testing.T) {
	svc, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCatalogItem(ctx, reward.CatalogItem{
		ID: "badge", Title: "Founder Badge", PointsCost: 10, Availability: reward.AvailabilityOneTime,
	}))
	_, err := svc.RecordAction(ctx, Action{
		UserID: "user-1", Source: "goal", ReferenceID: "goal-1", Points: 100,
	})
	require.NoError(t, err)

	red, err := svc.Redeem(ctx, "user-1", "badge", "k1")
	require.NoError(t, err)
	assert.False(t, red.Duplicate)

	// One-time items ignore fresh idempotency keys: once per user, ever.
	red, err = svc.Redeem(ctx, "user-1", "badge", "completely-different-key")
	require.NoError(t, err)
	assert.True(t, red.Duplicate)
}

func TestRedeemLimitedStockRefunds(t *testing.T) {
	svc, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.PutCatalogItem(ctx, reward.CatalogItem{
		ID: "mug", Title: "Mug", PointsCost: 10, Availability: reward.AvailabilityLimited, Stock: 1,
	}))
	_, err := svc.RecordAction(ctx, Action{
		UserID: "user-1", Source: "goal", ReferenceID: "goal-1", Points: 100,
	})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, "user-1", "mug", "k1")
	require.NoError(t, err)

	// Stock exhausted: the debit is compensated and the caller learns why.
	_, err = svc.Redeem(ctx, "user-1", "mug", "k2")
	require.ErrorIs(t, err, errs.ErrOutOfStock)

	total, err := svc.TotalPoints(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), total)
}

func TestRecomputePassesThrough(t *testing.T) {
	svc, store := newTestEngine(t)
	ctx := context.Background()

	_, err := svc.RecordAction(ctx, Action{
		UserID: "user-1", Source: "quiz", ReferenceID: "quiz-1", Points: 10, XP: 30,
	})
	require.NoError(t, err)

	report, err := svc.RecomputeFromEvents(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.PointsDerived)
	assert.False(t, report.LevelDiverged)

	// Corrupt the stored aggregate; recompute must flag it.
	st, err := store.GetLevelState(ctx, "user-1")
	require.NoError(t, err)
	tampered := st
	tampered.XP = 999
	applied, err := store.SaveLevelState(ctx, &st, tampered)
	require.NoError(t, err)
	require.True(t, applied)

	report, err = svc.RecomputeFromEvents(ctx, "user-1", true)
	require.NoError(t, err)
	assert.True(t, report.LevelDiverged)
	assert.True(t, report.Repaired)
	assert.Equal(t, int64(30), report.LevelDerived.XP)

	view, err := svc.LevelState(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), view.XP)
}
