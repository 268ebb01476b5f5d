// Package storage declares the persistence interfaces the engine services
// depend on. Every write guarding a state transition is an atomic conditional
// operation (insert-if-absent, update-if-predicate); implementations must not
// substitute read-then-write.
package storage

import (
	"context"
	"time"

	"github.com/lifequest-app/progress-engine/internal/app/domain/achievement"
	"github.com/lifequest-app/progress-engine/internal/app/domain/habit"
	"github.com/lifequest-app/progress-engine/internal/app/domain/level"
	"github.com/lifequest-app/progress-engine/internal/app/domain/quest"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
)

// LedgerStore persists the append-only reward event ledger.
type LedgerStore interface {
	// AppendEvent inserts the event unless its (user_id, dedup_key) pair
	// already exists. On a duplicate it returns the prior event and
	// inserted=false with no error.
	AppendEvent(ctx context.Context, evt reward.Event) (stored reward.Event, inserted bool, err error)

	// SumEvents aggregates amounts for one user and category. A zero since
	// covers the full history.
	SumEvents(ctx context.Context, userID string, category reward.Category, since time.Time) (int64, error)

	// ReplayEvents returns the user's full ledger ordered by occurred_at
	// then id, the fold order for all derived aggregates.
	ReplayEvents(ctx context.Context, userID string) ([]reward.Event, error)

	// ListEvents returns recent events, newest first, for history views.
	ListEvents(ctx context.Context, userID string, since time.Time, limit int) ([]reward.Event, error)
}

// HabitStore persists habit completion records.
type HabitStore interface {
	// InsertCompletion records a completion unless one already exists for
	// (habit_id, date); inserted=false reports the duplicate.
	InsertCompletion(ctx context.Context, c habit.Completion) (stored habit.Completion, inserted bool, err error)

	HasCompletion(ctx context.Context, habitID string, date time.Time) (bool, error)
	ListCompletions(ctx context.Context, habitID string, from, to time.Time) ([]habit.Completion, error)

	// DeleteHabitCompletions removes all completions for a habit; invoked
	// only when the habit itself is deleted.
	DeleteHabitCompletions(ctx context.Context, habitID string) error
}

// AchievementStore persists the achievement catalog and per-user progress.
type AchievementStore interface {
	PutDefinition(ctx context.Context, def achievement.Definition) error
	GetDefinition(ctx context.Context, id string) (achievement.Definition, error)
	ListDefinitions(ctx context.Context, category string) ([]achievement.Definition, error)

	// GetProgress returns errs.ErrNotFound when no row exists yet.
	GetProgress(ctx context.Context, userID, achievementID string) (achievement.Progress, error)
	ListProgress(ctx context.Context, userID string) ([]achievement.Progress, error)

	// ApplyProgress atomically increments progress clamped to requirement,
	// creating the row on first use. completedNow is true for exactly one
	// call per (user, achievement): the one whose increment crosses the
	// threshold while completed_at is still null. Terminal rows are
	// returned unchanged with completedNow=false.
	ApplyProgress(ctx context.Context, userID, achievementID string, delta, requirement int64) (p achievement.Progress, completedNow bool, err error)
}

// QuestStore persists quest templates and instances.
type QuestStore interface {
	PutTemplate(ctx context.Context, tpl quest.Template) error
	GetTemplate(ctx context.Context, id string) (quest.Template, error)
	ListTemplates(ctx context.Context, qtype quest.Type) ([]quest.Template, error)

	// CreateInstance inserts an Active instance; errs.ErrAlreadyActive when
	// an active instance for (user_id, quest_id) already exists.
	CreateInstance(ctx context.Context, inst quest.Instance) (quest.Instance, error)
	GetInstance(ctx context.Context, id string) (quest.Instance, error)
	ListInstances(ctx context.Context, userID string) ([]quest.Instance, error)

	// SetInstanceProgress updates progress while the instance is Active;
	// applied=false when it is not.
	SetInstanceProgress(ctx context.Context, id string, progress int) (quest.Instance, bool, error)

	// CompleteInstance transitions Active -> Completed; applied=false when
	// the instance is not Active.
	CompleteInstance(ctx context.Context, id string, progress int, now time.Time) (quest.Instance, bool, error)

	// ExpireInstance transitions Active -> Expired when expires_at <= now;
	// applied=false otherwise. Idempotent after the transition.
	ExpireInstance(ctx context.Context, id string, now time.Time) (quest.Instance, bool, error)

	// AbandonInstance transitions Active -> Abandoned.
	AbandonInstance(ctx context.Context, id string, now time.Time) (quest.Instance, bool, error)

	// ListExpiredActive returns Active instances whose expiry has passed,
	// for the periodic sweep.
	ListExpiredActive(ctx context.Context, now time.Time) ([]quest.Instance, error)
}

// LevelStore persists per-user level state.
type LevelStore interface {
	// GetLevelState returns errs.ErrNotFound before the first xp event.
	GetLevelState(ctx context.Context, userID string) (level.State, error)

	// SaveLevelState is an optimistic write: with prev==nil it inserts if
	// absent; otherwise it updates only while the stored row still matches
	// prev's level and xp. applied=false signals a lost race.
	SaveLevelState(ctx context.Context, prev *level.State, next level.State) (bool, error)
}

// RewardCatalogStore persists redeemable reward items.
type RewardCatalogStore interface {
	PutCatalogItem(ctx context.Context, item reward.CatalogItem) error
	GetCatalogItem(ctx context.Context, id string) (reward.CatalogItem, error)
	ListCatalogItems(ctx context.Context) ([]reward.CatalogItem, error)

	// DecrementStock conditionally decrements a limited item's stock;
	// applied=false when none remains.
	DecrementStock(ctx context.Context, id string) (bool, error)
}
