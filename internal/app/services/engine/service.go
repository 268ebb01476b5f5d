// Package engine is the public entry surface of the progress engine. External
// collaborators (habit, quiz, goal and quest routes) call RecordAction; reads
// are served by the getters; redemption spends points against the ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lifequest-app/progress-engine/internal/app/domain/achievement"
	"github.com/lifequest-app/progress-engine/internal/app/domain/quest"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
	"github.com/lifequest-app/progress-engine/internal/app/metrics"
	"github.com/lifequest-app/progress-engine/internal/app/services/achievements"
	"github.com/lifequest-app/progress-engine/internal/app/services/ledger"
	"github.com/lifequest-app/progress-engine/internal/app/services/levels"
	"github.com/lifequest-app/progress-engine/internal/app/services/quests"
	"github.com/lifequest-app/progress-engine/internal/app/services/reconcile"
	"github.com/lifequest-app/progress-engine/internal/app/services/streaks"
	"github.com/lifequest-app/progress-engine/internal/app/storage"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

// Service dispatches actions to the specialised services and serves reads.
type Service struct {
	ledger       *ledger.Service
	streaks      *streaks.Service
	achievements *achievements.Service
	quests       *quests.Service
	levels       *levels.Service
	reconciler   *reconcile.Service
	catalog      storage.RewardCatalogStore
	log          *logger.Logger
}

// New creates the engine facade.
func New(
	ledgerSvc *ledger.Service,
	streakSvc *streaks.Service,
	achievementSvc *achievements.Service,
	questSvc *quests.Service,
	levelSvc *levels.Service,
	reconciler *reconcile.Service,
	catalog storage.RewardCatalogStore,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("engine")
	}
	return &Service{
		ledger:       ledgerSvc,
		streaks:      streakSvc,
		achievements: achievementSvc,
		quests:       questSvc,
		levels:       levelSvc,
		reconciler:   reconciler,
		catalog:      catalog,
		log:          log,
	}
}

// Action is one collaborator request.
type Action struct {
	UserID         string
	Source         string // habit | quiz | goal | quest
	ReferenceID    string // habit id, quiz id, goal id, or quest instance id
	OccurredAt     time.Time
	IdempotencyKey string // optional client key; a deterministic key is derived when empty
	Points         int64  // point award carried by quiz/goal actions
	XP             int64  // xp carried by quiz/goal actions
	Progress       int    // quest progress value
	Timezone       string // IANA zone for calendar-day resolution, UTC when empty
}

// ActionResult is the typed outcome of RecordAction. State-machine
// violations (duplicate day, terminal instance) surface here as flags, not
// as errors.
type ActionResult struct {
	Source         reward.Source   `json:"source"`
	Duplicate      bool            `json:"duplicate"`
	PointsAwarded  int64           `json:"points_awarded"`
	Streak         int             `json:"streak,omitempty"`
	StreakBonus    bool            `json:"streak_bonus,omitempty"`
	LevelsGained   []int           `json:"levels_gained,omitempty"`
	Quest          *quest.Instance `json:"quest,omitempty"`
	QuestCompleted bool            `json:"quest_completed,omitempty"`
}

// RecordAction validates the action against the closed source set and
// dispatches it. Unknown sources are rejected; retried and double-submitted
// actions collapse into duplicates via their dedup keys.
func (s *Service) RecordAction(ctx context.Context, action Action) (ActionResult, error) {
	source, err := reward.ParseSource(action.Source)
	if err != nil {
		metrics.RecordAction(action.Source, "rejected")
		return ActionResult{}, fmt.Errorf("%w: %q", errs.ErrUnknownSource, action.Source)
	}
	if action.UserID == "" {
		return ActionResult{}, fmt.Errorf("user_id is required")
	}
	if action.OccurredAt.IsZero() {
		action.OccurredAt = time.Now().UTC()
	}

	var result ActionResult
	switch source {
	case reward.SourceHabit:
		result, err = s.recordHabit(ctx, action)
	case reward.SourceQuiz, reward.SourceGoal:
		result, err = s.recordAward(ctx, action, source)
	case reward.SourceQuest:
		result, err = s.recordQuestProgress(ctx, action)
	default:
		// achievement, level, refund and redemption events are minted
		// internally, never accepted from collaborators.
		metrics.RecordAction(action.Source, "rejected")
		return ActionResult{}, fmt.Errorf("%w: source %q is engine-internal", errs.ErrUnknownSource, action.Source)
	}
	if err != nil {
		metrics.RecordAction(action.Source, "error")
		return ActionResult{}, err
	}

	if result.Duplicate {
		metrics.RecordAction(action.Source, "duplicate")
	} else {
		metrics.RecordAction(action.Source, "applied")
	}
	result.Source = source
	return result, nil
}

func (s *Service) recordHabit(ctx context.Context, action Action) (ActionResult, error) {
	loc := time.UTC
	if action.Timezone != "" {
		parsed, err := time.LoadLocation(action.Timezone)
		if err != nil {
			return ActionResult{}, fmt.Errorf("timezone %q: %w", action.Timezone, err)
		}
		loc = parsed
	}

	res, err := s.streaks.RecordCompletion(ctx, action.UserID, action.ReferenceID, action.OccurredAt, loc)
	if errors.Is(err, errs.ErrAlreadyCompletedToday) {
		// PointsAwarded is non-zero here only when the retry healed credits
		// a crashed first attempt never appended.
		return ActionResult{Duplicate: true, PointsAwarded: res.Points, Streak: res.Streak}, nil
	}
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{
		PointsAwarded: res.Points,
		Streak:        res.Streak,
		StreakBonus:   res.BonusAwarded,
	}, nil
}

// recordAward handles quiz and goal actions, which carry their own point and
// xp amounts.
func (s *Service) recordAward(ctx context.Context, action Action, source reward.Source) (ActionResult, error) {
	if action.Points <= 0 && action.XP <= 0 {
		return ActionResult{}, fmt.Errorf("%s action carries no points or xp", source)
	}

	day := action.OccurredAt.UTC()
	pointsKey := action.IdempotencyKey
	if pointsKey == "" {
		pointsKey = reward.DedupKey(source, action.ReferenceID, day)
	}

	var result ActionResult
	if action.Points > 0 {
		evt := reward.Event{
			UserID:      action.UserID,
			Category:    reward.CategoryPoints,
			Amount:      action.Points,
			Source:      source,
			ReferenceID: action.ReferenceID,
			Reason:      string(source) + " reward",
			DedupKey:    pointsKey,
			OccurredAt:  day,
		}
		_, inserted, err := s.ledger.Append(ctx, evt)
		if err != nil {
			return ActionResult{}, err
		}
		if inserted {
			result.PointsAwarded = action.Points
		} else {
			result.Duplicate = true
		}
	}

	if action.XP > 0 {
		xpRes, err := s.levels.AddXP(ctx, action.UserID, action.XP, source, action.ReferenceID, pointsKey+":xp", action.OccurredAt)
		if err != nil {
			return ActionResult{}, err
		}
		result.LevelsGained = xpRes.LeveledTo
		if action.Points <= 0 {
			result.Duplicate = xpRes.Duplicate
		}
	}
	return result, nil
}

func (s *Service) recordQuestProgress(ctx context.Context, action Action) (ActionResult, error) {
	inst, completed, err := s.quests.UpdateProgress(ctx, action.ReferenceID, action.Progress, action.OccurredAt)
	if errors.Is(err, errs.ErrInvalidState) {
		return ActionResult{Duplicate: true, Quest: &inst}, nil
	}
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Quest: &inst, QuestCompleted: completed}, nil
}

// TotalPoints returns the user's lifetime points balance.
func (s *Service) TotalPoints(ctx context.Context, userID string) (int64, error) {
	return s.ledger.TotalPoints(ctx, userID)
}

// Streak returns a habit's live consecutive-day streak.
func (s *Service) Streak(ctx context.Context, habitID string, asOf time.Time, timezone string) (int, error) {
	loc := time.UTC
	if timezone != "" {
		parsed, err := time.LoadLocation(timezone)
		if err != nil {
			return 0, fmt.Errorf("timezone %q: %w", timezone, err)
		}
		loc = parsed
	}
	return s.streaks.Current(ctx, habitID, asOf, loc)
}

// AchievementState returns progress toward one achievement, zero when the
// user has not started it.
func (s *Service) AchievementState(ctx context.Context, userID, achievementID string) (achievement.Progress, error) {
	return s.achievements.Read(ctx, userID, achievementID)
}

// UpdateAchievement applies a progress increment on behalf of a collaborator.
func (s *Service) UpdateAchievement(ctx context.Context, userID, achievementID string, delta int64) (achievement.Progress, bool, error) {
	return s.achievements.UpdateProgress(ctx, userID, achievementID, delta, time.Now().UTC())
}

// QuestInstance returns one quest instance.
func (s *Service) QuestInstance(ctx context.Context, instanceID string) (quest.Instance, error) {
	return s.quests.Instance(ctx, instanceID)
}

// LevelState returns the user's level, xp, and the xp required to advance.
func (s *Service) LevelState(ctx context.Context, userID string) (levels.View, error) {
	return s.levels.State(ctx, userID)
}

// PointsHistory lists recent ledger events, newest first.
func (s *Service) PointsHistory(ctx context.Context, userID string, days, limit int) ([]reward.Event, error) {
	return s.ledger.History(ctx, userID, days, limit)
}

// RecomputeFromEvents replays the ledger and reports aggregate divergence,
// optionally repairing it.
func (s *Service) RecomputeFromEvents(ctx context.Context, userID string, repair bool) (reconcile.Report, error) {
	return s.reconciler.Recompute(ctx, userID, repair)
}

// Catalog lists the redeemable rewards.
func (s *Service) Catalog(ctx context.Context) ([]reward.CatalogItem, error) {
	return s.catalog.ListCatalogItems(ctx)
}

// Redemption is the outcome of a points spend.
type Redemption struct {
	Item      reward.CatalogItem `json:"item"`
	Event     reward.Event       `json:"event"`
	Duplicate bool               `json:"duplicate"`
	Balance   int64              `json:"balance"`
}

// Redeem spends points on a catalog item. The debit is a negative ledger
// event whose dedup key makes the spend idempotent; one-time items key on
// the item alone so a user can redeem them once ever. Limited items
// conditionally decrement stock after the debit lands; when stock turns out
// to be gone the debit is compensated with a refund event.
func (s *Service) Redeem(ctx context.Context, userID, itemID, idempotencyKey string) (Redemption, error) {
	item, err := s.catalog.GetCatalogItem(ctx, itemID)
	if err != nil {
		return Redemption{}, err
	}

	// One-time items key on the item alone: once per user, ever. Repeatable
	// items without a client key get a fresh one, so each keyless call is a
	// distinct spend; the item-only key would collapse them all into the
	// first.
	switch {
	case item.Availability == reward.AvailabilityOneTime:
		idempotencyKey = ""
	case idempotencyKey == "":
		idempotencyKey = uuid.NewString()
	}
	key := reward.RedemptionKey(itemID, idempotencyKey)

	balance, err := s.ledger.TotalPoints(ctx, userID)
	if err != nil {
		return Redemption{}, err
	}
	if balance < item.PointsCost {
		return Redemption{}, fmt.Errorf("redeem %s: %w", itemID, errs.ErrInsufficientBalance)
	}

	now := time.Now().UTC()
	evt := reward.Event{
		UserID:      userID,
		Category:    reward.CategoryPoints,
		Amount:      -item.PointsCost,
		Source:      reward.SourceRedemption,
		ReferenceID: itemID,
		Reason:      fmt.Sprintf("redeemed %s", item.Title),
		DedupKey:    key,
		OccurredAt:  now,
	}
	stored, inserted, err := s.ledger.Append(ctx, evt)
	if err != nil {
		return Redemption{}, err
	}
	if !inserted {
		balance, err := s.ledger.TotalPoints(ctx, userID)
		if err != nil {
			return Redemption{}, err
		}
		return Redemption{Item: item, Event: stored, Duplicate: true, Balance: balance}, nil
	}

	if item.Availability == reward.AvailabilityLimited {
		applied, err := s.catalog.DecrementStock(ctx, itemID)
		if err != nil {
			return Redemption{}, err
		}
		if !applied {
			if err := s.refund(ctx, userID, item, key, now); err != nil {
				return Redemption{}, err
			}
			return Redemption{}, fmt.Errorf("redeem %s: %w", itemID, errs.ErrOutOfStock)
		}
	}

	balance, err = s.ledger.TotalPoints(ctx, userID)
	if err != nil {
		return Redemption{}, err
	}
	s.log.Infof("user %s redeemed %s for %d points", userID, itemID, item.PointsCost)
	return Redemption{Item: item, Event: stored, Balance: balance}, nil
}

// refund compensates a debit that could not be honoured. The refund key is
// derived from the redemption key, so the compensation itself is idempotent.
func (s *Service) refund(ctx context.Context, userID string, item reward.CatalogItem, redemptionKey string, now time.Time) error {
	evt := reward.Event{
		UserID:      userID,
		Category:    reward.CategoryPoints,
		Amount:      item.PointsCost,
		Source:      reward.SourceRefund,
		ReferenceID: item.ID,
		Reason:      fmt.Sprintf("refund for %s", item.Title),
		DedupKey:    "refund:" + redemptionKey,
		OccurredAt:  now,
	}
	_, _, err := s.ledger.Append(ctx, evt)
	return err
}
