// Package reward defines the immutable reward event, the unit of truth for
// every point and xp change in the engine.
package reward

import (
	"fmt"
	"time"
)

// Category separates the two reward currencies.
type Category string

const (
	CategoryPoints Category = "points"
	CategoryXP     Category = "xp"
)

// Source identifies the action kind that produced an event. The set is
// closed; unknown tags are rejected at the boundary.
type Source string

const (
	SourceHabit       Source = "habit"
	SourceQuiz        Source = "quiz"
	SourceGoal        Source = "goal"
	SourceAchievement Source = "achievement"
	SourceQuest       Source = "quest"
	SourceLevel       Source = "level"
	SourceRefund      Source = "refund"
	SourceRedemption  Source = "redemption"
)

// ParseSource validates a string tag against the closed source set.
func ParseSource(raw string) (Source, error) {
	switch s := Source(raw); s {
	case SourceHabit, SourceQuiz, SourceGoal, SourceAchievement,
		SourceQuest, SourceLevel, SourceRefund, SourceRedemption:
		return s, nil
	default:
		return "", fmt.Errorf("source %q is not recognised", raw)
	}
}

// Event is an append-only fact recording a point or xp change for one user.
// Events are never mutated or deleted; corrections are compensating events.
type Event struct {
	ID          int64
	UserID      string
	Category    Category
	Amount      int64
	Source      Source
	ReferenceID string
	Reason      string
	DedupKey    string
	OccurredAt  time.Time
	CreatedAt   time.Time
}

// Validate checks the fields required before an append.
func (e Event) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if e.Category != CategoryPoints && e.Category != CategoryXP {
		return fmt.Errorf("category %q is not recognised", e.Category)
	}
	if _, err := ParseSource(string(e.Source)); err != nil {
		return err
	}
	if e.DedupKey == "" {
		return fmt.Errorf("dedup_key is required")
	}
	return nil
}

const dayLayout = "2006-01-02"

// DedupKey derives the deterministic idempotency key for a reward-bearing
// action: one credit per source, reference and calendar day.
func DedupKey(source Source, referenceID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", source, referenceID, day.Format(dayLayout))
}

// StreakBonusKey keys the streak bonus for a habit on a given day, distinct
// from the base completion key so both can exist.
func StreakBonusKey(habitID string, day time.Time) string {
	return fmt.Sprintf("streak-bonus:%s:%s", habitID, day.Format(dayLayout))
}

// AchievementKey keys the one-time achievement reward. Dedup keys are scoped
// per user, so the achievement id alone is sufficient.
func AchievementKey(achievementID string) string {
	return "achievement:" + achievementID
}

// QuestRewardKey keys the one-time quest completion rewards by instance.
func QuestRewardKey(instanceID string) string {
	return "quest:" + instanceID
}

// QuestXPKey keys the xp half of a quest payout. It must differ from
// QuestRewardKey because dedup keys are unique per user across categories.
func QuestXPKey(instanceID string) string {
	return "quest-xp:" + instanceID
}

// LevelUpKey keys the reward for reaching a level, so re-running a cascade
// cannot credit a level twice.
func LevelUpKey(userID string, level int) string {
	return fmt.Sprintf("level-up:%s:%d", userID, level)
}

// RedemptionKey keys a points spend. One-time rewards use the item id alone,
// so a user can redeem them at most once; repeatable rewards mix in the
// caller's idempotency key.
func RedemptionKey(itemID, idempotencyKey string) string {
	if idempotencyKey == "" {
		return "redemption:" + itemID
	}
	return fmt.Sprintf("redemption:%s:%s", itemID, idempotencyKey)
}

// Availability controls how often a catalog item can be redeemed.
type Availability string

const (
	AvailabilityUnlimited Availability = "unlimited"
	AvailabilityOneTime   Availability = "one_time"
	AvailabilityLimited   Availability = "limited"
)

// CatalogItem is a redeemable reward priced in points.
type CatalogItem struct {
	ID           string
	Title        string
	Description  string
	PointsCost   int64
	Availability Availability
	Stock        int
}
