// Package achievement defines the static achievement catalog and per-user
// progress toward it.
package achievement

import "time"

// Definition is a catalog entry: a threshold and the one-time reward for
// crossing it.
type Definition struct {
	ID               string
	Category         string
	Title            string
	Description      string
	RequirementValue int64
	PointsReward     int64
}

// Progress is a user's accumulated progress toward one definition. Progress
// is monotonically non-decreasing and clamped to the requirement; once
// CompletedAt is set the row is terminal.
type Progress struct {
	UserID        string
	AchievementID string
	Progress      int64
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Completed reports whether the achievement has been earned.
func (p Progress) Completed() bool {
	return p.CompletedAt != nil
}

// Zero returns the sparse default for a user who has no progress row yet.
func Zero(userID, achievementID string) Progress {
	return Progress{UserID: userID, AchievementID: achievementID}
}
