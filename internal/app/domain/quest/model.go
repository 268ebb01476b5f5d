// Package quest defines quest templates and the time-bounded instance state
// machine: Active -> Completed | Expired | Abandoned, all terminal.
package quest

import (
	"fmt"
	"time"
)

// Type fixes how an instance's expiry is computed on accept.
type Type string

const (
	TypeDaily  Type = "daily"
	TypeWeekly Type = "weekly"
	TypeCustom Type = "custom"
)

// ParseType validates a quest type tag.
func ParseType(raw string) (Type, error) {
	switch t := Type(raw); t {
	case TypeDaily, TypeWeekly, TypeCustom:
		return t, nil
	default:
		return "", fmt.Errorf("quest type %q is not recognised", raw)
	}
}

// Rewards is the structured payout of a completed quest.
type Rewards struct {
	XP           int64    `yaml:"xp"`
	Points       int64    `yaml:"points"`
	Collectibles []string `yaml:"collectibles"`
}

// Template is a catalog entry users accept instances of.
type Template struct {
	ID           string
	Type         Type
	Title        string
	Description  string
	DurationDays int // used for TypeCustom when the accept carries no override
	Rewards      Rewards
}

// ExpiryFrom computes when an instance accepted now runs out. customDays
// overrides the template duration for custom quests when positive.
func (t Template) ExpiryFrom(now time.Time, customDays int) time.Time {
	switch t.Type {
	case TypeDaily:
		return now.AddDate(0, 0, 1)
	case TypeWeekly:
		return now.AddDate(0, 0, 7)
	default:
		days := t.DurationDays
		if customDays > 0 {
			days = customDays
		}
		if days <= 0 {
			days = 1
		}
		return now.AddDate(0, 0, days)
	}
}

// State is the instance lifecycle state.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateExpired   State = "expired"
	StateAbandoned State = "abandoned"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpired || s == StateAbandoned
}

// CompletionThreshold is the progress value at which an active instance
// completes.
const CompletionThreshold = 100

// Instance is one user's acceptance of a template. Instances are kept for
// history and never deleted.
type Instance struct {
	ID          string
	UserID      string
	QuestID     string
	State       State
	Progress    int
	StartedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
