// Package level defines per-user experience level state and the xp curve.
package level

import "time"

// State is a user's current level and the xp accumulated within it. The
// invariant XP < Curve.RequiredXP(Level) holds after every mutation; the
// cascade in the levels service rolls forward until it does.
type State struct {
	UserID    string
	Level     int
	XP        int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Initial is the state created on a user's first xp event.
func Initial(userID string) State {
	return State{UserID: userID, Level: 1}
}

// Curve computes the xp required to leave a level:
// required(n) = Base + Step*(n-1). The original tracker uses a flat 100 xp
// per level, which is Base=100, Step=0.
type Curve struct {
	Base int64 `yaml:"base_xp"`
	Step int64 `yaml:"step_xp"`
}

// DefaultCurve mirrors the flat curve of the original tracker.
var DefaultCurve = Curve{Base: 100, Step: 0}

// RequiredXP returns the threshold for advancing past the given level.
func (c Curve) RequiredXP(lvl int) int64 {
	if lvl < 1 {
		lvl = 1
	}
	req := c.Base + c.Step*int64(lvl-1)
	if req <= 0 {
		req = 1
	}
	return req
}
