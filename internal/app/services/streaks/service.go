// Package streaks implements habit completion recording and consecutive-day
// streak computation, including the periodic streak bonus.
package streaks

import (
	"context"
	"fmt"
	"time"

	"github.com/lifequest-app/progress-engine/internal/app/domain/habit"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
	"github.com/lifequest-app/progress-engine/internal/app/services/ledger"
	"github.com/lifequest-app/progress-engine/internal/app/storage"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

// Config carries the reward policy for habit completions.
type Config struct {
	BasePoints    int64 `yaml:"base_points"`
	BonusInterval int   `yaml:"bonus_interval"`
	BonusPoints   int64 `yaml:"bonus_points"`
}

// DefaultConfig mirrors the original tracker: 5 points per completion, a
// 50-point bonus at every 7th consecutive day.
var DefaultConfig = Config{BasePoints: 5, BonusInterval: 7, BonusPoints: 50}

func (c Config) normalised() Config {
	if c.BasePoints <= 0 {
		c.BasePoints = DefaultConfig.BasePoints
	}
	if c.BonusInterval <= 0 {
		c.BonusInterval = DefaultConfig.BonusInterval
	}
	if c.BonusPoints < 0 {
		c.BonusPoints = DefaultConfig.BonusPoints
	}
	return c
}

// Service records completions and derives streaks from the completion set.
type Service struct {
	habits storage.HabitStore
	ledger *ledger.Service
	cfg    Config
	log    *logger.Logger
}

// New creates the streak service.
func New(habits storage.HabitStore, ledgerSvc *ledger.Service, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("streaks")
	}
	return &Service{habits: habits, ledger: ledgerSvc, cfg: cfg.normalised(), log: log}
}

// Result reports what one completion earned.
type Result struct {
	Completion   habit.Completion
	Streak       int
	Points       int64
	BonusAwarded bool
}

// RecordCompletion marks the habit done for the calendar day containing at
// (observed in loc), credits the base points, and credits the streak bonus
// when the resulting streak reaches a multiple of the bonus interval.
// A second completion for the same day returns errs.ErrAlreadyCompletedToday.
// The credit appends still run on that path: they are keyed per day, so a
// retry after a crash between the completion insert and the credits heals
// the missing events instead of losing them.
func (s *Service) RecordCompletion(ctx context.Context, userID, habitID string, at time.Time, loc *time.Location) (Result, error) {
	if habitID == "" {
		return Result{}, fmt.Errorf("habit_id is required")
	}
	day := habit.Day(at, loc)

	stored, inserted, err := s.habits.InsertCompletion(ctx, habit.Completion{
		HabitID: habitID,
		UserID:  userID,
		Date:    day,
	})
	if err != nil {
		return Result{}, fmt.Errorf("insert completion: %w", err)
	}

	res := Result{Completion: stored}

	base := reward.Event{
		UserID:      userID,
		Category:    reward.CategoryPoints,
		Amount:      s.cfg.BasePoints,
		Source:      reward.SourceHabit,
		ReferenceID: habitID,
		Reason:      "habit completion",
		DedupKey:    reward.DedupKey(reward.SourceHabit, habitID, day),
		OccurredAt:  at.UTC(),
	}
	if _, credited, err := s.ledger.Append(ctx, base); err != nil {
		return Result{}, err
	} else if credited {
		res.Points += s.cfg.BasePoints
	}

	streak, err := s.streakEndingAt(ctx, habitID, day)
	if err != nil {
		return Result{}, err
	}
	res.Streak = streak

	if streak > 0 && streak%s.cfg.BonusInterval == 0 && s.cfg.BonusPoints > 0 {
		bonus := reward.Event{
			UserID:      userID,
			Category:    reward.CategoryPoints,
			Amount:      s.cfg.BonusPoints,
			Source:      reward.SourceHabit,
			ReferenceID: habitID,
			Reason:      fmt.Sprintf("%d-day streak bonus", streak),
			DedupKey:    reward.StreakBonusKey(habitID, day),
			OccurredAt:  at.UTC(),
		}
		if _, credited, err := s.ledger.Append(ctx, bonus); err != nil {
			return Result{}, err
		} else if credited {
			res.Points += s.cfg.BonusPoints
			res.BonusAwarded = true
			s.log.Infof("habit %s reached a %d-day streak", habitID, streak)
		}
	}

	if !inserted {
		return res, errs.ErrAlreadyCompletedToday
	}
	return res, nil
}

// Current returns the habit's streak as of the given instant: the count of
// consecutive completed days walking backward from the as-of day. A day
// without a completion ends the walk, the as-of day included.
func (s *Service) Current(ctx context.Context, habitID string, asOf time.Time, loc *time.Location) (int, error) {
	day := habit.Day(asOf, loc)

	done, err := s.habits.HasCompletion(ctx, habitID, day)
	if err != nil {
		return 0, fmt.Errorf("check completion: %w", err)
	}
	if !done {
		return 0, nil
	}
	return s.streakEndingAt(ctx, habitID, day)
}

// streakEndingAt counts consecutive completed days ending at day, which the
// caller has established is completed.
func (s *Service) streakEndingAt(ctx context.Context, habitID string, day time.Time) (int, error) {
	streak := 1
	for d := habit.PrevDay(day); ; d = habit.PrevDay(d) {
		done, err := s.habits.HasCompletion(ctx, habitID, d)
		if err != nil {
			return 0, fmt.Errorf("check completion: %w", err)
		}
		if !done {
			return streak, nil
		}
		streak++
	}
}

// Completions lists a habit's completion records in the window.
func (s *Service) Completions(ctx context.Context, habitID string, from, to time.Time) ([]habit.Completion, error) {
	return s.habits.ListCompletions(ctx, habitID, from, to)
}

// DeleteHabit removes all completion records for a deleted habit. Ledger
// events are retained; the ledger is append-only.
func (s *Service) DeleteHabit(ctx context.Context, habitID string) error {
	if err := s.habits.DeleteHabitCompletions(ctx, habitID); err != nil {
		return fmt.Errorf("delete completions: %w", err)
	}
	s.log.Infof("removed completions for deleted habit %s", habitID)
	return nil
}
