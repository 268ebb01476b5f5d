// Package levels folds xp additions into per-user level state. A single
// addition may cross several levels; the cascade is applied through an
// optimistic compare-and-swap so concurrent additions never skip or double a
// level, and each level-up reward is keyed so it can be credited only once.
package levels

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lifequest-app/progress-engine/internal/app/domain/level"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
	"github.com/lifequest-app/progress-engine/internal/app/metrics"
	"github.com/lifequest-app/progress-engine/internal/app/services/ledger"
	"github.com/lifequest-app/progress-engine/internal/app/storage"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

// maxRetries bounds the CAS retry loop before ErrTransient surfaces.
const maxRetries = 5

// Config carries the xp curve and the level-up payout.
type Config struct {
	Curve        level.Curve `yaml:"curve"`
	LevelUpBonus int64       `yaml:"level_up_bonus_points"`
}

// DefaultConfig uses the flat 100-xp curve and a 25-point level-up bonus.
var DefaultConfig = Config{Curve: level.DefaultCurve, LevelUpBonus: 25}

func (c Config) normalised() Config {
	if c.Curve == (level.Curve{}) {
		c.Curve = level.DefaultCurve
	}
	if c.LevelUpBonus < 0 {
		c.LevelUpBonus = 0
	}
	return c
}

// Service implements xp accumulation and level progression.
type Service struct {
	store  storage.LevelStore
	ledger *ledger.Service
	cfg    Config
	log    *logger.Logger
}

// New creates the level service.
func New(store storage.LevelStore, ledgerSvc *ledger.Service, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("levels")
	}
	return &Service{store: store, ledger: ledgerSvc, cfg: cfg.normalised(), log: log}
}

// Result reports the outcome of one AddXP call.
type Result struct {
	State     level.State
	LeveledTo []int // levels reached by this call, in order
	Duplicate bool  // the xp event was already applied
}

// AddXP appends the xp event, then rolls the addition into the level state.
// Each threshold crossing increments the level, subtracts the requirement,
// and credits that level's reward. The whole cascade commits as one
// conditional write, so no intermediate level is ever observable. A dedup
// hit skips the fold entirely and reports the current state.
func (s *Service) AddXP(ctx context.Context, userID string, amount int64, source reward.Source, referenceID, dedupKey string, occurredAt time.Time) (Result, error) {
	if amount <= 0 {
		return Result{}, fmt.Errorf("xp amount must be positive, got %d", amount)
	}
	if dedupKey == "" {
		dedupKey = reward.DedupKey(source, referenceID, occurredAt.UTC())
	}

	evt := reward.Event{
		UserID:      userID,
		Category:    reward.CategoryXP,
		Amount:      amount,
		Source:      source,
		ReferenceID: referenceID,
		Reason:      "xp gained",
		DedupKey:    dedupKey,
		OccurredAt:  occurredAt.UTC(),
	}
	_, inserted, err := s.ledger.Append(ctx, evt)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		st, err := s.currentState(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		return Result{State: st, Duplicate: true}, nil
	}

	st, leveledTo, err := s.cascade(ctx, userID, amount)
	if err != nil {
		return Result{}, err
	}

	for _, lvl := range leveledTo {
		if err := s.creditLevelUp(ctx, userID, lvl, occurredAt); err != nil {
			return Result{}, err
		}
		metrics.RecordLevelUp()
	}
	if len(leveledTo) > 0 {
		s.log.Infof("user %s reached level %d", userID, leveledTo[len(leveledTo)-1])
	}
	return Result{State: st, LeveledTo: leveledTo}, nil
}

// cascade retries the fold until the conditional write lands or the retry
// budget is spent.
func (s *Service) cascade(ctx context.Context, userID string, amount int64) (level.State, []int, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		var prev *level.State
		st, err := s.store.GetLevelState(ctx, userID)
		if errors.Is(err, errs.ErrNotFound) {
			st = level.Initial(userID)
		} else if err != nil {
			return level.State{}, nil, fmt.Errorf("get level state: %w", err)
		} else {
			snapshot := st
			prev = &snapshot
		}

		st.XP += amount
		var leveledTo []int
		for st.XP >= s.cfg.Curve.RequiredXP(st.Level) {
			st.XP -= s.cfg.Curve.RequiredXP(st.Level)
			st.Level++
			leveledTo = append(leveledTo, st.Level)
		}

		applied, err := s.store.SaveLevelState(ctx, prev, st)
		if err != nil {
			return level.State{}, nil, fmt.Errorf("save level state: %w", err)
		}
		if applied {
			return st, leveledTo, nil
		}
		// Lost the race; another addition committed first.
		s.log.WithField("user_id", userID).Debugf("level cascade retry %d: %v", attempt+1, errs.ErrConcurrencyConflict)
	}
	return level.State{}, nil, fmt.Errorf("level cascade for %s: %w", userID, errs.ErrTransient)
}

func (s *Service) creditLevelUp(ctx context.Context, userID string, lvl int, occurredAt time.Time) error {
	if s.cfg.LevelUpBonus <= 0 {
		return nil
	}
	evt := reward.Event{
		UserID:      userID,
		Category:    reward.CategoryPoints,
		Amount:      s.cfg.LevelUpBonus,
		Source:      reward.SourceLevel,
		ReferenceID: strconv.Itoa(lvl),
		Reason:      fmt.Sprintf("reached level %d", lvl),
		DedupKey:    reward.LevelUpKey(userID, lvl),
		OccurredAt:  occurredAt.UTC(),
	}
	_, _, err := s.ledger.Append(ctx, evt)
	return err
}

// View is the read model for a user's level.
type View struct {
	Level      int
	XP         int64
	RequiredXP int64
}

// State returns the user's level, xp within it, and the xp required to leave
// it. Users without an xp event yet read as a fresh level 1.
func (s *Service) State(ctx context.Context, userID string) (View, error) {
	st, err := s.currentState(ctx, userID)
	if err != nil {
		return View{}, err
	}
	return View{Level: st.Level, XP: st.XP, RequiredXP: s.cfg.Curve.RequiredXP(st.Level)}, nil
}

// Curve exposes the configured xp curve for reconciliation.
func (s *Service) Curve() level.Curve {
	return s.cfg.Curve
}

func (s *Service) currentState(ctx context.Context, userID string) (level.State, error) {
	st, err := s.store.GetLevelState(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return level.Initial(userID), nil
	}
	if err != nil {
		return level.State{}, fmt.Errorf("get level state: %w", err)
	}
	return st, nil
}
