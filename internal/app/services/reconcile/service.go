// Package reconcile recomputes derived aggregates as a pure fold over the
// event ledger and reports where the stored rows have drifted. Divergence is
// never fixed mid-request anywhere else in the engine; this service is the
// only writer that may repair it, and only when explicitly asked.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/lifequest-app/progress-engine/internal/app/cache"
	"github.com/lifequest-app/progress-engine/internal/app/domain/level"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
	"github.com/lifequest-app/progress-engine/internal/app/metrics"
	"github.com/lifequest-app/progress-engine/internal/app/services/ledger"
	"github.com/lifequest-app/progress-engine/internal/app/storage"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

// Service recomputes aggregates from the ledger.
type Service struct {
	ledger *ledger.Service
	levels storage.LevelStore
	cache  cache.PointsCache
	curve  level.Curve
	log    *logger.Logger
}

// New creates the reconciliation service. The curve must match the one the
// level service folds with, or every user will read as diverged.
func New(ledgerSvc *ledger.Service, levels storage.LevelStore, pointsCache cache.PointsCache, curve level.Curve, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	if pointsCache == nil {
		pointsCache = cache.Noop{}
	}
	if curve == (level.Curve{}) {
		curve = level.DefaultCurve
	}
	return &Service{ledger: ledgerSvc, levels: levels, cache: pointsCache, curve: curve, log: log}
}

// Report describes one user's stored-versus-derived aggregate comparison.
type Report struct {
	UserID string

	PointsDerived int64
	PointsCached  int64
	PointsStale   bool // a cached total disagreed with the ledger

	LevelStored   level.State
	LevelDerived  level.State
	LevelDiverged bool

	Repaired bool
}

// Recompute replays the user's full ledger, derives the points total and the
// level state, and compares them with what is stored. With repair=true the
// stale cache entry is dropped and the level row is rewritten to the derived
// value through the usual conditional write.
func (s *Service) Recompute(ctx context.Context, userID string, repair bool) (Report, error) {
	events, err := s.ledger.Replay(ctx, userID)
	if err != nil {
		return Report{}, err
	}

	report := Report{UserID: userID}
	report.PointsDerived = derivePoints(events)
	report.LevelDerived = s.deriveLevel(userID, events)

	if cached, ok, err := s.cache.GetTotal(ctx, userID); err != nil {
		s.log.WithError(err).Warnf("points cache read for %s", userID)
	} else if ok {
		report.PointsCached = cached
		if cached != report.PointsDerived {
			report.PointsStale = true
			metrics.RecordDivergence("points")
			s.log.Warnf("user %s cached points %d != ledger %d", userID, cached, report.PointsDerived)
		}
	}

	stored, err := s.levels.GetLevelState(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		stored = level.Initial(userID)
	} else if err != nil {
		return Report{}, fmt.Errorf("get level state: %w", err)
	}
	report.LevelStored = stored

	if stored.Level != report.LevelDerived.Level || stored.XP != report.LevelDerived.XP {
		report.LevelDiverged = true
		metrics.RecordDivergence("level")
		s.log.Warnf("user %s stored level %d/%dxp != derived %d/%dxp",
			userID, stored.Level, stored.XP, report.LevelDerived.Level, report.LevelDerived.XP)
	}

	if repair {
		repaired, err := s.repair(ctx, report)
		if err != nil {
			return Report{}, err
		}
		report.Repaired = repaired
	}
	return report, nil
}

func (s *Service) repair(ctx context.Context, report Report) (bool, error) {
	if report.PointsStale {
		if err := s.cache.Invalidate(ctx, report.UserID); err != nil {
			return false, fmt.Errorf("invalidate points cache: %w", err)
		}
	}
	if !report.LevelDiverged {
		return report.PointsStale, nil
	}

	prev := &report.LevelStored
	if report.LevelStored.CreatedAt.IsZero() && report.LevelStored.Level == 1 && report.LevelStored.XP == 0 {
		// No stored row existed; insert instead of compare-and-swap.
		prev = nil
	}
	applied, err := s.levels.SaveLevelState(ctx, prev, report.LevelDerived)
	if err != nil {
		return false, fmt.Errorf("save level state: %w", err)
	}
	if !applied {
		// A concurrent write moved the row; the next recompute will
		// see the new state.
		s.log.Warnf("level repair for %s lost a race: %v", report.UserID, errs.ErrConcurrencyConflict)
		return false, nil
	}
	s.log.Infof("repaired level state for %s to %d/%dxp", report.UserID, report.LevelDerived.Level, report.LevelDerived.XP)
	return true, nil
}

func derivePoints(events []reward.Event) int64 {
	var total int64
	for _, evt := range events {
		if evt.Category == reward.CategoryPoints {
			total += evt.Amount
		}
	}
	return total
}

// deriveLevel folds the xp events in ledger order through the curve, the
// same cascade AddXP applies incrementally.
func (s *Service) deriveLevel(userID string, events []reward.Event) level.State {
	st := level.Initial(userID)
	for _, evt := range events {
		if evt.Category != reward.CategoryXP {
			continue
		}
		st.XP += evt.Amount
		for st.XP >= s.curve.RequiredXP(st.Level) {
			st.XP -= s.curve.RequiredXP(st.Level)
			st.Level++
		}
	}
	return st
}
