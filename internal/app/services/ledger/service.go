// Package ledger owns the append-only reward event history and the totals
// derived from it. Every point and xp change in the engine flows through
// Append.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/lifequest-app/progress-engine/internal/app/cache"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/metrics"
	"github.com/lifequest-app/progress-engine/internal/app/storage"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

// Service provides append and aggregation over the reward event ledger.
type Service struct {
	store storage.LedgerStore
	cache cache.PointsCache
	log   *logger.Logger
}

// New creates the ledger service. A nil cache disables caching.
func New(store storage.LedgerStore, pointsCache cache.PointsCache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if pointsCache == nil {
		pointsCache = cache.Noop{}
	}
	return &Service{store: store, cache: pointsCache, log: log}
}

// Append records the event unless its dedup key was already used by this
// user. A duplicate returns the prior event and inserted=false; callers
// treat that as success with the prior result.
func (s *Service) Append(ctx context.Context, evt reward.Event) (reward.Event, bool, error) {
	stored, inserted, err := s.store.AppendEvent(ctx, evt)
	if err != nil {
		return reward.Event{}, false, fmt.Errorf("append event: %w", err)
	}

	if !inserted {
		metrics.RecordDuplicateEvent()
		s.log.WithField("user_id", evt.UserID).
			WithField("dedup_key", evt.DedupKey).
			Debug("duplicate event, prior result stands")
		return stored, false, nil
	}

	if stored.Category == reward.CategoryPoints {
		if err := s.cache.Invalidate(ctx, stored.UserID); err != nil {
			s.log.WithError(err).Warnf("invalidate points cache for %s", stored.UserID)
		}
	}
	return stored, true, nil
}

// TotalPoints returns the user's lifetime points balance, the signed sum of
// all points events.
func (s *Service) TotalPoints(ctx context.Context, userID string) (int64, error) {
	if total, ok, err := s.cache.GetTotal(ctx, userID); err != nil {
		s.log.WithError(err).Warnf("points cache read for %s", userID)
	} else if ok {
		return total, nil
	}

	total, err := s.store.SumEvents(ctx, userID, reward.CategoryPoints, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("sum points: %w", err)
	}

	if err := s.cache.SetTotal(ctx, userID, total); err != nil {
		s.log.WithError(err).Warnf("points cache write for %s", userID)
	}
	return total, nil
}

// TotalXP returns the signed sum of all xp events.
func (s *Service) TotalXP(ctx context.Context, userID string) (int64, error) {
	total, err := s.store.SumEvents(ctx, userID, reward.CategoryXP, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("sum xp: %w", err)
	}
	return total, nil
}

// Replay returns the full ledger in fold order (occurred_at, then id) for
// recomputation.
func (s *Service) Replay(ctx context.Context, userID string) ([]reward.Event, error) {
	events, err := s.store.ReplayEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("replay events: %w", err)
	}
	return events, nil
}

// History returns recent events newest first. days <= 0 means the full
// history; limit <= 0 applies the store default.
func (s *Service) History(ctx context.Context, userID string, days, limit int) ([]reward.Event, error) {
	var since time.Time
	if days > 0 {
		since = time.Now().UTC().AddDate(0, 0, -days)
	}
	events, err := s.store.ListEvents(ctx, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
