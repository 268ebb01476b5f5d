// Package achievements tracks per-user progress against the achievement
// catalog and issues the one-time completion reward.
package achievements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lifequest-app/progress-engine/internal/app/domain/achievement"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
	"github.com/lifequest-app/progress-engine/internal/app/services/ledger"
	"github.com/lifequest-app/progress-engine/internal/app/storage"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

// Service applies progress increments and reads achievement state.
type Service struct {
	store  storage.AchievementStore
	ledger *ledger.Service
	log    *logger.Logger
}

// New creates the achievement service.
func New(store storage.AchievementStore, ledgerSvc *ledger.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("achievements")
	}
	return &Service{store: store, ledger: ledgerSvc, log: log}
}

// Seed upserts catalog definitions, typically at startup.
func (s *Service) Seed(ctx context.Context, defs []achievement.Definition) error {
	for _, def := range defs {
		if def.ID == "" || def.RequirementValue <= 0 {
			return fmt.Errorf("invalid achievement definition %q", def.ID)
		}
		if err := s.store.PutDefinition(ctx, def); err != nil {
			return fmt.Errorf("seed achievement %s: %w", def.ID, err)
		}
	}
	return nil
}

// Definitions lists the catalog, optionally filtered by category.
func (s *Service) Definitions(ctx context.Context, category string) ([]achievement.Definition, error) {
	return s.store.ListDefinitions(ctx, category)
}

// UpdateProgress applies a non-negative increment toward the achievement.
// Progress is clamped at the requirement; the increment that crosses the
// threshold flips the row terminal and credits the reward points exactly
// once, even when callers race. The keyed reward append runs on every call
// that observes a completed row, so a crash between the threshold crossing
// and the credit heals on the next update instead of losing the reward.
func (s *Service) UpdateProgress(ctx context.Context, userID, achievementID string, delta int64, occurredAt time.Time) (achievement.Progress, bool, error) {
	def, err := s.store.GetDefinition(ctx, achievementID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return achievement.Progress{}, false, fmt.Errorf("achievement %s: %w", achievementID, errs.ErrNotFound)
		}
		return achievement.Progress{}, false, fmt.Errorf("get achievement %s: %w", achievementID, err)
	}

	p, completedNow, err := s.store.ApplyProgress(ctx, userID, achievementID, delta, def.RequirementValue)
	if err != nil {
		return achievement.Progress{}, false, fmt.Errorf("apply progress: %w", err)
	}
	if !p.Completed() {
		return p, false, nil
	}

	if completedNow {
		s.log.Infof("user %s unlocked achievement %s", userID, achievementID)
	}
	if def.PointsReward > 0 {
		evt := reward.Event{
			UserID:      userID,
			Category:    reward.CategoryPoints,
			Amount:      def.PointsReward,
			Source:      reward.SourceAchievement,
			ReferenceID: achievementID,
			Reason:      fmt.Sprintf("achievement unlocked: %s", def.Title),
			DedupKey:    reward.AchievementKey(achievementID),
			OccurredAt:  occurredAt.UTC(),
		}
		if _, _, err := s.ledger.Append(ctx, evt); err != nil {
			return achievement.Progress{}, false, err
		}
	}
	return p, completedNow, nil
}

// Read returns the user's progress toward one achievement. A user with no
// progress row reads as zero progress, not NotFound.
func (s *Service) Read(ctx context.Context, userID, achievementID string) (achievement.Progress, error) {
	if _, err := s.store.GetDefinition(ctx, achievementID); err != nil {
		return achievement.Progress{}, err
	}
	p, err := s.store.GetProgress(ctx, userID, achievementID)
	if errors.Is(err, errs.ErrNotFound) {
		return achievement.Zero(userID, achievementID), nil
	}
	if err != nil {
		return achievement.Progress{}, fmt.Errorf("get progress: %w", err)
	}
	return p, nil
}

// Status pairs a catalog definition with one user's progress.
type Status struct {
	Definition achievement.Definition
	Progress   achievement.Progress
}

// List joins the catalog with the user's progress rows, substituting zero
// progress for achievements the user has not touched.
func (s *Service) List(ctx context.Context, userID string) ([]Status, error) {
	defs, err := s.store.ListDefinitions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	rows, err := s.store.ListProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}

	byID := make(map[string]achievement.Progress, len(rows))
	for _, p := range rows {
		byID[p.AchievementID] = p
	}

	result := make([]Status, 0, len(defs))
	for _, def := range defs {
		p, ok := byID[def.ID]
		if !ok {
			p = achievement.Zero(userID, def.ID)
		}
		result = append(result, Status{Definition: def, Progress: p})
	}
	return result, nil
}

// Stats summarises a user's achievement standing.
type Stats struct {
	Total        int
	Completed    int
	PointsEarned int64
}

// Stats aggregates the user's completed achievements and the points they
// paid out.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	statuses, err := s.List(ctx, userID)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(statuses)}
	for _, st := range statuses {
		if st.Progress.Completed() {
			stats.Completed++
			stats.PointsEarned += st.Definition.PointsReward
		}
	}
	return stats, nil
}
