// Package quests manages time-bounded quest instances through their state
// machine and issues completion rewards exactly once per instance.
package quests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lifequest-app/progress-engine/internal/app/domain/quest"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
	"github.com/lifequest-app/progress-engine/internal/app/metrics"
	"github.com/lifequest-app/progress-engine/internal/app/services/ledger"
	"github.com/lifequest-app/progress-engine/internal/app/services/levels"
	"github.com/lifequest-app/progress-engine/internal/app/storage"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

// Service implements the quest lifecycle.
type Service struct {
	store  storage.QuestStore
	ledger *ledger.Service
	levels *levels.Service
	log    *logger.Logger
}

// New creates the quest service.
func New(store storage.QuestStore, ledgerSvc *ledger.Service, levelSvc *levels.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("quests")
	}
	return &Service{store: store, ledger: ledgerSvc, levels: levelSvc, log: log}
}

// SeedTemplates upserts quest templates, typically at startup.
func (s *Service) SeedTemplates(ctx context.Context, templates []quest.Template) error {
	for _, tpl := range templates {
		if tpl.ID == "" {
			return fmt.Errorf("quest template id is required")
		}
		if _, err := quest.ParseType(string(tpl.Type)); err != nil {
			return fmt.Errorf("quest template %s: %w", tpl.ID, err)
		}
		if err := s.store.PutTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("seed quest %s: %w", tpl.ID, err)
		}
	}
	return nil
}

// Templates lists the catalog, optionally filtered by type.
func (s *Service) Templates(ctx context.Context, qtype quest.Type) ([]quest.Template, error) {
	return s.store.ListTemplates(ctx, qtype)
}

// Accept starts a new Active instance of the template for the user. The
// storage layer's partial uniqueness rejects a second active instance of the
// same quest with errs.ErrAlreadyActive.
func (s *Service) Accept(ctx context.Context, userID, questID string, customDays int, now time.Time) (quest.Instance, error) {
	tpl, err := s.store.GetTemplate(ctx, questID)
	if err != nil {
		return quest.Instance{}, err
	}

	now = now.UTC()
	inst, err := s.store.CreateInstance(ctx, quest.Instance{
		ID:        uuid.NewString(),
		UserID:    userID,
		QuestID:   questID,
		State:     quest.StateActive,
		StartedAt: now,
		ExpiresAt: tpl.ExpiryFrom(now, customDays),
	})
	if err != nil {
		return quest.Instance{}, err
	}

	metrics.RecordQuestTransition(string(quest.StateActive))
	s.log.Infof("user %s accepted quest %s until %s", userID, questID, inst.ExpiresAt.Format(time.RFC3339))
	return inst, nil
}

// UpdateProgress advances an active instance. Reaching the completion
// threshold transitions it to Completed and issues the template rewards;
// the conditional transition guarantees the rewards fire for exactly one of
// any concurrent crossing calls. Updates against terminal or expired
// instances return errs.ErrInvalidState — but a completed instance still
// re-attempts its keyed payout first, so a retry after a crash between the
// transition and the reward appends heals the missing events.
func (s *Service) UpdateProgress(ctx context.Context, instanceID string, progress int, now time.Time) (quest.Instance, bool, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return quest.Instance{}, false, err
	}
	now = now.UTC()
	if inst.State.Terminal() {
		if inst.State == quest.StateCompleted {
			if err := s.issueRewards(ctx, inst, now); err != nil {
				return quest.Instance{}, false, err
			}
		}
		return inst, false, errs.ErrInvalidState
	}

	if !inst.ExpiresAt.After(now) {
		// Past expiry but not yet swept: expire it now rather than
		// accept progress.
		expired, applied, err := s.store.ExpireInstance(ctx, instanceID, now)
		if err != nil {
			return quest.Instance{}, false, err
		}
		if applied {
			metrics.RecordQuestTransition(string(quest.StateExpired))
		}
		return expired, false, errs.ErrInvalidState
	}

	if progress < quest.CompletionThreshold {
		updated, applied, err := s.store.SetInstanceProgress(ctx, instanceID, progress)
		if err != nil {
			return quest.Instance{}, false, err
		}
		if !applied {
			return updated, false, errs.ErrInvalidState
		}
		return updated, false, nil
	}

	completed, applied, err := s.store.CompleteInstance(ctx, instanceID, quest.CompletionThreshold, now)
	if err != nil {
		return quest.Instance{}, false, err
	}
	if !applied {
		// Lost the transition race. If the winner completed it, make sure
		// the payout landed; the keyed appends cannot double it.
		if completed.State == quest.StateCompleted {
			if err := s.issueRewards(ctx, completed, now); err != nil {
				return quest.Instance{}, false, err
			}
		}
		return completed, false, errs.ErrInvalidState
	}

	metrics.RecordQuestTransition(string(quest.StateCompleted))
	if err := s.issueRewards(ctx, completed, now); err != nil {
		return quest.Instance{}, false, err
	}
	return completed, true, nil
}

// issueRewards credits the template payout for a completed instance. Both
// halves are keyed by the instance id, so a retry after a partial failure
// completes the payout without doubling it.
func (s *Service) issueRewards(ctx context.Context, inst quest.Instance, now time.Time) error {
	tpl, err := s.store.GetTemplate(ctx, inst.QuestID)
	if err != nil {
		return err
	}

	if tpl.Rewards.Points > 0 {
		evt := reward.Event{
			UserID:      inst.UserID,
			Category:    reward.CategoryPoints,
			Amount:      tpl.Rewards.Points,
			Source:      reward.SourceQuest,
			ReferenceID: inst.QuestID,
			Reason:      fmt.Sprintf("quest completed: %s", tpl.Title),
			DedupKey:    reward.QuestRewardKey(inst.ID),
			OccurredAt:  now,
		}
		if _, _, err := s.ledger.Append(ctx, evt); err != nil {
			return err
		}
	}

	if tpl.Rewards.XP > 0 {
		if _, err := s.levels.AddXP(ctx, inst.UserID, tpl.Rewards.XP, reward.SourceQuest, inst.QuestID, reward.QuestXPKey(inst.ID), now); err != nil {
			return err
		}
	}

	if len(tpl.Rewards.Collectibles) > 0 {
		s.log.Infof("user %s earned collectibles from %s: %s", inst.UserID, tpl.ID, strings.Join(tpl.Rewards.Collectibles, ", "))
	}
	return nil
}

// Abandon transitions an active instance to Abandoned. No rewards are
// issued; the state is terminal.
func (s *Service) Abandon(ctx context.Context, instanceID string, now time.Time) (quest.Instance, error) {
	inst, applied, err := s.store.AbandonInstance(ctx, instanceID, now.UTC())
	if err != nil {
		return quest.Instance{}, err
	}
	if !applied {
		return inst, errs.ErrInvalidState
	}
	metrics.RecordQuestTransition(string(quest.StateAbandoned))
	return inst, nil
}

// Instance returns one instance by id.
func (s *Service) Instance(ctx context.Context, instanceID string) (quest.Instance, error) {
	return s.store.GetInstance(ctx, instanceID)
}

// Instances lists a user's instances, active and historical.
func (s *Service) Instances(ctx context.Context, userID string) ([]quest.Instance, error) {
	return s.store.ListInstances(ctx, userID)
}

// Overview pairs each template with the user's active instance of it, if any.
type Overview struct {
	Template quest.Template
	Active   *quest.Instance
}

// ListForUser returns the catalog annotated with the user's active instances.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Overview, error) {
	templates, err := s.store.ListTemplates(ctx, "")
	if err != nil {
		return nil, err
	}
	instances, err := s.store.ListInstances(ctx, userID)
	if err != nil {
		return nil, err
	}

	activeByQuest := make(map[string]quest.Instance)
	for _, inst := range instances {
		if inst.State == quest.StateActive {
			activeByQuest[inst.QuestID] = inst
		}
	}

	result := make([]Overview, 0, len(templates))
	for _, tpl := range templates {
		entry := Overview{Template: tpl}
		if inst, ok := activeByQuest[tpl.ID]; ok {
			snapshot := inst
			entry.Active = &snapshot
		}
		result = append(result, entry)
	}
	return result, nil
}

// SweepExpired expires every active instance whose deadline has passed.
// Expiry is terminal and issues nothing; the conditional transition makes
// the sweep safe to run concurrently with user traffic.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	candidates, err := s.store.ListExpiredActive(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired instances: %w", err)
	}

	swept := 0
	for _, inst := range candidates {
		_, applied, err := s.store.ExpireInstance(ctx, inst.ID, now)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return swept, fmt.Errorf("expire instance %s: %w", inst.ID, err)
		}
		if applied {
			metrics.RecordQuestTransition(string(quest.StateExpired))
			swept++
		}
	}
	if swept > 0 {
		s.log.Infof("expired %d quest instance(s)", swept)
	}
	return swept, nil
}
