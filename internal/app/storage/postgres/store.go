// Package postgres implements the storage interfaces backed by PostgreSQL.
// All uniqueness and state-transition guarantees are enforced by the database
// (ON CONFLICT, conditional UPDATE), never by read-then-write in Go.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/lifequest-app/progress-engine/internal/app/domain/achievement"
	"github.com/lifequest-app/progress-engine/internal/app/domain/habit"
	"github.com/lifequest-app/progress-engine/internal/app/domain/level"
	"github.com/lifequest-app/progress-engine/internal/app/domain/quest"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
	"github.com/lifequest-app/progress-engine/internal/app/storage"
)

// Store implements the storage interfaces using a database handle.
type Store struct {
	db *sql.DB
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.HabitStore = (*Store)(nil)
var _ storage.AchievementStore = (*Store)(nil)
var _ storage.QuestStore = (*Store)(nil)
var _ storage.LevelStore = (*Store)(nil)
var _ storage.RewardCatalogStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) AppendEvent(ctx context.Context, evt reward.Event) (reward.Event, bool, error) {
	if err := evt.Validate(); err != nil {
		return reward.Event{}, false, err
	}

	now := time.Now().UTC()
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = now
	}
	evt.CreatedAt = now

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO reward_events (user_id, category, amount, source, reference_id, reason, dedup_key, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, dedup_key) DO NOTHING
		RETURNING id
	`, evt.UserID, evt.Category, evt.Amount, evt.Source, evt.ReferenceID, evt.Reason, evt.DedupKey, evt.OccurredAt, evt.CreatedAt)

	err := row.Scan(&evt.ID)
	if err == nil {
		return evt, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return reward.Event{}, false, err
	}

	// Conflict: the prior event stands.
	prior, err := s.getEventByDedupKey(ctx, evt.UserID, evt.DedupKey)
	if err != nil {
		return reward.Event{}, false, err
	}
	return prior, false, nil
}

func (s *Store) getEventByDedupKey(ctx context.Context, userID, dedupKey string) (reward.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, category, amount, source, reference_id, reason, dedup_key, occurred_at, created_at
		FROM reward_events
		WHERE user_id = $1 AND dedup_key = $2
	`, userID, dedupKey)
	return scanEvent(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (reward.Event, error) {
	var evt reward.Event
	if err := row.Scan(&evt.ID, &evt.UserID, &evt.Category, &evt.Amount, &evt.Source,
		&evt.ReferenceID, &evt.Reason, &evt.DedupKey, &evt.OccurredAt, &evt.CreatedAt); err != nil {
		return reward.Event{}, err
	}
	return evt, nil
}

func (s *Store) SumEvents(ctx context.Context, userID string, category reward.Category, since time.Time) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM reward_events
		WHERE user_id = $1 AND category = $2 AND ($3::timestamptz IS NULL OR occurred_at >= $3)
	`, userID, category, toNullTime(since))

	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ReplayEvents(ctx context.Context, userID string) ([]reward.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, amount, source, reference_id, reason, dedup_key, occurred_at, created_at
		FROM reward_events
		WHERE user_id = $1
		ORDER BY occurred_at, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reward.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, rows.Err()
}

func (s *Store) ListEvents(ctx context.Context, userID string, since time.Time, limit int) ([]reward.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, amount, source, reference_id, reason, dedup_key, occurred_at, created_at
		FROM reward_events
		WHERE user_id = $1 AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $3
	`, userID, toNullTime(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reward.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, rows.Err()
}

// --- HabitStore -------------------------------------------------------------

func (s *Store) InsertCompletion(ctx context.Context, c habit.Completion) (habit.Completion, bool, error) {
	c.CreatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO habit_completions (habit_id, user_id, completion_date, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (habit_id, completion_date) DO NOTHING
	`, c.HabitID, c.UserID, c.Date, c.CreatedAt)
	if err != nil {
		return habit.Completion{}, false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return habit.Completion{}, false, err
	}
	if rows == 0 {
		prior, err := s.getCompletion(ctx, c.HabitID, c.Date)
		if err != nil {
			return habit.Completion{}, false, err
		}
		return prior, false, nil
	}
	return c, true, nil
}

func (s *Store) getCompletion(ctx context.Context, habitID string, date time.Time) (habit.Completion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT habit_id, user_id, completion_date, created_at
		FROM habit_completions
		WHERE habit_id = $1 AND completion_date = $2
	`, habitID, date)

	var c habit.Completion
	if err := row.Scan(&c.HabitID, &c.UserID, &c.Date, &c.CreatedAt); err != nil {
		return habit.Completion{}, err
	}
	c.Date = c.Date.UTC()
	return c, nil
}

func (s *Store) HasCompletion(ctx context.Context, habitID string, date time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM habit_completions WHERE habit_id = $1 AND completion_date = $2
		)
	`, habitID, date)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) ListCompletions(ctx context.Context, habitID string, from, to time.Time) ([]habit.Completion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT habit_id, user_id, completion_date, created_at
		FROM habit_completions
		WHERE habit_id = $1
		  AND ($2::date IS NULL OR completion_date >= $2)
		  AND ($3::date IS NULL OR completion_date <= $3)
		ORDER BY completion_date
	`, habitID, toNullTime(from), toNullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []habit.Completion
	for rows.Next() {
		var c habit.Completion
		if err := rows.Scan(&c.HabitID, &c.UserID, &c.Date, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Date = c.Date.UTC()
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) DeleteHabitCompletions(ctx context.Context, habitID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM habit_completions WHERE habit_id = $1
	`, habitID)
	return err
}

// --- AchievementStore -------------------------------------------------------

func (s *Store) PutDefinition(ctx context.Context, def achievement.Definition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO achievement_definitions (id, category, title, description, requirement_value, points_reward)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET category = $2, title = $3, description = $4, requirement_value = $5, points_reward = $6
	`, def.ID, def.Category, def.Title, def.Description, def.RequirementValue, def.PointsReward)
	return err
}

func (s *Store) GetDefinition(ctx context.Context, id string) (achievement.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, category, title, description, requirement_value, points_reward
		FROM achievement_definitions
		WHERE id = $1
	`, id)

	var def achievement.Definition
	if err := row.Scan(&def.ID, &def.Category, &def.Title, &def.Description, &def.RequirementValue, &def.PointsReward); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return achievement.Definition{}, errs.ErrNotFound
		}
		return achievement.Definition{}, err
	}
	return def, nil
}

func (s *Store) ListDefinitions(ctx context.Context, category string) ([]achievement.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, title, description, requirement_value, points_reward
		FROM achievement_definitions
		WHERE $1 = '' OR category = $1
		ORDER BY category, id
	`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []achievement.Definition
	for rows.Next() {
		var def achievement.Definition
		if err := rows.Scan(&def.ID, &def.Category, &def.Title, &def.Description, &def.RequirementValue, &def.PointsReward); err != nil {
			return nil, err
		}
		result = append(result, def)
	}
	return result, rows.Err()
}

func (s *Store) GetProgress(ctx context.Context, userID, achievementID string) (achievement.Progress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, achievement_id, progress, completed_at, created_at, updated_at
		FROM achievement_progress
		WHERE user_id = $1 AND achievement_id = $2
	`, userID, achievementID)

	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return achievement.Progress{}, errs.ErrNotFound
	}
	return p, err
}

func scanProgress(row rowScanner) (achievement.Progress, error) {
	var (
		p           achievement.Progress
		completedAt sql.NullTime
	)
	if err := row.Scan(&p.UserID, &p.AchievementID, &p.Progress, &completedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return achievement.Progress{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		p.CompletedAt = &t
	}
	return p, nil
}

func (s *Store) ListProgress(ctx context.Context, userID string) ([]achievement.Progress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, achievement_id, progress, completed_at, created_at, updated_at
		FROM achievement_progress
		WHERE user_id = $1
		ORDER BY achievement_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []achievement.Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) ApplyProgress(ctx context.Context, userID, achievementID string, delta, requirement int64) (achievement.Progress, bool, error) {
	now := time.Now().UTC()

	// Ensure the row exists; the lazy first row starts at zero.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO achievement_progress (user_id, achievement_id, progress, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
	`, userID, achievementID, now); err != nil {
		return achievement.Progress{}, false, err
	}

	// Conditional increment: only non-terminal rows move, progress is
	// clamped, and completed_at flips exactly once because the predicate
	// requires it to still be null.
	row := s.db.QueryRowContext(ctx, `
		UPDATE achievement_progress
		SET progress = LEAST(progress + GREATEST($3, 0), $4),
		    completed_at = CASE WHEN LEAST(progress + GREATEST($3, 0), $4) >= $4 THEN $5 ELSE NULL END,
		    updated_at = $5
		WHERE user_id = $1 AND achievement_id = $2 AND completed_at IS NULL
		RETURNING user_id, achievement_id, progress, completed_at, created_at, updated_at
	`, userID, achievementID, delta, requirement, now)

	p, err := scanProgress(row)
	if err == nil {
		return p, p.CompletedAt != nil, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return achievement.Progress{}, false, err
	}

	// Terminal row: no-op.
	p, err = s.GetProgress(ctx, userID, achievementID)
	if err != nil {
		return achievement.Progress{}, false, err
	}
	return p, false, nil
}

// --- QuestStore -------------------------------------------------------------

func (s *Store) PutTemplate(ctx context.Context, tpl quest.Template) error {
	rewardsJSON, err := json.Marshal(tpl.Rewards)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quest_templates (id, quest_type, title, description, duration_days, rewards)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET quest_type = $2, title = $3, description = $4, duration_days = $5, rewards = $6
	`, tpl.ID, tpl.Type, tpl.Title, tpl.Description, tpl.DurationDays, rewardsJSON)
	return err
}

func (s *Store) GetTemplate(ctx context.Context, id string) (quest.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, quest_type, title, description, duration_days, rewards
		FROM quest_templates
		WHERE id = $1
	`, id)

	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return quest.Template{}, errs.ErrNotFound
	}
	return tpl, err
}

func scanTemplate(row rowScanner) (quest.Template, error) {
	var (
		tpl        quest.Template
		rewardsRaw []byte
	)
	if err := row.Scan(&tpl.ID, &tpl.Type, &tpl.Title, &tpl.Description, &tpl.DurationDays, &rewardsRaw); err != nil {
		return quest.Template{}, err
	}
	if len(rewardsRaw) > 0 {
		if err := json.Unmarshal(rewardsRaw, &tpl.Rewards); err != nil {
			return quest.Template{}, fmt.Errorf("decode quest rewards: %w", err)
		}
	}
	return tpl, nil
}

func (s *Store) ListTemplates(ctx context.Context, qtype quest.Type) ([]quest.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quest_type, title, description, duration_days, rewards
		FROM quest_templates
		WHERE $1 = '' OR quest_type = $1
		ORDER BY id
	`, string(qtype))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []quest.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tpl)
	}
	return result, rows.Err()
}

func (s *Store) CreateInstance(ctx context.Context, inst quest.Instance) (quest.Instance, error) {
	now := time.Now().UTC()
	inst.State = quest.StateActive
	inst.CreatedAt = now
	inst.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quest_instances (id, user_id, quest_id, state, progress, started_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inst.ID, inst.UserID, inst.QuestID, inst.State, inst.Progress, inst.StartedAt, inst.ExpiresAt, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		// The partial unique index on (user_id, quest_id) WHERE
		// state = 'active' enforces the single-active invariant.
		if isUniqueViolation(err) {
			return quest.Instance{}, errs.ErrAlreadyActive
		}
		return quest.Instance{}, err
	}
	return inst, nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (quest.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, quest_id, state, progress, started_at, expires_at, completed_at, created_at, updated_at
		FROM quest_instances
		WHERE id = $1
	`, id)

	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return quest.Instance{}, errs.ErrNotFound
	}
	return inst, err
}

func scanInstance(row rowScanner) (quest.Instance, error) {
	var (
		inst        quest.Instance
		completedAt sql.NullTime
	)
	if err := row.Scan(&inst.ID, &inst.UserID, &inst.QuestID, &inst.State, &inst.Progress,
		&inst.StartedAt, &inst.ExpiresAt, &completedAt, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return quest.Instance{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		inst.CompletedAt = &t
	}
	return inst, nil
}

func (s *Store) ListInstances(ctx context.Context, userID string) ([]quest.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, quest_id, state, progress, started_at, expires_at, completed_at, created_at, updated_at
		FROM quest_instances
		WHERE user_id = $1
		ORDER BY started_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []quest.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

func (s *Store) SetInstanceProgress(ctx context.Context, id string, progress int) (quest.Instance, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE quest_instances
		SET progress = $2, updated_at = $3
		WHERE id = $1 AND state = 'active'
		RETURNING id, user_id, quest_id, state, progress, started_at, expires_at, completed_at, created_at, updated_at
	`, id, progress, time.Now().UTC())

	return s.transitionResult(ctx, id, row)
}

func (s *Store) CompleteInstance(ctx context.Context, id string, progress int, now time.Time) (quest.Instance, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE quest_instances
		SET state = 'completed', progress = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND state = 'active'
		RETURNING id, user_id, quest_id, state, progress, started_at, expires_at, completed_at, created_at, updated_at
	`, id, progress, now)

	return s.transitionResult(ctx, id, row)
}

func (s *Store) ExpireInstance(ctx context.Context, id string, now time.Time) (quest.Instance, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE quest_instances
		SET state = 'expired', updated_at = $2
		WHERE id = $1 AND state = 'active' AND expires_at <= $2
		RETURNING id, user_id, quest_id, state, progress, started_at, expires_at, completed_at, created_at, updated_at
	`, id, now)

	return s.transitionResult(ctx, id, row)
}

func (s *Store) AbandonInstance(ctx context.Context, id string, now time.Time) (quest.Instance, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE quest_instances
		SET state = 'abandoned', updated_at = $2
		WHERE id = $1 AND state = 'active'
		RETURNING id, user_id, quest_id, state, progress, started_at, expires_at, completed_at, created_at, updated_at
	`, id, now)

	return s.transitionResult(ctx, id, row)
}

// transitionResult folds the RETURNING row of a conditional transition: no
// row means the predicate did not hold, so the current row is fetched and
// reported with applied=false.
func (s *Store) transitionResult(ctx context.Context, id string, row *sql.Row) (quest.Instance, bool, error) {
	inst, err := scanInstance(row)
	if err == nil {
		return inst, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return quest.Instance{}, false, err
	}

	inst, err = s.GetInstance(ctx, id)
	if err != nil {
		return quest.Instance{}, false, err
	}
	return inst, false, nil
}

func (s *Store) ListExpiredActive(ctx context.Context, now time.Time) ([]quest.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, quest_id, state, progress, started_at, expires_at, completed_at, created_at, updated_at
		FROM quest_instances
		WHERE state = 'active' AND expires_at <= $1
		ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []quest.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

// --- LevelStore -------------------------------------------------------------

func (s *Store) GetLevelState(ctx context.Context, userID string) (level.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, current_level, current_xp, created_at, updated_at
		FROM level_states
		WHERE user_id = $1
	`, userID)

	var st level.State
	if err := row.Scan(&st.UserID, &st.Level, &st.XP, &st.CreatedAt, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return level.State{}, errs.ErrNotFound
		}
		return level.State{}, err
	}
	return st, nil
}

func (s *Store) SaveLevelState(ctx context.Context, prev *level.State, next level.State) (bool, error) {
	now := time.Now().UTC()

	if prev == nil {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO level_states (user_id, current_level, current_xp, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (user_id) DO NOTHING
		`, next.UserID, next.Level, next.XP, now)
		if err != nil {
			return false, err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return false, err
		}
		return rows > 0, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE level_states
		SET current_level = $2, current_xp = $3, updated_at = $4
		WHERE user_id = $1 AND current_level = $5 AND current_xp = $6
	`, next.UserID, next.Level, next.XP, now, prev.Level, prev.XP)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// --- RewardCatalogStore -----------------------------------------------------

func (s *Store) PutCatalogItem(ctx context.Context, item reward.CatalogItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_catalog (id, title, description, points_cost, availability, stock)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET title = $2, description = $3, points_cost = $4, availability = $5, stock = $6
	`, item.ID, item.Title, item.Description, item.PointsCost, item.Availability, item.Stock)
	return err
}

func (s *Store) GetCatalogItem(ctx context.Context, id string) (reward.CatalogItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, points_cost, availability, stock
		FROM reward_catalog
		WHERE id = $1
	`, id)

	var item reward.CatalogItem
	if err := row.Scan(&item.ID, &item.Title, &item.Description, &item.PointsCost, &item.Availability, &item.Stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return reward.CatalogItem{}, errs.ErrNotFound
		}
		return reward.CatalogItem{}, err
	}
	return item, nil
}

func (s *Store) ListCatalogItems(ctx context.Context) ([]reward.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, points_cost, availability, stock
		FROM reward_catalog
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reward.CatalogItem
	for rows.Next() {
		var item reward.CatalogItem
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.PointsCost, &item.Availability, &item.Stock); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (s *Store) DecrementStock(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reward_catalog
		SET stock = stock - 1
		WHERE id = $1 AND stock > 0
	`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
