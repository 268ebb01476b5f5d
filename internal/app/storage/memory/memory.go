// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and local
// development; its conditional writes honour the same atomicity contract as
// the postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lifequest-app/progress-engine/internal/app/domain/achievement"
	"github.com/lifequest-app/progress-engine/internal/app/domain/habit"
	"github.com/lifequest-app/progress-engine/internal/app/domain/level"
	"github.com/lifequest-app/progress-engine/internal/app/domain/quest"
	"github.com/lifequest-app/progress-engine/internal/app/domain/reward"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
	"github.com/lifequest-app/progress-engine/internal/app/storage"
)

// Store holds all engine state in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	nextEventID int64
	events      map[string][]reward.Event // user_id -> append order
	eventsByKey map[string]int64          // user_id|dedup_key -> event id

	completions map[string]habit.Completion // habit_id|date -> completion

	definitions map[string]achievement.Definition
	progress    map[string]achievement.Progress // user_id|achievement_id

	templates   map[string]quest.Template
	instances   map[string]quest.Instance
	activeIndex map[string]string // user_id|quest_id -> active instance id

	levels map[string]level.State

	catalog map[string]reward.CatalogItem
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.HabitStore = (*Store)(nil)
var _ storage.AchievementStore = (*Store)(nil)
var _ storage.QuestStore = (*Store)(nil)
var _ storage.LevelStore = (*Store)(nil)
var _ storage.RewardCatalogStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextEventID: 1,
		events:      make(map[string][]reward.Event),
		eventsByKey: make(map[string]int64),
		completions: make(map[string]habit.Completion),
		definitions: make(map[string]achievement.Definition),
		progress:    make(map[string]achievement.Progress),
		templates:   make(map[string]quest.Template),
		instances:   make(map[string]quest.Instance),
		activeIndex: make(map[string]string),
		levels:      make(map[string]level.State),
		catalog:     make(map[string]reward.CatalogItem),
	}
}

func pairKey(a, b string) string { return a + "|" + b }

func dateKey(habitID string, date time.Time) string {
	return habitID + "|" + date.Format("2006-01-02")
}

// LedgerStore --------------------------------------------------------------

func (s *Store) AppendEvent(_ context.Context, evt reward.Event) (reward.Event, bool, error) {
	if err := evt.Validate(); err != nil {
		return reward.Event{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(evt.UserID, evt.DedupKey)
	if id, ok := s.eventsByKey[key]; ok {
		for _, prior := range s.events[evt.UserID] {
			if prior.ID == id {
				return prior, false, nil
			}
		}
	}

	evt.ID = s.nextEventID
	s.nextEventID++
	now := time.Now().UTC()
	evt.CreatedAt = now
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = now
	}

	s.events[evt.UserID] = append(s.events[evt.UserID], evt)
	s.eventsByKey[key] = evt.ID
	return evt, true, nil
}

func (s *Store) SumEvents(_ context.Context, userID string, category reward.Category, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, evt := range s.events[userID] {
		if evt.Category != category {
			continue
		}
		if !since.IsZero() && evt.OccurredAt.Before(since) {
			continue
		}
		total += evt.Amount
	}
	return total, nil
}

func (s *Store) ReplayEvents(_ context.Context, userID string) ([]reward.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]reward.Event, len(s.events[userID]))
	copy(out, s.events[userID])
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (s *Store) ListEvents(_ context.Context, userID string, since time.Time, limit int) ([]reward.Event, error) {
	all, err := s.ReplayEvents(nil, userID)
	if err != nil {
		return nil, err
	}

	var out []reward.Event
	for i := len(all) - 1; i >= 0; i-- {
		if !since.IsZero() && all[i].OccurredAt.Before(since) {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// HabitStore ---------------------------------------------------------------

func (s *Store) InsertCompletion(_ context.Context, c habit.Completion) (habit.Completion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dateKey(c.HabitID, c.Date)
	if prior, ok := s.completions[key]; ok {
		return prior, false, nil
	}

	c.CreatedAt = time.Now().UTC()
	s.completions[key] = c
	return c, true, nil
}

func (s *Store) HasCompletion(_ context.Context, habitID string, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.completions[dateKey(habitID, date)]
	return ok, nil
}

func (s *Store) ListCompletions(_ context.Context, habitID string, from, to time.Time) ([]habit.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []habit.Completion
	for _, c := range s.completions {
		if c.HabitID != habitID {
			continue
		}
		if !from.IsZero() && c.Date.Before(from) {
			continue
		}
		if !to.IsZero() && c.Date.After(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) DeleteHabitCompletions(_ context.Context, habitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, c := range s.completions {
		if c.HabitID == habitID {
			delete(s.completions, key)
		}
	}
	return nil
}

// AchievementStore ---------------------------------------------------------

func (s *Store) PutDefinition(_ context.Context, def achievement.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.definitions[def.ID] = def
	return nil
}

func (s *Store) GetDefinition(_ context.Context, id string) (achievement.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.definitions[id]
	if !ok {
		return achievement.Definition{}, errs.ErrNotFound
	}
	return def, nil
}

func (s *Store) ListDefinitions(_ context.Context, category string) ([]achievement.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []achievement.Definition
	for _, def := range s.definitions {
		if category != "" && def.Category != category {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProgress(_ context.Context, userID, achievementID string) (achievement.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.progress[pairKey(userID, achievementID)]
	if !ok {
		return achievement.Progress{}, errs.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProgress(_ context.Context, userID string) ([]achievement.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []achievement.Progress
	for _, p := range s.progress {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}

func (s *Store) ApplyProgress(_ context.Context, userID, achievementID string, delta, requirement int64) (achievement.Progress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := pairKey(userID, achievementID)
	p, ok := s.progress[key]
	if !ok {
		p = achievement.Progress{UserID: userID, AchievementID: achievementID, CreatedAt: now}
	}

	if p.Completed() {
		return p, false, nil
	}

	// Monotonic: negative deltas cannot regress recorded progress.
	next := p.Progress
	if delta > 0 {
		next += delta
	}
	if next > requirement {
		next = requirement
	}

	p.Progress = next
	p.UpdatedAt = now

	completedNow := false
	if next >= requirement {
		completedAt := now
		p.CompletedAt = &completedAt
		completedNow = true
	}

	s.progress[key] = p
	return p, completedNow, nil
}

// QuestStore ---------------------------------------------------------------

func (s *Store) PutTemplate(_ context.Context, tpl quest.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.templates[tpl.ID] = tpl
	return nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (quest.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return quest.Template{}, errs.ErrNotFound
	}
	return tpl, nil
}

func (s *Store) ListTemplates(_ context.Context, qtype quest.Type) ([]quest.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []quest.Template
	for _, tpl := range s.templates {
		if qtype != "" && tpl.Type != qtype {
			continue
		}
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateInstance(_ context.Context, inst quest.Instance) (quest.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := pairKey(inst.UserID, inst.QuestID)
	if _, ok := s.activeIndex[active]; ok {
		return quest.Instance{}, errs.ErrAlreadyActive
	}

	now := time.Now().UTC()
	inst.State = quest.StateActive
	inst.CreatedAt = now
	inst.UpdatedAt = now

	s.instances[inst.ID] = inst
	s.activeIndex[active] = inst.ID
	return inst, nil
}

func (s *Store) GetInstance(_ context.Context, id string) (quest.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return quest.Instance{}, errs.ErrNotFound
	}
	return inst, nil
}

func (s *Store) ListInstances(_ context.Context, userID string) ([]quest.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []quest.Instance
	for _, inst := range s.instances {
		if inst.UserID == userID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) SetInstanceProgress(_ context.Context, id string, progress int) (quest.Instance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return quest.Instance{}, false, errs.ErrNotFound
	}
	if inst.State != quest.StateActive {
		return inst, false, nil
	}

	inst.Progress = progress
	inst.UpdatedAt = time.Now().UTC()
	s.instances[id] = inst
	return inst, true, nil
}

func (s *Store) CompleteInstance(_ context.Context, id string, progress int, now time.Time) (quest.Instance, bool, error) {
	return s.transition(id, quest.StateCompleted, progress, now, nil)
}

func (s *Store) ExpireInstance(_ context.Context, id string, now time.Time) (quest.Instance, bool, error) {
	expired := func(inst quest.Instance) bool { return !inst.ExpiresAt.After(now) }
	return s.transition(id, quest.StateExpired, -1, now, expired)
}

func (s *Store) AbandonInstance(_ context.Context, id string, now time.Time) (quest.Instance, bool, error) {
	return s.transition(id, quest.StateAbandoned, -1, now, nil)
}

// transition conditionally moves an Active instance to a terminal state.
// progress < 0 leaves the stored progress untouched.
func (s *Store) transition(id string, to quest.State, progress int, now time.Time, guard func(quest.Instance) bool) (quest.Instance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return quest.Instance{}, false, errs.ErrNotFound
	}
	if inst.State != quest.StateActive {
		return inst, false, nil
	}
	if guard != nil && !guard(inst) {
		return inst, false, nil
	}

	inst.State = to
	if progress >= 0 {
		inst.Progress = progress
	}
	if to == quest.StateCompleted {
		completedAt := now
		inst.CompletedAt = &completedAt
	}
	inst.UpdatedAt = now

	s.instances[id] = inst
	delete(s.activeIndex, pairKey(inst.UserID, inst.QuestID))
	return inst, true, nil
}

func (s *Store) ListExpiredActive(_ context.Context, now time.Time) ([]quest.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []quest.Instance
	for _, inst := range s.instances {
		if inst.State == quest.StateActive && !inst.ExpiresAt.After(now) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// LevelStore ---------------------------------------------------------------

func (s *Store) GetLevelState(_ context.Context, userID string) (level.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.levels[userID]
	if !ok {
		return level.State{}, errs.ErrNotFound
	}
	return st, nil
}

func (s *Store) SaveLevelState(_ context.Context, prev *level.State, next level.State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	current, exists := s.levels[next.UserID]

	if prev == nil {
		if exists {
			return false, nil
		}
		next.CreatedAt = now
		next.UpdatedAt = now
		s.levels[next.UserID] = next
		return true, nil
	}

	if !exists || current.Level != prev.Level || current.XP != prev.XP {
		return false, nil
	}

	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = now
	s.levels[next.UserID] = next
	return true, nil
}

// RewardCatalogStore -------------------------------------------------------

func (s *Store) PutCatalogItem(_ context.Context, item reward.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catalog[item.ID] = item
	return nil
}

func (s *Store) GetCatalogItem(_ context.Context, id string) (reward.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.catalog[id]
	if !ok {
		return reward.CatalogItem{}, errs.ErrNotFound
	}
	return item, nil
}

func (s *Store) ListCatalogItems(_ context.Context) ([]reward.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reward.CatalogItem
	for _, item := range s.catalog {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DecrementStock(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.catalog[id]
	if !ok {
		return false, errs.ErrNotFound
	}
	if item.Stock <= 0 {
		return false, nil
	}
	item.Stock--
	s.catalog[id] = item
	return true, nil
}
