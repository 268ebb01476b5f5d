package app

import (
	"context"
	"fmt"

	"github.com/lifequest-app/progress-engine/internal/app/cache"
	"github.com/lifequest-app/progress-engine/internal/app/services/achievements"
	"github.com/lifequest-app/progress-engine/internal/app/services/engine"
	ledgersvc "github.com/lifequest-app/progress-engine/internal/app/services/ledger"
	levelsvc "github.com/lifequest-app/progress-engine/internal/app/services/levels"
	questsvc "github.com/lifequest-app/progress-engine/internal/app/services/quests"
	"github.com/lifequest-app/progress-engine/internal/app/services/reconcile"
	streaksvc "github.com/lifequest-app/progress-engine/internal/app/services/streaks"
	"github.com/lifequest-app/progress-engine/internal/app/storage"
	"github.com/lifequest-app/progress-engine/internal/app/storage/memory"
	"github.com/lifequest-app/progress-engine/internal/app/system"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Ledger       storage.LedgerStore
	Habits       storage.HabitStore
	Achievements storage.AchievementStore
	Quests       storage.QuestStore
	Levels       storage.LevelStore
	Catalog      storage.RewardCatalogStore
}

// Options carries the gamification policy and optional infrastructure.
type Options struct {
	Streaks       streaksvc.Config
	Levels        levelsvc.Config
	SweepSchedule string
	PointsCache   cache.PointsCache
}

// Application ties the engine services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Ledger       *ledgersvc.Service
	Streaks      *streaksvc.Service
	Achievements *achievements.Service
	Quests       *questsvc.Service
	Levels       *levelsvc.Service
	Reconciler   *reconcile.Service
	Engine       *engine.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Habits == nil {
		stores.Habits = mem
	}
	if stores.Achievements == nil {
		stores.Achievements = mem
	}
	if stores.Quests == nil {
		stores.Quests = mem
	}
	if stores.Levels == nil {
		stores.Levels = mem
	}
	if stores.Catalog == nil {
		stores.Catalog = mem
	}
	if opts.PointsCache == nil {
		opts.PointsCache = cache.Noop{}
	}

	manager := system.NewManager()

	ledgerService := ledgersvc.New(stores.Ledger, opts.PointsCache, log.WithField("service", "ledger"))
	streakService := streaksvc.New(stores.Habits, ledgerService, opts.Streaks, log.WithField("service", "streaks"))
	achievementService := achievements.New(stores.Achievements, ledgerService, log.WithField("service", "achievements"))
	levelService := levelsvc.New(stores.Levels, ledgerService, opts.Levels, log.WithField("service", "levels"))
	questService := questsvc.New(stores.Quests, ledgerService, levelService, log.WithField("service", "quests"))
	reconciler := reconcile.New(ledgerService, stores.Levels, opts.PointsCache, levelService.Curve(), log.WithField("service", "reconcile"))
	engineService := engine.New(ledgerService, streakService, achievementService, questService, levelService, reconciler, stores.Catalog, log.WithField("service", "engine"))

	sweeper := questsvc.NewSweeper(questService, opts.SweepSchedule, log.WithField("service", "quest-sweeper"))
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager:      manager,
		log:          log,
		Ledger:       ledgerService,
		Streaks:      streakService,
		Achievements: achievementService,
		Quests:       questService,
		Levels:       levelService,
		Reconciler:   reconciler,
		Engine:       engineService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
