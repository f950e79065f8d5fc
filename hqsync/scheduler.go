package hqsync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
)

const schedulerLockKey = "hqsync:scheduler"

// LockBackend guards against overlapping sync passes.
type LockBackend interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (release func(), ok bool)
}

// processLock serializes passes within the process and, when Redis is
// available, across processes as well. The Redis layer is best effort;
// in-process exclusion does not depend on it.
type processLock struct {
	mu   sync.Mutex
	held bool
}

func (l *processLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), bool) {
	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return nil, false
	}
	l.held = true
	l.mu.Unlock()

	var redisLock *redislock.Lock
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, schedulerLockKey, ttl, nil)
		if err == nil {
			redisLock = lock
		} else if err == redislock.ErrNotObtained {
			// Another process is already running a pass.
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
			return nil, false
		}
		// Any other Redis failure is ignored: exclusion falls back to
		// the in-process guard.
	}

	release := func() {
		if redisLock != nil {
			_ = redisLock.Release(context.Background())
		}
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}
	return release, true
}

// Scheduler serializes reconciliation passes. A sync request while a
// pass is queued or running is a no-op; callers never get an error for
// asking twice.
type Scheduler struct {
	DB      *gorm.DB
	Remote  RemoteAPI
	Engine  *Engine
	Logger  *logrus.Logger
	Lock    LockBackend
	LockTTL time.Duration
	StoreId string
}

func NewScheduler(db *gorm.DB, remote RemoteAPI, logger *logrus.Logger, storeId string) *Scheduler {
	return &Scheduler{
		DB:      db,
		Remote:  remote,
		Engine:  NewEngine(db, remote, logger, storeId),
		Logger:  logger,
		Lock:    &processLock{},
		LockTTL: 5 * time.Minute,
		StoreId: storeId,
	}
}

// ScheduleSync requests one pass and returns whether it was accepted.
// false means a pass is already queued or running.
func (s *Scheduler) ScheduleSync(ctx context.Context, triggeredBy string) bool {
	release, ok := s.Lock.TryAcquire(ctx, s.LockTTL)
	if !ok {
		return false
	}
	// The pass outlives the request that triggered it.
	passCtx := context.WithoutCancel(ctx)
	go func() {
		defer release()
		s.runPass(passCtx, triggeredBy)
	}()
	return true
}

func (s *Scheduler) runPass(ctx context.Context, triggeredBy string) {
	if _, err := models.ResetStuckSyncing(ctx, s.DB); err != nil {
		config.LogError(s.Logger, "HqSync", "runPass", "reset stuck syncing", nil, err)
		return
	}

	// Offline is suspension, not failure: no run row, no error noise.
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := s.Remote.Ping(pingCtx)
	cancel()
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"field": "HqSync",
			}).Info("hq unreachable, sync pass suspended: " + err.Error())
		}
		return
	}

	startedAt := time.Now().UTC()
	run := models.SyncRun{
		StoreId:     s.StoreId,
		Status:      models.SyncRunStatusRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   &startedAt,
	}
	if err := s.DB.WithContext(ctx).Create(&run).Error; err != nil {
		config.LogError(s.Logger, "HqSync", "runPass", "create sync run", nil, err)
		return
	}

	var reports []Report
	synced, failed, stillPending := 0, 0, 0
	for _, kind := range models.OrderedRecordKinds() {
		report, err := s.Engine.Reconcile(ctx, kind, run.ID)
		if err != nil {
			config.LogError(s.Logger, "HqSync", "runPass", string(kind), nil, err)
			failed++
		}
		reports = append(reports, report)
		synced += report.Synced
		failed += report.Failed
		stillPending += report.StillPending
	}

	status := models.SyncRunStatusSuccess
	if failed > 0 {
		status = models.SyncRunStatusPartial
		if synced == 0 {
			status = models.SyncRunStatusFailed
		}
	}

	finishedAt := time.Now().UTC()
	stats, _ := json.Marshal(reports)
	updateErr := s.DB.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":         status,
			"stats_json":     stats,
			"records_synced": synced,
			"error_count":    failed,
			"finished_at":    &finishedAt,
			"duration_ms":    finishedAt.Sub(startedAt).Milliseconds(),
		}).Error
	if updateErr != nil {
		config.LogError(s.Logger, "HqSync", "runPass", "finalize sync run", nil, updateErr)
	}

	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":          "HqSync",
			"sync_run_id":    run.ID,
			"status":         status,
			"records_synced": synced,
			"error_count":    failed,
			"still_pending":  stillPending,
			"duration_ms":    finishedAt.Sub(startedAt).Milliseconds(),
		}).Info("sync pass finished")
	}
}

// Worker triggers periodic passes in the background. Crash recovery runs
// once at startup before the first tick so records stuck SYNCING from a
// previous process get back in the queue even while HQ is unreachable.
type Worker struct {
	Scheduler *Scheduler
	Interval  time.Duration
}

func NewWorker(scheduler *Scheduler) *Worker {
	return &Worker{
		Scheduler: scheduler,
		Interval:  time.Duration(config.IntFromEnv("SYNC_INTERVAL_SECONDS", 60)) * time.Second,
	}
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.Scheduler == nil {
		return
	}
	if n, err := models.ResetStuckSyncing(ctx, w.Scheduler.DB); err != nil {
		config.LogError(w.Scheduler.Logger, "HqSync", "Run", "startup recovery", nil, err)
	} else if n > 0 && w.Scheduler.Logger != nil {
		w.Scheduler.Logger.WithFields(logrus.Fields{
			"field":   "HqSync",
			"records": n,
		}).Info("reset stuck syncing records on startup")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Interval):
		}
		w.Scheduler.ScheduleSync(ctx, models.SyncTriggeredSystem)
	}
}
