package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/infra/metrics"
)

// Syncer refreshes every subscriber from the messenger (usecase.SubscriberUseCase).
type Syncer interface {
	SyncAll(ctx context.Context) (int, error)
}

// Locker keeps replicas from refreshing at the same time (redis.RedisLocker).
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// SyncWorker runs Syncer.SyncAll on a cron schedule. Overlapping runs are skipped.
type SyncWorker struct {
	spec    string
	syncer  Syncer
	timeout time.Duration
	locker  Locker
	lockKey string
	log     *zerolog.Logger
}

// WithLock makes each run hold key in locker; runs that cannot get it are skipped.
func (w *SyncWorker) WithLock(locker Locker, key string) *SyncWorker {
	w.locker, w.lockKey = locker, key
	return w
}

// NewSyncWorker validates spec (standard 5-field cron or a descriptor such
// as "@hourly" / "@every 30m").
func NewSyncWorker(spec string, syncer Syncer, timeout time.Duration, logger *zerolog.Logger) (*SyncWorker, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	l := logger.With().Str("component", "SyncWorker").Logger()
	return &SyncWorker{spec: spec, syncer: syncer, timeout: timeout, log: &l}, nil
}

// Run blocks until ctx is cancelled, then waits for an in-flight run.
func (w *SyncWorker) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{w.log})))
	if _, err := c.AddFunc(w.spec, func() { w.runOnce(ctx) }); err != nil {
		return err
	}
	w.log.Info().Str("schedule", w.spec).Msg("Starting sync worker")
	c.Start()

	<-ctx.Done()
	w.log.Info().Msg("Stopping sync worker")
	<-c.Stop().Done()
	return ctx.Err()
}

func (w *SyncWorker) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()

	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, w.lockKey, w.timeout)
		if err != nil {
			metrics.IncProfileSync("job_skipped")
			w.log.Info().Err(err).Msg("scheduled sync skipped; lock not acquired")
			return
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), w.lockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("sync lock release failed")
			}
		}()
	}

	start := time.Now()
	n, err := w.syncer.SyncAll(ctx)
	if err != nil {
		metrics.IncProfileSync("job_failed")
		w.log.Error().Err(err).Msg("scheduled sync failed")
		return
	}
	w.log.Info().Int("updated", n).Dur("took", time.Since(start)).Msg("scheduled sync done")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l *zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
