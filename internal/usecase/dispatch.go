package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/domain/ports/adapter"
	"telegram-subscriber-notify/internal/infra/logging"
	"telegram-subscriber-notify/internal/infra/metrics"
)

// Dispatcher fans one message out to many chats with bounded concurrency.
// A failed send is logged and counted; it never cancels the others and is
// never retried.
type Dispatcher struct {
	messenger adapter.Messenger
	log       *zerolog.Logger
	dev       bool
}

func NewDispatcher(messenger adapter.Messenger, logger *zerolog.Logger, dev bool) *Dispatcher {
	l := logger.With().Str("component", "dispatcher").Logger()
	return &Dispatcher{messenger: messenger, log: &l, dev: dev}
}

// Available reports whether a messenger is configured.
func (d *Dispatcher) Available() bool { return d != nil && d.messenger != nil }

// Dispatch sends text to every target with at most limit sends in flight.
// Targets not attempted because ctx ended are recorded as failures.
func (d *Dispatcher) Dispatch(ctx context.Context, targets []int64, text string, limit int) (model.DispatchResult, error) {
	res := model.DispatchResult{
		BatchID:  ulid.Make().String(),
		Outcomes: make(map[int64]error, len(targets)),
	}
	if !d.Available() {
		return res, domain.ErrMessengerUnavailable
	}
	if limit <= 0 {
		return res, fmt.Errorf("dispatch limit %d: %w", limit, domain.ErrInvalidArgument)
	}
	if len(targets) == 0 {
		return res, nil
	}

	ctx = logging.WithBatchID(ctx, res.BatchID)
	log := logging.With(ctx, d.log)
	defer logging.TraceDuration(log, "Dispatcher.Dispatch")()
	start := time.Now()
	log.Info().Int("targets", len(targets)).Int("limit", limit).
		Str("text", logging.Redact(text, d.dev)).Msg("dispatch started")

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(limit))
	)
	record := func(id int64, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.Outcomes[id] = err
		if err != nil {
			res.Failed++
		} else {
			res.Sent++
		}
		metrics.IncNotification(err == nil)
	}

	for i, id := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			for _, rest := range targets[i:] {
				record(rest, err)
			}
			log.Warn().Err(err).Int("skipped", len(targets)-i).Msg("dispatch interrupted")
			break
		}
		wg.Add(1)
		metrics.AddInFlight(1)
		go func(id int64) {
			defer wg.Done()
			defer sem.Release(1)
			defer metrics.AddInFlight(-1)

			err := d.messenger.SendMessage(ctx, id, text)
			if err != nil {
				log.Warn().Err(err).Int64("chat_id", id).Msg("send failed")
			}
			record(id, err)
		}(id)
	}
	wg.Wait()

	metrics.ObserveDispatch(time.Since(start))
	log.Info().Int("sent", res.Sent).Int("failed", res.Failed).Msg("dispatch finished")
	return res, nil
}
