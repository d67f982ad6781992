package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/domain/ports/adapter"
	"telegram-subscriber-notify/internal/domain/ports/repository"
	"telegram-subscriber-notify/internal/infra/logging"
	"telegram-subscriber-notify/internal/infra/metrics"
)

// Compile-time check
var _ SubscriberUseCase = (*subscriberUC)(nil)

// SubscriberUseCase exposes registry operations used by the bot, the HTTP
// API and the scheduler.
type SubscriberUseCase interface {
	// Register records an inbound chat event; unchanged profiles write nothing.
	Register(ctx context.Context, p model.Profile) (*model.Subscriber, bool, error)
	List(ctx context.Context) (map[int64]*model.Subscriber, error)
	Get(ctx context.Context, chatID int64) (*model.Subscriber, error)
	// Update sets only the provided fields and always bumps updated_at.
	Update(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, error)
	Delete(ctx context.Context, chatID int64) error
	// Sync overwrites first/last/username from the messenger's view of the chat.
	Sync(ctx context.Context, chatID int64) (*model.Subscriber, error)
	// SyncAll refreshes every subscriber and returns how many were updated.
	SyncAll(ctx context.Context) (int, error)
}

type subscriberUC struct {
	subs      repository.SubscriberRepository
	messenger adapter.Messenger
	limit     int
	log       *zerolog.Logger
}

// NewSubscriberUseCase wires the registry. messenger may be nil; sync
// operations then fail with domain.ErrMessengerUnavailable.
func NewSubscriberUseCase(subs repository.SubscriberRepository, messenger adapter.Messenger, limit int, logger *zerolog.Logger) *subscriberUC {
	if limit <= 0 {
		limit = 1
	}
	l := logger.With().Str("component", "subscriber_uc").Logger()
	return &subscriberUC{subs: subs, messenger: messenger, limit: limit, log: &l}
}

func (u *subscriberUC) Register(ctx context.Context, p model.Profile) (*model.Subscriber, bool, error) {
	defer logging.TraceDuration(u.log, "SubscriberUC.Register")()
	s, written, err := u.subs.Upsert(ctx, p.ChatID, p.Update())
	if err != nil {
		return nil, false, fmt.Errorf("register chat %d: %w", p.ChatID, err)
	}
	return s, written, nil
}

func (u *subscriberUC) List(ctx context.Context) (map[int64]*model.Subscriber, error) {
	return u.subs.LoadAll(ctx)
}

func (u *subscriberUC) Get(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	return u.subs.GetOne(ctx, chatID)
}

func (u *subscriberUC) Update(ctx context.Context, chatID int64, upd model.SubscriberUpdate) (*model.Subscriber, error) {
	defer logging.TraceDuration(u.log, "SubscriberUC.Update")()
	upd.Overwrite = false
	return u.subs.Touch(ctx, chatID, upd)
}

func (u *subscriberUC) Delete(ctx context.Context, chatID int64) error {
	if err := u.subs.Delete(ctx, chatID); err != nil {
		return err
	}
	u.log.Info().Int64("chat_id", chatID).Msg("subscriber deleted")
	return nil
}

func (u *subscriberUC) Sync(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	defer logging.TraceDuration(u.log, "SubscriberUC.Sync")()
	if u.messenger == nil {
		return nil, domain.ErrMessengerUnavailable
	}
	s, err := u.syncOne(ctx, chatID)
	if err != nil {
		metrics.IncProfileSync("failed")
		return nil, err
	}
	metrics.IncProfileSync("updated")
	return s, nil
}

func (u *subscriberUC) SyncAll(ctx context.Context) (int, error) {
	defer logging.TraceDuration(u.log, "SubscriberUC.SyncAll")()
	if u.messenger == nil {
		return 0, domain.ErrMessengerUnavailable
	}
	snapshot, err := u.subs.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load subscribers: %w", err)
	}
	if len(snapshot) == 0 {
		return 0, nil
	}

	batch, batched := u.subs.(repository.BatchToucher)
	var (
		updated atomic.Int64
		mu      sync.Mutex
		pending = make(map[int64]model.SubscriberUpdate, len(snapshot))
	)
	var g errgroup.Group
	g.SetLimit(u.limit)
	for id := range snapshot {
		g.Go(func() error {
			upd, err := u.fetchProfile(ctx, id)
			if err == nil && !batched {
				_, err = u.subs.Touch(ctx, id, upd)
			}
			if err != nil {
				metrics.IncProfileSync("failed")
				u.log.Warn().Err(err).Int64("chat_id", id).Msg("profile sync failed")
				return nil
			}
			if batched {
				mu.Lock()
				pending[id] = upd
				mu.Unlock()
				return nil
			}
			metrics.IncProfileSync("updated")
			updated.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if batched && len(pending) > 0 {
		if _, err := batch.TouchAll(ctx, pending); err != nil {
			for range pending {
				metrics.IncProfileSync("failed")
			}
			return 0, fmt.Errorf("save synced profiles: %w", err)
		}
		for range pending {
			metrics.IncProfileSync("updated")
		}
		updated.Add(int64(len(pending)))
	}

	n := int(updated.Load())
	u.log.Info().Int("updated", n).Int("total", len(snapshot)).Msg("profile sync finished")
	return n, nil
}

func (u *subscriberUC) syncOne(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	upd, err := u.fetchProfile(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return u.subs.Touch(ctx, chatID, upd)
}

// fetchProfile returns the overwrite update for chatID. Any messenger
// failure is reported as domain.ErrNotFound.
func (u *subscriberUC) fetchProfile(ctx context.Context, chatID int64) (model.SubscriberUpdate, error) {
	p, err := u.messenger.GetChatProfile(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return model.SubscriberUpdate{}, err
		}
		return model.SubscriberUpdate{}, fmt.Errorf("chat %d not accessible: %v: %w", chatID, err, domain.ErrNotFound)
	}
	upd := p.Update()
	upd.Overwrite = true
	return upd, nil
}
