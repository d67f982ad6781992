package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/domain/ports/repository"
	"telegram-subscriber-notify/internal/infra/logging"
	"telegram-subscriber-notify/internal/infra/metrics"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

type NotificationUseCase interface {
	// Notify resolves the request's recipients and fans the message out.
	Notify(ctx context.Context, req model.NotifyRequest) (model.DispatchResult, error)
}

type notificationUC struct {
	subs       repository.SubscriberRepository
	dispatcher *Dispatcher
	limit      int
	log        *zerolog.Logger
}

func NewNotificationUseCase(subs repository.SubscriberRepository, dispatcher *Dispatcher, limit int, logger *zerolog.Logger) *notificationUC {
	l := logger.With().Str("component", "notification_uc").Logger()
	return &notificationUC{subs: subs, dispatcher: dispatcher, limit: limit, log: &l}
}

func (uc *notificationUC) Notify(ctx context.Context, req model.NotifyRequest) (model.DispatchResult, error) {
	log := logging.With(ctx, uc.log)
	defer logging.TraceDuration(log, "NotificationUC.Notify")()

	if req.Message == "" {
		return model.DispatchResult{}, fmt.Errorf("message is required: %w", domain.ErrInvalidArgument)
	}

	mode := TargetMode(req)
	var targets []int64
	if mode == TargetChatID {
		if !uc.dispatcher.Available() {
			return model.DispatchResult{}, domain.ErrMessengerUnavailable
		}
		targets = Resolve(nil, req)
	} else {
		snapshot, err := uc.subs.LoadAll(ctx)
		if err != nil {
			return model.DispatchResult{}, fmt.Errorf("load subscribers: %w", err)
		}
		targets = Resolve(snapshot, req)
	}
	metrics.IncDispatchBatch(mode)
	log.Info().Str("mode", mode).Int("targets", len(targets)).Msg("recipients resolved")

	if len(targets) == 0 {
		return model.DispatchResult{Outcomes: map[int64]error{}}, nil
	}
	// a started batch runs to completion even if the caller goes away
	return uc.dispatcher.Dispatch(context.WithoutCancel(ctx), targets, req.Message, uc.limit)
}
