package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/config"
	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/domain/ports/adapter"
	"telegram-subscriber-notify/internal/infra/logging"
	"telegram-subscriber-notify/internal/infra/metrics"
)

const (
	WelcomeText = "Halo! Selamat datang di bot saya."
	HelpText    = "Gunakan /start untuk memulai bot."
	HaySayText  = "hay say"

	unauthorizedText   = "You are not authorized to use this command."
	forwardUnavailable = "Forwarding is not available."
	forwardUsage       = "Usage: /forward <text>"
	syncUsage          = "Usage: /sync [chat_id]"
)

// BotFacade composes usecases into the bot's event handlers.
// Command handlers return the reply text so the Telegram adapter just
// forwards it to the chat; HandleStart replies on its own because the
// welcome must go out before the registry write.
type BotFacade struct {
	SubUC     SubscriberUseCaseIface
	Messenger adapter.Messenger
	Forwarder adapter.Forwarder // nil when forwarding is not configured
	Scheduler TaskScheduler     // nil disables the follow-up message
	Cfg       config.BotConfig
	log       *zerolog.Logger
}

func NewBotFacade(
	subUC SubscriberUseCaseIface,
	messenger adapter.Messenger,
	forwarder adapter.Forwarder,
	scheduler TaskScheduler,
	cfg config.BotConfig,
	logger *zerolog.Logger,
) *BotFacade {
	l := logger.With().Str("component", "bot_facade").Logger()
	return &BotFacade{
		SubUC:     subUC,
		Messenger: messenger,
		Forwarder: forwarder,
		Scheduler: scheduler,
		Cfg:       cfg,
		log:       &l,
	}
}

// HandleStart greets the chat, records it and schedules the optional
// follow-up. Delivery failures are logged only.
func (b *BotFacade) HandleStart(ctx context.Context, p model.Profile) error {
	ctx = logging.WithChatID(ctx, p.ChatID)
	log := logging.With(ctx, b.log)

	if err := b.Messenger.SendMessage(ctx, p.ChatID, WelcomeText); err != nil {
		log.Warn().Err(err).Msg("failed to send welcome")
	}
	if _, _, err := b.SubUC.Register(ctx, p); err != nil {
		log.Error().Err(err).Msg("failed to register subscriber")
	}
	b.scheduleFollowup(p.ChatID, log)
	return nil
}

// HandleMessage records the chat's current profile; unchanged profiles write nothing.
func (b *BotFacade) HandleMessage(ctx context.Context, p model.Profile) error {
	_, written, err := b.SubUC.Register(ctx, p)
	if err != nil {
		return fmt.Errorf("register chat %d: %w", p.ChatID, err)
	}
	if written {
		b.log.Debug().Int64("chat_id", p.ChatID).Msg("subscriber metadata updated")
	}
	return nil
}

func (b *BotFacade) HandleHelp() string { return HelpText }

func (b *BotFacade) HandleHaySay() string { return HaySayText }

// HandleSync refreshes one chat ("/sync <id>") or all of them ("/sync").
// Admin only.
func (b *BotFacade) HandleSync(ctx context.Context, requester int64, args string) (string, error) {
	if !b.Cfg.IsAdmin(requester) {
		metrics.IncAdminCommand("sync", "unauthorized")
		return unauthorizedText, nil
	}
	metrics.IncAdminCommand("sync", "authorized")

	args = strings.TrimSpace(args)
	if args == "" {
		n, err := b.SubUC.SyncAll(ctx)
		if err != nil {
			return "Sync failed. Please try again later.", fmt.Errorf("sync all: %w", err)
		}
		return fmt.Sprintf("Synced %d subscribers.", n), nil
	}

	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		return syncUsage, nil
	}
	if _, err := b.SubUC.Sync(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("Chat %d not found or not accessible.", id), nil
		}
		return "Sync failed. Please try again later.", fmt.Errorf("sync %d: %w", id, err)
	}
	return fmt.Sprintf("Synced chat %d.", id), nil
}

// HandleForward posts the user's text to the configured third-party endpoint.
func (b *BotFacade) HandleForward(ctx context.Context, p model.Profile, text string) (string, error) {
	if b.Forwarder == nil {
		return forwardUnavailable, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return forwardUsage, nil
	}
	err := b.Forwarder.Forward(ctx, adapter.ForwardPayload{
		ChatID:    p.ChatID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Text:      text,
		SentAt:    time.Now().UTC(),
	})
	switch {
	case errors.Is(err, domain.ErrForwardNotConfigured):
		return forwardUnavailable, nil
	case err != nil:
		return "Failed to forward your message.", fmt.Errorf("forward for chat %d: %w", p.ChatID, err)
	}
	return "Message forwarded.", nil
}

func (b *BotFacade) scheduleFollowup(chatID int64, log *zerolog.Logger) {
	delay := b.Cfg.FollowupDelay
	if delay <= 0 || b.Scheduler == nil {
		return
	}
	text := b.Cfg.FollowupText
	err := b.Scheduler.SubmitAfter(delay, func(ctx context.Context) error {
		if err := b.Messenger.SendMessage(ctx, chatID, text); err != nil {
			metrics.IncFollowup("failed")
			log.Warn().Err(err).Msg("follow-up not delivered")
			return nil
		}
		metrics.IncFollowup("sent")
		return nil
	})
	if err != nil {
		metrics.IncFollowup("dropped")
		log.Warn().Err(err).Msg("follow-up not scheduled")
	}
}
