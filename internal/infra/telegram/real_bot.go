package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/config"
	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/domain/ports/adapter"
	"telegram-subscriber-notify/internal/infra/logging"
	"telegram-subscriber-notify/internal/infra/metrics"
	redisinfra "telegram-subscriber-notify/internal/infra/redis"
)

var _ adapter.Messenger = (*Bot)(nil)

// UpdateHandler is the surface the polling loop drives (implemented by application.BotFacade).
type UpdateHandler interface {
	HandleStart(ctx context.Context, p model.Profile) error
	HandleMessage(ctx context.Context, p model.Profile) error
	HandleHelp() string
	HandleHaySay() string
	HandleSync(ctx context.Context, requester int64, args string) (string, error)
	HandleForward(ctx context.Context, p model.Profile, text string) (string, error)
}

// Limiter throttles updates per chat; implemented by redis.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Bot is the Telegram messenger and long-polling receiver.
type Bot struct {
	api     *tgbotapi.BotAPI
	cfg     config.BotConfig
	limiter Limiter
	log     *zerolog.Logger

	// updateWorkers is how many goroutines concurrently process updates.
	updateWorkers int
	mu            sync.Mutex
	cancelPolling context.CancelFunc
}

type Option func(*botOptions)

type botOptions struct {
	endpoint string
	client   *http.Client
	limiter  Limiter
}

// WithAPIEndpoint overrides the Bot API endpoint format ("<base>/bot%s/%s").
func WithAPIEndpoint(endpoint string) Option {
	return func(o *botOptions) { o.endpoint = endpoint }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *botOptions) { o.client = c }
}

// WithLimiter enables per-chat rate limiting of incoming updates.
func WithLimiter(l Limiter) Option {
	return func(o *botOptions) { o.limiter = l }
}

// NewBot authenticates against the Bot API (getMe) and returns a ready bot.
func NewBot(cfg config.BotConfig, logger *zerolog.Logger, opts ...Option) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	o := botOptions{endpoint: tgbotapi.APIEndpoint, client: &http.Client{Timeout: 90 * time.Second}}
	for _, fn := range opts {
		fn(&o)
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, o.endpoint, o.client)
	if err != nil {
		return nil, fmt.Errorf("telegram: authenticate: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	l := logger.With().Str("component", "telegram").Str("bot", api.Self.UserName).Logger()
	return &Bot{
		api:           api,
		cfg:           cfg,
		limiter:       o.limiter,
		log:           &l,
		updateWorkers: workers,
	}, nil
}

// SendMessage delivers plain text to chatID.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return classify(fmt.Errorf("send to %d: %w", chatID, err))
	}
	return nil
}

// GetChatProfile fetches the chat's current name fields. Unknown or
// inaccessible chats yield an error wrapping domain.ErrNotFound.
func (b *Bot) GetChatProfile(ctx context.Context, chatID int64) (*model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return nil, classify(fmt.Errorf("get chat %d: %w", chatID, err))
	}
	return &model.Profile{
		ChatID:    chat.ID,
		Username:  chat.UserName,
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
	}, nil
}

// classify maps Bot API "chat not found"/"forbidden" answers to ErrNotFound.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden ||
			(apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "not found")) {
			return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		}
	}
	return err
}

// StartPolling consumes updates until ctx is cancelled or StopPolling is called.
func (b *Bot) StartPolling(ctx context.Context, h UpdateHandler) error {
	if h == nil {
		return errors.New("telegram: update handler is nil")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancelPolling = cancel
	b.mu.Unlock()

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < b.updateWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case update, ok := <-updateChan:
					if !ok {
						return
					}
					if err := b.handleUpdate(ctx, h, update); err != nil {
						b.log.Error().Err(err).Int("worker", workerID).Msg("error handling update")
					}
				case <-ctx.Done():
					return
				}
			}
		}(i + 1)
	}

	go func() {
		defer close(updateChan)
		for {
			select {
			case update := <-updates:
				select {
				case updateChan <- update:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	b.log.Info().Int("workers", b.updateWorkers).Msg("polling started")
	<-ctx.Done()
	b.api.StopReceivingUpdates()
	wg.Wait()
	b.log.Info().Msg("polling stopped")
	return nil
}

func (b *Bot) StopPolling() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelPolling != nil {
		b.cancelPolling()
	}
}

// handleUpdate routes one update. Only private chats are served.
func (b *Bot) handleUpdate(ctx context.Context, h UpdateHandler, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return nil
	}
	p := profileFromMessage(msg)

	ctx = logging.WithTraceID(ctx, uuid.NewString())
	ctx = logging.WithChatID(ctx, p.ChatID)

	if !b.allow(ctx, p.ChatID) {
		// throttled chats are still recorded; only replies and commands are dropped
		return h.HandleMessage(ctx, p)
	}

	if !msg.IsCommand() {
		return h.HandleMessage(ctx, p)
	}

	cmd := msg.Command()
	metrics.IncTelegramCommand(cmd)
	switch cmd {
	case "start":
		return h.HandleStart(ctx, p)
	case "help":
		return b.reply(ctx, p.ChatID, h.HandleHelp())
	case "haysay":
		return b.reply(ctx, p.ChatID, h.HandleHaySay())
	case "sync":
		text, err := h.HandleSync(ctx, p.ChatID, msg.CommandArguments())
		if rerr := b.reply(ctx, p.ChatID, text); rerr != nil && err == nil {
			err = rerr
		}
		return err
	case "forward":
		text, err := h.HandleForward(ctx, p, msg.CommandArguments())
		if rerr := b.reply(ctx, p.ChatID, text); rerr != nil && err == nil {
			err = rerr
		}
		return err
	default:
		// unknown commands still count as activity
		if err := h.HandleMessage(ctx, p); err != nil {
			logging.With(ctx, b.log).Warn().Err(err).Msg("metadata update failed")
		}
		return b.reply(ctx, p.ChatID, h.HandleHelp())
	}
}

func (b *Bot) allow(ctx context.Context, chatID int64) bool {
	if b.limiter == nil || b.cfg.RateLimit <= 0 {
		return true
	}
	ok, err := b.limiter.Allow(ctx, redisinfra.ChatUpdateKey(chatID), b.cfg.RateLimit, b.cfg.RateWindow)
	if err != nil {
		// fail open; the registry must not depend on redis
		logging.With(ctx, b.log).Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	if !ok {
		metrics.IncRateLimitTriggered()
		logging.With(ctx, b.log).Debug().Msg("update dropped by rate limiter")
	}
	return ok
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	if text == "" {
		return nil
	}
	return b.SendMessage(ctx, chatID, text)
}

func profileFromMessage(msg *tgbotapi.Message) model.Profile {
	p := model.Profile{ChatID: msg.Chat.ID}
	if u := msg.From; u != nil {
		p.Username = u.UserName
		p.FirstName = u.FirstName
		p.LastName = u.LastName
	} else {
		p.Username = msg.Chat.UserName
		p.FirstName = msg.Chat.FirstName
		p.LastName = msg.Chat.LastName
	}
	return p
}
