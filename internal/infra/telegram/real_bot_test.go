package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-subscriber-notify/internal/config"
	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
)

type sent struct {
	chatID int64
	text   string
}

// fakeAPI is a minimal Bot API: getMe, sendMessage, getChat and getUpdates.
type fakeAPI struct {
	mu      sync.Mutex
	sent    []sent
	chats   map[int64]string // chat id -> raw Chat JSON
	updates []string         // served once by getUpdates
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()
	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"Notifier","username":"notify_bot"}}`)
	case "sendMessage":
		id, _ := strconv.ParseInt(r.FormValue("chat_id"), 10, 64)
		if id == 403 {
			fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
			return
		}
		f.sent = append(f.sent, sent{chatID: id, text: r.FormValue("text")})
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":%d,"type":"private"}}}`, id)
	case "getChat":
		id, _ := strconv.ParseInt(r.FormValue("chat_id"), 10, 64)
		raw, ok := f.chats[id]
		switch {
		case ok:
			fmt.Fprintf(w, `{"ok":true,"result":%s}`, raw)
		case id == 500:
			fmt.Fprint(w, `{"ok":false,"error_code":500,"description":"Internal Server Error"}`)
		default:
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
		}
	case "getUpdates":
		res := "[" + strings.Join(f.updates, ",") + "]"
		f.updates = nil
		fmt.Fprintf(w, `{"ok":true,"result":%s}`, res)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func newTestBot(t *testing.T, api *fakeAPI, cfg config.BotConfig, opts ...Option) *Bot {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	if cfg.Token == "" {
		cfg.Token = "123:abc"
	}
	l := zerolog.New(io.Discard)
	opts = append([]Option{WithAPIEndpoint(srv.URL + "/bot%s/%s"), WithHTTPClient(srv.Client())}, opts...)
	b, err := NewBot(cfg, &l, opts...)
	require.NoError(t, err)
	return b
}

type handlerCall struct {
	kind string
	p    model.Profile
	args string
}

type fakeHandler struct {
	mu    sync.Mutex
	calls []handlerCall
}

func (h *fakeHandler) record(c handlerCall) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, c)
}

func (h *fakeHandler) snapshot() []handlerCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]handlerCall(nil), h.calls...)
}

func (h *fakeHandler) HandleStart(_ context.Context, p model.Profile) error {
	h.record(handlerCall{kind: "start", p: p})
	return nil
}

func (h *fakeHandler) HandleMessage(_ context.Context, p model.Profile) error {
	h.record(handlerCall{kind: "message", p: p})
	return nil
}

func (h *fakeHandler) HandleHelp() string   { return "help text" }
func (h *fakeHandler) HandleHaySay() string { return "hay say" }

func (h *fakeHandler) HandleSync(_ context.Context, requester int64, args string) (string, error) {
	h.record(handlerCall{kind: "sync", p: model.Profile{ChatID: requester}, args: args})
	return "synced", nil
}

func (h *fakeHandler) HandleForward(_ context.Context, p model.Profile, text string) (string, error) {
	h.record(handlerCall{kind: "forward", p: p, args: text})
	return "forwarded", nil
}

func command(chatID int64, chatType, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: chatID, Type: chatType},
		From:      &tgbotapi.User{ID: chatID, UserName: "ada", FirstName: "Ada", LastName: "Lovelace"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		end := strings.IndexByte(text, ' ')
		if end < 0 {
			end = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

func TestNewBot_EmptyToken(t *testing.T) {
	l := zerolog.New(io.Discard)
	_, err := NewBot(config.BotConfig{}, &l)
	assert.Error(t, err)
}

func TestBot_SendMessage(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBot(t, api, config.BotConfig{})

	require.NoError(t, b.SendMessage(context.Background(), 42, "hello"))
	assert.Equal(t, []sent{{chatID: 42, text: "hello"}}, api.messages())

	err := b.SendMessage(context.Background(), 403, "hello")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBot_GetChatProfile(t *testing.T) {
	api := &fakeAPI{chats: map[int64]string{
		42: `{"id":42,"type":"private","username":"ada","first_name":"Ada","last_name":"Lovelace"}`,
	}}
	b := newTestBot(t, api, config.BotConfig{})

	p, err := b.GetChatProfile(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, model.Profile{ChatID: 42, Username: "ada", FirstName: "Ada", LastName: "Lovelace"}, *p)

	_, err = b.GetChatProfile(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = b.GetChatProfile(context.Background(), 500)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestBot_HandleUpdate_Routing(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	b := newTestBot(t, api, config.BotConfig{})
	h := &fakeHandler{}

	require.NoError(t, b.handleUpdate(ctx, h, command(42, "private", "/start")))
	require.NoError(t, b.handleUpdate(ctx, h, command(42, "private", "just chatting")))
	require.NoError(t, b.handleUpdate(ctx, h, command(42, "private", "/sync 77")))
	require.NoError(t, b.handleUpdate(ctx, h, command(42, "private", "/forward hi there")))
	require.NoError(t, b.handleUpdate(ctx, h, command(42, "private", "/haysay")))
	require.NoError(t, b.handleUpdate(ctx, h, command(42, "private", "/help")))
	require.NoError(t, b.handleUpdate(ctx, h, command(42, "private", "/bogus")))

	want := model.Profile{ChatID: 42, Username: "ada", FirstName: "Ada", LastName: "Lovelace"}
	calls := h.snapshot()
	require.Len(t, calls, 5)
	assert.Equal(t, handlerCall{kind: "start", p: want}, calls[0])
	assert.Equal(t, handlerCall{kind: "message", p: want}, calls[1])
	assert.Equal(t, handlerCall{kind: "sync", p: model.Profile{ChatID: 42}, args: "77"}, calls[2])
	assert.Equal(t, handlerCall{kind: "forward", p: want, args: "hi there"}, calls[3])
	assert.Equal(t, handlerCall{kind: "message", p: want}, calls[4])

	var texts []string
	for _, m := range api.messages() {
		texts = append(texts, m.text)
	}
	assert.Equal(t, []string{"synced", "forwarded", "hay say", "help text", "help text"}, texts)
}

func TestBot_HandleUpdate_IgnoresNonPrivate(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBot(t, api, config.BotConfig{})
	h := &fakeHandler{}

	require.NoError(t, b.handleUpdate(context.Background(), h, command(-100, "group", "/start")))
	require.NoError(t, b.handleUpdate(context.Background(), h, tgbotapi.Update{UpdateID: 2}))
	assert.Empty(t, h.snapshot())
	assert.Empty(t, api.messages())
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestBot_RateLimit(t *testing.T) {
	cfg := config.BotConfig{RateLimit: 1, RateWindow: time.Minute}

	t.Run("blocked still records metadata", func(t *testing.T) {
		lim := &stubLimiter{allow: false}
		b := newTestBot(t, &fakeAPI{}, cfg, WithLimiter(lim))
		h := &fakeHandler{}
		require.NoError(t, b.handleUpdate(context.Background(), h, command(42, "private", "hello")))
		calls := h.snapshot()
		require.Len(t, calls, 1)
		assert.Equal(t, "message", calls[0].kind)
		assert.Equal(t, []string{"rate_limit:42:updates"}, lim.keys)
	})

	t.Run("blocked start upserts without replying", func(t *testing.T) {
		api := &fakeAPI{}
		b := newTestBot(t, api, cfg, WithLimiter(&stubLimiter{allow: false}))
		h := &fakeHandler{}
		require.NoError(t, b.handleUpdate(context.Background(), h, command(42, "private", "/start")))
		calls := h.snapshot()
		require.Len(t, calls, 1)
		assert.Equal(t, "message", calls[0].kind)
		assert.Equal(t, int64(42), calls[0].p.ChatID)
		assert.Empty(t, api.messages())
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		lim := &stubLimiter{err: errors.New("redis down")}
		b := newTestBot(t, &fakeAPI{}, cfg, WithLimiter(lim))
		h := &fakeHandler{}
		require.NoError(t, b.handleUpdate(context.Background(), h, command(42, "private", "hello")))
		assert.Len(t, h.snapshot(), 1)
	})
}

func TestBot_StartPolling(t *testing.T) {
	api := &fakeAPI{updates: []string{
		`{"update_id":10,"message":{"message_id":5,"date":0,"chat":{"id":42,"type":"private"},"from":{"id":42,"is_bot":false,"first_name":"Ada","username":"ada"},"text":"hi"}}`,
	}}
	b := newTestBot(t, api, config.BotConfig{Workers: 2})
	h := &fakeHandler{}

	done := make(chan error, 1)
	go func() { done <- b.StartPolling(context.Background(), h) }()

	require.Eventually(t, func() bool { return len(h.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	b.StopPolling()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("polling did not stop")
	}
	assert.Equal(t, model.Profile{ChatID: 42, Username: "ada", FirstName: "Ada"}, h.snapshot()[0].p)
}
