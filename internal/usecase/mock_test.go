//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/domain/ports/adapter"
	"telegram-subscriber-notify/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func sp(s string) *string { return &s }

func ip(v int64) *int64 { return &v }

// -----------------------------
// Messenger
// -----------------------------

var _ adapter.Messenger = (*MockMessenger)(nil)

type MockMessenger struct {
	SendMessageFunc    func(ctx context.Context, chatID int64, text string) error
	GetChatProfileFunc func(ctx context.Context, chatID int64) (*model.Profile, error)

	mu   sync.Mutex
	Sent map[int64][]string
}

func (m *MockMessenger) SendMessage(ctx context.Context, chatID int64, text string) error {
	if m.SendMessageFunc != nil {
		if err := m.SendMessageFunc(ctx, chatID, text); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Sent == nil {
		m.Sent = map[int64][]string{}
	}
	m.Sent[chatID] = append(m.Sent[chatID], text)
	return nil
}

func (m *MockMessenger) GetChatProfile(ctx context.Context, chatID int64) (*model.Profile, error) {
	if m.GetChatProfileFunc != nil {
		return m.GetChatProfileFunc(ctx, chatID)
	}
	return nil, fmt.Errorf("chat %d: %w", chatID, domain.ErrNotFound)
}

func (m *MockMessenger) SentTo(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Sent[chatID]...)
}

// -----------------------------
// Subscriber registry
// -----------------------------

var _ repository.SubscriberRepository = (*MemSubscriberRepo)(nil)

// MemSubscriberRepo is an in-memory registry with the same change-gated
// semantics as the real backends.
type MemSubscriberRepo struct {
	mu      sync.Mutex
	store   map[int64]*model.Subscriber
	Now     func() time.Time
	Writes  int
	LoadErr error
}

func NewMemSubscriberRepo(seed ...*model.Subscriber) *MemSubscriberRepo {
	m := &MemSubscriberRepo{store: map[int64]*model.Subscriber{}, Now: time.Now}
	for _, s := range seed {
		m.store[s.ChatID] = s.Clone()
	}
	return m
}

func (m *MemSubscriberRepo) LoadAll(ctx context.Context) (map[int64]*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	out := make(map[int64]*model.Subscriber, len(m.store))
	for id, s := range m.store {
		out[id] = s.Clone()
	}
	return out, nil
}

func (m *MemSubscriberRepo) GetOne(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemSubscriberRepo) Upsert(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, _ = u.Normalized()
	now := m.Now().UTC()
	s, ok := m.store[chatID]
	if !ok {
		s = model.NewSubscriber(chatID, u, now)
		m.store[chatID] = s
		m.Writes++
		return s.Clone(), true, nil
	}
	if !s.Apply(u) {
		return s.Clone(), false, nil
	}
	s.UpdatedAt = &now
	m.Writes++
	return s.Clone(), true, nil
}

func (m *MemSubscriberRepo) Touch(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, _ = u.Normalized()
	now := m.Now().UTC()
	s, ok := m.store[chatID]
	if !ok {
		s = model.NewSubscriber(chatID, u, now)
		m.store[chatID] = s
	} else {
		s.Apply(u)
		s.UpdatedAt = &now
	}
	m.Writes++
	return s.Clone(), nil
}

func (m *MemSubscriberRepo) SaveAll(ctx context.Context, subs map[int64]*model.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range subs {
		m.store[id] = s.Clone()
	}
	m.Writes++
	return nil
}

func (m *MemSubscriberRepo) Delete(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[chatID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.store, chatID)
	m.Writes++
	return nil
}

var _ repository.BatchToucher = (*BatchMemSubscriberRepo)(nil)

// BatchMemSubscriberRepo behaves like the file backend: single-record
// Touch is available, but bulk refreshes are expected through TouchAll.
type BatchMemSubscriberRepo struct {
	*MemSubscriberRepo
	TouchCalls    int
	TouchAllCalls int
}

func (m *BatchMemSubscriberRepo) Touch(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, error) {
	m.mu.Lock()
	m.TouchCalls++
	m.mu.Unlock()
	return m.MemSubscriberRepo.Touch(ctx, chatID, u)
}

func (m *BatchMemSubscriberRepo) TouchAll(ctx context.Context, updates map[int64]model.SubscriberUpdate) (map[int64]*model.Subscriber, error) {
	m.mu.Lock()
	m.TouchAllCalls++
	m.mu.Unlock()
	out := make(map[int64]*model.Subscriber, len(updates))
	for id, u := range updates {
		s, err := m.MemSubscriberRepo.Touch(ctx, id, u)
		if err != nil {
			return nil, err
		}
		out[id] = s
	}
	return out, nil
}
