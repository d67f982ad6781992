//go:build !integration

package web

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/usecase"
)

// newTestLogger creates a silent logger for tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func sp(s string) *string { return &s }
func ip(i int64) *int64   { return &i }

var _ usecase.SubscriberUseCase = (*mockSubUC)(nil)

type mockSubUC struct {
	ListFunc    func(ctx context.Context) (map[int64]*model.Subscriber, error)
	UpdateFunc  func(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, error)
	DeleteFunc  func(ctx context.Context, chatID int64) error
	SyncFunc    func(ctx context.Context, chatID int64) (*model.Subscriber, error)
	SyncAllFunc func(ctx context.Context) (int, error)
}

func (m *mockSubUC) Register(ctx context.Context, p model.Profile) (*model.Subscriber, bool, error) {
	panic("not used by the HTTP API")
}

func (m *mockSubUC) List(ctx context.Context) (map[int64]*model.Subscriber, error) {
	return m.ListFunc(ctx)
}

func (m *mockSubUC) Get(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	panic("not used by the HTTP API")
}

func (m *mockSubUC) Update(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, error) {
	return m.UpdateFunc(ctx, chatID, u)
}

func (m *mockSubUC) Delete(ctx context.Context, chatID int64) error {
	return m.DeleteFunc(ctx, chatID)
}

func (m *mockSubUC) Sync(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	return m.SyncFunc(ctx, chatID)
}

func (m *mockSubUC) SyncAll(ctx context.Context) (int, error) {
	return m.SyncAllFunc(ctx)
}

var _ usecase.NotificationUseCase = (*mockNotifyUC)(nil)

type mockNotifyUC struct {
	NotifyFunc func(ctx context.Context, req model.NotifyRequest) (model.DispatchResult, error)
}

func (m *mockNotifyUC) Notify(ctx context.Context, req model.NotifyRequest) (model.DispatchResult, error) {
	return m.NotifyFunc(ctx, req)
}
