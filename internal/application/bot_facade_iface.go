package application

import (
	"context"
	"time"

	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/infra/worker"
)

// ---- small interfaces to decouple the facade from concrete usecase structs ----
// These describe the minimal surface that the facade needs. Using interfaces
// enables tests to pass in light-weight mocks.
type SubscriberUseCaseIface interface {
	Register(ctx context.Context, p model.Profile) (*model.Subscriber, bool, error)
	Sync(ctx context.Context, chatID int64) (*model.Subscriber, error)
	SyncAll(ctx context.Context) (int, error)
}

// TaskScheduler runs detached work after a delay (implemented by worker.Pool).
type TaskScheduler interface {
	SubmitAfter(delay time.Duration, task worker.Task) error
}
