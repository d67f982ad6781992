package repository

import (
	"context"

	"telegram-subscriber-notify/internal/domain/model"
)

// -----------------------------
// Subscribers
// -----------------------------

// SubscriberRepository is the single registry contract shared by the file and
// relational backends. Implementations serialize their own read-modify-write
// sections; callers never lock.
type SubscriberRepository interface {
	// LoadAll returns a snapshot keyed by chat id.
	LoadAll(ctx context.Context) (map[int64]*model.Subscriber, error)
	// GetOne returns domain.ErrNotFound when the chat id is unknown.
	GetOne(ctx context.Context, chatID int64) (*model.Subscriber, error)
	// Upsert creates the record or applies the fields that differ. The bool
	// reports whether anything was written; no-op updates never write.
	Upsert(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, bool, error)
	// Touch creates or updates the record and always bumps UpdatedAt.
	Touch(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, error)
	// SaveAll bulk-writes the given records.
	SaveAll(ctx context.Context, subs map[int64]*model.Subscriber) error
	// Delete returns domain.ErrNotFound when the chat id is unknown.
	Delete(ctx context.Context, chatID int64) error
}

// BatchToucher is implemented by backends that rewrite the whole store on
// every write. TouchAll applies each update with Touch semantics and persists
// once.
type BatchToucher interface {
	TouchAll(ctx context.Context, updates map[int64]model.SubscriberUpdate) (map[int64]*model.Subscriber, error)
}
