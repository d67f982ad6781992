// File: internal/domain/ports/adapter/telegram.go
package adapter

import (
	"context"

	"telegram-subscriber-notify/internal/domain/model"
)

// Messenger is the chat transport boundary. Errors are never fatal to callers;
// every call site logs and continues.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	// GetChatProfile returns domain.ErrNotFound (wrapped) when the chat is
	// unknown or not accessible to the bot.
	GetChatProfile(ctx context.Context, chatID int64) (*model.Profile, error)
}
