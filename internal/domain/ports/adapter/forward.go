package adapter

import (
	"context"
	"time"
)

// ForwardPayload is the JSON body posted to the third-party forward endpoint.
type ForwardPayload struct {
	ChatID    int64     `json:"chat_id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

type Forwarder interface {
	Forward(ctx context.Context, p ForwardPayload) error
}
