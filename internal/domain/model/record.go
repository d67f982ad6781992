package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Record is the persisted and wire shape of a subscriber. The JSON keys are
// shared by the subscribers file and the HTTP API.
type Record struct {
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	Username     *string `json:"username"`
	NIP          *string `json:"nip"`
	SubscribedAt *string `json:"subscribed_at"`
	UpdatedAt    *string `json:"updated_at"`
}

// Record converts s into its wire shape.
func (s *Subscriber) Record() Record {
	return Record{
		FirstName:    cloneString(s.FirstName),
		LastName:     cloneString(s.LastName),
		Username:     cloneString(s.Username),
		NIP:          cloneString(s.NIP),
		SubscribedAt: formatTime(s.SubscribedAt),
		UpdatedAt:    formatTime(s.UpdatedAt),
	}
}

// Subscriber converts a record back into a subscriber. Unparsable timestamps
// become nil; the identifier is capped.
func (r Record) Subscriber(chatID int64) *Subscriber {
	s := &Subscriber{
		ChatID:       chatID,
		FirstName:    cloneString(r.FirstName),
		LastName:     cloneString(r.LastName),
		Username:     cloneString(r.Username),
		SubscribedAt: ParseTime(r.SubscribedAt),
		UpdatedAt:    ParseTime(r.UpdatedAt),
	}
	if r.NIP != nil {
		nip, _ := NormalizeNIP(*r.NIP)
		s.NIP = &nip
	}
	return s
}

// Normalize canonicalizes a decoded metadata value of any shape (nil, partial
// or full mapping) into a Record. It never fails: fields of the wrong type are
// treated as absent, numbers are kept as their decimal text.
func Normalize(raw any) Record {
	m, _ := raw.(map[string]any)
	r := Record{
		FirstName:    textField(m, "first_name"),
		LastName:     textField(m, "last_name"),
		Username:     textField(m, "username"),
		NIP:          textField(m, "nip"),
		SubscribedAt: textField(m, "subscribed_at"),
		UpdatedAt:    textField(m, "updated_at"),
	}
	if r.NIP != nil {
		nip, _ := NormalizeNIP(*r.NIP)
		r.NIP = &nip
	}
	return r
}

func textField(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case string:
		return &v
	case json.Number:
		s := v.String()
		return &s
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		return &s
	default:
		return nil
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime parses an ISO-8601 timestamp. Values without an offset are taken
// as UTC. Returns nil for nil or unparsable input.
func ParseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// FormatTime renders t as an ISO-8601 UTC timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}
