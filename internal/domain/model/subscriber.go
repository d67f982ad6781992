package model

import (
	"time"
	"unicode/utf8"
)

// MaxNIPLength is the storage cap for the identifier field, in characters.
const MaxNIPLength = 18

// Subscriber is a chat that has interacted with the bot. ChatID is the key;
// every other field is optional.
type Subscriber struct {
	ChatID       int64
	FirstName    *string
	LastName     *string
	Username     *string
	NIP          *string
	SubscribedAt *time.Time
	UpdatedAt    *time.Time
}

// SubscriberUpdate carries the mutable fields of a subscriber. A nil field is
// left untouched, unless Overwrite is set: then nil name fields clear the
// stored value (profile sync). NIP is never cleared by a nil value.
type SubscriberUpdate struct {
	FirstName *string
	LastName  *string
	Username  *string
	NIP       *string
	Overwrite bool
}

// Profile is the chat metadata carried by an inbound chat event or returned
// by the messenger.
type Profile struct {
	ChatID    int64
	FirstName string
	LastName  string
	Username  string
}

// Update converts a profile into an update; empty strings are treated as absent.
func (p Profile) Update() SubscriberUpdate {
	return SubscriberUpdate{
		FirstName: OptString(p.FirstName),
		LastName:  OptString(p.LastName),
		Username:  OptString(p.Username),
	}
}

// NewSubscriber creates a subscriber from an update. SubscribedAt and UpdatedAt
// both start at now.
func NewSubscriber(chatID int64, u SubscriberUpdate, now time.Time) *Subscriber {
	ts := now.UTC()
	return &Subscriber{
		ChatID:       chatID,
		FirstName:    cloneString(u.FirstName),
		LastName:     cloneString(u.LastName),
		Username:     cloneString(u.Username),
		NIP:          cloneString(u.NIP),
		SubscribedAt: &ts,
		UpdatedAt:    &ts,
	}
}

// Apply merges u into s and reports whether any field actually changed value.
// Timestamps are not touched.
func (s *Subscriber) Apply(u SubscriberUpdate) bool {
	changed := false
	set := func(dst **string, v *string) {
		if v == nil && !u.Overwrite {
			return
		}
		if equalString(*dst, v) {
			return
		}
		*dst = cloneString(v)
		changed = true
	}
	set(&s.FirstName, u.FirstName)
	set(&s.LastName, u.LastName)
	set(&s.Username, u.Username)
	if u.NIP != nil && !equalString(s.NIP, u.NIP) {
		s.NIP = cloneString(u.NIP)
		changed = true
	}
	return changed
}

// Clone returns a deep copy.
func (s *Subscriber) Clone() *Subscriber {
	if s == nil {
		return nil
	}
	cp := *s
	cp.FirstName = cloneString(s.FirstName)
	cp.LastName = cloneString(s.LastName)
	cp.Username = cloneString(s.Username)
	cp.NIP = cloneString(s.NIP)
	cp.SubscribedAt = cloneTime(s.SubscribedAt)
	cp.UpdatedAt = cloneTime(s.UpdatedAt)
	return &cp
}

// Normalized applies the identifier cap to the update. The second value
// reports whether truncation happened so the caller can log it.
func (u SubscriberUpdate) Normalized() (SubscriberUpdate, bool) {
	if u.NIP == nil {
		return u, false
	}
	nip, truncated := NormalizeNIP(*u.NIP)
	u.NIP = &nip
	return u, truncated
}

// NormalizeNIP caps the identifier at MaxNIPLength characters.
func NormalizeNIP(s string) (string, bool) {
	if utf8.RuneCountInString(s) <= MaxNIPLength {
		return s, false
	}
	return string([]rune(s)[:MaxNIPLength]), true
}

// OptString returns nil for an empty string.
func OptString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
