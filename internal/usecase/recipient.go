package usecase

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"telegram-subscriber-notify/internal/domain/model"
)

// Target modes, in resolution priority order.
const (
	TargetChatID    = "chat_id"
	TargetNIP       = "nip"
	TargetUsername  = "username"
	TargetFirstName = "first_name"
	TargetLastName  = "last_name"
	TargetBroadcast = "broadcast"
)

// TargetMode reports which single criterion of req will be honored.
// Empty strings count as absent.
func TargetMode(req model.NotifyRequest) string {
	switch {
	case req.HasChatID():
		return TargetChatID
	case model.Deref(req.NIP) != "":
		return TargetNIP
	case model.Deref(req.Username) != "":
		return TargetUsername
	case model.Deref(req.FirstName) != "":
		return TargetFirstName
	case model.Deref(req.LastName) != "":
		return TargetLastName
	default:
		return TargetBroadcast
	}
}

// Resolve selects the chat ids req targets within snapshot. The criteria are
// mutually exclusive by priority; a chat id short-circuits without looking at
// snapshot. The result is sorted and may be empty.
func Resolve(snapshot map[int64]*model.Subscriber, req model.NotifyRequest) []int64 {
	mode := TargetMode(req)
	if mode == TargetChatID {
		return []int64{*req.ChatID}
	}

	fold := cases.Fold()
	norm := func(s string) string { return fold.String(s) }

	var match func(s *model.Subscriber) bool
	switch mode {
	case TargetNIP:
		want, _ := model.NormalizeNIP(*req.NIP)
		match = func(s *model.Subscriber) bool {
			return s.NIP != nil && *s.NIP != "" && *s.NIP == want
		}
	case TargetUsername:
		want := norm(*req.Username)
		match = func(s *model.Subscriber) bool {
			return s.Username != nil && *s.Username != "" && norm(*s.Username) == want
		}
	case TargetFirstName:
		want := norm(*req.FirstName)
		match = func(s *model.Subscriber) bool {
			return s.FirstName != nil && *s.FirstName != "" && strings.Contains(norm(*s.FirstName), want)
		}
	case TargetLastName:
		want := norm(*req.LastName)
		match = func(s *model.Subscriber) bool {
			return s.LastName != nil && *s.LastName != "" && strings.Contains(norm(*s.LastName), want)
		}
	default:
		match = func(*model.Subscriber) bool { return true }
	}

	out := make([]int64, 0, len(snapshot))
	for id, s := range snapshot {
		if mode != TargetBroadcast && s == nil {
			continue
		}
		if mode == TargetBroadcast || match(s) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
