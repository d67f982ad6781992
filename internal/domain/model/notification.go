package model

// NotifyRequest describes one outbound notification and its targeting.
// At most one criterion is honored, in this priority: ChatID, NIP, Username,
// FirstName, LastName. No criterion means broadcast.
type NotifyRequest struct {
	Message   string
	ChatID    *int64
	Username  *string
	FirstName *string
	LastName  *string
	NIP       *string
}

// HasChatID reports whether the request targets one explicit chat. A zero
// chat id counts as absent.
func (r NotifyRequest) HasChatID() bool {
	return r.ChatID != nil && *r.ChatID != 0
}

// DispatchResult aggregates the outcome of one fan-out.
type DispatchResult struct {
	BatchID  string
	Sent     int
	Failed   int
	Outcomes map[int64]error
}
