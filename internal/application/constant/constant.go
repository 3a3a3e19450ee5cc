package constant

// Ключи атрибутов для slog
const (
	Error     = "error"
	UserID    = "user_id"
	ConnID    = "conn_id"
	ChannelID = "channel_id"
	GroupID   = "group_id"
	Room      = "room"
	Event     = "event"
	MessageID = "message_id"
	Handle    = "handle"
	Code      = "code"
	Step      = "step"
	Scope     = "scope"
)
