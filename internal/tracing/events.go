package tracing

import "github.com/yungbote/chatrelay/internal/domain/chat"

const (
	EventConversationSaved = "kv-hmset"
	EventIndexAppended     = "kv-zadd"

	FeedbackScoreName = "user-feedback"
)

// ConversationSaved is the input snapshot of the transcript write event.
type ConversationSaved struct {
	Key          string             `json:"key"`
	Conversation *chat.Conversation `json:"conversation"`
}

// IndexAppended is the input snapshot of the user index write event.
type IndexAppended struct {
	Key    string `json:"key"`
	Score  int64  `json:"score"`
	Member string `json:"member"`
}

// SideEffectEvent builds the event for one side effect: DEBUG on success, ERROR carrying the
// error text on failure.
func SideEffectEvent(name string, input any, err error) Event {
	ev := Event{Name: name, Level: LevelDebug, Input: input}
	if err != nil {
		ev.Level = LevelError
		ev.StatusMessage = err.Error()
	}
	return ev
}
