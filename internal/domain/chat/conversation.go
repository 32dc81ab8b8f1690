package chat

import (
	"time"
)

// TitleLength is the number of characters of the first message used as a conversation title.
const TitleLength = 100

// Conversation is the full transcript stored under StorageKey(ID). Every save replaces the previous record.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	CreatedAt int64     `json:"createdAt"`
	Path      string    `json:"path"`
	Messages  []Message `json:"messages"`
}

// IndexEntry is one (score, member) pair of a user's recency index.
type IndexEntry struct {
	Score  int64  `json:"score"`
	Member string `json:"member"`
}

// Title returns the first TitleLength characters of the first message, or "" without messages.
func Title(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	r := []rune(msgs[0].Content)
	if len(r) <= TitleLength {
		return msgs[0].Content
	}
	return string(r[:TitleLength])
}

// NewConversation builds the record written after a completion: the prior messages, in order,
// followed by exactly one assistant message.
func NewConversation(id, userID string, prior []Message, reply Message, now time.Time) *Conversation {
	msgs := make([]Message, 0, len(prior)+1)
	msgs = append(msgs, prior...)
	reply.Role = RoleAssistant
	msgs = append(msgs, reply)
	return &Conversation{
		ID:        id,
		Title:     Title(prior),
		UserID:    userID,
		CreatedAt: now.UnixMilli(),
		Path:      Path(id),
		Messages:  msgs,
	}
}

// IndexEntry is the user-index pair recorded for this conversation.
func (c *Conversation) IndexEntry() IndexEntry {
	return IndexEntry{Score: c.CreatedAt, Member: StorageKey(c.ID)}
}
