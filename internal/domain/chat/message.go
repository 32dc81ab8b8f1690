package chat

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one turn of a conversation. Only these fields are persisted or sent upstream;
// anything else a client attaches is dropped at decode time.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ValidateMessages checks the inbound prompt. Empty content is allowed (the upstream decides),
// an unknown role is not.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("messages is required")
	}
	for i, m := range msgs {
		role := Role(strings.TrimSpace(string(m.Role)))
		if !role.Valid() {
			return fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
	}
	return nil
}

// Strip returns copies holding only role and content, which is all the provider may see.
func Strip(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{Role: Role(strings.TrimSpace(string(m.Role))), Content: m.Content})
	}
	return out
}
