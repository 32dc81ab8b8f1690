package chat

import (
	"strings"

	"github.com/google/uuid"
)

const (
	storagePrefix   = "chat:"
	userIndexPrefix = "user:chat:"
	userRefPrefix   = "user:"
	pathPrefix      = "/chat/"
)

// NewID mints a conversation id for requests that did not bring one.
func NewID() string {
	return uuid.NewString()
}

// StorageKey is the store key of a conversation record. It is also the member written to user indexes.
func StorageKey(id string) string { return storagePrefix + id }

// IDFromStorageKey reverses StorageKey; ok is false for keys of another shape.
func IDFromStorageKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, storagePrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// UserIndexKey is the ordered index listing a user's conversations by recency.
func UserIndexKey(userID string) string { return userIndexPrefix + userID }

// Path is the canonical client route of a conversation.
func Path(id string) string { return pathPrefix + id }

// TraceExternalID is the trace identifier for a conversation. Feedback derives the same value
// from the chat id alone, so it must stay a pure function of id.
func TraceExternalID(id string) string { return storagePrefix + id }

// UserRef is how users are referenced in traces.
func UserRef(userID string) string { return userRefPrefix + userID }
