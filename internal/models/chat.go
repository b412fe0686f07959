package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// ChatRecord is the durable unit of a conversation. The id is the persistence
// key and never changes; messages are append-only.
type ChatRecord struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
}

// ChatSummary is one row of a user's chat listing. UpdatedAt is the storage
// last-write time, which is also the listing sort key.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}
