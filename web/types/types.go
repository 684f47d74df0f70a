package types

import (
	"time"

	"datachat/gateway"
)

// MessageKind discriminates the two message variants in a session history.
type MessageKind string

const (
	MessageUser MessageKind = "user"
	MessageAI   MessageKind = "ai"
)

// Message is one entry in a session's ordered history: either the user's
// question text or the AI result wrapping a full QueryResult. Histories are
// append-only; individual messages are never mutated or removed.
type Message struct {
	ID     string
	Kind   MessageKind
	Text   string
	Result *gateway.QueryResult
}

// Session is a file-scoped conversation thread. FileID is immutable once the
// server has assigned it.
type Session struct {
	ID        string
	FileID    string
	Title     string
	CreatedAt time.Time
	Messages  []Message
}

// File is one uploaded dataset tracked by the registry.
type File struct {
	FileID   string
	Filename string
	RowCount int
}

// HealthSnapshot is the most recent backend health observation. Only the
// health poller writes it; chat and file state are never touched by the poll.
type HealthSnapshot struct {
	Reachable  bool
	Ollama     string
	LLMModel   string
	Postgres   bool
	PGTables   []string
	FilesKnown int
	CheckedAt  time.Time
}
