package models

import "time"

// Document is a source text owned by the knowledge base, usually a file name
// or a crawled page URL.
type Document struct {
	ID       string
	Title    string
	Source   string
	RawText  string
	Metadata map[string]interface{}
}

// Chunk is a bounded slice of a document's text stored with its embedding.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
	Vector     []float64
}

// ScoredChunk is a stored chunk returned by a nearest-neighbour query.
type ScoredChunk struct {
	Key      int64
	Chunk    Chunk
	Distance float64
}

// Query is a transient retrieval request.
type Query struct {
	Text string
	TopK int
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is a server-side conversation record.
type Session struct {
	ID        string    `json:"id"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeRole maps the accepted role spellings onto user/assistant.
func NormalizeRole(role string) string {
	switch role {
	case "assistant", "model", "ai":
		return RoleAssistant
	default:
		return RoleUser
	}
}
