package store

import "time"

const (
	SenderUser = "user"
	SenderBot  = "bot"

	MessageTypeWelcome = "welcome"
)

type UserStats struct {
	TotalConversations int       `json:"totalConversations" bson:"totalConversations"`
	TotalMessages      int       `json:"totalMessages" bson:"totalMessages"`
	LastActivity       time.Time `json:"lastActivity" bson:"lastActivity"`
}

// User is the profile document stored under the users collection.
type User struct {
	ID                  string    `json:"id" bson:"_id"`
	Email               string    `json:"email" bson:"email"`
	PasswordHash        string    `json:"-" bson:"passwordHash,omitempty"` // Do not expose this in JSON responses
	GivenName           string    `json:"givenName" bson:"givenName"`
	FamilyName          string    `json:"familyName" bson:"familyName"`
	FullName            string    `json:"fullName" bson:"fullName"`
	Program             string    `json:"program" bson:"program"`
	PhotoURL            string    `json:"photoURL,omitempty" bson:"photoURL,omitempty"`
	IsFederated         bool      `json:"isFederated" bson:"isFederated"`
	FederatedSubject    string    `json:"-" bson:"federatedSubject,omitempty"`
	NeedsAdditionalInfo bool      `json:"needsAdditionalInfo" bson:"needsAdditionalInfo"`
	Stats               UserStats `json:"stats" bson:"stats"`
	CreatedAt           time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Message is one entry of a transcript. Messages are immutable once appended.
type Message struct {
	ID        int64     `json:"id" bson:"id"`
	Sender    string    `json:"sender" bson:"sender"` // "user" or "bot"
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Type      string    `json:"type,omitempty" bson:"type,omitempty"`
	IsError   bool      `json:"isError,omitempty" bson:"isError,omitempty"`
	FromAPI   bool      `json:"fromAPI,omitempty" bson:"fromAPI,omitempty"`
}

// IsWelcome reports whether m is the synthetic session banner.
func (m Message) IsWelcome() bool {
	return m.Type == MessageTypeWelcome
}

// Transcript is a persisted chat conversation owned by one user.
type Transcript struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	LastMessage string    `json:"lastMessage"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type DataChunk struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"` // Don't marshal to JSON response, internal
}
