// Package store persists user profiles and chat transcripts.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store is the document-shaped persistence contract shared by the SQLite and
// MongoDB backends.
type Store interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	RecordActivity(ctx context.Context, userID string, conversations, messages int, at time.Time) error

	CreateTranscript(ctx context.Context, t *Transcript) error
	GetTranscript(ctx context.Context, id string) (*Transcript, error)
	AppendMessages(ctx context.Context, id string, msgs []Message, lastMessage string, at time.Time) error
	ListTranscripts(ctx context.Context, userID string) ([]Transcript, error)
	DeleteTranscript(ctx context.Context, id string) error

	SetOnChangeListener(l OnChangeListener)
	Ping(ctx context.Context) error
	Close() error
}

// TranscriptID builds the document id for a transcript created at t.
func TranscriptID(userID string, t time.Time) string {
	return fmt.Sprintf("%s_%d", userID, t.UnixMilli())
}

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ChangeEvent describes a write to the chats collection.
type ChangeEvent struct {
	Op           Operation
	UserID       string
	TranscriptID string
}

// OnChangeListener receives notifications when a transcript changes.
// It is called synchronously after the write commits and must not block.
type OnChangeListener interface {
	OnTranscriptChange(event ChangeEvent)
}

type changeNotifier struct {
	mu       sync.RWMutex
	listener OnChangeListener
}

func (n *changeNotifier) SetOnChangeListener(l OnChangeListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = l
}

func (n *changeNotifier) notify(event ChangeEvent) {
	n.mu.RLock()
	l := n.listener
	n.mu.RUnlock()
	if l != nil {
		l.OnTranscriptChange(event)
	}
}
