package chat

import (
	"context"
	"strconv"
	"time"
)

// User is the identity bound to an authenticated connection.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Public drops fields other users must not see.
func (u User) Public() User {
	return User{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageFile  MessageType = "file"
	MessageImage MessageType = "image"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageFile, MessageImage:
		return true
	}
	return false
}

// Message is a persisted chat message joined with its author and, when the
// reply target still exists, a summary of that target.
type Message struct {
	ID             int64       `json:"id"`
	RoomID         int64       `json:"roomId"`
	UserID         int64       `json:"userId"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"messageType"`
	ReplyTo        *int64      `json:"replyTo,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	EditedAt       *time.Time  `json:"editedAt,omitempty"`
	User           User        `json:"user"`
	ReplyToMessage *ReplyRef   `json:"replyToMessage,omitempty"`
}

// PartitionKey keeps one room's messages ordered on partitioned brokers.
func (m *Message) PartitionKey() string {
	return strconv.FormatInt(m.RoomID, 10)
}

type ReplyRef struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	User    User   `json:"user"`
}

// NewMessage is the insert shape handed to the MessageStore.
type NewMessage struct {
	RoomID  int64
	UserID  int64
	Content string
	Type    MessageType
	ReplyTo *int64
}

// PresenceEvent is published on every online/offline transition.
type PresenceEvent struct {
	User     User  `json:"user"`
	IsOnline bool  `json:"isOnline"`
	At       int64 `json:"at"`
}

func (e *PresenceEvent) PartitionKey() string {
	return strconv.FormatInt(e.User.ID, 10)
}

// ===== collaborators =====

// TokenVerifier maps an opaque credential to a user or fails.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (User, error)
}

// RoomAccess answers whether the durable membership store lets a user into
// a room.
type RoomAccess interface {
	HasAccess(ctx context.Context, userID, roomID int64) (bool, error)
}

type MessageStore interface {
	Insert(ctx context.Context, m NewMessage) (int64, error)
	// FetchByID returns the message joined with author and reply target.
	// A dangling reply target leaves ReplyToMessage nil.
	FetchByID(ctx context.Context, id int64) (*Message, error)
}

// PresenceSink receives fire-and-forget durable presence updates.
type PresenceSink interface {
	SetOnline(ctx context.Context, userID int64, online bool) error
}

// EventPublisher hands domain events to a broker for other services.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

const (
	SubjectMessageCreated = "message.created"
	SubjectPresence       = "presence.changed"
)

// Deps are the collaborators a Server needs. Presence and Publisher are
// optional.
type Deps struct {
	Verifier  TokenVerifier
	Access    RoomAccess
	Store     MessageStore
	Presence  PresenceSink
	Publisher EventPublisher
}

type nopPresence struct{}

func (nopPresence) SetOnline(context.Context, int64, bool) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

// MultiPresence forwards to every sink, returning the first error.
type MultiPresence []PresenceSink

func (m MultiPresence) SetOnline(ctx context.Context, userID int64, online bool) error {
	var first error
	for _, s := range m {
		if err := s.SetOnline(ctx, userID, online); err != nil && first == nil {
			first = err
		}
	}
	return first
}
