package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"RoomGate/tools/decode"
)

// client -> server
const (
	TypeAuth        = "auth"
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeSendMessage = "send_message"
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
	TypePing        = "ping"
)

// server -> client
const (
	TypeAuthSuccess      = "auth_success"
	TypeError            = "error"
	TypeRoomJoined       = "room_joined"
	TypeRoomLeft         = "room_left"
	TypeNewMessage       = "new_message"
	TypeUserJoinedRoom   = "user_joined_room"
	TypeUserLeftRoom     = "user_left_room"
	TypeUserTyping       = "user_typing"
	TypeUserStatusChange = "user_status_change"
	TypePong             = "pong"
)

// Frame is an inbound {type, payload} object. Payload stays dynamic until
// the handler for Type decodes it.
type Frame struct {
	Type    string
	Payload map[string]any
}

// OutFrame is an outbound {type, payload} object.
type OutFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	m, err := decode.Object(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	t, ok := m["type"].(string)
	if !ok || t == "" {
		return nil, fmt.Errorf("frame without type")
	}
	f := &Frame{Type: t}
	switch p := m["payload"].(type) {
	case nil:
	case map[string]any:
		f.Payload = p
	default:
		return nil, fmt.Errorf("payload must be an object, got %T", p)
	}
	return f, nil
}

func (f OutFrame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// ===== payloads =====

type AuthPayload struct {
	Token string `json:"token"`
}

type RoomPayload struct {
	RoomID int64 `json:"roomId"`
}

type SendMessagePayload struct {
	RoomID      int64  `json:"roomId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	ReplyTo     *int64 `json:"replyTo"`
}

// DecodePayload decodes f.Payload into T.
func DecodePayload[T any](f *Frame) (*T, error) {
	return decode.Map[T](f.Payload)
}

// ===== builders =====

type roomRef struct {
	RoomID int64 `json:"roomId"`
}

type roomUser struct {
	RoomID int64 `json:"roomId"`
	User   User  `json:"user"`
}

type typingState struct {
	RoomID   int64 `json:"roomId"`
	User     User  `json:"user"`
	IsTyping bool  `json:"isTyping"`
}

type statusChange struct {
	User     User `json:"user"`
	IsOnline bool `json:"isOnline"`
}

type newMessage struct {
	RoomID  int64    `json:"roomId"`
	Message *Message `json:"message"`
}

func ErrorFrame(msg string) OutFrame {
	return OutFrame{Type: TypeError, Payload: map[string]string{"error": msg}}
}

func AuthSuccessFrame(u User) OutFrame {
	return OutFrame{Type: TypeAuthSuccess, Payload: map[string]User{"user": u}}
}

func RoomJoinedFrame(roomID int64) OutFrame {
	return OutFrame{Type: TypeRoomJoined, Payload: roomRef{RoomID: roomID}}
}

func RoomLeftFrame(roomID int64) OutFrame {
	return OutFrame{Type: TypeRoomLeft, Payload: roomRef{RoomID: roomID}}
}

func UserJoinedRoomFrame(roomID int64, u User) OutFrame {
	return OutFrame{Type: TypeUserJoinedRoom, Payload: roomUser{RoomID: roomID, User: u.Public()}}
}

func UserLeftRoomFrame(roomID int64, u User) OutFrame {
	return OutFrame{Type: TypeUserLeftRoom, Payload: roomUser{RoomID: roomID, User: u.Public()}}
}

func UserTypingFrame(roomID int64, u User, typing bool) OutFrame {
	return OutFrame{Type: TypeUserTyping, Payload: typingState{RoomID: roomID, User: u.Public(), IsTyping: typing}}
}

func UserStatusFrame(u User, online bool) OutFrame {
	return OutFrame{Type: TypeUserStatusChange, Payload: statusChange{User: u.Public(), IsOnline: online}}
}

func NewMessageFrame(m *Message) OutFrame {
	return OutFrame{Type: TypeNewMessage, Payload: newMessage{RoomID: m.RoomID, Message: m}}
}

func PongFrame(now time.Time) OutFrame {
	return OutFrame{Type: TypePong, Payload: map[string]int64{"timestamp": now.UnixMilli()}}
}
