package handlers

import (
	"context"

	"RoomGate/service/chat"
)

type TypingHandler struct {
	start bool
}

func NewTypingStartHandler() chat.Handler { return &TypingHandler{start: true} }
func NewTypingStopHandler() chat.Handler  { return &TypingHandler{start: false} }

func (h *TypingHandler) Type() string {
	if h.start {
		return chat.TypeTypingStart
	}
	return chat.TypeTypingStop
}

func (h *TypingHandler) RequiresAuth() bool { return true }

func (h *TypingHandler) Handle(_ context.Context, c *chat.ChatContext, f *chat.Frame) error {
	roomID, err := roomPayload(f)
	if err != nil {
		return err
	}
	if h.start {
		return c.S.StartTyping(c.Conn, roomID)
	}
	return c.S.StopTyping(c.Conn, roomID)
}
