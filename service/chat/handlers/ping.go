package handlers

import (
	"context"

	"RoomGate/service/chat"
)

// PingHandler answers application-level keep-alives.
type PingHandler struct{}

func NewPingHandler() chat.Handler        { return &PingHandler{} }
func (h *PingHandler) Type() string       { return chat.TypePing }
func (h *PingHandler) RequiresAuth() bool { return true }

func (h *PingHandler) Handle(_ context.Context, c *chat.ChatContext, _ *chat.Frame) error {
	c.S.Ping(c.Conn)
	return nil
}
