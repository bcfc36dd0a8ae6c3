package handlers

import (
	"context"

	"RoomGate/service/chat"
	"RoomGate/tools/errs"
)

// SendMessageHandler does not acknowledge separately: the sender is a room
// member and sees its own message through the room broadcast.
type SendMessageHandler struct{}

func NewSendMessageHandler() chat.Handler        { return &SendMessageHandler{} }
func (h *SendMessageHandler) Type() string       { return chat.TypeSendMessage }
func (h *SendMessageHandler) RequiresAuth() bool { return true }

func (h *SendMessageHandler) Handle(ctx context.Context, c *chat.ChatContext, f *chat.Frame) error {
	p, err := chat.DecodePayload[chat.SendMessagePayload](f)
	if err != nil {
		return errs.ErrInvalidPayload.Wrap(err)
	}
	if p.ReplyTo != nil && *p.ReplyTo <= 0 {
		p.ReplyTo = nil
	}
	_, err = c.S.SendMessage(ctx, c.Conn, *p)
	return err
}
