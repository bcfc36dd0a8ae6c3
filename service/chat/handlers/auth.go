package handlers

import (
	"context"

	"RoomGate/service/chat"
	"RoomGate/tools/errs"
)

type AuthHandler struct{}

func NewAuthHandler() chat.Handler        { return &AuthHandler{} }
func (h *AuthHandler) Type() string       { return chat.TypeAuth }
func (h *AuthHandler) RequiresAuth() bool { return false }

func (h *AuthHandler) Handle(ctx context.Context, c *chat.ChatContext, f *chat.Frame) error {
	if c.Conn.Authenticated() {
		return errs.ErrAlreadyAuthenticated
	}
	p, err := chat.DecodePayload[chat.AuthPayload](f)
	if err != nil {
		return errs.ErrAuthFailed.Wrap(err)
	}
	return c.S.Authenticate(ctx, c.Conn, p.Token)
}
