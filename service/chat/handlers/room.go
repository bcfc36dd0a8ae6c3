package handlers

import (
	"context"

	"RoomGate/service/chat"
	"RoomGate/tools/errs"
)

func roomPayload(f *chat.Frame) (int64, error) {
	p, err := chat.DecodePayload[chat.RoomPayload](f)
	if err != nil {
		return 0, errs.ErrInvalidPayload.Wrap(err)
	}
	if p.RoomID <= 0 {
		return 0, errs.ErrInvalidPayload.WithDetail("roomId is required")
	}
	return p.RoomID, nil
}

type JoinRoomHandler struct{}

func NewJoinRoomHandler() chat.Handler        { return &JoinRoomHandler{} }
func (h *JoinRoomHandler) Type() string       { return chat.TypeJoinRoom }
func (h *JoinRoomHandler) RequiresAuth() bool { return true }

func (h *JoinRoomHandler) Handle(ctx context.Context, c *chat.ChatContext, f *chat.Frame) error {
	roomID, err := roomPayload(f)
	if err != nil {
		return err
	}
	return c.S.JoinRoom(ctx, c.Conn, roomID)
}

type LeaveRoomHandler struct{}

func NewLeaveRoomHandler() chat.Handler        { return &LeaveRoomHandler{} }
func (h *LeaveRoomHandler) Type() string       { return chat.TypeLeaveRoom }
func (h *LeaveRoomHandler) RequiresAuth() bool { return true }

func (h *LeaveRoomHandler) Handle(ctx context.Context, c *chat.ChatContext, f *chat.Frame) error {
	roomID, err := roomPayload(f)
	if err != nil {
		return err
	}
	return c.S.LeaveRoom(ctx, c.Conn, roomID)
}
