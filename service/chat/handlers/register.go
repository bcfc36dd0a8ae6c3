package handlers

import "RoomGate/service/chat"

// RegisterAll installs the handler of every client event type.
func RegisterAll(d *chat.Dispatcher) {
	for _, h := range []chat.Handler{
		NewAuthHandler(),
		NewJoinRoomHandler(),
		NewLeaveRoomHandler(),
		NewSendMessageHandler(),
		NewTypingStartHandler(),
		NewTypingStopHandler(),
		NewPingHandler(),
	} {
		d.Register(h)
	}
}
