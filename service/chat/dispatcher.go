package chat

import (
	"context"
	"sort"

	"RoomGate/logger"
	"RoomGate/tools/errs"

	"go.uber.org/zap"
)

// Handler processes one inbound frame type.
type Handler interface {
	Type() string
	// RequiresAuth gates the handler behind the Authenticated state.
	RequiresAuth() bool
	Handle(ctx context.Context, c *ChatContext, f *Frame) error
}

// ChatContext is what a handler sees: the server and the connection the
// frame arrived on.
type ChatContext struct {
	S    *Server
	Conn *WsConn
}

// Reply sends f to the originating connection only.
func (c *ChatContext) Reply(f OutFrame) {
	c.S.bc.SendTo(c.Conn, f)
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

// Dispatch routes f. Unknown types and unauthenticated access to gated
// handlers are rejected before any state is touched.
func (d *Dispatcher) Dispatch(ctx context.Context, c *ChatContext, f *Frame) error {
	h := d.GetHandler(f.Type)
	if h == nil {
		return errs.ErrUnknownType.WithDetail(f.Type)
	}
	if h.RequiresAuth() && !c.Conn.Authenticated() {
		return errs.ErrAuthRequired
	}
	return h.Handle(ctx, c, f)
}

func (d *Dispatcher) GetHandler(typ string) Handler {
	h, ok := d.handlers[typ]
	if !ok {
		logger.Debug("no handler", zap.String("type", typ))
		return nil
	}
	return h
}

// Types lists the registered frame types.
func (d *Dispatcher) Types() []string {
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
