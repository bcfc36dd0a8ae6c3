package natsx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// HeaderKey carries the event's partition key (room or user id).
const HeaderKey = "Roomgate-Key"

type sendFunc func(ctx context.Context, m *nats.Msg) error

// Publisher is a chat.EventPublisher over NATS. Every message carries a
// Nats-Msg-Id so JetStream can de-duplicate retries.
type Publisher struct {
	prefix string
	send   sendFunc
}

func NewPublisher(c *Client) *Publisher {
	p := &Publisher{prefix: c.cfg.SubjectPrefix}
	if c.js != nil {
		p.send = func(ctx context.Context, m *nats.Msg) error {
			_, err := c.js.PublishMsg(m, nats.Context(ctx))
			return err
		}
	} else {
		p.send = func(_ context.Context, m *nats.Msg) error { return c.nc.PublishMsg(m) }
	}
	return p
}

func (p *Publisher) Subject(subject string) string { return p.prefix + subject }

func (p *Publisher) Publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(p.Subject(subject))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, genMsgID())
	if k, ok := v.(interface{ PartitionKey() string }); ok {
		msg.Header.Set(HeaderKey, k.PartitionKey())
	}
	if err := p.send(ctx, msg); err != nil {
		return fmt.Errorf("publish %s failed: %w", msg.Subject, err)
	}
	return nil
}

// 16 random bytes, hex encoded
func genMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
