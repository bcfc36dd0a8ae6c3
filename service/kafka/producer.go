package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"RoomGate/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Publisher is a chat.EventPublisher over a sarama SyncProducer.
type Publisher struct {
	prod   sarama.SyncProducer
	client sarama.Client
	prefix string
}

// NewPublisher connects to the brokers and, when configured, creates the
// event topics first.
func NewPublisher(c Config, subjects ...string) (*Publisher, error) {
	c.norm()
	cfg, err := BuildConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if c.AutoCreateTopics && len(subjects) > 0 {
		if err := ensureFromClient(client, c, subjects); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	prod, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Publisher{prod: prod, client: client, prefix: c.TopicPrefix}, nil
}

// NewPublisherFromProducer wraps an existing producer.
func NewPublisherFromProducer(p sarama.SyncProducer, topicPrefix string) *Publisher {
	return &Publisher{prod: p, prefix: topicPrefix}
}

func (p *Publisher) Topic(subject string) string { return p.prefix + subject }

func (p *Publisher) Publish(ctx context.Context, subject string, v any) error {
	msg, err := producerMessage(p.Topic(subject), v)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	partition, offset, err := p.prod.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Topic, err)
	}
	logger.Debug("kafka published", zap.String("topic", msg.Topic),
		zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func producerMessage(topic string, v any) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(data)}
	if k, ok := v.(interface{ PartitionKey() string }); ok {
		msg.Key = sarama.StringEncoder(k.PartitionKey())
	}
	return msg, nil
}

func (p *Publisher) Close() error {
	err := p.prod.Close()
	if p.client != nil && !p.client.Closed() {
		if cerr := p.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
