package kafka

import (
	"errors"
	"fmt"

	"RoomGate/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

func ensureFromClient(client sarama.Client, c Config, subjects []string) error {
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		return fmt.Errorf("kafka admin: %w", err)
	}
	// closing the admin would close the shared client
	topics := make([]string, 0, len(subjects))
	for _, s := range subjects {
		topics = append(topics, c.TopicPrefix+s)
	}
	return EnsureTopics(admin, topics, c)
}

// EnsureTopics creates missing topics and grows partitions of existing
// ones up to PartitionsPerTopic. Kafka cannot shrink partitions.
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, c Config) error {
	c.norm()
	minISR := "1"
	if c.ReplicationFactor >= 3 {
		minISR = "2"
	}
	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return fmt.Errorf("describe topic %s: %w", t, err)
		}
		exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

		if !exists {
			td := &sarama.TopicDetail{
				NumPartitions:     c.PartitionsPerTopic,
				ReplicationFactor: c.ReplicationFactor,
				ConfigEntries: map[string]*string{
					"cleanup.policy":                 strPtr("delete"),
					"min.insync.replicas":            strPtr(minISR),
					"unclean.leader.election.enable": strPtr("false"),
					"compression.type":               strPtr("producer"),
				},
			}
			if err := admin.CreateTopic(t, td, false); err != nil {
				var te *sarama.TopicError
				if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) ||
					errors.Is(err, sarama.ErrTopicAlreadyExists) {
					logger.Info("topic exists (race)", zap.String("topic", t))
					continue
				}
				return fmt.Errorf("create topic %s: %w", t, err)
			}
			logger.Info("topic created", zap.String("topic", t),
				zap.Int32("partitions", c.PartitionsPerTopic), zap.Int16("rf", c.ReplicationFactor))
			continue
		}

		cur := int32(len(descs[0].Partitions))
		if c.PartitionsPerTopic > cur {
			if err := admin.CreatePartitions(t, c.PartitionsPerTopic, nil, false); err != nil {
				return fmt.Errorf("expand partitions %s from %d to %d: %w", t, cur, c.PartitionsPerTopic, err)
			}
			logger.Info("topic partitions expanded", zap.String("topic", t),
				zap.Int32("from", cur), zap.Int32("to", c.PartitionsPerTopic))
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
