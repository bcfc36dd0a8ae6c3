package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers            []string `yaml:"brokers"`
	TopicPrefix        string   `yaml:"topicPrefix"` // topic = prefix + subject
	ProducerRetries    int      `yaml:"producerRetries"`
	Compression        string   `yaml:"compression"` // none/snappy/lz4/zstd
	Version            string   `yaml:"version"`     // e.g. "2.1.0"
	AutoCreateTopics   bool     `yaml:"autoCreateTopics"`
	PartitionsPerTopic int32    `yaml:"partitionsPerTopic"`
	ReplicationFactor  int16    `yaml:"replicationFactor"`
}

func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

func (c *Config) norm() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "roomgate."
	}
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 3
	}
	if c.PartitionsPerTopic <= 0 {
		c.PartitionsPerTopic = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
}

// BuildConfig returns a sarama config for a keyed, acked sync producer.
func BuildConfig(c Config) (*sarama.Config, error) {
	c.norm()
	cfg := sarama.NewConfig()
	cfg.ClientID = "roomgate"
	cfg.Version = sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, err
		}
		cfg.Version = v
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.ProducerRetries
	// the key picks the partition, so one room stays ordered
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}
