package storage

import (
	"context"
	"encoding/json"

	"RoomGate/tools/errs"

	"github.com/redis/go-redis/v9"
)

// StreamPublisher appends events to one Redis stream per subject.
type StreamPublisher struct {
	rdb    redis.UniversalClient
	prefix string
	maxLen int64
}

func NewStreamPublisher(rdb redis.UniversalClient, prefix string, maxLen int64) *StreamPublisher {
	if prefix == "" {
		prefix = "roomgate:events:"
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &StreamPublisher{rdb: rdb, prefix: prefix, maxLen: maxLen}
}

func (p *StreamPublisher) Stream(subject string) string { return p.prefix + subject }

func (p *StreamPublisher) Publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(err, "marshal event")
	}
	values := map[string]any{"data": data}
	if k, ok := v.(interface{ PartitionKey() string }); ok {
		values["key"] = k.PartitionKey()
	}
	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream(subject),
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	return errs.Wrapf(err, "xadd %s", subject)
}
