package storage

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"RoomGate/logger"
	"RoomGate/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type PresenceConfig struct {
	NodeID    string        // gateway that owns the presence key
	TTL       time.Duration // key lifetime; refreshed by KeepAlive
	KeyPrefix string        // default "roomgate"
}

func (c *PresenceConfig) norm() {
	if c.TTL <= 0 {
		c.TTL = 90 * time.Second
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "roomgate"
	}
	if c.NodeID == "" {
		c.NodeID = "node"
	}
}

// Presence mirrors online users into Redis so other services can read it:
// one expiring key per user holding the gateway id, plus an index set.
type Presence struct {
	rdb  redis.UniversalClient
	conf PresenceConfig
}

// KEYS[1] = presence key, KEYS[2] = online index
// ARGV[1] = node id, ARGV[2] = user id
// Only the gateway that set the key may clear it.
var luaOffline = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner and owner ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[2])
return 1
`)

func NewPresence(rdb redis.UniversalClient, conf PresenceConfig) *Presence {
	conf.norm()
	return &Presence{rdb: rdb, conf: conf}
}

func (p *Presence) key(userID int64) string {
	return p.conf.KeyPrefix + ":presence:" + strconv.FormatInt(userID, 10)
}

func (p *Presence) indexKey() string { return p.conf.KeyPrefix + ":online" }

func (p *Presence) SetOnline(ctx context.Context, userID int64, online bool) error {
	id := strconv.FormatInt(userID, 10)
	if !online {
		err := luaOffline.Run(ctx, p.rdb, []string{p.key(userID), p.indexKey()}, p.conf.NodeID, id).Err()
		return errs.Wrapf(err, "presence offline %d", userID)
	}
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.key(userID), p.conf.NodeID, p.conf.TTL)
		pipe.SAdd(ctx, p.indexKey(), id)
		return nil
	})
	return errs.Wrapf(err, "presence online %d", userID)
}

func (p *Presence) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := p.rdb.Exists(ctx, p.key(userID)).Result()
	if err != nil {
		return false, errs.Wrap(err, "presence exists")
	}
	return n == 1, nil
}

// Gateway returns the node holding userID's presence, or "" when offline.
func (p *Presence) Gateway(ctx context.Context, userID int64) (string, error) {
	v, err := p.rdb.Get(ctx, p.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errs.Wrap(err, "presence get")
	}
	return v, nil
}

// OnlineUsers lists users whose key is still alive, pruning index entries
// whose key expired.
func (p *Presence) OnlineUsers(ctx context.Context) ([]int64, error) {
	members, err := p.rdb.SMembers(ctx, p.indexKey()).Result()
	if err != nil {
		return nil, errs.Wrap(err, "presence members")
	}
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.IntCmd, len(members))
	_, err = p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			uid, _ := strconv.ParseInt(m, 10, 64)
			cmds[i] = pipe.Exists(ctx, p.key(uid))
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(err, "presence exists batch")
	}

	var out []int64
	var stale []any
	for i, m := range members {
		uid, perr := strconv.ParseInt(m, 10, 64)
		if perr != nil || cmds[i].Val() == 0 {
			stale = append(stale, m)
			continue
		}
		out = append(out, uid)
	}
	if len(stale) > 0 {
		_ = p.rdb.SRem(ctx, p.indexKey(), stale...).Err()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// KeepAlive rewrites every given user's key with a fresh TTL and re-adds it
// to the index, so keys lost to eviction or a Redis restart come back.
func (p *Presence) KeepAlive(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]any, 0, len(userIDs))
		for _, uid := range userIDs {
			pipe.Set(ctx, p.key(uid), p.conf.NodeID, p.conf.TTL)
			members = append(members, strconv.FormatInt(uid, 10))
		}
		pipe.SAdd(ctx, p.indexKey(), members...)
		return nil
	})
	return errs.Wrap(err, "presence keepalive")
}

// RunKeepAlive refreshes online() every TTL/3 until ctx is done.
func (p *Presence) RunKeepAlive(ctx context.Context, online func() []int64) {
	t := time.NewTicker(p.conf.TTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.KeepAlive(ctx, online()); err != nil {
				logger.Warn("presence keepalive", zap.Error(err))
			}
		}
	}
}
