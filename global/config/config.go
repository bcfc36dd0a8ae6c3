package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"RoomGate/data/database/mgo/mongoutil"
	"RoomGate/service/chat"
	"RoomGate/service/kafka"
	"RoomGate/service/natsx"
	"RoomGate/service/storage/pg"
	"RoomGate/service/storage/redis"
	"RoomGate/tools/errs"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"

	BrokerNone  = "none"
	BrokerNats  = "nats"
	BrokerKafka = "kafka"
	BrokerRedis = "redis" // redis streams
)

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"` // empty or "*" allows every origin
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Alg    string        `yaml:"alg"`
	TTL    time.Duration `yaml:"ttl"`
	Issuer string        `yaml:"issuer"`
}

type ChatConfig struct {
	MaxContentLength int           `yaml:"maxContentLength"`
	TypingTTL        time.Duration `yaml:"typingTTL"`
	AuthTimeout      time.Duration `yaml:"authTimeout"`
	StoreTimeout     time.Duration `yaml:"storeTimeout"`
	SinkTimeout      time.Duration `yaml:"sinkTimeout"`
	SendQueueSize    int           `yaml:"sendQueueSize"`
	EffectQueue      int           `yaml:"effectQueue"`
	WriteWait        time.Duration `yaml:"writeWait"`
	PongWait         time.Duration `yaml:"pongWait"`
	MaxFrameBytes    int64         `yaml:"maxFrameBytes"`

	UnauthTTL       time.Duration `yaml:"unauthTTL"`
	IdleTTL         time.Duration `yaml:"idleTTL"`
	SweepEvery      time.Duration `yaml:"sweepEvery"`
	MaxConnsPerUser int           `yaml:"maxConnsPerUser"`
	EvictOldest     bool          `yaml:"evictOldest"`
}

type StoreConfig struct {
	Driver   string           `yaml:"driver"`
	Postgres pg.Config        `yaml:"postgres"`
	Mongo    mongoutil.Config `yaml:"mongo"`
}

type RedisConfig struct {
	redis.Config `yaml:",inline"`
	PresenceTTL  time.Duration `yaml:"presenceTTL"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

type BrokerConfig struct {
	Driver string       `yaml:"driver"`
	Nats   natsx.Config `yaml:"nats"`
	Kafka  kafka.Config `yaml:"kafka"`
	// StreamMaxLen caps each redis stream when Driver is "redis".
	StreamMaxLen int64 `yaml:"streamMaxLen"`
}

type AppConfig struct {
	HTTP HTTPConfig `yaml:"http"`
	Log  struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Node struct {
		ID int64 `yaml:"id"` // snowflake node and presence owner
	} `yaml:"node"`
	JWT    JWTConfig    `yaml:"jwt"`
	Chat   ChatConfig   `yaml:"chat"`
	Store  StoreConfig  `yaml:"store"`
	Redis  RedisConfig  `yaml:"redis"`
	Broker BrokerConfig `yaml:"broker"`
}

func Default() *AppConfig {
	c := &AppConfig{}
	c.HTTP.Addr = ":8080"
	c.HTTP.ShutdownTimeout = 10 * time.Second
	c.Log.Level = "info"
	c.Node.ID = 1
	c.JWT.Alg = "HS256"
	c.JWT.TTL = 24 * time.Hour
	c.Chat = ChatConfig{
		MaxContentLength: 2000,
		TypingTTL:        chat.DefaultTypingTTL,
		AuthTimeout:      5 * time.Second,
		StoreTimeout:     5 * time.Second,
		SinkTimeout:      3 * time.Second,
		SendQueueSize:    256,
		EffectQueue:      1024,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		MaxFrameBytes:    64 << 10,
		UnauthTTL:        30 * time.Second,
		IdleTTL:          2 * time.Minute,
		SweepEvery:       10 * time.Second,
	}
	c.Store.Driver = StorePostgres
	c.Store.Postgres.MaxConns = 20
	c.Store.Mongo = mongoutil.Config{Database: "roomgate", MaxPoolSize: 20, MaxRetry: 3}
	c.Redis.PresenceTTL = 90 * time.Second
	c.Redis.KeyPrefix = "roomgate"
	c.Broker.Driver = BrokerNone
	c.Broker.Nats.SubjectPrefix = "roomgate."
	c.Broker.Nats.Mode = natsx.Core
	c.Broker.Kafka.TopicPrefix = "roomgate."
	c.Broker.StreamMaxLen = 100000
	return c
}

// Load reads path over the defaults (a missing path means defaults only),
// then applies environment overrides and validates.
func Load(path string) (*AppConfig, error) {
	c := Default()
	if path == "" {
		path = os.Getenv("ROOMGATE_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, errs.Wrapf(err, "parse config %s", path)
		}
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AppConfig) applyEnv(getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = splitList(v)
		}
	}
	set("ROOMGATE_HTTP_ADDR", &c.HTTP.Addr)
	set("ROOMGATE_JWT_SECRET", &c.JWT.Secret)
	set("ROOMGATE_LOG_LEVEL", &c.Log.Level)
	set("ROOMGATE_STORE", &c.Store.Driver)
	set("ROOMGATE_BROKER", &c.Broker.Driver)
	set("DATABASE_URL", &c.Store.Postgres.DSN)
	set("MONGO_URI", &c.Store.Mongo.Uri)
	set("REDIS_ADDR", &c.Redis.Addr)
	list("ROOMGATE_ALLOWED_ORIGINS", &c.HTTP.AllowedOrigins)
	list("NATS_URL", &c.Broker.Nats.Servers)
	list("KAFKA_BROKERS", &c.Broker.Kafka.Brokers)
	if v := strings.TrimSpace(getenv("ROOMGATE_NODE_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errs.ErrArgs.WithDetail("ROOMGATE_NODE_ID: " + err.Error())
		}
		c.Node.ID = id
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *AppConfig) Validate() error {
	switch {
	case c.HTTP.Addr == "":
		return errs.ErrArgs.WithDetail("http.addr is empty")
	case c.JWT.Secret == "":
		return errs.ErrArgs.WithDetail("jwt.secret is empty (set ROOMGATE_JWT_SECRET)")
	case c.Node.ID < 0 || c.Node.ID > 1023:
		return errs.ErrArgs.WithDetail("node.id must be within [0,1023]")
	}
	switch c.Store.Driver {
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return errs.ErrArgs.WithDetail("store.postgres.dsn is empty")
		}
	case StoreMongo:
		if c.Store.Mongo.Uri == "" && len(c.Store.Mongo.Address) == 0 {
			return errs.ErrArgs.WithDetail("store.mongo needs uri or address")
		}
	default:
		return errs.ErrArgs.WithDetail("unknown store driver " + c.Store.Driver)
	}
	switch c.Broker.Driver {
	case "", BrokerNone:
	case BrokerNats:
		if !c.Broker.Nats.Enabled() {
			return errs.ErrArgs.WithDetail("broker.nats.servers is empty")
		}
	case BrokerKafka:
		if !c.Broker.Kafka.Enabled() {
			return errs.ErrArgs.WithDetail("broker.kafka.brokers is empty")
		}
	case BrokerRedis:
		if !c.Redis.Enabled() {
			return errs.ErrArgs.WithDetail("redis streams need redis.addr")
		}
	default:
		return errs.ErrArgs.WithDetail("unknown broker driver " + c.Broker.Driver)
	}
	return nil
}

// ChatConf maps the chat section onto the server configuration.
func (c *AppConfig) ChatConf() chat.Conf {
	ch := c.Chat
	return chat.Conf{
		MaxContentLength: ch.MaxContentLength,
		TypingTTL:        ch.TypingTTL,
		AuthTimeout:      ch.AuthTimeout,
		StoreTimeout:     ch.StoreTimeout,
		SinkTimeout:      ch.SinkTimeout,
		SendQueueSize:    ch.SendQueueSize,
		EffectQueue:      ch.EffectQueue,
		WriteWait:        ch.WriteWait,
		PongWait:         ch.PongWait,
		MaxFrameBytes:    ch.MaxFrameBytes,
		Manager: chat.ManagerConf{
			UnauthTTL:   ch.UnauthTTL,
			AuthTTL:     ch.IdleTTL,
			SweepEvery:  ch.SweepEvery,
			MaxPerUser:  ch.MaxConnsPerUser,
			EvictOldest: ch.EvictOldest,
		},
	}
}
