package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"RoomGate/service/natsx"
	"RoomGate/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
http:
  addr: ":9000"
  allowedOrigins: ["https://chat.example.com"]
log:
  level: debug
node:
  id: 7
jwt:
  secret: s3cret
  ttl: 1h
chat:
  maxContentLength: 500
  typingTTL: 5s
  maxConnsPerUser: 3
  evictOldest: true
store:
  driver: mongo
  mongo:
    uri: mongodb://localhost:27017
    database: chat
redis:
  addr: localhost:6379
  presenceTTL: 30s
broker:
  driver: nats
  nats:
    servers: ["nats://localhost:4222"]
    mode: jetstream
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "roomgate.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadFile(t *testing.T) {
	c, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.HTTP.Addr)
	assert.Equal(t, 10*time.Second, c.HTTP.ShutdownTimeout, "default survives")
	assert.Equal(t, "debug", c.Log.Level)
	assert.EqualValues(t, 7, c.Node.ID)
	assert.Equal(t, time.Hour, c.JWT.TTL)
	assert.Equal(t, StoreMongo, c.Store.Driver)
	assert.Equal(t, "chat", c.Store.Mongo.Database)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, 30*time.Second, c.Redis.PresenceTTL)
	assert.Equal(t, natsx.JetStream, c.Broker.Nats.Mode)
	assert.Equal(t, "roomgate.", c.Broker.Nats.SubjectPrefix)

	cc := c.ChatConf()
	assert.Equal(t, 500, cc.MaxContentLength)
	assert.Equal(t, 5*time.Second, cc.TypingTTL)
	assert.Equal(t, 3, cc.Manager.MaxPerUser)
	assert.True(t, cc.Manager.EvictOldest)
	assert.Equal(t, 2*time.Minute, cc.Manager.AuthTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"ROOMGATE_JWT_SECRET":      "env-secret",
		"ROOMGATE_NODE_ID":         "12",
		"ROOMGATE_BROKER":          "kafka",
		"KAFKA_BROKERS":            "k1:9092, k2:9092,",
		"DATABASE_URL":             "postgres://u@h/db",
		"ROOMGATE_ALLOWED_ORIGINS": "https://a.example,https://b.example",
	}
	c := Default()
	require.NoError(t, c.applyEnv(func(k string) string { return env[k] }))
	require.NoError(t, c.Validate())

	assert.Equal(t, "env-secret", c.JWT.Secret)
	assert.EqualValues(t, 12, c.Node.ID)
	assert.Equal(t, BrokerKafka, c.Broker.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Broker.Kafka.Brokers)
	assert.Equal(t, "postgres://u@h/db", c.Store.Postgres.DSN)
	assert.Len(t, c.HTTP.AllowedOrigins, 2)

	bad := Default()
	err := bad.applyEnv(func(k string) string {
		if k == "ROOMGATE_NODE_ID" {
			return "x"
		}
		return ""
	})
	assert.True(t, errors.Is(err, errs.ErrArgs))
}

func TestValidate(t *testing.T) {
	valid := func() *AppConfig {
		c := Default()
		c.JWT.Secret = "k"
		c.Store.Postgres.DSN = "postgres://x"
		return c
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *AppConfig){
		"no secret":      func(c *AppConfig) { c.JWT.Secret = "" },
		"no addr":        func(c *AppConfig) { c.HTTP.Addr = "" },
		"node range":     func(c *AppConfig) { c.Node.ID = 2048 },
		"no dsn":         func(c *AppConfig) { c.Store.Postgres.DSN = "" },
		"bad store":      func(c *AppConfig) { c.Store.Driver = "sqlite" },
		"mongo no uri":   func(c *AppConfig) { c.Store.Driver = StoreMongo },
		"nats no server": func(c *AppConfig) { c.Broker.Driver = BrokerNats },
		"kafka no peers": func(c *AppConfig) { c.Broker.Driver = BrokerKafka },
		"redis no addr":  func(c *AppConfig) { c.Broker.Driver = BrokerRedis },
		"bad broker":     func(c *AppConfig) { c.Broker.Driver = "mqtt" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrArgs))
		})
	}
}
