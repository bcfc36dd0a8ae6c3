package natsx

import (
	"errors"
	"strings"
	"time"

	"RoomGate/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Mode string

const (
	Core      Mode = "core"      // fire and forget
	JetStream Mode = "jetstream" // acked by the stream
)

type Config struct {
	Servers         []string      `yaml:"servers"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SubjectPrefix   string        `yaml:"subjectPrefix"` // prepended to every subject, e.g. "roomgate."
	Mode            Mode          `yaml:"mode"`
	ReconnectWait   time.Duration `yaml:"reconnectWait"`
	Timeout         time.Duration `yaml:"timeout"`
	PublishAsyncMax int           `yaml:"publishAsyncMax"`
}

func (c Config) Enabled() bool { return len(c.Servers) > 0 }

type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext
}

// Connect dials NATS and, in JetStream mode, opens the stream context.
func Connect(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax == 0 {
		cfg.PublishAsyncMax = 4096
	}
	if cfg.Name == "" {
		cfg.Name = "roomgate"
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, nc: nc}
	if cfg.Mode == JetStream {
		js, err := nc.JetStream(nats.PublishAsyncMaxPending(cfg.PublishAsyncMax))
		if err != nil {
			nc.Close()
			return nil, err
		}
		c.js = js
	}
	return c, nil
}

// Close flushes pending publishes and closes the connection.
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}
