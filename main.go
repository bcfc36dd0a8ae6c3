package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"RoomGate/global/config"
	"RoomGate/logger"
	"RoomGate/middleware"
	"RoomGate/service/chat"
	"RoomGate/service/chat/handlers"
	"RoomGate/service/httpapi"
	"RoomGate/service/kafka"
	"RoomGate/service/mgo"
	"RoomGate/service/natsx"
	"RoomGate/service/storage"
	"RoomGate/service/storage/pg"
	"RoomGate/service/storage/redis"
	"RoomGate/tools/ids"
	jwtx "RoomGate/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// store is what the gateway needs from either database backend.
type store interface {
	chat.RoomAccess
	chat.MessageStore
	chat.PresenceSink
}

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (env ROOMGATE_CONFIG)")
	issue := flag.String("issue-token", "", "print a token for user id[:name] and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	jwtOpts := jwtx.Options{Secret: []byte(cfg.JWT.Secret), Alg: cfg.JWT.Alg, TTL: cfg.JWT.TTL, Issuer: cfg.JWT.Issuer}
	if *issue != "" {
		if err := issueToken(jwtOpts, *issue); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, jwtOpts); err != nil {
		logger.Error("gateway stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func issueToken(opts jwtx.Options, arg string) error {
	idPart, name, _ := strings.Cut(arg, ":")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("bad user id %q", idPart)
	}
	if name == "" {
		name = "user" + idPart
	}
	tok, exp, err := jwtx.Generate(opts, chat.User{ID: id, Username: name})
	if err != nil {
		return err
	}
	fmt.Println(tok)
	fmt.Fprintln(os.Stderr, "expires", exp.Format(time.RFC3339))
	return nil
}

func run(cfg *config.AppConfig, jwtOpts jwtx.Options) error {
	ids.SetNodeID(cfg.Node.ID)
	nodeID := strconv.FormatInt(cfg.Node.ID, 10)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- store ----
	var st store
	switch cfg.Store.Driver {
	case config.StoreMongo:
		s, err := mgo.Open(ctx, &cfg.Store.Mongo)
		if err != nil {
			return err
		}
		defer s.Close(context.Background())
		st = s
	default:
		s, err := pg.Open(ctx, cfg.Store.Postgres)
		if err != nil {
			return err
		}
		defer s.Close()
		st = s
	}
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	// ---- presence + broker ----
	presence := chat.MultiPresence{st}
	var redisPresence *storage.Presence
	var publisher chat.EventPublisher
	if cfg.Redis.Enabled() {
		rdb, err := redis.Open(ctx, cfg.Redis.Config)
		if err != nil {
			return err
		}
		defer rdb.Close()
		redisPresence = storage.NewPresence(rdb, storage.PresenceConfig{
			NodeID: nodeID, TTL: cfg.Redis.PresenceTTL, KeyPrefix: cfg.Redis.KeyPrefix,
		})
		presence = append(presence, redisPresence)
		if cfg.Broker.Driver == config.BrokerRedis {
			publisher = storage.NewStreamPublisher(rdb, cfg.Redis.KeyPrefix+":events:", cfg.Broker.StreamMaxLen)
		}
	}
	switch cfg.Broker.Driver {
	case config.BrokerNats:
		nc, err := natsx.Connect(cfg.Broker.Nats)
		if err != nil {
			return err
		}
		defer nc.Close()
		publisher = natsx.NewPublisher(nc)
	case config.BrokerKafka:
		kp, err := kafka.NewPublisher(cfg.Broker.Kafka, chat.SubjectMessageCreated, chat.SubjectPresence)
		if err != nil {
			return err
		}
		defer kp.Close()
		publisher = kp
	}
	logger.Info("events", zap.String("broker", cfg.Broker.Driver), zap.Bool("redisPresence", redisPresence != nil))

	// ---- chat server ----
	verifier := jwtx.NewVerifier(jwtOpts)
	srv, err := chat.NewServer(cfg.ChatConf(), chat.Deps{
		Verifier:  verifier,
		Access:    st,
		Store:     st,
		Presence:  presence,
		Publisher: publisher,
	})
	if err != nil {
		return err
	}
	handlers.RegisterAll(srv.Disp())

	// ---- http ----
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog())
	middleware.Manager().Add(middleware.Origin(cfg.HTTP.AllowedOrigins))
	r.Use(middleware.Manager().Use())

	apiDeps := httpapi.Deps{Server: srv, Verifier: verifier, Tokens: &jwtOpts}
	if redisPresence != nil {
		apiDeps.Cluster = redisPresence
	}
	httpapi.Register(r, apiDeps)

	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr), zap.String("node", nodeID))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if redisPresence != nil {
		g.Go(func() error {
			redisPresence.RunKeepAlive(gctx, srv.ConnMgr().OnlineUsers)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		// websocket connections are hijacked, so Shutdown does not wait for them
		srv.Close()
		return err
	})
	return g.Wait()
}
