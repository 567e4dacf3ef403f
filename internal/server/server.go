package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"skycrash/internal/cache"
	"skycrash/internal/config"
	"skycrash/internal/database"
	"skycrash/internal/events"
	"skycrash/internal/game"
	"skycrash/internal/history"
	"skycrash/internal/rewardpool"
	"skycrash/internal/wallet"
)

type FiberServer struct {
	*fiber.App

	cfg config.Config
	log *zap.SugaredLogger

	db       database.Service
	cache    cache.Service
	wallet   wallet.Adapter
	manager  *game.Manager
	hub      *game.Hub
	factory  *game.GameFactory
	dice     *game.DiceEngine
	history  *history.Store
	producer *events.Producer
}

func New(cfg config.Config, log *zap.SugaredLogger) *FiberServer {
	s := &FiberServer{
		cfg: cfg,
		log: log,
		App: fiber.New(fiber.Config{
			ServerHeader:  "skycrash",
			AppName:       cfg.ServiceName,
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),
	}

	// Postgres backs the wallet and the round archive. Without it the server
	// still runs for local development, settling against an in-memory wallet.
	db, err := database.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Warnw("postgres unavailable, using in-memory wallet", "error", err)
		s.wallet = wallet.NewMemory()
	} else {
		s.db = db
		s.wallet = wallet.NewPostgres(db.Pool())
		s.history = history.NewStore(log, db.Pool())
	}

	s.cache = cache.New(log, cfg.RedisAddr, "", cfg.RedisDB)

	rewards := rewardpool.Pool(rewardpool.Noop{})
	if s.cache != nil {
		rewards = rewardpool.NewRedis(s.cache.GetClient())
	}

	s.hub = game.NewHub(log)
	go s.hub.Run()

	var sinks game.MultiSink
	if s.history != nil {
		sinks = append(sinks, s.history)
	}
	if cfg.KafkaBrokers != "" {
		s.producer = events.NewProducer(log, cfg.KafkaBrokers, cfg.TopicRounds, cfg.TopicSettlements)
		sinks = append(sinks, s.producer)
	}

	s.manager = game.NewManager(game.Config{
		TableID:       cfg.TableID,
		SiteID:        cfg.SiteID,
		Currency:      cfg.Currency,
		HouseEdge:     cfg.HouseEdge,
		BettingWindow: cfg.BettingWindow,
		TickInterval:  cfg.TickInterval,
		RestDelay:     cfg.RestDelay,
		MinStake:      cfg.MinStake,
		MaxStake:      cfg.MaxStake,
	}, log, s.wallet, rewards, s.broadcaster(), sinks)

	s.dice = game.NewDiceEngine(log, s.wallet, redisOrNil(s.cache), cfg.Currency, cfg.HouseEdge, cfg.MinStake, cfg.MaxStake)

	s.factory = game.NewGameFactory(log)
	s.factory.RegisterEngine(s.manager)
	s.factory.RegisterEngine(s.dice)
	if err := s.factory.StartAll(context.Background()); err != nil {
		log.Errorw("failed to start game engines", "error", err)
	}

	s.App.Use(recover.New())
	s.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: time.Minute,
	}))

	return s
}

func redisOrNil(c cache.Service) *redis.Client {
	if c == nil {
		return nil
	}
	return c.GetClient()
}

// broadcaster feeds the websocket hub and mirrors round outcomes into the
// cache for the recent-crash list and reconnect snapshots. The round loop
// calls this on every event, so neither half may block: the hub drops when
// full and the cache writes run on their own goroutine.
func (s *FiberServer) broadcaster() game.Broadcaster {
	return game.BroadcastFunc(func(ev game.Event) {
		s.hub.Broadcast(ev)

		if s.cache == nil {
			return
		}
		if crashed, ok := ev.(game.CrashedEvent); ok {
			go s.cacheCrash(crashed)
		}
	})
}

func (s *FiberServer) cacheCrash(crashed game.CrashedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cache.PushRecentCrash(ctx, s.cfg.TableID, crashed.CrashPoint); err != nil {
		s.log.Warnw("failed to cache crash point", "round", crashed.RoundID, "error", err)
	}
	if snap, ok := s.manager.Snapshot(); ok {
		if err := s.cache.StoreSnapshot(ctx, s.cfg.TableID, snap); err != nil {
			s.log.Warnw("failed to cache snapshot", "round", crashed.RoundID, "error", err)
		}
	}
}

// Shutdown stops the table, the engines, and every connection.
func (s *FiberServer) Shutdown() error {
	s.log.Info("shutting down")

	if s.factory != nil {
		if err := s.factory.StopAll(); err != nil {
			s.log.Errorw("error stopping game engines", "error", err)
		}
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			s.log.Errorw("error closing event producer", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Errorw("error closing redis", "error", err)
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	return s.App.Shutdown()
}
