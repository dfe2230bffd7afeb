package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/naka0519/TownReady/internal/app"
	"github.com/naka0519/TownReady/internal/auth"
	"github.com/naka0519/TownReady/internal/config"
	"github.com/naka0519/TownReady/internal/db"
	"github.com/naka0519/TownReady/internal/db/repos"
	"github.com/naka0519/TownReady/internal/dispatch"
	"github.com/naka0519/TownReady/internal/envelope"
	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/metrics"
	"github.com/naka0519/TownReady/internal/reconcile"
	"github.com/naka0519/TownReady/internal/scheduler"
	"github.com/naka0519/TownReady/internal/services"
	"github.com/naka0519/TownReady/internal/stages"
	"github.com/naka0519/TownReady/internal/transport"
	"github.com/naka0519/TownReady/internal/transport/memory"
	"github.com/naka0519/TownReady/internal/transport/pubsub"
	"github.com/naka0519/TownReady/internal/transport/rabbitmq"
	"github.com/naka0519/TownReady/pkg/api/v1/handlers"
)

const shutdownTimeout = 10 * time.Second

// consumer pulls deliveries for transports that do not push over HTTP
type consumer func(ctx context.Context, deliver transport.DeliverFunc) error

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	logger.InitializeAndConfigure(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatalf("worker stopped: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	gdb, err := db.New(cfg.DB)
	if err != nil {
		return err
	}
	repo := repos.NewJobRepository(gdb)

	pub, consume, err := newTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warnf("failed to close transport: %v", err)
		}
	}()

	var rdb *redis.Client
	if cfg.Retry.DelayMode == config.DelayModeRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}
	sched, err := scheduler.New(cfg.Retry.DelayMode, pub, rdb)
	if err != nil {
		return err
	}

	guard, err := auth.NewGuard(cfg.Auth)
	if err != nil {
		return err
	}

	m := metrics.New()
	d, err := dispatch.New(cfg.Retry, dispatch.Deps{
		Store:     repo,
		Guard:     guard,
		Handlers:  stages.Defaults(),
		Publisher: pub,
		Scheduler: sched,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	server := app.New(handlers.NewAPIHandler(d, services.NewJobService(repo, pub)), m.Registry)

	g, ctx := errgroup.WithContext(ctx)

	if consume != nil {
		g.Go(func() error {
			return consume(ctx, func(ctx context.Context, msg envelope.Message) {
				d.HandleMessage(ctx, msg)
			})
		})
	}

	switch s := sched.(type) {
	case *scheduler.Redis:
		g.Go(func() error { return s.Run(ctx) })
	case *scheduler.Timer:
		defer s.Stop()
	}

	if cfg.Reconcile.Schedule != "" {
		rec := reconcile.New(repo, pub, cfg.Reconcile.StaleAfter)
		g.Go(func() error { return rec.Start(ctx, cfg.Reconcile.Schedule) })
	}

	g.Go(func() error {
		logger.InfoWithFields("worker listening", map[string]interface{}{
			"port":       cfg.Port,
			"transport":  cfg.Transport,
			"delay_mode": cfg.Retry.DelayMode,
			"verify":     cfg.Auth.Verify,
		})
		return server.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return server.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newTransport builds the publisher for cfg.Transport and, for transports the
// worker pulls from, the consumer loop
func newTransport(ctx context.Context, cfg *config.Config) (transport.Publisher, consumer, error) {
	switch cfg.Transport {
	case config.TransportMemory:
		bus := memory.NewBus(memory.ChannelSize)
		return bus, func(ctx context.Context, deliver transport.DeliverFunc) error {
			bus.Start(ctx, deliver)
			return nil
		}, nil
	case config.TransportPubSub:
		pub, err := pubsub.NewPublisher(ctx, cfg.PubSub.Project, cfg.PubSub.Topic)
		if err != nil {
			return nil, nil, err
		}
		// Deliveries arrive on the push route.
		return pub, nil, nil
	case config.TransportRabbitMQ:
		broker, err := rabbitmq.NewBroker(cfg.RabbitMQ)
		if err != nil {
			return nil, nil, err
		}
		return broker, broker.Consume, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}
