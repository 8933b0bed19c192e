package main

import (
	"context"
	stdErrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mini-maxit/judge/internal/api"
	"github.com/mini-maxit/judge/internal/cache"
	"github.com/mini-maxit/judge/internal/catalog"
	"github.com/mini-maxit/judge/internal/config"
	"github.com/mini-maxit/judge/internal/docker"
	"github.com/mini-maxit/judge/internal/lifecycle"
	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/metrics"
	"github.com/mini-maxit/judge/internal/pipeline"
	"github.com/mini-maxit/judge/internal/queue"
	"github.com/mini-maxit/judge/internal/rabbitmq"
	"github.com/mini-maxit/judge/internal/rabbitmq/consumer"
	"github.com/mini-maxit/judge/internal/rabbitmq/responder"
	"github.com/mini-maxit/judge/internal/sandbox"
	"github.com/mini-maxit/judge/internal/scheduler"
	"github.com/mini-maxit/judge/internal/service"
	"github.com/mini-maxit/judge/internal/stages/compiler"
	"github.com/mini-maxit/judge/internal/stages/evaluator"
	"github.com/mini-maxit/judge/internal/stages/verifier"
	"github.com/mini-maxit/judge/internal/store"
	"github.com/mini-maxit/judge/internal/store/postgres"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/languages"
)

func main() {
	log := logger.NewNamedLogger("main")
	log.Info("Starting judge")

	// Load the configuration
	cfg := config.NewConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, log)
	stop()

	if err != nil {
		log.Errorf("Judge stopped with error: %s", err)
		logger.Sync()
		os.Exit(1)
	}
	log.Info("Judge stopped")
	logger.Sync()
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	registry, err := loadLanguages(cfg)
	if err != nil {
		return err
	}

	health := map[string]api.HealthCheck{}

	// Storage and catalog
	var (
		st  store.Store
		cat catalog.Catalog
	)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		st = postgres.NewStore(pool)
		cat = catalog.NewPostgresCatalog(pool, registry)
		health["postgres"] = pool.Ping
	} else {
		log.Warn("DATABASE_URL is not set, submissions are kept in memory")
		st = store.NewMemoryStore()
	}
	if cfg.CatalogFile != "" {
		if cat, err = catalog.LoadStaticFile(cfg.CatalogFile, registry); err != nil {
			return err
		}
	}
	if cat == nil {
		log.Warn("No catalog configured, every submission will be rejected")
		cat = catalog.NewStaticCatalog(registry)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	machine := lifecycle.NewMachine(st, m)

	var statusCache cache.StatusCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()
		statusCache = cache.NewStatusCache(rdb, cfg.StatusTTL)
		machine.Subscribe(statusCache)
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	q := queue.NewQueue(st, machine, queue.Options{
		MaxActive:     cfg.MaxWorkers + cfg.QueueCapacity,
		MaxAttempts:   cfg.MaxAttempts,
		LeaseTTL:      cfg.LeaseTTL,
		PollInterval:  cfg.PollInterval,
		PriorityBurst: cfg.PriorityBurst,
	})

	// Sandbox and workers
	var dockerCli docker.DockerClient
	if cfg.SandboxDriver == constants.SandboxDriverDocker {
		if dockerCli, err = docker.NewDockerClient(); err != nil {
			return err
		}
		if err := dockerCli.Ping(ctx); err != nil {
			return err
		}
		health["docker"] = dockerCli.Ping
	}
	sb, err := sandbox.New(cfg.SandboxDriver, sandbox.Options{
		OutputCapBytes:  cfg.OutputCapBytes,
		AllowUnconfined: cfg.AllowUnconfined,
	}, dockerCli)
	if err != nil {
		return err
	}

	comp := compiler.NewCompiler()
	eval := evaluator.NewEvaluator(verifier.NewVerifier())
	workerPool := scheduler.NewScheduler(cfg.MaxWorkers, func(id int) pipeline.Worker {
		return pipeline.NewWorker(id, cfg.NodeID, q, machine, cat, sb, comp, eval, pipeline.Options{
			HeartbeatInterval: cfg.LeaseTTL / 3,
			WallTimeGrace:     cfg.WallTimeGrace,
		})
	})

	svc := service.NewService(q, machine, cat, statusCache, workerPool, service.Options{
		MaxSourceBytes: cfg.MaxSourceBytes,
		OnBusy:         m.Rejected.Inc,
	})

	// RabbitMQ
	conn, err := rabbitmq.NewRabbitMqConnection(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Errorf("Failed to close RabbitMQ connection: %s", err)
		}
	}()
	consumerCh, err := rabbitmq.NewRabbitMQChannel(conn)
	if err != nil {
		return err
	}
	responderCh, err := rabbitmq.NewRabbitMQChannel(conn)
	if err != nil {
		return err
	}
	if _, err := responderCh.QueueDeclare(cfg.StatusQueueName, true, false, false, false, nil); err != nil {
		return err
	}
	resp := responder.NewResponder(responderCh, cfg.StatusQueueName, constants.ResponderBufferSize)
	defer func() {
		if err := resp.Close(); err != nil {
			log.Errorf("Failed to close responder: %s", err)
		}
	}()
	machine.Subscribe(resp)
	health["rabbitmq"] = func(context.Context) error {
		if conn.IsClosed() {
			return stdErrors.New("connection closed")
		}
		return nil
	}

	recovered, err := q.RecoverOrphans(ctx, cfg.NodeID)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.Infof("Recovered %d submissions left by a previous run", recovered)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(svc, promhttp.Handler(), health),
		ReadHeaderTimeout: constants.HTTPReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workerPool.Run(gctx) })
	g.Go(func() error { return q.RunReaper(gctx) })
	g.Go(func() error {
		return m.Run(gctx, metrics.Sources{Queue: st, Workers: workerPool}, constants.MetricsSampleInterval)
	})
	g.Go(func() error {
		return consumer.NewConsumer(consumerCh, cfg.JudgeQueueName, svc, resp).Listen(gctx)
	})
	g.Go(func() error {
		log.Infof("Listening for HTTP requests on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.HTTPShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func loadLanguages(cfg *config.Config) (*languages.Registry, error) {
	if cfg.LanguagesFile == "" {
		return languages.Default(), nil
	}
	return languages.LoadFile(cfg.LanguagesFile)
}
