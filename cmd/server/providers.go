package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/codearena/api"
	"github.com/isdmx/codearena/cache"
	"github.com/isdmx/codearena/config"
	"github.com/isdmx/codearena/engine"
	"github.com/isdmx/codearena/engine/sqlquery"
	"github.com/isdmx/codearena/execution"
	"github.com/isdmx/codearena/mcpserver"
	"github.com/isdmx/codearena/question"
	"github.com/isdmx/codearena/queue"
	"github.com/isdmx/codearena/sandbox"
)

const (
	connectTimeout = 10 * time.Second
	// stallGrace is added to a language's execution bound before an active
	// job is presumed orphaned.
	stallGrace = 30 * time.Second
)

func newCache(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*cache.Cache, error) {
	var store cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		store = cache.NewRedisStore(client)
	default:
		store = cache.NewMemoryStore(time.Minute)
	}

	c := cache.New(store, logger.Named("cache"), cacheOptions(cfg))
	lc.Append(fx.StopHook(c.Close))
	logger.Info("result cache ready", zap.String("backend", cfg.Cache.Backend))
	return c, nil
}

func cacheOptions(cfg *config.Config) cache.Options {
	return cache.Options{
		TTLs: cache.TTLs{
			Question: cfg.Cache.QuestionTTL,
			Result:   cfg.Cache.ResultTTL,
			Progress: cfg.Cache.ProgressTTL,
			Runtime:  cfg.Cache.RuntimeTTL,
		},
		CompressThreshold: cfg.Cache.CompressThresholdBytes,
	}
}

func sandboxConfig(cfg *config.Config) *sandbox.Config {
	images := make(map[string]string, len(cfg.Languages))
	for name, lang := range cfg.Languages {
		if lang.Image != "" {
			images[name] = lang.Image
		}
	}
	return &sandbox.Config{
		MemoryMB:       cfg.Sandbox.MemoryMB,
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
		PidsLimit:      cfg.Sandbox.PidsLimit,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		Images:         images,
	}
}

func newSandboxExecutor(cfg *config.Config, logger *zap.Logger) (sandbox.SandboxExecutor, error) {
	return sandbox.NewExecutor(logger.Named("sandbox"), sandboxConfig(cfg), cfg.Sandbox.Backend)
}

// newSQLQuerier opens the submission pool. Without sql_engine.url the
// querier is nil and the sql engine is not registered.
func newSQLQuerier(lc fx.Lifecycle, cfg *config.Config) (sqlquery.Querier, error) {
	if cfg.SQLEngine.URL == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	pool, err := sqlquery.NewPool(ctx, sqlquery.PoolConfig{
		URL:      cfg.SQLEngine.URL,
		MaxConns: cfg.SQLEngine.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	// Engine cleanup closes the pool; the hook covers a registry that never
	// registered the sql engine.
	lc.Append(fx.StopHook(pool.Close))
	return sqlquery.NewPoolQuerier(pool), nil
}

func newQuestionRepository(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (question.Repository, error) {
	switch {
	case cfg.Database.URL != "":
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("parse database url: %w", err)
		}
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Database.MaxConns
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("open question store: %w", err)
		}
		lc.Append(fx.StopHook(pool.Close))
		logger.Info("question store ready", zap.String("backend", "postgres"))
		return question.NewPostgresRepository(pool), nil
	case cfg.Database.QuestionsFile != "":
		repo, err := question.LoadFile(cfg.Database.QuestionsFile)
		if err != nil {
			return nil, err
		}
		logger.Info("question store ready", zap.String("backend", "file"), zap.String("path", cfg.Database.QuestionsFile))
		return repo, nil
	default:
		logger.Warn("no question store configured; question lookups will report not found")
		return question.NewMemoryRepository(), nil
	}
}

func newEventBus(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*queue.EventBus, error) {
	log := logger.Named("queue")
	bus := queue.NewEventBus(queue.LogEvents(log))
	if cfg.Queue.NATS.URL == "" {
		return bus, nil
	}
	nc, err := queue.ConnectNATS(cfg.Queue.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	bus.Subscribe(queue.NATSEvents(nc, cfg.Queue.NATS.SubjectPrefix, log))
	lc.Append(fx.StopHook(nc.Drain))
	log.Info("publishing job events to nats", zap.String("subject_prefix", cfg.Queue.NATS.SubjectPrefix))
	return bus, nil
}

func managerConfig(cfg *config.Config) queue.ManagerConfig {
	limits := make(map[string]queue.Limits, len(cfg.Languages))
	for name, lang := range cfg.Languages {
		if !lang.Enabled {
			continue
		}
		limits[name] = queue.Limits{
			Concurrency: lang.Concurrency,
			StallAfter:  lang.Timeout() + stallGrace,
		}
	}
	return queue.ManagerConfig{
		Options: queue.Options{
			MaxAttempts:        cfg.Queue.MaxAttempts,
			BackoffBase:        cfg.Queue.BackoffBase,
			CompletedRetention: cfg.Queue.CompletedRetention,
			FailedRetention:    cfg.Queue.FailedRetention,
			MaxWaiting:         cfg.Queue.MaxWaiting,
			StallAfter:         queue.DefaultOptions().StallAfter,
		},
		Limits:               limits,
		DefaultLimits:        queue.Limits{Concurrency: 1},
		StalledCheckInterval: cfg.Queue.StalledCheckInterval,
	}
}

func newQueueManager(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, svc *execution.Service, registry *engine.Registry, events *queue.EventBus) *queue.Manager {
	m := queue.NewManager(logger.Named("queue"), svc, registry, events, managerConfig(cfg))
	lc.Append(fx.StopHook(m.Close))
	return m
}

func newMCPServer(cfg *config.Config, logger *zap.Logger, svc *execution.Service, mgr *queue.Manager) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, logger.Named("mcp"), svc, mgr)
}

func registerRegistryCleanup(lc fx.Lifecycle, registry *engine.Registry) {
	lc.Append(fx.StopHook(registry.Cleanup))
}

func startMCP(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, server *mcpserver.MCPServer, shutdowner fx.Shutdowner) error {
	var serve func() error
	switch cfg.Server.Transport {
	case "stdio":
		serve = server.ServeStdio
	case "http":
		serve = server.ServeHTTP
	default:
		return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
	}
	lc.Append(fx.StartHook(func() {
		go func() {
			if err := serve(); err != nil {
				logger.Error("mcp server stopped", zap.Error(err))
				_ = shutdowner.Shutdown(fx.ExitCode(1))
			}
		}()
	}))
	return nil
}

func startREST(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, svc *execution.Service, mgr *queue.Manager, shutdowner fx.Shutdowner) {
	if cfg.Server.RESTPort == 0 {
		return
	}
	log := logger.Named("api")
	router := api.NewRouter(log, api.NewHandler(log, svc, mgr))
	srv := api.NewServer(cfg.Server.RESTPort, router)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := api.Serve(log, srv); err != nil {
					log.Error("rest api stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	})
}
