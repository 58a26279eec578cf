package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homeassist/internal/agent"
	"homeassist/internal/automation"
	"homeassist/internal/config"
	"homeassist/internal/conversation"
	"homeassist/internal/db"
	"homeassist/internal/db/sqlite"
	"homeassist/internal/discovery"
	"homeassist/internal/engine"
	"homeassist/internal/mqtt"
	"homeassist/internal/redis"
	"homeassist/internal/scheduler"
	"homeassist/internal/taskqueue"
	"homeassist/internal/telemetry"
	"homeassist/internal/web"
	"homeassist/internal/web/api"
	"homeassist/migrations"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 15 * time.Second
	sweepInterval   = time.Minute
)

// openRepository connects to the configured store and brings its schema up to date
func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (automation.Repository, func() error, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		repo, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		repo, err := db.NewDB(ctx, cfg.Store.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.RunMigrations(ctx, migrations.Postgres()); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		return repo, repo.Close, nil
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, "homeassist-engine", cfg.Telemetry.Insecure)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer closeRepo()
	store := automation.NewStore(repo, logger)

	redisClient, err := redis.NewRedisClient(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	mqttClient, err := mqtt.NewClient(cfg.MQTT.Broker, cfg.MQTT.ClientID, logger)
	if err != nil {
		return err
	}
	eng := engine.NewEngine(mqttClient, redisClient, logger)
	if err := eng.Start(); err != nil {
		mqttClient.Disconnect(250)
		return err
	}
	defer eng.Stop()

	var pipeline automation.CommandPipeline
	if cfg.OpenAI.APIKey != "" || cfg.OpenAI.BaseURL != "" {
		client := agent.NewClient(agent.Config{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL, Model: cfg.OpenAI.Model})
		pipeline = agent.NewPipeline(client, eng, cfg.OpenAI.Model, logger)
	} else {
		logger.Warn("no command pipeline configured; agent_command automations will fail")
	}

	executor := automation.NewExecutor(pipeline, eng, cfg.Executor.Timeout, logger)
	sched, err := scheduler.NewScheduler(store, eng, automation.NewEvaluator(loc, logger), executor, scheduler.Config{
		TimeInterval:     cfg.Scheduler.TimeInterval,
		StateInterval:    cfg.Scheduler.StateInterval,
		AutoDisableAfter: cfg.Scheduler.AutoDisableAfter,
	}, logger)
	if err != nil {
		return err
	}

	var registry conversation.Registry = conversation.NewMemoryRegistry()
	if cfg.Conversation.Backend == "redis" {
		registry = conversation.NewRedisRegistry(redisClient, cfg.Conversation.Timeout)
	}
	conversations := conversation.NewManager(registry, store, nil, cfg.Conversation.Timeout, logger)

	tasks := taskqueue.NewClient(cfg.Redis.Addr, logger)
	defer tasks.Close()
	worker := taskqueue.NewWorker(cfg.Redis.Addr, cfg.Worker.Concurrency, sched, logger)

	server := web.NewWebServer(web.Config{
		Addr:           fmt.Sprintf(":%d", cfg.App.Port),
		JWTSecret:      cfg.JWT.Secret,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
	}, api.Dependencies{
		Store:         store,
		Runner:        sched,
		Enqueuer:      tasks,
		Conversations: conversations,
		Pipeline:      pipeline,
		Scheduler:     sched,
		States:        eng,
		Location:      loc,
	}, logger)

	if cfg.MDNS.Enabled {
		responder := discovery.NewResponder(cfg.MDNS.LocalName, logger)
		if err := responder.Start(); err != nil {
			logger.Warn("mdns responder disabled", zap.Error(err))
		} else {
			defer responder.Close()
		}
	}

	if err := sched.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return conversations.Run(gctx, sweepInterval) })

	err = g.Wait()
	logger.Info("shutting down")
	if stopErr := sched.Stop(); stopErr != nil && !errors.Is(stopErr, scheduler.ErrNotRunning) {
		logger.Error("scheduler stop failed", zap.Error(stopErr))
	}
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
