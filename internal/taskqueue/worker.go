package taskqueue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Client enqueues automation tasks
type Client struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewClient creates a task client backed by Redis at redisAddr
func NewClient(redisAddr string, logger *zap.Logger) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		logger: logger.Named("taskqueue"),
	}
}

// EnqueueRun queues a manual run of an automation and returns the task id
func (c *Client) EnqueueRun(ctx context.Context, automationID string) (string, error) {
	task, err := NewRunTask(automationID)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue run", zap.String("automation_id", automationID), zap.Error(err))
		return "", fmt.Errorf("enqueue run %s: %w", automationID, err)
	}
	c.logger.Info("run enqueued", zap.String("automation_id", automationID), zap.String("task_id", info.ID))
	return info.ID, nil
}

// Close closes the client
func (c *Client) Close() error {
	return c.client.Close()
}

// Worker processes automation tasks
type Worker struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewWorker creates a worker that runs automations through runner
func NewWorker(redisAddr string, concurrency int, runner Runner, logger *zap.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	logger = logger.Named("taskqueue")
	mux := asynq.NewServeMux()
	mux.Handle(TypeRunAutomation, NewRunHandler(runner, logger))
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Logger:      logger.Sugar(),
	})
	return &Worker{srv: srv, mux: mux, logger: logger}
}

// Run processes tasks until ctx is done
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting workers")
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	<-ctx.Done()
	w.logger.Info("stopping workers")
	w.srv.Shutdown()
	return nil
}
