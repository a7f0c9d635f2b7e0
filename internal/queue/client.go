package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/opensource-finance/returnguard/internal/domain"
)

// DefaultQueue is the queue tasks go to unless configured otherwise.
const DefaultQueue = "default"

// Dispatcher hands decided requests to follow-up processing.
type Dispatcher interface {
	IssueLabel(ctx context.Context, payload ReturnTaskPayload) error
	SendConfirmation(ctx context.Context, payload ReturnTaskPayload) error
}

// Client wraps an asynq client. A disabled client accepts and drops tasks.
type Client struct {
	client       *asynq.Client
	enabled      bool
	defaultQueue string
}

// NewClient creates a queue client.
func NewClient(cfg *domain.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false, defaultQueue: DefaultQueue}, nil
	}
	client := asynq.NewClient(buildRedisOpt(cfg))
	return &Client{
		client:       client,
		enabled:      true,
		defaultQueue: DefaultQueue,
	}, nil
}

// Enabled reports whether tasks reach Redis.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Close closes the underlying client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IssueLabel enqueues a label task. Repeat enqueues for the same request are dropped.
func (c *Client) IssueLabel(ctx context.Context, payload ReturnTaskPayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewIssueLabelTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, taskID(TaskIssueLabel, payload))
}

// SendConfirmation enqueues a confirmation task.
func (c *Client) SendConfirmation(ctx context.Context, payload ReturnTaskPayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewSendConfirmationTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, taskID(TaskSendConfirmation, payload))
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, id string, opts ...asynq.Option) error {
	options := append([]asynq.Option{asynq.Queue(c.defaultQueue), asynq.TaskID(id)}, opts...)
	_, err := c.client.EnqueueContext(ctx, task, options...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// BuildServerConfig returns the Redis connection and server settings for a worker.
func BuildServerConfig(cfg *domain.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{DefaultQueue: 1}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

func buildRedisOpt(cfg *domain.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}
