// Package redis keeps Web Push subscriptions in Redis, one hash per user
// keyed by endpoint.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmchat/internal/model"
)

const (
	subsKeyPrefix   = "push:subs:"
	SubscriptionTTL = 30 * 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	// Per-call deadlines (relay publish, request contexts) must bound network waits.
	opts.ContextTimeoutEnabled = true
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Wrap uses an existing connection (shared with the event relay).
func Wrap(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

// Raw exposes the underlying client.
func (c *Client) Raw() *redis.Client {
	return c.cli
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SaveSubscription stores sub and refreshes the TTL of the user's set.
func (c *Client) SaveSubscription(ctx context.Context, userID string, sub model.PushSubscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("redis save subscription encode: %w", err)
	}
	key := subsKeyPrefix + userID
	pipe := c.cli.TxPipeline()
	pipe.HSet(ctx, key, sub.Endpoint, raw)
	pipe.Expire(ctx, key, SubscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save subscription: %w", err)
	}
	return nil
}

// Subscriptions skips entries that fail to decode.
func (c *Client) Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	vals, err := c.cli.HGetAll(ctx, subsKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis subscriptions: %w", err)
	}
	out := make([]model.PushSubscription, 0, len(vals))
	for _, v := range vals {
		var sub model.PushSubscription
		if json.Unmarshal([]byte(v), &sub) == nil && sub.Endpoint != "" {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	if err := c.cli.HDel(ctx, subsKeyPrefix+userID, endpoint).Err(); err != nil {
		return fmt.Errorf("redis remove subscription: %w", err)
	}
	return nil
}
