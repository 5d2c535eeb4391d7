package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/observability"
)

const defaultRelayChannel = "dmchat:events"

var (
	// publishTimeout bounds one PUBLISH so a slow Redis cannot stall the outbox.
	publishTimeout = 2 * time.Second
	// Backoff between receive attempts after the subscription connection fails.
	relayRetryMin = 100 * time.Millisecond
	relayRetryMax = 5 * time.Second
)

// RedisRelay mirrors envelopes to other API nodes over Redis pub/sub. Each
// node tags what it publishes and ignores its own messages on receipt.
type RedisRelay struct {
	cli     *redis.Client
	channel string
	nodeID  string
	local   Sink
	ready   chan struct{}
}

func NewRedisRelay(cli *redis.Client, channel string, local Sink) *RedisRelay {
	if channel == "" {
		channel = defaultRelayChannel
	}
	return &RedisRelay{
		cli:     cli,
		channel: channel,
		nodeID:  uuid.NewString(),
		local:   local,
		ready:   make(chan struct{}),
	}
}

func (r *RedisRelay) NodeID() string { return r.nodeID }

// Ready is closed once the subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Deliver publishes env for the other nodes.
func (r *RedisRelay) Deliver(env Envelope) {
	env.Source = r.nodeID
	payload, err := json.Marshal(env)
	if err != nil {
		observability.RelayErrors().Inc()
		logger.Errorf("relay marshal %s: %v", env.Message.Type, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.cli.Publish(ctx, r.channel, payload).Err(); err != nil {
		observability.RelayErrors().Inc()
		logger.Errorf("relay publish %s: %v", env.Message.Type, err)
	}
}

// Run consumes the channel until ctx is done. Receive errors are retried
// with backoff; the client reconnects and resubscribes on the next attempt.
func (r *RedisRelay) Run(ctx context.Context) {
	pubsub := r.cli.Subscribe(ctx, r.channel)
	defer func() {
		_ = pubsub.Close()
	}()

	wait := relayRetryMin
	for {
		_, err := pubsub.Receive(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("relay subscribe %s: %v (retry in %s)", r.channel, err, wait)
		if !sleepCtx(ctx, wait) {
			return
		}
		wait = min(wait*2, relayRetryMax)
	}
	close(r.ready)

	wait = relayRetryMin
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			observability.RelayErrors().Inc()
			logger.Errorf("relay receive %s: %v (retry in %s)", r.channel, err, wait)
			if !sleepCtx(ctx, wait) {
				return
			}
			wait = min(wait*2, relayRetryMax)
			continue
		}
		wait = relayRetryMin
		r.handle([]byte(msg.Payload))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *RedisRelay) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		observability.RelayErrors().Inc()
		logger.Errorf("relay invalid event: %v", err)
		return
	}
	if env.Source == r.nodeID {
		return
	}
	r.local.Deliver(env)
}
