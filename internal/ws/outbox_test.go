package ws

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (s *sinkRecorder) Deliver(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *sinkRecorder) all() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.envs...)
}

func TestOutboxDropsWhenFull(t *testing.T) {
	sink := &sinkRecorder{}
	o := NewOutbox(2, sink)

	o.Publish(ToRoom("c1", EventNewMessage, nil))
	o.Publish(ToRoom("c1", EventMessageEdited, nil))
	o.Publish(ToRoom("c1", EventMessageDeleted, nil))
	require.Equal(t, 2, o.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.Run(ctx)

	got := sink.all()
	require.Len(t, got, 2)
	require.Equal(t, EventNewMessage, got[0].Message.Type)
	require.Equal(t, EventMessageEdited, got[1].Message.Type)
	require.Zero(t, o.Len())
}

func TestOutboxFansOutToEverySink(t *testing.T) {
	a, b := &sinkRecorder{}, &sinkRecorder{}
	o := NewOutbox(8, a, b)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	o.Publish(ToUser("bob", EventChatBumped, nil))
	require.Eventually(t, func() bool { return len(a.all()) == 1 && len(b.all()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRedisRelayCrossesNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { cli.Close() })
		return cli
	}

	localA, localB := &sinkRecorder{}, &sinkRecorder{}
	relayA := NewRedisRelay(newClient(), "test:events", localA)
	relayB := NewRedisRelay(newClient(), "test:events", localB)
	require.NotEqual(t, relayA.NodeID(), relayB.NodeID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relayA.Run(ctx)
	go relayB.Run(ctx)
	for _, r := range []*RedisRelay{relayA, relayB} {
		select {
		case <-r.Ready():
		case <-time.After(2 * time.Second):
			t.Fatal("relay did not subscribe")
		}
	}

	env := ToRoom("c1", EventTyping, TypingPayload{ChatID: "c1", ActorID: "alice", Typing: true})
	env.Except = "alice"
	relayA.Deliver(env)

	require.Eventually(t, func() bool { return len(localB.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := localB.all()[0]
	require.Equal(t, AudienceRoom, got.Audience)
	require.Equal(t, "c1", got.Target)
	require.Equal(t, "alice", got.Except)
	require.Equal(t, relayA.NodeID(), got.Source)
	require.Equal(t, EventTyping, got.Message.Type)

	payload, ok := got.Message.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "alice", payload["actor_id"])

	require.Never(t, func() bool { return len(localA.all()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRedisRelaySurvivesRedisRestart(t *testing.T) {
	prevMin, prevMax := relayRetryMin, relayRetryMax
	relayRetryMin, relayRetryMax = 10*time.Millisecond, 50*time.Millisecond
	t.Cleanup(func() { relayRetryMin, relayRetryMax = prevMin, prevMax })

	mr := miniredis.RunT(t)
	cliA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cliB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cliA.Close()
		cliB.Close()
	})

	localA := &sinkRecorder{}
	relayA := NewRedisRelay(cliA, "test:events", localA)
	relayB := NewRedisRelay(cliB, "test:events", &sinkRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		relayA.Run(ctx)
		close(stopped)
	}()
	select {
	case <-relayA.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	mr.Close()
	require.NoError(t, mr.Restart())

	select {
	case <-stopped:
		t.Fatal("relay stopped after a transient redis failure")
	case <-time.After(100 * time.Millisecond):
	}

	env := ToUser("bob", EventChatBumped, ChatBumpedPayload{ChatID: "c1"})
	require.Eventually(t, func() bool {
		relayB.Deliver(env)
		return len(localA.all()) > 0
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, EventChatBumped, localA.all()[0].Message.Type)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on cancel")
	}
}

func TestRedisRelayPublishIsBounded(t *testing.T) {
	prev := publishTimeout
	publishTimeout = 100 * time.Millisecond
	t.Cleanup(func() { publishTimeout = prev })

	// A server that accepts connections and never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()

	cli := redis.NewClient(&redis.Options{Addr: ln.Addr().String(), ContextTimeoutEnabled: true, MaxRetries: -1})
	t.Cleanup(func() { cli.Close() })
	relay := NewRedisRelay(cli, "test:events", &sinkRecorder{})

	start := time.Now()
	relay.Deliver(ToUser("bob", EventChatBumped, ChatBumpedPayload{ChatID: "c1"}))
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestRedisRelayIgnoresGarbage(t *testing.T) {
	local := &sinkRecorder{}
	r := NewRedisRelay(nil, "", local)
	r.handle([]byte("{not json"))
	require.Empty(t, local.all())
}
