package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
)

var _ storage.PushSubscriptions = (*Client)(nil)

func TestSubscriptionsRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	c, err := New(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	a := model.PushSubscription{Endpoint: "https://push.example/a", Keys: model.PushKeys{P256dh: "p", Auth: "x"}}
	b := model.PushSubscription{Endpoint: "https://push.example/b", Keys: model.PushKeys{P256dh: "q", Auth: "y"}}
	require.NoError(t, c.SaveSubscription(ctx, "alice", a))
	require.NoError(t, c.SaveSubscription(ctx, "alice", b))
	require.NoError(t, c.SaveSubscription(ctx, "alice", a))

	subs, err := c.Subscriptions(ctx, "alice")
	require.NoError(t, err)
	require.ElementsMatch(t, []model.PushSubscription{a, b}, subs)
	require.Equal(t, SubscriptionTTL, mr.TTL(subsKeyPrefix+"alice"))

	require.NoError(t, c.RemoveSubscription(ctx, "alice", a.Endpoint))
	subs, err = c.Subscriptions(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []model.PushSubscription{b}, subs)

	none, err := c.Subscriptions(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestNewRejectsUnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := New(context.Background(), "redis://"+addr)
	require.Error(t, err)
}
