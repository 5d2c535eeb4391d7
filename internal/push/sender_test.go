package push

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage/memory"
)

type statusClient struct {
	mu       sync.Mutex
	statuses map[string]int
	calls    []string
}

func (c *statusClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	endpoint := req.URL.String()
	c.calls = append(c.calls, endpoint)
	return &http.Response{StatusCode: c.statuses[endpoint], Body: io.NopCloser(strings.NewReader(""))}, nil
}

func testSubscription(endpoint string) model.PushSubscription {
	return model.PushSubscription{
		Endpoint: endpoint,
		Keys: model.PushKeys{
			P256dh: "BNNL5ZaTfK81qhXOx23-wewhigUeFb632jN6LvRWCFH1ubQr77FE_9qV1FuojuRmHP42zmf34rXgW80OvUVDgTk",
			Auth:   "zqbxT6JKstKSY9JKibZLSQ",
		},
	}
}

func TestEnsureVAPIDKeysPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "vapid.json")
	first, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	require.NotEmpty(t, first.PublicKey)
	require.NotEmpty(t, first.PrivateKey)

	second, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestNotifyRemovesExpiredSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	live := "https://push.example/live"
	gone := "https://push.example/gone"
	require.NoError(t, store.SaveSubscription(ctx, "bob", testSubscription(live)))
	require.NoError(t, store.SaveSubscription(ctx, "bob", testSubscription(gone)))

	keys, err := EnsureVAPIDKeys(filepath.Join(t.TempDir(), "vapid.json"))
	require.NoError(t, err)
	client := &statusClient{statuses: map[string]int{live: http.StatusCreated, gone: http.StatusGone}}
	s := NewSender(store, keys, "mailto:ops@example.com", 60, client)
	require.Equal(t, keys.PublicKey, s.PublicKey())

	s.Notify(ctx, "bob", "alice", "hi", map[string]string{"chat_id": "c1"})

	require.ElementsMatch(t, []string{live, gone}, client.calls)
	subs, err := store.Subscriptions(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, live, subs[0].Endpoint)
}

func TestNotifyWithoutSubscriptionsIsNoop(t *testing.T) {
	keys, err := EnsureVAPIDKeys(filepath.Join(t.TempDir(), "vapid.json"))
	require.NoError(t, err)
	client := &statusClient{}
	NewSender(memory.New(), keys, "mailto:ops@example.com", 0, client).Notify(context.Background(), "nobody", "t", "b", nil)
	require.Empty(t, client.calls)
}
