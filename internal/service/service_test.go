package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage/memory"
	"github.com/dmchat/internal/ws"
)

type recorder struct {
	mu   sync.Mutex
	envs []ws.Envelope
}

func (r *recorder) Publish(env ws.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) ofType(t ws.EventType) []ws.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ws.Envelope
	for _, e := range r.envs {
		if e.Message.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.envs = nil
	r.mu.Unlock()
}

type notification struct {
	userID, title, body string
}

type pushRecorder struct {
	mu   sync.Mutex
	sent []notification
}

func (p *pushRecorder) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, notification{userID, title, body})
}

func (p *pushRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fixture struct {
	store *memory.Store
	rec   *recorder
	chat  *ChatService
	users *UserService

	alice, bob, carol string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	rec := &recorder{}
	f := &fixture{
		store: store,
		rec:   rec,
		chat:  NewChatService(store.Users(), store.Chats(), store.Messages(), rec),
		users: NewUserService(store.Users(), store.Chats()),
		alice: uuid.NewString(),
		bob:   uuid.NewString(),
		carol: uuid.NewString(),
	}
	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.chat.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	ctx := context.Background()
	for id, name := range map[string]string{f.alice: "alice", f.bob: "bob", f.carol: "carol"} {
		require.NoError(t, store.Users().Create(ctx, &model.User{ID: id, Username: name, Name: name}))
	}
	return f
}

func (f *fixture) dm(t *testing.T, a, b string) *model.Conversation {
	t.Helper()
	c, _, err := f.chat.FindOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return c
}

func (f *fixture) send(t *testing.T, chatID, sender, text string) *model.Message {
	t.Helper()
	m, err := f.chat.Send(context.Background(), chatID, sender, SendInput{Text: text})
	require.NoError(t, err)
	return m
}

func (f *fixture) preview(t *testing.T, chatID string) string {
	t.Helper()
	c, err := f.store.Chats().GetByID(context.Background(), chatID)
	require.NoError(t, err)
	return c.LastMessagePreview
}
