// Package service orchestrates conversations and messages: it validates the
// caller, mutates storage, keeps the conversation preview current and hands
// the resulting events to the outbound queue.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
	"github.com/dmchat/internal/ws"
)

// Publisher accepts events after the mutation is committed; it must not block.
type Publisher interface {
	Publish(env ws.Envelope)
}

// PushNotifier sends a notification to a user's registered devices.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type ChatService struct {
	users storage.Users
	chats storage.Chats
	msgs  storage.Messages
	pub   Publisher
	push  PushNotifier

	now   func() time.Time
	newID func() string
}

func NewChatService(users storage.Users, chats storage.Chats, msgs storage.Messages, pub Publisher) *ChatService {
	return &ChatService{
		users: users,
		chats: chats,
		msgs:  msgs,
		pub:   pub,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// SetPushNotifier enables push for offline recipients. nil disables it.
func (s *ChatService) SetPushNotifier(p PushNotifier) {
	s.push = p
}

// FindOrCreateDirect returns the conversation between requester and otherID,
// creating it on first contact. created reports whether this call inserted it.
func (s *ChatService) FindOrCreateDirect(ctx context.Context, requester, otherID string) (*model.Conversation, bool, error) {
	if otherID == "" || otherID == requester {
		return nil, false, fmt.Errorf("chat.FindOrCreateDirect: %w", ErrInvalidTarget)
	}
	ok, err := s.users.Exists(ctx, otherID)
	if err != nil {
		return nil, false, wrap("chat.FindOrCreateDirect", err)
	}
	if !ok {
		return nil, false, fmt.Errorf("chat.FindOrCreateDirect: user %s: %w", otherID, ErrNotFound)
	}
	c, created, err := s.chats.FindOrCreateDirect(ctx, requester, otherID, s.now())
	if err != nil {
		return nil, false, wrap("chat.FindOrCreateDirect", err)
	}
	if created {
		payload := ws.ChatCreatedPayload{ChatID: c.ID, ActorID: requester, Chat: c}
		for _, p := range c.Participants {
			s.pub.Publish(ws.ToUser(p, ws.EventChatCreated, payload))
		}
	}
	return c, created, nil
}

// FindOrCreateDirectByUsername resolves username first. With create false it
// only looks up an existing conversation.
func (s *ChatService) FindOrCreateDirectByUsername(ctx context.Context, requester, username string, create bool) (*model.Conversation, bool, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, false, wrap("chat.FindOrCreateDirectByUsername", err)
	}
	if u.ID == requester {
		return nil, false, fmt.Errorf("chat.FindOrCreateDirectByUsername: %w", ErrInvalidTarget)
	}
	if !create {
		c, err := s.chats.FindDirect(ctx, requester, u.ID)
		if err != nil {
			return nil, false, wrap("chat.FindOrCreateDirectByUsername", err)
		}
		return c, false, nil
	}
	return s.FindOrCreateDirect(ctx, requester, u.ID)
}

func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	list, err := s.chats.ListForParticipant(ctx, userID)
	if err != nil {
		return nil, wrap("chat.ListConversations", err)
	}
	return list, nil
}

// Conversation loads chatID for a participant.
func (s *ChatService) Conversation(ctx context.Context, chatID, userID string) (*model.Conversation, error) {
	c, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, wrap("chat.Conversation", err)
	}
	if !c.HasParticipant(userID) {
		return nil, fmt.Errorf("chat.Conversation: %w", ErrAccessDenied)
	}
	return c, nil
}

// IsParticipant is the room admission check used by the websocket hub.
func (s *ChatService) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	_, err := s.Conversation(ctx, chatID, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAccessDenied):
		return false, nil
	}
	return false, err
}

// SetMeta applies a partial update to the caller's preferences and syncs the
// caller's other connections.
func (s *ChatService) SetMeta(ctx context.Context, chatID, userID string, upd model.MetaUpdate) (*model.ConversationMeta, error) {
	if _, err := s.Conversation(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if upd.Empty() {
		m, err := s.chats.GetMeta(ctx, chatID, userID)
		return m, wrap("chat.SetMeta", err)
	}
	m, err := s.chats.SetMeta(ctx, chatID, userID, upd)
	if err != nil {
		return nil, wrap("chat.SetMeta", err)
	}
	s.pub.Publish(ws.ToUser(userID, ws.EventChatMetaUpdated, ws.ChatMetaPayload{ChatID: chatID, ActorID: userID, Meta: m}))
	return m, nil
}

func (s *ChatService) Pin(ctx context.Context, chatID, userID string) (*model.ConversationMeta, error) {
	pinned := true
	return s.SetMeta(ctx, chatID, userID, model.MetaUpdate{Pinned: &pinned})
}

func (s *ChatService) Unpin(ctx context.Context, chatID, userID string) (*model.ConversationMeta, error) {
	pinned := false
	return s.SetMeta(ctx, chatID, userID, model.MetaUpdate{Pinned: &pinned})
}

// bump refreshes the conversation row in both participants' lists.
func (s *ChatService) bump(c *model.Conversation, actorID, messageID, preview string, at time.Time) {
	payload := ws.ChatBumpedPayload{
		ChatID:             c.ID,
		ActorID:            actorID,
		MessageID:          messageID,
		LastMessagePreview: preview,
		LastMessageAt:      &at,
	}
	for _, p := range c.Participants {
		s.pub.Publish(ws.ToUser(p, ws.EventChatBumped, payload))
	}
}
