package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
)

func (s *Chats) FindOrCreateDirect(ctx context.Context, a, b string, now time.Time) (*model.Conversation, bool, error) {
	pair := model.PairOf(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pairs[pair]; ok {
		return cloneChat(s.chats[id]), false, nil
	}
	c := &model.Conversation{
		ID:           uuid.NewString(),
		Participants: pair,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.chats[c.ID] = c
	s.pairs[pair] = c.ID
	return cloneChat(c), true, nil
}

func (s *Chats) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[model.PairOf(a, b)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneChat(s.chats[id]), nil
}

func (s *Chats) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneChat(c), nil
}

func (s *Chats) ListForParticipant(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConversationSummary, 0)
	for _, c := range s.chats {
		if !c.HasParticipant(userID) {
			continue
		}
		sum := model.ConversationSummary{
			ID:                 c.ID,
			LastMessagePreview: c.LastMessagePreview,
			LastMessageAt:      clonePtr(c.LastMessageAt),
		}
		if sum.LastMessagePreview == "" {
			sum.LastMessagePreview = model.PreviewPlaceholder
		}
		if peer, ok := s.users[c.Peer(userID)]; ok {
			sum.Peer = peer.ToProfile()
		} else {
			sum.Peer = model.Profile{ID: c.Peer(userID)}
		}
		if m, ok := s.meta[metaKey{c.ID, userID}]; ok {
			sum.Pinned, sum.Muted, sum.Archived = m.Pinned, m.Muted, m.Archived
			sum.LastReadAt = clonePtr(m.LastReadAt)
		}
		sum.UnreadCount = s.unreadLocked(c.ID, userID)
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return summaryLess(out[i], out[j]) })
	return out, nil
}

// summaryLess orders pinned first, then by last activity (nulls last), then id desc.
func summaryLess(a, b model.ConversationSummary) bool {
	if a.Pinned != b.Pinned {
		return a.Pinned
	}
	switch {
	case a.LastMessageAt != nil && b.LastMessageAt == nil:
		return true
	case a.LastMessageAt == nil && b.LastMessageAt != nil:
		return false
	case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
		return a.LastMessageAt.After(*b.LastMessageAt)
	}
	return a.ID > b.ID
}

func (s *Chats) unreadLocked(chatID, userID string) int {
	n := 0
	for _, id := range s.byChat[chatID] {
		m := s.messages[id]
		if m.SenderID == userID || m.IsDeleted || contains(m.ReadBy, userID) || m.HiddenFor(userID) {
			continue
		}
		n++
	}
	return n
}

func (s *Chats) PeerIDs(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, c := range s.chats {
		if c.HasParticipant(userID) {
			out = append(out, c.Peer(userID))
		}
	}
	return out, nil
}

func (s *Chats) GetMeta(ctx context.Context, chatID, userID string) (*model.ConversationMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.meta[metaKey{chatID, userID}]; ok {
		return cloneMeta(m), nil
	}
	return &model.ConversationMeta{ConversationID: chatID, UserID: userID}, nil
}

func (s *Chats) SetMeta(ctx context.Context, chatID, userID string, upd model.MetaUpdate) (*model.ConversationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return nil, storage.ErrNotFound
	}
	k := metaKey{chatID, userID}
	m, ok := s.meta[k]
	if !ok {
		m = &model.ConversationMeta{ConversationID: chatID, UserID: userID}
		s.meta[k] = m
	}
	upd.Apply(m)
	return cloneMeta(m), nil
}

func (s *Chats) TouchPreview(ctx context.Context, chatID, preview string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return storage.ErrNotFound
	}
	c.LastMessagePreview = preview
	c.LastMessageAt = &at
	c.UpdatedAt = at
	return nil
}

func cloneChat(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.LastMessageAt = clonePtr(c.LastMessageAt)
	return &cp
}

func cloneMeta(m *model.ConversationMeta) *model.ConversationMeta {
	cp := *m
	cp.LastReadAt = clonePtr(m.LastReadAt)
	return &cp
}
