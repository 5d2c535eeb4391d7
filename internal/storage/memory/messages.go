package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/storage"
)

func (s *Messages) Create(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[m.ConversationID]; !ok {
		return storage.ErrNotFound
	}
	if _, ok := s.messages[m.ID]; ok {
		return storage.ErrConflict
	}
	s.messages[m.ID] = cloneMessage(m)
	s.byChat[m.ConversationID] = append(s.byChat[m.ConversationID], m.ID)
	return nil
}

func (s *Messages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Messages) MarkDelivered(ctx context.Context, chatID, userID string) (int64, error) {
	return s.union(chatID, userID, func(m *model.Message) *[]string { return &m.DeliveredTo })
}

func (s *Messages) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	return s.union(chatID, userID, func(m *model.Message) *[]string { return &m.ReadBy })
}

func (s *Messages) union(chatID, userID string, field func(*model.Message) *[]string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.byChat[chatID] {
		set := field(s.messages[id])
		if !contains(*set, userID) {
			*set = append(*set, userID)
			n++
		}
	}
	return n, nil
}

func (s *Messages) UpdateText(ctx context.Context, id, text string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	if m.IsDeleted {
		return storage.ErrConflict
	}
	m.Text = &text
	m.EditedAt = &editedAt
	return nil
}

func (s *Messages) SoftDelete(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.IsDeleted = true
	m.Text = nil
	m.Media = nil
	m.Reactions = nil
	m.EditedAt = &at
	return nil
}

func (s *Messages) HideFor(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !contains(m.DeletedFor, userID) {
		m.DeletedFor = append(m.DeletedFor, userID)
	}
	return nil
}

func (s *Messages) ToggleReaction(ctx context.Context, id, userID, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if m.IsDeleted {
		return false, storage.ErrConflict
	}
	for i, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			m.Reactions = append(m.Reactions[:i:i], m.Reactions[i+1:]...)
			return false, nil
		}
	}
	m.Reactions = append(m.Reactions, model.Reaction{UserID: userID, Emoji: emoji})
	return true, nil
}

func (s *Messages) List(ctx context.Context, chatID, viewerID string, after *time.Time, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0, limit)
	for _, m := range s.sortedLocked(chatID) {
		if after != nil && !m.CreatedAt.After(*after) {
			continue
		}
		if m.HiddenFor(viewerID) {
			continue
		}
		out = append(out, *cloneMessage(m))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Messages) Latest(ctx context.Context, chatID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sortedLocked(chatID)
	if len(all) == 0 {
		return nil, storage.ErrNotFound
	}
	return cloneMessage(all[len(all)-1]), nil
}

func (s *Messages) ListMedia(ctx context.Context, chatID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sortedLocked(chatID)
	out := make([]model.Message, 0)
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if m.IsDeleted || m.Kind == model.KindText {
			continue
		}
		out = append(out, *cloneMessage(m))
	}
	return out, nil
}

func (s *Messages) Search(ctx context.Context, userID, query, chatID string, limit int) ([]model.Message, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []*model.Message
	for cid, ids := range s.byChat {
		if chatID != "" && cid != chatID {
			continue
		}
		if c, ok := s.chats[cid]; !ok || !c.HasParticipant(userID) {
			continue
		}
		for _, id := range ids {
			m := s.messages[id]
			if m.IsDeleted || m.Text == nil || m.HiddenFor(userID) {
				continue
			}
			if strings.Contains(strings.ToLower(*m.Text), q) {
				hits = append(hits, m)
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool { return messageLess(hits[j], hits[i]) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]model.Message, 0, len(hits))
	for _, m := range hits {
		out = append(out, *cloneMessage(m))
	}
	return out, nil
}

// sortedLocked returns the conversation log ordered by (created_at, id).
func (s *Messages) sortedLocked(chatID string) []*model.Message {
	ids := s.byChat[chatID]
	all := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		all = append(all, s.messages[id])
	}
	sort.Slice(all, func(i, j int) bool { return messageLess(all[i], all[j]) })
	return all
}

func messageLess(a, b *model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func cloneMessage(m *model.Message) *model.Message {
	cp := *m
	cp.Text = clonePtr(m.Text)
	if m.Media != nil {
		media := *m.Media
		media.Width = clonePtr(m.Media.Width)
		media.Height = clonePtr(m.Media.Height)
		cp.Media = &media
	}
	cp.DeliveredTo = append([]string{}, m.DeliveredTo...)
	cp.ReadBy = append([]string{}, m.ReadBy...)
	cp.Reactions = append([]model.Reaction{}, m.Reactions...)
	cp.DeletedFor = append([]string(nil), m.DeletedFor...)
	cp.ReplyTo = clonePtr(m.ReplyTo)
	cp.ForwardedFrom = clonePtr(m.ForwardedFrom)
	cp.EditedAt = clonePtr(m.EditedAt)
	cp.Sender = clonePtr(m.Sender)
	return &cp
}
