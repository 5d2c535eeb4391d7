package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/model"
	"github.com/dmchat/internal/preview"
	"github.com/dmchat/internal/storage"
	"github.com/dmchat/internal/ws"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	SearchLimit     = 100
)

// SendInput is the client payload of a new message.
type SendInput struct {
	Text          string
	Media         *model.Media
	ReplyTo       *string
	ForwardedFrom *string
}

// Send appends a message from senderID to chatID.
func (s *ChatService) Send(ctx context.Context, chatID, senderID string, in SendInput) (*model.Message, error) {
	c, err := s.Conversation(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.Text)
	var media *model.Media
	if in.Media != nil {
		cp := *in.Media
		cp.URL = strings.TrimSpace(cp.URL)
		if cp.URL != "" {
			media = &cp
		}
	}
	if text == "" && media == nil {
		return nil, fmt.Errorf("chat.Send: %w", ErrEmptyMessage)
	}
	for _, ref := range []*string{in.ReplyTo, in.ForwardedFrom} {
		if ref != nil {
			if _, err := uuid.Parse(*ref); err != nil {
				return nil, fmt.Errorf("chat.Send: reference %q: %w", *ref, ErrInvalidTarget)
			}
		}
	}

	m := &model.Message{
		ID:             s.newID(),
		ConversationID: c.ID,
		SenderID:       senderID,
		Kind:           model.KindOf(media),
		Media:          media,
		DeliveredTo:    []string{senderID},
		ReadBy:         []string{senderID},
		Reactions:      []model.Reaction{},
		ReplyTo:        in.ReplyTo,
		ForwardedFrom:  in.ForwardedFrom,
		CreatedAt:      s.now(),
	}
	if text != "" {
		m.Text = &text
	}
	if err := s.append(ctx, c, m); err != nil {
		return nil, err
	}
	return m, nil
}

// append persists m, moves the conversation preview to it and fans it out.
func (s *ChatService) append(ctx context.Context, c *model.Conversation, m *model.Message) error {
	if err := s.msgs.Create(ctx, m); err != nil {
		return wrap("chat.append", err)
	}
	label := preview.Of(m)
	if err := s.chats.TouchPreview(ctx, c.ID, label, m.CreatedAt); err != nil {
		return wrap("chat.append preview", err)
	}
	s.annotate(ctx, []*model.Message{m})

	s.pub.Publish(ws.ToRoom(c.ID, ws.EventNewMessage, ws.MessagePayload{
		ChatID: c.ID, MessageID: m.ID, ActorID: m.SenderID, Message: m,
	}))
	s.bump(c, m.SenderID, m.ID, label, m.CreatedAt)
	s.notifyOffline(c, m, label)
	return nil
}

// notifyOffline pushes to the peer when they have no open connection and
// have not muted the conversation. Runs detached from the request.
func (s *ChatService) notifyOffline(c *model.Conversation, m *model.Message, label string) {
	if s.push == nil {
		return
	}
	peerID := c.Peer(m.SenderID)
	title := "New message"
	if m.Sender != nil {
		title = m.Sender.Name
		if title == "" {
			title = m.Sender.Username
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		peer, err := s.users.GetByID(ctx, peerID)
		if err != nil {
			logger.Errorf("push lookup user=%s: %v", peerID, err)
			return
		}
		if peer.IsOnline {
			return
		}
		meta, err := s.chats.GetMeta(ctx, c.ID, peerID)
		if err != nil {
			logger.Errorf("push meta chat=%s user=%s: %v", c.ID, peerID, err)
			return
		}
		if meta.Muted {
			return
		}
		s.push.Notify(ctx, peerID, title, label, map[string]string{"chat_id": c.ID, "message_id": m.ID})
	}()
}

func (s *ChatService) MarkDelivered(ctx context.Context, chatID, userID string) (int64, error) {
	if _, err := s.Conversation(ctx, chatID, userID); err != nil {
		return 0, err
	}
	n, err := s.msgs.MarkDelivered(ctx, chatID, userID)
	if err != nil {
		return 0, wrap("chat.MarkDelivered", err)
	}
	if n > 0 {
		s.pub.Publish(ws.ToRoom(chatID, ws.EventMessageDelivered, ws.ReceiptPayload{ChatID: chatID, ActorID: userID, Count: n}))
	}
	return n, nil
}

// MarkRead also stamps last_read_at in the reader's meta.
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	if _, err := s.Conversation(ctx, chatID, userID); err != nil {
		return 0, err
	}
	n, err := s.msgs.MarkRead(ctx, chatID, userID)
	if err != nil {
		return 0, wrap("chat.MarkRead", err)
	}
	now := s.now()
	if _, err := s.chats.SetMeta(ctx, chatID, userID, model.MetaUpdate{LastReadAt: &now}); err != nil {
		return 0, wrap("chat.MarkRead meta", err)
	}
	if n > 0 {
		s.pub.Publish(ws.ToRoom(chatID, ws.EventMessageRead, ws.ReceiptPayload{ChatID: chatID, ActorID: userID, Count: n}))
	}
	return n, nil
}

// loadMessage fetches a message and its conversation.
func (s *ChatService) loadMessage(ctx context.Context, op, messageID string) (*model.Message, *model.Conversation, error) {
	m, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, wrap(op, err)
	}
	c, err := s.chats.GetByID(ctx, m.ConversationID)
	if err != nil {
		return nil, nil, wrap(op, err)
	}
	return m, c, nil
}

func (s *ChatService) Edit(ctx context.Context, messageID, editorID, text string) (*model.Message, error) {
	m, c, err := s.loadMessage(ctx, "chat.Edit", messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != editorID {
		return nil, fmt.Errorf("chat.Edit: %w", ErrForbidden)
	}
	if m.IsDeleted {
		return nil, fmt.Errorf("chat.Edit: %w", ErrInvalidState)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("chat.Edit: %w", ErrEmptyMessage)
	}
	if err := s.msgs.UpdateText(ctx, m.ID, text, s.now()); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("chat.Edit: %w", ErrInvalidState)
		}
		return nil, wrap("chat.Edit", err)
	}
	m, err = s.msgs.GetByID(ctx, m.ID)
	if err != nil {
		return nil, wrap("chat.Edit reload", err)
	}
	s.annotate(ctx, []*model.Message{m})
	s.pub.Publish(ws.ToRoom(c.ID, ws.EventMessageEdited, ws.MessagePayload{
		ChatID: c.ID, MessageID: m.ID, ActorID: editorID, Message: m,
	}))
	s.refreshPreview(ctx, c, m.ID, editorID)
	return m, nil
}

// Remove deletes a message for everyone (author only) or hides it for the
// requester. Deleting an already deleted message for everyone is a no-op.
func (s *ChatService) Remove(ctx context.Context, messageID, requester string, forEveryone bool) error {
	m, c, err := s.loadMessage(ctx, "chat.Remove", messageID)
	if err != nil {
		return err
	}
	if !forEveryone {
		if !c.HasParticipant(requester) {
			return fmt.Errorf("chat.Remove: %w", ErrAccessDenied)
		}
		if err := s.msgs.HideFor(ctx, m.ID, requester); err != nil {
			return wrap("chat.Remove", err)
		}
		s.pub.Publish(ws.ToUser(requester, ws.EventMessageDeleted, ws.MessageDeletedPayload{
			ChatID: c.ID, MessageID: m.ID, ActorID: requester, ForEveryone: false,
		}))
		return nil
	}

	if m.SenderID != requester {
		return fmt.Errorf("chat.Remove: %w", ErrForbidden)
	}
	if m.IsDeleted {
		return nil
	}
	if err := s.msgs.SoftDelete(ctx, m.ID, s.now()); err != nil {
		return wrap("chat.Remove", err)
	}
	s.pub.Publish(ws.ToRoom(c.ID, ws.EventMessageDeleted, ws.MessageDeletedPayload{
		ChatID: c.ID, MessageID: m.ID, ActorID: requester, ForEveryone: true,
	}))
	s.refreshPreview(ctx, c, m.ID, requester)
	return nil
}

// refreshPreview recomputes the preview when messageID is the latest message.
func (s *ChatService) refreshPreview(ctx context.Context, c *model.Conversation, messageID, actorID string) {
	latest, err := s.msgs.Latest(ctx, c.ID)
	if err != nil {
		logger.Errorf("preview latest chat=%s: %v", c.ID, err)
		return
	}
	if latest.ID != messageID {
		return
	}
	label := preview.Of(latest)
	if err := s.chats.TouchPreview(ctx, c.ID, label, latest.CreatedAt); err != nil {
		logger.Errorf("preview touch chat=%s: %v", c.ID, err)
		return
	}
	s.bump(c, actorID, latest.ID, label, latest.CreatedAt)
}

// React toggles (userID, emoji) on the message and returns whether it was added.
func (s *ChatService) React(ctx context.Context, messageID, userID, emoji string) (bool, []model.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return false, nil, fmt.Errorf("chat.React: empty emoji: %w", ErrInvalidTarget)
	}
	m, c, err := s.loadMessage(ctx, "chat.React", messageID)
	if err != nil {
		return false, nil, err
	}
	if !c.HasParticipant(userID) {
		return false, nil, fmt.Errorf("chat.React: %w", ErrAccessDenied)
	}
	if m.IsDeleted {
		return false, nil, fmt.Errorf("chat.React: %w", ErrInvalidState)
	}
	added, err := s.msgs.ToggleReaction(ctx, m.ID, userID, emoji)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return false, nil, fmt.Errorf("chat.React: %w", ErrInvalidState)
		}
		return false, nil, wrap("chat.React", err)
	}
	m, err = s.msgs.GetByID(ctx, m.ID)
	if err != nil {
		return false, nil, wrap("chat.React reload", err)
	}
	s.pub.Publish(ws.ToRoom(c.ID, ws.EventMessageReacted, ws.ReactionPayload{
		ChatID: c.ID, MessageID: m.ID, ActorID: userID, Emoji: emoji, Added: added, Reactions: m.Reactions,
	}))
	return added, m.Reactions, nil
}

// Forward copies the source message into targetChatID as a new message by
// requester. forwarded_from keeps the original author across repeated forwards.
func (s *ChatService) Forward(ctx context.Context, sourceID, requester, targetChatID string) (*model.Message, error) {
	src, srcChat, err := s.loadMessage(ctx, "chat.Forward", sourceID)
	if err != nil {
		return nil, err
	}
	target, err := s.chats.GetByID(ctx, targetChatID)
	if err != nil {
		return nil, wrap("chat.Forward target", err)
	}
	if !target.HasParticipant(requester) || !srcChat.HasParticipant(requester) {
		return nil, fmt.Errorf("chat.Forward: %w", ErrAccessDenied)
	}
	if src.IsDeleted {
		return nil, fmt.Errorf("chat.Forward: %w", ErrInvalidState)
	}
	origin := src.SenderID
	if src.ForwardedFrom != nil {
		origin = *src.ForwardedFrom
	}
	m := &model.Message{
		ID:             s.newID(),
		ConversationID: target.ID,
		SenderID:       requester,
		Kind:           src.Kind,
		Text:           src.Text,
		Media:          src.Media,
		DeliveredTo:    []string{requester},
		ReadBy:         []string{requester},
		Reactions:      []model.Reaction{},
		ForwardedFrom:  &origin,
		CreatedAt:      s.now(),
	}
	if err := s.append(ctx, target, m); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns messages after cursor in ascending order. The cursor is the
// RFC 3339 created_at of the last message of the previous page.
func (s *ChatService) List(ctx context.Context, chatID, requester, cursor string, limit int) (*model.MessagePage, error) {
	if _, err := s.Conversation(ctx, chatID, requester); err != nil {
		return nil, err
	}
	after, err := ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	items, err := s.msgs.List(ctx, chatID, requester, after, ClampLimit(limit))
	if err != nil {
		return nil, wrap("chat.List", err)
	}
	s.annotateAll(ctx, items)
	page := &model.MessagePage{Items: items}
	if n := len(items); n > 0 {
		next := FormatCursor(items[n-1].CreatedAt)
		page.NextCursor = &next
	}
	return page, nil
}

// ListMedia returns non-text, non-deleted messages newest first.
func (s *ChatService) ListMedia(ctx context.Context, chatID, requester string) ([]model.Message, error) {
	if _, err := s.Conversation(ctx, chatID, requester); err != nil {
		return nil, err
	}
	all, err := s.msgs.ListMedia(ctx, chatID)
	if err != nil {
		return nil, wrap("chat.ListMedia", err)
	}
	items := make([]model.Message, 0, len(all))
	for _, m := range all {
		if !m.HiddenFor(requester) {
			items = append(items, m)
		}
	}
	s.annotateAll(ctx, items)
	return items, nil
}

// Search finds messages whose text matches query in the requester's
// conversations, or only in chatID when given.
func (s *ChatService) Search(ctx context.Context, requester, query, chatID string) ([]model.Message, error) {
	query = strings.TrimSpace(query)
	if chatID != "" {
		if _, err := s.Conversation(ctx, chatID, requester); err != nil {
			return nil, err
		}
	}
	if query == "" {
		return []model.Message{}, nil
	}
	items, err := s.msgs.Search(ctx, requester, query, chatID, SearchLimit)
	if err != nil {
		return nil, wrap("chat.Search", err)
	}
	s.annotateAll(ctx, items)
	return items, nil
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}

func FormatCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseCursor accepts "" (first page) or a cursor from FormatCursor.
func ParseCursor(cursor string) (*time.Time, error) {
	if cursor == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, cursor)
	if err != nil {
		return nil, fmt.Errorf("chat.ParseCursor %q: %w", cursor, ErrInvalidTarget)
	}
	return &t, nil
}

// annotate attaches sender profiles. Lookup failures leave Sender nil.
func (s *ChatService) annotate(ctx context.Context, msgs []*model.Message) {
	ids := make([]string, 0, 2)
	seen := make(map[string]struct{}, 2)
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			ids = append(ids, m.SenderID)
		}
	}
	if len(ids) == 0 {
		return
	}
	profiles, err := s.users.Profiles(ctx, ids)
	if err != nil {
		logger.Errorf("annotate profiles: %v", err)
		return
	}
	for _, m := range msgs {
		if p, ok := profiles[m.SenderID]; ok {
			p := p
			m.Sender = &p
		}
	}
}

func (s *ChatService) annotateAll(ctx context.Context, items []model.Message) {
	ptrs := make([]*model.Message, len(items))
	for i := range items {
		ptrs[i] = &items[i]
	}
	s.annotate(ctx, ptrs)
}
