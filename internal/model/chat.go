package model

import "time"

// PreviewPlaceholder is shown for conversations without messages.
const PreviewPlaceholder = "Start chatting…"

// Conversation is a two-party chat. Participants is stored as a canonical
// ordered pair, Participants[0] < Participants[1].
type Conversation struct {
	ID                 string     `json:"id"`
	Participants       [2]string  `json:"participants"`
	LastMessagePreview string     `json:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Peer returns the participant that is not userID.
func (c *Conversation) Peer(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// PairOf orders two user ids the way conversations store them.
func PairOf(a, b string) [2]string {
	if b < a {
		return [2]string{b, a}
	}
	return [2]string{a, b}
}

// ConversationMeta holds one participant's preferences for a conversation.
type ConversationMeta struct {
	ConversationID string     `json:"chat_id"`
	UserID         string     `json:"user_id"`
	Pinned         bool       `json:"pinned"`
	Muted          bool       `json:"muted"`
	Archived       bool       `json:"archived"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
}

// MetaUpdate is a partial update: nil fields are left unchanged.
type MetaUpdate struct {
	Pinned     *bool      `json:"pinned,omitempty"`
	Muted      *bool      `json:"muted,omitempty"`
	Archived   *bool      `json:"archived,omitempty"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
}

func (u MetaUpdate) Empty() bool {
	return u.Pinned == nil && u.Muted == nil && u.Archived == nil && u.LastReadAt == nil
}

// Apply copies the supplied fields onto m.
func (u MetaUpdate) Apply(m *ConversationMeta) {
	if u.Pinned != nil {
		m.Pinned = *u.Pinned
	}
	if u.Muted != nil {
		m.Muted = *u.Muted
	}
	if u.Archived != nil {
		m.Archived = *u.Archived
	}
	if u.LastReadAt != nil {
		t := *u.LastReadAt
		m.LastReadAt = &t
	}
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID                 string     `json:"id"`
	Peer               Profile    `json:"peer"`
	LastMessagePreview string     `json:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at"`
	Pinned             bool       `json:"pinned"`
	Muted              bool       `json:"muted"`
	Archived           bool       `json:"archived"`
	LastReadAt         *time.Time `json:"last_read_at,omitempty"`
	UnreadCount        int        `json:"unread_count"`
}
