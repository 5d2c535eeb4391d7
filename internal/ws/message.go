package ws

import (
	"time"

	"github.com/dmchat/internal/model"
)

type EventType string

const (
	EventNewMessage       EventType = "new_message"
	EventMessageDelivered EventType = "message_delivered"
	EventMessageRead      EventType = "message_read"
	EventMessageEdited    EventType = "message_edited"
	EventMessageDeleted   EventType = "message_deleted"
	EventMessageReacted   EventType = "message_reacted"
	EventTyping           EventType = "typing"
	EventChatBumped       EventType = "chat_bumped"
	EventChatCreated      EventType = "chat_created"
	EventChatMetaUpdated  EventType = "chat_meta_updated"
	EventPresence         EventType = "presence"
	EventError            EventType = "error"
)

// Client frame types. Typing reuses EventTyping.
const (
	FrameJoin  EventType = "join"
	FrameLeave EventType = "leave"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chat_id,omitempty"`
	Typing bool      `json:"typing,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Audience selects the channel an envelope is delivered on.
type Audience string

const (
	// AudienceRoom is the open conversation view: clients that joined the chat.
	AudienceRoom Audience = "room"
	// AudienceUser is every connection of one user (the conversation list).
	AudienceUser Audience = "user"
)

// Envelope is one outbound event with its routing.
type Envelope struct {
	Audience Audience        `json:"audience"`
	Target   string          `json:"target"`
	Except   string          `json:"except,omitempty"`
	Source   string          `json:"source,omitempty"`
	Message  OutgoingMessage `json:"message"`
}

func ToRoom(chatID string, t EventType, payload any) Envelope {
	return Envelope{Audience: AudienceRoom, Target: chatID, Message: OutgoingMessage{Type: t, Payload: payload}}
}

func ToUser(userID string, t EventType, payload any) Envelope {
	return Envelope{Audience: AudienceUser, Target: userID, Message: OutgoingMessage{Type: t, Payload: payload}}
}

// --- Typed payloads ---

// MessagePayload carries a full message for new_message and message_edited.
type MessagePayload struct {
	ChatID    string         `json:"chat_id"`
	MessageID string         `json:"message_id"`
	ActorID   string         `json:"actor_id"`
	Message   *model.Message `json:"message"`
}

// ReceiptPayload is broadcast when a participant's delivered/read set grows.
type ReceiptPayload struct {
	ChatID  string `json:"chat_id"`
	ActorID string `json:"actor_id"`
	Count   int64  `json:"count"`
}

type MessageDeletedPayload struct {
	ChatID      string `json:"chat_id"`
	MessageID   string `json:"message_id"`
	ActorID     string `json:"actor_id"`
	ForEveryone bool   `json:"for_everyone"`
}

type ReactionPayload struct {
	ChatID    string           `json:"chat_id"`
	MessageID string           `json:"message_id"`
	ActorID   string           `json:"actor_id"`
	Emoji     string           `json:"emoji"`
	Added     bool             `json:"added"`
	Reactions []model.Reaction `json:"reactions"`
}

type TypingPayload struct {
	ChatID  string `json:"chat_id"`
	ActorID string `json:"actor_id"`
	Typing  bool   `json:"typing"`
}

// ChatBumpedPayload refreshes one row of the recipient's conversation list.
type ChatBumpedPayload struct {
	ChatID             string     `json:"chat_id"`
	ActorID            string     `json:"actor_id"`
	MessageID          string     `json:"message_id,omitempty"`
	LastMessagePreview string     `json:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at"`
}

type ChatCreatedPayload struct {
	ChatID  string              `json:"chat_id"`
	ActorID string              `json:"actor_id"`
	Chat    *model.Conversation `json:"chat"`
}

type ChatMetaPayload struct {
	ChatID  string                  `json:"chat_id"`
	ActorID string                  `json:"actor_id"`
	Meta    *model.ConversationMeta `json:"meta"`
}

type PresencePayload struct {
	ActorID    string     `json:"actor_id"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

type ErrorPayload struct {
	Error  string `json:"error"`
	ChatID string `json:"chat_id,omitempty"`
}
